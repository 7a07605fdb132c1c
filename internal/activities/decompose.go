package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/metrics"
	"github.com/periscope-intel/periscope/go/researcher/internal/models"
)

// DecomposeInput is the input for the DecomposeQuery activity.
type DecomposeInput struct {
	Query             string `json:"query"`
	OrganizationID    string `json:"organization_id,omitempty"`
	WindowDescription string `json:"window_description,omitempty"`
}

// DecomposeResult carries the decomposed sub-questions. Fallback is true when
// the generator's output was unusable and the original query became the sole
// priority-1 sub-question.
type DecomposeResult struct {
	SubQuestions []models.SubQuestion `json:"sub_questions"`
	Fallback     bool                 `json:"fallback"`
}

// DecomposeQuery asks the generation service to split one research question
// into 3-6 prioritized, independently searchable sub-questions. The
// generator is an untrusted peer: count bounds, priorities and term counts
// are enforced mechanically on its output, and any malformation degrades to
// the single-question fallback rather than an error.
func (a *Activities) DecomposeQuery(ctx context.Context, in DecomposeInput) (DecomposeResult, error) {
	cfg := a.config()
	start := time.Now()

	a.logger.Info("DecomposeQuery: starting",
		zap.String("query", truncateStr(in.Query, 100)),
		zap.String("window", in.WindowDescription),
	)

	systemPrompt := buildDecomposePrompt(cfg.Decomposition.MinSubQuestions, cfg.Decomposition.MaxSubQuestions, cfg.Decomposition.MaxTermsPerQuery)
	userContent := buildDecomposeContent(in)

	response, err := a.callLLM(ctx, "query_decomposer", systemPrompt, userContent, 4096, 0.3, cfg.Decomposition.Timeout)
	if err != nil {
		a.logger.Warn("DecomposeQuery: llm call failed, using fallback", zap.Error(err))
		metrics.DecompositionFallbacks.Inc()
		return fallbackDecomposition(in.Query), nil
	}

	subs, err := parseDecomposition(response, cfg.Decomposition.MaxTermsPerQuery)
	if err != nil || len(subs) == 0 {
		a.logger.Warn("DecomposeQuery: unusable decomposition, using fallback", zap.Error(err))
		metrics.DecompositionFallbacks.Inc()
		return fallbackDecomposition(in.Query), nil
	}

	// Contract enforcement: never trust generator-side counts.
	if len(subs) > cfg.Decomposition.MaxSubQuestions {
		subs = subs[:cfg.Decomposition.MaxSubQuestions]
	}
	if len(subs) < cfg.Decomposition.MinSubQuestions {
		// Usable but thin output; keep it rather than discarding real facets.
		a.logger.Info("DecomposeQuery: fewer sub-questions than target",
			zap.Int("got", len(subs)),
			zap.Int("min", cfg.Decomposition.MinSubQuestions),
		)
	}

	metrics.DecompositionLatency.Observe(time.Since(start).Seconds())
	a.logger.Info("DecomposeQuery: complete", zap.Int("sub_questions", len(subs)))
	return DecomposeResult{SubQuestions: subs}, nil
}

func fallbackDecomposition(query string) DecomposeResult {
	return DecomposeResult{
		SubQuestions: []models.SubQuestion{
			{Question: query, Priority: 1, SearchTerms: []string{query}},
		},
		Fallback: true,
	}
}

func buildDecomposePrompt(minQ, maxQ, maxTerms int) string {
	var sb strings.Builder
	sb.WriteString(`You are a research query decomposer. Split one broad research question into
independently searchable sub-questions.

## Rules:
1. Each sub-question must cover a distinct facet (who/what/when/impact/reaction)
2. Each sub-question must be answerable from web or news search results alone
3. Order search terms by expected yield, most specific first
4. Priority 1 = critical to answering the original question, 3 = supporting detail

`)
	sb.WriteString("Produce between ")
	sb.WriteString(strconv.Itoa(minQ))
	sb.WriteString(" and ")
	sb.WriteString(strconv.Itoa(maxQ))
	sb.WriteString(" sub-questions, each with 2-")
	sb.WriteString(strconv.Itoa(maxTerms))
	sb.WriteString(` search terms.

## Response Format:
Return a JSON object:
{
  "sub_questions": [
    {
      "question": "Which agencies announced enforcement actions?",
      "priority": 1,
      "search_terms": ["FTC AI enforcement action", "AI regulator enforcement announcement"]
    }
  ]
}
`)
	return sb.String()
}

func buildDecomposeContent(in DecomposeInput) string {
	var sb strings.Builder
	sb.WriteString("## Research Question:\n")
	sb.WriteString(in.Query)
	sb.WriteString("\n")
	if in.WindowDescription != "" {
		sb.WriteString("\n## Time Window:\nRestrict interest to ")
		sb.WriteString(in.WindowDescription)
		sb.WriteString(".\n")
	}
	if in.OrganizationID != "" {
		sb.WriteString("\n## Organization Context:\n")
		sb.WriteString(in.OrganizationID)
		sb.WriteString("\n")
	}
	return sb.String()
}

func parseDecomposition(response string, maxTerms int) ([]models.SubQuestion, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON object in decomposition output")
	}

	var parsed struct {
		SubQuestions []struct {
			Question    string   `json:"question"`
			Priority    int      `json:"priority"`
			SearchTerms []string `json:"search_terms"`
		} `json:"sub_questions"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, err
	}

	subs := make([]models.SubQuestion, 0, len(parsed.SubQuestions))
	for _, sq := range parsed.SubQuestions {
		question := strings.TrimSpace(sq.Question)
		if question == "" {
			continue
		}
		terms := make([]string, 0, maxTerms)
		for _, t := range sq.SearchTerms {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			terms = append(terms, t)
			if len(terms) >= maxTerms {
				break
			}
		}
		if len(terms) == 0 {
			terms = []string{question}
		}
		subs = append(subs, models.SubQuestion{
			Question:    question,
			Priority:    clampInt(sq.Priority, 1, 3),
			SearchTerms: terms,
		})
	}
	return subs, nil
}


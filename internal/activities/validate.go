package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/metrics"
	"github.com/periscope-intel/periscope/go/researcher/internal/models"
)

// ValidateAnswerInput asks the judge model whether the hits gathered for one
// sub-question actually answer it.
type ValidateAnswerInput struct {
	SubQuestion      string             `json:"sub_question"`
	SubQuestionIndex int                `json:"sub_question_index"`
	Hits             []models.SearchHit `json:"hits"`
}

// ValidateAnswerResult holds the validated answer, or Answered=false when the
// evidence did not clear the confidence floor.
type ValidateAnswerResult struct {
	Answered bool                    `json:"answered"`
	Answer   *models.ValidatedAnswer `json:"answer,omitempty"`
}

type judgedSource struct {
	Index     int     `json:"index"`
	Relevance float64 `json:"relevance"`
	Excerpt   string  `json:"excerpt,omitempty"`
}

type validationVerdict struct {
	Answer  string         `json:"answer"`
	Sources []judgedSource `json:"sources"`
}

// ValidateAnswer judges the hits for a single sub-question and keeps only
// sources at or above the confidence floor. A malformed or failed judge call
// marks the sub-question unanswered rather than failing the workflow; the
// retry round exists for exactly that case.
func (a *Activities) ValidateAnswer(ctx context.Context, in ValidateAnswerInput) (ValidateAnswerResult, error) {
	cfg := a.config()

	if len(in.Hits) == 0 {
		metrics.ValidationCalls.WithLabelValues("no_hits").Inc()
		return ValidateAnswerResult{Answered: false}, nil
	}

	hits := in.Hits
	if max := cfg.Validation.MaxHitsPerQuestion; max > 0 && len(hits) > max {
		hits = hits[:max]
	}

	raw, err := a.callLLM(ctx, "answer-validator",
		validationSystemPrompt,
		buildValidationContent(in.SubQuestion, hits),
		1200, 0.0, cfg.Validation.Timeout)
	if err != nil {
		metrics.ValidationCalls.WithLabelValues("error").Inc()
		a.logger.Warn("ValidateAnswer: judge call failed, marking unanswered",
			zap.Int("sub_question", in.SubQuestionIndex),
			zap.Error(err),
		)
		return ValidateAnswerResult{Answered: false}, nil
	}

	verdict, err := parseValidationVerdict(raw)
	if err != nil {
		metrics.ValidationCalls.WithLabelValues("malformed").Inc()
		a.logger.Warn("ValidateAnswer: malformed judge output, marking unanswered",
			zap.Int("sub_question", in.SubQuestionIndex),
			zap.Error(err),
		)
		return ValidateAnswerResult{Answered: false}, nil
	}

	floor := cfg.Validation.ConfidenceFloor
	var kept []models.AnswerSource
	best := 0.0
	for _, src := range verdict.Sources {
		if src.Index < 0 || src.Index >= len(hits) {
			continue
		}
		rel := clampFloat(src.Relevance, 0, 1)
		if rel < floor {
			metrics.SourcesBelowFloor.Inc()
			continue
		}
		hit := hits[src.Index]
		kept = append(kept, models.AnswerSource{
			Title:       hit.Title,
			URL:         hit.URL,
			Excerpt:     src.Excerpt,
			PublishedAt: hit.PublishedAt,
			Relevance:   rel,
		})
		if rel > best {
			best = rel
		}
	}

	if len(kept) == 0 || strings.TrimSpace(verdict.Answer) == "" {
		metrics.ValidationCalls.WithLabelValues("unanswered").Inc()
		return ValidateAnswerResult{Answered: false}, nil
	}

	metrics.ValidationCalls.WithLabelValues("answered").Inc()
	return ValidateAnswerResult{
		Answered: true,
		Answer: &models.ValidatedAnswer{
			SubQuestion:      in.SubQuestion,
			SubQuestionIndex: in.SubQuestionIndex,
			AnswerText:       strings.TrimSpace(verdict.Answer),
			Confidence:       best,
			Sources:          kept,
		},
	}, nil
}

const validationSystemPrompt = `You are a research answer validator. Given a question and a numbered list of search results, decide which results actually support an answer to the question.

Respond with JSON only:
{
  "answer": "concise answer synthesized strictly from the supporting results, or empty string if none support one",
  "sources": [{"index": 0, "relevance": 0.0, "excerpt": "the supporting passage"}]
}

Score relevance from 0.0 (unrelated) to 1.0 (directly answers the question). Only list results you actually used. Do not invent facts absent from the results.`

func buildValidationContent(question string, hits []models.SearchHit) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nSearch results:\n")
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] %s\n%s\n", i, h.Title, h.URL)
		if h.PublishedAt != nil {
			fmt.Fprintf(&b, "Published: %s\n", h.PublishedAt.Format(time.RFC3339))
		}
		if h.Snippet != "" {
			b.WriteString(truncateStr(h.Snippet, 500))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func parseValidationVerdict(raw string) (validationVerdict, error) {
	var verdict validationVerdict
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return verdict, fmt.Errorf("no JSON object in judge output")
	}
	if err := json.Unmarshal([]byte(jsonStr), &verdict); err != nil {
		return verdict, fmt.Errorf("parse judge output: %w", err)
	}
	return verdict, nil
}

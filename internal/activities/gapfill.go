package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/models"
	"github.com/periscope-intel/periscope/go/researcher/internal/tracing"
)

// AlternativeTermsInput asks for fresh phrasings of a sub-question whose
// original terms found nothing usable.
type AlternativeTermsInput struct {
	SubQuestion   string   `json:"sub_question"`
	OriginalTerms []string `json:"original_terms"`
}

// AlternativeTermsResult carries the reformulated search terms.
type AlternativeTermsResult struct {
	Terms    []string `json:"terms"`
	Fallback bool     `json:"fallback,omitempty"`
}

// GenerateAlternativeTerms produces alternative search phrasings for an
// unanswered sub-question. The alternatives must differ from the originals;
// on generation failure it degrades to mechanical reformulations so the retry
// round always has something to search.
func (a *Activities) GenerateAlternativeTerms(ctx context.Context, in AlternativeTermsInput) (AlternativeTermsResult, error) {
	cfg := a.config()
	want := cfg.Retry.AlternativeTerms

	raw, err := a.callLLM(ctx, "term-reformulator",
		alternativeTermsSystemPrompt,
		buildAlternativeTermsContent(in, want),
		400, 0.7, cfg.Decomposition.Timeout)
	if err != nil {
		a.logger.Warn("GenerateAlternativeTerms: generation failed, using mechanical fallback",
			zap.String("sub_question", truncateStr(in.SubQuestion, 80)),
			zap.Error(err),
		)
		return AlternativeTermsResult{Terms: mechanicalAlternatives(in, want), Fallback: true}, nil
	}

	terms := parseAlternativeTerms(raw, in.OriginalTerms, want)
	if len(terms) == 0 {
		return AlternativeTermsResult{Terms: mechanicalAlternatives(in, want), Fallback: true}, nil
	}
	return AlternativeTermsResult{Terms: terms}, nil
}

const alternativeTermsSystemPrompt = `You reformulate failed search queries. Given a research sub-question and the search terms that found nothing useful, produce alternative terms that approach the question from different angles: synonyms, broader or narrower framings, different actor or event names.

Respond with JSON only: {"terms": ["...", "..."]}. Never repeat an original term.`

func buildAlternativeTermsContent(in AlternativeTermsInput, want int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sub-question: %s\n\nFailed terms:\n", in.SubQuestion)
	for _, t := range in.OriginalTerms {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	fmt.Fprintf(&b, "\nProduce %d alternative search terms.\n", want)
	return b.String()
}

func parseAlternativeTerms(raw string, originals []string, want int) []string {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return nil
	}
	var parsed struct {
		Terms []string `json:"terms"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil
	}

	seen := make(map[string]bool, len(originals))
	for _, t := range originals {
		seen[strings.ToLower(strings.TrimSpace(t))] = true
	}
	var out []string
	for _, t := range parsed.Terms {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) >= want {
			break
		}
	}
	return out
}

// mechanicalAlternatives derives degraded-but-distinct phrasings without the
// generator: the bare question, the question with a news framing, and the
// first original term broadened by dropping its last word.
func mechanicalAlternatives(in AlternativeTermsInput, want int) []string {
	seen := make(map[string]bool, len(in.OriginalTerms))
	for _, t := range in.OriginalTerms {
		seen[strings.ToLower(strings.TrimSpace(t))] = true
	}

	candidates := []string{
		strings.TrimSpace(in.SubQuestion),
		strings.TrimSpace(in.SubQuestion) + " latest news",
	}
	if len(in.OriginalTerms) > 0 {
		words := strings.Fields(in.OriginalTerms[0])
		if len(words) > 1 {
			candidates = append(candidates, strings.Join(words[:len(words)-1], " "))
		}
	}

	var out []string
	for _, c := range candidates {
		key := strings.ToLower(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) >= want {
			break
		}
	}
	return out
}

// DiscoverInput hands a structured gap description to the discovery sidecar,
// which owns the search strategy for filling it.
type DiscoverInput struct {
	OrganizationID string            `json:"organization_id,omitempty"`
	GapContext     models.GapContext `json:"gap_context"`
	Limit          int               `json:"limit,omitempty"`
}

// DiscoverResult carries candidate documents for the gap-fill merge.
type DiscoverResult struct {
	Documents []models.Document `json:"documents"`
}

// DiscoverForGaps calls the discovery service with a GapContext. A failed
// call returns an empty yield, which the gate treats the same as a
// below-minimum round.
func (a *Activities) DiscoverForGaps(ctx context.Context, in DiscoverInput) (DiscoverResult, error) {
	cfg := a.config()
	url := fmt.Sprintf("%s/discover", cfg.Services.DiscoveryURL)

	reqBody := map[string]interface{}{
		"gap_context": in.GapContext,
	}
	if in.OrganizationID != "" {
		reqBody["organization_id"] = in.OrganizationID
	}
	if in.Limit > 0 {
		reqBody["limit"] = in.Limit
	}
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return DiscoverResult{}, fmt.Errorf("marshal discovery request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Quality.GapFillBudget)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return DiscoverResult{}, fmt.Errorf("create discovery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(callCtx, req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Warn("DiscoverForGaps: discovery call failed", zap.Error(err))
		return DiscoverResult{}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Warn("DiscoverForGaps: discovery returned error status",
			zap.Int("status", resp.StatusCode))
		return DiscoverResult{}, nil
	}

	var parsed struct {
		Documents []models.Document `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		a.logger.Warn("DiscoverForGaps: malformed discovery response", zap.Error(err))
		return DiscoverResult{}, nil
	}

	docs := make([]models.Document, 0, len(parsed.Documents))
	for _, d := range parsed.Documents {
		if d.URL == "" {
			continue
		}
		docs = append(docs, d)
	}
	a.logger.Info("DiscoverForGaps: complete",
		zap.String("gap_type", in.GapContext.GapType),
		zap.Int("documents", len(docs)),
	)
	return DiscoverResult{Documents: docs}, nil
}

// FilterRelevanceInput carries discovered documents to the relevance judge.
type FilterRelevanceInput struct {
	GapContext models.GapContext `json:"gap_context"`
	Documents  []models.Document `json:"documents"`
}

// FilterRelevanceResult holds the documents the judge kept.
type FilterRelevanceResult struct {
	Documents []models.Document `json:"documents"`
	FailOpen  bool              `json:"fail_open,omitempty"`
}

// FilterRelevance asks the judge which discovered documents actually address
// the gap. Fails open: a broken judge keeps every document rather than
// silently discarding the round's yield.
func (a *Activities) FilterRelevance(ctx context.Context, in FilterRelevanceInput) (FilterRelevanceResult, error) {
	cfg := a.config()

	if len(in.Documents) == 0 {
		return FilterRelevanceResult{}, nil
	}

	raw, err := a.callLLM(ctx, "relevance-filter",
		relevanceFilterSystemPrompt,
		buildRelevanceFilterContent(in),
		600, 0.0, cfg.Validation.Timeout)
	if err != nil {
		a.logger.Warn("FilterRelevance: judge call failed, keeping all documents", zap.Error(err))
		return FilterRelevanceResult{Documents: in.Documents, FailOpen: true}, nil
	}

	jsonStr := extractJSON(raw)
	var parsed struct {
		Keep []int `json:"keep"`
	}
	if jsonStr == "" || json.Unmarshal([]byte(jsonStr), &parsed) != nil {
		a.logger.Warn("FilterRelevance: malformed judge output, keeping all documents")
		return FilterRelevanceResult{Documents: in.Documents, FailOpen: true}, nil
	}

	kept := make([]models.Document, 0, len(parsed.Keep))
	seen := make(map[int]bool, len(parsed.Keep))
	for _, idx := range parsed.Keep {
		if idx < 0 || idx >= len(in.Documents) || seen[idx] {
			continue
		}
		seen[idx] = true
		kept = append(kept, in.Documents[idx])
	}
	return FilterRelevanceResult{Documents: kept}, nil
}

const relevanceFilterSystemPrompt = `You filter candidate documents against a described intelligence gap. Keep a document only if it plausibly helps close the gap.

Respond with JSON only: {"keep": [0, 2, 5]} listing the indexes of documents to keep.`

func buildRelevanceFilterContent(in FilterRelevanceInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gap type: %s\n", in.GapContext.GapType)
	if in.GapContext.StrategicFocus != "" {
		fmt.Fprintf(&b, "Focus: %s\n", in.GapContext.StrategicFocus)
	}
	if len(in.GapContext.MissingEntities) > 0 {
		b.WriteString("Missing entities:\n")
		for _, e := range in.GapContext.MissingEntities {
			fmt.Fprintf(&b, "- %s (%s)\n", e.Name, e.Type)
		}
	}
	b.WriteString("\nCandidate documents:\n")
	for i, d := range in.Documents {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i, d.Title, truncateStr(d.Content, 300))
	}
	return b.String()
}

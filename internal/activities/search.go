package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/metrics"
	"github.com/periscope-intel/periscope/go/researcher/internal/models"
	"github.com/periscope-intel/periscope/go/researcher/internal/tracing"
)

// SearchTermInput is one provider request: a single term searched across the
// given source types under a recency filter.
type SearchTermInput struct {
	Term             string   `json:"term"`
	SourceTypes      []string `json:"source_types"` // web, news
	RecencyFilter    string   `json:"recency_filter,omitempty"`
	Limit            int      `json:"limit,omitempty"`
	SubQuestionIndex int      `json:"sub_question_index"`
}

// SearchTermResult carries the provider hits tagged with their originating
// sub-question. Failed is set instead of an error: provider failures reduce
// recall for one sub-question but never abort the batch.
type SearchTermResult struct {
	Hits   []models.SearchHit `json:"hits"`
	Failed bool               `json:"failed,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// providerHit is the search sidecar's result shape.
type providerHit struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	SourceType  string `json:"source_type,omitempty"`
}

// SearchTerm issues one search provider call. Calls are rate limited so
// concurrent sub-questions sharing a term do not collapse the provider's
// rate limit.
func (a *Activities) SearchTerm(ctx context.Context, in SearchTermInput) (SearchTermResult, error) {
	cfg := a.config()

	if in.Term == "" {
		return SearchTermResult{}, nil
	}
	limit := in.Limit
	if limit <= 0 {
		limit = cfg.Search.ResultLimit
	}
	sourceTypes := in.SourceTypes
	if len(sourceTypes) == 0 {
		sourceTypes = []string{models.SourceTypeWeb, models.SourceTypeNews}
	}

	if err := a.searchLimiter.Wait(ctx); err != nil {
		return SearchTermResult{Failed: true, Error: err.Error()}, nil
	}

	start := time.Now()
	hits, err := a.doSearch(ctx, in.Term, sourceTypes, in.RecencyFilter, limit)
	elapsed := time.Since(start).Seconds()
	label := primarySourceType(sourceTypes)
	if err != nil {
		metrics.RecordSearch(label, "error", elapsed, 0)
		a.logger.Warn("SearchTerm: provider call failed",
			zap.String("term", truncateStr(in.Term, 80)),
			zap.Int("sub_question", in.SubQuestionIndex),
			zap.Error(err),
		)
		return SearchTermResult{Failed: true, Error: err.Error()}, nil
	}
	metrics.RecordSearch(label, "ok", elapsed, len(hits))

	out := make([]models.SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.URL == "" {
			continue
		}
		hit := models.SearchHit{
			Title:             h.Title,
			URL:               h.URL,
			Snippet:           h.Snippet,
			SourceType:        h.SourceType,
			OriginSubQuestion: in.SubQuestionIndex,
		}
		if hit.SourceType == "" {
			hit.SourceType = label
		}
		if h.PublishedAt != "" {
			if ts, err := time.Parse(time.RFC3339, h.PublishedAt); err == nil {
				hit.PublishedAt = &ts
			}
		}
		out = append(out, hit)
	}

	a.logger.Debug("SearchTerm: complete",
		zap.String("term", truncateStr(in.Term, 80)),
		zap.Int("hits", len(out)),
	)
	return SearchTermResult{Hits: out}, nil
}

func (a *Activities) doSearch(ctx context.Context, term string, sourceTypes []string, recency string, limit int) ([]providerHit, error) {
	cfg := a.config()
	url := fmt.Sprintf("%s/search", cfg.Services.SearchURL)

	reqBody := map[string]interface{}{
		"query":        term,
		"source_types": sourceTypes,
		"limit":        limit,
	}
	if recency != "" {
		reqBody["recency"] = recency
	}
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Search.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(callCtx, req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search provider call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d from search provider", resp.StatusCode)
	}

	var parsed struct {
		Results []providerHit `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return parsed.Results, nil
}

func primarySourceType(sourceTypes []string) string {
	if len(sourceTypes) == 1 {
		return sourceTypes[0]
	}
	return "mixed"
}

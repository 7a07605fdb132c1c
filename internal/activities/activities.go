// Package activities implements the Temporal activities that call the
// external search, judging/generation and discovery sidecars. Every call
// carries a request timeout and a documented fallback; a failed sidecar call
// degrades one sub-question's result, never the whole batch.
package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/periscope-intel/periscope/go/researcher/internal/config"
	"github.com/periscope-intel/periscope/go/researcher/internal/dedup"
	"github.com/periscope-intel/periscope/go/researcher/internal/tracing"
)

// Store is the narrow persistence surface the activities need: write-once
// append of finished corpora, reports and assessments.
type Store interface {
	SaveReport(ctx context.Context, report ReportRecord) error
	SaveAssessment(ctx context.Context, record AssessmentRecord) error
	AppendDocuments(ctx context.Context, runID string, docs []DocumentRecord) error
}

// Activities carries the shared dependencies for all activity functions.
type Activities struct {
	logger        *zap.Logger
	cfg           atomic.Pointer[config.Config]
	httpClient    *http.Client
	searchLimiter *rate.Limiter
	store         Store
	dedupFactory  func(runID string) dedup.Index
}

// NewActivities wires the activity dependencies. store may be nil when
// persistence is disabled (tests, dry runs); persist activities then no-op.
func NewActivities(cfg *config.Config, logger *zap.Logger, store Store) *Activities {
	a := &Activities{
		logger: logger,
		httpClient: &http.Client{
			Timeout: cfg.Services.HTTPTimeout,
		},
		searchLimiter: rate.NewLimiter(rate.Limit(cfg.Search.RequestsPerSecond), cfg.Search.Burst),
		store:         store,
	}
	a.cfg.Store(cfg)
	return a
}

// UpdateConfig swaps the active configuration snapshot. Used by the config
// watcher; in-flight activities keep the snapshot they started with.
func (a *Activities) UpdateConfig(cfg *config.Config) {
	a.cfg.Store(cfg)
	a.searchLimiter.SetLimit(rate.Limit(cfg.Search.RequestsPerSecond))
	a.searchLimiter.SetBurst(cfg.Search.Burst)
}

// SetDedupFactory installs a per-run seen-URL index, typically Redis-backed.
// Document persistence consults it so repeated gate iterations in one run do
// not rewrite rows the run already appended.
func (a *Activities) SetDedupFactory(factory func(runID string) dedup.Index) {
	a.dedupFactory = factory
}

func (a *Activities) config() *config.Config {
	return a.cfg.Load()
}

// llmEnvelope is the generation service's response wrapper.
type llmEnvelope struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Metadata struct {
		InputTokens  int     `json:"input_tokens"`
		OutputTokens int     `json:"output_tokens"`
		CostUSD      float64 `json:"cost_usd"`
	} `json:"metadata"`
	TokensUsed int    `json:"tokens_used"`
	ModelUsed  string `json:"model_used"`
	Provider   string `json:"provider"`
}

// callLLM posts one generation request and returns the raw response text.
// Errors are returned to the caller so each activity can apply its own
// fallback; nothing here retries.
func (a *Activities) callLLM(ctx context.Context, agentID, systemPrompt, userContent string, maxTokens int, temperature float64, timeout time.Duration) (string, error) {
	cfg := a.config()
	url := fmt.Sprintf("%s/agent/query", cfg.Services.LLMURL)

	reqBody := map[string]interface{}{
		"query":       userContent,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"agent_id":    agentID,
		"context": map[string]interface{}{
			"system_prompt": systemPrompt,
		},
	}
	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(callCtx, req)
	req.Header.Set("X-Agent-ID", agentID)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d from llm service", resp.StatusCode)
	}

	var envelope llmEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	return envelope.Response, nil
}

// extractJSON pulls the outermost JSON object out of a model response that
// may be wrapped in prose or markdown fences. Returns "" when the response
// carries no object at all.
func extractJSON(response string) string {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return response[start : end+1]
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

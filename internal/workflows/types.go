package workflows

import (
	"github.com/periscope-intel/periscope/go/researcher/internal/models"
	"github.com/periscope-intel/periscope/go/researcher/internal/quality"
)

// ResearchInput starts one research pipeline run. Query is the only required
// field; everything else has a workable default.
type ResearchInput struct {
	Query          string `json:"query"`
	OrganizationID string `json:"organization_id,omitempty"`
	Timeframe      string `json:"timeframe,omitempty"` // "recent", "24h", "week", ...

	// MaxRetryRounds bounds the gap-fill controller. Zero takes the
	// configured default, itself zero: retries are opt-in.
	MaxRetryRounds int `json:"max_retry_rounds,omitempty"`

	// TermsPerSubQuestion caps the search fan-out per sub-question.
	// Zero falls back to the default of 2.
	TermsPerSubQuestion int `json:"terms_per_sub_question,omitempty"`

	// RetryBudgetSeconds caps total wall-clock spent on retry rounds.
	// Zero falls back to the default of 120 seconds.
	RetryBudgetSeconds int `json:"retry_budget_seconds,omitempty"`
}

// ResearchResult is the pipeline's best-effort output. The report is never
// empty when any sub-answer validated; unanswered sub-questions are listed,
// not hidden.
type ResearchResult struct {
	Query          string                   `json:"query"`
	Report         string                   `json:"report"`
	Answers        []models.ValidatedAnswer `json:"answers"`
	Unanswered     []string                 `json:"unanswered,omitempty"`
	RetryRounds    int                      `json:"retry_rounds"`
	TotalHits      int                      `json:"total_hits"`
	UniqueHits     int                      `json:"unique_hits"`
	ReportFallback bool                     `json:"report_fallback,omitempty"`
}

// QualityGateInput hands an existing corpus to the gate for an
// accept-or-patch decision.
type QualityGateInput struct {
	OrganizationID string            `json:"organization_id,omitempty"`
	Documents      []models.Document `json:"documents"`

	// Iteration counts prior gate passes over this corpus. The ceiling check
	// runs before any other work.
	Iteration int `json:"iteration,omitempty"`

	// MaxIterations is the gate ceiling. Zero falls back to the default of 1.
	MaxIterations int `json:"max_iterations,omitempty"`

	// DisableJudge skips the borderline-case judge review.
	DisableJudge bool `json:"disable_judge,omitempty"`

	// Thresholds tunes the rule-based assessment. Zero fields keep the rule
	// engine's own defaults.
	Thresholds quality.Thresholds `json:"thresholds,omitempty"`

	// GapFillMinYield discards a gap-fill round whose net-new documents fall
	// below it. Zero falls back to the default of 3.
	GapFillMinYield int `json:"gap_fill_min_yield,omitempty"`
}

// QualityGateResult is the gate's verdict plus the (possibly augmented)
// corpus the caller should proceed with.
type QualityGateResult struct {
	Decision       string                   `json:"decision"` // PROCEED|SEARCH_GAPS
	Assessment     models.QualityAssessment `json:"assessment"`
	Documents      []models.Document        `json:"documents"`
	ForcedProceed  bool                     `json:"forced_proceed,omitempty"`
	GapFillApplied bool                     `json:"gap_fill_applied,omitempty"`
	Iteration      int                      `json:"iteration"`
}

const (
	defaultTermsPerSubQuestion = 2
	defaultRetryBudgetSeconds  = 120
	defaultMaxGateIterations   = 1
	defaultGapFillMinYield     = 3
)

// Defaults carries the config-derived fallbacks the API layer stamps onto
// workflow inputs before starting a run. Workflows never read configuration
// themselves; callers resolve it once at start time so a reload mid-run
// cannot change a running workflow's behavior.
type Defaults struct {
	MaxRetryRounds      int
	TermsPerSubQuestion int
	RetryBudgetSeconds  int
	MaxGateIterations   int
	GapFillMinYield     int
	DisableJudge        bool
	Thresholds          quality.Thresholds
}

// ApplyResearch fills the zero-valued knobs of a research input.
func (d Defaults) ApplyResearch(in *ResearchInput) {
	if in.MaxRetryRounds == 0 {
		in.MaxRetryRounds = d.MaxRetryRounds
	}
	if in.TermsPerSubQuestion == 0 {
		in.TermsPerSubQuestion = d.TermsPerSubQuestion
	}
	if in.RetryBudgetSeconds == 0 {
		in.RetryBudgetSeconds = d.RetryBudgetSeconds
	}
}

// ApplyQualityGate fills the zero-valued knobs of a gate input.
func (d Defaults) ApplyQualityGate(in *QualityGateInput) {
	if in.MaxIterations == 0 {
		in.MaxIterations = d.MaxGateIterations
	}
	if in.GapFillMinYield == 0 {
		in.GapFillMinYield = d.GapFillMinYield
	}
	if d.DisableJudge {
		in.DisableJudge = true
	}
	if in.Thresholds == (quality.Thresholds{}) {
		in.Thresholds = d.Thresholds
	}
}

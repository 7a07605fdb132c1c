package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/periscope-intel/periscope/go/researcher/internal/activities"
	"github.com/periscope-intel/periscope/go/researcher/internal/dedup"
	"github.com/periscope-intel/periscope/go/researcher/internal/metrics"
	"github.com/periscope-intel/periscope/go/researcher/internal/models"
	"github.com/periscope-intel/periscope/go/researcher/internal/quality"
	"github.com/periscope-intel/periscope/go/researcher/internal/registry"
)

// QualityGateWorkflow decides PROCEED or SEARCH_GAPS over an existing corpus
// and patches the corpus with one gap-fill round when gaps are critical.
//
// State machine: ceiling check → empty-corpus short circuit → rule-based
// assessment → judge review for borderline cases (fail open) → one GAP_FILL
// round → forced PROCEED. The ceiling check runs before any other work so the
// gate can never loop, by construction.
func QualityGateWorkflow(ctx workflow.Context, input QualityGateInput) (QualityGateResult, error) {
	logger := workflow.GetLogger(ctx)

	maxIterations := input.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxGateIterations
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	})

	// Hard safety valve: at the ceiling nothing else is even assessed.
	if input.Iteration >= maxIterations {
		logger.Info("Iteration ceiling reached, forcing proceed",
			"iteration", input.Iteration,
			"max_iterations", maxIterations,
		)
		assessment := models.QualityAssessment{
			TotalDocuments: len(input.Documents),
			Decision:       models.DecisionProceed,
			Reason:         "iteration ceiling reached",
		}
		if !workflow.IsReplaying(ctx) {
			metrics.ForcedProceeds.WithLabelValues("iteration_ceiling").Inc()
			metrics.RecordGateDecision(models.DecisionProceed, "forced")
		}
		persistAssessment(ctx, input, assessment, true)
		return QualityGateResult{
			Decision:      models.DecisionProceed,
			Assessment:    assessment,
			Documents:     input.Documents,
			ForcedProceed: true,
			Iteration:     input.Iteration,
		}, nil
	}

	// Nothing to gate.
	if len(input.Documents) == 0 {
		assessment := models.QualityAssessment{
			Decision: models.DecisionProceed,
			Reason:   "no data to assess",
		}
		if !workflow.IsReplaying(ctx) {
			metrics.RecordGateDecision(models.DecisionProceed, "empty")
		}
		persistAssessment(ctx, input, assessment, false)
		return QualityGateResult{
			Decision:   models.DecisionProceed,
			Assessment: assessment,
			Iteration:  input.Iteration + 1,
		}, nil
	}

	var targetsRes activities.FetchTargetsResult
	if err := workflow.ExecuteActivity(ctx, "FetchTargets", activities.FetchTargetsInput{
		OrganizationID: input.OrganizationID,
	}).Get(ctx, &targetsRes); err != nil {
		// Coverage rules degrade to volume and recency checks.
		logger.Warn("Target fetch failed, assessing without coverage targets", "error", err)
	}
	targets := targetsRes.Targets

	assessment := quality.Assess(input.Documents, targets, workflow.Now(ctx), input.Thresholds)
	decisionPath := "rules"

	if assessment.NeedsJudgeReview && !input.DisableJudge {
		decisionPath = "judge"
		var review activities.ReviewCorpusResult
		err := workflow.ExecuteActivity(ctx, "ReviewCorpus", activities.ReviewCorpusInput{
			OrganizationID: input.OrganizationID,
			Assessment:     assessment,
			Documents:      input.Documents,
		}).Get(ctx, &review)
		if err != nil {
			// Same fail-open default the activity applies internally; this
			// branch covers the worker being unreachable.
			logger.Warn("Judge review failed outright, treating corpus as sufficient", "error", err)
			if !workflow.IsReplaying(ctx) {
				metrics.JudgeFailOpens.Inc()
			}
		} else if !review.Sufficient {
			assessment.CriticalGaps = append(assessment.CriticalGaps, review.CriticalGaps...)
			assessment.Decision = models.DecisionSearchGaps
			if review.Reasoning != "" {
				assessment.Reason = review.Reasoning
			}
		}
	}

	docs := input.Documents
	result := QualityGateResult{
		Decision:  assessment.Decision,
		Iteration: input.Iteration + 1,
	}

	if assessment.Decision == models.DecisionSearchGaps {
		// GAP_FILL runs exactly once and the gate then proceeds with whatever
		// corpus resulted. A thin yield leaves the corpus untouched.
		added := runGapFill(ctx, input, assessment, docs, targets)
		if len(added) > 0 {
			docs = append(docs, added...)
			result.GapFillApplied = true
		}
		result.Decision = models.DecisionProceed
		result.ForcedProceed = true
		if !workflow.IsReplaying(ctx) {
			metrics.ForcedProceeds.WithLabelValues("gap_fill_complete").Inc()
			metrics.RecordGateDecision(models.DecisionProceed, "forced")
		}
	} else if !workflow.IsReplaying(ctx) {
		metrics.RecordGateDecision(assessment.Decision, decisionPath)
	}

	result.Assessment = assessment
	result.Documents = docs
	persistAssessment(ctx, input, assessment, result.ForcedProceed)
	if result.GapFillApplied {
		runID := workflow.GetInfo(ctx).WorkflowExecution.ID
		if err := workflow.ExecuteActivity(ctx, "PersistDocuments", activities.PersistDocumentsInput{
			RunID:     runID,
			Documents: docs,
		}).Get(ctx, nil); err != nil {
			logger.Error("Corpus persistence failed", "run_id", runID, "error", err)
		}
	}

	logger.Info("Quality gate complete",
		"decision", result.Decision,
		"critical_gaps", len(assessment.CriticalGaps),
		"minor_gaps", len(assessment.MinorGaps),
		"forced", result.ForcedProceed,
		"gap_fill_applied", result.GapFillApplied,
	)
	return result, nil
}

// runGapFill executes one discovery round for the assessed gaps. Returns the
// deduplicated new documents, or nil when the yield fell below the minimum.
func runGapFill(ctx workflow.Context, input QualityGateInput, assessment models.QualityAssessment, docs []models.Document, targets []registry.Entity) []models.Document {
	logger := workflow.GetLogger(ctx)

	gapCtx := quality.BuildGapContext(assessment, docs, targets)

	var discovered activities.DiscoverResult
	if err := workflow.ExecuteActivity(ctx, "DiscoverForGaps", activities.DiscoverInput{
		OrganizationID: input.OrganizationID,
		GapContext:     gapCtx,
	}).Get(ctx, &discovered); err != nil {
		logger.Warn("Gap discovery failed", "error", err)
		return nil
	}
	if len(discovered.Documents) == 0 {
		if !workflow.IsReplaying(ctx) {
			metrics.GapFillDiscarded.Inc()
		}
		return nil
	}

	candidates := discovered.Documents
	var filtered activities.FilterRelevanceResult
	if err := workflow.ExecuteActivity(ctx, "FilterRelevance", activities.FilterRelevanceInput{
		GapContext: gapCtx,
		Documents:  candidates,
	}).Get(ctx, &filtered); err != nil {
		// Keep-all on filter failure mirrors the activity's own fail-open.
		logger.Warn("Relevance filter failed, keeping all discovered documents", "error", err)
	} else {
		candidates = filtered.Documents
	}

	minYield := input.GapFillMinYield
	if minYield <= 0 {
		minYield = defaultGapFillMinYield
	}
	added := dedupAgainstCorpus(docs, candidates)
	if len(added) < minYield {
		logger.Info("Gap-fill yield below minimum, discarding round",
			"yield", len(added),
			"minimum", minYield,
		)
		if !workflow.IsReplaying(ctx) {
			metrics.GapFillDiscarded.Inc()
		}
		return nil
	}
	if !workflow.IsReplaying(ctx) {
		metrics.GapFillDocuments.Observe(float64(len(added)))
	}
	logger.Info("Gap-fill round merged", "new_documents", len(added))
	return added
}

// dedupAgainstCorpus drops candidates whose canonical URL already appears in
// the corpus, or earlier in the candidate list.
func dedupAgainstCorpus(corpus, candidates []models.Document) []models.Document {
	seen := make(map[string]bool, len(corpus))
	for _, d := range corpus {
		seen[dedup.CanonicalURL(d.URL)] = true
	}
	var out []models.Document
	for _, d := range candidates {
		canonical := dedup.CanonicalURL(d.URL)
		if canonical == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, d)
	}
	return out
}

func persistAssessment(ctx workflow.Context, input QualityGateInput, assessment models.QualityAssessment, forced bool) {
	logger := workflow.GetLogger(ctx)
	runID := workflow.GetInfo(ctx).WorkflowExecution.ID
	if err := workflow.ExecuteActivity(ctx, "PersistAssessment", activities.AssessmentRecord{
		RunID:          runID,
		OrganizationID: input.OrganizationID,
		Iteration:      input.Iteration,
		Assessment:     assessment,
		ForcedProceed:  forced,
		AssessedAt:     workflow.Now(ctx),
	}).Get(ctx, nil); err != nil {
		logger.Error("Assessment persistence failed", "run_id", runID, "error", err)
	}
}

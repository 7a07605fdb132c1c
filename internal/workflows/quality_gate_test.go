package workflows

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/periscope-intel/periscope/go/researcher/internal/activities"
	"github.com/periscope-intel/periscope/go/researcher/internal/models"
	"github.com/periscope-intel/periscope/go/researcher/internal/quality"
	"github.com/periscope-intel/periscope/go/researcher/internal/registry"
)

func gateDocs(n int, recent time.Time) []models.Document {
	docs := make([]models.Document, 0, n)
	for i := 0; i < n; i++ {
		ts := recent
		docs = append(docs, models.Document{
			Title:       fmt.Sprintf("Document %d", i),
			URL:         fmt.Sprintf("https://example.com/doc-%d", i),
			Content:     "generic industry update",
			PublishedAt: &ts,
		})
	}
	return docs
}

func TestQualityGateCeilingForcesProceed(t *testing.T) {
	env := newWorkflowEnv(t)

	env.OnActivity("PersistAssessment", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(QualityGateWorkflow, QualityGateInput{
		Documents:     gateDocs(2, time.Now()),
		Iteration:     1,
		MaxIterations: 1,
	})
	require.NoError(t, env.GetWorkflowError())

	var result QualityGateResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.DecisionProceed, result.Decision)
	assert.True(t, result.ForcedProceed)
	assert.False(t, result.GapFillApplied)
	// At the ceiling nothing is assessed; a gap-fill forced proceed would
	// carry a different reason.
	assert.Equal(t, "iteration ceiling reached", result.Assessment.Reason)
	assert.Len(t, result.Documents, 2)
}

func TestQualityGateEmptyCorpusProceeds(t *testing.T) {
	env := newWorkflowEnv(t)

	env.OnActivity("PersistAssessment", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(QualityGateWorkflow, QualityGateInput{})
	require.NoError(t, env.GetWorkflowError())

	var result QualityGateResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.DecisionProceed, result.Decision)
	assert.Equal(t, "no data to assess", result.Assessment.Reason)
	assert.False(t, result.ForcedProceed)
}

func TestQualityGateHealthyCorpusProceeds(t *testing.T) {
	env := newWorkflowEnv(t)

	targets := []registry.Entity{
		{Name: "Document", Class: registry.ClassCompetitor, Priority: 1},
	}
	env.OnActivity("FetchTargets", mock.Anything, mock.Anything).Return(
		activities.FetchTargetsResult{Targets: targets}, nil)
	env.OnActivity("PersistAssessment", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(QualityGateWorkflow, QualityGateInput{
		Documents: gateDocs(6, time.Now()),
	})
	require.NoError(t, env.GetWorkflowError())

	var result QualityGateResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.DecisionProceed, result.Decision)
	assert.Empty(t, result.Assessment.CriticalGaps)
	assert.False(t, result.ForcedProceed)
	assert.Len(t, result.Documents, 6)
}

func TestQualityGateGapFillMergesAndForcesProceed(t *testing.T) {
	env := newWorkflowEnv(t)

	env.OnActivity("FetchTargets", mock.Anything, mock.Anything).Return(
		activities.FetchTargetsResult{}, nil)
	env.OnActivity("DiscoverForGaps", mock.Anything, mock.Anything).Return(
		activities.DiscoverResult{Documents: []models.Document{
			{Title: "New A", URL: "https://example.com/new-a"},
			{Title: "New B", URL: "https://example.com/new-b"},
			{Title: "New C", URL: "https://example.com/new-c"},
			{Title: "Already known", URL: "https://example.com/doc-0"},
		}}, nil)
	env.OnActivity("FilterRelevance", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.FilterRelevanceInput) (activities.FilterRelevanceResult, error) {
			return activities.FilterRelevanceResult{Documents: in.Documents}, nil
		})
	env.OnActivity("PersistAssessment", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("PersistDocuments", mock.Anything, mock.Anything).Return(nil)

	// 3 documents is below the minimum of 5: a critical gap.
	env.ExecuteWorkflow(QualityGateWorkflow, QualityGateInput{
		Documents: gateDocs(3, time.Now()),
	})
	require.NoError(t, env.GetWorkflowError())

	var result QualityGateResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.DecisionProceed, result.Decision)
	assert.True(t, result.ForcedProceed)
	assert.True(t, result.GapFillApplied)
	// 3 originals + 3 new; the re-discovered known URL is dropped.
	assert.Len(t, result.Documents, 6)
	assert.Equal(t, models.DecisionSearchGaps, result.Assessment.Decision)
}

func TestQualityGateGapFillLowYieldKeepsCorpusIdentical(t *testing.T) {
	env := newWorkflowEnv(t)

	original := gateDocs(3, time.Now())

	env.OnActivity("FetchTargets", mock.Anything, mock.Anything).Return(
		activities.FetchTargetsResult{}, nil)
	env.OnActivity("DiscoverForGaps", mock.Anything, mock.Anything).Return(
		activities.DiscoverResult{Documents: []models.Document{
			{Title: "New A", URL: "https://example.com/new-a"},
			{Title: "New B", URL: "https://example.com/new-b"},
		}}, nil)
	env.OnActivity("FilterRelevance", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.FilterRelevanceInput) (activities.FilterRelevanceResult, error) {
			return activities.FilterRelevanceResult{Documents: in.Documents}, nil
		})
	env.OnActivity("PersistAssessment", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(QualityGateWorkflow, QualityGateInput{Documents: original})
	require.NoError(t, env.GetWorkflowError())

	var result QualityGateResult
	require.NoError(t, env.GetWorkflowResult(&result))
	// Two new documents is below the minimum yield of three: the round is
	// discarded and the corpus comes back unchanged. Compare by URL because
	// the payload round-trip normalizes timestamp locations.
	assert.Equal(t, models.DecisionProceed, result.Decision)
	assert.True(t, result.ForcedProceed)
	assert.False(t, result.GapFillApplied)
	require.Len(t, result.Documents, len(original))
	for i, doc := range original {
		assert.Equal(t, doc.URL, result.Documents[i].URL)
	}
}

func TestQualityGateHonorsTunedThresholds(t *testing.T) {
	env := newWorkflowEnv(t)

	env.OnActivity("FetchTargets", mock.Anything, mock.Anything).Return(
		activities.FetchTargetsResult{}, nil)
	env.OnActivity("PersistAssessment", mock.Anything, mock.Anything).Return(nil)

	// Three documents is a critical gap under the stock minimum of five, but
	// a tuned minimum of two accepts the corpus outright.
	env.ExecuteWorkflow(QualityGateWorkflow, QualityGateInput{
		Documents:  gateDocs(3, time.Now()),
		Thresholds: quality.Thresholds{MinDocuments: 2},
	})
	require.NoError(t, env.GetWorkflowError())

	var result QualityGateResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, models.DecisionProceed, result.Decision)
	assert.False(t, result.ForcedProceed)
	assert.Empty(t, result.Assessment.CriticalGaps)
}

func TestQualityGateHonorsTunedGapFillMinYield(t *testing.T) {
	env := newWorkflowEnv(t)

	env.OnActivity("FetchTargets", mock.Anything, mock.Anything).Return(
		activities.FetchTargetsResult{}, nil)
	env.OnActivity("DiscoverForGaps", mock.Anything, mock.Anything).Return(
		activities.DiscoverResult{Documents: []models.Document{
			{Title: "New A", URL: "https://example.com/new-a"},
			{Title: "New B", URL: "https://example.com/new-b"},
		}}, nil)
	env.OnActivity("FilterRelevance", mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.FilterRelevanceInput) (activities.FilterRelevanceResult, error) {
			return activities.FilterRelevanceResult{Documents: in.Documents}, nil
		})
	env.OnActivity("PersistAssessment", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("PersistDocuments", mock.Anything, mock.Anything).Return(nil)

	// The same two-document yield that the stock minimum of three discards
	// merges when the floor is lowered to two.
	env.ExecuteWorkflow(QualityGateWorkflow, QualityGateInput{
		Documents:       gateDocs(3, time.Now()),
		GapFillMinYield: 2,
	})
	require.NoError(t, env.GetWorkflowError())

	var result QualityGateResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.True(t, result.GapFillApplied)
	assert.Len(t, result.Documents, 5)
}

func TestQualityGateJudgeFailsOpen(t *testing.T) {
	env := newWorkflowEnv(t)

	// Borderline corpus: healthy volume and recency, a covered top
	// competitor, but overall competitor coverage under 25% and zero
	// stakeholder coverage. That escalates to judge review without any
	// critical gap.
	targets := []registry.Entity{
		{Name: "Document", Class: registry.ClassCompetitor, Priority: 1},
		{Name: "Acme", Class: registry.ClassCompetitor, Priority: 2},
		{Name: "Globex", Class: registry.ClassCompetitor, Priority: 2},
		{Name: "Initech", Class: registry.ClassCompetitor, Priority: 3},
		{Name: "Umbrella", Class: registry.ClassCompetitor, Priority: 3},
		{Name: "Regulator X", Class: registry.ClassStakeholder, Priority: 1},
	}
	env.OnActivity("FetchTargets", mock.Anything, mock.Anything).Return(
		activities.FetchTargetsResult{Targets: targets}, nil)
	env.OnActivity("ReviewCorpus", mock.Anything, mock.Anything).Return(
		activities.ReviewCorpusResult{}, errors.New("judge timed out"))
	env.OnActivity("PersistAssessment", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(QualityGateWorkflow, QualityGateInput{
		Documents: gateDocs(6, time.Now()),
	})
	require.NoError(t, env.GetWorkflowError())

	var result QualityGateResult
	require.NoError(t, env.GetWorkflowResult(&result))
	// Transport failure on the judge never turns into SEARCH_GAPS.
	assert.Equal(t, models.DecisionProceed, result.Decision)
	assert.False(t, result.ForcedProceed)
	assert.True(t, result.Assessment.NeedsJudgeReview)
}

func TestQualityGateJudgeCanEscalate(t *testing.T) {
	env := newWorkflowEnv(t)

	targets := []registry.Entity{
		{Name: "Document", Class: registry.ClassCompetitor, Priority: 1},
		{Name: "Acme", Class: registry.ClassCompetitor, Priority: 2},
		{Name: "Globex", Class: registry.ClassCompetitor, Priority: 2},
		{Name: "Initech", Class: registry.ClassCompetitor, Priority: 3},
		{Name: "Umbrella", Class: registry.ClassCompetitor, Priority: 3},
		{Name: "Regulator X", Class: registry.ClassStakeholder, Priority: 1},
	}
	env.OnActivity("FetchTargets", mock.Anything, mock.Anything).Return(
		activities.FetchTargetsResult{Targets: targets}, nil)
	env.OnActivity("ReviewCorpus", mock.Anything, mock.Anything).Return(
		activities.ReviewCorpusResult{
			Sufficient: false,
			Reasoning:  "no stakeholder signal at all",
			CriticalGaps: []models.Gap{
				{Type: models.GapTypeJudgeIdentified, Message: "stakeholder coverage absent"},
			},
		}, nil)
	env.OnActivity("DiscoverForGaps", mock.Anything, mock.Anything).Return(
		activities.DiscoverResult{}, nil)
	env.OnActivity("PersistAssessment", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(QualityGateWorkflow, QualityGateInput{
		Documents: gateDocs(6, time.Now()),
	})
	require.NoError(t, env.GetWorkflowError())

	var result QualityGateResult
	require.NoError(t, env.GetWorkflowResult(&result))
	// The judge escalated, gap fill found nothing, and the gate still
	// terminates with a forced proceed.
	assert.Equal(t, models.DecisionProceed, result.Decision)
	assert.True(t, result.ForcedProceed)
	assert.False(t, result.GapFillApplied)
	require.NotEmpty(t, result.Assessment.CriticalGaps)
	assert.Equal(t, models.GapTypeJudgeIdentified, result.Assessment.CriticalGaps[0].Type)
}

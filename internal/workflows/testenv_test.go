package workflows

import (
	"context"
	"testing"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/periscope-intel/periscope/go/researcher/internal/activities"
)

// newGateEnv returns a test environment with every activity the workflows
// call registered under its worker name, so env.OnActivity can mock them by
// string. Unmocked activities run the zero-value stubs below.
func newWorkflowEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.DecomposeInput) (activities.DecomposeResult, error) {
			return activities.DecomposeResult{}, nil
		}, activity.RegisterOptions{Name: "DecomposeQuery"})
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.SearchTermInput) (activities.SearchTermResult, error) {
			return activities.SearchTermResult{}, nil
		}, activity.RegisterOptions{Name: "SearchTerm"})
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.ValidateAnswerInput) (activities.ValidateAnswerResult, error) {
			return activities.ValidateAnswerResult{}, nil
		}, activity.RegisterOptions{Name: "ValidateAnswer"})
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.AlternativeTermsInput) (activities.AlternativeTermsResult, error) {
			return activities.AlternativeTermsResult{}, nil
		}, activity.RegisterOptions{Name: "GenerateAlternativeTerms"})
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.DiscoverInput) (activities.DiscoverResult, error) {
			return activities.DiscoverResult{}, nil
		}, activity.RegisterOptions{Name: "DiscoverForGaps"})
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.FilterRelevanceInput) (activities.FilterRelevanceResult, error) {
			return activities.FilterRelevanceResult{Documents: in.Documents}, nil
		}, activity.RegisterOptions{Name: "FilterRelevance"})
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.ReviewCorpusInput) (activities.ReviewCorpusResult, error) {
			return activities.ReviewCorpusResult{Sufficient: true}, nil
		}, activity.RegisterOptions{Name: "ReviewCorpus"})
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.SynthesizeInput) (activities.SynthesizeResult, error) {
			return activities.SynthesizeResult{}, nil
		}, activity.RegisterOptions{Name: "SynthesizeReport"})
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.FetchTargetsInput) (activities.FetchTargetsResult, error) {
			return activities.FetchTargetsResult{}, nil
		}, activity.RegisterOptions{Name: "FetchTargets"})
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.ReportRecord) error {
			return nil
		}, activity.RegisterOptions{Name: "PersistReport"})
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.AssessmentRecord) error {
			return nil
		}, activity.RegisterOptions{Name: "PersistAssessment"})
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.PersistDocumentsInput) error {
			return nil
		}, activity.RegisterOptions{Name: "PersistDocuments"})

	return env
}

package activities

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/dedup"
	"github.com/periscope-intel/periscope/go/researcher/internal/models"
)

type recordingStore struct {
	reports     []ReportRecord
	assessments []AssessmentRecord
	appended    [][]DocumentRecord
}

func (s *recordingStore) SaveReport(ctx context.Context, report ReportRecord) error {
	s.reports = append(s.reports, report)
	return nil
}

func (s *recordingStore) SaveAssessment(ctx context.Context, record AssessmentRecord) error {
	s.assessments = append(s.assessments, record)
	return nil
}

func (s *recordingStore) AppendDocuments(ctx context.Context, runID string, docs []DocumentRecord) error {
	s.appended = append(s.appended, docs)
	return nil
}

func TestPersistDocumentsSkipsURLsAlreadySeenInRun(t *testing.T) {
	store := &recordingStore{}
	a := NewActivities(testConfig("", "", ""), zap.NewNop(), store)

	indexes := map[string]dedup.Index{}
	a.SetDedupFactory(func(runID string) dedup.Index {
		if idx, ok := indexes[runID]; ok {
			return idx
		}
		idx := dedup.NewMemoryIndex()
		indexes[runID] = idx
		return idx
	})

	first := PersistDocumentsInput{
		RunID: "run-1",
		Documents: []models.Document{
			{URL: "https://example.com/a", Title: "A"},
			{URL: "https://example.com/b", Title: "B"},
		},
	}
	require.NoError(t, a.PersistDocuments(context.Background(), first))
	require.Len(t, store.appended, 1)
	assert.Len(t, store.appended[0], 2)

	// Second gate iteration in the same run: one repeat, one new.
	second := PersistDocumentsInput{
		RunID: "run-1",
		Documents: []models.Document{
			{URL: "https://example.com/a?utm_source=feed", Title: "A again"},
			{URL: "https://example.com/c", Title: "C"},
		},
	}
	require.NoError(t, a.PersistDocuments(context.Background(), second))
	require.Len(t, store.appended, 2)
	require.Len(t, store.appended[1], 1)
	assert.Equal(t, "https://example.com/c", store.appended[1][0].URL)

	// Everything repeated: no write at all.
	require.NoError(t, a.PersistDocuments(context.Background(), first))
	assert.Len(t, store.appended, 2)
}

func TestPersistReportAndAssessment(t *testing.T) {
	store := &recordingStore{}
	a := NewActivities(testConfig("", "", ""), zap.NewNop(), store)

	err := a.PersistReport(context.Background(), ReportRecord{
		RunID:       "run-9",
		Query:       "q",
		Report:      "r",
		CompletedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, store.reports, 1)
	assert.Equal(t, "run-9", store.reports[0].RunID)

	err = a.PersistAssessment(context.Background(), AssessmentRecord{RunID: "run-9", Iteration: 1})
	require.NoError(t, err)
	assert.Len(t, store.assessments, 1)
}

func TestPersistIsNoOpWithoutStore(t *testing.T) {
	a := newTestActivities(testConfig("", "", ""))
	assert.NoError(t, a.PersistReport(context.Background(), ReportRecord{RunID: "run-1"}))
	assert.NoError(t, a.PersistDocuments(context.Background(), PersistDocumentsInput{RunID: "run-1"}))
}

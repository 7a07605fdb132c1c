package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/activities"
	"github.com/periscope-intel/periscope/go/researcher/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewStoreFromDB(sqlx.NewDb(mockDB, "sqlmock"), zap.NewNop()), mock
}

func TestSaveReport(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO research_reports").
		WithArgs("run-1", "org-1", "what happened", "narrative",
			sqlmock.AnyArg(), sqlmock.AnyArg(), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveReport(context.Background(), activities.ReportRecord{
		RunID:          "run-1",
		OrganizationID: "org-1",
		Query:          "what happened",
		Report:         "narrative",
		Answers: []models.ValidatedAnswer{
			{SubQuestion: "q", AnswerText: "a", Confidence: 0.8},
		},
		CompletedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAssessment(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO quality_assessments").
		WithArgs("run-2", "org-1", 1, models.DecisionSearchGaps, false,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveAssessment(context.Background(), activities.AssessmentRecord{
		RunID:          "run-2",
		OrganizationID: "org-1",
		Iteration:      1,
		Assessment: models.QualityAssessment{
			TotalDocuments: 3,
			Decision:       models.DecisionSearchGaps,
		},
		AssessedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendDocumentsTransactional(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO corpus_documents").
		WithArgs("run-3", "https://example.com/a", "A", "news", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO corpus_documents").
		WithArgs("run-3", "https://example.com/b", "B", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.AppendDocuments(context.Background(), "run-3", []activities.DocumentRecord{
		{URL: "https://example.com/a", Title: "A", Source: "news"},
		{URL: "https://example.com/b", Title: "B"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendDocumentsEmptyIsNoop(t *testing.T) {
	store, mock := newMockStore(t)
	err := store.AppendDocuments(context.Background(), "run-4", nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReportNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT run_id, organization_id, query, report, fallback, completed_at").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}))

	report, err := store.GetReport(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, report)
}

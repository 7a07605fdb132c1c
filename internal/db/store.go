// Package db persists research reports, quality assessments and corpus
// documents to Postgres. Writes happen from activity code only; workflows
// never touch the database directly.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/activities"
)

// Config holds database configuration.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// Store is the Postgres-backed implementation of activities.Store.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore opens a connection pool and verifies connectivity.
func NewStore(cfg *Config, logger *zap.Logger) (*Store, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database store initialized",
		zap.String("host", cfg.Host),
		zap.Int("max_connections", cfg.MaxConnections),
	)
	return &Store{db: db, logger: logger}, nil
}

// NewStoreFromDB wraps an existing connection. Used by tests.
func NewStoreFromDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveReport upserts a finished research report keyed by run ID. A retried
// persist activity overwrites its own earlier write rather than duplicating.
func (s *Store) SaveReport(ctx context.Context, report activities.ReportRecord) error {
	answers, err := json.Marshal(report.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	unanswered, err := json.Marshal(report.Unanswered)
	if err != nil {
		return fmt.Errorf("marshal unanswered: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO research_reports (run_id, organization_id, query, report, answers, unanswered, fallback, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO UPDATE SET
			report = EXCLUDED.report,
			answers = EXCLUDED.answers,
			unanswered = EXCLUDED.unanswered,
			fallback = EXCLUDED.fallback,
			completed_at = EXCLUDED.completed_at`,
		report.RunID, report.OrganizationID, report.Query, report.Report,
		answers, unanswered, report.Fallback, report.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	s.logger.Debug("Report saved", zap.String("run_id", report.RunID))
	return nil
}

// SaveAssessment appends one quality gate verdict. Iterations of the same run
// are distinct rows.
func (s *Store) SaveAssessment(ctx context.Context, record activities.AssessmentRecord) error {
	assessment, err := json.Marshal(record.Assessment)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quality_assessments (run_id, organization_id, iteration, decision, forced_proceed, assessment, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.RunID, record.OrganizationID, record.Iteration,
		record.Assessment.Decision, record.ForcedProceed, assessment, record.AssessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

// AppendDocuments adds corpus documents for a run inside one transaction.
// Re-delivered documents are ignored on the (run_id, url) key.
func (s *Store) AppendDocuments(ctx context.Context, runID string, docs []activities.DocumentRecord) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, doc := range docs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO corpus_documents (run_id, url, title, source, published_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (run_id, url) DO NOTHING`,
			runID, doc.URL, doc.Title, doc.Source, doc.PublishedAt,
		); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit documents: %w", err)
	}
	s.logger.Debug("Documents appended",
		zap.String("run_id", runID),
		zap.Int("count", len(docs)),
	)
	return nil
}

// StoredReport is one persisted report row.
type StoredReport struct {
	RunID          string    `db:"run_id"`
	OrganizationID string    `db:"organization_id"`
	Query          string    `db:"query"`
	Report         string    `db:"report"`
	Fallback       bool      `db:"fallback"`
	CompletedAt    time.Time `db:"completed_at"`
}

// GetReport fetches a persisted report by run ID. Returns (nil, nil) when no
// report exists yet.
func (s *Store) GetReport(ctx context.Context, runID string) (*StoredReport, error) {
	var report StoredReport
	err := s.db.GetContext(ctx, &report, `
		SELECT run_id, organization_id, query, report, fallback, completed_at
		FROM research_reports WHERE run_id = $1`, runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select report: %w", err)
	}
	return &report, nil
}

package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/dedup"
	"github.com/periscope-intel/periscope/go/researcher/internal/metrics"
	"github.com/periscope-intel/periscope/go/researcher/internal/models"
)

// ReportRecord is a finished research report ready for storage.
type ReportRecord struct {
	RunID          string                   `json:"run_id"`
	OrganizationID string                   `json:"organization_id,omitempty"`
	Query          string                   `json:"query"`
	Report         string                   `json:"report"`
	Answers        []models.ValidatedAnswer `json:"answers"`
	Unanswered     []string                 `json:"unanswered,omitempty"`
	Fallback       bool                     `json:"fallback,omitempty"`
	CompletedAt    time.Time                `json:"completed_at"`
}

// AssessmentRecord is one quality gate verdict ready for storage.
type AssessmentRecord struct {
	RunID          string                   `json:"run_id"`
	OrganizationID string                   `json:"organization_id,omitempty"`
	Iteration      int                      `json:"iteration"`
	Assessment     models.QualityAssessment `json:"assessment"`
	ForcedProceed  bool                     `json:"forced_proceed,omitempty"`
	AssessedAt     time.Time                `json:"assessed_at"`
}

// DocumentRecord is one corpus document ready for storage.
type DocumentRecord struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Source      string     `json:"source,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// PersistReport writes the finished report. A nil store makes this a no-op,
// which keeps the workflow usable in dry-run and test setups.
func (a *Activities) PersistReport(ctx context.Context, record ReportRecord) error {
	if a.store == nil {
		return nil
	}
	if err := a.store.SaveReport(ctx, record); err != nil {
		metrics.CorpusWrites.WithLabelValues("report", "error").Inc()
		a.logger.Error("PersistReport: store write failed",
			zap.String("run_id", record.RunID),
			zap.Error(err),
		)
		return err
	}
	metrics.CorpusWrites.WithLabelValues("report", "ok").Inc()
	return nil
}

// PersistAssessment writes one quality gate verdict. No-op on a nil store.
func (a *Activities) PersistAssessment(ctx context.Context, record AssessmentRecord) error {
	if a.store == nil {
		return nil
	}
	if err := a.store.SaveAssessment(ctx, record); err != nil {
		metrics.CorpusWrites.WithLabelValues("assessment", "error").Inc()
		a.logger.Error("PersistAssessment: store write failed",
			zap.String("run_id", record.RunID),
			zap.Error(err),
		)
		return err
	}
	metrics.CorpusWrites.WithLabelValues("assessment", "ok").Inc()
	return nil
}

// PersistDocumentsInput appends gap-fill documents to a run's stored corpus.
type PersistDocumentsInput struct {
	RunID     string            `json:"run_id"`
	Documents []models.Document `json:"documents"`
}

// PersistDocuments appends corpus documents for a run. No-op on a nil store.
func (a *Activities) PersistDocuments(ctx context.Context, in PersistDocumentsInput) error {
	if a.store == nil || len(in.Documents) == 0 {
		return nil
	}
	var index dedup.Index
	if a.dedupFactory != nil && in.RunID != "" {
		index = a.dedupFactory(in.RunID)
	}
	records := make([]DocumentRecord, 0, len(in.Documents))
	for _, d := range in.Documents {
		if index != nil {
			added, err := index.Add(ctx, d.URL)
			if err != nil {
				// Index trouble never blocks persistence; the table's
				// conflict clause still catches duplicates.
				a.logger.Warn("PersistDocuments: dedup index unavailable",
					zap.String("run_id", in.RunID),
					zap.Error(err),
				)
				index = nil
			} else if !added {
				continue
			}
		}
		records = append(records, DocumentRecord{
			URL:         d.URL,
			Title:       d.Title,
			Source:      d.Source,
			PublishedAt: d.PublishedAt,
		})
	}
	if len(records) == 0 {
		return nil
	}
	if err := a.store.AppendDocuments(ctx, in.RunID, records); err != nil {
		metrics.CorpusWrites.WithLabelValues("documents", "error").Inc()
		a.logger.Error("PersistDocuments: store write failed",
			zap.String("run_id", in.RunID),
			zap.Error(err),
		)
		return err
	}
	metrics.CorpusWrites.WithLabelValues("documents", "ok").Inc()
	return nil
}

// Package schedules manages recurring research runs as Temporal schedules.
// Temporal is the source of truth; there is no shadow table to drift out of
// sync with it.
package schedules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/workflows"
)

var (
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrIntervalTooShort      = errors.New("cron interval too short")
	ErrInvalidTimezone       = errors.New("invalid timezone")
	ErrMissingQuery          = errors.New("query text is required")
)

// scheduleClient is the slice of Temporal's schedule client the manager uses.
type scheduleClient interface {
	Create(ctx context.Context, options client.ScheduleOptions) (client.ScheduleHandle, error)
	GetHandle(ctx context.Context, scheduleID string) client.ScheduleHandle
}

// Config bounds what callers may schedule.
type Config struct {
	// MinIntervalMinutes rejects cron expressions that fire more often than
	// this. Zero disables the check.
	MinIntervalMinutes int
}

// CreateInput describes one recurring research run.
type CreateInput struct {
	Name           string                  `json:"name"`
	CronExpression string                  `json:"cron_expression"`
	Timezone       string                  `json:"timezone,omitempty"`
	Research       workflows.ResearchInput `json:"research"`
}

// Schedule is the manager's view of a created schedule.
type Schedule struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CronExpression string    `json:"cron_expression"`
	Timezone       string    `json:"timezone"`
	NextRunAt      time.Time `json:"next_run_at"`
}

// Manager creates and controls recurring research schedules.
type Manager struct {
	schedules scheduleClient
	taskQueue string
	config    Config
	logger    *zap.Logger
	parser    cron.Parser
}

// NewManager wires a schedule manager against a Temporal client.
func NewManager(tc client.Client, taskQueue string, cfg Config, logger *zap.Logger) *Manager {
	return newManager(tc.ScheduleClient(), taskQueue, cfg, logger)
}

func newManager(sc scheduleClient, taskQueue string, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		schedules: sc,
		taskQueue: taskQueue,
		config:    cfg,
		logger:    logger,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Create registers a recurring research run. The research input is validated
// the same way the API validates one-off runs: the query must be non-empty.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Schedule, error) {
	if in.Research.Query == "" {
		return nil, ErrMissingQuery
	}

	sched, err := m.parser.Parse(in.CronExpression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCronExpression, err)
	}
	if !m.validateMinInterval(sched) {
		return nil, fmt.Errorf("%w: must be at least %d minutes", ErrIntervalTooShort, m.config.MinIntervalMinutes)
	}

	timezone := in.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	tz, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimezone, timezone)
	}

	scheduleID := "research-schedule-" + uuid.NewString()
	_, err = m.schedules.Create(ctx, client.ScheduleOptions{
		ID: scheduleID,
		Spec: client.ScheduleSpec{
			CronExpressions: []string{in.CronExpression},
			TimeZoneName:    timezone,
		},
		Action: &client.ScheduleWorkflowAction{
			// Workflow ID left to Temporal so every firing gets its own
			// run history.
			Workflow:  workflows.ResearchWorkflow,
			TaskQueue: m.taskQueue,
			Args:      []interface{}{in.Research},
			Memo: map[string]interface{}{
				"schedule_name":   in.Name,
				"organization_id": in.Research.OrganizationID,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	m.logger.Info("Research schedule created",
		zap.String("schedule_id", scheduleID),
		zap.String("cron", in.CronExpression),
		zap.String("organization_id", in.Research.OrganizationID),
	)
	return &Schedule{
		ID:             scheduleID,
		Name:           in.Name,
		CronExpression: in.CronExpression,
		Timezone:       timezone,
		NextRunAt:      sched.Next(time.Now().In(tz)),
	}, nil
}

// Pause stops future firings without losing the schedule.
func (m *Manager) Pause(ctx context.Context, scheduleID string) error {
	return m.schedules.GetHandle(ctx, scheduleID).Pause(ctx, client.SchedulePauseOptions{
		Note: "paused via API",
	})
}

// Resume re-enables a paused schedule.
func (m *Manager) Resume(ctx context.Context, scheduleID string) error {
	return m.schedules.GetHandle(ctx, scheduleID).Unpause(ctx, client.ScheduleUnpauseOptions{
		Note: "resumed via API",
	})
}

// Delete removes the schedule entirely.
func (m *Manager) Delete(ctx context.Context, scheduleID string) error {
	return m.schedules.GetHandle(ctx, scheduleID).Delete(ctx)
}

// validateMinInterval measures the gap between the next two firings.
func (m *Manager) validateMinInterval(sched cron.Schedule) bool {
	if m.config.MinIntervalMinutes <= 0 {
		return true
	}
	next1 := sched.Next(time.Now().UTC())
	next2 := sched.Next(next1)
	return next2.Sub(next1) >= time.Duration(m.config.MinIntervalMinutes)*time.Minute
}

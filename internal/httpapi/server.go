// Package httpapi exposes the research pipeline over HTTP: start a research
// run, run a corpus through the quality gate, fetch a finished report.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/periscope-intel/periscope/go/researcher/internal/db"
	"github.com/periscope-intel/periscope/go/researcher/internal/schedules"
	"github.com/periscope-intel/periscope/go/researcher/internal/workflows"
)

// workflowStarter is the slice of the Temporal client the API needs.
type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// reportFetcher reads persisted reports. Nil disables the report endpoint's
// storage lookup.
type reportFetcher interface {
	GetReport(ctx context.Context, runID string) (*db.StoredReport, error)
}

// Server routes API requests to Temporal workflows and the report store.
type Server struct {
	temporal  workflowStarter
	store     reportFetcher
	taskQueue string
	defaults  workflows.Defaults
	schedules *schedules.Manager
	logger    *zap.Logger
}

// NewServer wires the API. store may be nil when persistence is disabled.
func NewServer(temporal workflowStarter, store reportFetcher, taskQueue string, logger *zap.Logger) *Server {
	return &Server{
		temporal:  temporal,
		store:     store,
		taskQueue: taskQueue,
		logger:    logger,
	}
}

// SetScheduleManager enables the recurring-run endpoints.
func (s *Server) SetScheduleManager(m *schedules.Manager) {
	s.schedules = m
}

// SetWorkflowDefaults installs the config-derived fallbacks stamped onto
// workflow inputs whose knobs the caller left unset.
func (s *Server) SetWorkflowDefaults(d workflows.Defaults) {
	s.defaults = d
}

// RegisterRoutes mounts the API endpoints on a mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/research", s.handleResearch)
	mux.HandleFunc("/api/research/", s.handleGetResearch)
	mux.HandleFunc("/api/quality-gate", s.handleQualityGate)
	mux.HandleFunc("/api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("/api/schedules/", s.handleScheduleAction)
}

type startResearchResponse struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
}

// handleResearch starts a research workflow and returns immediately with the
// workflow identifiers. Missing query text is the one hard 400.
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var input workflows.ResearchInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(input.Query) == "" {
		s.writeError(w, http.StatusBadRequest, "query text is required")
		return
	}
	s.defaults.ApplyResearch(&input)

	workflowID := "research-" + uuid.NewString()
	run, err := s.temporal.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.taskQueue,
	}, workflows.ResearchWorkflow, input)
	if err != nil {
		s.logger.Error("Failed to start research workflow", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to start research run")
		return
	}

	s.logger.Info("Research run started",
		zap.String("workflow_id", run.GetID()),
		zap.String("query", input.Query),
	)
	s.writeJSON(w, http.StatusAccepted, startResearchResponse{
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
		Status:     "running",
	})
}

type reportResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
	Query      string `json:"query,omitempty"`
	Report     string `json:"report,omitempty"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// handleGetResearch returns the persisted report for a run, or its running
// status when no report exists yet.
func (s *Server) handleGetResearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	workflowID := strings.TrimPrefix(r.URL.Path, "/api/research/")
	if workflowID == "" || strings.Contains(workflowID, "/") {
		s.writeError(w, http.StatusBadRequest, "workflow id is required")
		return
	}
	if s.store == nil {
		s.writeError(w, http.StatusNotImplemented, "report storage is disabled")
		return
	}

	stored, err := s.store.GetReport(r.Context(), workflowID)
	if err != nil {
		s.logger.Error("Report lookup failed", zap.String("workflow_id", workflowID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "report lookup failed")
		return
	}
	if stored == nil {
		s.writeJSON(w, http.StatusOK, reportResponse{
			WorkflowID: workflowID,
			Status:     "running",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, reportResponse{
		WorkflowID: workflowID,
		Status:     "completed",
		Query:      stored.Query,
		Report:     stored.Report,
		Fallback:   stored.Fallback,
	})
}

// handleQualityGate runs a corpus through the gate synchronously: callers
// need the decision before they can act on the corpus.
func (s *Server) handleQualityGate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var input workflows.QualityGateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.defaults.ApplyQualityGate(&input)

	workflowID := "quality-gate-" + uuid.NewString()
	run, err := s.temporal.ExecuteWorkflow(r.Context(), client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.taskQueue,
	}, workflows.QualityGateWorkflow, input)
	if err != nil {
		s.logger.Error("Failed to start quality gate workflow", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to start quality gate")
		return
	}

	var result workflows.QualityGateResult
	if err := run.Get(r.Context(), &result); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusGatewayTimeout, "quality gate timed out")
			return
		}
		s.logger.Error("Quality gate workflow failed",
			zap.String("workflow_id", workflowID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "quality gate failed")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleCreateSchedule registers a recurring research run.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.schedules == nil {
		s.writeError(w, http.StatusNotImplemented, "scheduling is disabled")
		return
	}

	var input schedules.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.defaults.ApplyResearch(&input.Research)
	created, err := s.schedules.Create(r.Context(), input)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, schedules.ErrInvalidCronExpression) &&
			!errors.Is(err, schedules.ErrIntervalTooShort) &&
			!errors.Is(err, schedules.ErrInvalidTimezone) &&
			!errors.Is(err, schedules.ErrMissingQuery) {
			status = http.StatusInternalServerError
			s.logger.Error("Failed to create schedule", zap.Error(err))
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

// handleScheduleAction routes pause/resume/delete for one schedule.
func (s *Server) handleScheduleAction(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		s.writeError(w, http.StatusNotImplemented, "scheduling is disabled")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	scheduleID, action, _ := strings.Cut(rest, "/")
	if scheduleID == "" {
		s.writeError(w, http.StatusBadRequest, "schedule id is required")
		return
	}

	var err error
	switch {
	case r.Method == http.MethodDelete && action == "":
		err = s.schedules.Delete(r.Context(), scheduleID)
	case r.Method == http.MethodPost && action == "pause":
		err = s.schedules.Pause(r.Context(), scheduleID)
	case r.Method == http.MethodPost && action == "resume":
		err = s.schedules.Resume(r.Context(), scheduleID)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err != nil {
		s.logger.Error("Schedule action failed",
			zap.String("schedule_id", scheduleID),
			zap.String("action", action),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "schedule action failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

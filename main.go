package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/periscope-intel/periscope/go/researcher/internal/activities"
	"github.com/periscope-intel/periscope/go/researcher/internal/config"
	"github.com/periscope-intel/periscope/go/researcher/internal/db"
	"github.com/periscope-intel/periscope/go/researcher/internal/dedup"
	"github.com/periscope-intel/periscope/go/researcher/internal/health"
	"github.com/periscope-intel/periscope/go/researcher/internal/httpapi"
	"github.com/periscope-intel/periscope/go/researcher/internal/quality"
	"github.com/periscope-intel/periscope/go/researcher/internal/schedules"
	"github.com/periscope-intel/periscope/go/researcher/internal/temporalzap"
	"github.com/periscope-intel/periscope/go/researcher/internal/tracing"
	"github.com/periscope-intel/periscope/go/researcher/internal/workflows"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Observability.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Observability.Tracing.Enabled,
		ServiceName:  cfg.Observability.Tracing.ServiceName,
		OTLPEndpoint: cfg.Observability.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	// Persistence is best-effort: a missing database disables report storage
	// and the report lookup endpoint, it never blocks research runs.
	var store *db.Store
	store, err = db.NewStore(&db.Config{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	}, logger)
	if err != nil {
		logger.Warn("Database unavailable, persistence disabled", zap.Error(err))
		store = nil
	} else {
		defer store.Close()
	}

	var actStore activities.Store
	if store != nil {
		actStore = store
	}
	acts := activities.NewActivities(cfg, logger, actStore)

	// Per-run seen-URL sets live in Redis so repeated gate iterations do not
	// re-append documents. Without Redis the store's conflict clause still
	// keeps the table clean.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	pingCtx, cancelPing := context.WithTimeout(ctx, 3*time.Second)
	redisUp := redisClient.Ping(pingCtx).Err() == nil
	cancelPing()
	if redisUp {
		dedupTTL := cfg.Redis.DedupTTL
		acts.SetDedupFactory(func(runID string) dedup.Index {
			return dedup.NewRedisIndex(redisClient, runID, dedupTTL, logger)
		})
		logger.Info("Redis dedup index enabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("Redis unavailable, per-run dedup index disabled", zap.String("addr", cfg.Redis.Addr))
	}

	if err := config.Watch(logger, func(newCfg *config.Config) {
		acts.UpdateConfig(newCfg)
	}); err != nil {
		logger.Warn("Config watcher not started", zap.Error(err))
	}

	hm := health.NewManager(logger)
	if store != nil {
		hm.Register("postgres", store.Ping)
	}
	if redisUp {
		hm.Register("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	hm.Register("llm-service", sidecarCheck(cfg.Services.LLMURL))
	hm.Register("search-service", sidecarCheck(cfg.Services.SearchURL))

	// Metrics on their own port, like every other service in the fleet.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := ":" + strconv.Itoa(cfg.Observability.MetricsPort)
		logger.Info("Metrics server listening", zap.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	temporalClient, err := dialTemporal(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ResearchWorkflow)
	w.RegisterWorkflow(workflows.QualityGateWorkflow)
	registerActivities(w, acts)

	go func() {
		logger.Info("Temporal worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Error("Temporal worker exited with error", zap.Error(err))
		}
	}()

	// API and health share one server; readiness stays useful because the
	// checks run on demand, not on a schedule.
	mux := http.NewServeMux()
	hm.RegisterRoutes(mux)
	var api *httpapi.Server
	if store != nil {
		api = httpapi.NewServer(temporalClient, store, cfg.Temporal.TaskQueue, logger)
	} else {
		api = httpapi.NewServer(temporalClient, nil, cfg.Temporal.TaskQueue, logger)
	}
	api.SetScheduleManager(schedules.NewManager(temporalClient, cfg.Temporal.TaskQueue,
		schedules.Config{MinIntervalMinutes: 15}, logger))
	api.SetWorkflowDefaults(workflows.Defaults{
		MaxRetryRounds:      cfg.Retry.MaxRounds,
		TermsPerSubQuestion: cfg.Search.TermsPerSubQuestion,
		RetryBudgetSeconds:  int(cfg.Retry.WallClockBudget.Seconds()),
		MaxGateIterations:   cfg.Quality.MaxIterations,
		GapFillMinYield:     cfg.Quality.GapFillMinYield,
		DisableJudge:        !cfg.Quality.JudgeEnabled,
		Thresholds: quality.Thresholds{
			MinDocuments:     cfg.Quality.MinDocuments,
			RecencyWindow:    cfg.Quality.RecencyWindow,
			TopCompetitors:   cfg.Quality.TopCompetitors,
			LowCoverageFloor: cfg.Quality.LowCoverageFloor,
		},
	})
	api.RegisterRoutes(mux)

	apiServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Service.APIPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // quality gate endpoint waits for the workflow
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("API server listening", zap.String("address", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down researcher service")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", zap.Error(err))
	}
	w.Stop()
}

// registerActivities binds every activity under the name the workflows call
// it by. The explicit names keep workflow history stable across refactors.
func registerActivities(w worker.Worker, acts *activities.Activities) {
	register := func(fn interface{}, name string) {
		w.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	}
	register(acts.DecomposeQuery, "DecomposeQuery")
	register(acts.SearchTerm, "SearchTerm")
	register(acts.ValidateAnswer, "ValidateAnswer")
	register(acts.GenerateAlternativeTerms, "GenerateAlternativeTerms")
	register(acts.DiscoverForGaps, "DiscoverForGaps")
	register(acts.FilterRelevance, "FilterRelevance")
	register(acts.ReviewCorpus, "ReviewCorpus")
	register(acts.SynthesizeReport, "SynthesizeReport")
	register(acts.FetchTargets, "FetchTargets")
	register(acts.PersistReport, "PersistReport")
	register(acts.PersistAssessment, "PersistAssessment")
	register(acts.PersistDocuments, "PersistDocuments")
}

// dialTemporal retries until the Temporal frontend answers; the worker is
// useless without it and crash-looping just loses the retry backoff.
func dialTemporal(cfg *config.Config, logger *zap.Logger) (client.Client, error) {
	var lastErr error
	for attempt := 1; attempt <= 30; attempt++ {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    temporalzap.New(logger),
		})
		if err == nil {
			return c, nil
		}
		lastErr = err
		delay := time.Duration(attempt) * time.Second
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.Duration("sleep", delay),
			zap.Error(err),
		)
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("temporal dial: %w", lastErr)
}

func sidecarCheck(baseURL string) health.Check {
	httpClient := &http.Client{Timeout: 3 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%s returned %d", baseURL, resp.StatusCode)
		}
		return nil
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator wires the routing components into a running
// service: configuration, persistence, background loops, and the HTTP
// surface.
package orchestrator

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/lvruyi0102/nova-mind-router/orchestrator/backend"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/complexity"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/cost"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/dispatch"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/guardrail"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/retry"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/selection"
	"github.com/lvruyi0102/nova-mind-router/shared/logger"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nova_router_requests_total",
			Help: "Total number of generation requests processed by the router",
		},
		[]string{"status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nova_router_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"mode"},
	)
	promBackendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nova_router_backend_calls_total",
			Help: "Total number of backend invocations",
		},
		[]string{"backend", "status"},
	)
	promCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nova_router_cache_hits_total",
			Help: "Total number of requests served from the response cache",
		},
	)
	promDeferredRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nova_router_deferred_requests_total",
			Help: "Total number of background requests parked in the retry queue",
		},
	)
	promBudgetPercentUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nova_router_budget_percent_used",
			Help: "Percentage of the monthly budget consumed",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promBackendCalls)
	prometheus.MustRegister(promCacheHits)
	prometheus.MustRegister(promDeferredRequests)
	prometheus.MustRegister(promBudgetPercentUsed)
}

// Service holds the wired router components.
type Service struct {
	cfg Config

	registry   *backend.Registry
	classifier *complexity.Classifier
	objectives *selection.Store
	strategy   *selection.Strategy
	validator  *guardrail.Validator
	ledger     *cost.Ledger
	budget     *cost.BudgetController
	optimizer  *cost.Optimizer
	queue      *retry.Queue
	sweeper    *retry.Sweeper
	dispatcher *dispatch.Dispatcher

	costHandler *cost.Handler
	serviceLog  *logger.Logger
	startedAt   time.Time

	db          *sql.DB
	redisClient *redis.Client
}

// NewService builds the component graph from configuration. Persistence
// outages degrade to in-memory storage with a warning; the service still
// starts.
func NewService(cfg Config) (*Service, error) {
	s := &Service{
		cfg:        cfg,
		serviceLog: logger.New("router"),
		startedAt:  time.Now(),
	}

	var costRepo cost.Repository
	var retryRepo retry.Repository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err == nil {
			err = db.Ping()
		}
		if err == nil {
			pgCost := cost.NewPostgresRepository(db)
			pgRetry := retry.NewPostgresRepository(db)
			if err = pgCost.EnsureSchema(context.Background()); err == nil {
				err = pgRetry.EnsureSchema(context.Background())
			}
			if err == nil {
				s.db = db
				costRepo = pgCost
				retryRepo = pgRetry
			}
		}
		if err != nil {
			s.serviceLog.Warn("", "database unreachable, using in-memory persistence", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	if costRepo == nil {
		costRepo = cost.NewMemoryRepository()
	}
	if retryRepo == nil {
		retryRepo = retry.NewMemoryRepository()
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			s.serviceLog.Warn("", "redis unreachable, response cache disabled", map[string]interface{}{
				"error": err.Error(),
			})
			_ = client.Close()
		} else {
			s.redisClient = client
		}
	}

	s.registry = backend.NewRegistry()
	for _, bc := range cfg.Backends {
		desc := bc.Descriptor()
		invoker := backend.NewHTTPInvoker(desc, cfg.AttemptTimeout)
		if err := s.registry.Register(desc, invoker); err != nil {
			return nil, err
		}
	}

	s.classifier = complexity.New(complexity.DefaultConfig())
	s.objectives = selection.NewStore(selection.Objective(cfg.InitialObjective))
	s.strategy = selection.NewStrategy(s.registry, nil)

	policy := guardrail.DefaultPolicy()
	if cfg.GuardrailPolicyPath != "" {
		loaded, err := guardrail.LoadPolicy(cfg.GuardrailPolicyPath)
		if err != nil {
			return nil, err
		}
		policy = loaded
	}
	s.validator = guardrail.NewValidator(policy, s.registry, logger.New("guardrail"))

	s.ledger = cost.NewLedger(costRepo, cost.WithRetentionHorizon(cfg.RetentionHorizon))
	budget, err := cost.NewBudgetController(s.ledger, cfg.Budget)
	if err != nil {
		return nil, err
	}
	s.budget = budget
	s.optimizer = cost.NewOptimizer(s.budget, s.objectives, nil)

	s.queue = retry.NewQueue(retryRepo)
	s.dispatcher = dispatch.NewDispatcher(
		s.classifier, s.strategy, s.validator, s.registry,
		s.objectives, s.ledger, s.queue,
		dispatch.NewResponseCache(s.redisClient, cfg.CacheTTL, nil),
		dispatch.WithAttemptTimeout(cfg.AttemptTimeout),
	)
	s.sweeper = retry.NewSweeper(retryRepo, s.dispatcher.RetryExecutor(),
		retry.WithSweeperAlerter(cost.NewLogAlerter(nil)))

	s.costHandler = cost.NewHandler(s.ledger, s.budget)
	return s, nil
}

// Start launches the background loops: health probing, retry sweeping,
// and the hourly budget check and objective adjustment cycle.
func (s *Service) Start(ctx context.Context) {
	s.registry.StartPeriodicProbe(ctx, s.cfg.ProbeInterval)
	s.sweeper.StartPeriodicSweep(ctx, s.cfg.SweepInterval)

	go func() {
		ticker := time.NewTicker(s.cfg.BudgetCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.budgetCycle(ctx)
			}
		}
	}()
}

// budgetCycle checks the budget, raises due alerts, exports the gauge,
// and lets the optimizer republish the objective.
func (s *Service) budgetCycle(ctx context.Context) {
	status, err := s.budget.CheckOnce(ctx)
	if err != nil {
		s.serviceLog.ErrorWithErr("", "budget check failed", err, nil)
		return
	}
	promBudgetPercentUsed.Set(status.PercentUsed)

	if _, err := s.optimizer.AdjustOnce(ctx); err != nil {
		s.serviceLog.ErrorWithErr("", "objective adjustment failed", err, nil)
	}
}

// Router assembles the HTTP routes.
func (s *Service) Router() http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", s.healthHandler).Methods("GET")

	// Metrics endpoints
	r.HandleFunc("/metrics", s.metricsHandler).Methods("GET") // JSON metrics
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	// Main dispatch endpoint
	r.HandleFunc("/api/v1/dispatch", s.dispatchHandler).Methods("POST")

	// Backend management
	r.HandleFunc("/api/v1/backends", s.listBackendsHandler).Methods("GET")
	r.HandleFunc("/api/v1/backends", s.registerBackendHandler).Methods("POST")
	r.HandleFunc("/api/v1/backends/probe", s.probeAllHandler).Methods("POST")
	r.HandleFunc("/api/v1/backends/{id}", s.deactivateBackendHandler).Methods("DELETE")
	r.HandleFunc("/api/v1/backends/{id}/probe", s.probeBackendHandler).Methods("POST")

	// Objective management
	r.HandleFunc("/api/v1/objective", s.getObjectiveHandler).Methods("GET")
	r.HandleFunc("/api/v1/objective", s.setObjectiveHandler).Methods("PUT")

	// Guardrail policy
	r.HandleFunc("/api/v1/guardrail/policy", s.getGuardrailPolicyHandler).Methods("GET")
	r.HandleFunc("/api/v1/guardrail/policy", s.reloadGuardrailPolicyHandler).Methods("PUT")

	// Retry queue
	r.HandleFunc("/api/v1/retries", s.listRetriesHandler).Methods("GET")
	r.HandleFunc("/api/v1/retries/sweep", s.sweepRetriesHandler).Methods("POST")
	r.HandleFunc("/api/v1/retries/{id}", s.getRetryHandler).Methods("GET")
	r.HandleFunc("/api/v1/retries/{id}/history", s.retryHistoryHandler).Methods("GET")
	r.HandleFunc("/api/v1/retries/{id}/resolve", s.resolveRetryHandler).Methods("POST")
	r.HandleFunc("/api/v1/retries/{id}/fail", s.failRetryHandler).Methods("POST")

	// Human-readable reports
	r.HandleFunc("/api/v1/reports/health", s.healthReportHandler).Methods("GET")
	r.HandleFunc("/api/v1/reports/cost", s.costReportHandler).Methods("GET")
	r.HandleFunc("/api/v1/reports/guardrail", s.guardrailReportHandler).Methods("GET")

	// Budget and usage reporting
	s.costHandler.RegisterRoutes(r)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// Close releases persistence connections.
func (s *Service) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.redisClient != nil {
		_ = s.redisClient.Close()
	}
}

// Run is the service entrypoint.
func Run() {
	log.Println("Starting NovaMind router...")

	cfg, err := LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	service, err := NewService(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer service.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	log.Printf("NovaMind router listening on port %s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, service.Router()))
}

// Package main is the entry point for the auto-compounding harvest engine: it
// wires strategies to their farm and router adapters, schedules keeper
// harvests, and serves the operations API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/autocompounder/internal/circuitbreaker"
	"github.com/yourorg/autocompounder/internal/config"
	"github.com/yourorg/autocompounder/internal/export"
	"github.com/yourorg/autocompounder/internal/keeper"
	"github.com/yourorg/autocompounder/internal/model"
	"github.com/yourorg/autocompounder/internal/otel"
	"github.com/yourorg/autocompounder/internal/recorder"
	"github.com/yourorg/autocompounder/internal/strategy"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server is the running service instance.
type Server struct {
	cfg        config.Config
	apiToken   string
	strategies map[string]*strategy.Strategy
	keeper     *keeper.Keeper
	exporter   *export.Exporter
	recorder   recorder.Recorder
	metrics    *serverMetrics
	rateLimit  *rate.Limiter
	server     *http.Server
}

// serverMetrics holds Prometheus metrics for the engine
type serverMetrics struct {
	harvestCounter  *prometheus.CounterVec
	harvestDuration *prometheus.HistogramVec
	eventCounter    *prometheus.CounterVec
	totalControlled *prometheus.GaugeVec
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		harvestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocompounder_harvests_total",
				Help: "Total number of harvest attempts",
			},
			[]string{"strategy", "status"},
		),
		harvestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autocompounder_harvest_duration_seconds",
				Help:    "Harvest duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
		eventCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocompounder_events_total",
				Help: "Audit events emitted by strategies",
			},
			[]string{"strategy", "kind"},
		),
		totalControlled: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "autocompounder_total_controlled",
				Help: "Strategy-controlled value in want units",
			},
			[]string{"strategy"},
		),
	}

	prometheus.MustRegister(
		m.harvestCounter,
		m.harvestDuration,
		m.eventCounter,
		m.totalControlled,
	)

	return m
}

// Record updates Prometheus from the audit event stream. serverMetrics is a
// model.Sink so strategies publish into it directly.
func (m *serverMetrics) Record(e model.Event) {
	m.eventCounter.WithLabelValues(e.Strategy, string(e.Kind)).Inc()
	if e.TotalControlled != nil {
		total, _ := new(big.Float).SetInt(e.TotalControlled).Float64()
		m.totalControlled.WithLabelValues(e.Strategy).Set(total)
	}
}

// main is the entry point for the application
func main() {
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	server, err := NewServer(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize server: %v", err)
	}
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// NewServer wires every collaborator: persistence, export, metrics, the
// strategies themselves, and the keeper schedule.
func NewServer(cfg config.Config) (*Server, error) {
	var rec recorder.Recorder = recorder.Noop{}
	if cfg.SQLitePath != "" {
		sqliteRec, err := recorder.NewSQLiteRecorder(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open recorder: %w", err)
		}
		rec = sqliteRec
	}

	var signer *export.ReceiptSigner
	if cfg.SigningKey != "" {
		s, err := export.NewReceiptSigner(cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("receipt signer: %w", err)
		}
		signer = s
	}

	exporter := export.NewExporter(export.ExporterConfig{
		Enabled:        cfg.WebhookURL != "",
		BatchSize:      getEnvInt("EXPORT_BATCH_SIZE", 50),
		ExportInterval: getEnvOrDefault("EXPORT_INTERVAL", "1m"),
		WebhookURL:     cfg.WebhookURL,
		WebhookAPIKey:  cfg.WebhookAPIKey,
	}, signer)

	metrics := registerMetrics()

	strategies, err := buildStrategies(cfg)
	if err != nil {
		return nil, err
	}

	manager, err := config.Address(cfg.File.Roles.Manager)
	if err != nil {
		return nil, fmt.Errorf("manager role: %w", err)
	}

	k := keeper.New(manager, cfg.MinCallReward, cfg.RequestTimeout)
	for i, sc := range cfg.File.Strategies {
		strat := strategies[sc.Name]

		strat.AddSink(metrics)
		strat.AddSink(exporter)
		strat.AddSink(model.SinkFunc(func(e model.Event) {
			if err := rec.Record(e); err != nil {
				logrus.Errorf("Failed to record event: %v", err)
			}
		}))

		breaker := circuitbreaker.New(sc.Name).
			WithFailureThreshold(getEnvInt("BREAKER_FAILURE_THRESHOLD", 3)).
			WithTripCallback(func(name, reason string) {
				logrus.WithField("strategy", name).Warnf("Harvest breaker tripped: %s", reason)
			})
		if err := k.Register(strat, sc.Schedule, breaker); err != nil {
			return nil, fmt.Errorf("strategy %d (%s): %w", i, sc.Name, err)
		}
	}

	server := &Server{
		cfg:        cfg,
		apiToken:   os.Getenv("API_TOKEN"),
		strategies: strategies,
		keeper:     k,
		exporter:   exporter,
		recorder:   rec,
		metrics:    metrics,
		rateLimit:  rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
	}

	logrus.WithFields(logrus.Fields{
		"port":       cfg.Port,
		"mode":       cfg.Mode,
		"strategies": len(strategies),
		"recorder":   cfg.SQLitePath != "",
		"exporter":   cfg.WebhookURL != "",
		"signed":     signer != nil,
	}).Info("Server initialized")

	return server, nil
}

// Start begins the HTTP server, the keeper, and sets up graceful shutdown
func (s *Server) Start() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /strategies", s.handleStrategies)
	mux.HandleFunc("GET /strategies/{name}", s.handleStrategyDetail)
	mux.HandleFunc("POST /strategies/{name}/harvest", s.handleHarvest)
	mux.HandleFunc("POST /strategies/{name}/pause", s.requireToken(s.handlePause))
	mux.HandleFunc("POST /strategies/{name}/unpause", s.requireToken(s.handleUnpause))
	mux.HandleFunc("POST /strategies/{name}/panic", s.requireToken(s.handlePanic))

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.keeper.Start()

	if getEnvBool("RUN_ON_START", false) {
		for name := range s.strategies {
			if err := s.keeper.RunNow(name); err != nil {
				logrus.Errorf("Startup harvest for %s failed: %v", name, err)
			}
		}
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}

	s.keeper.Stop()
	s.exporter.Stop()
	if err := s.recorder.Close(); err != nil {
		logrus.Errorf("Recorder close failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// requireToken gates mutating endpoints behind the shared API token.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken == "" {
			s.errorResponse(w, http.StatusServiceUnavailable, "management API disabled: no API token configured")
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.apiToken {
			s.errorResponse(w, http.StatusUnauthorized, "invalid API token")
			return
		}
		next(w, r)
	}
}

// callerAddress resolves the caller identity for a mutating request. The
// strategy enforces roles against this address; the API only authenticates.
func (s *Server) callerAddress(r *http.Request) (common.Address, error) {
	raw := r.Header.Get("X-Caller-Address")
	if raw == "" {
		return config.Address(s.cfg.File.Roles.Manager)
	}
	return config.Address(raw)
}

func (s *Server) strategyFor(w http.ResponseWriter, r *http.Request) (*strategy.Strategy, bool) {
	name := r.PathValue("name")
	strat, ok := s.strategies[name]
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown strategy %q", name))
		return nil, false
	}
	return strat, true
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "operational",
		"uptime":     time.Since(startTime).String(),
		"mode":       s.cfg.Mode,
		"strategies": len(s.strategies),
		"keeper":     s.keeper.Status(),
		"exporter":   s.exporter.Status(),
	})
}

// strategyView is the API shape of one strategy's observable state.
type strategyView struct {
	Name             string `json:"name"`
	Want             string `json:"want"`
	Paused           bool   `json:"paused"`
	Retired          bool   `json:"retired"`
	LastHarvest      string `json:"last_harvest,omitempty"`
	BalanceOfWant    string `json:"balance_of_want"`
	BalanceOfPool    string `json:"balance_of_pool"`
	TotalControlled  string `json:"total_controlled"`
	RewardsAvailable string `json:"rewards_available"`
	CallReward       string `json:"call_reward"`
}

func (s *Server) viewOf(ctx context.Context, strat *strategy.Strategy) strategyView {
	v := strategyView{
		Name:             strat.Name(),
		Want:             strat.Want().Hex(),
		Paused:           strat.Paused(),
		Retired:          strat.Retired(),
		BalanceOfWant:    strat.BalanceOfWant(ctx).String(),
		BalanceOfPool:    strat.BalanceOfPool(ctx).String(),
		TotalControlled:  strat.TotalControlled(ctx).String(),
		RewardsAvailable: strat.RewardsAvailable(ctx).String(),
		CallReward:       strat.CallReward(ctx).String(),
	}
	if last := strat.LastHarvest(); !last.IsZero() {
		v.LastHarvest = last.Format(time.RFC3339)
	}
	return v
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	views := make([]strategyView, 0, len(s.strategies))
	for _, strat := range s.strategies {
		views = append(views, s.viewOf(ctx, strat))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleStrategyDetail(w http.ResponseWriter, r *http.Request) {
	strat, ok := s.strategyFor(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	events, err := s.recorder.Recent(strat.Name(), 20)
	if err != nil {
		logrus.Errorf("Failed to load recent events: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy":      s.viewOf(ctx, strat),
		"fee_schedule":  strat.Schedule(),
		"recent_events": events,
	})
}

// handleHarvest triggers a harvest. Open to anyone, rate limited; the caller
// address only determines who receives the call fee.
func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimit.Allow() {
		s.errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	strat, ok := s.strategyFor(w, r)
	if !ok {
		return
	}
	caller, err := s.callerAddress(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	err = strat.Harvest(ctx, caller)
	s.metrics.harvestDuration.WithLabelValues(strat.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.harvestCounter.WithLabelValues(strat.Name(), "error").Inc()
		s.errorResponse(w, harvestStatus(err), err.Error())
		return
	}
	s.metrics.harvestCounter.WithLabelValues(strat.Name(), "success").Inc()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "harvested",
		"strategy": s.viewOf(ctx, strat),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, func(ctx context.Context, strat *strategy.Strategy, caller common.Address) error {
		return strat.Pause(ctx, caller)
	}, "paused")
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, func(ctx context.Context, strat *strategy.Strategy, caller common.Address) error {
		return strat.Unpause(ctx, caller)
	}, "unpaused")
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, func(ctx context.Context, strat *strategy.Strategy, caller common.Address) error {
		return strat.Panic(ctx, caller)
	}, "panicked")
}

func (s *Server) lifecycleOp(w http.ResponseWriter, r *http.Request,
	op func(context.Context, *strategy.Strategy, common.Address) error, verb string) {
	strat, ok := s.strategyFor(w, r)
	if !ok {
		return
	}
	caller, err := s.callerAddress(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	if err := op(ctx, strat, caller); err != nil {
		s.errorResponse(w, harvestStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   verb,
		"strategy": s.viewOf(ctx, strat),
	})
}

// harvestStatus maps the engine's failure taxonomy onto HTTP status codes:
// authorization to 403, state conflicts to 409, input validation to 400, and
// collaborator faults to 502.
func harvestStatus(err error) int {
	switch {
	case errors.Is(err, strategy.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, strategy.ErrPaused),
		errors.Is(err, strategy.ErrNotPaused),
		errors.Is(err, strategy.ErrRetired):
		return http.StatusConflict
	case errors.Is(err, strategy.ErrZeroAmount):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	logrus.Warn(errorMsg)
	writeJSON(w, statusCode, map[string]string{"error": errorMsg})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

// simSelfAddress derives a stable engine account for sim-mode strategies.
func simSelfAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("strategy:" + name))[12:])
}

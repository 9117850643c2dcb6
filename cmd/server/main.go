// Package main is the entry point for the Oracle Consensus External Adapter,
// an HTTP service exposing weighted-median price consensus with reputation
// tracking, slashing and signed-observation ingestion.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/oracle-consensus-ea/internal/adapter"
	"github.com/yourorg/oracle-consensus-ea/internal/circuitbreaker"
	"github.com/yourorg/oracle-consensus-ea/internal/config"
	"github.com/yourorg/oracle-consensus-ea/internal/engine"
	"github.com/yourorg/oracle-consensus-ea/internal/events"
	"github.com/yourorg/oracle-consensus-ea/internal/model"
	"github.com/yourorg/oracle-consensus-ea/internal/otel"
	"github.com/yourorg/oracle-consensus-ea/internal/store"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server represents the External Adapter server instance
type Server struct {
	// Configuration for the server
	config config.Config

	// Consensus round controller
	engine *engine.Engine

	// Signed observation ingestion path
	ingestor *adapter.Ingestor

	// Circuit breaker guarding the consensus read path
	breaker *circuitbreaker.CircuitBreaker

	// Webhook event exporter, nil when not configured
	exporter *events.WebhookExporter

	// Backing store, closed on shutdown
	store store.Store

	// HTTP server instance
	server *http.Server

	// Metrics registry
	metrics *serverMetrics

	// Rate limiter for mutation endpoints
	rateLimit *rate.Limiter
}

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	consensusPrice  prometheus.Gauge
	oracleCount     prometheus.Gauge
	circuitState    prometheus.Gauge
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oracle_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		consensusPrice: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oracle_consensus_price",
				Help: "Last finalized consensus price",
			},
		),
		oracleCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oracle_registered_total",
				Help: "Number of registered oracles",
			},
		),
		circuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oracle_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
	}

	prometheus.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.consensusPrice,
		m.oracleCount,
		m.circuitState,
	)

	return m
}

// main is the entry point for the application
func main() {
	// Configure logging
	setupLogging()

	// Load configuration
	cfg := config.Load()

	// Initialize tracing when an OTLP endpoint is configured
	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	// Create and start server
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

	// Set log formatter based on environment
	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	// Set log level based on environment
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

// NewServer creates a server instance with all components wired together
func NewServer(cfg config.Config) (*Server, error) {
	s := &Server{
		config:    cfg,
		rateLimit: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
	}

	if cfg.EnableMetrics {
		s.metrics = registerMetrics()
	}

	// Select the backing store: pebble when a data directory is
	// configured, in-memory otherwise
	if cfg.DataDir != "" {
		st, err := store.OpenPebbleStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		s.store = st
		logrus.Infof("Using pebble store at %s", cfg.DataDir)
	} else {
		s.store = store.NewMemoryStore()
		logrus.Warn("Using in-memory store; state will not survive restarts")
	}

	// Assemble the event sinks
	emitters := events.MultiEmitter{events.NewLogEmitter(nil)}
	if cfg.EnableMetrics {
		emitters = append(emitters, events.NewPrometheusEmitter(prometheus.DefaultRegisterer))
	}
	if cfg.WebhookURL != "" {
		exporter, err := events.NewWebhookExporter(events.WebhookConfig{
			URL:           cfg.WebhookURL,
			APIKey:        cfg.WebhookAPIKey,
			BatchSize:     cfg.WebhookBatchSize,
			FlushInterval: cfg.WebhookFlushInterval,
		})
		if err != nil {
			return nil, err
		}
		s.exporter = exporter
		emitters = append(emitters, exporter)
	}

	s.engine = engine.New(s.store, nil, emitters)
	s.ingestor = adapter.New(s.engine)

	// Bind the admin identity on first boot; an already-initialized
	// store keeps its original admin
	if cfg.AdminAddress != "" {
		if err := s.engine.Initialize(cfg.AdminAddress); err != nil &&
			!errors.Is(err, engine.ErrAlreadyInitialized) {
			return nil, err
		}
	}

	if cfg.EnableCircuitBreaker {
		s.breaker = circuitbreaker.New(circuitbreaker.Thresholds{
			MaxSwingBps:    cfg.MaxSwingBps,
			MinSubmissions: uint32(cfg.MinSubmissions),
		}).WithResetDelay(cfg.CircuitResetDelay).
			WithTripCallback(func(reason string, consensus model.ConsensusPriceData) {
				logrus.WithFields(logrus.Fields{
					"reason": reason,
					"price":  consensus.Price,
				}).Error("Consensus anomaly detected")
			})
	}

	return s, nil
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	// Create a new router
	mux := http.NewServeMux()

	// Register API endpoints
	mux.HandleFunc("/oracles", s.handleOracles)        // Registration and listing
	mux.HandleFunc("/oracles/", s.handleOracle)        // Per-oracle removal and reputation
	mux.HandleFunc("/price", s.handlePrice)            // Round submissions
	mux.HandleFunc("/consensus", s.handleConsensus)    // Round finalization and reads
	mux.HandleFunc("/observations", s.handleObservations) // Signed observation ingestion
	mux.HandleFunc("/health", s.handleHealth)          // Health check endpoint
	mux.HandleFunc("/metrics", s.handleMetrics)        // Prometheus metrics endpoint
	mux.HandleFunc("/status", s.handleStatus)          // Service status endpoint
	mux.HandleFunc("/circuit", s.handleCircuitStatus)  // Circuit breaker status/control

	// Configure server with timeouts
	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}

	if s.exporter != nil {
		s.exporter.Stop()
	}
	if err := s.store.Close(); err != nil {
		logrus.Errorf("Store close failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// registerRequest is the body for POST /oracles
type registerRequest struct {
	Oracle string `json:"oracle"`
}

// priceRequest is the body for POST /price
type priceRequest struct {
	Price int64 `json:"price"`
}

// handleOracles serves registration (POST, admin) and listing (GET)
func (s *Server) handleOracles(w http.ResponseWriter, r *http.Request) {
	defer s.observe("oracles", time.Now())

	switch r.Method {
	case http.MethodPost:
		if !s.allow(w) {
			return
		}
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Oracle == "" {
			s.errorResponse(w, "oracles", http.StatusBadRequest, "Invalid request body")
			return
		}
		caller := r.Header.Get("X-Admin-Address")
		if err := s.engine.RegisterOracle(caller, req.Oracle); err != nil {
			s.engineError(w, "oracles", err)
			return
		}
		s.updateOracleGauge()
		s.jsonResponse(w, "oracles", http.StatusCreated, map[string]interface{}{
			"oracle": req.Oracle,
		})

	case http.MethodGet:
		oracles, err := s.engine.Oracles()
		if err != nil {
			s.engineError(w, "oracles", err)
			return
		}
		s.jsonResponse(w, "oracles", http.StatusOK, map[string]interface{}{
			"oracles": oracles,
			"count":   len(oracles),
		})

	default:
		s.errorResponse(w, "oracles", http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleOracle serves per-oracle routes:
//
//	DELETE /oracles/{id}             admin removal, bypasses the quorum floor
//	GET    /oracles/{id}/reputation  reputation record
func (s *Server) handleOracle(w http.ResponseWriter, r *http.Request) {
	defer s.observe("oracle", time.Now())

	rest := strings.TrimPrefix(r.URL.Path, "/oracles/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "" && r.Method == http.MethodDelete:
		if !s.allow(w) {
			return
		}
		caller := r.Header.Get("X-Admin-Address")
		if err := s.engine.RemoveOracle(caller, parts[0]); err != nil {
			s.engineError(w, "oracle", err)
			return
		}
		s.updateOracleGauge()
		s.jsonResponse(w, "oracle", http.StatusOK, map[string]interface{}{
			"removed": parts[0],
		})

	case len(parts) == 2 && parts[1] == "reputation" && r.Method == http.MethodGet:
		rep, err := s.engine.OracleReputation(parts[0])
		if err != nil {
			s.engineError(w, "oracle", err)
			return
		}
		s.jsonResponse(w, "oracle", http.StatusOK, map[string]interface{}{
			"oracle":     parts[0],
			"reputation": rep,
		})

	default:
		s.errorResponse(w, "oracle", http.StatusNotFound, "Not found")
	}
}

// handlePrice accepts one price submission for the current round. The
// submitting oracle identifies itself with the X-Oracle-Address header.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	defer s.observe("price", time.Now())

	if r.Method != http.MethodPost {
		s.errorResponse(w, "price", http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.allow(w) {
		return
	}

	oracle := r.Header.Get("X-Oracle-Address")
	if oracle == "" {
		s.errorResponse(w, "price", http.StatusBadRequest, "Missing X-Oracle-Address header")
		return
	}

	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "price", http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.engine.SubmitPrice(oracle, req.Price); err != nil {
		s.engineError(w, "price", err)
		return
	}

	pending, err := s.engine.PendingSubmissions()
	if err != nil {
		s.engineError(w, "price", err)
		return
	}
	s.jsonResponse(w, "price", http.StatusAccepted, map[string]interface{}{
		"oracle":  oracle,
		"price":   req.Price,
		"pending": pending,
	})
}

// handleConsensus finalizes the round (POST) or reads the last
// finalized consensus (GET). The read path degrades to the last good
// consensus while the circuit is open.
func (s *Server) handleConsensus(w http.ResponseWriter, r *http.Request) {
	defer s.observe("consensus", time.Now())

	switch r.Method {
	case http.MethodPost:
		if !s.allow(w) {
			return
		}

		ctx, span := otel.Tracer().Start(r.Context(), "consensus_round")
		defer span.End()

		price, err := s.engine.CalculateConsensus()
		if err != nil {
			otel.RecordError(ctx, err)
			s.engineError(w, "consensus", err)
			return
		}

		consensus, _, err := s.engine.ConsensusPrice()
		if err != nil {
			s.engineError(w, "consensus", err)
			return
		}

		if s.metrics != nil {
			s.metrics.consensusPrice.Set(float64(price))
		}
		s.updateOracleGauge()

		anomalous := false
		if s.breaker != nil {
			if cbErr := s.breaker.Check(consensus); cbErr != nil {
				otel.RecordError(ctx, cbErr)
				anomalous = true
			}
			s.updateCircuitGauge()
		}

		s.jsonResponse(w, "consensus", http.StatusOK, map[string]interface{}{
			"price":       price,
			"num_oracles": consensus.NumOracles,
			"timestamp":   consensus.Timestamp,
			"anomalous":   anomalous,
		})

	case http.MethodGet:
		consensus, ok, err := s.engine.ConsensusPrice()
		if err != nil {
			s.engineError(w, "consensus", err)
			return
		}
		if !ok {
			s.errorResponse(w, "consensus", http.StatusNotFound, "No consensus finalized yet")
			return
		}

		response := map[string]interface{}{
			"price":       consensus.Price,
			"num_oracles": consensus.NumOracles,
			"timestamp":   consensus.Timestamp,
		}
		if s.breaker != nil && s.breaker.GetState() != circuitbreaker.StateClosed {
			response["anomalous"] = true
			if last := s.breaker.LastGoodConsensus(); last != nil {
				response["last_good"] = last
			}
		}
		s.jsonResponse(w, "consensus", http.StatusOK, response)

	default:
		s.errorResponse(w, "consensus", http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleObservations ingests a batch of externally signed observations
// and returns the weight-fused price.
func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	defer s.observe("observations", time.Now())

	if r.Method != http.MethodPost {
		s.errorResponse(w, "observations", http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.allow(w) {
		return
	}

	var batch []model.SignedObservation
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		s.errorResponse(w, "observations", http.StatusBadRequest, "Invalid request body")
		return
	}

	fused, err := s.ingestor.Process(batch)
	if err != nil {
		s.engineError(w, "observations", err)
		return
	}
	s.jsonResponse(w, "observations", http.StatusOK, map[string]interface{}{
		"price": fused,
		"count": len(batch),
	})
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "OK",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMetrics exposes Prometheus metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.config.EnableMetrics {
		http.Error(w, "Metrics disabled", http.StatusServiceUnavailable)
		return
	}

	promhttp.Handler().ServeHTTP(w, r)
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	oracles, err := s.engine.Oracles()
	if err != nil {
		s.errorResponse(w, "status", http.StatusInternalServerError, err.Error())
		return
	}
	pending, err := s.engine.PendingSubmissions()
	if err != nil {
		s.errorResponse(w, "status", http.StatusInternalServerError, err.Error())
		return
	}

	status := map[string]interface{}{
		"status":              "operational",
		"uptime":              time.Since(startTime).String(),
		"registered_oracles":  len(oracles),
		"pending_submissions": pending,
	}
	if consensus, ok, err := s.engine.ConsensusPrice(); err == nil && ok {
		status["last_consensus"] = consensus
	}
	if s.breaker != nil {
		status["circuit_breaker"] = s.breaker.GetState().String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// handleCircuitStatus reports the breaker state (GET) and allows a
// manual reset (POST with {"action": "reset"})
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	if s.breaker == nil {
		s.errorResponse(w, "circuit", http.StatusServiceUnavailable, "Circuit breaker disabled")
		return
	}

	switch r.Method {
	case http.MethodGet:
		response := map[string]interface{}{
			"state": s.breaker.GetState().String(),
		}
		if last := s.breaker.LastGoodConsensus(); last != nil {
			response["last_good"] = last
		}
		s.jsonResponse(w, "circuit", http.StatusOK, response)

	case http.MethodPost:
		var req struct {
			Action string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action != "reset" {
			s.errorResponse(w, "circuit", http.StatusBadRequest, "Unknown action")
			return
		}
		s.breaker.Reset()
		s.updateCircuitGauge()
		s.jsonResponse(w, "circuit", http.StatusOK, map[string]interface{}{
			"state": s.breaker.GetState().String(),
		})

	default:
		s.errorResponse(w, "circuit", http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// allow applies the mutation rate limit, writing a 429 when exceeded
func (s *Server) allow(w http.ResponseWriter) bool {
	if s.rateLimit != nil && !s.rateLimit.Allow() {
		s.errorResponse(w, "rate_limit", http.StatusTooManyRequests, "Rate limit exceeded")
		return false
	}
	return true
}

// engineError translates engine errors into HTTP status codes
func (s *Server) engineError(w http.ResponseWriter, endpoint string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrAlreadyInitialized),
		errors.Is(err, engine.ErrOracleAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, engine.ErrOracleNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidPrice),
		errors.Is(err, engine.ErrOverflow):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrLowReputation):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInsufficientOracles),
		errors.Is(err, engine.ErrNoOracleData):
		status = http.StatusUnprocessableEntity
	}
	s.errorResponse(w, endpoint, status, err.Error())
}

// jsonResponse writes a JSON body with the given status and records metrics
func (s *Server) jsonResponse(w http.ResponseWriter, endpoint string, status int, body interface{}) {
	if s.metrics != nil {
		s.metrics.requestCounter.WithLabelValues(endpoint, "success").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// errorResponse writes a JSON error body and records metrics
func (s *Server) errorResponse(w http.ResponseWriter, endpoint string, status int, message string) {
	if s.metrics != nil {
		s.metrics.requestCounter.WithLabelValues(endpoint, "error").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  message,
		"status": status,
	})
}

// observe records the handler duration for an endpoint
func (s *Server) observe(endpoint string, start time.Time) {
	if s.metrics != nil {
		s.metrics.requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

// updateOracleGauge refreshes the registered-oracle gauge
func (s *Server) updateOracleGauge() {
	if s.metrics == nil {
		return
	}
	if oracles, err := s.engine.Oracles(); err == nil {
		s.metrics.oracleCount.Set(float64(len(oracles)))
	}
}

// updateCircuitGauge refreshes the circuit state gauge
func (s *Server) updateCircuitGauge() {
	if s.metrics == nil || s.breaker == nil {
		return
	}
	s.metrics.circuitState.Set(float64(s.breaker.GetState()))
}

// Package server exposes the scoring engine over HTTP and websockets.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"fraudscore/internal/inference"
)

const (
	maxBodyBytes = 1 << 20
	idleTimeout  = 120 * time.Second

	// KindRequest is reported for bodies that cannot be decoded.
	KindRequest = "request_error"
)

// Config holds the listener settings.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
}

// HTTPMetrics is the subset of metrics the transport records.
type HTTPMetrics interface {
	ObserveHTTP(method, endpoint string, status int, d time.Duration)
	WSMessagesInc()
}

// Server serves predictions from an inference.Engine.
type Server struct {
	engine   *inference.Engine
	metrics  HTTPMetrics
	gatherer prometheus.Gatherer
	cfg      Config
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader
}

// New wires the routes. m may be nil; a nil gatherer serves the default
// Prometheus registry.
func New(engine *inference.Engine, cfg Config, m HTTPMetrics, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		engine:   engine,
		metrics:  m,
		gatherer: gatherer,
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}

	r := mux.NewRouter()
	r.Use(s.requestID, s.instrument)
	r.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/model/info", s.handleModelInfo).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/ws/score", s.handleScoreStream).Methods(http.MethodGet)
	s.router = r

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting fraud scoring server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	id := RequestID(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("failed to read body: %v", err), RequestID: id})
		return
	}
	req, err := decodeRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), RequestID: id})
		return
	}

	resp, errResp := s.score(r.Context(), req, id)
	if errResp != nil {
		writeJSON(w, http.StatusInternalServerError, errResp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// score runs one decoded request through the engine under the request
// timeout.
func (s *Server) score(ctx context.Context, req Request, id string) (*Response, *ErrorResponse) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	res, err := s.engine.Score(ctx, req.Transaction())
	if err != nil {
		log.Error().Err(err).
			Str("request_id", id).
			Str("kind", inference.Kind(err)).
			Msg("Prediction failed")
		return nil, &ErrorResponse{Error: err.Error(), Kind: inference.Kind(err), RequestID: id}
	}

	reasons := res.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return &Response{
		IsFraud:     res.IsFraud,
		Confidence:  res.Probability,
		FraudReason: reasons,
		RequestID:   id,
	}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	c := s.engine.Context()
	if c == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "no models loaded", RequestID: RequestID(r.Context())})
		return
	}
	writeJSON(w, http.StatusOK, c.Info())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

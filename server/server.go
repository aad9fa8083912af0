// Package server exposes the engine's risk state over HTTP for operators and
// Prometheus.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/perptrader/engine"
	"github.com/rustyeddy/perptrader/position"
)

// RiskSource is the part of the engine the server reads and resets.
type RiskSource interface {
	RiskMetrics() engine.RiskMetrics
	Positions() []position.Position
	ResetLatch()
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:9090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type Server struct {
	router *mux.Router
	http   *http.Server
	risk   RiskSource
	log    zerolog.Logger
}

// New builds the router. gatherer may be nil, in which case /metrics is not
// served.
func New(cfg Config, risk RiskSource, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		risk:   risk,
		log:    log.With().Str("component", "server").Logger(),
	}

	s.router.Use(s.requestID, s.logRequests)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/risk", s.riskMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/risk/reset", s.resetLatch).Methods(http.MethodPost)
	s.router.HandleFunc("/positions", s.positions).Methods(http.MethodGet)
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until ctx is canceled, then shuts the listener down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("status server listening")
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	m := s.risk.RiskMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"mode":            m.Mode,
		"trading_enabled": m.TradingEnabled,
	})
}

func (s *Server) riskMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.risk.RiskMetrics())
}

func (s *Server) resetLatch(w http.ResponseWriter, r *http.Request) {
	before := s.risk.RiskMetrics().TradingEnabled
	s.risk.ResetLatch()
	s.log.Warn().
		Bool("was_enabled", before).
		Str("remote", r.RemoteAddr).
		Msg("latch reset requested")
	writeJSON(w, http.StatusOK, s.risk.RiskMetrics())
}

type positionView struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	Leverage   int       `json:"leverage"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Notional   float64   `json:"notional"`
	OpenedAt   time.Time `json:"opened_at"`
}

func (s *Server) positions(w http.ResponseWriter, r *http.Request) {
	ps := s.risk.Positions()
	out := make([]positionView, len(ps))
	for i, p := range ps {
		out[i] = positionView{
			Symbol:     p.Symbol,
			Side:       p.Side(),
			Size:       p.Size,
			EntryPrice: p.EntryPrice,
			Leverage:   p.Leverage,
			StopLoss:   p.StopLoss,
			TakeProfit: p.TakeProfit,
			Notional:   p.Notional(),
			OpenedAt:   p.OpenedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString()[:8])
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("request_id", w.Header().Get("X-Request-ID")).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

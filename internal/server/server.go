package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-viability-watch/internal/classify"
	"ai-viability-watch/internal/credit"
	"ai-viability-watch/internal/dataset"
	"ai-viability-watch/internal/report"
	"ai-viability-watch/internal/storage"
)

// LiveSource exposes the cached live observations.
type LiveSource interface {
	Latest() []storage.Observation
}

// Options configures the HTTP listener.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves the read-only dashboard and its JSON API.
type Server struct {
	opts      Options
	router    *chi.Mux
	dataset   *dataset.Dataset
	builder   *report.Builder
	table     classify.Table
	estimator credit.Estimator
	live      LiveSource
	logger    zerolog.Logger
}

// New wires routes. live may be nil when no sources are configured.
func New(opts Options, ds *dataset.Dataset, table classify.Table, estimator credit.Estimator, live LiveSource, logger zerolog.Logger) *Server {
	s := &Server{
		opts:      opts,
		router:    chi.NewRouter(),
		dataset:   ds,
		builder:   report.NewBuilder(table, estimator),
		table:     table,
		estimator: estimator,
		live:      live,
		logger:    logger.With().Str("component", "server").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/", s.handleIndex)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/report", s.handleReport)
		r.Get("/default-probability", s.handleDefaultProbability)
		r.Get("/classify", s.handleClassify)
		r.Get("/observations", s.handleObservations)
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("dashboard listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return ctx.Err()
}

func (s *Server) buildReport() (*report.Report, error) {
	var live []storage.Observation
	if s.live != nil {
		live = s.live.Latest()
	}
	return s.builder.Build(s.dataset, live)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	view, err := report.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := s.buildReport()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(report.HTML(rep, view))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.buildReport()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

type defaultProbabilityResponse struct {
	SpreadBps     decimal.NullDecimal `json:"spread_bps"`
	RecoveryRate  float64             `json:"recovery_rate"`
	HorizonYears  int                 `json:"horizon_years"`
	CumulativePct decimal.NullDecimal `json:"cumulative_pct"`
}

func (s *Server) handleDefaultProbability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	recovery := s.estimator.RecoveryRate
	if v := q.Get("recovery"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("recovery: %w", err))
			return
		}
		recovery = parsed
	}
	horizon := s.estimator.HorizonYears
	if v := q.Get("horizon"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("horizon: %w", err))
			return
		}
		horizon = parsed
	}

	var spread decimal.NullDecimal
	if v := strings.TrimSpace(q.Get("spread")); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("spread: %w", err))
			return
		}
		spread = decimal.NewNullDecimal(parsed)
	}

	pct, err := credit.DefaultProbability(spread, recovery, horizon)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, credit.ErrOutOfRange) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err)
		return
	}

	s.writeJSON(w, http.StatusOK, defaultProbabilityResponse{
		SpreadBps:     spread,
		RecoveryRate:  recovery,
		HorizonYears:  horizon,
		CumulativePct: pct,
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	metric := q.Get("metric")
	raw := q.Get("value")
	if metric == "" || raw == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("metric and value are required"))
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("value: %w", err))
		return
	}
	if math.IsInf(value, 0) {
		s.writeError(w, http.StatusBadRequest, errors.New("value must be finite"))
		return
	}

	res, err := s.table.Classify(classify.Sample{Name: metric, Value: value})
	switch {
	case errors.Is(err, classify.ErrUnmatchedRule):
		s.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, classify.ErrInvalidRule):
		s.writeError(w, http.StatusBadRequest, err)
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
	default:
		s.writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	observations := []storage.Observation{}
	if s.live != nil {
		observations = append(observations, s.live.Latest()...)
	}
	s.writeJSON(w, http.StatusOK, observations)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Package server exposes the read models and the instruction submit path
// over HTTP. Handlers only translate: view lookups and submits happen in
// the projection service, JSON and status codes happen here.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"MarginView/internal/gateway"
	"MarginView/internal/observability"
	"MarginView/internal/risk"
	"MarginView/internal/view"
)

// Server is the HTTP query and submit surface.
type Server struct {
	httpServer *http.Server
	svc        *view.Service
	health     *observability.HealthChecker
	log        zerolog.Logger
	metrics    *observability.Metrics

	// watchCtx outlives any request: account watches started lazily by a
	// GET must keep refreshing after the request ends.
	watchCtx context.Context
}

func New(addr string, svc *view.Service, health *observability.HealthChecker, watchCtx context.Context, log zerolog.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		svc:      svc,
		health:   health,
		log:      log,
		metrics:  metrics,
		watchCtx: watchCtx,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/accounts/{owner}", s.instrument("account", s.handleAccount))
		r.Get("/accounts/{owner}/risk", s.instrument("risk", s.handleRisk))
		r.Get("/accounts/{owner}/orders", s.instrument("orders", s.handleOrders))
		r.Get("/accounts/{owner}/debts", s.instrument("debts", s.handleDebts))
		r.Delete("/accounts/{owner}/watch", s.instrument("unwatch", s.handleUnwatch))
		r.Get("/markets/book", s.instrument("book", s.handleBook))
		r.Post("/instructions/{kind}", s.instrument("submit", s.handleSubmit))
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Handlers ---

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	v, ok := s.accountView(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

type riskResponse struct {
	Owner            string     `json:"owner"`
	Exists           bool       `json:"exists"`
	AsOf             time.Time  `json:"as_of"`
	PriceUnavailable bool       `json:"price_unavailable"`
	Risk             risk.Stats `json:"risk"`
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	v, ok := s.accountView(w, r)
	if !ok {
		return
	}
	if v.Exists && v.PriceUnavailable {
		s.writeError(w, http.StatusServiceUnavailable, "price_unavailable", "oracle price unavailable, risk stats withheld")
		return
	}
	s.writeJSON(w, http.StatusOK, riskResponse{
		Owner:            v.Owner.String(),
		Exists:           v.Exists,
		AsOf:             v.AsOf,
		PriceUnavailable: v.PriceUnavailable,
		Risk:             v.Risk,
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	v, ok := s.accountView(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"owner":  v.Owner.String(),
		"exists": v.Exists,
		"as_of":  v.AsOf,
		"orders": v.Orders,
	})
}

func (s *Server) handleDebts(w http.ResponseWriter, r *http.Request) {
	v, ok := s.accountView(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"owner":  v.Owner.String(),
		"exists": v.Exists,
		"as_of":  v.AsOf,
		"debts":  v.Debts,
	})
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return
	}
	s.svc.UnwatchAccount(owner)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Store().Book()
	if err != nil {
		s.mapError(w, err)
		return
	}

	if raw := r.URL.Query().Get("levels"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "bad_request", "levels must be a positive integer")
			return
		}
		if n < len(b.Lend) {
			b.Lend = b.Lend[:n]
		}
		if n < len(b.Borrow) {
			b.Borrow = b.Borrow[:n]
		}
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req view.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	req.Kind = gateway.Kind(chi.URLParam(r, "kind"))

	sig, err := s.svc.Submit(r.Context(), req)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"signature": sig.String()})
}

// --- Plumbing ---

// accountView resolves the owner path param and returns its view, starting
// a watch on first sight. The first request for an owner usually lands
// before the initial refresh and reports pending.
func (s *Server) accountView(w http.ResponseWriter, r *http.Request) (view.AccountView, bool) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return view.AccountView{}, false
	}
	if err := s.svc.WatchAccount(s.watchCtx, owner); err != nil {
		s.mapError(w, err)
		return view.AccountView{}, false
	}
	v, err := s.svc.Store().Account(owner)
	if err != nil {
		s.mapError(w, err)
		return view.AccountView{}, false
	}
	return v, true
}

func (s *Server) ownerParam(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	raw := chi.URLParam(r, "owner")
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "owner is not a valid public key")
		return solana.PublicKey{}, false
	}
	return key, true
}

func (s *Server) mapError(w http.ResponseWriter, err error) {
	var rej *gateway.RejectedError
	switch {
	case errors.As(err, &rej):
		s.writeError(w, http.StatusUnprocessableEntity, "rejected", rej.Reason)
	case errors.Is(err, view.ErrBadRequest):
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, view.ErrNotWatched), errors.Is(err, gateway.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, view.ErrPending):
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusServiceUnavailable, "pending", "view not yet populated, retry shortly")
	case errors.Is(err, gateway.ErrPriceUnavailable), errors.Is(err, risk.ErrPriceUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "price_unavailable", err.Error())
	case errors.Is(err, gateway.ErrUnavailable):
		s.writeError(w, http.StatusBadGateway, "gateway_unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "gateway_unavailable", "ledger request timed out")
	default:
		s.log.Error().Err(err).Msg("unhandled error in http handler")
		s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

// instrument wraps a handler with per-endpoint request metrics.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(ww.Status())).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

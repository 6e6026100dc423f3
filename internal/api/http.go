package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/yourname/game-master/internal/queue"
	"github.com/yourname/game-master/internal/session"
	"github.com/yourname/game-master/internal/status"
	"github.com/yourname/game-master/internal/ws"
	"github.com/yourname/game-master/pkg/types"
)

// playerIDHeader carries the identity installed by the authenticating edge
// proxy. The core trusts it and never validates tokens itself.
const playerIDHeader = "X-Player-ID"

type router struct {
	mgr  *queue.Manager
	rep  *status.Reporter
	orch *session.Orchestrator
	hub  *ws.Hub
}

func NewRouter(mgr *queue.Manager, rep *status.Reporter, orch *session.Orchestrator, hub *ws.Hub) http.Handler {
	r := &router{mgr: mgr, rep: rep, orch: orch, hub: hub}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/ws", r.handleWS)

	mux.Route("/queue", func(q chi.Router) {
		q.Use(requirePlayer)
		q.Post("/join", r.handleJoin)
		q.Post("/leave", r.handleLeave)
		q.Get("/status", r.handleStatus)
	})

	mux.Route("/sessions/{matchID}", func(s chi.Router) {
		s.With(requirePlayer).Post("/connected", r.handleConnected)
		s.Post("/result", r.handleResult)
	})

	return mux
}

func (r *router) handleJoin(w http.ResponseWriter, req *http.Request) {
	var body types.JoinRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Rating <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_rating"})
		return
	}

	playerID := req.Header.Get(playerIDHeader)
	entry, err := r.mgr.Join(req.Context(), playerID, body.Rating)
	switch {
	case errors.Is(err, queue.ErrAlreadyQueued):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "already_queued"})
	case errors.Is(err, queue.ErrAlreadyInSession):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "already_in_session"})
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "queued", "enqueued_at": entry.EnqueuedAt.Format(time.RFC3339Nano)})
	}
}

func (r *router) handleLeave(w http.ResponseWriter, req *http.Request) {
	playerID := req.Header.Get(playerIDHeader)
	left, err := r.mgr.Leave(req.Context(), playerID)
	switch {
	case errors.Is(err, queue.ErrInSession):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "in_session"})
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case left:
		writeJSON(w, http.StatusOK, map[string]any{"status": "left"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "not_queued"})
	}
}

func (r *router) handleStatus(w http.ResponseWriter, req *http.Request) {
	st, err := r.rep.PlayerStatus(req.Context(), req.Header.Get(playerIDHeader))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (r *router) handleConnected(w http.ResponseWriter, req *http.Request) {
	matchID := chi.URLParam(req, "matchID")
	err := r.orch.HandleConnected(matchID, req.Header.Get(playerIDHeader))
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown_session"})
	case errors.Is(err, session.ErrNotParticipant):
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "not_participant"})
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

func (r *router) handleResult(w http.ResponseWriter, req *http.Request) {
	matchID := chi.URLParam(req, "matchID")
	var out types.Outcome
	if err := json.NewDecoder(req.Body).Decode(&out); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err := r.orch.HandleResult(req.Context(), matchID, out)
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown_session"})
	case errors.Is(err, session.ErrSessionFailed):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "session_failed"})
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
	}
}

func (r *router) handleWS(w http.ResponseWriter, req *http.Request) {
	ws.ServeWS(r.hub, w, req)
}

func requirePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get(playerIDHeader) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing_identity"})
			return
		}
		next.ServeHTTP(w, req)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		wrap := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(wrap, req)
		log.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", wrap.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

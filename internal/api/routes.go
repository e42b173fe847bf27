package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pos-sync-service/internal/queue"
	"pos-sync-service/internal/syncer"
)

// Handler exposes the sync core's control and status surface.
type Handler struct {
	orch      *syncer.Orchestrator
	queue     *queue.Queue
	authToken string
}

func NewHandler(orch *syncer.Orchestrator, q *queue.Queue, authToken string) *Handler {
	return &Handler{
		orch:      orch,
		queue:     q,
		authToken: authToken,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/sync/trigger", h.TriggerSync)
		r.Post("/sync/force", h.ForceSync)
		r.Post("/sync/push", h.SyncPush)
		r.Post("/sync/pull", h.SyncPull)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/queue/stats", h.GetQueueStats)
		r.Get("/queue/deadletter", h.GetDeadLetters)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	h.orch.Trigger()
	writeJSON(w, map[string]string{"status": "requested"})
}

func (h *Handler) ForceSync(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.ForceSync(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, h.orch.GetState())
}

func (h *Handler) SyncPush(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.SyncPush(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, h.orch.GetState())
}

func (h *Handler) SyncPull(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.SyncPull(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, h.orch.GetState())
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.orch.GetState())
}

func (h *Handler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.queue.Stats())
}

func (h *Handler) GetDeadLetters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.queue.DeadLetters())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authToken != "" && r.Header.Get("Authorization") != "Bearer "+h.authToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prudhvinik1/divsync/internal/models"
	"github.com/prudhvinik1/divsync/internal/services"
	"golang.org/x/sync/singleflight"
)

type FeedService interface {
	GetFeed(ctx context.Context) (*models.FeedResult, error)
	Reset(ctx context.Context) error
}

type SnapshotService interface {
	GetSnapshot(ctx context.Context) (*models.FinancialSnapshot, error)
}

type FeedHandler struct {
	feed      FeedService
	snapshots SnapshotService
	logger    *slog.Logger

	inflight singleflight.Group
}

func NewFeedHandler(feed FeedService, snapshots SnapshotService, logger *slog.Logger) *FeedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHandler{feed: feed, snapshots: snapshots, logger: logger}
}

func (h *FeedHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/feed", h.getFeed)
		r.Delete("/feed", h.resetFeed)
		r.Get("/snapshot", h.getSnapshot)
	})
	return r
}

func (h *FeedHandler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// getFeed shares one GetFeed call between concurrent requests. The shared call
// is detached from the first caller's cancellation.
func (h *FeedHandler) getFeed(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	v, err, shared := h.inflight.Do("feed", func() (any, error) {
		return h.feed.GetFeed(ctx)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if shared {
		h.logger.Debug("feed request joined in-flight sync", "request_id", middleware.GetReqID(r.Context()))
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *FeedHandler) resetFeed(w http.ResponseWriter, r *http.Request) {
	if err := h.feed.Reset(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FeedHandler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	v, err, _ := h.inflight.Do("snapshot", func() (any, error) {
		return h.snapshots.GetSnapshot(context.WithoutCancel(r.Context()))
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *FeedHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, services.ErrRemoteFailure) {
		status = http.StatusBadGateway
	}
	h.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
	writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/canvas/internal/db"
	"github.com/manpreetbhatti/canvas/internal/export"
	"github.com/manpreetbhatti/canvas/internal/room"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// Source is what the API reads live state from
type Source interface {
	Store() *room.Store
	Connections() int
}

type API struct {
	source   Source
	database *db.Database
	log      *zap.Logger
}

// New builds the API. database may be nil when the journal is disabled.
func New(source Source, database *db.Database, log *zap.Logger) *API {
	return &API{
		source:   source,
		database: database,
		log:      log,
	}
}

// Router mounts the API next to the socket and metrics handlers
func (a *API) Router(socket, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)
	r.Use(corsMiddleware)

	r.Get("/health", a.HealthHandler)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", a.StatsHandler)
		r.Get("/rooms", a.ListRoomsHandler)
		r.Get("/rooms/{id}", a.GetRoomHandler)
		r.Get("/rooms/{id}/activity", a.ActivityHandler)
		r.Get("/rooms/{id}/export.pdf", a.ExportHandler)
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	if socket != nil {
		r.Method(http.MethodGet, "/ws", socket)
	}
	return r
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		a.log.Debug("handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", m.Code),
			zap.Duration("duration", m.Duration),
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Error("encode json response", zap.Error(err))
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"ok":        true,
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	store := a.source.Store()
	stats := map[string]any{
		"active_rooms":   len(store.Members().Occupied()),
		"active_clients": a.source.Connections(),
		"retained_rooms": store.Len(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats(r.Context())
		if err == nil {
			stats["total_rooms"] = dbStats.Rooms
			stats["total_activity"] = dbStats.Activity
			stats["total_strokes"] = dbStats.Strokes
		} else {
			a.log.Warn("journal stats unavailable", zap.Error(err))
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

type RoomResponse struct {
	room.Info
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"rooms": a.source.Store().Rooms(),
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := a.source.Store().Info(id)
	if !ok {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	resp := RoomResponse{Info: info}
	if a.database != nil {
		persisted, err := a.database.GetRoom(r.Context(), id)
		if err != nil {
			a.log.Warn("journal room lookup failed", zap.String("room", id), zap.Error(err))
		} else if persisted != nil {
			resp.CreatedAt = &persisted.CreatedAt
		}
	}

	a.jsonResponse(w, http.StatusOK, resp)
}

func (a *API) ActivityHandler(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Activity journal is disabled")
		return
	}

	limit := defaultActivityLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			a.errorResponse(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxActivityLimit)
	}

	id := chi.URLParam(r, "id")
	entries, err := a.database.ListActivity(r.Context(), id, limit)
	if err != nil {
		a.log.Error("list activity", zap.String("room", id), zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list activity")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"room":     id,
		"activity": entries,
	})
}

func (a *API) ExportHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, ok := a.source.Store().Lookup(id)
	if !ok {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	var buf bytes.Buffer
	if err := export.Render(&buf, id, l.Snapshot()); err != nil {
		a.log.Error("export room", zap.String("room", id), zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Failed to render room")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "room-"+id+".pdf"))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

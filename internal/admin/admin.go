// Package admin serves the control surface: HTTP+JSON bindings of the
// admin commands, the websocket event stream and the metrics endpoint.
// It is a read-mostly observer boundary; message mutation stays with
// the ingest plugins, except for explicit admin deletes.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/msghub/msghub/internal/archive"
	"github.com/msghub/msghub/internal/clock"
	"github.com/msghub/msghub/internal/docstore"
	"github.com/msghub/msghub/internal/logging"
	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/metrics"
	"github.com/msghub/msghub/internal/stats"
	"github.com/msghub/msghub/internal/store"
)

// Deps wires the admin surface to the engine internals.
type Deps struct {
	Store     *store.Store
	Collect   func(stats.CollectOptions) stats.Snapshot
	Docs      *docstore.Store
	Archive   *archive.Archive
	Broadcast *Broadcaster
	Clock     clock.Clock
	Logger    *slog.Logger
}

type handler struct {
	deps Deps
	log  *slog.Logger
}

// NewHandler builds the admin HTTP handler: chi routes wrapped in
// logging and metrics middleware, gzip compression and cleartext
// HTTP/2.
func NewHandler(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	h := &handler{deps: deps, log: log.With("component", "admin")}

	r := chi.NewRouter()
	r.Get("/api/constants", h.constants)
	r.Post("/api/messages/query", h.queryMessages)
	r.Post("/api/messages/delete", h.deleteMessages)
	r.Get("/api/stats", h.stats)
	r.Get("/api/status", h.status)
	r.Get("/ws/events", h.wsEvents)
	r.Handle("/metrics", promhttp.Handler())

	var wrapped http.Handler = gzhttp.GzipHandler(r)
	wrapped = logging.HTTPMiddleware(metrics.HTTPMiddleware(wrapped))
	return h2c.NewHandler(wrapped, &http2.Server{})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// constants answers GET /api/constants with the enum universe.
func (h *handler) constants(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"kinds":       message.Kinds,
		"states":      message.States,
		"levels":      message.Levels,
		"originTypes": message.OriginTypes,
		"events":      store.Events,
	})
}

// queryMessages answers POST /api/messages/query.
func (h *handler) queryMessages(w http.ResponseWriter, r *http.Request) {
	var req store.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.deps.Store.Query(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// deleteMessages answers POST /api/messages/delete with per-ref
// outcomes.
func (h *handler) deleteMessages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refs []string `json:"refs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results := make(map[string]string, len(req.Refs))
	for _, ref := range req.Refs {
		if h.deps.Store.Remove(ref) {
			results[ref] = "ok"
		} else {
			results[ref] = "missing"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// stats answers GET /api/stats; ?archiveSize=1 walks the archive tree
// for a size estimate.
func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	opts := stats.CollectOptions{
		IncludeArchiveSize: r.URL.Query().Get("archiveSize") == "1",
	}
	writeJSON(w, http.StatusOK, h.deps.Collect(opts))
}

// status answers GET /api/status with the persistence layer snapshots.
func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"storage":  h.deps.Docs.Status(),
		"archive":  h.deps.Archive.GetStatus(false),
		"messages": h.deps.Store.Len(),
		"logLevel": logging.GetLevel().String(),
	})
}

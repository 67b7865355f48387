package rest

import (
	"encoding/json"
	"net/http"

	"github.com/emissions-api/emissions_downloader/internal/logctx"
	"github.com/emissions-api/emissions_downloader/internal/storage"
	"github.com/emissions-api/emissions_downloader/internal/telemetry"
	"github.com/go-chi/chi/v5"
)

// Trigger starts a download cycle out of schedule.
type Trigger interface {
	// Trigger returns false when a cycle is already running.
	Trigger() bool
}

type OpsHandler struct {
	downloads storage.DownloadReadRepository
	trigger   Trigger
	telemetry *telemetry.Telemetry
}

// NewOpsHandler creates the handler for the operational endpoints. downloads
// may be nil when no ledger is configured.
func NewOpsHandler(downloads storage.DownloadReadRepository, trigger Trigger, t *telemetry.Telemetry) *OpsHandler {
	return &OpsHandler{
		downloads: downloads,
		trigger:   trigger,
		telemetry: t,
	}
}

func (h *OpsHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())
	r.Get("/downloads", h.HandleDownloads)
	r.Post("/runs", h.HandleRun)

	return r
}

func (h *OpsHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleDownloads lists the products recorded in the ledger.
func (h *OpsHandler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	if h.downloads == nil {
		http.Error(w, "download ledger is not configured", http.StatusNotFound)

		return
	}

	records, err := h.downloads.GetDownloads(r.Context())
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list downloads", "err", err)
		http.Error(w, "failed to list downloads", http.StatusInternalServerError)

		return
	}

	writeJSON(w, r, http.StatusOK, records)
}

// HandleRun starts a cycle in the background.
func (h *OpsHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	if !h.trigger.Trigger() {
		writeJSON(w, r, http.StatusConflict, map[string]string{"status": "running"})

		return
	}

	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

package v1

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/queue"
)

type addDownloadResponse struct {
	IDs []uuid.UUID `json:"ids"`
}

func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	entries := h.deps.Downloads.List()
	if entries == nil {
		entries = []queue.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) GetDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	e, ok := h.deps.Downloads.Get(id)
	if !ok {
		writeError(w, data.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// AddDownload queues the download plan for a catalog entry.
func (h *Handler) AddDownload(w http.ResponseWriter, r *http.Request) {
	body, ok := bodyFrom[addDownloadBody](w, r)
	if !ok {
		return
	}
	ids, err := h.deps.Installer.DownloadAndInstall(r.Context(), body.mod(), body.Update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, addDownloadResponse{IDs: ids})
}

// UpdateDownload pauses or resumes a transfer.
func (h *Handler) UpdateDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	body, ok := bodyFrom[desiredBody](w, r)
	if !ok {
		return
	}
	var err error
	switch body.DesiredState {
	case "paused":
		err = h.deps.Downloads.Pause(r.Context(), id)
	case "active":
		err = h.deps.Downloads.Resume(r.Context(), id)
	default:
		err = ErrDesiredState
	}
	if err != nil {
		writeError(w, err)
		return
	}
	e, ok := h.deps.Downloads.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.deps.Downloads.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

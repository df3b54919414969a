package v1

import (
	"net/http"

	"github.com/tinoosan/modlib/internal/data"
)

type libraryEntry struct {
	*data.InstalledItem
	Status data.ModStatus `json:"status"`
}

type libraryResponse struct {
	Items          []libraryEntry `json:"items"`
	PendingDeletes []string       `json:"pendingDeletes"`
}

type deletionsResponse struct {
	Deleted int      `json:"deleted"`
	Pending []string `json:"pending"`
}

func (h *Handler) ListLibrary(w http.ResponseWriter, r *http.Request) {
	board := h.deps.Library.Status()
	resp := libraryResponse{Items: []libraryEntry{}, PendingDeletes: h.deps.Library.PendingDeletes()}
	for _, it := range h.deps.Library.Items() {
		resp.Items = append(resp.Items, libraryEntry{InstalledItem: it, Status: board.Get(it.ModID)})
	}
	if resp.PendingDeletes == nil {
		resp.PendingDeletes = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Uninstall deactivates the mod and deletes every installed version.
func (h *Handler) Uninstall(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.deps.Installer.Uninstall(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AttemptDeletions retries the files queued for deletion.
func (h *Handler) AttemptDeletions(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Library.AttemptDeletions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	pending := h.deps.Library.PendingDeletes()
	if pending == nil {
		pending = []string{}
	}
	writeJSON(w, http.StatusOK, deletionsResponse{Deleted: n, Pending: pending})
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	body, ok := bodyFrom[importBody](w, r)
	if !ok {
		return
	}
	item, err := h.deps.Installer.Import(r.Context(), body.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, libraryEntry{InstalledItem: item, Status: h.deps.Library.Status().Get(item.ModID)})
}

package v1

import (
	"errors"
	"net/http"

	"github.com/tinoosan/modlib/internal/activation"
	"github.com/tinoosan/modlib/internal/constraint"
)

type conflictResponse struct {
	Error    string         `json:"error"`
	Active   activation.Ref `json:"active"`
	Incoming activation.Ref `json:"incoming"`
	Target   activation.Ref `json:"target"`
}

type sanityResponse struct {
	OK          bool                             `json:"ok"`
	Changes     []constraint.Change              `json:"changes"`
	Unsatisfied []*constraint.UnsatisfiableError `json:"unsatisfied"`
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Profile.Profile())
}

// Toggle flips one mod in the active profile. A blocked toggle still answers
// 200 with the report naming what is missing.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	report, err := h.deps.Profile.Toggle(r.Context(), id)
	var conflict *activation.ConflictError
	if errors.As(err, &conflict) {
		markErr(w, err)
		writeJSON(w, http.StatusConflict, conflictResponse{
			Error:    err.Error(),
			Active:   conflict.Active,
			Incoming: conflict.Incoming,
			Target:   conflict.Target,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) SanityCheck(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Profile.SanityCheck(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := sanityResponse{OK: res.OK(), Changes: res.Changes, Unsatisfied: res.Errors}
	if resp.Changes == nil {
		resp.Changes = []constraint.Change{}
	}
	if resp.Unsatisfied == nil {
		resp.Unsatisfied = []*constraint.UnsatisfiableError{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMessages returns the notifications raised since startup.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Messages.Messages())
}

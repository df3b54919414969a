package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tinoosan/modlib/internal/data"
)

type patchBody struct {
	From  data.Version `json:"from" validate:"required"`
	To    data.Version `json:"to" validate:"required"`
	Links []string     `json:"links" validate:"required,min=1,dive,url"`
}

// addDownloadBody is a catalog entry to download plus the update intent.
type addDownloadBody struct {
	ID               string       `json:"id" validate:"required,uuid"`
	Name             string       `json:"name" validate:"required"`
	Author           string       `json:"author"`
	Description      string       `json:"description"`
	Version          data.Version `json:"version" validate:"required"`
	Links            []string     `json:"links" validate:"required,min=1,dive,url"`
	PatchLinks       []string     `json:"patchLinks" validate:"dive,url"`
	ExtractSubFolder string       `json:"extractSubFolder"`
	ExtractInto      string       `json:"extractInto"`
	Patches          []patchBody  `json:"patches" validate:"dive"`
	Update           bool         `json:"update"`
}

func (b addDownloadBody) mod() data.Mod {
	m := data.Mod{
		ID:          uuid.MustParse(b.ID),
		Name:        b.Name,
		Author:      b.Author,
		Description: b.Description,
		LatestVersion: data.ModVersion{
			Version:          b.Version,
			Links:            b.Links,
			PatchLinks:       b.PatchLinks,
			ExtractSubFolder: b.ExtractSubFolder,
			ExtractInto:      b.ExtractInto,
		},
	}
	for _, p := range b.Patches {
		m.Patches = append(m.Patches, data.ModPatch{From: p.From, To: p.To, Links: p.Links})
	}
	return m
}

type desiredBody struct {
	DesiredState string `json:"desiredState" validate:"required,oneof=paused active"`
}

type importBody struct {
	Path string `json:"path" validate:"required"`
}

// validated decodes the body strictly into T, validates it and stores it in
// the request context.
func validated[T any](h *Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body T
			if err := decodeJSONStrict(w, r, &body); err != nil {
				markErr(w, err)
				if errors.Is(err, ErrContentType) {
					http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
					return
				}
				http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
				return
			}
			if err := h.validate.Struct(body); err != nil {
				var verrs validator.ValidationErrors
				if errors.As(err, &verrs) && len(verrs) > 0 {
					err = errors.New(verrs[0].Namespace() + " failed " + verrs[0].Tag())
				}
				markErr(w, err)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyBody{}, body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (h *Handler) AddDownloadValidation(next http.Handler) http.Handler {
	return validated[addDownloadBody](h)(next)
}

func (h *Handler) DesiredStateValidation(next http.Handler) http.Handler {
	return validated[desiredBody](h)(next)
}

func (h *Handler) ImportValidation(next http.Handler) http.Handler {
	return validated[importBody](h)(next)
}

func bodyFrom[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	body, ok := r.Context().Value(ctxKeyBody{}).(T)
	if !ok {
		markErr(w, ErrBodyCtx)
		http.Error(w, ErrBodyCtx.Error(), http.StatusInternalServerError)
	}
	return body, ok
}

func (h *Handler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		attrs := []any{
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
			"dur_ms", time.Since(startTime).Milliseconds(),
			"bytes", rw.bytes,
		}
		if id := rw.Header().Get(headerRequestID); id != "" {
			attrs = append(attrs, "request_id", id)
		}
		if rw.err != nil {
			h.l.Error(rw.err.Error(), attrs...)
			return
		}
		h.l.Info("", attrs...)
	})
}

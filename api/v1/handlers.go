// Package v1 serves the control API: the download queue, the library and
// the active profile.
package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tinoosan/modlib/internal/activation"
	"github.com/tinoosan/modlib/internal/constraint"
	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/library"
	"github.com/tinoosan/modlib/internal/notify"
	"github.com/tinoosan/modlib/internal/queue"
)

type Downloads interface {
	List() []queue.Entry
	Get(id uuid.UUID) (queue.Entry, bool)
	Pause(ctx context.Context, id uuid.UUID) error
	Resume(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
}

type Installer interface {
	DownloadAndInstall(ctx context.Context, mod data.Mod, updating bool) ([]uuid.UUID, error)
	Import(ctx context.Context, path string) (*data.InstalledItem, error)
	Uninstall(ctx context.Context, id data.ModID) error
}

type Library interface {
	Items() []*data.InstalledItem
	Status() *library.StatusBoard
	PendingDeletes() []string
	AttemptDeletions(ctx context.Context) (int, error)
}

type Profile interface {
	Profile() *data.Profile
	Toggle(ctx context.Context, id data.ModID) (*activation.Report, error)
	SanityCheck(ctx context.Context) (constraint.Result, error)
}

type Messages interface {
	Messages() []notify.Message
}

// Deps are the services the handlers drive.
type Deps struct {
	Downloads Downloads
	Installer Installer
	Library   Library
	Profile   Profile
	Messages  Messages
}

type Handler struct {
	l        *slog.Logger
	deps     Deps
	validate *validator.Validate
}

func NewHandler(l *slog.Logger, deps Deps) *Handler {
	return &Handler{l: l.With("component", "api"), deps: deps, validate: validator.New()}
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyBody struct{}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	markErr(w, err)
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, data.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, data.ErrDuplicateMod),
		errors.Is(err, data.ErrAlreadyDownloading),
		errors.Is(err, data.ErrBadStatus),
		errors.Is(err, data.ErrActivationConflict):
		code = http.StatusConflict
	case errors.Is(err, data.ErrArchiveInvalid),
		errors.Is(err, data.ErrMetadataParse),
		errors.Is(err, data.ErrUnsatisfiable):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, data.ErrTransport):
		code = http.StatusBadGateway
	case errors.Is(err, ErrBadID), errors.Is(err, ErrDesiredState):
		code = http.StatusBadRequest
	}
	http.Error(w, err.Error(), code)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, ErrBadID)
		return uuid.Nil, false
	}
	return id, true
}

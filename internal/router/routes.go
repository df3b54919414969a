package router

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/tinoosan/modlib/api/v1"
	"github.com/tinoosan/modlib/internal/auth"
)

// Pinger reports whether the download transport is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New sets up the application routes and required middleware. An empty
// token disables authentication.
func New(logger *slog.Logger, deps v1.Deps, pinger Pinger, token string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")

	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pinger.Ping(r.Context()); err != nil {
			logger.Warn("transport not ready", "err", err)
			http.Error(w, "transport unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	h := v1.NewHandler(logger, deps)

	r.Use(v1.RequestID)
	r.Use(h.Log)
	r.Use(auth.Middleware(token))

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/downloads", h.ListDownloads)
	get.HandleFunc("/downloads/{id}", h.GetDownload)
	get.HandleFunc("/library", h.ListLibrary)
	get.HandleFunc("/profile", h.GetProfile)
	get.HandleFunc("/notifications", h.ListMessages)

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.Handle("/downloads", h.AddDownloadValidation(http.HandlerFunc(h.AddDownload)))
	post.Handle("/library/import", h.ImportValidation(http.HandlerFunc(h.Import)))
	post.HandleFunc("/library/deletions", h.AttemptDeletions)
	post.HandleFunc("/profile/mods/{id}/toggle", h.Toggle)
	post.HandleFunc("/profile/sanity", h.SanityCheck)

	// PATCHes
	patch := api.Methods("PATCH").Subrouter()
	patch.Handle("/downloads/{id}", h.DesiredStateValidation(http.HandlerFunc(h.UpdateDownload)))

	// DELETEs
	del := api.Methods("DELETE").Subrouter()
	del.HandleFunc("/downloads/{id}", h.CancelDownload)
	del.HandleFunc("/library/{id}", h.Uninstall)

	return r
}

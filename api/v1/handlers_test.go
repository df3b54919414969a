package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/tinoosan/modlib/api/v1"
	"github.com/tinoosan/modlib/internal/activation"
	"github.com/tinoosan/modlib/internal/archive"
	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/downloader"
	"github.com/tinoosan/modlib/internal/install"
	"github.com/tinoosan/modlib/internal/library"
	"github.com/tinoosan/modlib/internal/modinfo"
	"github.com/tinoosan/modlib/internal/notify"
	"github.com/tinoosan/modlib/internal/procedure"
	"github.com/tinoosan/modlib/internal/queue"
	"github.com/tinoosan/modlib/internal/repo"
	"github.com/tinoosan/modlib/internal/router"
	"github.com/tinoosan/modlib/internal/scheduler"
)

const testToken = "testtoken"

const modJSON = `{"id":"11111111-1111-4111-8111-111111111111","name":"Better Moogles",` +
	`"version":"1.2","links":["https://a.example/m.iro"]}`

var modID = uuid.MustParse("11111111-1111-4111-8111-111111111111")

type stack struct {
	h   http.Handler
	tr  *downloader.Manual
	lib *library.Registry
}

func setup(t *testing.T) *stack {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := t.TempDir()
	store := repo.NewInMemoryStore()
	rec := notify.NewRecorder(nil)

	lib := library.New(store, root, log)
	cache := modinfo.NewCache(root, rec, log)
	exec := procedure.NewExecutor(procedure.Config{Root: root}, lib, cache, rec, log)
	events := make(chan downloader.Event, 64)
	tr := downloader.NewManual(downloader.NewChanReporter(events))
	pool := scheduler.New(log, 2)
	q := queue.New(log, tr, events, exec, pool, lib)
	q.Run()
	t.Cleanup(func() {
		q.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		pool.Drain(ctx)
	})

	resolver := activation.New(lib, cache, store, log)
	require.NoError(t, resolver.Load(context.Background()))
	svc := install.NewService(install.Config{}, lib, q, resolver, cache, rec, log)

	deps := v1.Deps{Downloads: q, Installer: svc, Library: lib, Profile: resolver, Messages: rec}
	return &stack{h: router.New(log, deps, tr, testToken), tr: tr, lib: lib}
}

func (s *stack) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	s := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = s.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequiresToken(t *testing.T) {
	s := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/downloads", nil)
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDownloadInstallToggleUninstall(t *testing.T) {
	s := setup(t)

	rr := s.do(t, http.MethodGet, "/v1/downloads", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]queue.Entry](t, rr))

	rr = s.do(t, http.MethodPost, "/v1/downloads", modJSON)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	ids := decode[struct {
		IDs []uuid.UUID `json:"ids"`
	}](t, rr).IDs
	require.Len(t, ids, 1)

	rr = s.do(t, http.MethodPost, "/v1/downloads", modJSON)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodPatch, "/v1/downloads/"+ids[0].String(), `{"desiredState":"paused"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	job, ok := s.tr.Job(ids[0])
	require.True(t, ok)
	require.NoError(t, archive.Create(job.Dest, map[string][]byte{
		"mod.yaml": []byte("id: 11111111-1111-4111-8111-111111111111\nname: Better Moogles\nversion: \"1.2\"\n" +
			"options:\n  - id: speed\n    name: Speed\n    default: 1\n    values:\n      - {value: 1, name: Slow}\n      - {value: 2, name: Fast}\n"),
	}))
	s.tr.Complete(ids[0])
	require.Eventually(t, func() bool {
		return s.lib.Status().Get(modID) == data.StatusInstalled
	}, 2*time.Second, 10*time.Millisecond)

	rr = s.do(t, http.MethodGet, "/v1/library", "")
	require.Equal(t, http.StatusOK, rr.Code)
	lib := decode[struct {
		Items []struct {
			ModID  data.ModID     `json:"modId"`
			Status data.ModStatus `json:"status"`
		} `json:"items"`
	}](t, rr)
	require.Len(t, lib.Items, 1)
	assert.Equal(t, data.StatusInstalled, lib.Items[0].Status)

	rr = s.do(t, http.MethodPost, "/v1/profile/mods/"+modID.String()+"/toggle", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	report := decode[activation.Report](t, rr)
	assert.False(t, report.Blocked)
	require.Len(t, report.Activated, 1)

	rr = s.do(t, http.MethodGet, "/v1/profile", "")
	profile := decode[data.Profile](t, rr)
	require.Len(t, profile.Items, 1)
	// No constraint touches speed, so the option keeps its default unstored.
	_, ok = profile.Items[0].Setting("speed")
	assert.False(t, ok)

	rr = s.do(t, http.MethodPost, "/v1/profile/sanity", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[struct {
		OK bool `json:"ok"`
	}](t, rr).OK)

	rr = s.do(t, http.MethodDelete, "/v1/library/"+modID.String(), "")
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	rr = s.do(t, http.MethodGet, "/v1/profile", "")
	assert.Empty(t, decode[data.Profile](t, rr).Items)

	rr = s.do(t, http.MethodPost, "/v1/library/deletions", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodGet, "/v1/notifications", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decode[[]notify.Message](t, rr))
}

func TestCancelDownload(t *testing.T) {
	s := setup(t)
	rr := s.do(t, http.MethodPost, "/v1/downloads", modJSON)
	require.Equal(t, http.StatusAccepted, rr.Code)
	ids := decode[struct {
		IDs []uuid.UUID `json:"ids"`
	}](t, rr).IDs

	rr = s.do(t, http.MethodDelete, "/v1/downloads/"+ids[0].String(), "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Eventually(t, func() bool {
		return s.lib.Status().Get(modID) == data.StatusNotInstalled
	}, 2*time.Second, 10*time.Millisecond)

	rr = s.do(t, http.MethodDelete, "/v1/downloads/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRequestValidation(t *testing.T) {
	s := setup(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown field", http.MethodPost, "/v1/downloads", `{"id":"x","bogus":1}`, http.StatusBadRequest},
		{"missing links", http.MethodPost, "/v1/downloads", `{"id":"11111111-1111-4111-8111-111111111111","name":"m","version":"1"}`, http.StatusBadRequest},
		{"bad id", http.MethodPost, "/v1/downloads", `{"id":"nope","name":"m","version":"1","links":["https://a.example/m"]}`, http.StatusBadRequest},
		{"bad desired state", http.MethodPatch, "/v1/downloads/" + uuid.NewString(), `{"desiredState":"stopped"}`, http.StatusBadRequest},
		{"unknown download", http.MethodPatch, "/v1/downloads/" + uuid.NewString(), `{"desiredState":"paused"}`, http.StatusNotFound},
		{"malformed path id", http.MethodGet, "/v1/downloads/123", "", http.StatusBadRequest},
		{"import without path", http.MethodPost, "/v1/library/import", `{}`, http.StatusBadRequest},
		{"import missing file", http.MethodPost, "/v1/library/import", `{"path":"/does/not/exist.iro"}`, http.StatusNotFound},
		{"toggle unknown mod", http.MethodPost, "/v1/profile/mods/" + uuid.NewString() + "/toggle", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestContentTypeRejected(t *testing.T) {
	s := setup(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/downloads", bytes.NewBufferString(modJSON))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

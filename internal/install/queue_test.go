package install

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/modlib/internal/archive"
	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/downloader"
	"github.com/tinoosan/modlib/internal/library"
	"github.com/tinoosan/modlib/internal/modinfo"
	"github.com/tinoosan/modlib/internal/notify"
	"github.com/tinoosan/modlib/internal/procedure"
	"github.com/tinoosan/modlib/internal/queue"
	"github.com/tinoosan/modlib/internal/repo"
	"github.com/tinoosan/modlib/internal/scheduler"
)

type liveStack struct {
	root string
	lib  *library.Registry
	tr   *downloader.Manual
	q    *queue.Queue
	svc  *Service
}

// newLiveStack wires a real queue and executor behind a single worker.
func newLiveStack(t *testing.T) *liveStack {
	t.Helper()
	root := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := notify.NewRecorder(nil)
	lib := library.New(repo.NewInMemoryStore(), root, log)
	cache := modinfo.NewCache(root, rec, log)
	exec := procedure.NewExecutor(procedure.Config{Root: root}, lib, cache, rec, log)
	events := make(chan downloader.Event, 64)
	tr := downloader.NewManual(downloader.NewChanReporter(events))
	pool := scheduler.New(log, 1)
	q := queue.New(log, tr, events, exec, pool, lib)
	q.Run()
	t.Cleanup(func() {
		q.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		pool.Drain(ctx)
	})
	return &liveStack{root: root, lib: lib, tr: tr, q: q, svc: NewService(Config{}, lib, q, nil, cache, rec, log)}
}

func (s *liveStack) deliver(t *testing.T, id uuid.UUID, version string) {
	t.Helper()
	job, ok := s.tr.Job(id)
	require.True(t, ok)
	require.NoError(t, archive.Create(job.Dest, map[string][]byte{
		"mod.yaml": []byte("id: 11111111-1111-4111-8111-111111111111\nname: Better Moogles\nversion: \"" + version + "\"\n"),
		"v.txt":    []byte(version),
	}))
	s.tr.Complete(id)
}

func TestRetryAfterBaseFailureInstalls(t *testing.T) {
	s := newLiveStack(t)
	ctx := context.Background()
	m := catalogMod()
	m.LatestVersion.PatchLinks = []string{"https://a.example/p0.irop", "https://a.example/p1.irop"}

	ids, err := s.svc.DownloadAndInstall(ctx, m, false)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	s.tr.Fail(ids[0], errors.New("connection reset"))
	require.Eventually(t, func() bool { return s.q.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, data.StatusNotInstalled, s.lib.Status().Get(modID))

	ids, err = s.svc.DownloadAndInstall(ctx, m, false)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	// The base takes the only worker and waits there for its patches.
	s.deliver(t, ids[0], "1.0")
	s.deliver(t, ids[2], "1.2")
	s.deliver(t, ids[1], "1.1")
	require.Eventually(t, func() bool {
		return s.lib.Status().Get(modID) == data.StatusInstalled
	}, 2*time.Second, 10*time.Millisecond)

	item, ok := s.lib.Get(modID)
	require.True(t, ok)
	assert.Equal(t, data.Version("1.2"), item.LatestInstalled().Version.Version)
	assert.Eventually(t, func() bool { return s.q.Len() == 0 }, time.Second, 10*time.Millisecond)
	left, err := os.ReadDir(filepath.Join(s.root, "temp"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestFailedPatchCancelsBaseDownload(t *testing.T) {
	s := newLiveStack(t)
	m := catalogMod()
	m.LatestVersion.PatchLinks = []string{"https://a.example/p0.irop"}

	ids, err := s.svc.DownloadAndInstall(context.Background(), m, false)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	s.tr.Fail(ids[1], errors.New("404"))
	require.Eventually(t, func() bool { return s.q.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	_, ok := s.tr.Job(ids[0])
	assert.False(t, ok)
	assert.Equal(t, data.StatusNotInstalled, s.lib.Status().Get(modID))
}

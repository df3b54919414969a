package install

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/modlib/internal/archive"
	"github.com/tinoosan/modlib/internal/barrier"
	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/library"
	"github.com/tinoosan/modlib/internal/notify"
	"github.com/tinoosan/modlib/internal/procedure"
	"github.com/tinoosan/modlib/internal/queue"
	"github.com/tinoosan/modlib/internal/repo"
)

var modID = uuid.MustParse("11111111-1111-4111-8111-111111111111")

type fakeQueue struct {
	mu        sync.Mutex
	reqs      []*queue.Request
	cancelled []uuid.UUID
	refuse    bool
	// limit refuses every request once this many are queued.
	limit int
}

func (q *fakeQueue) Enqueue(_ context.Context, r *queue.Request) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.refuse || (q.limit > 0 && len(q.reqs) >= q.limit) {
		return false, nil
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	q.reqs = append(q.reqs, r)
	return true, nil
}

func (q *fakeQueue) Cancel(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, id)
	return nil
}

func (q *fakeQueue) cancelledIDs() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.cancelled...)
}

type fakeCache struct{ invalidated []string }

func (c *fakeCache) Invalidate(path string) { c.invalidated = append(c.invalidated, path) }

type fakeProfile struct{ deactivated []data.ModID }

func (p *fakeProfile) Deactivate(_ context.Context, id data.ModID) error {
	p.deactivated = append(p.deactivated, id)
	return nil
}

type fixture struct {
	root    string
	lib     *library.Registry
	queue   *fakeQueue
	profile *fakeProfile
	cache   *fakeCache
	rec     *notify.Recorder
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	lib := library.New(repo.NewInMemoryStore(), root, log)
	fx := &fixture{root: root, lib: lib, queue: &fakeQueue{}, profile: &fakeProfile{}, cache: &fakeCache{}, rec: notify.NewRecorder(nil)}
	fx.svc = NewService(Config{}, lib, fx.queue, fx.profile, fx.cache, fx.rec, log)
	return fx
}

func catalogMod() data.Mod {
	return data.Mod{
		ID:   modID,
		Name: "Better Moogles",
		LatestVersion: data.ModVersion{
			Version: "1.2",
			Links:   []string{"https://a.example/m.iro", "https://b.example/m.iro"},
		},
	}
}

func (fx *fixture) install(t *testing.T, v data.Version) {
	t.Helper()
	loc := data.InstallFileName(modID, "Better Moogles", v, archive.Ext)
	require.NoError(t, os.WriteFile(filepath.Join(fx.root, loc), []byte("IROS"), 0o644))
	require.NoError(t, fx.lib.AddInstall(context.Background(), &data.InstalledItem{
		ModID:    modID,
		Cached:   data.Mod{ID: modID, Name: "Better Moogles"},
		Versions: []*data.InstalledVersion{{Version: data.ModVersion{Version: v}, InstalledLocation: loc}},
	}))
}

func TestDownloadFreshMod(t *testing.T) {
	fx := newFixture(t)
	ids, err := fx.svc.DownloadAndInstall(context.Background(), catalogMod(), false)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Len(t, fx.queue.reqs, 1)

	r := fx.queue.reqs[0]
	assert.Equal(t, data.CategoryMod, r.Category)
	assert.Equal(t, catalogMod().LatestVersion.Links, r.Links)
	assert.Equal(t, filepath.Join(fx.root, "temp"), filepath.Dir(r.Dest))
	proc, ok := r.Proc.(*procedure.InstallMod)
	require.True(t, ok)
	assert.Equal(t, r.Dest, proc.File)
	assert.Equal(t, data.StatusDownloading, fx.lib.Status().Get(modID))
	assert.DirExists(t, filepath.Join(fx.root, "temp"))
}

func TestDownloadRejectsBusyAndInstalled(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, err := fx.svc.DownloadAndInstall(ctx, catalogMod(), false)
	require.NoError(t, err)
	_, err = fx.svc.DownloadAndInstall(ctx, catalogMod(), false)
	assert.ErrorIs(t, err, data.ErrAlreadyDownloading)

	fx = newFixture(t)
	fx.install(t, "1.0")
	_, err = fx.svc.DownloadAndInstall(ctx, catalogMod(), false)
	assert.ErrorIs(t, err, data.ErrDuplicateMod)
	assert.Empty(t, fx.queue.reqs)
}

func TestDownloadWithoutLinks(t *testing.T) {
	fx := newFixture(t)
	m := catalogMod()
	m.LatestVersion.Links = nil
	_, err := fx.svc.DownloadAndInstall(context.Background(), m, false)
	assert.ErrorIs(t, err, ErrNoLinks)
	assert.Equal(t, data.StatusNotInstalled, fx.lib.Status().Get(modID))
}

func TestUpdateWithBridgingPatch(t *testing.T) {
	fx := newFixture(t)
	fx.install(t, "1.1")
	m := catalogMod()
	m.Patches = []data.ModPatch{{From: "1.1", To: "1.2", Links: []string{"https://a.example/p.irop"}}}

	_, err := fx.svc.DownloadAndInstall(context.Background(), m, true)
	require.NoError(t, err)
	require.Len(t, fx.queue.reqs, 1)
	r := fx.queue.reqs[0]
	_, ok := r.Proc.(*procedure.PatchMod)
	require.True(t, ok)
	assert.Equal(t, []string{"https://a.example/p.irop"}, r.Links)
	assert.Equal(t, archive.PatchExt, filepath.Ext(r.Dest))
	assert.Equal(t, data.StatusUpdating, fx.lib.Status().Get(modID))

	r.OnCancel()
	assert.Equal(t, data.StatusInstalled, fx.lib.Status().Get(modID))
}

func TestUpdateWithoutSinglePatchDownloadsFull(t *testing.T) {
	fx := newFixture(t)
	fx.install(t, "1.0")
	m := catalogMod()
	m.Patches = []data.ModPatch{
		{From: "1.0", To: "1.1", Links: []string{"p1"}},
		{From: "1.1", To: "1.2", Links: []string{"p2"}},
	}

	_, err := fx.svc.DownloadAndInstall(context.Background(), m, true)
	require.NoError(t, err)
	require.Len(t, fx.queue.reqs, 1)
	_, ok := fx.queue.reqs[0].Proc.(*procedure.InstallMod)
	assert.True(t, ok)
}

func TestDownloadThenPatchPlan(t *testing.T) {
	fx := newFixture(t)
	m := catalogMod()
	m.LatestVersion.PatchLinks = []string{"p0", "p1", "p2"}

	ids, err := fx.svc.DownloadAndInstall(context.Background(), m, false)
	require.NoError(t, err)
	require.Len(t, ids, 4)

	base, ok := fx.queue.reqs[0].Proc.(*procedure.DownloadThenPatch)
	require.True(t, ok)
	assert.Equal(t, 3, base.Barrier.Expected())
	var files []string
	for i, r := range fx.queue.reqs[1:] {
		p, ok := r.Proc.(*procedure.DownloadPatchOnly)
		require.True(t, ok)
		assert.Same(t, base.Barrier, p.Barrier)
		assert.Equal(t, []string{m.LatestVersion.PatchLinks[i]}, r.Links)
		files = append(files, p.File)
	}
	assert.Equal(t, files, base.Barrier.Files())

	fx.queue.reqs[2].OnCancel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.False(t, base.Barrier.WaitForAll(ctx))
	assert.Equal(t, data.StatusNotInstalled, fx.lib.Status().Get(modID))
}

func TestDownloadRefusedByQueueReverts(t *testing.T) {
	fx := newFixture(t)
	fx.queue.refuse = true
	_, err := fx.svc.DownloadAndInstall(context.Background(), catalogMod(), false)
	assert.ErrorIs(t, err, data.ErrAlreadyDownloading)
	assert.Equal(t, data.StatusNotInstalled, fx.lib.Status().Get(modID))
}

func TestRefusedPatchRollsBackQueuedRequests(t *testing.T) {
	fx := newFixture(t)
	fx.queue.limit = 2
	m := catalogMod()
	m.LatestVersion.PatchLinks = []string{"p0", "p1"}

	ids, err := fx.svc.DownloadAndInstall(context.Background(), m, false)
	assert.ErrorIs(t, err, data.ErrAlreadyDownloading)
	assert.Empty(t, ids)
	require.Len(t, fx.queue.reqs, 2)
	assert.Equal(t, []uuid.UUID{fx.queue.reqs[0].ID, fx.queue.reqs[1].ID}, fx.queue.cancelledIDs())
	base := fx.queue.reqs[0].Proc.(*procedure.DownloadThenPatch)
	assert.Equal(t, barrier.Failed, base.Barrier.Remaining())
	assert.Equal(t, data.StatusNotInstalled, fx.lib.Status().Get(modID))
}

func TestBaseFailureCancelsSiblingPatches(t *testing.T) {
	for _, hook := range []string{"error", "cancel"} {
		t.Run(hook, func(t *testing.T) {
			fx := newFixture(t)
			m := catalogMod()
			m.LatestVersion.PatchLinks = []string{"p0", "p1"}
			ids, err := fx.svc.DownloadAndInstall(context.Background(), m, false)
			require.NoError(t, err)
			require.Len(t, ids, 3)

			base := fx.queue.reqs[0]
			if hook == "error" {
				base.OnError(data.ErrTransport)
			} else {
				base.OnCancel()
			}
			assert.Eventually(t, func() bool {
				return assert.ObjectsAreEqual(ids[1:], fx.queue.cancelledIDs())
			}, time.Second, 5*time.Millisecond)
			assert.Equal(t, barrier.Failed, base.Proc.(*procedure.DownloadThenPatch).Barrier.Remaining())
			assert.Equal(t, data.StatusNotInstalled, fx.lib.Status().Get(modID))
		})
	}
}

func TestRevertKeepsLaterTransition(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.DownloadAndInstall(context.Background(), catalogMod(), false)
	require.NoError(t, err)
	fx.lib.SetStatus(modID, data.StatusInstalled)

	fx.queue.reqs[0].OnError(data.ErrTransport)
	assert.Equal(t, data.StatusInstalled, fx.lib.Status().Get(modID))
}

func TestImportContainer(t *testing.T) {
	fx := newFixture(t)
	src := filepath.Join(t.TempDir(), "moogles.iro")
	require.NoError(t, archive.Create(src, map[string][]byte{
		"mod.yaml": []byte("id: 11111111-1111-4111-8111-111111111111\nname: Better Moogles\nversion: \"1.10\"\n"),
	}))
	ctx := context.Background()

	item, err := fx.svc.Import(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, modID, item.ModID)
	assert.Equal(t, data.Version("1.10"), item.Versions[0].Version.Version)
	assert.FileExists(t, filepath.Join(fx.root, item.Versions[0].InstalledLocation))
	assert.FileExists(t, src)
	assert.Equal(t, data.StatusInstalled, fx.lib.Status().Get(modID))
	assert.Len(t, fx.rec.Messages(), 1)

	entries, _ := os.ReadDir(fx.root)
	_, err = fx.svc.Import(ctx, src)
	assert.ErrorIs(t, err, data.ErrDuplicateMod)
	again, _ := os.ReadDir(fx.root)
	assert.Len(t, again, len(entries))
}

func TestImportFolderWithoutDescriptor(t *testing.T) {
	fx := newFixture(t)
	src := filepath.Join(t.TempDir(), "Field Textures")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "field"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "field", "a.png"), []byte("png"), 0o644))
	ctx := context.Background()

	item, err := fx.svc.Import(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "Field Textures", item.Cached.Name)
	assert.Equal(t, DefaultImportVersion, item.Versions[0].Version.Version)
	assert.FileExists(t, filepath.Join(fx.root, item.Versions[0].InstalledLocation, "field", "a.png"))

	_, err = fx.svc.Import(ctx, src)
	assert.ErrorIs(t, err, data.ErrDuplicateMod)
}

func TestImportRejectsNonContainer(t *testing.T) {
	fx := newFixture(t)
	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))
	_, err := fx.svc.Import(context.Background(), src)
	assert.ErrorIs(t, err, data.ErrArchiveInvalid)
}

func TestUninstall(t *testing.T) {
	fx := newFixture(t)
	fx.install(t, "1.0")
	it, _ := fx.lib.Get(modID)
	loc := filepath.Join(fx.root, it.Versions[0].InstalledLocation)

	require.NoError(t, fx.svc.Uninstall(context.Background(), modID))
	_, ok := fx.lib.Get(modID)
	assert.False(t, ok)
	assert.NoFileExists(t, loc)
	assert.Equal(t, []data.ModID{modID}, fx.profile.deactivated)
	assert.Equal(t, []string{loc}, fx.cache.invalidated)
	assert.ErrorIs(t, fx.svc.Uninstall(context.Background(), modID), data.ErrNotFound)
}

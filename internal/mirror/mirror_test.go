package mirror

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/italolelis/modmirror/internal/catalog"
	"github.com/italolelis/modmirror/internal/content"
	"github.com/italolelis/modmirror/internal/queue"
	"github.com/italolelis/modmirror/internal/staging"
	"github.com/italolelis/modmirror/internal/storage"
	"github.com/italolelis/modmirror/internal/transfer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	installRoot = "/data/.minecraft/skyclient"
	stagingDir  = "/data/.skyclient-temp"
	emptyMD5    = "d41d8cd98f00b204e9800998ecf8427e"
)

type fakeSource struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	fail    map[string]error
	opened  chan string
	release chan struct{}
}

func (s *fakeSource) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	if s.opened != nil {
		s.opened <- uri
		<-s.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail[uri]; err != nil {
		return nil, err
	}

	body, ok := s.bodies[uri]
	if !ok {
		return nil, &transfer.NetworkError{Operation: "fetch_content", URL: uri, StatusCode: 404, Message: "404 Not Found"}
	}

	return io.NopCloser(bytes.NewReader(body)), nil
}

type memLedger struct {
	mu    sync.Mutex
	files map[string]map[string]string
}

func newMemLedger() *memLedger {
	return &memLedger{files: make(map[string]map[string]string)}
}

func (l *memLedger) TrackFile(_ context.Context, itemID, fileName, hash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.files[itemID] == nil {
		l.files[itemID] = make(map[string]string)
	}

	l.files[itemID][fileName] = hash

	return nil
}

func (l *memLedger) UntrackFile(_ context.Context, itemID, fileName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.files[itemID], fileName)

	return nil
}

func (l *memLedger) LocalFiles(_ context.Context, itemID string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var names []string
	for name := range l.files[itemID] {
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

func (l *memLedger) Installed(context.Context) ([]storage.FileRecord, error) {
	return nil, nil
}

type fixture struct {
	fs      afero.Fs
	source  *fakeSource
	catalog *catalog.Catalog
	ledger  *memLedger
	orch    *Orchestrator
	a, b    *content.Item
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	source := &fakeSource{
		bodies: map[string][]byte{
			"https://cdn.example/mods/A.jar": []byte("jar A"),
			"https://cdn.example/mods/B.jar": bytes.Repeat([]byte("b"), 100),
		},
	}

	a := &content.Item{ID: "a", Folder: "mods", File: "A.jar", URL: "https://cdn.example/mods/A.jar", Packages: []string{"b", "unknown"}}
	b := &content.Item{ID: "b", Folder: "mods", File: "B.jar", URL: "https://cdn.example/mods/B.jar"}
	c := catalog.New(a, b)
	ledger := newMemLedger()

	stager := staging.NewStager(fs, stagingDir, source, 16, nil)
	orch := New(fs, installRoot, queue.NewManager(), stager, c, ledger, nil, opts)

	return &fixture{fs: fs, source: source, catalog: c, ledger: ledger, orch: orch, a: a, b: b}
}

func (f *fixture) dest(name string) string {
	return filepath.Join(installRoot, "mods", name)
}

func (f *fixture) write(t *testing.T, name string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, f.dest(name), data, 0o644))
}

func (f *fixture) exists(t *testing.T, path string) bool {
	t.Helper()

	ok, err := afero.Exists(f.fs, path)
	require.NoError(t, err)

	return ok
}

func TestEndToEnd_InstallItemWithDependency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxParallel: 2})

	refs := f.orch.Enqueue(ctx, f.a)
	require.Len(t, refs, 2)

	q := f.orch.Queue()
	assert.True(t, q.Contains(f.dest("A.jar")))
	assert.True(t, q.Contains(f.dest("B.jar")))
	assert.Equal(t, 2, q.Len())

	staged := make([]staging.Result, 0, len(refs))

	for _, ref := range refs {
		res, err := f.orch.stager.Stage(ctx, ref)
		require.NoError(t, err)
		require.False(t, res.Canceled)
		assert.True(t, f.exists(t, res.Path))

		staged = append(staged, res)
	}

	assert.NotEqual(t, staged[0].Path, staged[1].Path)

	for i, ref := range refs {
		require.NoError(t, f.orch.Commit(ctx, staged[i].Path, ref.Destination))
		q.Remove(ref)
	}

	got, err := afero.ReadFile(f.fs, f.dest("A.jar"))
	require.NoError(t, err)
	assert.Equal(t, "jar A", string(got))
	assert.True(t, f.exists(t, f.dest("B.jar")))
	assert.Zero(t, q.Len())
}

func TestEndToEnd_RemoveVerifiedItemAndUnverifiedDependency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	f.a.Hash = emptyMD5
	f.a.LocalFiles = []string{"A.jar"}
	f.b.Hash = "ffffffffffffffffffffffffffffffff"
	f.b.LocalFiles = []string{"B.jar"}

	f.write(t, "A.jar", nil)
	f.write(t, "B.jar", []byte("externally edited"))

	f.orch.Enqueue(ctx, f.a)

	require.NoError(t, f.orch.Remove(ctx, f.a))

	assert.False(t, f.exists(t, f.dest("A.jar")))
	assert.False(t, f.exists(t, f.dest("B.jar")))
	assert.Empty(t, f.a.LocalFiles)
	assert.Empty(t, f.b.LocalFiles)
	assert.Zero(t, f.orch.Queue().Len())
}

func TestEnqueue_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	first := f.orch.Enqueue(ctx, f.a)
	second := f.orch.Enqueue(ctx, f.a)

	assert.Equal(t, 2, f.orch.Queue().Len())

	cur, ok := f.orch.Queue().Lookup(f.dest("A.jar"))
	require.True(t, ok)
	assert.Equal(t, second[0].ID, cur.ID)
	assert.NotEqual(t, first[0].ID, cur.ID)
}

func TestEnqueue_ReferenceFields(t *testing.T) {
	f := newFixture(t, Options{})
	f.a.Hash = "abc"

	refs := f.orch.Enqueue(context.Background(), f.a)

	assert.Equal(t, "a", refs[0].ItemID)
	assert.Equal(t, "A.jar", refs[0].File)
	assert.Equal(t, "abc", refs[0].Hash)
	assert.Equal(t, f.a.URL, refs[0].Source)
	assert.Equal(t, "b", refs[1].ItemID)
}

func TestRemove_NoHashDeletesRegardlessOfContent(t *testing.T) {
	f := newFixture(t, Options{})
	f.b.LocalFiles = []string{"B.jar"}
	f.write(t, "B.jar", []byte("anything"))

	require.NoError(t, f.orch.Remove(context.Background(), f.b))
	assert.False(t, f.exists(t, f.dest("B.jar")))
}

func TestRemove_HashMismatchStillDeletes(t *testing.T) {
	f := newFixture(t, Options{})
	f.b.Hash = emptyMD5
	f.b.LocalFiles = []string{"B.jar"}
	f.write(t, "B.jar", []byte("modified by the user"))

	require.NoError(t, f.orch.Remove(context.Background(), f.b))
	assert.False(t, f.exists(t, f.dest("B.jar")))
}

func TestRemove_MatchingHashDequeuesPendingInstall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.b.Hash = emptyMD5
	f.b.LocalFiles = []string{"B.jar"}
	f.write(t, "B.jar", nil)

	f.orch.Enqueue(ctx, f.b)
	require.True(t, f.orch.Queue().Contains(f.dest("B.jar")))

	require.NoError(t, f.orch.Remove(ctx, f.b))
	assert.False(t, f.orch.Queue().Contains(f.dest("B.jar")))
	assert.False(t, f.exists(t, f.dest("B.jar")))
}

func TestRemove_MissingFileIsNotAnError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.NoError(t, f.ledger.TrackFile(ctx, "b", "B.jar", ""))
	f.b.LocalFiles = []string{"B.jar"}

	require.NoError(t, f.orch.Remove(ctx, f.b))
	assert.Empty(t, f.b.LocalFiles)

	files, _ := f.ledger.LocalFiles(ctx, "b")
	assert.Empty(t, files)
}

func TestRemove_DeleteFailureIsReportedPerFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.b.LocalFiles = []string{"B.jar", "B-extra.jar"}
	f.write(t, "B.jar", []byte("b"))
	f.write(t, "B-extra.jar", []byte("b"))

	ro := New(afero.NewReadOnlyFs(f.fs), installRoot, queue.NewManager(), nil, f.catalog, nil, nil, Options{})

	err := ro.Remove(ctx, f.b)
	require.Error(t, err)

	var removalErr *transfer.RemovalError
	require.True(t, errors.As(err, &removalErr))
	assert.Equal(t, "b", removalErr.ItemID)

	assert.ElementsMatch(t, []string{"B.jar", "B-extra.jar"}, f.b.LocalFiles)
	assert.True(t, f.exists(t, f.dest("B.jar")))
}

func TestRemove_VerifyDependencies(t *testing.T) {
	f := newFixture(t, Options{VerifyDependencies: true})
	f.a.LocalFiles = []string{}
	f.b.Hash = emptyMD5
	f.b.LocalFiles = []string{"B.jar"}
	f.write(t, "B.jar", nil)

	require.NoError(t, f.orch.Remove(context.Background(), f.a))
	assert.False(t, f.exists(t, f.dest("B.jar")))
}

func TestRemove_HydratesFromDisk(t *testing.T) {
	f := newFixture(t, Options{})
	f.write(t, "A.jar", []byte("a"))
	f.b.LocalFiles = []string{}

	require.NoError(t, f.orch.Remove(context.Background(), f.a))
	assert.False(t, f.exists(t, f.dest("A.jar")))
}

func TestHydrate_ListsUntrackedPrimaryFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.NoError(t, f.ledger.TrackFile(ctx, "a", "A-extra.jar", ""))
	f.write(t, "A-extra.jar", []byte("extra"))
	f.write(t, "A.jar", []byte("a"))

	require.NoError(t, f.orch.Hydrate(ctx, f.a))
	assert.Equal(t, []string{"A-extra.jar", "A.jar"}, f.a.LocalFiles)

	f.b.LocalFiles = []string{}
	require.NoError(t, f.orch.Remove(ctx, f.a))
	assert.False(t, f.exists(t, f.dest("A.jar")))
	assert.False(t, f.exists(t, f.dest("A-extra.jar")))
}

func TestRemove_CancelsAndPurgesDequeuedTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.b.LocalFiles = []string{}

	refs := f.orch.Enqueue(ctx, f.b)
	staged := filepath.Join(stagingDir, refs[0].StagingName())
	require.NoError(t, afero.WriteFile(f.fs, staged, []byte("partial"), 0o644))

	require.NoError(t, f.orch.Remove(ctx, f.b))

	assert.True(t, refs[0].Canceled())
	assert.False(t, f.orch.Queue().Contains(f.dest("B.jar")))
	assert.False(t, f.exists(t, staged))
}

func TestCommit_MissingSourceIsNotFound(t *testing.T) {
	f := newFixture(t, Options{})

	err := f.orch.Commit(context.Background(), filepath.Join(stagingDir, "gone-A.jar"), f.dest("A.jar"))
	require.Error(t, err)

	var commitErr *transfer.CommitError
	require.True(t, errors.As(err, &commitErr))
	assert.True(t, errors.Is(err, transfer.ErrStagedNotFound))
	assert.False(t, f.exists(t, f.dest("A.jar")))
}

func TestCommit_CreatesParentDirectories(t *testing.T) {
	f := newFixture(t, Options{})
	staged := filepath.Join(stagingDir, "x-P.zip")
	dest := filepath.Join(installRoot, "resourcepacks", "nested", "P.zip")

	require.NoError(t, afero.WriteFile(f.fs, staged, []byte("zip"), 0o644))
	require.NoError(t, f.orch.Commit(context.Background(), staged, dest))

	assert.True(t, f.exists(t, dest))
	assert.False(t, f.exists(t, staged))
}

func TestRun_CommitsAndTracks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxParallel: 2})
	f.orch.Enqueue(ctx, f.a)

	require.NoError(t, f.orch.Run(ctx))

	assert.True(t, f.exists(t, f.dest("A.jar")))
	assert.True(t, f.exists(t, f.dest("B.jar")))
	assert.Zero(t, f.orch.Queue().Len())
	assert.Len(t, f.orch.OnTransferCommitted, 2)

	require.NoError(t, f.orch.Hydrate(ctx, f.a))
	assert.Equal(t, []string{"A.jar"}, f.a.LocalFiles)

	entries, err := afero.ReadDir(f.fs, stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_FailureDoesNotStopSiblings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MaxParallel: 1})
	f.source.fail = map[string]error{f.a.URL: errors.New("connection reset")}
	f.orch.Enqueue(ctx, f.a)

	err := f.orch.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	assert.False(t, f.exists(t, f.dest("A.jar")))
	assert.True(t, f.exists(t, f.dest("B.jar")))
	assert.Zero(t, f.orch.Queue().Len())

	require.Len(t, f.orch.OnTransferError, 1)
	ev := <-f.orch.OnTransferError
	assert.Equal(t, f.dest("A.jar"), ev.Reference.Destination)
}

func TestRun_CanceledReferenceIsDequeuedWithoutCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.orch.Enqueue(ctx, f.b)

	require.True(t, f.orch.Cancel(f.dest("B.jar")))
	require.NoError(t, f.orch.Run(ctx))

	assert.False(t, f.exists(t, f.dest("B.jar")))
	assert.Zero(t, f.orch.Queue().Len())
	assert.Empty(t, f.orch.OnTransferCommitted)
}

// abortingSource serves one chunk, then cancels the run's context and fails
// the read the way an aborted HTTP body does.
type abortingSource struct {
	cancel context.CancelFunc
}

func (s *abortingSource) Open(ctx context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(io.MultiReader(
		bytes.NewReader(bytes.Repeat([]byte("x"), 16)),
		readerFunc(func([]byte) (int, error) {
			s.cancel()

			return 0, ctx.Err()
		}),
	)), nil
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestRun_ShutdownDuringTransferIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, Options{})
	stager := staging.NewStager(f.fs, stagingDir, &abortingSource{cancel: cancel}, 16, nil)
	orch := New(f.fs, installRoot, queue.NewManager(), stager, f.catalog, f.ledger, nil, Options{})
	orch.Enqueue(ctx, f.b)

	require.NoError(t, orch.Run(ctx))

	assert.Empty(t, orch.OnTransferError)
	assert.Empty(t, orch.OnTransferCommitted)
	assert.False(t, f.exists(t, f.dest("B.jar")))

	entries, err := afero.ReadDir(f.fs, stagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_RemovalWinsOverInFlightInstall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.source.opened = make(chan string)
	f.source.release = make(chan struct{})
	f.orch.Enqueue(ctx, f.b)

	done := make(chan error)

	go func() {
		done <- f.orch.Run(ctx)
	}()

	<-f.source.opened
	require.NoError(t, f.orch.Remove(ctx, f.b))
	close(f.source.release)

	require.NoError(t, <-done)
	assert.False(t, f.exists(t, f.dest("B.jar")))
	assert.Zero(t, f.orch.Queue().Len())
	assert.Empty(t, f.orch.OnTransferCommitted)
}

func TestRun_EmptyQueue(t *testing.T) {
	f := newFixture(t, Options{})
	assert.NoError(t, f.orch.Run(context.Background()))
}

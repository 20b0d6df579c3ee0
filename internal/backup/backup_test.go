package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/proust-questionnaire/internal/metrics"
)

// fakeDB "snapshots" by writing a fixed payload.
type fakeDB struct {
	payload []byte
	err     error
}

func (f *fakeDB) Snapshot(_ context.Context, path string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(path, f.payload, 0o600)
}

func newTestRunner(t *testing.T, db Snapshotter, keep int) (*Runner, *age.X25519Identity, *metrics.Metrics) {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	m := metrics.New()
	r, err := NewRunner(db, Config{
		Dir:       t.TempDir(),
		Recipient: id.Recipient().String(),
		Keep:      keep,
	}, m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}
	return r, id, m
}

func decrypt(t *testing.T, path string, id age.Identity) []byte {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	plain, err := age.Decrypt(f, id)
	require.NoError(t, err)
	zr, err := zstd.NewReader(plain)
	require.NoError(t, err)
	defer zr.Close()

	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return out
}

func TestRunOnce_RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("SQLite format 3\x00 proust "), 1000)
	r, id, m := newTestRunner(t, &fakeDB{payload: payload}, 3)

	path, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "proust-20260102T040405Z.db.zst.age", filepath.Base(path))
	assert.Equal(t, payload, decrypt(t, path, id))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Backups.WithLabelValues("success")))

	// nothing but the backup is left behind
	entries, err := os.ReadDir(r.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunOnce_NotReadableWithOtherKey(t *testing.T) {
	r, _, _ := newTestRunner(t, &fakeDB{payload: []byte("data")}, 3)
	path, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	other, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = age.Decrypt(f, other)
	assert.Error(t, err)
}

func TestRunOnce_Prunes(t *testing.T) {
	r, _, _ := newTestRunner(t, &fakeDB{payload: []byte("data")}, 2)

	var paths []string
	for range 4 {
		path, err := r.RunOnce(context.Background())
		require.NoError(t, err)
		paths = append(paths, filepath.Base(path))
	}

	names, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, paths[2:], names)
}

func TestRunOnce_SnapshotFailure(t *testing.T) {
	r, _, m := newTestRunner(t, &fakeDB{err: errors.New("disk full")}, 3)

	_, err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Backups.WithLabelValues("failure")))

	entries, err := os.ReadDir(r.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestList_IgnoresForeignFiles(t *testing.T) {
	r, _, _ := newTestRunner(t, &fakeDB{payload: []byte("data")}, 3)
	require.NoError(t, os.WriteFile(filepath.Join(r.dir, "notes.txt"), nil, 0o600))
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	names, err := r.List()
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestNewRunner_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewRunner(&fakeDB{}, Config{Recipient: "age1xyz"}, nil, logger)
	assert.Error(t, err, "missing dir")

	_, err = NewRunner(&fakeDB{}, Config{Dir: t.TempDir(), Recipient: "not-a-key"}, nil, logger)
	assert.Error(t, err, "bad recipient")
}

func TestRun_StopsOnCancel(t *testing.T) {
	r, _, _ := newTestRunner(t, &fakeDB{payload: []byte("data")}, 3)
	r.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

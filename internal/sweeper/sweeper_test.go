package sweeper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdfdispatcher/internal/operation"
	"github.com/local/pdfdispatcher/internal/store"
)

type recordingRemover struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (r *recordingRemover) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.deleted = append(r.deleted, name)
	return nil
}

func touch(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestSweepOnceFiles(t *testing.T) {
	uploads, outputs := t.TempDir(), t.TempDir()
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	touch(t, uploads, "stale.pdf", old)
	fresh := touch(t, uploads, "fresh.pdf", now)
	touch(t, outputs, "merged_a.pdf", old)
	touch(t, outputs, "split_b_part001_p1-1.pdf", old)
	require.NoError(t, os.Mkdir(filepath.Join(outputs, "nested"), 0o755))

	s := New(Config{UploadDir: uploads, OutputDir: outputs, FileMaxAge: 24 * time.Hour}, store.NewMemoryRegistry(), nil)
	rep := s.SweepOnce(context.Background(), now)

	assert.Equal(t, 1, rep.Uploads)
	assert.Equal(t, 2, rep.Outputs)
	assert.Zero(t, rep.Errors)
	assert.FileExists(t, fresh)
	assert.DirExists(t, filepath.Join(outputs, "nested"))
}

func TestSweepOnceExpiredRecords(t *testing.T) {
	ctx := context.Background()
	uploads, outputs := t.TempDir(), t.TempDir()
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	reg := store.NewMemoryRegistry()

	in := touch(t, uploads, "old_00_a.pdf", now)
	out := touch(t, outputs, "merged_old.pdf", now)
	oldRec, err := operation.New("old", operation.TypeUpload,
		[]operation.InputFile{{OriginalName: "a.pdf", StoragePath: in}}, nil, operation.ClientInfo{}, now.Add(-8*24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, reg.Create(ctx, oldRec))
	_, err = reg.MarkProcessing(ctx, "old", now.Add(-8*24*time.Hour))
	require.NoError(t, err)
	_, err = reg.MarkCompleted(ctx, "old", []operation.OutputFile{
		{Filename: "merged_old.pdf", StoragePath: out, RemoteURL: "s3://b/merged_old.pdf"},
	}, now.Add(-8*24*time.Hour))
	require.NoError(t, err)

	// stuck records go too
	stuck, err := operation.New("stuck", operation.TypeUpload, []operation.InputFile{{OriginalName: "b.pdf"}}, nil, operation.ClientInfo{}, now.Add(-10*24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, reg.Create(ctx, stuck))

	recent, err := operation.New("recent", operation.TypeUpload, []operation.InputFile{{OriginalName: "c.pdf"}}, nil, operation.ClientInfo{}, now.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, reg.Create(ctx, recent))

	remote := &recordingRemover{}
	s := New(Config{UploadDir: uploads, OutputDir: outputs, Retention: 7 * 24 * time.Hour}, reg, remote)
	rep := s.SweepOnce(ctx, now)

	assert.Equal(t, 2, rep.Records)
	assert.Equal(t, 1, rep.Remote)
	assert.Zero(t, rep.Errors)
	assert.Equal(t, []string{"merged_old.pdf"}, remote.deleted)
	assert.NoFileExists(t, in)
	assert.NoFileExists(t, out)

	_, err = reg.FindByID(ctx, "old")
	assert.ErrorIs(t, err, operation.ErrNotFound)
	_, err = reg.FindByID(ctx, "stuck")
	assert.ErrorIs(t, err, operation.ErrNotFound)
	_, err = reg.FindByID(ctx, "recent")
	assert.NoError(t, err)
}

func TestSweepOnceRemoteFailureIsCounted(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	reg := store.NewMemoryRegistry()
	rec, err := operation.New("old", operation.TypeUpload, []operation.InputFile{{OriginalName: "a.pdf"}}, nil, operation.ClientInfo{}, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, reg.Create(ctx, rec))
	_, err = reg.MarkProcessing(ctx, "old", now)
	require.NoError(t, err)
	_, err = reg.MarkCompleted(ctx, "old", []operation.OutputFile{{Filename: "x.pdf", RemoteURL: "s3://b/x.pdf"}}, now)
	require.NoError(t, err)

	s := New(Config{Retention: 24 * time.Hour}, reg, &recordingRemover{err: errors.New("forbidden")})
	rep := s.SweepOnce(ctx, now)

	assert.Equal(t, 1, rep.Errors)
	assert.Equal(t, 1, rep.Records, "record is still removed")
}

func TestStartStop(t *testing.T) {
	uploads := t.TempDir()
	stale := touch(t, uploads, "stale.pdf", time.Now().Add(-time.Hour))

	s := New(Config{UploadDir: uploads, FileMaxAge: time.Minute, Interval: time.Hour}, store.NewMemoryRegistry(), nil)
	s.Start()
	require.Eventually(t, func() bool {
		_, err := os.Stat(stale)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "stop is idempotent")
}

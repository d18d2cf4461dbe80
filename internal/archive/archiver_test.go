package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobflow/internal/config"
	"jobflow/internal/events"
	"jobflow/internal/models"
)

type fakeSource struct {
	lc      models.JobLifecycle
	history []models.LifecycleHistoryEntry
	err     error
}

func (f fakeSource) GetByJob(context.Context, string) (models.JobLifecycle, error) {
	return f.lc, f.err
}

func (f fakeSource) History(context.Context, string) ([]models.LifecycleHistoryEntry, error) {
	return f.history, f.err
}

func logger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiveOnCompletion(t *testing.T) {
	dir := t.TempDir()
	src := fakeSource{
		lc: models.JobLifecycle{ID: "lc-1", JobRef: "JC/7", Status: models.StatusCompleted},
		history: []models.LifecycleHistoryEntry{
			{ID: "h1", LifecycleID: "lc-1", Status: models.StatusCreated, Message: "Job created"},
			{ID: "h2", LifecycleID: "lc-1", Status: models.StatusCompleted, Message: "Job completed"},
		},
	}
	a := NewArchiver(src, NewLocalUploader(dir), logger())
	at := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)
	a.now = func() time.Time { return at }

	require.NoError(t, a.Handle(context.Background(), events.Event{Type: events.StatusChanged, JobRef: "JC/7"}))
	require.NoError(t, a.Handle(context.Background(), events.Event{Type: events.JobCompleted, JobRef: "JC/7"}))
	a.Wait()

	path := filepath.Join(dir, filepath.FromSlash(Key("JC/7", at)))
	body, err := os.ReadFile(path)
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, events.JobCompleted, rec.Reason)
	assert.Equal(t, "lc-1", rec.Lifecycle.ID)
	assert.Len(t, rec.History, 2)

	entries, err := os.ReadDir(filepath.Join(dir, "lifecycles"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the completion event is archived")
}

func TestArchiveFailureIsReturned(t *testing.T) {
	a := NewArchiver(fakeSource{err: errors.New("db down")}, NewLocalUploader(t.TempDir()), logger())
	_, err := a.Archive(context.Background(), "JC-1", events.JobCancelled)
	assert.Error(t, err)
}

func TestKeyIsPathSafe(t *testing.T) {
	at := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "lifecycles/JC_7_.._x/20260601T103000.000Z.json", Key("JC/7/../x", at))
}

func TestNewUploaderSelection(t *testing.T) {
	u, err := NewUploader(context.Background(), config.Config{})
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = NewUploader(context.Background(), config.Config{ArchiveDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalUploader{}, u)
}

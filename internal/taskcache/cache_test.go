package taskcache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskdeck-dev/taskdeck/internal/api"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := Open(filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	return cache
}

func sampleTasks() []api.Task {
	now := time.Now().Truncate(time.Second)
	return []api.Task{
		{ID: "task-1", UserID: "user-1", Title: "buy milk", IsActive: true, CreatedAt: now.Add(-time.Hour), UpdatedAt: now},
		{ID: "task-2", UserID: "user-1", Title: "ship release", IsCompleted: true, IsActive: true, CreatedAt: now, UpdatedAt: now},
	}
}

func TestReplaceAllAndTasks(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.ReplaceAll(ctx, "a@b.com", sampleTasks()))

	tasks, err := cache.Tasks(ctx, "a@b.com")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "buy milk", tasks[0].Title)
	require.True(t, tasks[1].IsCompleted)
}

func TestReplaceAllSwapsList(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.ReplaceAll(ctx, "a@b.com", sampleTasks()))
	require.NoError(t, cache.ReplaceAll(ctx, "a@b.com", []api.Task{
		{ID: "task-3", UserID: "user-1", Title: "water plants"},
	}))

	tasks, err := cache.Tasks(ctx, "a@b.com")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "task-3", tasks[0].ID)
}

func TestTasksIsolatedPerUser(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.ReplaceAll(ctx, "a@b.com", sampleTasks()))
	require.NoError(t, cache.ReplaceAll(ctx, "c@d.com", []api.Task{
		{ID: "task-9", UserID: "user-2", Title: "other"},
	}))

	tasks, err := cache.Tasks(ctx, "a@b.com")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
}

func TestSyncedAt(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	syncedAt, err := cache.SyncedAt(ctx, "a@b.com")
	require.NoError(t, err)
	require.True(t, syncedAt.IsZero())

	require.NoError(t, cache.ReplaceAll(ctx, "a@b.com", sampleTasks()))

	syncedAt, err = cache.SyncedAt(ctx, "a@b.com")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), syncedAt, 5*time.Second)
}

func TestPurge(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.ReplaceAll(ctx, "a@b.com", sampleTasks()))
	require.NoError(t, cache.Purge(ctx, "a@b.com"))

	tasks, err := cache.Tasks(ctx, "a@b.com")
	require.NoError(t, err)
	require.Empty(t, tasks)
}

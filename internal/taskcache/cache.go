// Package taskcache keeps a local copy of the last fetched task list so the
// CLI can show tasks while the API is unreachable.
package taskcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/taskdeck-dev/taskdeck/internal/api"
)

// cachedTask is the stored form of an api.Task plus sync bookkeeping
type cachedTask struct {
	ID          string `gorm:"primaryKey;type:varchar(64)"`
	UserEmail   string `gorm:"index;not null"`
	UserID      string
	Title       string
	Description string
	IsCompleted bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	SyncedAt    time.Time `gorm:"not null"`
}

// Cache is a SQLite-backed task cache
type Cache struct {
	db *gorm.DB
}

// Open opens (and migrates) the cache database at path
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := db.AutoMigrate(&cachedTask{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache database: %w", err)
	}

	return &Cache{db: db}, nil
}

// ReplaceAll swaps the cached task list for the given user
func (c *Cache) ReplaceAll(ctx context.Context, email string, tasks []api.Task) error {
	now := time.Now()

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_email = ?", email).Delete(&cachedTask{}).Error; err != nil {
			return fmt.Errorf("failed to clear cached tasks: %w", err)
		}

		for _, task := range tasks {
			record := cachedTask{
				ID:          task.ID,
				UserEmail:   email,
				UserID:      task.UserID,
				Title:       task.Title,
				Description: task.Description,
				IsCompleted: task.IsCompleted,
				IsActive:    task.IsActive,
				CreatedAt:   task.CreatedAt,
				UpdatedAt:   task.UpdatedAt,
				SyncedAt:    now,
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("failed to cache task %s: %w", task.ID, err)
			}
		}
		return nil
	})
}

// Tasks returns the cached task list for the given user
func (c *Cache) Tasks(ctx context.Context, email string) ([]api.Task, error) {
	var records []cachedTask
	err := c.db.WithContext(ctx).
		Where("user_email = ?", email).
		Order("created_at").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read cached tasks: %w", err)
	}

	tasks := make([]api.Task, 0, len(records))
	for _, record := range records {
		tasks = append(tasks, api.Task{
			ID:          record.ID,
			UserID:      record.UserID,
			Title:       record.Title,
			Description: record.Description,
			IsCompleted: record.IsCompleted,
			IsActive:    record.IsActive,
			CreatedAt:   record.CreatedAt,
			UpdatedAt:   record.UpdatedAt,
		})
	}
	return tasks, nil
}

// SyncedAt returns when the user's cache was last refreshed, zero when never
func (c *Cache) SyncedAt(ctx context.Context, email string) (time.Time, error) {
	var record cachedTask
	err := c.db.WithContext(ctx).
		Where("user_email = ?", email).
		Order("synced_at desc").
		Limit(1).
		Find(&record).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read cache state: %w", err)
	}
	return record.SyncedAt, nil
}

// Purge drops all cached tasks for the given user
func (c *Cache) Purge(ctx context.Context, email string) error {
	if err := c.db.WithContext(ctx).Where("user_email = ?", email).Delete(&cachedTask{}).Error; err != nil {
		return fmt.Errorf("failed to purge cached tasks: %w", err)
	}
	return nil
}

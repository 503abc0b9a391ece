package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/logging"
)

const (
	defaultSweepBatch = 200
	defaultSweepGrace = time.Hour
)

// OrphanContentStore lists and removes chapter contents nothing refers to.
type OrphanContentStore interface {
	ListOrphanContents(olderThan time.Time, limit int) ([]entities.ChapterContent, error)
	DeleteOrphanContent(ctx context.Context, content entities.ChapterContent, olderThan time.Time) (bool, error)
}

// ContentSweeper deletes orphan chapter contents and their stored bodies.
// Contents younger than Grace are kept, since a sync uploads contents
// before it inserts the chapters that point at them.
type ContentSweeper struct {
	Store OrphanContentStore
	Grace time.Duration
	Batch int
}

// Sweep deletes orphans batch by batch and returns how many were removed.
func (s *ContentSweeper) Sweep(ctx context.Context) (int, error) {
	grace := s.Grace
	if grace <= 0 {
		grace = defaultSweepGrace
	}
	batch := s.Batch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	cutoff := time.Now().Add(-grace)

	deleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		orphans, err := s.Store.ListOrphanContents(cutoff, batch)
		if err != nil {
			return deleted, fmt.Errorf("list orphan contents: %w", err)
		}
		for _, c := range orphans {
			// A sync may have claimed the content since it was listed.
			ok, err := s.Store.DeleteOrphanContent(ctx, c, cutoff)
			if err != nil {
				return deleted, fmt.Errorf("delete content %s: %w", c.ChapterMD5, err)
			}
			if ok {
				deleted++
			}
		}
		if len(orphans) < batch {
			return deleted, nil
		}
	}
}

// CleanupOrphanContentsTask removes chapter contents no chapter or trim
// result refers to.
type CleanupOrphanContentsTask struct{}

// Config returns the queue configuration for content cleanup.
func (t CleanupOrphanContentsTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "cleanup_orphan_contents",
		MaxAttempts: 1,
		Backoff:     time.Minute,
		Timeout:     10 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// CleanupOrphanContentsProcessor creates a processor function for CleanupOrphanContentsTask.
func CleanupOrphanContentsProcessor(sweeper *ContentSweeper) backlite.QueueProcessor[CleanupOrphanContentsTask] {
	return func(ctx context.Context, task CleanupOrphanContentsTask) error {
		if sweeper == nil {
			return fmt.Errorf("content sweeper not configured")
		}

		deleted, err := sweeper.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("cleanup orphan contents: %w", err)
		}

		logging.With("tasks").Info().Int("deleted", deleted).Msg("Cleaned up orphan contents")
		return nil
	}
}

// NewCleanupOrphanContentsQueue creates a backlite queue for content cleanup.
func NewCleanupOrphanContentsQueue(sweeper *ContentSweeper) backlite.Queue {
	return backlite.NewQueue(CleanupOrphanContentsProcessor(sweeper))
}

// SweepOrphans runs a sweep inline and logs its outcome.
func (s *ContentSweeper) SweepOrphans(ctx context.Context) error {
	deleted, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	logging.With("tasks").Info().Int("deleted", deleted).Msg("Cleaned up orphan contents")
	return nil
}

// SweepOrphans queues a content cleanup on the task queue.
func (c *Client) SweepOrphans(ctx context.Context) error {
	if _, err := c.client.Add(CleanupOrphanContentsTask{}).Ctx(ctx).Save(); err != nil {
		return fmt.Errorf("enqueue content cleanup: %w", err)
	}
	return nil
}

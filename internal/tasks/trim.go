package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/storytrim/server/internal/logging"
)

// Runner executes a stored trim task by id.
type Runner interface {
	RunTask(ctx context.Context, taskID string) error
}

// FullTrimTask trims every chapter of a book.
type FullTrimTask struct {
	TaskID string `json:"task_id"`
}

// Config returns the queue configuration for full book trims. A failed
// run is not retried: the task row already records per-chapter errors.
func (t FullTrimTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "full_trim",
		MaxAttempts: 1,
		Timeout:     2 * time.Hour,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// ChapterTrimTask trims the chapters listed on a task's items.
type ChapterTrimTask struct {
	TaskID string `json:"task_id"`
}

// Config returns the queue configuration for chapter trims.
func (t ChapterTrimTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "chapter_trim",
		MaxAttempts: 1,
		Timeout:     time.Hour,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

func runTrim(ctx context.Context, runner Runner, queue, taskID string) error {
	if runner == nil {
		return fmt.Errorf("task runner not configured")
	}
	logger := logging.With("tasks")
	logger.Info().Str("queue", queue).Str("task_id", taskID).Msg("Trim task picked up")

	if err := runner.RunTask(ctx, taskID); err != nil {
		return fmt.Errorf("%s task %s: %w", queue, taskID, err)
	}
	return nil
}

// FullTrimProcessor creates a processor function for FullTrimTask.
func FullTrimProcessor(runner Runner) backlite.QueueProcessor[FullTrimTask] {
	return func(ctx context.Context, task FullTrimTask) error {
		return runTrim(ctx, runner, "full_trim", task.TaskID)
	}
}

// ChapterTrimProcessor creates a processor function for ChapterTrimTask.
func ChapterTrimProcessor(runner Runner) backlite.QueueProcessor[ChapterTrimTask] {
	return func(ctx context.Context, task ChapterTrimTask) error {
		return runTrim(ctx, runner, "chapter_trim", task.TaskID)
	}
}

// NewFullTrimQueue creates a backlite queue for full book trims.
func NewFullTrimQueue(runner Runner) backlite.Queue {
	return backlite.NewQueue(FullTrimProcessor(runner))
}

// NewChapterTrimQueue creates a backlite queue for chapter trims.
func NewChapterTrimQueue(runner Runner) backlite.Queue {
	return backlite.NewQueue(ChapterTrimProcessor(runner))
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	taskrepo "github.com/storytrim/server/internal/database/tasks"
	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/logging"
)

const defaultJobConcurrency = 5

// FullTrimStatus describes the latest full trim of a book.
type FullTrimStatus struct {
	HasFullTrim bool                `json:"has_full_trim"`
	TaskID      string              `json:"task_id,omitempty"`
	Status      entities.TaskStatus `json:"status,omitempty"`
	Progress    int                 `json:"progress,omitempty"`
	PromptID    uint                `json:"prompt_id,omitempty"`
}

// ChapterTrimStatus lists a book's chapters trimmed, or being trimmed, by
// the user under one prompt.
type ChapterTrimStatus struct {
	TrimmedIDs    []uint `json:"trimmed_ids"`
	ProcessingIDs []uint `json:"processing_ids"`
}

// TaskService submits trim tasks to the background queue and executes them
// when the queue hands them back.
type TaskService struct {
	tasks       TaskStore
	books       BookStore
	prompts     PromptStore
	trims       TrimStore
	points      *PointsService
	trimmer     ChapterTrimmer
	queue       TaskEnqueuer
	concurrency int
}

// NewTaskService creates a TaskService. concurrency bounds how many
// chapters one task trims at a time.
func NewTaskService(
	tasks TaskStore,
	books BookStore,
	prompts PromptStore,
	trims TrimStore,
	points *PointsService,
	trimmer ChapterTrimmer,
	concurrency int,
) *TaskService {
	if concurrency <= 0 {
		concurrency = defaultJobConcurrency
	}
	return &TaskService{
		tasks:       tasks,
		books:       books,
		prompts:     prompts,
		trims:       trims,
		points:      points,
		trimmer:     trimmer,
		concurrency: concurrency,
	}
}

// SetQueue attaches the queue tasks are enqueued on. The queue is built
// after the service because its processors call back into RunTask.
func (s *TaskService) SetQueue(queue TaskEnqueuer) {
	s.queue = queue
}

func (s *TaskService) ownedBook(userID, bookID uint) (*entities.Book, error) {
	book, err := s.books.GetBookForUser(userID, bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrBookNotFound
		}
		return nil, errno.ErrInternal.Wrap(err)
	}
	return book, nil
}

func (s *TaskService) prompt(promptID uint) (*entities.Prompt, error) {
	prompt, err := s.prompts.GetByID(promptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrTrimInvalid.WithMsg("模式不存在")
		}
		return nil, errno.ErrInternal.Wrap(err)
	}
	return prompt, nil
}

func (s *TaskService) enqueue(ctx context.Context, task *entities.Task) error {
	if s.queue == nil {
		return errors.New("task queue not configured")
	}
	return s.queue.Enqueue(ctx, task.Type, task.ID)
}

func (s *TaskService) failTask(task *entities.Task, err error) {
	task.Status = entities.TaskStatusFailed
	task.Error = err.Error()
	if uerr := s.tasks.UpdateTask(task); uerr != nil {
		logging.With("tasks").Error().Err(uerr).Str("task_id", task.ID).Msg("Failed to mark task failed")
	}
}

// SubmitFullTrimTask queues a trim of every chapter of a book.
func (s *TaskService) SubmitFullTrimTask(ctx context.Context, userID, bookID, promptID uint) (string, error) {
	book, err := s.ownedBook(userID, bookID)
	if err != nil {
		return "", err
	}
	if _, err := s.prompt(promptID); err != nil {
		return "", err
	}

	running, err := s.tasks.HasActiveFullTrim(userID, book.ID)
	if err != nil {
		return "", errno.ErrInternal.Wrap(err)
	}
	if running {
		return "", errno.ErrTaskRunning
	}

	task := &entities.Task{
		ID:       uuid.New().String(),
		UserID:   userID,
		BookID:   book.ID,
		PromptID: promptID,
		Type:     entities.TaskTypeFullTrim,
		Status:   entities.TaskStatusPending,
	}
	if err := s.tasks.CreateTask(task); err != nil {
		return "", errno.ErrInternal.Wrap(err)
	}
	if err := s.enqueue(ctx, task); err != nil {
		s.failTask(task, err)
		return "", errno.ErrInternal.Wrap(err)
	}

	logging.With("tasks").Info().
		Str("task_id", task.ID).
		Uint("user_id", userID).
		Uint("book_id", book.ID).
		Msg("Full trim submitted")
	return task.ID, nil
}

// SubmitChapterTrimTask charges one point per chapter and queues their
// trim. Chapters the user already trimmed, or has queued, are rejected.
func (s *TaskService) SubmitChapterTrimTask(ctx context.Context, userID, bookID, promptID uint, chapterIDs []uint) (string, error) {
	ids := uniqueIDs(chapterIDs)
	if len(ids) == 0 {
		return "", errno.ErrParam
	}

	book, err := s.ownedBook(userID, bookID)
	if err != nil {
		return "", err
	}

	chapters, err := s.books.GetChaptersByIDs(ids)
	if err != nil {
		return "", errno.ErrInternal.Wrap(err)
	}
	if len(chapters) != len(ids) {
		return "", errno.ErrChapterNotFound
	}
	md5s := make([]string, 0, len(chapters))
	for _, ch := range chapters {
		if ch.BookID != book.ID {
			return "", errno.ErrChapterNotFound
		}
		md5s = append(md5s, ch.ChapterMD5)
	}

	processed, err := s.trims.ProcessedChapterMD5s(userID, promptID, book.ID, book.BookMD5, md5s)
	if err != nil {
		return "", errno.ErrInternal.Wrap(err)
	}
	processing, err := s.tasks.ProcessingChapterIDs(userID, book.ID, promptID)
	if err != nil {
		return "", errno.ErrInternal.Wrap(err)
	}
	busy := make(map[uint]bool, len(processing))
	for _, id := range processing {
		busy[id] = true
	}
	for _, ch := range chapters {
		if processed[ch.ChapterMD5] || busy[ch.ID] {
			return "", errno.ErrTrimDuplicate
		}
	}

	prompt, err := s.prompt(promptID)
	if err != nil {
		return "", err
	}

	entries := make([]PointsChangeInput, 0, len(chapters))
	for _, ch := range chapters {
		entries = append(entries, chapterPointsInput(book, ch, prompt))
	}
	if err := s.points.SpendForTrimBatch(userID, entries); err != nil {
		return "", err
	}

	task := &entities.Task{
		ID:       uuid.New().String(),
		UserID:   userID,
		BookID:   book.ID,
		PromptID: promptID,
		Type:     entities.TaskTypeChapterTrim,
		Status:   entities.TaskStatusPending,
	}
	refund := func(cause error) {
		if err := s.points.RefundForTrimBatch(userID, entries); err != nil {
			logging.With("tasks").Error().Err(err).Str("task_id", task.ID).Msg("Failed to refund chapter trim")
		}
		logging.With("tasks").Warn().Err(cause).Str("task_id", task.ID).Msg("Chapter trim submission rolled back")
	}

	if err := s.tasks.CreateTask(task); err != nil {
		refund(err)
		return "", errno.ErrInternal.Wrap(err)
	}

	items := make([]entities.TaskItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, entities.TaskItem{
			TaskID:    task.ID,
			ChapterID: id,
			PromptID:  promptID,
			Status:    entities.TaskItemStatusProcessing,
		})
	}
	if err := s.tasks.CreateItems(items); err != nil {
		s.failTask(task, err)
		refund(err)
		return "", errno.ErrInternal.Wrap(err)
	}

	if err := s.enqueue(ctx, task); err != nil {
		s.failItems(items, err)
		s.failTask(task, err)
		refund(err)
		return "", errno.ErrInternal.Wrap(err)
	}

	logging.With("tasks").Info().
		Str("task_id", task.ID).
		Uint("user_id", userID).
		Uint("book_id", book.ID).
		Int("chapters", len(ids)).
		Msg("Chapter trim submitted")
	return task.ID, nil
}

func chapterPointsInput(book *entities.Book, ch entities.Chapter, prompt *entities.Prompt) PointsChangeInput {
	extra := map[string]string{
		"book_title":    book.Title,
		"chapter_title": ch.Title,
	}
	if prompt != nil {
		extra["prompt_name"] = prompt.Name
	}
	return PointsChangeInput{
		RefType: "chapter",
		RefID:   fmt.Sprintf("%d", ch.ID),
		Extra:   extra,
	}
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (s *TaskService) failItems(items []entities.TaskItem, cause error) {
	for i := range items {
		items[i].Status = entities.TaskItemStatusFailed
		items[i].Error = cause.Error()
		if err := s.tasks.UpdateItem(&items[i]); err != nil {
			logging.With("tasks").Error().Err(err).Uint("item_id", items[i].ID).Msg("Failed to update task item")
		}
	}
}

// trimUnit is one chapter a task has to trim. item is nil for full trims.
type trimUnit struct {
	chapterID uint
	label     string
	item      *entities.TaskItem
}

// RunTask executes a queued task. Tasks that already finished are skipped,
// so a redelivered task does no harm.
func (s *TaskService) RunTask(ctx context.Context, taskID string) error {
	logger := logging.With("tasks")

	task, err := s.tasks.GetTask(taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errno.ErrTaskNotFound
		}
		return err
	}
	if !task.Status.IsActive() {
		logger.Debug().Str("task_id", taskID).Str("status", string(task.Status)).Msg("Task already finished")
		return nil
	}

	task.Status = entities.TaskStatusRunning
	task.Progress = 0
	task.Error = ""
	if err := s.tasks.UpdateTask(task); err != nil {
		return err
	}

	units, err := s.loadUnits(task)
	if err != nil {
		s.failTask(task, err)
		return err
	}

	start := time.Now()
	errs := s.runUnits(ctx, task, units)

	if task.Type == entities.TaskTypeChapterTrim {
		s.refundFailedItems(task, units)
	}

	task.TakeTime = time.Since(start).Seconds()
	task.Progress = 100
	task.Status = entities.TaskStatusCompleted
	if len(errs) > 0 {
		task.Error = strings.Join(errs, "; ")
		if len(errs) == len(units) {
			task.Status = entities.TaskStatusFailed
		}
	}
	if err := s.tasks.UpdateTask(task); err != nil {
		return err
	}

	logger.Info().
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Str("status", string(task.Status)).
		Int("chapters", len(units)).
		Int("failed", len(errs)).
		Float64("take_time", task.TakeTime).
		Msg("Task finished")
	return nil
}

func (s *TaskService) loadUnits(task *entities.Task) ([]trimUnit, error) {
	switch task.Type {
	case entities.TaskTypeFullTrim:
		chapters, err := s.books.GetChaptersByBookID(task.BookID)
		if err != nil {
			return nil, err
		}
		units := make([]trimUnit, 0, len(chapters))
		for _, ch := range chapters {
			units = append(units, trimUnit{chapterID: ch.ID, label: fmt.Sprintf("chapter %d", ch.Index)})
		}
		return units, nil
	case entities.TaskTypeChapterTrim:
		items, err := s.tasks.ItemsByTask(task.ID)
		if err != nil {
			return nil, err
		}
		units := make([]trimUnit, 0, len(items))
		for i := range items {
			if items[i].Status != entities.TaskItemStatusProcessing {
				continue
			}
			units = append(units, trimUnit{
				chapterID: items[i].ChapterID,
				label:     fmt.Sprintf("chapter %d", items[i].ChapterID),
				item:      &items[i],
			})
		}
		return units, nil
	default:
		return nil, fmt.Errorf("unknown task type %q", task.Type)
	}
}

// runUnits trims the units with bounded concurrency and returns the
// failures formatted for the task's error summary.
func (s *TaskService) runUnits(ctx context.Context, task *entities.Task, units []trimUnit) []string {
	logger := logging.With("tasks")
	total := len(units)
	if total == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		completed int
		errs      []string
	)

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, u := range units {
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = s.trimmer.TrimChapter(ctx, task.UserID, u.chapterID, task.PromptID)
			}

			if u.item != nil {
				u.item.Status = entities.TaskItemStatusSuccess
				u.item.Error = ""
				if err != nil {
					u.item.Status = entities.TaskItemStatusFailed
					u.item.Error = err.Error()
				}
				if uerr := s.tasks.UpdateItem(u.item); uerr != nil {
					logger.Error().Err(uerr).Uint("item_id", u.item.ID).Msg("Failed to update task item")
				}
			}

			mu.Lock()
			completed++
			progress := completed * 100 / total
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", u.label, err))
			}
			mu.Unlock()

			if perr := s.tasks.UpdateProgress(task.ID, progress); perr != nil {
				logger.Warn().Err(perr).Str("task_id", task.ID).Msg("Failed to update progress")
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (s *TaskService) refundFailedItems(task *entities.Task, units []trimUnit) {
	book, _ := s.books.GetBookByID(task.BookID)
	if book == nil {
		book = &entities.Book{ID: task.BookID}
	}
	prompt, _ := s.prompts.GetByID(task.PromptID)

	var entries []PointsChangeInput
	for _, u := range units {
		if u.item == nil || u.item.Status != entities.TaskItemStatusFailed {
			continue
		}
		ch := entities.Chapter{ID: u.chapterID}
		if full, err := s.books.GetChapterByID(u.chapterID); err == nil {
			ch = *full
		}
		entries = append(entries, chapterPointsInput(book, ch, prompt))
	}
	if len(entries) == 0 {
		return
	}
	if err := s.points.RefundForTrimBatch(task.UserID, entries); err != nil {
		logging.With("tasks").Error().Err(err).Str("task_id", task.ID).Msg("Failed to refund failed chapters")
	}
}

// ReapStale fails tasks that stopped making progress, for example because
// the process died mid-run. Chapters still processing are refunded.
func (s *TaskService) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	logger := logging.With("tasks")

	stale, err := s.tasks.StaleTasks(time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	for i := range stale {
		task := &stale[i]
		if err := ctx.Err(); err != nil {
			return i, err
		}

		if task.Type == entities.TaskTypeChapterTrim {
			units, err := s.loadUnits(task)
			if err != nil {
				logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to load stale task items")
			} else {
				for _, u := range units {
					u.item.Status = entities.TaskItemStatusFailed
					u.item.Error = "task timed out"
					if err := s.tasks.UpdateItem(u.item); err != nil {
						logger.Error().Err(err).Uint("item_id", u.item.ID).Msg("Failed to update task item")
					}
				}
				s.refundFailedItems(task, units)
			}
		}

		s.failTask(task, errors.New("task timed out"))
		logger.Warn().Str("task_id", task.ID).Time("updated_at", task.UpdatedAt).Msg("Stale task reaped")
	}
	return len(stale), nil
}

// GetChapterTrimStatus reports which chapters of a book the user has
// trimmed under the prompt and which are still queued.
func (s *TaskService) GetChapterTrimStatus(ctx context.Context, userID, bookID, promptID uint) (*ChapterTrimStatus, error) {
	book, err := s.ownedBook(userID, bookID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.books.GetChaptersByBookID(book.ID)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	md5s, err := s.trims.TrimmedChapterMD5s(userID, promptID, book.ID, book.BookMD5)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	trimmed := make(map[string]bool, len(md5s))
	for _, m := range md5s {
		trimmed[m] = true
	}

	status := &ChapterTrimStatus{TrimmedIDs: []uint{}, ProcessingIDs: []uint{}}
	for _, ch := range chapters {
		if trimmed[ch.ChapterMD5] {
			status.TrimmedIDs = append(status.TrimmedIDs, ch.ID)
		}
	}
	processing, err := s.tasks.ProcessingChapterIDs(userID, book.ID, promptID)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	status.ProcessingIDs = append(status.ProcessingIDs, processing...)
	return status, nil
}

// GetTask returns one of the user's tasks.
func (s *TaskService) GetTask(ctx context.Context, userID uint, taskID string) (*entities.Task, error) {
	task, err := s.tasks.GetTask(taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrTaskNotFound
		}
		return nil, errno.ErrInternal.Wrap(err)
	}
	if task.UserID != userID {
		return nil, errno.ErrTaskNotFound
	}
	return task, nil
}

// GetTasks returns the user's tasks among ids; others are ignored.
func (s *TaskService) GetTasks(ctx context.Context, userID uint, ids []string) ([]entities.Task, error) {
	tasks, err := s.tasks.GetTasksByIDs(userID, ids)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	if tasks == nil {
		tasks = []entities.Task{}
	}
	return tasks, nil
}

func (s *TaskService) GetActiveTasks(ctx context.Context, userID uint) ([]taskrepo.TaskWithDetail, error) {
	tasks, err := s.tasks.ActiveTasksWithDetails(userID)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	if tasks == nil {
		tasks = []taskrepo.TaskWithDetail{}
	}
	return tasks, nil
}

func (s *TaskService) GetActiveTasksCount(ctx context.Context, userID uint) (int64, error) {
	count, err := s.tasks.CountActive(userID)
	if err != nil {
		return 0, errno.ErrInternal.Wrap(err)
	}
	return count, nil
}

// GetBookFullTrimStatus reports the latest full trim of the user's book.
func (s *TaskService) GetBookFullTrimStatus(ctx context.Context, userID, bookID uint) (*FullTrimStatus, error) {
	if _, err := s.ownedBook(userID, bookID); err != nil {
		return nil, err
	}
	task, err := s.tasks.LatestFullTrimTask(userID, bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &FullTrimStatus{}, nil
		}
		return nil, errno.ErrInternal.Wrap(err)
	}
	return &FullTrimStatus{
		HasFullTrim: task.Status == entities.TaskStatusCompleted,
		TaskID:      task.ID,
		Status:      task.Status,
		Progress:    task.Progress,
		PromptID:    task.PromptID,
	}, nil
}

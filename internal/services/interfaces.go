package services

import (
	"context"
	"io"
	"time"

	"github.com/storytrim/server/internal/database/points"
	taskrepo "github.com/storytrim/server/internal/database/tasks"
	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/parsers"
)

// BookStore is the persistence the book, trim and task services need for
// books, chapters and their contents.
type BookStore interface {
	CreateBookWithChapters(book *entities.Book, chapters []entities.Chapter) error
	UpsertChapters(bookID uint, chapters []entities.Chapter) error
	UpdateTotalChapters(bookID uint, total int) error
	GetBookByID(id uint) (*entities.Book, error)
	GetBookForUser(userID, bookID uint) (*entities.Book, error)
	GetBookByMD5(userID uint, bookMD5 string) (*entities.Book, error)
	ListBooksByUser(userID uint) ([]entities.Book, error)
	DeleteBook(userID, bookID uint) error

	GetChaptersByBookID(bookID uint) ([]entities.Chapter, error)
	GetChapterByID(id uint) (*entities.Chapter, error)
	GetChaptersByIDs(ids []uint) ([]entities.Chapter, error)
	GetUserChaptersByIDs(userID uint, ids []uint) ([]entities.Chapter, error)

	SaveContents(ctx context.Context, contents []entities.ChapterContent) error
	GetContentMetas(md5s []string) (map[string]entities.ChapterContent, error)
	GetContent(ctx context.Context, md5 string) (*entities.ChapterContent, error)
	OpenContent(ctx context.Context, objectKey string) (io.ReadCloser, error)
	ListOrphanContents(olderThan time.Time, limit int) ([]entities.ChapterContent, error)
	DeleteOrphanContent(ctx context.Context, content entities.ChapterContent, olderThan time.Time) (bool, error)

	UpsertReadingHistory(userID, bookID, chapterID, promptID uint) error
	GetReadingHistory(userID, bookID uint) (*entities.ReadingHistory, error)
}

// PromptStore provides prompt lookups.
type PromptStore interface {
	GetByID(id uint) (*entities.Prompt, error)
	ListSystem() ([]entities.Prompt, error)
	GetDefault() (*entities.Prompt, error)
}

// TrimStore holds cached trim results and per-user trim records.
type TrimStore interface {
	GetResult(chapterMD5 string, promptID uint) (*entities.TrimResult, error)
	GetResults(chapterMD5s []string, promptID uint) (map[string]entities.TrimResult, error)
	ExistsResult(chapterMD5 string, promptID uint) (bool, error)
	SaveResult(result *entities.TrimResult) error
	RecordUserTrim(action *entities.UserProcessedChapter) error
	HasUserProcessed(userID, promptID, bookID uint, bookMD5, chapterMD5 string) (bool, error)
	ProcessedChapterMD5s(userID, promptID, bookID uint, bookMD5 string, chapterMD5s []string) (map[string]bool, error)
	TrimmedChapterMD5s(userID, promptID, bookID uint, bookMD5 string) ([]string, error)
	ChapterTrimmedPromptIDs(userID, chapterID uint, bookMD5, chapterMD5 string) ([]uint, error)
	ContentTrimmedPromptIDs(userID uint, chapterMD5 string) ([]uint, error)
	BookTrimmedPromptIDs(userID, bookID uint, bookMD5 string) (map[uint][]uint, error)
	ContentsTrimmedPromptIDs(userID uint, chapterMD5s []string) (map[string][]uint, error)
}

// TaskStore persists background tasks and their items.
type TaskStore interface {
	CreateTask(task *entities.Task) error
	UpdateTask(task *entities.Task) error
	UpdateProgress(taskID string, progress int) error
	GetTask(id string) (*entities.Task, error)
	GetTasksByIDs(userID uint, ids []string) ([]entities.Task, error)
	ActiveTasksByUser(userID uint) ([]entities.Task, error)
	ActiveTasksWithDetails(userID uint) ([]taskrepo.TaskWithDetail, error)
	CountActive(userID uint) (int64, error)
	HasActiveFullTrim(userID, bookID uint) (bool, error)
	LatestFullTrimTask(userID, bookID uint) (*entities.Task, error)
	StaleTasks(before time.Time) ([]entities.Task, error)
	CreateItems(items []entities.TaskItem) error
	UpdateItem(item *entities.TaskItem) error
	ItemsByTask(taskID string) ([]entities.TaskItem, error)
	ProcessingChapterIDs(userID, bookID, promptID uint) ([]uint, error)
}

// PointsStore applies balance changes.
type PointsStore interface {
	GetUserPoints(userID uint) (*entities.UserPoints, error)
	ChangeBalanceBatch(userID uint, changes []points.Change) (int, error)
	ListLedger(userID uint, limit, offset int) ([]entities.PointsLedger, error)
}

// TaskEnqueuer hands a persisted task to the background queue.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, taskType entities.TaskType, taskID string) error
}

// RulesFunc returns the chapter title rules currently in effect.
type RulesFunc func() []parsers.Rule

// ChapterTrimmer trims one chapter to completion.
type ChapterTrimmer interface {
	TrimChapter(ctx context.Context, userID, chapterID, promptID uint) error
}

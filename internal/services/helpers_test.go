package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storytrim/server/internal/database"
	"github.com/storytrim/server/internal/database/books"
	"github.com/storytrim/server/internal/database/points"
	"github.com/storytrim/server/internal/database/prompts"
	taskrepo "github.com/storytrim/server/internal/database/tasks"
	"github.com/storytrim/server/internal/database/trims"
	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/llm/llmtest"
	"github.com/storytrim/server/internal/parsers"
	"github.com/storytrim/server/internal/storage/providers/local"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (q *recordingQueue) Enqueue(ctx context.Context, taskType entities.TaskType, taskID string) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, string(taskType)+":"+taskID)
	return nil
}

type testEnv struct {
	db      *database.Database
	books   *books.Repository
	prompts *prompts.Repository
	trims   *trims.Repository
	tasks   *taskrepo.Repository
	points  *points.Repository

	llm *llmtest.Fake

	pointsSvc  *PointsService
	bookSvc    *BookService
	importSvc  *ImportService
	trimSvc    *TrimService
	taskSvc    *TaskService
	contentSvc *ContentService
	queue      *recordingQueue
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	db, err := database.NewDatabase(filepath.Join(dir, "storytrim.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := local.NewClient(filepath.Join(dir, "objects"))
	require.NoError(t, err)

	env := &testEnv{
		db:      db,
		books:   books.NewRepository(db.DB, store),
		prompts: prompts.NewRepository(db.DB),
		trims:   trims.NewRepository(db.DB),
		tasks:   taskrepo.NewRepository(db.DB),
		points:  points.NewRepository(db.DB),
		llm:     &llmtest.Fake{Content: "精简后的内容"},
		queue:   &recordingQueue{},
	}

	env.pointsSvc = NewPointsService(env.points, 100)
	env.bookSvc = NewBookService(env.books, env.prompts, env.trims, env.tasks).WithTempDir(dir)
	env.importSvc = NewImportService(env.bookSvc, nil)
	env.trimSvc, err = NewTrimService(env.books, env.prompts, env.trims, env.pointsSvc, env.llm, TrimOptions{MockChunkRunes: 10, MockInterval: -1})
	require.NoError(t, err)
	env.taskSvc = NewTaskService(env.tasks, env.books, env.prompts, env.trims, env.pointsSvc, env.trimSvc, 2)
	env.taskSvc.SetQueue(env.queue)
	env.contentSvc = NewContentService(env.trims)
	return env
}

// syncBook puts a book with the given chapter bodies on userID's shelf and
// returns its id and chapters.
func (e *testEnv) syncBook(t *testing.T, userID uint, bookMD5 string, bodies ...string) (uint, []entities.Chapter) {
	t.Helper()
	req := &SyncLocalBookReq{BookName: "测试书", BookMD5: bookMD5, TotalChapters: len(bodies)}
	for i, body := range bodies {
		req.Chapters = append(req.Chapters, SyncLocalChapter{
			LocalID:    uint(1000 + i),
			Index:      i,
			Title:      "第" + string(rune('一'+i)) + "章",
			MD5:        md5Of(body),
			Content:    body,
			WordsCount: len([]rune(body)),
		})
	}
	resp, err := e.bookSvc.SyncLocalBook(context.Background(), userID, req)
	require.NoError(t, err)

	chapters, err := e.books.GetChaptersByBookID(resp.BookID)
	require.NoError(t, err)
	return resp.BookID, chapters
}

func (e *testEnv) balance(t *testing.T, userID uint) int {
	t.Helper()
	b, err := e.pointsSvc.GetBalance(userID)
	require.NoError(t, err)
	return b
}

func md5Of(s string) string {
	return parsers.Fingerprint(s)
}

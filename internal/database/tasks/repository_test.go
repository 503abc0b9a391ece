package tasks

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/storytrim/server/internal/entities"
)

func setupTestDB(t *testing.T) (*Repository, *gorm.DB, func()) {
	dbPath := "./test_tasks_" + t.Name() + ".db"

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entities.Task{}, &entities.TaskItem{}, &entities.Book{}, &entities.Prompt{}))

	cleanup := func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
		os.Remove(dbPath)
	}
	return NewRepository(db), db, cleanup
}

func newTask(userID, bookID uint, typ entities.TaskType, status entities.TaskStatus) *entities.Task {
	return &entities.Task{
		ID:       uuid.NewString(),
		UserID:   userID,
		BookID:   bookID,
		PromptID: 1,
		Type:     typ,
		Status:   status,
	}
}

func TestRepository_CreateAndUpdateTask(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()

	task := newTask(1, 1, entities.TaskTypeFullTrim, entities.TaskStatusPending)
	require.NoError(t, repo.CreateTask(task))

	task.Status = entities.TaskStatusCompleted
	task.Progress = 100
	task.TakeTime = 1.5
	task.Error = "chapter 3: boom"
	require.NoError(t, repo.UpdateTask(task))

	got, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.InDelta(t, 1.5, got.TakeTime, 1e-9)
	assert.Equal(t, "chapter 3: boom", got.Error)

	require.NoError(t, repo.UpdateProgress(task.ID, 40))
	got, err = repo.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)

	_, err = repo.GetTask("missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepository_GetTasksByIDs_ScopedToUser(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()

	mine := newTask(1, 1, entities.TaskTypeFullTrim, entities.TaskStatusPending)
	theirs := newTask(2, 1, entities.TaskTypeFullTrim, entities.TaskStatusPending)
	require.NoError(t, repo.CreateTask(mine))
	require.NoError(t, repo.CreateTask(theirs))

	tasks, err := repo.GetTasksByIDs(1, []string{mine.ID, theirs.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, mine.ID, tasks[0].ID)
}

func TestRepository_ActiveTasks(t *testing.T) {
	repo, db, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, db.Create(&entities.Book{ID: 7, UserID: 1, Title: "Dune"}).Error)
	require.NoError(t, db.Create(&entities.Prompt{ID: 1, Name: "standard"}).Error)

	require.NoError(t, repo.CreateTask(newTask(1, 7, entities.TaskTypeFullTrim, entities.TaskStatusRunning)))
	require.NoError(t, repo.CreateTask(newTask(1, 7, entities.TaskTypeChapterTrim, entities.TaskStatusPending)))
	require.NoError(t, repo.CreateTask(newTask(1, 7, entities.TaskTypeFullTrim, entities.TaskStatusCompleted)))
	require.NoError(t, repo.CreateTask(newTask(2, 7, entities.TaskTypeFullTrim, entities.TaskStatusRunning)))

	active, err := repo.ActiveTasksByUser(1)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	count, err := repo.CountActive(1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	detailed, err := repo.ActiveTasksWithDetails(1)
	require.NoError(t, err)
	require.Len(t, detailed, 2)
	for _, d := range detailed {
		assert.Equal(t, "Dune", d.BookTitle)
		assert.Equal(t, "standard", d.PromptName)
		assert.NotEmpty(t, d.ID)
	}

	has, err := repo.HasActiveFullTrim(1, 7)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = repo.HasActiveFullTrim(1, 8)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRepository_LatestFullTrimTask(t *testing.T) {
	repo, db, cleanup := setupTestDB(t)
	defer cleanup()

	older := newTask(1, 3, entities.TaskTypeFullTrim, entities.TaskStatusCompleted)
	newer := newTask(1, 3, entities.TaskTypeFullTrim, entities.TaskStatusRunning)
	require.NoError(t, repo.CreateTask(older))
	require.NoError(t, repo.CreateTask(newer))
	require.NoError(t, repo.CreateTask(newTask(1, 3, entities.TaskTypeChapterTrim, entities.TaskStatusPending)))
	db.Model(&entities.Task{}).Where("id = ?", older.ID).Update("created_at", time.Now().Add(-time.Hour))

	latest, err := repo.LatestFullTrimTask(1, 3)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	_, err = repo.LatestFullTrimTask(1, 4)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepository_StaleTasks(t *testing.T) {
	repo, db, cleanup := setupTestDB(t)
	defer cleanup()

	stale := newTask(1, 1, entities.TaskTypeFullTrim, entities.TaskStatusRunning)
	fresh := newTask(1, 1, entities.TaskTypeFullTrim, entities.TaskStatusRunning)
	done := newTask(1, 1, entities.TaskTypeFullTrim, entities.TaskStatusCompleted)
	for _, task := range []*entities.Task{stale, fresh, done} {
		require.NoError(t, repo.CreateTask(task))
	}
	old := time.Now().Add(-4 * time.Hour)
	db.Model(&entities.Task{}).Where("id IN ?", []string{stale.ID, done.ID}).UpdateColumn("updated_at", old)

	tasks, err := repo.StaleTasks(time.Now().Add(-3 * time.Hour))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, stale.ID, tasks[0].ID)
}

func TestRepository_Items(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()

	task := newTask(1, 9, entities.TaskTypeChapterTrim, entities.TaskStatusRunning)
	require.NoError(t, repo.CreateTask(task))
	require.NoError(t, repo.CreateItems([]entities.TaskItem{
		{TaskID: task.ID, ChapterID: 10, PromptID: 1, Status: entities.TaskItemStatusProcessing},
		{TaskID: task.ID, ChapterID: 11, PromptID: 1, Status: entities.TaskItemStatusProcessing},
	}))

	items, err := repo.ItemsByTask(task.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	items[0].Status = entities.TaskItemStatusSuccess
	require.NoError(t, repo.UpdateItem(&items[0]))

	ids, err := repo.ProcessingChapterIDs(1, 9, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{11}, ids)

	ids, err = repo.ProcessingChapterIDs(1, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, ids)

	task.Status = entities.TaskStatusFailed
	require.NoError(t, repo.UpdateTask(task))
	ids, err = repo.ProcessingChapterIDs(1, 9, 1)
	require.NoError(t, err)
	assert.Empty(t, ids, "items of finished tasks are not processing")
}

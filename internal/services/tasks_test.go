package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/errno"
)

func TestTaskService_SubmitChapterTrimTask(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.pointsSvc.GrantRegisterBonus(1))
	bookID, chapters := env.syncBook(t, 1, "book", "一", "二", "三")

	taskID, err := env.taskSvc.SubmitChapterTrimTask(ctx, 1, bookID, 1, []uint{chapters[0].ID, chapters[1].ID, chapters[0].ID, 0})
	require.NoError(t, err)
	assert.Equal(t, 98, env.balance(t, 1))
	assert.Equal(t, []string{"chapter_trim:" + taskID}, env.queue.jobs)

	items, err := env.tasks.ItemsByTask(taskID)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	status, err := env.taskSvc.GetChapterTrimStatus(ctx, 1, bookID, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{chapters[0].ID, chapters[1].ID}, status.ProcessingIDs)
	assert.Empty(t, status.TrimmedIDs)

	// Already queued chapters are rejected without charging.
	_, err = env.taskSvc.SubmitChapterTrimTask(ctx, 1, bookID, 1, []uint{chapters[1].ID, chapters[2].ID})
	assert.ErrorIs(t, err, errno.ErrTrimDuplicate)
	assert.Equal(t, 98, env.balance(t, 1))
}

func TestTaskService_SubmitChapterTrimTask_Validation(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.pointsSvc.GrantRegisterBonus(1))
	bookID, chapters := env.syncBook(t, 1, "book", "一")
	_, otherChapters := env.syncBook(t, 1, "other", "二")

	_, err := env.taskSvc.SubmitChapterTrimTask(ctx, 1, bookID, 1, []uint{0})
	assert.ErrorIs(t, err, errno.ErrParam)

	_, err = env.taskSvc.SubmitChapterTrimTask(ctx, 2, bookID, 1, []uint{chapters[0].ID})
	assert.ErrorIs(t, err, errno.ErrBookNotFound)

	_, err = env.taskSvc.SubmitChapterTrimTask(ctx, 1, bookID, 1, []uint{otherChapters[0].ID})
	assert.ErrorIs(t, err, errno.ErrChapterNotFound)

	_, err = env.taskSvc.SubmitChapterTrimTask(ctx, 1, bookID, 1, []uint{chapters[0].ID, 9999})
	assert.ErrorIs(t, err, errno.ErrChapterNotFound)

	require.NoError(t, env.trims.RecordUserTrim(&entities.UserProcessedChapter{
		UserID: 1, PromptID: 1, BookID: bookID, BookMD5: "book", ChapterMD5: chapters[0].ChapterMD5,
	}))
	_, err = env.taskSvc.SubmitChapterTrimTask(ctx, 1, bookID, 1, []uint{chapters[0].ID})
	assert.ErrorIs(t, err, errno.ErrTrimDuplicate)
	assert.Equal(t, 100, env.balance(t, 1))
}

func TestTaskService_SubmitChapterTrimTask_RefundsWhenQueueFails(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.pointsSvc.GrantRegisterBonus(1))
	bookID, chapters := env.syncBook(t, 1, "book", "一", "二")
	env.queue.err = errors.New("queue closed")

	_, err := env.taskSvc.SubmitChapterTrimTask(ctx, 1, bookID, 1, []uint{chapters[0].ID, chapters[1].ID})
	assert.ErrorIs(t, err, errno.ErrInternal)
	assert.Equal(t, 100, env.balance(t, 1))

	count, err := env.taskSvc.GetActiveTasksCount(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTaskService_RunTask_ChapterTrim_PartialFailure(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.pointsSvc.GrantRegisterBonus(1))
	bookID, chapters := env.syncBook(t, 1, "book", "好章节", "坏章节", "好章节二")
	env.llm.Reply = func(user string) (string, error) {
		if strings.HasPrefix(user, "坏") {
			return "", errors.New("model refused")
		}
		return "短", nil
	}

	ids := []uint{chapters[0].ID, chapters[1].ID, chapters[2].ID}
	taskID, err := env.taskSvc.SubmitChapterTrimTask(ctx, 1, bookID, 1, ids)
	require.NoError(t, err)
	assert.Equal(t, 97, env.balance(t, 1))

	require.NoError(t, env.taskSvc.RunTask(ctx, taskID))

	task, err := env.taskSvc.GetTask(ctx, 1, taskID)
	require.NoError(t, err)
	assert.Equal(t, entities.TaskStatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	assert.Contains(t, task.Error, "model refused")
	assert.Equal(t, 98, env.balance(t, 1), "the failed chapter is refunded")

	items, err := env.tasks.ItemsByTask(taskID)
	require.NoError(t, err)
	statuses := map[uint]entities.TaskItemStatus{}
	for _, it := range items {
		statuses[it.ChapterID] = it.Status
	}
	assert.Equal(t, entities.TaskItemStatusSuccess, statuses[chapters[0].ID])
	assert.Equal(t, entities.TaskItemStatusFailed, statuses[chapters[1].ID])

	status, err := env.taskSvc.GetChapterTrimStatus(ctx, 1, bookID, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{chapters[0].ID, chapters[2].ID}, status.TrimmedIDs)
	assert.Empty(t, status.ProcessingIDs)

	// Redelivery of a finished task is a no-op.
	require.NoError(t, env.taskSvc.RunTask(ctx, taskID))
	assert.Equal(t, 98, env.balance(t, 1))
}

func TestTaskService_RunTask_FullTrim(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	bookID, _ := env.syncBook(t, 1, "book", "一", "二", "三")

	taskID, err := env.taskSvc.SubmitFullTrimTask(ctx, 1, bookID, 1)
	require.NoError(t, err)

	_, err = env.taskSvc.SubmitFullTrimTask(ctx, 1, bookID, 1)
	assert.ErrorIs(t, err, errno.ErrTaskRunning)

	running, err := env.taskSvc.GetBookFullTrimStatus(ctx, 1, bookID)
	require.NoError(t, err)
	assert.False(t, running.HasFullTrim)
	assert.Equal(t, entities.TaskStatusPending, running.Status)

	require.NoError(t, env.taskSvc.RunTask(ctx, taskID))
	assert.Equal(t, 3, env.llm.Calls())

	done, err := env.taskSvc.GetBookFullTrimStatus(ctx, 1, bookID)
	require.NoError(t, err)
	assert.True(t, done.HasFullTrim)
	assert.Equal(t, taskID, done.TaskID)
	assert.Equal(t, 100, done.Progress)
}

func TestTaskService_RunTask_AllFailed(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	bookID, _ := env.syncBook(t, 1, "book", "一", "二")
	env.llm.Reply = func(string) (string, error) { return "", errors.New("boom") }

	taskID, err := env.taskSvc.SubmitFullTrimTask(ctx, 1, bookID, 1)
	require.NoError(t, err)
	require.NoError(t, env.taskSvc.RunTask(ctx, taskID))

	task, err := env.taskSvc.GetTask(ctx, 1, taskID)
	require.NoError(t, err)
	assert.Equal(t, entities.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "chapter 0: ")
	assert.Contains(t, task.Error, "; ")
}

func TestTaskService_GetBookFullTrimStatus_None(t *testing.T) {
	env := setupTestEnv(t)
	bookID, _ := env.syncBook(t, 1, "book", "一")

	status, err := env.taskSvc.GetBookFullTrimStatus(context.Background(), 1, bookID)
	require.NoError(t, err)
	assert.Equal(t, &FullTrimStatus{}, status)
}

func TestTaskService_Queries(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	bookID, _ := env.syncBook(t, 1, "book", "一")
	taskID, err := env.taskSvc.SubmitFullTrimTask(ctx, 1, bookID, 1)
	require.NoError(t, err)

	active, err := env.taskSvc.GetActiveTasks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "测试书", active[0].BookTitle)
	assert.Equal(t, "标准沉浸模式", active[0].PromptName)

	tasks, err := env.taskSvc.GetTasks(ctx, 2, []string{taskID})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = env.taskSvc.GetTask(ctx, 2, taskID)
	assert.ErrorIs(t, err, errno.ErrTaskNotFound)
}

func TestTaskService_ReapStale(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.pointsSvc.GrantRegisterBonus(1))
	bookID, chapters := env.syncBook(t, 1, "book", "一", "二")

	taskID, err := env.taskSvc.SubmitChapterTrimTask(ctx, 1, bookID, 1, []uint{chapters[0].ID, chapters[1].ID})
	require.NoError(t, err)
	assert.Equal(t, 98, env.balance(t, 1))

	env.db.DB.Model(&entities.Task{}).Where("id = ?", taskID).Update("updated_at", time.Now().Add(-4*time.Hour))

	reaped, err := env.taskSvc.ReapStale(ctx, 3*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 100, env.balance(t, 1))

	task, err := env.taskSvc.GetTask(ctx, 1, taskID)
	require.NoError(t, err)
	assert.Equal(t, entities.TaskStatusFailed, task.Status)

	reaped, err = env.taskSvc.ReapStale(ctx, 3*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, reaped)
}

package http

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/storytrim/server/internal/http/respond"
	"github.com/storytrim/server/internal/services"
)

// TasksController submits background trim tasks and reports their progress.
type TasksController struct {
	tasks *services.TaskService
}

// NewTasksController creates a new TasksController.
func NewTasksController(tasks *services.TaskService) *TasksController {
	return &TasksController{tasks: tasks}
}

func (tc *TasksController) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/full-trim", tc.SubmitFullTrim)
	group.POST("/chapter-trim", tc.SubmitChapterTrim)
	group.GET("/chapter-trim/status", tc.ChapterTrimStatus)
	group.GET("/active", tc.Active)
	group.GET("/active/count", tc.ActiveCount)
	group.POST("/batch", tc.Batch)
	group.GET("/progress", tc.Progress)
	group.GET("/:id", tc.Get)
	group.GET("/:id/progress", tc.Get)
}

// RegisterChapterRoutes mounts the chapter task paths the mobile clients
// call under /chapters.
func (tc *TasksController) RegisterChapterRoutes(group *gin.RouterGroup) {
	group.POST("/trim-task", tc.SubmitChapterTrim)
	group.GET("/trim-status", tc.ChapterTrimStatus)
}

type fullTrimRequest struct {
	BookID   uint `json:"book_id" binding:"required"`
	PromptID uint `json:"prompt_id"`
}

type chapterTrimRequest struct {
	BookID     uint  `json:"book_id" binding:"required"`
	PromptID   uint  `json:"prompt_id"`
	ChapterIDs []any `json:"chapter_ids" binding:"required"`
}

// SubmitFullTrim handles POST /tasks/full-trim.
func (tc *TasksController) SubmitFullTrim(c *gin.Context) {
	var req fullTrimRequest
	if !bindJSON(c, &req) {
		return
	}
	taskID, err := tc.tasks.SubmitFullTrimTask(c.Request.Context(), GetUserID(c), req.BookID, req.PromptID)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, gin.H{"task_id": taskID})
}

// SubmitChapterTrim handles POST /tasks/chapter-trim. Points are charged
// up front, one per chapter.
func (tc *TasksController) SubmitChapterTrim(c *gin.Context) {
	var req chapterTrimRequest
	if !bindJSON(c, &req) {
		return
	}
	ids, ok := parseIDList(req.ChapterIDs)
	if !ok {
		respond.BadRequest(c, "invalid chapter_ids")
		return
	}
	taskID, err := tc.tasks.SubmitChapterTrimTask(c.Request.Context(), GetUserID(c), req.BookID, req.PromptID, ids)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, gin.H{"task_id": taskID})
}

// ChapterTrimStatus handles GET /tasks/chapter-trim/status?book_id&prompt_id.
func (tc *TasksController) ChapterTrimStatus(c *gin.Context) {
	bookID, ok := parseQueryID(c, "book_id")
	if !ok {
		return
	}
	promptID, ok := parseQueryID(c, "prompt_id")
	if !ok {
		return
	}
	status, err := tc.tasks.GetChapterTrimStatus(c.Request.Context(), GetUserID(c), bookID, promptID)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, status)
}

func (tc *TasksController) Active(c *gin.Context) {
	tasks, err := tc.tasks.GetActiveTasks(c.Request.Context(), GetUserID(c))
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, tasks)
}

func (tc *TasksController) ActiveCount(c *gin.Context) {
	count, err := tc.tasks.GetActiveTasksCount(c.Request.Context(), GetUserID(c))
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, gin.H{"count": count})
}

type taskBatchRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// Batch handles POST /tasks/batch, polling several tasks at once.
func (tc *TasksController) Batch(c *gin.Context) {
	var req taskBatchRequest
	if !bindJSON(c, &req) {
		return
	}
	tasks, err := tc.tasks.GetTasks(c.Request.Context(), GetUserID(c), req.IDs)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, tasks)
}

// Progress handles GET /tasks/progress?ids=a,b, the query form of Batch.
func (tc *TasksController) Progress(c *gin.Context) {
	var ids []string
	for _, raw := range c.QueryArray("ids") {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		respond.BadRequest(c, "ids is required")
		return
	}
	tasks, err := tc.tasks.GetTasks(c.Request.Context(), GetUserID(c), ids)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, tasks)
}

// Get handles GET /tasks/:id.
func (tc *TasksController) Get(c *gin.Context) {
	task, err := tc.tasks.GetTask(c.Request.Context(), GetUserID(c), c.Param("id"))
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, task)
}

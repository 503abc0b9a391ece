// Package tasks persists background trim tasks and their per-chapter items.
package tasks

import (
	"time"

	"gorm.io/gorm"

	"github.com/storytrim/server/internal/entities"
)

var activeStatuses = []entities.TaskStatus{entities.TaskStatusPending, entities.TaskStatusRunning}

// TaskWithDetail is an active task joined with display names.
type TaskWithDetail struct {
	entities.Task
	BookTitle  string `json:"book_title"`
	PromptName string `json:"prompt_name"`
}

// Repository handles task and task item persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new tasks repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateTask inserts a task.
func (r *Repository) CreateTask(task *entities.Task) error {
	return r.db.Create(task).Error
}

// UpdateTask writes the mutable state of a task.
func (r *Repository) UpdateTask(task *entities.Task) error {
	task.UpdatedAt = time.Now()
	return r.db.Model(&entities.Task{}).Where("id = ?", task.ID).Updates(map[string]any{
		"status":     task.Status,
		"progress":   task.Progress,
		"take_time":  task.TakeTime,
		"error":      task.Error,
		"updated_at": task.UpdatedAt,
	}).Error
}

// UpdateProgress sets only the progress column.
func (r *Repository) UpdateProgress(taskID string, progress int) error {
	return r.db.Model(&entities.Task{}).Where("id = ?", taskID).Updates(map[string]any{
		"progress":   progress,
		"updated_at": time.Now(),
	}).Error
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(id string) (*entities.Task, error) {
	var task entities.Task
	if err := r.db.Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTasksByIDs returns the user's tasks among ids.
func (r *Repository) GetTasksByIDs(userID uint, ids []string) ([]entities.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tasks []entities.Task
	err := r.db.Where("user_id = ? AND id IN ?", userID, ids).Order("created_at DESC").Find(&tasks).Error
	return tasks, err
}

// ActiveTasksByUser returns the user's pending and running tasks.
func (r *Repository) ActiveTasksByUser(userID uint) ([]entities.Task, error) {
	var tasks []entities.Task
	err := r.db.Where("user_id = ? AND status IN ?", userID, activeStatuses).
		Order("created_at DESC").Find(&tasks).Error
	return tasks, err
}

// ActiveTasksWithDetails is ActiveTasksByUser joined with book and prompt names.
func (r *Repository) ActiveTasksWithDetails(userID uint) ([]TaskWithDetail, error) {
	var rows []TaskWithDetail
	err := r.db.Table("tasks").
		Select("tasks.*, books.title AS book_title, prompts.name AS prompt_name").
		Joins("LEFT JOIN books ON books.id = tasks.book_id").
		Joins("LEFT JOIN prompts ON prompts.id = tasks.prompt_id").
		Where("tasks.user_id = ? AND tasks.status IN ?", userID, activeStatuses).
		Order("tasks.created_at DESC").
		Scan(&rows).Error
	return rows, err
}

// CountActive counts the user's pending and running tasks.
func (r *Repository) CountActive(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&entities.Task{}).
		Where("user_id = ? AND status IN ?", userID, activeStatuses).
		Count(&count).Error
	return count, err
}

// HasActiveFullTrim reports whether a full trim of the book is queued or running.
func (r *Repository) HasActiveFullTrim(userID, bookID uint) (bool, error) {
	var count int64
	err := r.db.Model(&entities.Task{}).
		Where("user_id = ? AND book_id = ? AND type = ? AND status IN ?",
			userID, bookID, entities.TaskTypeFullTrim, activeStatuses).
		Count(&count).Error
	return count > 0, err
}

// LatestFullTrimTask returns the most recent full trim of a book.
func (r *Repository) LatestFullTrimTask(userID, bookID uint) (*entities.Task, error) {
	var task entities.Task
	err := r.db.Where("user_id = ? AND book_id = ? AND type = ?", userID, bookID, entities.TaskTypeFullTrim).
		Order("created_at DESC").First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// StaleTasks returns active tasks not updated since before.
func (r *Repository) StaleTasks(before time.Time) ([]entities.Task, error) {
	var tasks []entities.Task
	err := r.db.Where("status IN ? AND updated_at < ?", activeStatuses, before).Find(&tasks).Error
	return tasks, err
}

// --- Items ---

// CreateItems inserts task items.
func (r *Repository) CreateItems(items []entities.TaskItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.Create(&items).Error
}

// UpdateItem writes an item's status and error.
func (r *Repository) UpdateItem(item *entities.TaskItem) error {
	item.UpdatedAt = time.Now()
	return r.db.Model(&entities.TaskItem{}).Where("id = ?", item.ID).Updates(map[string]any{
		"status":     item.Status,
		"error":      item.Error,
		"updated_at": item.UpdatedAt,
	}).Error
}

// ItemsByTask returns a task's items.
func (r *Repository) ItemsByTask(taskID string) ([]entities.TaskItem, error) {
	var items []entities.TaskItem
	err := r.db.Where("task_id = ?", taskID).Order("id ASC").Find(&items).Error
	return items, err
}

// ProcessingChapterIDs lists chapters of a book with items still processing
// in active tasks for the prompt.
func (r *Repository) ProcessingChapterIDs(userID, bookID, promptID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Table("task_items").
		Select("DISTINCT task_items.chapter_id").
		Joins("JOIN tasks ON tasks.id = task_items.task_id").
		Where("tasks.user_id = ? AND tasks.book_id = ? AND tasks.prompt_id = ?", userID, bookID, promptID).
		Where("tasks.status IN ?", activeStatuses).
		Where("task_items.status = ?", entities.TaskItemStatusProcessing).
		Scan(&ids).Error
	return ids, err
}

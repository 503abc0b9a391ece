package entities

import (
	"time"
)

type TaskType string

const (
	TaskTypeFullTrim    TaskType = "full_trim"
	TaskTypeChapterTrim TaskType = "chapter_trim"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsActive reports whether the task has not reached a terminal state.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

type TaskItemStatus string

const (
	TaskItemStatusProcessing TaskItemStatus = "processing"
	TaskItemStatusSuccess    TaskItemStatus = "success"
	TaskItemStatusFailed     TaskItemStatus = "failed"
)

type Task struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	UserID    uint       `gorm:"index;not null" json:"user_id"`
	BookID    uint       `gorm:"index;not null" json:"book_id"`
	PromptID  uint       `json:"prompt_id"`
	Type      TaskType   `gorm:"size:20;not null" json:"type"`
	Status    TaskStatus `gorm:"size:20;index;not null" json:"status"`
	Progress  int        `json:"progress"`
	TakeTime  float64    `json:"take_time"`
	Error     string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type TaskItem struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	TaskID    string         `gorm:"index;size:36;not null" json:"task_id"`
	ChapterID uint           `gorm:"index;not null" json:"chapter_id"`
	PromptID  uint           `json:"prompt_id"`
	Status    TaskItemStatus `gorm:"size:20;index;not null" json:"status"`
	Error     string         `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

package entities

import (
	"time"
)

// Prompt is a trimming preset. PromptContent is the instruction body fed to
// the model and never leaves the server.
type Prompt struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"size:64;not null" json:"name"`
	Description      string    `gorm:"size:255" json:"description"`
	PromptContent    string    `gorm:"type:text" json:"-"`
	TargetRatioMin   float64   `json:"target_ratio_min"`
	TargetRatioMax   float64   `json:"target_ratio_max"`
	BoundaryRatioMin float64   `json:"boundary_ratio_min"`
	BoundaryRatioMax float64   `json:"boundary_ratio_max"`
	IsSystem         bool      `gorm:"default:false" json:"is_system"`
	IsDefault        bool      `gorm:"default:false" json:"is_default"`
	CreatedAt        time.Time `json:"created_at"`
}

// TrimResult is shared by every user who trims the same content with the
// same prompt.
type TrimResult struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ChapterMD5       string    `gorm:"uniqueIndex:idx_trim_lookup;size:32;not null" json:"chapter_md5"`
	PromptID         uint      `gorm:"uniqueIndex:idx_trim_lookup;not null" json:"prompt_id"`
	TrimContent      string    `gorm:"type:text" json:"trim_content"`
	TrimContentWords int       `json:"trim_content_words"`
	WordsRange       string    `gorm:"size:32" json:"words_range"`
	TrimRate         float64   `json:"trim_rate"`
	TargetRateRange  string    `gorm:"size:32" json:"target_rate_range"`
	TotalCost        float64   `json:"total_cost"`
	InputCost        float64   `json:"input_cost"`
	OutputCost       float64   `json:"output_cost"`
	TotalTokens      int       `json:"total_tokens"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TakeTime         float64   `json:"take_time"`
	LlmName          string    `gorm:"size:64" json:"llm_name"`
	CreatedAt        time.Time `json:"created_at"`
}

// UserProcessedChapter records that a user has paid for a trim of a chapter
// under a prompt. BookID is zero when the trim came from a local-only book.
type UserProcessedChapter struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"index:idx_user_prompt_md5;uniqueIndex:idx_user_processed_content;not null" json:"user_id"`
	PromptID   uint      `gorm:"index:idx_user_prompt_md5;uniqueIndex:idx_user_processed_content;not null" json:"prompt_id"`
	BookMD5    string    `gorm:"index:idx_user_prompt_md5;uniqueIndex:idx_user_processed_content;size:32" json:"book_md5"`
	ChapterMD5 string    `gorm:"index:idx_user_prompt_md5;uniqueIndex:idx_user_processed_content;size:32;not null" json:"chapter_md5"`
	BookID     uint      `gorm:"uniqueIndex:idx_user_processed_content" json:"book_id"`
	ChapterID  uint      `json:"chapter_id"`
	CreatedAt  time.Time `json:"created_at"`
}

package entities

import (
	"time"
)

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Book struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"index;not null" json:"user_id"`
	BookMD5       string    `gorm:"index;size:32" json:"book_md5"`
	Title         string    `gorm:"size:255" json:"title"`
	TotalChapters int       `json:"total_chapters"`
	Chapters      []Chapter `gorm:"foreignKey:BookID" json:"chapters,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Chapter points at deduplicated content through ChapterMD5.
type Chapter struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	BookID     uint      `gorm:"uniqueIndex:idx_book_chapter_index;not null" json:"book_id"`
	Index      int       `gorm:"column:chapter_index;uniqueIndex:idx_book_chapter_index" json:"index"`
	Title      string    `gorm:"size:255" json:"title"`
	ChapterMD5 string    `gorm:"index;size:32" json:"chapter_md5"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChapterContent is content-addressed metadata for a chapter body kept in
// object storage. Content is only populated in memory.
type ChapterContent struct {
	ChapterMD5 string    `gorm:"primaryKey;size:32" json:"chapter_md5"`
	ObjectKey  string    `gorm:"size:255" json:"object_key"`
	Size       int64     `json:"size"`
	WordsCount int       `json:"words_count"`
	TokenCount int       `json:"token_count"`
	Content    string    `gorm:"-" json:"content,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type ReadingHistory struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"uniqueIndex:idx_user_book_history;not null" json:"user_id"`
	BookID        uint      `gorm:"uniqueIndex:idx_user_book_history;not null" json:"book_id"`
	LastChapterID uint      `json:"last_chapter_id"`
	LastPromptID  uint      `json:"last_prompt_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ReadingHistory) TableName() string {
	return "reading_histories"
}

// Package trims stores trim results and the per-user record of which
// chapters have been trimmed under which prompt.
//
// Trim results are keyed by (chapter_md5, prompt_id) and shared across
// users; UserProcessedChapter rows are what a user has paid for.
package trims

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storytrim/server/internal/entities"
)

// Repository handles trim result and processed-chapter operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new trims repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetResult returns the cached trim of a content under a prompt.
func (r *Repository) GetResult(chapterMD5 string, promptID uint) (*entities.TrimResult, error) {
	var result entities.TrimResult
	err := r.db.Where("chapter_md5 = ? AND prompt_id = ?", chapterMD5, promptID).First(&result).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetResults returns cached trims for several contents, keyed by md5.
func (r *Repository) GetResults(chapterMD5s []string, promptID uint) (map[string]entities.TrimResult, error) {
	results := make(map[string]entities.TrimResult, len(chapterMD5s))
	if len(chapterMD5s) == 0 {
		return results, nil
	}
	var rows []entities.TrimResult
	err := r.db.Where("chapter_md5 IN ? AND prompt_id = ?", chapterMD5s, promptID).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		results[row.ChapterMD5] = row
	}
	return results, nil
}

// ExistsResult reports whether a trim is cached without loading its text.
func (r *Repository) ExistsResult(chapterMD5 string, promptID uint) (bool, error) {
	var count int64
	err := r.db.Model(&entities.TrimResult{}).
		Where("chapter_md5 = ? AND prompt_id = ?", chapterMD5, promptID).
		Count(&count).Error
	return count > 0, err
}

// SaveResult inserts or replaces the trim for (chapter_md5, prompt_id).
func (r *Repository) SaveResult(result *entities.TrimResult) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chapter_md5"}, {Name: "prompt_id"}},
		UpdateAll: true,
	}).Create(result).Error
}

// RecordUserTrim marks a chapter as trimmed for the user. Recording the
// same chapter twice is a no-op.
func (r *Repository) RecordUserTrim(action *entities.UserProcessedChapter) error {
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(action).Error
}

// processedScope matches rows for a content either through the book row or,
// for books only known to the client, through the book fingerprint.
func (r *Repository) processedScope(userID, promptID, bookID uint, bookMD5 string) *gorm.DB {
	q := r.db.Model(&entities.UserProcessedChapter{}).
		Where("user_id = ? AND prompt_id = ?", userID, promptID)
	switch {
	case bookID > 0 && bookMD5 != "":
		q = q.Where("(book_id = ? OR book_md5 = ?)", bookID, bookMD5)
	case bookID > 0:
		q = q.Where("book_id = ?", bookID)
	case bookMD5 != "":
		q = q.Where("book_md5 = ?", bookMD5)
	}
	return q
}

// HasUserProcessed reports whether the user already paid for this content
// under the prompt.
func (r *Repository) HasUserProcessed(userID, promptID, bookID uint, bookMD5, chapterMD5 string) (bool, error) {
	var count int64
	err := r.processedScope(userID, promptID, bookID, bookMD5).
		Where("chapter_md5 = ?", chapterMD5).
		Count(&count).Error
	return count > 0, err
}

// ProcessedChapterMD5s returns which of chapterMD5s the user already trimmed.
func (r *Repository) ProcessedChapterMD5s(userID, promptID, bookID uint, bookMD5 string, chapterMD5s []string) (map[string]bool, error) {
	processed := make(map[string]bool)
	if len(chapterMD5s) == 0 {
		return processed, nil
	}
	var found []string
	err := r.processedScope(userID, promptID, bookID, bookMD5).
		Where("chapter_md5 IN ?", chapterMD5s).
		Distinct().Pluck("chapter_md5", &found).Error
	if err != nil {
		return nil, err
	}
	for _, m := range found {
		processed[m] = true
	}
	return processed, nil
}

// TrimmedChapterMD5s returns every content md5 the user trimmed in a book
// under the prompt.
func (r *Repository) TrimmedChapterMD5s(userID, promptID, bookID uint, bookMD5 string) ([]string, error) {
	var md5s []string
	err := r.processedScope(userID, promptID, bookID, bookMD5).
		Distinct().Pluck("chapter_md5", &md5s).Error
	return md5s, err
}

// ChapterTrimmedPromptIDs lists the prompts a user has trimmed a chapter
// with, matching by chapter id or by (book md5, chapter md5). A zero id or
// an incomplete hash pair matches nothing; records made by hash alone carry
// chapter_id 0.
func (r *Repository) ChapterTrimmedPromptIDs(userID, chapterID uint, bookMD5, chapterMD5 string) ([]uint, error) {
	byID := chapterID != 0
	byMD5 := bookMD5 != "" && chapterMD5 != ""

	q := r.db.Model(&entities.UserProcessedChapter{}).Where("user_id = ?", userID)
	switch {
	case byID && byMD5:
		q = q.Where("(chapter_id = ? OR (book_md5 = ? AND chapter_md5 = ?))", chapterID, bookMD5, chapterMD5)
	case byID:
		q = q.Where("chapter_id = ?", chapterID)
	case byMD5:
		q = q.Where("book_md5 = ? AND chapter_md5 = ?", bookMD5, chapterMD5)
	default:
		return []uint{}, nil
	}
	var ids []uint
	err := q.Distinct().Order("prompt_id").Pluck("prompt_id", &ids).Error
	return ids, err
}

// BookTrimmedPromptIDs maps each chapter of a cloud book to the prompts the
// user has trimmed it with, by chapter id or by the book's fingerprint.
// Untrimmed chapters are left out.
func (r *Repository) BookTrimmedPromptIDs(userID, bookID uint, bookMD5 string) (map[uint][]uint, error) {
	var rows []struct {
		ChapterID uint
		PromptID  uint
	}
	err := r.db.Table("chapters").
		Select("DISTINCT chapters.id AS chapter_id, upc.prompt_id AS prompt_id").
		Joins(`JOIN user_processed_chapters upc ON upc.user_id = ? AND
			(upc.chapter_id = chapters.id OR (upc.book_md5 = ? AND upc.book_md5 <> '' AND upc.chapter_md5 = chapters.chapter_md5))`,
			userID, bookMD5).
		Where("chapters.book_id = ?", bookID).
		Order("chapters.id, upc.prompt_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint][]uint)
	for _, row := range rows {
		out[row.ChapterID] = append(out[row.ChapterID], row.PromptID)
	}
	return out, nil
}

// ContentsTrimmedPromptIDs maps each of chapterMD5s the user has trimmed to
// its prompts.
func (r *Repository) ContentsTrimmedPromptIDs(userID uint, chapterMD5s []string) (map[string][]uint, error) {
	out := make(map[string][]uint)
	if len(chapterMD5s) == 0 {
		return out, nil
	}
	var rows []struct {
		ChapterMD5 string
		PromptID   uint
	}
	err := r.db.Model(&entities.UserProcessedChapter{}).
		Select("DISTINCT chapter_md5, prompt_id").
		Where("user_id = ? AND chapter_md5 IN ?", userID, chapterMD5s).
		Order("chapter_md5, prompt_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ChapterMD5] = append(out[row.ChapterMD5], row.PromptID)
	}
	return out, nil
}

// ContentTrimmedPromptIDs lists the prompts a user has trimmed a content with.
func (r *Repository) ContentTrimmedPromptIDs(userID uint, chapterMD5 string) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&entities.UserProcessedChapter{}).
		Where("user_id = ? AND chapter_md5 = ?", userID, chapterMD5).
		Distinct().Order("prompt_id").Pluck("prompt_id", &ids).Error
	return ids, err
}

// Package books provides database operations for books, chapters, chapter
// contents and reading history.
//
// Chapter bodies are content-addressed: a chapter row stores only the MD5 of
// its text, and the text itself lives once in object storage under
// storage.ChapterKey(md5), with a ChapterContent row holding its metadata.
//
// # Usage
//
//	repo := books.NewRepository(db, store)
//	book, err := repo.GetBookForUser(userID, bookID)
package books

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/storage"
)

const (
	chapterBatchSize  = 100
	uploadConcurrency = 6
)

// Repository handles all book database operations.
type Repository struct {
	db    *gorm.DB
	store storage.Client
}

// NewRepository creates a new books repository.
func NewRepository(db *gorm.DB, store storage.Client) *Repository {
	return &Repository{db: db, store: store}
}

// --- Books ---

// CreateBookWithChapters inserts a book and its chapters in one transaction.
// Chapter BookIDs are filled in from the new book.
func (r *Repository) CreateBookWithChapters(book *entities.Book, chapters []entities.Chapter) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Chapters").Create(book).Error; err != nil {
			return fmt.Errorf("create book: %w", err)
		}
		if len(chapters) == 0 {
			return nil
		}
		for i := range chapters {
			chapters[i].BookID = book.ID
		}
		if err := tx.CreateInBatches(chapters, chapterBatchSize).Error; err != nil {
			return fmt.Errorf("create chapters: %w", err)
		}
		return nil
	})
}

// UpsertChapters inserts chapters for an existing book, replacing title and
// content hash of chapters whose index already exists.
func (r *Repository) UpsertChapters(bookID uint, chapters []entities.Chapter) error {
	if len(chapters) == 0 {
		return nil
	}
	for i := range chapters {
		chapters[i].BookID = bookID
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "book_id"}, {Name: "chapter_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "chapter_md5"}),
	}).CreateInBatches(chapters, chapterBatchSize).Error
}

// UpdateTotalChapters sets the book's chapter count.
func (r *Repository) UpdateTotalChapters(bookID uint, total int) error {
	return r.db.Model(&entities.Book{}).Where("id = ?", bookID).Update("total_chapters", total).Error
}

// GetBookByID retrieves a book without chapters.
func (r *Repository) GetBookByID(id uint) (*entities.Book, error) {
	var book entities.Book
	if err := r.db.First(&book, id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

// GetBookForUser retrieves a book only if userID owns it.
func (r *Repository) GetBookForUser(userID, bookID uint) (*entities.Book, error) {
	var book entities.Book
	err := r.db.Where("id = ? AND user_id = ?", bookID, userID).First(&book).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// GetBookByMD5 finds the user's copy of a book by its content hash.
func (r *Repository) GetBookByMD5(userID uint, bookMD5 string) (*entities.Book, error) {
	var book entities.Book
	err := r.db.Where("user_id = ? AND book_md5 = ?", userID, bookMD5).
		Order("id DESC").First(&book).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// ListBooksByUser returns the user's shelf, newest first.
func (r *Repository) ListBooksByUser(userID uint) ([]entities.Book, error) {
	var books []entities.Book
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&books).Error
	return books, err
}

// DeleteBook removes a book owned by userID together with its chapters and
// reading history. Shared chapter contents are left for the orphan sweeper.
func (r *Repository) DeleteBook(userID, bookID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND book_id = ?", userID, bookID).
			Delete(&entities.ReadingHistory{}).Error; err != nil {
			return err
		}

		// Chapters go only if the book belongs to the user.
		owned := tx.Model(&entities.Book{}).Select("id").Where("id = ? AND user_id = ?", bookID, userID)
		if err := tx.Where("book_id IN (?)", owned).Delete(&entities.Chapter{}).Error; err != nil {
			return err
		}

		res := tx.Where("id = ? AND user_id = ?", bookID, userID).Delete(&entities.Book{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// --- Chapters ---

// GetChaptersByBookID returns a book's chapters in reading order.
func (r *Repository) GetChaptersByBookID(bookID uint) ([]entities.Chapter, error) {
	var chapters []entities.Chapter
	err := r.db.Where("book_id = ?", bookID).Order("chapter_index ASC").Find(&chapters).Error
	return chapters, err
}

// GetChapterByID retrieves a single chapter.
func (r *Repository) GetChapterByID(id uint) (*entities.Chapter, error) {
	var chapter entities.Chapter
	if err := r.db.First(&chapter, id).Error; err != nil {
		return nil, err
	}
	return &chapter, nil
}

// GetChaptersByIDs returns the chapters that exist among ids, in index order.
func (r *Repository) GetChaptersByIDs(ids []uint) ([]entities.Chapter, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var chapters []entities.Chapter
	err := r.db.Where("id IN ?", ids).Order("book_id ASC, chapter_index ASC").Find(&chapters).Error
	return chapters, err
}

// GetUserChaptersByIDs is GetChaptersByIDs limited to chapters of books
// userID owns.
func (r *Repository) GetUserChaptersByIDs(userID uint, ids []uint) ([]entities.Chapter, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var chapters []entities.Chapter
	err := r.db.
		Joins("JOIN books ON books.id = chapters.book_id AND books.user_id = ?", userID).
		Where("chapters.id IN ?", ids).
		Order("chapters.book_id ASC, chapters.chapter_index ASC").
		Find(&chapters).Error
	return chapters, err
}

// --- Contents ---

// ExistingContentMD5s returns the subset of md5s that already have content.
func (r *Repository) ExistingContentMD5s(md5s []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(md5s))
	if len(md5s) == 0 {
		return existing, nil
	}
	var found []string
	err := r.db.Model(&entities.ChapterContent{}).Where("chapter_md5 IN ?", md5s).
		Pluck("chapter_md5", &found).Error
	if err != nil {
		return nil, err
	}
	for _, m := range found {
		existing[m] = true
	}
	return existing, nil
}

// SaveContents stores every content not yet known, uploading bodies
// concurrently before inserting their metadata. Contents are matched by
// ChapterMD5; duplicates within the batch are stored once. Reused contents
// get a fresh created_at so the orphan sweeper's grace period covers them
// until their chapters are inserted.
func (r *Repository) SaveContents(ctx context.Context, contents []entities.ChapterContent) error {
	if len(contents) == 0 {
		return nil
	}

	md5s := make([]string, 0, len(contents))
	for _, c := range contents {
		md5s = append(md5s, c.ChapterMD5)
	}
	if err := r.db.Model(&entities.ChapterContent{}).Where("chapter_md5 IN ?", md5s).
		Update("created_at", time.Now()).Error; err != nil {
		return fmt.Errorf("touch existing contents: %w", err)
	}
	existing, err := r.ExistingContentMD5s(md5s)
	if err != nil {
		return fmt.Errorf("lookup existing contents: %w", err)
	}

	missing := make([]entities.ChapterContent, 0, len(contents))
	for _, c := range contents {
		if existing[c.ChapterMD5] {
			continue
		}
		existing[c.ChapterMD5] = true
		c.ObjectKey = storage.ChapterKey(c.ChapterMD5)
		c.Size = int64(len(c.Content))
		missing = append(missing, c)
	}
	if len(missing) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i := range missing {
		c := missing[i]
		g.Go(func() error {
			if err := storage.PutText(gctx, r.store, c.ObjectKey, c.Content); err != nil {
				return fmt.Errorf("upload chapter %s: %w", c.ChapterMD5, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return r.db.Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(missing, chapterBatchSize).Error
}

// GetContentMetas returns content metadata keyed by md5.
func (r *Repository) GetContentMetas(md5s []string) (map[string]entities.ChapterContent, error) {
	metas := make(map[string]entities.ChapterContent, len(md5s))
	if len(md5s) == 0 {
		return metas, nil
	}
	var rows []entities.ChapterContent
	if err := r.db.Where("chapter_md5 IN ?", md5s).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		metas[row.ChapterMD5] = row
	}
	return metas, nil
}

// GetContent loads a content's metadata and body.
func (r *Repository) GetContent(ctx context.Context, md5 string) (*entities.ChapterContent, error) {
	var content entities.ChapterContent
	if err := r.db.Where("chapter_md5 = ?", md5).First(&content).Error; err != nil {
		return nil, err
	}
	text, err := storage.ReadText(ctx, r.store, content.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", md5, err)
	}
	content.Content = text
	return &content, nil
}

// OpenContent streams a stored body by object key.
func (r *Repository) OpenContent(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	return r.store.Get(ctx, objectKey)
}

// ListOrphanContents returns contents no chapter or trim result refers to,
// created before olderThan.
func (r *Repository) ListOrphanContents(olderThan time.Time, limit int) ([]entities.ChapterContent, error) {
	var rows []entities.ChapterContent
	err := r.db.
		Where("created_at < ?", olderThan).
		Where("NOT EXISTS (SELECT 1 FROM chapters WHERE chapters.chapter_md5 = chapter_contents.chapter_md5)").
		Where("NOT EXISTS (SELECT 1 FROM trim_results WHERE trim_results.chapter_md5 = chapter_contents.chapter_md5)").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// DeleteOrphanContent removes a content row and its stored body if the
// content is still unreferenced and older than olderThan. It reports
// whether anything was deleted. The object is removed inside the row
// transaction, so a concurrent sync waits on the write lock and then
// uploads the body again instead of losing it.
func (r *Repository) DeleteOrphanContent(ctx context.Context, content entities.ChapterContent, olderThan time.Time) (bool, error) {
	deleted := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.
			Where("chapter_md5 = ? AND created_at < ?", content.ChapterMD5, olderThan).
			Where("NOT EXISTS (SELECT 1 FROM chapters WHERE chapters.chapter_md5 = chapter_contents.chapter_md5)").
			Where("NOT EXISTS (SELECT 1 FROM trim_results WHERE trim_results.chapter_md5 = chapter_contents.chapter_md5)").
			Delete(&entities.ChapterContent{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 || content.ObjectKey == "" {
			deleted = res.RowsAffected > 0
			return nil
		}
		if err := r.store.Delete(ctx, content.ObjectKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete object %s: %w", content.ObjectKey, err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// --- Reading history ---

// UpsertReadingHistory records the user's position in a book.
func (r *Repository) UpsertReadingHistory(userID, bookID, chapterID, promptID uint) error {
	history := entities.ReadingHistory{
		UserID:        userID,
		BookID:        bookID,
		LastChapterID: chapterID,
		LastPromptID:  promptID,
		UpdatedAt:     time.Now(),
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_chapter_id", "last_prompt_id", "updated_at"}),
	}).Create(&history).Error
}

// GetReadingHistory returns the user's position in a book.
func (r *Repository) GetReadingHistory(userID, bookID uint) (*entities.ReadingHistory, error) {
	var history entities.ReadingHistory
	err := r.db.Where("user_id = ? AND book_id = ?", userID, bookID).First(&history).Error
	if err != nil {
		return nil, err
	}
	return &history, nil
}

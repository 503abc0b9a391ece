package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/exporters"
	"github.com/storytrim/server/internal/logging"
	"github.com/storytrim/server/internal/parsers"
)

// MaxBatchIDs bounds how many chapters or contents one request may fetch.
const MaxBatchIDs = 10

// MaxSyncMD5s bounds one trim status sync by content hash.
const MaxSyncMD5s = 500

const fullTrimIdle = "idle"

type SyncLocalChapter struct {
	LocalID    uint   `json:"local_id"`
	Index      int    `json:"index"`
	Title      string `json:"title"`
	MD5        string `json:"md5"`
	Content    string `json:"content"`
	WordsCount int    `json:"words_count"`
}

type SyncLocalBookReq struct {
	BookName      string             `json:"book_name" binding:"required"`
	BookMD5       string             `json:"book_md5" binding:"required"`
	TotalChapters int                `json:"total_chapters" binding:"required"`
	Chapters      []SyncLocalChapter `json:"chapters" binding:"required"`
}

// SyncLocalBookZipReq carries the book metadata sent next to a zip upload.
type SyncLocalBookZipReq struct {
	BookName      string `form:"book_name" binding:"required"`
	BookMD5       string `form:"book_md5" binding:"required"`
	TotalChapters int    `form:"total_chapters" binding:"required"`
}

type ChapterMapping struct {
	LocalID uint `json:"local_id"`
	CloudID uint `json:"cloud_id"`
}

type SyncLocalBookResp struct {
	BookID          uint             `json:"book_id"`
	ChapterMappings []ChapterMapping `json:"chapter_mappings"`
}

type BookListResp struct {
	entities.Book
	FullTrimStatus   string `json:"full_trim_status"`
	FullTrimProgress int    `json:"full_trim_progress"`
}

type BookDetailResp struct {
	Book     entities.Book      `json:"book"`
	Chapters []entities.Chapter `json:"chapters"`
}

type ChapterContentResp struct {
	ChapterID  uint   `json:"chapter_id"`
	ChapterMD5 string `json:"chapter_md5"`
	Content    string `json:"content"`
}

type ChapterTrimResp struct {
	ChapterID      uint   `json:"chapter_id"`
	PromptID       uint   `json:"prompt_id"`
	TrimmedContent string `json:"trimmed_content"`
}

type ContentTrimResp struct {
	ChapterMD5     string `json:"chapter_md5"`
	PromptID       uint   `json:"prompt_id"`
	TrimmedContent string `json:"trimmed_content"`
}

// BookService manages a user's shelf: syncing books from clients, reading
// chapters and trims back, tracking progress and exporting contents.
type BookService struct {
	books   BookStore
	prompts PromptStore
	trims   TrimStore
	tasks   TaskStore
	tempDir string
}

// NewBookService creates a BookService.
func NewBookService(books BookStore, prompts PromptStore, trims TrimStore, tasks TaskStore) *BookService {
	return &BookService{books: books, prompts: prompts, trims: trims, tasks: tasks}
}

// WithTempDir sets where zip uploads and export databases are spooled.
func (s *BookService) WithTempDir(dir string) *BookService {
	s.tempDir = dir
	return s
}

// ListUserBooks returns the shelf with each book's running full trim, if any.
func (s *BookService) ListUserBooks(ctx context.Context, userID uint) ([]BookListResp, error) {
	books, err := s.books.ListBooksByUser(userID)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}

	active, err := s.tasks.ActiveTasksByUser(userID)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	fullTrims := make(map[uint]entities.Task)
	for _, t := range active {
		if t.Type == entities.TaskTypeFullTrim {
			fullTrims[t.BookID] = t
		}
	}

	res := make([]BookListResp, 0, len(books))
	for _, b := range books {
		item := BookListResp{Book: b, FullTrimStatus: fullTrimIdle}
		if t, ok := fullTrims[b.ID]; ok {
			item.FullTrimStatus = string(t.Status)
			item.FullTrimProgress = t.Progress
		}
		res = append(res, item)
	}
	return res, nil
}

func (s *BookService) ownedBook(userID, bookID uint) (*entities.Book, error) {
	book, err := s.books.GetBookForUser(userID, bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrBookNotFound
		}
		return nil, errno.ErrInternal.Wrap(err)
	}
	return book, nil
}

// GetBookDetail returns a user's book with its chapters in reading order.
func (s *BookService) GetBookDetail(ctx context.Context, userID, bookID uint) (*BookDetailResp, error) {
	book, err := s.ownedBook(userID, bookID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.books.GetChaptersByBookID(book.ID)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	return &BookDetailResp{Book: *book, Chapters: chapters}, nil
}

// GetChaptersContent returns raw chapter text. Unknown ids and chapters of
// other users' books are skipped.
func (s *BookService) GetChaptersContent(ctx context.Context, userID uint, ids []uint) ([]ChapterContentResp, error) {
	if len(ids) > MaxBatchIDs {
		return nil, errno.ErrParam.WithMsg(fmt.Sprintf("最多 %d 个章节", MaxBatchIDs))
	}
	chapters, err := s.books.GetUserChaptersByIDs(userID, ids)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}

	res := make([]ChapterContentResp, 0, len(chapters))
	for _, ch := range chapters {
		content, err := s.books.GetContent(ctx, ch.ChapterMD5)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, errno.ErrInternal.Wrap(err)
		}
		res = append(res, ChapterContentResp{
			ChapterID:  ch.ID,
			ChapterMD5: ch.ChapterMD5,
			Content:    content.Content,
		})
	}
	return res, nil
}

// GetChaptersTrimmed returns cached trims of the user's chapters under a
// prompt. Chapters without a trim are left out.
func (s *BookService) GetChaptersTrimmed(ctx context.Context, userID uint, ids []uint, promptID uint) ([]ChapterTrimResp, error) {
	if len(ids) > MaxBatchIDs {
		return nil, errno.ErrParam.WithMsg(fmt.Sprintf("最多 %d 个章节", MaxBatchIDs))
	}
	chapters, err := s.books.GetUserChaptersByIDs(userID, ids)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	md5s := make([]string, 0, len(chapters))
	for _, ch := range chapters {
		md5s = append(md5s, ch.ChapterMD5)
	}
	results, err := s.trims.GetResults(md5s, promptID)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}

	res := make([]ChapterTrimResp, 0, len(results))
	for _, ch := range chapters {
		r, ok := results[ch.ChapterMD5]
		if !ok {
			continue
		}
		res = append(res, ChapterTrimResp{ChapterID: ch.ID, PromptID: promptID, TrimmedContent: r.TrimContent})
	}
	return res, nil
}

// GetContentsTrimmed is GetChaptersTrimmed keyed by content hash, for
// books that only exist on the client.
func (s *BookService) GetContentsTrimmed(ctx context.Context, userID uint, md5s []string, promptID uint) ([]ContentTrimResp, error) {
	if len(md5s) > MaxBatchIDs {
		return nil, errno.ErrParam.WithMsg(fmt.Sprintf("最多 %d 个内容", MaxBatchIDs))
	}
	results, err := s.trims.GetResults(md5s, promptID)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}

	res := make([]ContentTrimResp, 0, len(results))
	for _, md5 := range md5s {
		r, ok := results[md5]
		if !ok {
			continue
		}
		res = append(res, ContentTrimResp{ChapterMD5: md5, PromptID: promptID, TrimmedContent: r.TrimContent})
	}
	return res, nil
}

// SyncLocalBook uploads a client-side book. Contents already on the server
// are not stored again and chapters are matched to the cloud by index.
func (s *BookService) SyncLocalBook(ctx context.Context, userID uint, req *SyncLocalBookReq) (*SyncLocalBookResp, error) {
	if req == nil || len(req.Chapters) == 0 {
		return nil, errno.ErrParam
	}

	book, err := s.resolveSyncBook(userID, req.BookMD5, req.BookName, req.TotalChapters, req.Chapters)
	if err != nil {
		return nil, err
	}

	contents := make([]entities.ChapterContent, 0, len(req.Chapters))
	chapters := make([]entities.Chapter, 0, len(req.Chapters))
	for i := range req.Chapters {
		c := &req.Chapters[i]
		// Contents are shared by hash across users, so the hash must be
		// the content's own.
		if c.Content != "" && !matchesFingerprint(c.Content, c.MD5) {
			return nil, errno.ErrBookInvalid.WithMsg(fmt.Sprintf("第 %d 章 MD5 与内容不符", c.Index))
		}
		c.MD5 = strings.ToLower(c.MD5)
		contents = append(contents, entities.ChapterContent{
			ChapterMD5: c.MD5,
			Content:    c.Content,
			WordsCount: c.WordsCount,
		})
		chapters = append(chapters, entities.Chapter{Index: c.Index, Title: c.Title, ChapterMD5: c.MD5})
	}

	return s.persistSyncBook(ctx, book, chapters, contents, req.Chapters)
}

// SyncLocalBookZip is SyncLocalBook for large books, sent as a zip of
// book.txt plus a manifest of chapter byte ranges.
func (s *BookService) SyncLocalBookZip(ctx context.Context, userID uint, req *SyncLocalBookZipReq, r io.Reader) (*SyncLocalBookResp, error) {
	if req == nil || req.BookMD5 == "" || req.BookName == "" || req.TotalChapters == 0 {
		return nil, errno.ErrParam
	}
	logger := logging.With("books")
	start := time.Now()

	tmp, err := os.CreateTemp(s.tempDir, "storytrim-upload-*.zip")
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(fmt.Errorf("spool upload: %w", err))
	}

	manifest, bookData, err := exporters.ReadBookZip(tmp, size)
	if err != nil {
		return nil, errno.ErrBookInvalid.Wrap(err)
	}
	if len(manifest.Chapters) == 0 {
		return nil, errno.ErrParam
	}

	source := make([]SyncLocalChapter, 0, len(manifest.Chapters))
	for _, ch := range manifest.Chapters {
		if ch.Length <= 0 {
			return nil, errno.ErrBookInvalid.WithMsg("章节长度无效")
		}
		end := ch.Offset + ch.Length
		if ch.Offset < 0 || end > int64(len(bookData)) {
			return nil, errno.ErrBookInvalid.WithMsg("章节偏移越界")
		}
		content := string(bookData[ch.Offset:end])
		source = append(source, SyncLocalChapter{
			LocalID:    ch.LocalID,
			Index:      ch.Index,
			Title:      ch.Title,
			MD5:        ch.ChapterMD5,
			Content:    content,
			WordsCount: ch.WordsCount,
		})
	}

	resp, err := s.SyncLocalBook(ctx, userID, &SyncLocalBookReq{
		BookName:      req.BookName,
		BookMD5:       req.BookMD5,
		TotalChapters: req.TotalChapters,
		Chapters:      source,
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("book_md5", req.BookMD5).
		Int64("zip_bytes", size).
		Int("chapters", len(source)).
		Dur("took", time.Since(start)).
		Msg("Zip sync finished")
	return resp, nil
}

// resolveSyncBook picks the book a sync writes into. A complete copy of the
// same book on the shelf is a conflict; an incomplete one is resumed.
func (s *BookService) resolveSyncBook(userID uint, bookMD5, bookName string, totalChapters int, chapters []SyncLocalChapter) (*entities.Book, error) {
	hasFirst := false
	for _, c := range chapters {
		if c.Index == 0 {
			hasFirst = true
			break
		}
	}
	if !hasFirst {
		return nil, errno.ErrParam.WithMsg("缺少第 0 章")
	}

	existing, err := s.books.GetBookByMD5(userID, bookMD5)
	switch {
	case err == nil:
		have, err := s.books.GetChaptersByBookID(existing.ID)
		if err != nil {
			return nil, errno.ErrInternal.Wrap(err)
		}
		if len(have) >= totalChapters {
			return nil, errno.ErrBookExist
		}
		return existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &entities.Book{
			UserID:        userID,
			BookMD5:       bookMD5,
			Title:         bookName,
			TotalChapters: totalChapters,
		}, nil
	default:
		return nil, errno.ErrInternal.Wrap(err)
	}
}

func (s *BookService) persistSyncBook(
	ctx context.Context,
	book *entities.Book,
	chapters []entities.Chapter,
	contents []entities.ChapterContent,
	source []SyncLocalChapter,
) (*SyncLocalBookResp, error) {
	logger := logging.With("books")

	for _, c := range contents {
		if c.Content == "" {
			return nil, errno.ErrBookInvalid.WithMsg("章节内容为空")
		}
	}

	start := time.Now()
	if err := s.books.SaveContents(ctx, contents); err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	logger.Debug().Int("contents", len(contents)).Dur("took", time.Since(start)).Msg("Contents stored")

	if book.ID == 0 {
		if err := s.books.CreateBookWithChapters(book, chapters); err != nil {
			return nil, errno.ErrInternal.Wrap(err)
		}
	} else {
		if err := s.books.UpsertChapters(book.ID, chapters); err != nil {
			return nil, errno.ErrInternal.Wrap(err)
		}
	}

	stored, err := s.books.GetChaptersByBookID(book.ID)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	cloudIDs := make(map[int]uint, len(stored))
	for _, ch := range stored {
		cloudIDs[ch.Index] = ch.ID
	}

	mappings := make([]ChapterMapping, 0, len(source))
	for _, c := range source {
		if id, ok := cloudIDs[c.Index]; ok {
			mappings = append(mappings, ChapterMapping{LocalID: c.LocalID, CloudID: id})
		}
	}

	logger.Info().
		Uint("book_id", book.ID).
		Uint("user_id", book.UserID).
		Int("chapters", len(chapters)).
		Msg("Book synced")
	return &SyncLocalBookResp{BookID: book.ID, ChapterMappings: mappings}, nil
}

// UpdateReadingProgress remembers the last chapter and prompt read.
func (s *BookService) UpdateReadingProgress(ctx context.Context, userID, bookID, chapterID, promptID uint) error {
	if _, err := s.ownedBook(userID, bookID); err != nil {
		return err
	}
	if err := s.books.UpsertReadingHistory(userID, bookID, chapterID, promptID); err != nil {
		return errno.ErrInternal.Wrap(err)
	}
	return nil
}

// GetReadingProgress returns nil when the user has not opened the book yet.
func (s *BookService) GetReadingProgress(ctx context.Context, userID, bookID uint) (*entities.ReadingHistory, error) {
	history, err := s.books.GetReadingHistory(userID, bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errno.ErrInternal.Wrap(err)
	}
	return history, nil
}

// RegisterTrimStatusByMD5 marks a content as trimmed by the user without a
// cloud book, as happens after a client replays a trim it fetched by hash.
func (s *BookService) RegisterTrimStatusByMD5(ctx context.Context, userID uint, md5 string, promptID uint) error {
	if md5 == "" || promptID == 0 {
		return errno.ErrParam
	}
	err := s.trims.RecordUserTrim(&entities.UserProcessedChapter{
		UserID:     userID,
		PromptID:   promptID,
		ChapterMD5: md5,
	})
	if err != nil {
		return errno.ErrInternal.Wrap(err)
	}
	return nil
}

// SyncTrimStatusByBook reports, per chapter id of the user's book, the
// prompts the user has trimmed it with.
func (s *BookService) SyncTrimStatusByBook(ctx context.Context, userID, bookID uint) (map[uint][]uint, error) {
	book, err := s.books.GetBookForUser(userID, bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrBookNotFound
		}
		return nil, errno.ErrInternal.Wrap(err)
	}
	trimmed, err := s.trims.BookTrimmedPromptIDs(userID, book.ID, book.BookMD5)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	return trimmed, nil
}

// SyncTrimStatusByMD5s reports, per content hash, the prompts the user has
// trimmed it with.
func (s *BookService) SyncTrimStatusByMD5s(ctx context.Context, userID uint, md5s []string) (map[string][]uint, error) {
	if len(md5s) > MaxSyncMD5s {
		return nil, errno.ErrParam.WithMsg(fmt.Sprintf("最多一次同步 %d 个章节", MaxSyncMD5s))
	}
	normalized := make([]string, 0, len(md5s))
	for _, m := range md5s {
		normalized = append(normalized, strings.ToLower(m))
	}
	trimmed, err := s.trims.ContentsTrimmedPromptIDs(userID, normalized)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	return trimmed, nil
}

// ListPrompts returns the system trimming presets.
func (s *BookService) ListPrompts(ctx context.Context) ([]entities.Prompt, error) {
	prompts, err := s.prompts.ListSystem()
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	return prompts, nil
}

// DeleteBook removes a book from the user's shelf.
func (s *BookService) DeleteBook(ctx context.Context, userID, bookID uint) error {
	if err := s.books.DeleteBook(userID, bookID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errno.ErrBookNotFound
		}
		return errno.ErrInternal.Wrap(err)
	}
	logging.With("books").Info().Uint("user_id", userID).Uint("book_id", bookID).Msg("Book deleted")
	return nil
}

// ExportBook writes the whole book through exporter. The book must belong
// to the user and have chapters.
func (s *BookService) ExportBook(ctx context.Context, userID, bookID uint, exporter exporters.BookExporter, w io.Writer) error {
	bundle, err := s.exportBundle(userID, bookID)
	if err != nil {
		return err
	}
	if _, err := exporter.Export(ctx, *bundle, w); err != nil {
		return errno.ErrInternal.Wrap(err)
	}
	return nil
}

// ZipExporter returns the book.txt + manifest exporter over this store.
func (s *BookService) ZipExporter() exporters.BookExporter {
	return exporters.NewZipExporter(s.books)
}

// DBExporter returns the packed SQLite exporter over this store.
func (s *BookService) DBExporter() exporters.BookExporter {
	return exporters.NewSQLiteExporter(s.books).WithTempDir(s.tempDir)
}

func (s *BookService) exportBundle(userID, bookID uint) (*exporters.Bundle, error) {
	book, err := s.ownedBook(userID, bookID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.books.GetChaptersByBookID(book.ID)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	if len(chapters) == 0 {
		return nil, errno.ErrChapterNotFound
	}

	md5s := make([]string, 0, len(chapters))
	for _, ch := range chapters {
		md5s = append(md5s, ch.ChapterMD5)
	}
	metas, err := s.books.GetContentMetas(md5s)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	return &exporters.Bundle{Book: *book, Chapters: chapters, Metas: metas}, nil
}

func matchesFingerprint(content, md5 string) bool {
	return strings.EqualFold(parsers.Fingerprint(content), md5)
}

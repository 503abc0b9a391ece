// Package exporters packs a book's chapter contents for download and reads
// the same zip layout back when a client uploads a local book.
package exporters

import (
	"context"
	"io"

	"github.com/storytrim/server/internal/entities"
)

const (
	BookFileName     = "book.txt"
	ManifestFileName = "manifest.json"
	DBFileName       = "book.db"
)

// ContentOpener streams a stored chapter body by object key.
type ContentOpener interface {
	OpenContent(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

// Bundle is everything needed to export one book. Chapters must be in
// index order and every chapter md5 must have an entry in Metas.
type Bundle struct {
	Book     entities.Book
	Chapters []entities.Chapter
	Metas    map[string]entities.ChapterContent
}

// BookExporter writes a bundle to w.
type BookExporter interface {
	Export(ctx context.Context, bundle Bundle, w io.Writer) (ExportResult, error)
}

type ExportResult struct {
	ChaptersWritten int   `json:"chapters_written"`
	BytesWritten    int64 `json:"bytes_written"`
}

// Manifest describes how book.txt splits into chapters. Offsets and
// lengths are in bytes. LocalID and WordsCount are only sent by clients.
type Manifest struct {
	BookID        uint              `json:"book_id"`
	BookName      string            `json:"book_name"`
	TotalChapters int               `json:"total_chapters"`
	Chapters      []ManifestChapter `json:"chapters"`
}

type ManifestChapter struct {
	ChapterID  uint   `json:"chapter_id,omitempty"`
	LocalID    uint   `json:"local_id,omitempty"`
	Index      int    `json:"index"`
	Title      string `json:"title"`
	ChapterMD5 string `json:"chapter_md5"`
	WordsCount int    `json:"words_count,omitempty"`
	Size       int64  `json:"size,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	Offset     int64  `json:"offset"`
	Length     int64  `json:"length"`
}

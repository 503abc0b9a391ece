package exporters

import (
	"archive/zip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"github.com/storytrim/server/internal/logging"
)

const (
	defaultReaders   = 4
	defaultBatchSize = 400
)

const exportSchema = `
CREATE TABLE chapters (
	chapter_id    INTEGER PRIMARY KEY,
	chapter_index INTEGER NOT NULL,
	title         TEXT NOT NULL,
	chapter_md5   TEXT NOT NULL,
	words_count   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE contents (
	chapter_md5 TEXT PRIMARY KEY,
	raw_content TEXT NOT NULL
);
CREATE INDEX idx_chapters_index ON chapters(chapter_index);
`

// SQLiteExporter builds a standalone SQLite file holding the book's
// chapters and their raw contents, then ships it zipped as book.db.
// Contents are read from storage by a small pool and written in batches.
type SQLiteExporter struct {
	opener    ContentOpener
	readers   int
	batchSize int
	tempDir   string
}

func NewSQLiteExporter(opener ContentOpener) *SQLiteExporter {
	return &SQLiteExporter{
		opener:    opener,
		readers:   defaultReaders,
		batchSize: defaultBatchSize,
	}
}

// WithTempDir sets where the intermediate database file is created.
func (e *SQLiteExporter) WithTempDir(dir string) *SQLiteExporter {
	e.tempDir = dir
	return e
}

type contentRow struct {
	md5     string
	content string
}

func (e *SQLiteExporter) Export(ctx context.Context, bundle Bundle, w io.Writer) (ExportResult, error) {
	logger := logging.With("exporters")
	result := ExportResult{}

	dir, err := os.MkdirTemp(e.tempDir, "book-export-*")
	if err != nil {
		return result, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	dbPath := filepath.Join(dir, DBFileName)
	if err := e.buildDatabase(ctx, dbPath, bundle); err != nil {
		return result, err
	}

	f, err := os.Open(dbPath)
	if err != nil {
		return result, err
	}
	defer f.Close()

	zw := zip.NewWriter(w)
	entry, err := zw.Create(DBFileName)
	if err != nil {
		return result, err
	}
	n, err := io.Copy(entry, f)
	if err != nil {
		return result, err
	}
	if err := zw.Close(); err != nil {
		return result, err
	}

	result.ChaptersWritten = len(bundle.Chapters)
	result.BytesWritten = n
	logger.Info().
		Uint("book_id", bundle.Book.ID).
		Int("chapters", result.ChaptersWritten).
		Int64("db_bytes", n).
		Msg("Book database written")
	return result, nil
}

func (e *SQLiteExporter) buildDatabase(ctx context.Context, dbPath string, bundle Bundle) error {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=OFF&_synchronous=OFF")
	if err != nil {
		return fmt.Errorf("open export db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, exportSchema); err != nil {
		return fmt.Errorf("create export schema: %w", err)
	}
	if err := e.insertChapters(ctx, db, bundle); err != nil {
		return err
	}
	return e.insertContents(ctx, db, bundle)
}

func (e *SQLiteExporter) insertChapters(ctx context.Context, db *sql.DB, bundle Bundle) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chapters (chapter_id, chapter_index, title, chapter_md5, words_count) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range bundle.Chapters {
		words := bundle.Metas[ch.ChapterMD5].WordsCount
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.Index, ch.Title, ch.ChapterMD5, words); err != nil {
			return fmt.Errorf("insert chapter %d: %w", ch.Index, err)
		}
	}
	return tx.Commit()
}

// insertContents fans object reads out to e.readers goroutines and has a
// single writer flush them in batches.
func (e *SQLiteExporter) insertContents(ctx context.Context, db *sql.DB, bundle Bundle) error {
	seen := make(map[string]bool, len(bundle.Chapters))
	keys := make([]string, 0, len(bundle.Chapters))
	for _, ch := range bundle.Chapters {
		if seen[ch.ChapterMD5] {
			continue
		}
		seen[ch.ChapterMD5] = true
		if _, ok := bundle.Metas[ch.ChapterMD5]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingContent, ch.ChapterMD5)
		}
		keys = append(keys, ch.ChapterMD5)
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan string)
	rows := make(chan contentRow, e.batchSize)

	g.Go(func() error {
		defer close(jobs)
		for _, md5 := range keys {
			select {
			case jobs <- md5:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	readers, _ := errgroup.WithContext(gctx)
	for i := 0; i < e.readers; i++ {
		readers.Go(func() error {
			for md5 := range jobs {
				text, err := e.readContent(gctx, bundle.Metas[md5].ObjectKey)
				if err != nil {
					return fmt.Errorf("read content %s: %w", md5, err)
				}
				select {
				case rows <- contentRow{md5: md5, content: text}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(rows)
		return readers.Wait()
	})

	g.Go(func() error {
		batch := make([]contentRow, 0, e.batchSize)
		for row := range rows {
			batch = append(batch, row)
			if len(batch) >= e.batchSize {
				if err := insertContentBatch(gctx, db, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
		if len(batch) > 0 {
			return insertContentBatch(gctx, db, batch)
		}
		return nil
	})

	return g.Wait()
}

func (e *SQLiteExporter) readContent(ctx context.Context, objectKey string) (string, error) {
	rc, err := e.opener.OpenContent(ctx, objectKey)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func insertContentBatch(ctx context.Context, db *sql.DB, batch []contentRow) error {
	placeholders := strings.TrimSuffix(strings.Repeat("(?, ?),", len(batch)), ",")
	args := make([]any, 0, len(batch)*2)
	for _, row := range batch {
		args = append(args, row.md5, row.content)
	}
	query := "INSERT OR REPLACE INTO contents (chapter_md5, raw_content) VALUES " + placeholders
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert contents batch: %w", err)
	}
	return nil
}

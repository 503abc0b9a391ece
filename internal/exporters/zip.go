package exporters

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/storytrim/server/internal/logging"
)

var (
	ErrMissingContent  = errors.New("chapter content not found")
	ErrMissingManifest = errors.New("manifest.json not found in archive")
	ErrMissingBookFile = errors.New("book.txt not found in archive")
)

// ZipExporter writes book.txt, the chapters concatenated in order, plus a
// manifest locating each chapter inside it.
type ZipExporter struct {
	opener ContentOpener
}

func NewZipExporter(opener ContentOpener) *ZipExporter {
	return &ZipExporter{opener: opener}
}

func (e *ZipExporter) Export(ctx context.Context, bundle Bundle, w io.Writer) (ExportResult, error) {
	logger := logging.With("exporters")
	result := ExportResult{}

	zw := zip.NewWriter(w)
	entry, err := zw.Create(BookFileName)
	if err != nil {
		return result, err
	}

	manifest := Manifest{
		BookID:        bundle.Book.ID,
		BookName:      bundle.Book.Title,
		TotalChapters: bundle.Book.TotalChapters,
		Chapters:      make([]ManifestChapter, 0, len(bundle.Chapters)),
	}

	var offset int64
	for _, ch := range bundle.Chapters {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		meta, ok := bundle.Metas[ch.ChapterMD5]
		if !ok {
			return result, fmt.Errorf("%w: %s", ErrMissingContent, ch.ChapterMD5)
		}

		n, err := e.copyContent(ctx, entry, meta.ObjectKey)
		if err != nil {
			return result, fmt.Errorf("chapter %d: %w", ch.Index, err)
		}

		manifest.Chapters = append(manifest.Chapters, ManifestChapter{
			ChapterID:  ch.ID,
			Index:      ch.Index,
			Title:      ch.Title,
			ChapterMD5: ch.ChapterMD5,
			Size:       n,
			FileName:   BookFileName,
			Offset:     offset,
			Length:     n,
		})
		offset += n
		result.ChaptersWritten++
	}
	result.BytesWritten = offset

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return result, err
	}
	mw, err := zw.Create(ManifestFileName)
	if err != nil {
		return result, err
	}
	if _, err := mw.Write(data); err != nil {
		return result, err
	}
	if err := zw.Close(); err != nil {
		return result, err
	}

	logger.Info().
		Uint("book_id", bundle.Book.ID).
		Int("chapters", result.ChaptersWritten).
		Int64("bytes", result.BytesWritten).
		Msg("Book zip written")
	return result, nil
}

func (e *ZipExporter) copyContent(ctx context.Context, w io.Writer, objectKey string) (int64, error) {
	rc, err := e.opener.OpenContent(ctx, objectKey)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return io.Copy(w, rc)
}

// ReadBookZip reads the manifest and book.txt from an uploaded archive.
// Both files are matched by exact name or as a path suffix.
func ReadBookZip(r io.ReaderAt, size int64) (*Manifest, []byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}

	var manifestFile, bookFile *zip.File
	for _, f := range zr.File {
		switch {
		case matchesEntry(f.Name, ManifestFileName):
			manifestFile = f
		case matchesEntry(f.Name, BookFileName):
			bookFile = f
		}
	}
	if manifestFile == nil {
		return nil, nil, ErrMissingManifest
	}
	if bookFile == nil {
		return nil, nil, ErrMissingBookFile
	}

	raw, err := readZipFile(manifestFile)
	if err != nil {
		return nil, nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, nil, fmt.Errorf("decode manifest: %w", err)
	}

	book, err := readZipFile(bookFile)
	if err != nil {
		return nil, nil, err
	}
	return &manifest, book, nil
}

func matchesEntry(name, want string) bool {
	return name == want || strings.HasSuffix(name, "/"+want)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

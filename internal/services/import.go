package services

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/logging"
	"github.com/storytrim/server/internal/parsers"
)

// ImportResult summarises a server-side TXT import.
type ImportResult struct {
	BookID   uint   `json:"book_id"`
	Title    string `json:"title"`
	BookMD5  string `json:"book_md5"`
	RuleName string `json:"rule_name"`
	Chapters int    `json:"chapters"`
}

// ImportService turns uploaded TXT files into books on a user's shelf. It
// runs the same chapter parser the clients use and then syncs the result
// like any client upload.
type ImportService struct {
	books *BookService
	rules RulesFunc
}

// NewImportService creates an ImportService. rules may be nil to always use
// the built-in title rules.
func NewImportService(books *BookService, rules RulesFunc) *ImportService {
	return &ImportService{books: books, rules: rules}
}

// ImportTXT decodes raw (UTF-8 or GB18030), splits it into chapters and adds
// it to the user's shelf. The book title is the file name without extension.
func (s *ImportService) ImportTXT(ctx context.Context, userID uint, fileName string, raw []byte) (*ImportResult, error) {
	logger := logging.With("import")

	text, err := parsers.DecodeText(raw)
	if err != nil {
		return nil, errno.ErrBookInvalid.Wrap(err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errno.ErrBookInvalid.WithMsg("文件内容为空")
	}

	var rules []parsers.Rule
	if s.rules != nil {
		rules = s.rules()
	}
	parsed := parsers.ParseBook(text, rules)

	title := bookTitleFromFileName(fileName)
	req := &SyncLocalBookReq{
		BookName:      title,
		BookMD5:       parsed.BookMD5,
		TotalChapters: len(parsed.Chapters),
		Chapters:      make([]SyncLocalChapter, 0, len(parsed.Chapters)),
	}
	for _, ch := range parsed.Chapters {
		req.Chapters = append(req.Chapters, SyncLocalChapter{
			Index:      ch.Index,
			Title:      ch.Title,
			MD5:        ch.MD5,
			Content:    ch.Content,
			WordsCount: ch.WordsCount,
		})
	}

	resp, err := s.books.SyncLocalBook(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Uint("user_id", userID).
		Uint("book_id", resp.BookID).
		Str("rule", parsed.RuleName).
		Int("chapters", len(parsed.Chapters)).
		Msg("TXT imported")

	return &ImportResult{
		BookID:   resp.BookID,
		Title:    title,
		BookMD5:  parsed.BookMD5,
		RuleName: parsed.RuleName,
		Chapters: len(parsed.Chapters),
	}, nil
}

func bookTitleFromFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	title := strings.TrimSuffix(base, filepath.Ext(base))
	if title == "" || title == "." || title == "/" {
		return "未命名"
	}
	return title
}

package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/parsers"
)

func sampleTXT() string {
	var sb strings.Builder
	for _, title := range []string{"第一章 风起", "第二章 云涌", "第三章 雷动"} {
		sb.WriteString(title + "\n")
		sb.WriteString(strings.Repeat("正文", 150) + "\n")
	}
	return sb.String()
}

func TestImportService_ImportTXT(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	gbk, _, err := transform.Bytes(simplifiedchinese.GBK.NewEncoder(), []byte(sampleTXT()))
	require.NoError(t, err)

	result, err := env.importSvc.ImportTXT(ctx, 1, "books/风云.txt", gbk)
	require.NoError(t, err)
	assert.Equal(t, "风云", result.Title)
	assert.Equal(t, "Strict_Chinese", result.RuleName)
	assert.Equal(t, 3, result.Chapters)
	assert.Equal(t, parsers.Fingerprint(sampleTXT()), result.BookMD5)

	detail, err := env.bookSvc.GetBookDetail(ctx, 1, result.BookID)
	require.NoError(t, err)
	require.Len(t, detail.Chapters, 3)
	assert.Equal(t, "第二章 云涌", detail.Chapters[1].Title)

	_, err = env.importSvc.ImportTXT(ctx, 1, "风云.txt", []byte(sampleTXT()))
	assert.ErrorIs(t, err, errno.ErrBookExist)
}

func TestImportService_ImportTXT_CustomRules(t *testing.T) {
	env := setupTestEnv(t)
	rules := func() []parsers.Rule {
		return []parsers.Rule{{Name: "Parts", Pattern: `(?m)^Part \d+.*`, Weight: 10}}
	}
	svc := NewImportService(env.bookSvc, rules)

	text := "Part 1\n" + strings.Repeat("word ", 60) + "\nPart 2\n" + strings.Repeat("word ", 60) + "\n"
	result, err := svc.ImportTXT(context.Background(), 1, "parts.txt", []byte(text))
	require.NoError(t, err)
	assert.Equal(t, "Parts", result.RuleName)
	assert.Equal(t, 2, result.Chapters)
}

func TestImportService_ImportTXT_Empty(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.importSvc.ImportTXT(context.Background(), 1, "empty.txt", []byte(" \n\n"))
	assert.ErrorIs(t, err, errno.ErrBookInvalid)
}

func TestBookTitleFromFileName(t *testing.T) {
	assert.Equal(t, "风云", bookTitleFromFileName("风云.txt"))
	assert.Equal(t, "风云", bookTitleFromFileName(`C:\books\风云.txt`))
	assert.Equal(t, "no-ext", bookTitleFromFileName("no-ext"))
	assert.Equal(t, "未命名", bookTitleFromFileName(""))
}

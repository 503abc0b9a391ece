package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/parsers"
	"github.com/storytrim/server/internal/services"
)

func TestChaptersController_Content(t *testing.T) {
	env := setupAPI(t)
	token := env.login(t, "reader")
	_, chapterIDs := env.syncBook(t, token, "bookmd5", chapterOne, chapterTwo)

	// Ids may arrive as numbers or numeric strings.
	_, resp := env.do(t, "POST", "/api/v1/chapters/content", token,
		map[string]any{"ids": []any{chapterIDs[1], itoa(chapterIDs[0]), 9999}})
	require.Equal(t, 0, resp.Code, resp.Msg)

	contents := decodeData[[]services.ChapterContentResp](t, resp)
	require.Len(t, contents, 2)
	assert.Equal(t, chapterOne, contents[0].Content)
	assert.Equal(t, chapterTwo, contents[1].Content)
}

func TestChaptersController_OtherUsersChapters(t *testing.T) {
	env := setupAPI(t)
	owner := env.login(t, "owner")
	other := env.login(t, "other")
	_, chapterIDs := env.syncBook(t, owner, "bookmd5", chapterOne)
	require.NoError(t, env.trims.SaveResult(&entities.TrimResult{ChapterMD5: parsers.Fingerprint(chapterOne), PromptID: 1, TrimContent: "短"}))

	_, resp := env.do(t, "POST", "/api/v1/chapters/content", other, map[string]any{"ids": chapterIDs})
	require.Equal(t, 0, resp.Code, resp.Msg)
	assert.Empty(t, decodeData[[]services.ChapterContentResp](t, resp))

	_, resp = env.do(t, "POST", "/api/v1/chapters/trimmed", other, map[string]any{"ids": chapterIDs, "prompt_id": 1})
	require.Equal(t, 0, resp.Code, resp.Msg)
	assert.Empty(t, decodeData[[]services.ChapterTrimResp](t, resp))
}

func TestChaptersController_ContentValidation(t *testing.T) {
	env := setupAPI(t)
	token := env.login(t, "reader")

	_, resp := env.do(t, "POST", "/api/v1/chapters/content", token, map[string]any{"ids": []any{"abc"}})
	assert.Equal(t, errno.CodeParam, resp.Code)
	assert.Equal(t, "invalid ids", resp.Msg)

	ids := make([]any, 11)
	for i := range ids {
		ids[i] = i + 1
	}
	_, resp = env.do(t, "POST", "/api/v1/chapters/content", token, map[string]any{"ids": ids})
	assert.Equal(t, errno.CodeParam, resp.Code)
}

func TestChaptersController_TrimmedAndStatus(t *testing.T) {
	env := setupAPI(t)
	token := env.login(t, "reader")
	bookID, chapterIDs := env.syncBook(t, token, "bookmd5", chapterOne, chapterTwo)

	_, resp := env.do(t, "POST", "/api/v1/chapters/trimmed", token, map[string]any{"ids": []uint{chapterIDs[0]}})
	assert.Equal(t, errno.CodeParam, resp.Code, "prompt_id is required")

	env.do(t, "POST", "/api/v1/trim/stream/chapter", token,
		map[string]uint{"book_id": bookID, "chapter_id": chapterIDs[0], "prompt_id": 1})

	_, resp = env.do(t, "POST", "/api/v1/chapters/trimmed", token,
		map[string]any{"ids": chapterIDs, "prompt_id": 1})
	require.Equal(t, 0, resp.Code)
	trims := decodeData[[]services.ChapterTrimResp](t, resp)
	require.Len(t, trims, 1)
	assert.Equal(t, chapterIDs[0], trims[0].ChapterID)
	assert.Equal(t, "精简后的内容", trims[0].TrimmedContent)

	_, resp = env.do(t, "POST", "/api/v1/chapters/status", token, map[string]any{"chapter_id": chapterIDs[0]})
	require.Equal(t, 0, resp.Code)
	assert.Equal(t, []uint{1}, decodeData[map[string][]uint](t, resp)["prompt_ids"])

	_, resp = env.do(t, "POST", "/api/v1/chapters/status", token, map[string]any{
		"book_md5": "bookmd5", "chapter_md5": parsers.Fingerprint(chapterTwo),
	})
	require.Equal(t, 0, resp.Code)
	assert.Empty(t, decodeData[map[string][]uint](t, resp)["prompt_ids"])

	_, resp = env.do(t, "POST", "/api/v1/chapters/status", token, map[string]any{})
	assert.Equal(t, errno.CodeParam, resp.Code)
}

func TestContentsController_TrimmedAndSyncStatus(t *testing.T) {
	env := setupAPI(t)
	owner := env.login(t, "owner")
	reader := env.login(t, "reader")
	bookID, chapterIDs := env.syncBook(t, owner, "bookmd5", chapterOne)
	md5 := parsers.Fingerprint(chapterOne)

	env.do(t, "POST", "/api/v1/trim/stream/chapter", owner,
		map[string]uint{"book_id": bookID, "chapter_id": chapterIDs[0], "prompt_id": 1})

	// Trims are shared by content hash, so another user can fetch it.
	_, resp := env.do(t, "POST", "/api/v1/contents/trimmed", reader,
		map[string]any{"md5s": []string{md5, "missing"}, "prompt_id": 1})
	require.Equal(t, 0, resp.Code)
	trims := decodeData[[]services.ContentTrimResp](t, resp)
	require.Len(t, trims, 1)
	assert.Equal(t, md5, trims[0].ChapterMD5)

	_, resp = env.do(t, "POST", "/api/v1/contents/status", reader, map[string]string{"chapter_md5": md5})
	assert.Empty(t, decodeData[map[string][]uint](t, resp)["prompt_ids"])

	_, resp = env.do(t, "POST", "/api/v1/contents/sync-status", reader, map[string]any{"md5": md5, "prompt_id": 1})
	require.Equal(t, 0, resp.Code)

	_, resp = env.do(t, "POST", "/api/v1/contents/status", reader, map[string]string{"chapter_md5": md5})
	assert.Equal(t, []uint{1}, decodeData[map[string][]uint](t, resp)["prompt_ids"])

	_, resp = env.do(t, "POST", "/api/v1/contents/sync-status", reader, map[string]any{"md5": md5})
	assert.Equal(t, errno.CodeParam, resp.Code)
}

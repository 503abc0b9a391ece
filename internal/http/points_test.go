package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storytrim/server/internal/services"
)

func (e *apiEnv) balance(t *testing.T, token string) int {
	t.Helper()
	_, resp := e.do(t, "GET", "/api/v1/points/balance", token, nil)
	require.Equal(t, 0, resp.Code, resp.Msg)
	return int(decodeData[map[string]float64](t, resp)["balance"])
}

func TestPointsController_BalanceAndLedger(t *testing.T) {
	env := setupAPI(t)
	token := env.login(t, "reader")
	bookID, chapterIDs := env.syncBook(t, token, "bookmd5", chapterOne)

	assert.Equal(t, 100, env.balance(t, token))

	_, resp := env.do(t, "POST", "/api/v1/tasks/chapter-trim", token, map[string]any{
		"book_id": bookID, "prompt_id": 1, "chapter_ids": chapterIDs,
	})
	require.Equal(t, 0, resp.Code, resp.Msg)

	_, resp = env.do(t, "GET", "/api/v1/points/ledger", token, nil)
	require.Equal(t, 0, resp.Code)
	page := decodeData[struct {
		Page  int                    `json:"page"`
		Items []services.LedgerEntry `json:"items"`
	}](t, resp)
	assert.Equal(t, 1, page.Page)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "trim_use", page.Items[0].Reason)
	assert.Equal(t, -1, page.Items[0].Change)
	assert.Equal(t, 99, page.Items[0].BalanceAfter)
	assert.Equal(t, "register_bonus", page.Items[1].Reason)

	_, resp = env.do(t, "GET", "/api/v1/points/ledger?page=2&size=1", token, nil)
	page = decodeData[struct {
		Page  int                    `json:"page"`
		Items []services.LedgerEntry `json:"items"`
	}](t, resp)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "register_bonus", page.Items[0].Reason)
}

func TestPointsController_PerUser(t *testing.T) {
	env := setupAPI(t)
	reader := env.login(t, "reader")
	other := env.login(t, "other")
	bookID, chapterIDs := env.syncBook(t, reader, "bookmd5", chapterOne)

	w, _ := env.do(t, "POST", "/api/v1/trim/stream/chapter", reader, map[string]uint{
		"book_id": bookID, "chapter_id": chapterIDs[0], "prompt_id": 1,
	})
	require.Equal(t, 200, w.Code)

	assert.Equal(t, 99, env.balance(t, reader))
	assert.Equal(t, 100, env.balance(t, other))
}

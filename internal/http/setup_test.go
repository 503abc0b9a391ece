package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/storytrim/server/internal/auth"
	"github.com/storytrim/server/internal/config"
	"github.com/storytrim/server/internal/database"
	"github.com/storytrim/server/internal/database/books"
	"github.com/storytrim/server/internal/database/points"
	"github.com/storytrim/server/internal/database/prompts"
	taskrepo "github.com/storytrim/server/internal/database/tasks"
	"github.com/storytrim/server/internal/database/trims"
	"github.com/storytrim/server/internal/database/users"
	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/llm/llmtest"
	"github.com/storytrim/server/internal/parsers"
	"github.com/storytrim/server/internal/ratelimit"
	"github.com/storytrim/server/internal/services"
	"github.com/storytrim/server/internal/storage/providers/local"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type queueRecorder struct {
	mu   sync.Mutex
	jobs []string
}

func (q *queueRecorder) Enqueue(ctx context.Context, taskType entities.TaskType, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, string(taskType)+":"+taskID)
	return nil
}

func (q *queueRecorder) Jobs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.jobs...)
}

type apiEnv struct {
	router  *gin.Engine
	db      *database.Database
	llm     *llmtest.Fake
	rules   *config.ParserRulesStore
	limiter *ratelimit.KeyedRateLimiter
	tasks   *services.TaskService
	trims   *trims.Repository
	queue   *queueRecorder
}

type apiOptions struct {
	streamBurst int
}

func setupAPI(t *testing.T, opts ...apiOptions) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var opt apiOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.streamBurst == 0 {
		opt.streamBurst = 100
	}

	dir := t.TempDir()
	db, err := database.NewDatabase(filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := local.NewClient(filepath.Join(dir, "objects"))
	require.NoError(t, err)

	bookRepo := books.NewRepository(db.DB, store)
	promptRepo := prompts.NewRepository(db.DB)
	trimRepo := trims.NewRepository(db.DB)
	taskRepo := taskrepo.NewRepository(db.DB)

	fake := &llmtest.Fake{Content: "精简后的内容"}
	pointsSvc := services.NewPointsService(points.NewRepository(db.DB), 100)
	bookSvc := services.NewBookService(bookRepo, promptRepo, trimRepo, taskRepo).WithTempDir(dir)
	rules := config.NewParserRulesStore(config.Parser{})
	importSvc := services.NewImportService(bookSvc, rules.Rules)
	trimSvc, err := services.NewTrimService(bookRepo, promptRepo, trimRepo, pointsSvc, fake,
		services.TrimOptions{MockChunkRunes: 4, MockInterval: -1})
	require.NoError(t, err)
	taskSvc := services.NewTaskService(taskRepo, bookRepo, promptRepo, trimRepo, pointsSvc, trimSvc, 2)
	queue := &queueRecorder{}
	taskSvc.SetQueue(queue)

	authCfg := config.Auth{
		JWTSecret:        "test-secret",
		TokenExpiry:      time.Hour,
		BcryptCost:       4,
		MaxLoginAttempts: 5,
		RateLimitWindow:  time.Minute,
		LockoutDuration:  time.Minute,
	}
	authSvc, err := auth.NewService(users.NewRepository(db.DB), pointsSvc, authCfg)
	require.NoError(t, err)
	authController := auth.NewAuthController(authSvc, nil, authCfg)
	t.Cleanup(authController.Stop)

	limiter := ratelimit.New(0.001, opt.streamBurst, time.Minute)
	t.Cleanup(limiter.Stop)

	router := NewRouter(RouterConfig{
		Books:          bookSvc,
		Imports:        importSvc,
		Trims:          trimSvc,
		Tasks:          taskSvc,
		Contents:       services.NewContentService(trimRepo),
		Points:         pointsSvc,
		Database:       db,
		Version:        "test",
		AuthService:    authSvc,
		AuthController: authController,
		StreamLimiter:  limiter,
		ParserRules:    rules,
	})

	return &apiEnv{router: router, db: db, llm: fake, rules: rules, limiter: limiter, tasks: taskSvc, trims: trimRepo, queue: queue}
}

// do sends a request; body is JSON-encoded unless it is an io.Reader.
func (e *apiEnv) do(t *testing.T, method, path, token string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
		contentType = ""
	default:
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
		reader = &buf
	}

	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if json.Valid(w.Body.Bytes()) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

// login registers username and returns a bearer token for it.
func (e *apiEnv) login(t *testing.T, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "secret123"}

	_, env := e.do(t, "POST", "/api/v1/auth/register", "", creds)
	require.Equal(t, 0, env.Code, env.Msg)

	_, env = e.do(t, "POST", "/api/v1/auth/login", "", creds)
	require.Equal(t, 0, env.Code, env.Msg)

	var resp auth.LoginResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// syncBook uploads a book through the API and returns its cloud id and
// chapter ids in index order.
func (e *apiEnv) syncBook(t *testing.T, token, bookMD5 string, bodies ...string) (uint, []uint) {
	t.Helper()
	req := services.SyncLocalBookReq{BookName: "测试书", BookMD5: bookMD5, TotalChapters: len(bodies)}
	for i, body := range bodies {
		req.Chapters = append(req.Chapters, services.SyncLocalChapter{
			LocalID:    uint(100 + i),
			Index:      i,
			Title:      "第" + string(rune('一'+i)) + "章",
			MD5:        parsers.Fingerprint(body),
			Content:    body,
			WordsCount: parsers.CountWords(body),
		})
	}

	_, env := e.do(t, "POST", "/api/v1/books/sync/local", token, req)
	require.Equal(t, 0, env.Code, env.Msg)

	var resp services.SyncLocalBookResp
	require.NoError(t, json.Unmarshal(env.Data, &resp))

	ids := make([]uint, len(bodies))
	for _, m := range resp.ChapterMappings {
		ids[m.LocalID-100] = m.CloudID
	}
	return resp.BookID, ids
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v), string(env.Data))
	return v
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}

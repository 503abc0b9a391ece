package entrypoint

import (
	"context"
	"fmt"

	"github.com/storytrim/server/internal/config"
	"github.com/storytrim/server/internal/database"
	"github.com/storytrim/server/internal/database/books"
	"github.com/storytrim/server/internal/database/points"
	"github.com/storytrim/server/internal/database/prompts"
	taskrepo "github.com/storytrim/server/internal/database/tasks"
	"github.com/storytrim/server/internal/database/trims"
	"github.com/storytrim/server/internal/database/users"
	"github.com/storytrim/server/internal/llm"
	"github.com/storytrim/server/internal/logging"
	"github.com/storytrim/server/internal/services"
	"github.com/storytrim/server/internal/storage"
	"github.com/storytrim/server/internal/storage/providers"
)

// App holds the storage layer and domain services shared by the server and
// the command line tools.
type App struct {
	Config *config.Config
	DB     *database.Database
	Store  storage.Client

	Books   *books.Repository
	Users   *users.Repository
	Prompts *prompts.Repository
	Trims   *trims.Repository
	Tasks   *taskrepo.Repository
	Points  *points.Repository

	ParserRules *config.ParserRulesStore

	BookService    *services.BookService
	ImportService  *services.ImportService
	TrimService    *services.TrimService
	TaskService    *services.TaskService
	ContentService *services.ContentService
	PointsService  *services.PointsService
}

// NewApp opens the database and object store and builds every service.
// The task service has no queue yet; Run attaches one when tasks are enabled.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.With("app")

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	store, err := providers.New(ctx, cfg.Storage)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	logger.Info().Str("backend", string(cfg.Storage.Backend)).Msg("Object storage ready")

	app := &App{
		Config:      cfg,
		DB:          db,
		Store:       store,
		Books:       books.NewRepository(db.DB, store),
		Users:       users.NewRepository(db.DB),
		Prompts:     prompts.NewRepository(db.DB),
		Trims:       trims.NewRepository(db.DB),
		Tasks:       taskrepo.NewRepository(db.DB),
		Points:      points.NewRepository(db.DB),
		ParserRules: config.NewParserRulesStore(cfg.Parser),
	}

	llmClient := llm.NewOpenAIClient(cfg.LLM)
	if cfg.LLM.APIKey == "" {
		logger.Warn().Msg("LLM_API_KEY is not set, trimming uncached chapters will fail")
	}

	app.PointsService = services.NewPointsService(app.Points, cfg.Auth.RegisterBonus)
	app.BookService = services.NewBookService(app.Books, app.Prompts, app.Trims, app.Tasks)
	app.ImportService = services.NewImportService(app.BookService, app.ParserRules.Rules)
	app.ContentService = services.NewContentService(app.Trims)

	app.TrimService, err = services.NewTrimService(app.Books, app.Prompts, app.Trims, app.PointsService, llmClient,
		services.TrimOptions{
			MockChunkRunes:    cfg.Trim.MockChunkRunes,
			MockInterval:      cfg.Trim.MockInterval,
			GenerationTimeout: cfg.LLM.Timeout,
			Pricing:           llm.Pricing{InputPerMillion: cfg.LLM.InputPrice, OutputPerMillion: cfg.LLM.OutputPrice},
		})
	if err != nil {
		db.Close()
		return nil, err
	}

	app.TaskService = services.NewTaskService(app.Tasks, app.Books, app.Prompts, app.Trims,
		app.PointsService, app.TrimService, cfg.Trim.JobConcurrency)

	return app, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

package database

import (
	"fmt"
	"strings"

	zlog "github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/storytrim/server/internal/entities"
)

// DefaultPromptID is the prompt used when a request does not name one.
const DefaultPromptID = uint(1)

var systemPrompts = []entities.Prompt{
	{
		ID:               1,
		Name:             "标准沉浸模式",
		Description:      "大幅删减无意义的重复描写、心理独白和环境堆砌。保留核心对话与伏笔。",
		IsSystem:         true,
		IsDefault:        true,
		TargetRatioMin:   0.50,
		TargetRatioMax:   0.60,
		BoundaryRatioMin: 0.45,
		BoundaryRatioMax: 0.65,
		PromptContent: `1. **去水去冗**：大幅删减无意义的重复描写、心理独白和环境堆砌。
2. **场景整合**：将冗长的过场段落改写为简练的白描。
3. **保留核心**：全量保留对话，保留推动剧情的关键动作和伏笔细节。`,
	},
	{
		ID:               2,
		Name:             "轻度精简模式",
		Description:      "优化语感、合并琐碎短句。全量保留对话和环境渲染，适合细读。",
		IsSystem:         true,
		TargetRatioMin:   0.75,
		TargetRatioMax:   0.85,
		BoundaryRatioMin: 0.70,
		BoundaryRatioMax: 0.90,
		PromptContent: `1. **语感修饰**：优化并合并原文中过于琐碎、重复的短句；精减无实际语义的语气助词。
2. **全量保留**：全量保留所有对话内容、环境渲染、角色的独特神态描写以及烘托意境的关键细节。
3. **最小干预**：除非是明显的废话，否则不要删除。`,
	},
	{
		ID:               3,
		Name:             "极简速读模式",
		Description:      "剧情优先。大胆删除所有环境与心理描写，紧凑叙事，快速通关。",
		IsSystem:         true,
		TargetRatioMin:   0.25,
		TargetRatioMax:   0.35,
		BoundaryRatioMin: 0.20,
		BoundaryRatioMax: 0.40,
		PromptContent: `1. **剧情优先**：只保留推动剧情发展的核心事件和关键对话。
2. **大胆删除**：所有的环境描写、心理活动、次要人物的寒暄全部删除。
3. **结构重组**：在不破坏时间线的前提下，紧凑叙事节奏。`,
	},
}

type Database struct {
	DB *gorm.DB
}

// NewDatabase opens the SQLite database at dbPath, migrates every entity and
// seeds the system prompts.
func NewDatabase(dbPath string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(withPragmas(dbPath)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := dropLegacyIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	err = db.AutoMigrate(
		&entities.User{},
		&entities.Book{},
		&entities.Chapter{},
		&entities.ChapterContent{},
		&entities.Prompt{},
		&entities.TrimResult{},
		&entities.UserProcessedChapter{},
		&entities.ReadingHistory{},
		&entities.Task{},
		&entities.TaskItem{},
		&entities.UserPoints{},
		&entities.PointsLedger{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	database := &Database{DB: db}

	if err := database.seedPrompts(); err != nil {
		return nil, fmt.Errorf("failed to seed prompts: %w", err)
	}

	zlog.Info().Str("path", dbPath).Msg("database initialized")

	return database, nil
}

// dropLegacyIndexes removes indexes whose columns changed. AutoMigrate only
// creates missing indexes by name.
func dropLegacyIndexes(db *gorm.DB) error {
	m := db.Migrator()
	// Keyed without book_md5, so local-only books shared one record.
	if m.HasIndex(&entities.UserProcessedChapter{}, "idx_user_processed_unique") {
		return m.DropIndex(&entities.UserProcessedChapter{}, "idx_user_processed_unique")
	}
	return nil
}

// withPragmas enables WAL and a busy timeout so background trim jobs and
// request handlers can write concurrently.
func withPragmas(dbPath string) string {
	if dbPath == ":memory:" || strings.Contains(dbPath, "?") {
		return dbPath
	}
	return dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (d *Database) seedPrompts() error {
	for _, p := range systemPrompts {
		prompt := p
		err := d.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&prompt).Error
		if err != nil {
			return fmt.Errorf("failed to seed prompt %s: %w", p.Name, err)
		}
	}
	return nil
}

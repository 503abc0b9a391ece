package database

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storytrim/server/internal/entities"
)

// setupTestDB creates a fresh test database
func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()
	dbPath := "./test_" + strings.ReplaceAll(t.Name(), "/", "_") + ".db"
	db, err := NewDatabase(dbPath)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
	}
	return db, cleanup
}

func TestNewDatabase_SeedsSystemPrompts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	var prompts []entities.Prompt
	require.NoError(t, db.DB.Order("id").Find(&prompts).Error)
	require.Len(t, prompts, 3)

	assert.Equal(t, "标准沉浸模式", prompts[0].Name)
	assert.True(t, prompts[0].IsDefault)
	assert.InDelta(t, 0.50, prompts[0].TargetRatioMin, 1e-9)
	assert.InDelta(t, 0.60, prompts[0].TargetRatioMax, 1e-9)

	assert.Equal(t, "轻度精简模式", prompts[1].Name)
	assert.False(t, prompts[1].IsDefault)
	assert.Equal(t, "极简速读模式", prompts[2].Name)
	for _, p := range prompts {
		assert.True(t, p.IsSystem)
		assert.NotEmpty(t, p.PromptContent)
	}
}

func TestNewDatabase_SeedIsIdempotent(t *testing.T) {
	dbPath := "./test_seed_twice.db"
	defer func() {
		os.Remove(dbPath)
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
	}()

	db, err := NewDatabase(dbPath)
	require.NoError(t, err)

	// Drift a seeded row; reopening restores it.
	require.NoError(t, db.DB.Model(&entities.Prompt{}).Where("id = ?", 2).Update("name", "changed").Error)
	require.NoError(t, db.Close())

	db, err = NewDatabase(dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int64
	require.NoError(t, db.DB.Model(&entities.Prompt{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	var p entities.Prompt
	require.NoError(t, db.DB.First(&p, 2).Error)
	assert.Equal(t, "轻度精简模式", p.Name)
}

func TestNewDatabase_DropsLegacyProcessedIndex(t *testing.T) {
	dbPath := "./test_" + t.Name() + ".db"
	db, err := NewDatabase(dbPath)
	require.NoError(t, err)
	defer func() {
		os.Remove(dbPath)
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
	}()
	require.NoError(t, db.DB.Exec(
		"CREATE UNIQUE INDEX idx_user_processed_unique ON user_processed_chapters (user_id, prompt_id, chapter_md5, book_id)").Error)
	require.NoError(t, db.Close())

	db, err = NewDatabase(dbPath)
	require.NoError(t, err)
	defer db.Close()

	m := db.DB.Migrator()
	assert.False(t, m.HasIndex(&entities.UserProcessedChapter{}, "idx_user_processed_unique"))
	assert.True(t, m.HasIndex(&entities.UserProcessedChapter{}, "idx_user_processed_content"))

	for _, bookMD5 := range []string{"book-a", "book-b"} {
		require.NoError(t, db.DB.Create(&entities.UserProcessedChapter{UserID: 1, PromptID: 1, BookMD5: bookMD5, ChapterMD5: "ch"}).Error)
	}
}

func TestDatabase_Ping(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	assert.NoError(t, db.Ping())
}

func TestWithPragmas(t *testing.T) {
	assert.Equal(t, ":memory:", withPragmas(":memory:"))
	assert.Equal(t, "a.db?mode=ro", withPragmas("a.db?mode=ro"))
	assert.True(t, strings.HasPrefix(withPragmas("a.db"), "a.db?_journal_mode=WAL"))
}

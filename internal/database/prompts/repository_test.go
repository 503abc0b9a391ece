package prompts

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/storytrim/server/internal/entities"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	dbPath := "./test_prompts_" + t.Name() + ".db"

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entities.Prompt{}))

	require.NoError(t, db.Create([]entities.Prompt{
		{ID: 1, Name: "standard", PromptContent: "trim", IsSystem: true, IsDefault: true},
		{ID: 2, Name: "light", PromptContent: "trim less", IsSystem: true},
		{ID: 3, Name: "custom", PromptContent: "mine"},
	}).Error)

	cleanup := func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
		os.Remove(dbPath)
	}
	return NewRepository(db), cleanup
}

func TestRepository_GetByID(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	prompt, err := repo.GetByID(2)
	require.NoError(t, err)
	assert.Equal(t, "light", prompt.Name)
	assert.Equal(t, "trim less", prompt.PromptContent)

	_, err = repo.GetByID(99)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepository_ListSystem(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	prompts, err := repo.ListSystem()
	require.NoError(t, err)
	require.Len(t, prompts, 2)
	assert.Equal(t, uint(1), prompts[0].ID)
	assert.Equal(t, uint(2), prompts[1].ID)
}

func TestRepository_GetDefault(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	prompt, err := repo.GetDefault()
	require.NoError(t, err)
	assert.Equal(t, uint(1), prompt.ID)
}

// Package prompts provides read access to trimming prompts.
package prompts

import (
	"gorm.io/gorm"

	"github.com/storytrim/server/internal/entities"
)

// Repository handles prompt lookups.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new prompts repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetByID retrieves a prompt including its instruction body.
func (r *Repository) GetByID(id uint) (*entities.Prompt, error) {
	var prompt entities.Prompt
	if err := r.db.First(&prompt, id).Error; err != nil {
		return nil, err
	}
	return &prompt, nil
}

// ListSystem returns the built-in prompts ordered by ID.
func (r *Repository) ListSystem() ([]entities.Prompt, error) {
	var prompts []entities.Prompt
	err := r.db.Where("is_system = ?", true).Order("id ASC").Find(&prompts).Error
	return prompts, err
}

// GetDefault returns the prompt flagged as default.
func (r *Repository) GetDefault() (*entities.Prompt, error) {
	var prompt entities.Prompt
	if err := r.db.Where("is_default = ?", true).Order("id ASC").First(&prompt).Error; err != nil {
		return nil, err
	}
	return &prompt, nil
}

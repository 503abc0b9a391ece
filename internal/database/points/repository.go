// Package points stores user point balances and the ledger of changes.
package points

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/errno"
)

// Change is one balance movement applied by ChangeBalanceBatch.
type Change struct {
	Amount  int
	Type    entities.PointsChangeType
	Reason  entities.PointsReason
	RefType string
	RefID   string
	Extra   map[string]string
}

// Repository handles points persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new points repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetUserPoints returns the balance row, or gorm.ErrRecordNotFound if the
// user never had points.
func (r *Repository) GetUserPoints(userID uint) (*entities.UserPoints, error) {
	var points entities.UserPoints
	if err := r.db.Where("user_id = ?", userID).First(&points).Error; err != nil {
		return nil, err
	}
	return &points, nil
}

// ChangeBalanceBatch applies changes in order inside one transaction and
// returns the final balance. If any step would go negative nothing is
// written and errno.ErrPointsNotEnough is returned.
func (r *Repository) ChangeBalanceBatch(userID uint, changes []Change) (int, error) {
	if len(changes) == 0 {
		points, err := r.GetUserPoints(userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return points.Balance, nil
	}

	var balance int
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var points entities.UserPoints
		err := tx.Where("user_id = ?", userID).First(&points).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			points = entities.UserPoints{UserID: userID}
			err = tx.Create(&points).Error
		}
		if err != nil {
			return err
		}

		current := points.Balance
		ledgers := make([]entities.PointsLedger, 0, len(changes))
		for _, change := range changes {
			next := current + change.Amount
			if next < 0 {
				return errno.ErrPointsNotEnough
			}
			ledgers = append(ledgers, entities.PointsLedger{
				UserID:       userID,
				Change:       change.Amount,
				BalanceAfter: next,
				Type:         change.Type,
				Reason:       change.Reason,
				RefType:      change.RefType,
				RefID:        change.RefID,
				Extra:        encodeExtra(change.Extra),
			})
			current = next
		}

		if err := tx.Model(&entities.UserPoints{}).Where("user_id = ?", userID).
			Update("balance", current).Error; err != nil {
			return err
		}
		if err := tx.Create(&ledgers).Error; err != nil {
			return err
		}
		balance = current
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func encodeExtra(extra map[string]string) string {
	if len(extra) == 0 {
		return ""
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return ""
	}
	return string(data)
}

// ListLedger returns the user's ledger, newest first.
func (r *Repository) ListLedger(userID uint, limit, offset int) ([]entities.PointsLedger, error) {
	var ledgers []entities.PointsLedger
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&ledgers).Error
	return ledgers, err
}

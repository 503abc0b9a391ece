package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/storytrim/server/internal/database/points"
	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/errno"
)

const (
	defaultLedgerPageSize = 20
	maxLedgerPageSize     = 100
	ledgerTimeFormat      = "2006-01-02 15:04:05"
)

// PointsChangeInput describes what one point was spent on or refunded for.
type PointsChangeInput struct {
	RefType string
	RefID   string
	Extra   map[string]string
}

// LedgerEntry is a ledger row shaped for API responses.
type LedgerEntry struct {
	ID           uint              `json:"id"`
	Change       int               `json:"change"`
	BalanceAfter int               `json:"balance_after"`
	Type         string            `json:"type"`
	Reason       string            `json:"reason"`
	RefType      string            `json:"ref_type"`
	RefID        string            `json:"ref_id"`
	Extra        map[string]string `json:"extra"`
	CreatedAt    string            `json:"created_at"`
}

// PointsService charges and refunds trims. One trimmed chapter costs one point.
type PointsService struct {
	store         PointsStore
	registerBonus int
}

// NewPointsService creates a PointsService.
func NewPointsService(store PointsStore, registerBonus int) *PointsService {
	return &PointsService{store: store, registerBonus: registerBonus}
}

func (s *PointsService) apply(userID uint, changes []points.Change) error {
	if len(changes) == 0 {
		return nil
	}
	if _, err := s.store.ChangeBalanceBatch(userID, changes); err != nil {
		if errors.Is(err, errno.ErrPointsNotEnough) {
			return errno.ErrPointsNotEnough
		}
		return errno.ErrInternal.Wrap(err)
	}
	return nil
}

// GrantRegisterBonus credits a new account.
func (s *PointsService) GrantRegisterBonus(userID uint) error {
	if s.registerBonus <= 0 {
		return nil
	}
	return s.apply(userID, []points.Change{{
		Amount:  s.registerBonus,
		Type:    entities.PointsChangeEarn,
		Reason:  entities.PointsReasonRegisterBonus,
		RefType: "user",
		RefID:   fmt.Sprintf("%d", userID),
	}})
}

// SpendForTrim charges one point.
func (s *PointsService) SpendForTrim(userID uint, in PointsChangeInput) error {
	return s.SpendForTrimBatch(userID, []PointsChangeInput{in})
}

// SpendForTrimBatch charges one point per entry, all or nothing.
func (s *PointsService) SpendForTrimBatch(userID uint, entries []PointsChangeInput) error {
	return s.apply(userID, buildChanges(entries, -1, entities.PointsChangeSpend, entities.PointsReasonTrimUse))
}

// RefundForTrim returns one point.
func (s *PointsService) RefundForTrim(userID uint, in PointsChangeInput) error {
	return s.RefundForTrimBatch(userID, []PointsChangeInput{in})
}

// RefundForTrimBatch returns one point per entry.
func (s *PointsService) RefundForTrimBatch(userID uint, entries []PointsChangeInput) error {
	return s.apply(userID, buildChanges(entries, 1, entities.PointsChangeEarn, entities.PointsReasonTrimRefund))
}

func buildChanges(entries []PointsChangeInput, amount int, typ entities.PointsChangeType, reason entities.PointsReason) []points.Change {
	changes := make([]points.Change, 0, len(entries))
	for _, e := range entries {
		changes = append(changes, points.Change{
			Amount:  amount,
			Type:    typ,
			Reason:  reason,
			RefType: e.RefType,
			RefID:   e.RefID,
			Extra:   e.Extra,
		})
	}
	return changes
}

// GetBalance returns the user's balance, zero if they never had points.
func (s *PointsService) GetBalance(userID uint) (int, error) {
	p, err := s.store.GetUserPoints(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errno.ErrInternal.Wrap(err)
	}
	return p.Balance, nil
}

// ListLedger pages through the ledger, newest first. page starts at 1.
func (s *PointsService) ListLedger(userID uint, page, size int) ([]LedgerEntry, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = defaultLedgerPageSize
	}
	if size > maxLedgerPageSize {
		size = maxLedgerPageSize
	}

	rows, err := s.store.ListLedger(userID, size, (page-1)*size)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}

	entries := make([]LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toLedgerEntry(row))
	}
	return entries, nil
}

func toLedgerEntry(row entities.PointsLedger) LedgerEntry {
	extra := map[string]string{}
	if row.Extra != "" {
		if err := json.Unmarshal([]byte(row.Extra), &extra); err != nil {
			extra = map[string]string{}
		}
	}
	return LedgerEntry{
		ID:           row.ID,
		Change:       row.Change,
		BalanceAfter: row.BalanceAfter,
		Type:         string(row.Type),
		Reason:       string(row.Reason),
		RefType:      row.RefType,
		RefID:        row.RefID,
		Extra:        extra,
		CreatedAt:    row.CreatedAt.Format(ledgerTimeFormat),
	}
}

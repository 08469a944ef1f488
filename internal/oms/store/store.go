// Package store is the OMS's rebuildable query-side projection: a
// gorm-backed index over orders supporting the by-id, by-client-id,
// by-status, by-symbol, and children-of lookups named in spec §4.E.
// It is never the source of truth — the write-ahead log is — so on
// recovery the projection is simply rebuilt rather than replayed.
package store

import (
	"context"

	"gorm.io/gorm"

	trerr "github.com/shrivenq/tradecore/pkg/errors"
)

// Row is the flattened projection of an oms.Order used for querying;
// the OMS keeps the authoritative oms.Order in memory and in the WAL,
// and mirrors the fields queries actually filter on here.
type Row struct {
	ID            uint64 `gorm:"primaryKey"`
	ClientOrderID string `gorm:"index"`
	ParentOrderID uint64 `gorm:"index"`
	Symbol        uint32 `gorm:"index"`
	Status        string `gorm:"index"`
	Version       uint64
}

// Store wraps a gorm.DB scoped to the order projection table.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, trerr.Wrap(err, trerr.ErrLogIO, "migrating order projection table")
	}
	return &Store{db: db}, nil
}

// Upsert writes or updates row's projection.
func (s *Store) Upsert(ctx context.Context, row Row) error {
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) ByID(ctx context.Context, id uint64) (Row, error) {
	var row Row
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	return row, err
}

func (s *Store) ByClientOrderID(ctx context.Context, clientID string) (Row, error) {
	var row Row
	err := s.db.WithContext(ctx).First(&row, "client_order_id = ?", clientID).Error
	return row, err
}

func (s *Store) ByStatus(ctx context.Context, status string) ([]Row, error) {
	var rows []Row
	err := s.db.WithContext(ctx).Find(&rows, "status = ?", status).Error
	return rows, err
}

func (s *Store) BySymbol(ctx context.Context, symbol uint32) ([]Row, error) {
	var rows []Row
	err := s.db.WithContext(ctx).Find(&rows, "symbol = ?", symbol).Error
	return rows, err
}

func (s *Store) ChildrenOf(ctx context.Context, parentID uint64) ([]Row, error) {
	var rows []Row
	err := s.db.WithContext(ctx).Find(&rows, "parent_order_id = ?", parentID).Error
	return rows, err
}

// Rebuild truncates and repopulates the projection from rows, used
// after WAL replay since the projection carries no independent truth.
func (s *Store) Rebuild(ctx context.Context, rows []Row) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Row{}).Error; err != nil {
			return err
		}
		for _, r := range rows {
			if err := tx.Create(&r).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

package permissions

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bartek5186/saunasync/internal/db"
)

// GormStore czyta user_permissions z lokalnej bazy.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(gdb *gorm.DB) *GormStore { return &GormStore{db: gdb} }

func (s *GormStore) Get(ctx context.Context, userID string) (*Permission, error) {
	var row db.UserPermission
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(row), nil
}

// Put zakłada albo aktualizuje uprawnienia (komenda grant w CLI).
func (s *GormStore) Put(ctx context.Context, p Permission) error {
	row := db.UserPermission{UserID: p.UserID, Role: p.Role, CanEditContent: p.CanEditContent}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "can_edit_content"}),
	}).Create(&row).Error
}

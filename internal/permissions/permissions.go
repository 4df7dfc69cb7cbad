// Package permissions odpowiada na pytanie "czy użytkownik jest adminem panelu treści".
package permissions

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/bartek5186/saunasync/internal/db"
)

var ErrNotFound = errors.New("permissions: user not found")

// Permission to wiersz user_permissions.
type Permission struct {
	UserID         string `json:"userId"`
	Role           string `json:"role"`
	CanEditContent bool   `json:"canEditContent"`
}

func (p Permission) IsAdmin() bool {
	return p.Role == "admin" || p.CanEditContent
}

type Store interface {
	Get(ctx context.Context, userID string) (*Permission, error)
}

// Writer zakłada albo aktualizuje wiersz (GormStore, PgxStore).
type Writer interface {
	Put(ctx context.Context, p Permission) error
}

// Checker połyka błędy: brak wiersza, błąd bazy czy timeout to po prostu "nie admin".
type Checker struct {
	log   zerolog.Logger
	store Store
}

func NewChecker(log zerolog.Logger, store Store) *Checker {
	return &Checker{log: log, store: store}
}

func (c *Checker) IsAdmin(ctx context.Context, userID string) bool {
	if userID == "" || c == nil || c.store == nil {
		return false
	}
	p, err := c.store.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.log.Warn().Err(err).Str("user", userID).Msg("permissions: lookup nieudany")
		}
		return false
	}
	return p.IsAdmin()
}

func fromRow(r db.UserPermission) *Permission {
	return &Permission{UserID: r.UserID, Role: r.Role, CanEditContent: r.CanEditContent}
}

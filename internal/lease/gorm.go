package lease

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bartek5186/saunasync/internal/db"
)

// GormLocker trzyma lease w tabeli sync_leases.
type GormLocker struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormLocker(gdb *gorm.DB) *GormLocker {
	return &GormLocker{db: gdb, now: func() time.Time { return time.Now().UTC() }}
}

func (g *GormLocker) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (*Lease, error) {
	now := g.now()
	exp := now.Add(ttl)

	// 1) przejęcie wygasłego (albo własnego) wiersza: compare-and-swap na expires_at/holder
	res := g.db.WithContext(ctx).Model(&db.SyncLease{}).
		Where("name = ? AND (expires_at < ? OR holder = ?)", name, now, holder).
		Updates(map[string]any{"holder": holder, "expires_at": exp, "acquired_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return &Lease{Name: name, Holder: holder, ExpiresAt: exp}, nil
	}

	// 2) brak wiersza: insert; konflikt = ktoś trzyma ważny lease
	row := db.SyncLease{Name: name, Holder: holder, ExpiresAt: exp, AcquiredAt: now}
	res = g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrHeld
	}
	return &Lease{Name: name, Holder: holder, ExpiresAt: exp}, nil
}

func (g *GormLocker) Renew(ctx context.Context, l *Lease, ttl time.Duration) error {
	exp := g.now().Add(ttl)
	res := g.db.WithContext(ctx).Model(&db.SyncLease{}).
		Where("name = ? AND holder = ?", l.Name, l.Holder).
		Update("expires_at", exp)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotHeld
	}
	l.ExpiresAt = exp
	return nil
}

func (g *GormLocker) Release(ctx context.Context, l *Lease) error {
	res := g.db.WithContext(ctx).
		Where("name = ? AND holder = ?", l.Name, l.Holder).
		Delete(&db.SyncLease{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotHeld
	}
	return nil
}

// Current zwraca aktualny (niewygasły) lease albo nil.
func (g *GormLocker) Current(ctx context.Context, name string) (*Lease, error) {
	var row db.SyncLease
	err := g.db.WithContext(ctx).Where("name = ? AND expires_at >= ?", name, g.now()).Limit(1).Find(&row).Error
	if err != nil || row.Name == "" {
		return nil, err
	}
	return &Lease{Name: row.Name, Holder: row.Holder, ExpiresAt: row.ExpiresAt}, nil
}

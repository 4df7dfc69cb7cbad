// Package lease to token wzajemnego wykluczania wokół okna delete-then-recreate.
// Dwa procesy nie mogą jednocześnie kasować i odtwarzać katalogu.
package lease

import (
	"context"
	"errors"
	"time"
)

var (
	ErrHeld    = errors.New("lease: held by another holder")
	ErrNotHeld = errors.New("lease: not held")
)

type Lease struct {
	Name      string
	Holder    string
	ExpiresAt time.Time
}

type Locker interface {
	// Acquire zwraca ErrHeld, jeśli ważny lease ma ktoś inny.
	Acquire(ctx context.Context, name, holder string, ttl time.Duration) (*Lease, error)
	// Renew przedłuża lease; ErrNotHeld, jeśli go straciliśmy.
	Renew(ctx context.Context, l *Lease, ttl time.Duration) error
	// Release zwalnia tylko własny lease.
	Release(ctx context.Context, l *Lease) error
}

// KeepAlive odświeża lease co ttl/2 do czasu anulowania ctx.
// ErrNotHeld kończy pętlę od razu. Inny błąd Renew (np. chwilowy błąd bazy) jest
// ponawiany na następnym ticku; onLost dopiero gdy od ostatniego udanego odświeżenia minął ttl.
func KeepAlive(ctx context.Context, lk Locker, l *Lease, ttl time.Duration, onLost func(error)) {
	every := ttl / 2
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	lastOK := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := lk.Renew(ctx, l, ttl)
			if err == nil {
				lastOK = time.Now()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, ErrNotHeld) && time.Since(lastOK) < ttl {
				continue
			}
			if onLost != nil {
				onLost(err)
			}
			return
		}
	}
}

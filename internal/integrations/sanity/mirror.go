// internal/integrations/sanity/mirror.go
package sanity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/bartek5186/saunasync/internal/db"
	"github.com/bartek5186/saunasync/internal/integrations"
)

// Mirror trzyma lokalną kopię produktów z content store w product_snapshots.
// Z tej kopii korzysta fallback katalogu i audyt.
type Mirror struct {
	log    zerolog.Logger
	client *Client
	db     *gorm.DB
	poll   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

func NewMirror(log zerolog.Logger, client *Client, gdb *gorm.DB, pollSec int) *Mirror {
	return &Mirror{log: log, client: client, db: gdb, poll: time.Duration(pollSec) * time.Second}
}

func (m *Mirror) Name() string { return "sanity" }

func (m *Mirror) Client() *Client { return m.client }

func (m *Mirror) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.log.Info().Str("integration", m.Name()).Dur("poll", m.poll).Msg("start")

	if m.poll <= 0 {
		<-m.ctx.Done()
		return nil
	}

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	// pierwszy strzał
	m.tick()

	for {
		select {
		case <-m.ctx.Done():
			m.log.Info().Str("integration", m.Name()).Msg("stop")
			return nil
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Mirror) tick() {
	n, err := m.Snapshot(m.ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.log.Warn().Err(err).Msg("mirror: snapshot nieudany")
		}
		return
	}
	m.log.Debug().Int("products", n).Msg("mirror: snapshot")
}

// Snapshot pobiera pełne rekordy produktów i zapisuje je lokalnie.
// Dokumenty, których już nie ma w content store, dostają removed_at.
func (m *Mirror) Snapshot(ctx context.Context) (int, error) {
	products, err := m.client.Products(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	rows := make([]db.ProductSnapshot, 0, len(products))
	ids := make([]string, 0, len(products))
	for _, p := range products {
		raw, _ := json.Marshal(p)
		rows = append(rows, db.ProductSnapshot{
			DocumentID: p.ID,
			ExternalID: p.GHLProductID,
			Name:       p.Name,
			Slug:       p.Slug.Current,
			Price:      p.Price,
			SalePrice:  p.SalePrice,
			StockCount: p.StockCount,
			Category:   p.Category,
			RawJSON:    string(raw),
			SeenAt:     now,
		})
		ids = append(ids, p.ID)
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := db.UpsertSnapshots(ctx, tx, rows); err != nil {
			return err
		}
		return db.MarkSnapshotsRemovedExcept(ctx, tx, ids, now)
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func factory(log zerolog.Logger, raw json.RawMessage, deps integrations.Deps) (integrations.Integration, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if deps.DB == nil {
		return nil, errors.New("sanity: brak bazy dla mirrora")
	}
	client, err := NewClient(log, cfg)
	if err != nil {
		return nil, err
	}
	return NewMirror(log, client, deps.DB, cfg.PollSec), nil
}

func init() {
	integrations.Register("sanity", factory)
}

// Package resync to pełna wymiana katalogu: kasowanie wszystkich produktów
// w content store i odtworzenie ich ze źródła.
package resync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/bartek5186/saunasync/internal/catalog"
	conf "github.com/bartek5186/saunasync/internal/config"
	"github.com/bartek5186/saunasync/internal/db"
	"github.com/bartek5186/saunasync/internal/integrations/trigger"
	"github.com/bartek5186/saunasync/internal/lease"
	"github.com/bartek5186/saunasync/internal/observability"
	"github.com/bartek5186/saunasync/internal/source"
)

// LastCompletedKey: klucz kv z czasem ostatniego zakończonego resync (RFC3339).
const LastCompletedKey = "resync.last_completed"

var (
	ErrLeaseHeld = errors.New("resync: another resync holds the lease")
	ErrLeaseLost = errors.New("resync: lease lost during run")
	ErrNoImport  = errors.New("resync: neither trigger nor source configured")
)

// Store to operacje content store potrzebne do wymiany katalogu.
type Store interface {
	ProductRefs(ctx context.Context) ([]catalog.Ref, error)
	DeleteDocument(ctx context.Context, id string) error
	CreateProduct(ctx context.Context, p catalog.Product) error
}

// Trigger uruchamia zewnętrzny re-import.
type Trigger interface {
	Trigger(ctx context.Context) (trigger.Result, error)
}

// Snapshotter odkłada pełne rekordy do lokalnego mirrora przed kasowaniem.
type Snapshotter interface {
	Snapshot(ctx context.Context) (int, error)
}

// PriceSyncer zakłada ceny produktu u operatora płatności; zwraca id produktu u operatora.
type PriceSyncer interface {
	SyncPrices(ctx context.Context, p catalog.Product) (string, []catalog.Price, error)
}

// Patcher: content store, który umie dopisać pola do istniejącego dokumentu.
type Patcher interface {
	PatchProduct(ctx context.Context, id string, set map[string]any) error
}

type Auditor interface {
	Run(ctx context.Context, sourceIDs []string) (int, error)
}

type Publisher interface {
	PublishResync(ctx context.Context, r Report) error
}

type Deps struct {
	Store   Store
	Trigger Trigger       // nil = wbudowany import ze Source
	Source  source.Reader // wymagany, gdy brak Trigger
	Locker  lease.Locker
	DB      *gorm.DB // sync_runs + product_snapshots; nil = bez zapisu
	Mirror  Snapshotter
	Prices  PriceSyncer // tylko wbudowany import; nil = bez cen
	Auditor Auditor
	Events  Publisher
}

type Options struct {
	Policy    string // abort | continue
	LeaseName string
	LeaseTTL  time.Duration
	Out       io.Writer // linia "Products synced: N, Errors: M"
}

type Procedure struct {
	log  zerolog.Logger
	deps Deps
	opt  Options
}

func New(log zerolog.Logger, deps Deps, opt Options) (*Procedure, error) {
	if deps.Store == nil {
		return nil, errors.New("resync: content store is required")
	}
	if deps.Locker == nil {
		return nil, errors.New("resync: locker is required")
	}
	if deps.Trigger == nil && deps.Source == nil {
		return nil, ErrNoImport
	}
	if opt.Policy == "" {
		opt.Policy = conf.PolicyAbort
	}
	if opt.Policy != conf.PolicyAbort && opt.Policy != conf.PolicyContinue {
		return nil, fmt.Errorf("resync: unknown delete policy %q", opt.Policy)
	}
	if opt.LeaseName == "" {
		opt.LeaseName = "catalog-resync"
	}
	if opt.LeaseTTL <= 0 {
		opt.LeaseTTL = 10 * time.Minute
	}
	if opt.Out == nil {
		opt.Out = os.Stdout
	}
	return &Procedure{log: log, deps: deps, opt: opt}, nil
}

func holderID(runID string) string {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s/%d/%s", host, os.Getpid(), runID)
}

// Run wykonuje jeden pełny resync. Kroki: lease, lista _id, snapshot,
// kasowanie po kolei, re-import, raport, zwolnienie lease.
func (p *Procedure) Run(ctx context.Context, triggeredBy string) (*Report, error) {
	runID := uuid.NewString()
	rep := &Report{
		RunID:       runID,
		TriggeredBy: triggeredBy,
		Holder:      holderID(runID),
		Policy:      p.opt.Policy,
		StartedAt:   time.Now().UTC(),
	}
	log := p.log.With().Str("run", runID).Str("by", triggeredBy).Logger()

	// 1) lease
	l, err := p.deps.Locker.Acquire(ctx, p.opt.LeaseName, rep.Holder, p.opt.LeaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			rep.Status = db.RunSkipped
			rep.Message = ErrLeaseHeld.Error()
			p.persist(ctx, log, rep, true)
			observability.ResyncRunsTotal.WithLabelValues(db.RunSkipped).Inc()
			log.Warn().Msg("resync pominięty: lease zajęty")
			return rep, ErrLeaseHeld
		}
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	log.Info().Str("holder", rep.Holder).Msg("resync: start")

	runCtx, cancel := context.WithCancelCause(ctx)
	keepDone := make(chan struct{})
	go func() {
		defer close(keepDone)
		lease.KeepAlive(runCtx, p.deps.Locker, l, p.opt.LeaseTTL, func(err error) {
			log.Error().Err(err).Msg("resync: utracono lease, przerywam")
			cancel(fmt.Errorf("%w: %v", ErrLeaseLost, err))
		})
	}()
	defer func() {
		// keepalive musi stanąć przed zwolnieniem, inaczej odświeży zwolniony lease
		cancel(nil)
		<-keepDone
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer relCancel()
		if err := p.deps.Locker.Release(relCtx, l); err != nil {
			log.Warn().Err(err).Msg("resync: zwolnienie lease nieudane")
		}
	}()

	rep.Status = db.RunRunning
	p.persist(ctx, log, rep, true)

	err = p.run(runCtx, log, rep)
	if cause := context.Cause(runCtx); err != nil && errors.Is(cause, ErrLeaseLost) {
		err = cause
	}

	rep.FinishedAt = time.Now().UTC()
	rep.Duration = rep.FinishedAt.Sub(rep.StartedAt)
	if err != nil {
		rep.Status = db.RunFailed
		rep.Message = err.Error()
	} else {
		rep.Status = db.RunCompleted
	}
	p.finish(ctx, log, rep)
	return rep, err
}

func (p *Procedure) run(ctx context.Context, log zerolog.Logger, rep *Report) error {
	// 2) lista produktów (_id, name)
	refs, err := p.deps.Store.ProductRefs(ctx)
	if err != nil {
		return fmt.Errorf("query products: %w", err)
	}
	rep.Found = len(refs)
	log.Info().Int("found", rep.Found).Msg("resync: produkty do skasowania")

	// 3) snapshot + kasowanie, jeden request na rekord
	if p.deps.Mirror != nil && len(refs) > 0 {
		if n, err := p.deps.Mirror.Snapshot(ctx); err != nil {
			log.Warn().Err(err).Msg("resync: snapshot do mirrora nieudany, kasuję mimo to")
		} else {
			log.Debug().Int("snapshots", n).Msg("resync: snapshot zapisany")
		}
	}
	if err := p.deleteAll(ctx, log, refs, rep); err != nil {
		return err
	}

	// 4) re-import
	var sourceIDs []string
	if p.deps.Trigger != nil {
		res, err := p.deps.Trigger.Trigger(ctx)
		if err != nil {
			log.Error().Err(err).Msg("resync: trigger nieudany, katalog zostaje pusty do następnego przebiegu")
			return fmt.Errorf("trigger re-import: %w", err)
		}
		rep.Mode = ModeTrigger
		rep.Synced, rep.Errors = res.Synced, res.Errors
	} else {
		rep.Mode = ModeBuiltin
		sourceIDs, err = p.importFromSource(ctx, log, rep)
		if err != nil {
			return err
		}
	}

	// 5) raport operatora
	fmt.Fprintln(p.opt.Out, rep.Summary())
	log.Info().Int("synced", rep.Synced).Int("errors", rep.Errors).Msg("resync: re-import zakończony")

	if p.deps.Auditor != nil {
		if n, err := p.deps.Auditor.Run(ctx, sourceIDs); err != nil {
			log.Warn().Err(err).Msg("resync: audyt nieudany")
		} else {
			rep.Issues = n
		}
	}
	return nil
}

func (p *Procedure) deleteAll(ctx context.Context, log zerolog.Logger, refs []catalog.Ref, rep *Report) error {
	deleted := make([]string, 0, len(refs))
	defer func() {
		if p.deps.DB == nil || len(deleted) == 0 {
			return
		}
		if err := db.MarkSnapshotsRemoved(context.WithoutCancel(ctx), p.deps.DB, deleted, time.Now().UTC()); err != nil {
			log.Warn().Err(err).Msg("resync: oznaczenie snapshotów nieudane")
		}
	}()

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.deps.Store.DeleteDocument(ctx, ref.ID); err != nil {
			rep.DeleteErrors++
			log.Error().Err(err).Str("id", ref.ID).Str("name", ref.Name).Msg("resync: kasowanie nieudane")
			if p.opt.Policy == conf.PolicyAbort {
				return fmt.Errorf("delete %s (after %d of %d deleted): %w", ref.ID, rep.Deleted, rep.Found, err)
			}
			continue
		}
		rep.Deleted++
		deleted = append(deleted, ref.ID)
		log.Debug().Str("id", ref.ID).Str("name", ref.Name).Msg("resync: skasowany")
	}
	log.Info().Int("deleted", rep.Deleted).Int("failed", rep.DeleteErrors).Msg("resync: kasowanie zakończone")
	return nil
}

// importFromSource: jeden dokument na produkt źródła, _id = product-<ghlProductId>.
func (p *Procedure) importFromSource(ctx context.Context, log zerolog.Logger, rep *Report) ([]string, error) {
	products, err := p.deps.Source.Products(ctx)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", p.deps.Source.Name(), err)
	}
	ids := make([]string, 0, len(products))
	owner := make(map[string]string, len(products)) // _id -> zewnętrzne id
	for _, sp := range products {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		if sp.ExternalID == "" {
			rep.Errors++
			log.Warn().Str("name", sp.Name).Msg("resync: produkt bez zewnętrznego id — pomijam")
			continue
		}
		doc := catalog.FromSource(sp)
		if prev, dup := owner[doc.ID]; dup {
			// createOrReplace nadpisałby poprzedni produkt pod tym samym _id
			rep.Errors++
			log.Error().Str("external_id", sp.ExternalID).Str("taken_by", prev).Str("id", doc.ID).
				Msg("resync: kolizja _id, pomijam")
			continue
		}
		owner[doc.ID] = sp.ExternalID
		ids = append(ids, sp.ExternalID)
		if err := p.deps.Store.CreateProduct(ctx, doc); err != nil {
			rep.Errors++
			log.Error().Err(err).Str("external_id", sp.ExternalID).Msg("resync: tworzenie nieudane")
			continue
		}
		rep.Synced++
		p.syncPrices(ctx, log, doc, rep)
	}
	return ids, nil
}

// syncPrices zakłada brakujące ceny i dopisuje do dokumentu id produktu u operatora.
// Błędy cen nie psują wyniku importu, liczą się osobno.
func (p *Procedure) syncPrices(ctx context.Context, log zerolog.Logger, doc catalog.Product, rep *Report) {
	if p.deps.Prices == nil {
		return
	}
	productID, created, err := p.deps.Prices.SyncPrices(ctx, doc)
	if err != nil {
		rep.PriceErrors++
		log.Warn().Err(err).Str("id", doc.ID).Msg("resync: ceny nieudane")
		return
	}
	rep.PricesCreated += len(created)
	if pt, ok := p.deps.Store.(Patcher); ok && productID != "" {
		if err := pt.PatchProduct(ctx, doc.ID, map[string]any{"stripeProductId": productID}); err != nil {
			rep.PriceErrors++
			log.Warn().Err(err).Str("id", doc.ID).Msg("resync: patch stripeProductId nieudany")
		}
	}
}

func (p *Procedure) persist(ctx context.Context, log zerolog.Logger, rep *Report, create bool) {
	if p.deps.DB == nil {
		return
	}
	run := rep.toRow()
	var err error
	if create {
		err = db.CreateRun(ctx, p.deps.DB, &run)
	} else {
		err = db.FinishRun(context.WithoutCancel(ctx), p.deps.DB, &run)
	}
	if err != nil {
		log.Warn().Err(err).Msg("resync: zapis sync_runs nieudany")
	}
}

func (p *Procedure) finish(ctx context.Context, log zerolog.Logger, rep *Report) {
	p.persist(ctx, log, rep, false)
	if p.deps.DB != nil && rep.Status == db.RunCompleted {
		if err := db.SetKV(context.WithoutCancel(ctx), p.deps.DB, LastCompletedKey, rep.FinishedAt.Format(time.RFC3339)); err != nil {
			log.Warn().Err(err).Msg("resync: zapis kv nieudany")
		}
	}
	observability.RecordResync(rep.Status, rep.Deleted, rep.DeleteErrors, rep.Synced, rep.Errors, rep.Duration)
	if p.deps.Events != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := p.deps.Events.PublishResync(pubCtx, *rep); err != nil {
			log.Warn().Err(err).Msg("resync: publikacja zdarzenia nieudana")
		}
	}
	ev := log.Info()
	if rep.Status == db.RunFailed {
		ev = log.Error()
	}
	ev.Str("status", rep.Status).
		Int("found", rep.Found).
		Int("deleted", rep.Deleted).
		Int("delete_errors", rep.DeleteErrors).
		Int("synced", rep.Synced).
		Int("errors", rep.Errors).
		Dur("took", rep.Duration).
		Msg("resync: koniec")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bartek5186/saunasync/internal/audit"
	conf "github.com/bartek5186/saunasync/internal/config"
	"github.com/bartek5186/saunasync/internal/db"
	"github.com/bartek5186/saunasync/internal/events"
	"github.com/bartek5186/saunasync/internal/integrations/feed"
	"github.com/bartek5186/saunasync/internal/integrations/ghl"
	"github.com/bartek5186/saunasync/internal/integrations/sanity"
	"github.com/bartek5186/saunasync/internal/integrations/stripe"
	"github.com/bartek5186/saunasync/internal/integrations/trigger"
	"github.com/bartek5186/saunasync/internal/lease"
	logs "github.com/bartek5186/saunasync/internal/logs"
	"github.com/bartek5186/saunasync/internal/observability"
	"github.com/bartek5186/saunasync/internal/permissions"
	"github.com/bartek5186/saunasync/internal/resync"
	"github.com/bartek5186/saunasync/internal/server"
	"github.com/bartek5186/saunasync/internal/source"
	syncer "github.com/bartek5186/saunasync/internal/syncer"
)

var ver = "1.0.0"

// App trzyma wszystkie komponenty jednego procesu.
type App struct {
	log     zerolog.Logger
	appDir  string
	cfgPath string
	cfg     *conf.Config

	out io.Writer
	db  *db.Handle
	clients

	store     *sanity.Client
	proc      *resync.Procedure
	perms     permissions.Writer
	permCache *permissions.CachedStore
	syncer    *syncer.Syncer
	server    *server.Server

	srvCtx    context.Context
	srvCancel context.CancelFunc
	srvDone   chan struct{}
}

// clients to połączenia współdzielone przez resync i API.
type clients struct {
	rdb    redis.UniversalClient
	events *events.Publisher
	pgx    *permissions.PgxStore
}

// closeExcept zamyka połączenia, których nie ma w keep.
func (c clients) closeExcept(keep clients) {
	if c.events != keep.events {
		c.events.Close()
	}
	if c.pgx != keep.pgx {
		c.pgx.Close()
	}
	if c.rdb != nil && c.rdb != keep.rdb {
		_ = c.rdb.Close()
	}
}

// wiring to komponenty zależne od konfiguracji, przebudowywane przy reloadzie.
type wiring struct {
	store     *sanity.Client
	proc      *resync.Procedure
	runner    syncer.Runner
	perms     permissions.Writer
	permCache *permissions.CachedStore
	server    *server.Server
}

type appOptions struct {
	dir         string
	withConsole bool
	out         io.Writer // linia podsumowania resync
}

func mustAppDataDir(name string) string {
	base, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	p := filepath.Join(base, name)
	_ = os.MkdirAll(p, 0o755)
	return p
}

func newApp(ctx context.Context, opt appOptions) (*App, error) {
	if opt.dir == "" {
		opt.dir = mustAppDataDir("saunasync")
	}
	if err := os.MkdirAll(opt.dir, 0o755); err != nil {
		return nil, err
	}
	a := &App{appDir: opt.dir, cfgPath: filepath.Join(opt.dir, "config.json"), out: opt.out}
	a.log = logs.New(filepath.Join(opt.dir, "app.log"), opt.withConsole)

	cfg, firstRun, err := conf.LoadOrCreate(a.cfgPath)
	if err != nil {
		return nil, err
	}
	if firstRun {
		a.log.Info().Msgf("Utworzono domyślną konfigurację: %s", a.cfgPath)
	}
	if err := cfg.ApplyEnv(filepath.Join(opt.dir, ".env")); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logs.SetLevel(cfg.LogLevel)
	a.cfg = cfg

	if err := a.openDB(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openDB() error {
	var (
		h   *db.Handle
		err error
	)
	if a.cfg.Database.DSN == "" {
		h, err = db.OpenAt(a.appDir)
	} else {
		h, err = db.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	}
	if err != nil {
		return fmt.Errorf("DB open: %w", err)
	}
	a.db = h
	if err := h.Migrate(); err != nil {
		return fmt.Errorf("DB migrate: %w", err)
	}
	a.log.Info().Str("db", h.Path).Str("driver", h.Driver).Msg("DB ready")
	return nil
}

func (a *App) build(ctx context.Context) error {
	observability.Register()

	cl, err := a.connect(ctx, a.cfg, nil)
	if err != nil {
		return err
	}
	a.clients = cl
	w, err := a.wire(ctx, a.cfg, cl)
	if err != nil {
		return err
	}
	a.apply(w)
	a.syncer = syncer.New(a.log, a.cfg, a.db.DB, w.runner)
	return nil
}

// connect zwraca połączenia dla cfg. Przy reloadzie (old != nil) otwiera tylko te,
// których ustawienia się zmieniły; pozostałe są brane z a.clients.
func (a *App) connect(ctx context.Context, cfg, old *conf.Config) (clients, error) {
	log := a.log
	cl := a.clients
	fresh := clients{}
	fail := func(err error) (clients, error) {
		fresh.closeExcept(clients{})
		return clients{}, err
	}

	if old == nil || old.Redis.URL != cfg.Redis.URL {
		cl.rdb = nil
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				return fail(fmt.Errorf("redis url: %w", err))
			}
			cl.rdb = redis.NewClient(opt)
			fresh.rdb = cl.rdb
			if err := cl.rdb.Ping(ctx).Err(); err != nil {
				log.Warn().Err(err).Msg("Redis niedostępny przy starcie")
			}
		}
	}

	if old == nil || old.NATS != cfg.NATS {
		ev, err := events.NewPublisher(log.With().Str("component", "events").Logger(), cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return fail(err)
		}
		cl.events = ev
		fresh.events = ev
	}

	if old == nil || old.Permissions.DatabaseURL != cfg.Permissions.DatabaseURL {
		cl.pgx = nil
		if url := cfg.Permissions.DatabaseURL; url != "" {
			ps, err := permissions.NewPgxStore(ctx, url)
			if err != nil {
				log.Error().Err(err).Msg("permissions: baza niedostępna, używam lokalnej tabeli")
			} else {
				cl.pgx = ps
				fresh.pgx = ps
			}
		}
	}
	return cl, nil
}

// wire składa resync, uprawnienia i API dla cfg. Nie zmienia stanu App.
func (a *App) wire(ctx context.Context, cfg *conf.Config, cl clients) (wiring, error) {
	log := a.log
	var w wiring

	// content store
	var sc sanity.Config
	if err := cfg.UnmarshalIntegration("sanity", &sc); err != nil {
		return w, err
	}
	store, err := sanity.NewClient(log.With().Str("integration", "sanity").Logger(), sc)
	if err != nil {
		return w, err
	}
	w.store = store
	mirror := sanity.NewMirror(log.With().Str("integration", "sanity").Logger(), store, a.db.DB, 0)

	src, err := a.sourceReader(cfg)
	if err != nil {
		return w, err
	}

	var trg resync.Trigger
	if cfg.HasIntegration("trigger") {
		var tc trigger.Config
		if err := cfg.UnmarshalIntegration("trigger", &tc); err != nil {
			return w, err
		}
		if tc.URL != "" {
			t, err := trigger.New(log.With().Str("integration", "trigger").Logger(), tc)
			if err != nil {
				return w, err
			}
			trg = t
		}
	}

	var locker lease.Locker = lease.NewGormLocker(a.db.DB)
	if cfg.Lease.Backend == conf.LeaseRedis {
		if cl.rdb == nil {
			return w, fmt.Errorf("lease backend redis requires redis.url")
		}
		locker = lease.NewRedisLocker(cl.rdb)
	}

	pay := a.payments(cfg)

	deps := resync.Deps{
		Store:   store,
		Trigger: trg,
		Source:  src,
		Locker:  locker,
		DB:      a.db.DB,
		Mirror:  mirror,
		Auditor: audit.New(log.With().Str("component", "audit").Logger(), store, src, a.db.DB),
		Events:  cl.events,
	}
	if pay != nil {
		deps.Prices = pay
	}
	proc, err := resync.New(log.With().Str("component", "resync").Logger(), deps, resync.Options{
		Policy:    cfg.DeletePolicy,
		LeaseName: cfg.LeaseName(),
		LeaseTTL:  cfg.LeaseTTL(),
		Out:       a.out,
	})
	switch {
	case errors.Is(err, resync.ErrNoImport):
		log.Warn().Msg("Resync wyłączony: brak triggera i źródła produktów")
	case err != nil:
		return w, err
	default:
		w.proc = proc
		w.runner = proc
	}

	plog := log.With().Str("component", "permissions").Logger()
	var base interface {
		permissions.Store
		permissions.Writer
	} = permissions.NewGormStore(a.db.DB)
	if cl.pgx != nil {
		base = cl.pgx
	}
	w.perms = base
	w.permCache = permissions.NewCachedStore(plog, base, cl.rdb, cfg.PermissionsCacheTTL())

	if cfg.HTTP.Addr != "" {
		sdeps := server.Deps{Catalog: store, DB: a.db.DB}
		if w.proc != nil {
			sdeps.Resync = w.proc
		}
		if pay != nil {
			sdeps.Prices = pay
		}
		sdeps.Admin = permissions.NewChecker(plog, w.permCache)
		w.server = server.New(log.With().Str("component", "http").Logger(), cfg.HTTP, sdeps)
	}
	return w, nil
}

func (a *App) apply(w wiring) {
	a.store, a.proc = w.store, w.proc
	a.perms, a.permCache = w.perms, w.permCache
	a.server = w.server
}

// sourceReader: ghl z API albo ostatni zaimportowany feed. Nil, gdy źródło nie jest skonfigurowane.
func (a *App) sourceReader(cfg *conf.Config) (source.Reader, error) {
	switch cfg.Source {
	case conf.SourceFeed:
		return feed.NewReader(a.db.DB), nil
	case conf.SourceGHL, "":
		var gc ghl.Config
		if err := cfg.UnmarshalIntegration("ghl", &gc); err != nil {
			return nil, err
		}
		if gc.APIKey == "" || gc.LocationID == "" {
			a.log.Warn().Msg("ghl: brak api_key/location_id, import tylko przez trigger")
			return nil, nil
		}
		return ghl.New(a.log.With().Str("integration", "ghl").Logger(), gc)
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// payments: klient Stripe albo nil bez secret_key.
func (a *App) payments(cfg *conf.Config) *stripe.Client {
	var pc stripe.Config
	if err := cfg.UnmarshalIntegration("stripe", &pc); err != nil || pc.SecretKey == "" {
		return nil
	}
	c, err := stripe.New(a.log.With().Str("integration", "stripe").Logger(), pc, a.db.DB)
	if err != nil {
		a.log.Warn().Err(err).Msg("stripe: pomijam")
		return nil
	}
	return c
}

// grant zapisuje uprawnienia w aktywnej bazie i czyści wpis w cache.
func (a *App) grant(ctx context.Context, p permissions.Permission) error {
	if err := a.perms.Put(ctx, p); err != nil {
		return fmt.Errorf("grant: %w", err)
	}
	return a.permCache.Invalidate(ctx, p.UserID)
}

// runServer startuje API w tle, jeśli http.addr jest ustawiony.
func (a *App) runServer(ctx context.Context) {
	a.srvCtx = ctx
	a.startServer()
}

func (a *App) startServer() {
	if a.server == nil || a.srvCtx == nil {
		return
	}
	ctx, cancel := context.WithCancel(a.srvCtx)
	done := make(chan struct{})
	a.srvCancel, a.srvDone = cancel, done
	srv := a.server
	go func() {
		defer close(done)
		if err := srv.Start(ctx); err != nil {
			a.log.Error().Err(err).Msg("HTTP: błąd serwera")
		}
	}()
}

func (a *App) stopServer() {
	if a.srvCancel == nil {
		return
	}
	a.srvCancel()
	<-a.srvDone
	a.srvCancel, a.srvDone = nil, nil
}

// reload wczytuje config.json i .env od nowa i przebudowuje resync, API i połączenia.
// Zmiana sekcji database wymaga restartu procesu.
func (a *App) reload(ctx context.Context) error {
	newCfg, _, err := conf.LoadOrCreate(a.cfgPath)
	if err != nil {
		return err
	}
	if err := newCfg.ApplyEnv(filepath.Join(a.appDir, ".env")); err != nil {
		return err
	}
	if err := newCfg.Validate(); err != nil {
		return err
	}
	if newCfg.Database != a.cfg.Database {
		return errors.New("reload: zmiana database wymaga restartu aplikacji")
	}

	cl, err := a.connect(ctx, newCfg, a.cfg)
	if err != nil {
		return err
	}
	w, err := a.wire(ctx, newCfg, cl)
	if err != nil {
		cl.closeExcept(a.clients)
		return err
	}

	prev := a.clients
	logs.SetLevel(newCfg.LogLevel)
	a.cfg, a.clients = newCfg, cl
	a.stopServer()
	a.apply(w)
	a.startServer()
	a.syncer.UpdateRunner(w.runner)
	a.syncer.UpdateConfig(newCfg)
	prev.closeExcept(cl)
	a.log.Info().Bool("resync", w.proc != nil).Bool("http", w.server != nil).Msg("Konfiguracja przeładowana")
	return nil
}

func (a *App) Close() {
	a.stopServer()
	if a.syncer != nil {
		a.syncer.Stop()
	}
	a.clients.closeExcept(clients{})
	if a.db != nil {
		_ = a.db.Close()
	}
}

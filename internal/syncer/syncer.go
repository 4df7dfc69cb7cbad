// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	conf "github.com/bartek5186/saunasync/internal/config"
	"github.com/bartek5186/saunasync/internal/integrations"
	_ "github.com/bartek5186/saunasync/internal/integrations/feed"   // rejestracja
	_ "github.com/bartek5186/saunasync/internal/integrations/sanity" // rejestracja
	"github.com/bartek5186/saunasync/internal/resync"
)

// Runner to procedura resync (resync.Procedure).
type Runner interface {
	Run(ctx context.Context, triggeredBy string) (*resync.Report, error)
}

// wrapper na uruchomioną integrację (np. feed i mirror sanity)
type runningInt struct {
	Name string
	Inst integrations.Integration
}

const heartbeatEvery = 30 * time.Second

type Syncer struct {
	log     zerolog.Logger // logowanie
	db      *gorm.DB       // dostęp do bazy
	runner  Runner         // nil = tylko integracje i heartbeat
	mu      sync.Mutex     // ochrona sekcji krytycznych
	cfg     *conf.Config   // aktualna konfiguracja
	running bool           // czy syncer działa
	cancel  context.CancelFunc
	wg      sync.WaitGroup // śledzi goroutines
	ticks   uint64         // licznik ticków
	ints    []runningInt   // lista aktywnych integracji
	last    *resync.Report // wynik ostatniego resync

	unit time.Duration // jednostka sync_interval_seconds; testy skracają
}

func New(log zerolog.Logger, cfg *conf.Config, gdb *gorm.DB, runner Runner) *Syncer {
	return &Syncer{log: log, cfg: cfg, db: gdb, runner: runner, unit: time.Second}
}

func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.ticks = 0
	s.wg.Add(1)

	// zbuduj i odpal integracje
	ints := s.buildIntegrationsLocked()
	s.ints = ints
	s.mu.Unlock()

	s.log.Info().Msg("Syncer: start")
	go s.loop(ctx)

	// każda integracja w swojej gorutinie
	for i := range ints {
		s.wg.Add(1)
		go func(ri runningInt) {
			defer s.wg.Done()
			if err := ri.Inst.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error().Err(err).Str("integration", ri.Name).Msg("zakończona z błędem")
			}
		}(ints[i])
	}
	return nil
}

func (s *Syncer) buildIntegrationsLocked() []runningInt {
	var out []runningInt
	if s.cfg == nil || len(s.cfg.Integrations) == 0 {
		s.log.Warn().Msg("Integrations: brak lub puste (sprawdź config.json)")
		return out
	}
	names := make([]string, 0, len(s.cfg.Integrations))
	for name := range s.cfg.Integrations {
		names = append(names, name)
	}
	sort.Strings(names)

	s.log.Info().Int("count", len(names)).Msg("Integrations in config")
	deps := integrations.Deps{DB: s.db}
	for _, name := range names {
		if name == conf.SourceFeed && s.cfg.Source != conf.SourceFeed {
			s.log.Debug().Str("integration", name).Msg("source != feed – pomijam watcher")
			continue
		}
		f, ok := integrations.Get(name)
		if !ok {
			// ghl, stripe, trigger są używane wprost przez resync i API, nie jako pętle
			s.log.Debug().Str("integration", name).Msg("bez pętli w tle – pomijam")
			continue
		}
		inst, err := f(s.log.With().Str("integration", name).Logger(), s.cfg.Integrations[name], deps)
		if err != nil {
			s.log.Error().Err(err).Str("integration", name).Msg("błąd inicjalizacji")
			continue
		}
		out = append(out, runningInt{Name: name, Inst: inst})
	}
	s.log.Info().Int("started", len(out)).Msg("Integrations built")
	return out
}

func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	ints := s.ints
	s.ints = nil
	s.cancel = nil
	s.mu.Unlock()

	for _, ri := range ints {
		ri.Inst.Stop()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("Syncer: stop")
}

func (s *Syncer) UpdateConfig(cfg *conf.Config) {
	s.mu.Lock()
	s.cfg = cfg
	isRunning := s.running
	s.mu.Unlock()

	s.log.Info().Msg("Syncer: config zaktualizowany")

	if isRunning {
		// szybki restart integracji, żeby wzięły nową konfigurację
		s.log.Info().Msg("Syncer: restart integracji po zmianie configu")
		s.Stop()
		_ = s.Start(context.Background())
	}
}

func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastReport zwraca raport ostatniego resync (z pętli albo ResyncNow) lub nil.
func (s *Syncer) LastReport() *resync.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// ResyncNow uruchamia jeden resync od razu, niezależnie od pętli.
func (s *Syncer) ResyncNow(ctx context.Context) (*resync.Report, error) {
	return s.resync(ctx, "manual")
}

// UpdateRunner podmienia procedurę resync po przeładowaniu konfiguracji.
// Trwający resync kończy się na starej procedurze.
func (s *Syncer) UpdateRunner(r Runner) {
	s.mu.Lock()
	s.runner = r
	s.mu.Unlock()
}

func (s *Syncer) resync(ctx context.Context, by string) (*resync.Report, error) {
	s.mu.Lock()
	r := s.runner
	s.mu.Unlock()
	if r == nil {
		return nil, errors.New("syncer: resync not configured")
	}
	rep, err := r.Run(ctx, by)
	if rep != nil {
		s.mu.Lock()
		s.last = rep
		s.mu.Unlock()
	}
	return rep, err
}

// interval zwraca odstęp między resyncami; 0 = cykliczny resync wyłączony.
func (s *Syncer) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil && s.cfg.SyncIntervalSeconds > 0 {
		return time.Duration(s.cfg.SyncIntervalSeconds) * s.unit
	}
	return 0
}

func (s *Syncer) loop(ctx context.Context) {
	defer s.wg.Done()

	cur := s.interval()
	period := cur
	if period == 0 {
		period = heartbeatEvery
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.log.Info().Dur("interval", cur).Msg("Syncer: pętla")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Syncer: koniec pętli")
			return
		case <-ticker.C:
			// interwał mógł się zmienić w configu
			if next := s.interval(); next != cur {
				cur = next
				period = cur
				if period == 0 {
					period = heartbeatEvery
				}
				ticker.Reset(period)
			}
			s.tickOnce(ctx, cur > 0)
		}
	}
}

func (s *Syncer) tickOnce(ctx context.Context, doResync bool) {
	s.mu.Lock()
	s.ticks++
	n := s.ticks
	hasRunner := s.runner != nil
	s.mu.Unlock()

	if !doResync || !hasRunner {
		s.log.Debug().Uint64("tick", n).Msg("Syncer: heartbeat")
		return
	}
	rep, err := s.resync(ctx, "schedule")
	switch {
	case errors.Is(err, resync.ErrLeaseHeld):
		s.log.Info().Uint64("tick", n).Msg("Syncer: resync trwa w innym procesie")
	case err != nil:
		s.log.Error().Err(err).Uint64("tick", n).Msg("Syncer: resync nieudany")
	default:
		s.log.Info().Uint64("tick", n).Int("synced", rep.Synced).Int("errors", rep.Errors).Msg("Syncer: resync OK")
	}
}

package resync

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartek5186/saunasync/internal/catalog"
	conf "github.com/bartek5186/saunasync/internal/config"
	"github.com/bartek5186/saunasync/internal/db"
	"github.com/bartek5186/saunasync/internal/integrations/trigger"
	"github.com/bartek5186/saunasync/internal/lease"
	"github.com/bartek5186/saunasync/internal/source"
)

type memStore struct {
	mu       sync.Mutex
	docs     map[string]catalog.Product
	failDel  map[string]bool
	deleted  []string
	patches  map[string]map[string]any
	queryErr error
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{docs: map[string]catalog.Product{}, failDel: map[string]bool{}}
	for _, id := range ids {
		s.docs[id] = catalog.Product{ID: id, Name: "name-" + id}
	}
	return s
}

func (s *memStore) ProductRefs(context.Context) ([]catalog.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var refs []catalog.Ref
	for id, d := range s.docs {
		refs = append(refs, catalog.Ref{ID: id, Name: d.Name})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (s *memStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDel[id] {
		return errors.New("http 500")
	}
	delete(s.docs, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *memStore) CreateProduct(_ context.Context, p catalog.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Name == "broken" {
		return errors.New("http 400")
	}
	s.docs[p.ID] = p
	return nil
}

func (s *memStore) PatchProduct(_ context.Context, id string, set map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patches == nil {
		s.patches = map[string]map[string]any{}
	}
	s.patches[id] = set
	return nil
}

type fakeTrigger struct {
	res   trigger.Result
	err   error
	calls int
}

func (f *fakeTrigger) Trigger(context.Context) (trigger.Result, error) {
	f.calls++
	return f.res, f.err
}

type fakeSource struct{ products []source.Product }

func (f fakeSource) Name() string { return "fake" }
func (f fakeSource) Products(context.Context) ([]source.Product, error) {
	return f.products, nil
}

type recPublisher struct{ got []Report }

func (r *recPublisher) PublishResync(_ context.Context, rep Report) error {
	r.got = append(r.got, rep)
	return nil
}

type fixture struct {
	h      *db.Handle
	locker *lease.GormLocker
	out    *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h, err := db.OpenAt(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, h.Migrate())
	t.Cleanup(func() { _ = h.Close() })
	return &fixture{h: h, locker: lease.NewGormLocker(h.DB), out: &bytes.Buffer{}}
}

func (f *fixture) procedure(t *testing.T, deps Deps, policy string) *Procedure {
	t.Helper()
	deps.Locker = f.locker
	deps.DB = f.h.DB
	p, err := New(zerolog.Nop(), deps, Options{Policy: policy, LeaseName: "catalog", LeaseTTL: time.Minute, Out: f.out})
	require.NoError(t, err)
	return p
}

func TestRun_ReplacesCatalogAndReports(t *testing.T) {
	f := newFixture(t)
	store := newMemStore("A", "B")
	trg := &fakeTrigger{res: trigger.Result{Synced: 2, Errors: 0}}
	pub := &recPublisher{}
	p := f.procedure(t, Deps{Store: store, Trigger: trg, Events: pub}, "")

	rep, err := p.Run(context.Background(), "cli")
	require.NoError(t, err)

	assert.Empty(t, store.docs)
	assert.Equal(t, []string{"A", "B"}, store.deleted)
	assert.Equal(t, "Products synced: 2, Errors: 0\n", f.out.String())
	assert.Equal(t, db.RunCompleted, rep.Status)
	assert.Equal(t, 2, rep.Found)
	assert.Equal(t, 2, rep.Deleted)
	assert.Equal(t, ModeTrigger, rep.Mode)
	assert.Equal(t, 1, trg.calls)
	require.Len(t, pub.got, 1)
	assert.Equal(t, rep.RunID, pub.got[0].RunID)

	runs, err := db.RecentRuns(context.Background(), f.h.DB, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, db.RunCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].Synced)
	assert.NotNil(t, runs[0].FinishedAt)

	// lease zwolniony
	cur, err := f.locker.Current(context.Background(), "catalog")
	require.NoError(t, err)
	assert.Nil(t, cur)

	last, ok, err := db.GetKV(context.Background(), f.h.DB, LastCompletedKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rep.FinishedAt.Format(time.RFC3339), last)
}

func TestRun_AbortOnFirstDeleteFailure(t *testing.T) {
	f := newFixture(t)
	store := newMemStore("A", "B", "C")
	store.failDel["B"] = true
	trg := &fakeTrigger{res: trigger.Result{Synced: 3}}
	p := f.procedure(t, Deps{Store: store, Trigger: trg}, conf.PolicyAbort)

	rep, err := p.Run(context.Background(), "cli")
	require.Error(t, err)
	assert.ErrorContains(t, err, "after 1 of 3 deleted")

	assert.Equal(t, []string{"A"}, store.deleted)
	assert.Contains(t, store.docs, "C", "po błędzie nic więcej nie jest kasowane")
	assert.Zero(t, trg.calls)
	assert.Empty(t, f.out.String())
	assert.Equal(t, db.RunFailed, rep.Status)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 1, rep.DeleteErrors)
	assert.True(t, rep.Failed())
}

func TestRun_ContinuePolicyCountsFailures(t *testing.T) {
	f := newFixture(t)
	store := newMemStore("A", "B", "C")
	store.failDel["B"] = true
	trg := &fakeTrigger{res: trigger.Result{Synced: 3, Errors: 1}}
	p := f.procedure(t, Deps{Store: store, Trigger: trg}, conf.PolicyContinue)

	rep, err := p.Run(context.Background(), "cli")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, store.deleted)
	assert.Equal(t, 2, rep.Deleted)
	assert.Equal(t, 1, rep.DeleteErrors)
	assert.Equal(t, 1, trg.calls)
	assert.Equal(t, "Products synced: 3, Errors: 1\n", f.out.String())
	assert.Equal(t, db.RunCompleted, rep.Status)
}

func TestRun_LeaseHeldNoDeletion(t *testing.T) {
	f := newFixture(t)
	_, err := f.locker.Acquire(context.Background(), "catalog", "someone-else", time.Minute)
	require.NoError(t, err)

	store := newMemStore("A", "B")
	trg := &fakeTrigger{}
	p := f.procedure(t, Deps{Store: store, Trigger: trg}, "")

	rep, err := p.Run(context.Background(), "webhook")
	assert.ErrorIs(t, err, ErrLeaseHeld)
	assert.Equal(t, db.RunSkipped, rep.Status)
	assert.Len(t, store.docs, 2)
	assert.Empty(t, store.deleted)
	assert.Zero(t, trg.calls)
}

func TestRun_TriggerFailure(t *testing.T) {
	f := newFixture(t)
	store := newMemStore("A")
	trg := &fakeTrigger{err: errors.New("http 502")}
	p := f.procedure(t, Deps{Store: store, Trigger: trg}, "")

	rep, err := p.Run(context.Background(), "cli")
	require.Error(t, err)
	assert.Equal(t, db.RunFailed, rep.Status)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 1, trg.calls, "trigger nie jest ponawiany")
	assert.Empty(t, f.out.String())

	// lease zwolniony także po błędzie
	_, err = f.locker.Acquire(context.Background(), "catalog", "next", time.Minute)
	assert.NoError(t, err)
}

func TestRun_QueryFailureDeletesNothing(t *testing.T) {
	f := newFixture(t)
	store := newMemStore("A")
	store.queryErr = errors.New("http 401")
	p := f.procedure(t, Deps{Store: store, Trigger: &fakeTrigger{}}, "")

	_, err := p.Run(context.Background(), "cli")
	assert.ErrorContains(t, err, "query products")
	assert.Len(t, store.docs, 1)
}

func TestRun_BuiltinImport(t *testing.T) {
	f := newFixture(t)
	store := newMemStore("product-old")
	src := fakeSource{products: []source.Product{
		{ExternalID: "g1", Name: "Barrel Sauna", Price: 4999, Available: true},
		{ExternalID: "g2", Name: "Heater"},
		{ExternalID: "", Name: "No id"},
		{ExternalID: "g3", Name: "broken"},
	}}
	p := f.procedure(t, Deps{Store: store, Source: src}, "")

	rep, err := p.Run(context.Background(), "cli")
	require.NoError(t, err)
	assert.Equal(t, ModeBuiltin, rep.Mode)
	assert.Equal(t, 2, rep.Synced)
	assert.Equal(t, 2, rep.Errors)
	assert.Equal(t, "Products synced: 2, Errors: 2\n", f.out.String())

	require.Contains(t, store.docs, "product-g1")
	assert.Equal(t, "barrel-sauna", store.docs["product-g1"].Slug.Current)
	assert.Equal(t, "g1", store.docs["product-g1"].GHLProductID)
	assert.NotContains(t, store.docs, "product-old")
}

func TestRun_EmptyStore(t *testing.T) {
	f := newFixture(t)
	trg := &fakeTrigger{res: trigger.Result{Synced: 0}}
	p := f.procedure(t, Deps{Store: newMemStore(), Trigger: trg}, "")

	rep, err := p.Run(context.Background(), "cli")
	require.NoError(t, err)
	assert.Zero(t, rep.Found)
	assert.Equal(t, 1, trg.calls)
	assert.Equal(t, "Products synced: 0, Errors: 0\n", f.out.String())
}

func TestRun_MarksSnapshotsRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertSnapshots(ctx, f.h.DB, []db.ProductSnapshot{
		{DocumentID: "A", Name: "a", SeenAt: time.Now().UTC()},
		{DocumentID: "B", Name: "b", SeenAt: time.Now().UTC()},
	}))
	store := newMemStore("A", "B")
	store.failDel["B"] = true
	p := f.procedure(t, Deps{Store: store, Trigger: &fakeTrigger{}}, conf.PolicyContinue)

	_, err := p.Run(ctx, "cli")
	require.NoError(t, err)

	live, err := db.LiveSnapshots(ctx, f.h.DB)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "B", live[0].DocumentID)
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := New(zerolog.Nop(), Deps{Store: newMemStore(), Locker: f.locker}, Options{})
	assert.ErrorIs(t, err, ErrNoImport)

	_, err = New(zerolog.Nop(), Deps{Store: newMemStore(), Locker: f.locker, Trigger: &fakeTrigger{}}, Options{Policy: "retry"})
	assert.Error(t, err)

	_, err = New(zerolog.Nop(), Deps{Locker: f.locker, Trigger: &fakeTrigger{}}, Options{})
	assert.Error(t, err)
}

func TestReport_Summary(t *testing.T) {
	assert.Equal(t, "Products synced: 12, Errors: 3", Report{Synced: 12, Errors: 3}.Summary())
}

// lostLocker: lease przyznany, ale każde odświeżenie mówi, że już go nie mamy.
type lostLocker struct {
	*lease.GormLocker
}

func (lostLocker) Renew(context.Context, *lease.Lease, time.Duration) error {
	return lease.ErrNotHeld
}

// stuckStore wisi na kasowaniu do anulowania kontekstu.
type stuckStore struct {
	*memStore
	attempts atomic.Int32
}

func (s *stuckStore) DeleteDocument(ctx context.Context, _ string) error {
	s.attempts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestRun_LeaseLostStopsDeletion(t *testing.T) {
	f := newFixture(t)
	store := &stuckStore{memStore: newMemStore("A", "B")}
	trg := &fakeTrigger{}
	p, err := New(zerolog.Nop(), Deps{
		Store: store, Trigger: trg, Locker: lostLocker{f.locker}, DB: f.h.DB,
	}, Options{LeaseName: "catalog", LeaseTTL: 40 * time.Millisecond, Out: f.out})
	require.NoError(t, err)

	done := make(chan struct{})
	var (
		rep    *Report
		runErr error
	)
	go func() {
		rep, runErr = p.Run(context.Background(), "cli")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("resync not cancelled after lease loss")
	}

	assert.ErrorIs(t, runErr, ErrLeaseLost)
	require.NotNil(t, rep)
	assert.Equal(t, db.RunFailed, rep.Status)
	assert.Zero(t, rep.Deleted)
	assert.Equal(t, int32(1), store.attempts.Load(), "po utracie lease nic więcej nie jest kasowane")
	assert.Zero(t, trg.calls)
	assert.Empty(t, f.out.String())
	assert.Len(t, store.docs, 2)
}

func TestRun_ReleasesOnlyAfterKeepAliveStopped(t *testing.T) {
	f := newFixture(t)
	rl := &recordingLocker{GormLocker: f.locker}
	p, err := New(zerolog.Nop(), Deps{
		Store: newMemStore("A"), Trigger: &fakeTrigger{}, Locker: rl, DB: f.h.DB,
	}, Options{LeaseName: "catalog", LeaseTTL: 4 * time.Millisecond, Out: f.out})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := p.Run(context.Background(), "cli")
		require.NoError(t, err)
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Zero(t, rl.renewAfterRelease)
}

// recordingLocker liczy odświeżenia wykonane po zwolnieniu lease.
type recordingLocker struct {
	*lease.GormLocker
	mu                sync.Mutex
	released          bool
	renewAfterRelease int
}

func (r *recordingLocker) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (*lease.Lease, error) {
	r.mu.Lock()
	r.released = false
	r.mu.Unlock()
	return r.GormLocker.Acquire(ctx, name, holder, ttl)
}

func (r *recordingLocker) Renew(ctx context.Context, l *lease.Lease, ttl time.Duration) error {
	r.mu.Lock()
	if r.released {
		r.renewAfterRelease++
	}
	r.mu.Unlock()
	return r.GormLocker.Renew(ctx, l, ttl)
}

func (r *recordingLocker) Release(ctx context.Context, l *lease.Lease) error {
	r.mu.Lock()
	r.released = true
	r.mu.Unlock()
	return r.GormLocker.Release(ctx, l)
}

func TestRun_BuiltinImportDetectsIDCollision(t *testing.T) {
	f := newFixture(t)
	store := newMemStore()
	src := fakeSource{products: []source.Product{
		{ExternalID: "a/b", Name: "Cube Sauna"},
		{ExternalID: "a b", Name: "Barrel Sauna"},
	}}
	p := f.procedure(t, Deps{Store: store, Source: src}, "")

	rep, err := p.Run(context.Background(), "cli")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Synced)
	assert.Equal(t, 1, rep.Errors)
	require.Contains(t, store.docs, "product-a-b")
	assert.Equal(t, "a/b", store.docs["product-a-b"].GHLProductID, "pierwszy produkt nie jest nadpisany")
}

type fakePrices struct {
	fail map[string]bool
	got  []string
}

func (f *fakePrices) SyncPrices(_ context.Context, p catalog.Product) (string, []catalog.Price, error) {
	f.got = append(f.got, p.GHLProductID)
	if f.fail[p.GHLProductID] {
		return "", nil, errors.New("stripe 500")
	}
	return "ghl_" + p.GHLProductID, []catalog.Price{{ID: "price_" + p.GHLProductID}}, nil
}

func TestRun_BuiltinImportSyncsPrices(t *testing.T) {
	f := newFixture(t)
	store := newMemStore()
	prices := &fakePrices{fail: map[string]bool{"g2": true}}
	src := fakeSource{products: []source.Product{
		{ExternalID: "g1", Name: "Barrel Sauna", Price: 4999},
		{ExternalID: "g2", Name: "Heater", Price: 899},
		{ExternalID: "g3", Name: "broken"},
	}}
	p := f.procedure(t, Deps{Store: store, Source: src, Prices: prices}, "")

	rep, err := p.Run(context.Background(), "cli")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, prices.got, "ceny tylko dla utworzonych dokumentów")
	assert.Equal(t, 1, rep.PricesCreated)
	assert.Equal(t, 1, rep.PriceErrors)
	assert.Equal(t, 2, rep.Synced)
	assert.Equal(t, 1, rep.Errors, "błędy cen nie wchodzą do podsumowania")
	assert.Equal(t, map[string]any{"stripeProductId": "ghl_g1"}, store.patches["product-g1"])
	assert.NotContains(t, store.patches, "product-g2")
}

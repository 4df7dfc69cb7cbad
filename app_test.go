package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conf "github.com/bartek5186/saunasync/internal/config"
	"github.com/bartek5186/saunasync/internal/db"
	"github.com/bartek5186/saunasync/internal/permissions"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"SYNC_TRIGGER_URL", "GHL_API_KEY", "GHL_LOCATION_ID", "STRIPE_SECRET_KEY",
		"HTTP_ADDR", "DATABASE_URL", "PERMISSIONS_DATABASE_URL", "REDIS_URL", "NATS_URL"} {
		t.Setenv(k, "")
	}
}

func jsonServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func editConfig(t *testing.T, app *App, fn func(*conf.Config)) {
	cfg, _, err := conf.LoadOrCreate(app.cfgPath)
	require.NoError(t, err)
	fn(cfg)
	require.NoError(t, conf.Save(app.cfgPath, cfg))
}

func TestNewApp_DefaultConfigHasNoImport(t *testing.T) {
	clearEnv(t)
	app, err := newApp(context.Background(), appOptions{dir: t.TempDir(), out: io.Discard})
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.proc)
	assert.Nil(t, app.server)
	require.NotNil(t, app.syncer)
	_, err = app.syncer.ResyncNow(context.Background())
	assert.Error(t, err)
}

func TestNewApp_WiresTriggerAndServer(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNC_TRIGGER_URL", "http://127.0.0.1:1/reimport")
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, err := newApp(ctx, appOptions{dir: t.TempDir(), out: io.Discard})
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.proc)
	require.NotNil(t, app.server)
	app.runServer(ctx)
	old := app.server

	assert.NoError(t, app.reload(ctx))
	assert.NotSame(t, old, app.server)
	assert.NotNil(t, app.srvDone)
}

func TestReload_RebuildsResyncFromNewConfig(t *testing.T) {
	clearEnv(t)
	ctx := context.Background()
	store := jsonServer(t, `{"result":[]}`, nil)
	var reimports atomic.Int32
	trg := jsonServer(t, `{"synced":0,"errors":0}`, &reimports)

	app, err := newApp(ctx, appOptions{dir: t.TempDir(), out: io.Discard})
	require.NoError(t, err)
	defer app.Close()
	require.Nil(t, app.proc)

	editConfig(t, app, func(cfg *conf.Config) {
		cfg.DeletePolicy = conf.PolicyContinue
		cfg.HTTP.Addr = "127.0.0.1:0"
		cfg.Integrations["sanity"] = json.RawMessage(fmt.Sprintf(`{"project_id":"test","base_url":%q}`, store.URL))
		cfg.Integrations["trigger"] = json.RawMessage(fmt.Sprintf(`{"url":%q}`, trg.URL))
	})
	require.NoError(t, app.reload(ctx))

	require.NotNil(t, app.proc)
	assert.NotNil(t, app.server)
	assert.Equal(t, conf.PolicyContinue, app.cfg.DeletePolicy)

	rep, err := app.syncer.ResyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, db.RunCompleted, rep.Status)
	assert.EqualValues(t, 1, reimports.Load())

	// trigger usunięty: resync znów wyłączony
	editConfig(t, app, func(cfg *conf.Config) { delete(cfg.Integrations, "trigger") })
	require.NoError(t, app.reload(ctx))
	assert.Nil(t, app.proc)
	_, err = app.syncer.ResyncNow(ctx)
	assert.Error(t, err)
}

func TestReload_RefusesDatabaseChange(t *testing.T) {
	clearEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	app, err := newApp(ctx, appOptions{dir: dir, out: io.Discard})
	require.NoError(t, err)
	defer app.Close()

	editConfig(t, app, func(cfg *conf.Config) {
		cfg.Database.DSN = filepath.Join(dir, "other.db")
		cfg.DeletePolicy = conf.PolicyContinue
	})
	assert.Error(t, app.reload(ctx))
	assert.Empty(t, app.cfg.Database.DSN)
	assert.Equal(t, conf.PolicyAbort, app.cfg.DeletePolicy)
}

func TestGrant_UpdatesActiveStore(t *testing.T) {
	clearEnv(t)
	ctx := context.Background()
	app, err := newApp(ctx, appOptions{dir: t.TempDir(), out: io.Discard})
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.grant(ctx, permissions.Permission{UserID: "u1", Role: "viewer", CanEditContent: true}))
	p, err := app.permCache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())

	require.NoError(t, app.grant(ctx, permissions.Permission{UserID: "u1", Role: "viewer"}))
	p, err = app.permCache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, p.IsAdmin())
}

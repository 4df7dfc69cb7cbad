package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartek5186/saunasync/internal/resync"
)

func TestPublisher_NoURLIsNoop(t *testing.T) {
	p, err := NewPublisher(zerolog.Nop(), "", "")
	require.NoError(t, err)
	assert.NoError(t, p.PublishResync(context.Background(), resync.Report{RunID: "r1"}))
	p.Close()

	var nilPub *Publisher
	assert.NoError(t, nilPub.PublishResync(context.Background(), resync.Report{}))
}

func TestNewEvent(t *testing.T) {
	fin := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	ev := NewEvent(resync.Report{RunID: "r1", Status: "completed", TriggeredBy: "webhook", Deleted: 2, Synced: 2, FinishedAt: fin})

	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"eventType":"catalog.resynced","timestamp":"2026-10-01T12:00:00Z","runId":"r1","status":"completed",
		"triggeredBy":"webhook","deleted":2,"deleteErrors":0,"synced":2,"errors":0,"issues":0}`, string(b))
}

func TestPublisher_NATS(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()
	ch := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe("test.catalog.resynced", ch)
	require.NoError(t, err)
	defer func() { _ = s.Unsubscribe() }()
	require.NoError(t, sub.Flush())

	p, err := NewPublisher(zerolog.Nop(), url, "test.catalog.resynced")
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.PublishResync(context.Background(), resync.Report{RunID: "r9", Synced: 1}))

	select {
	case m := <-ch:
		var ev CatalogEvent
		require.NoError(t, json.Unmarshal(m.Data, &ev))
		assert.Equal(t, "r9", ev.RunID)
	case <-time.After(3 * time.Second):
		t.Fatal("no message")
	}
}

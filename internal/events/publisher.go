// Package events publikuje zdarzenia katalogu na NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/bartek5186/saunasync/internal/resync"
)

const DefaultSubject = "catalog.resynced"

// CatalogEvent to treść zdarzenia po resync.
type CatalogEvent struct {
	EventType    string    `json:"eventType"`
	Timestamp    time.Time `json:"timestamp"`
	RunID        string    `json:"runId"`
	Status       string    `json:"status"`
	TriggeredBy  string    `json:"triggeredBy"`
	Deleted      int       `json:"deleted"`
	DeleteErrors int       `json:"deleteErrors"`
	Synced       int       `json:"synced"`
	Errors       int       `json:"errors"`
	Issues       int       `json:"issues"`
}

// Publisher bez URL jest no-opem.
type Publisher struct {
	log     zerolog.Logger
	nc      *nats.Conn
	subject string
}

var _ resync.Publisher = (*Publisher)(nil)

func NewPublisher(log zerolog.Logger, url, subject string) (*Publisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	p := &Publisher{log: log, subject: subject}
	if url == "" {
		return p, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("saunasync"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats: reconnected")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats: disconnected")
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("nats: error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p.nc = nc
	return p, nil
}

func NewEvent(r resync.Report) CatalogEvent {
	return CatalogEvent{
		EventType:    DefaultSubject,
		Timestamp:    r.FinishedAt,
		RunID:        r.RunID,
		Status:       r.Status,
		TriggeredBy:  r.TriggeredBy,
		Deleted:      r.Deleted,
		DeleteErrors: r.DeleteErrors,
		Synced:       r.Synced,
		Errors:       r.Errors,
		Issues:       r.Issues,
	}
}

func (p *Publisher) PublishResync(ctx context.Context, r resync.Report) error {
	if p == nil || p.nc == nil {
		return nil
	}
	data, err := json.Marshal(NewEvent(r))
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", p.subject, err)
	}
	return p.nc.FlushWithContext(ctx)
}

func (p *Publisher) Close() {
	if p != nil && p.nc != nil {
		p.nc.Close()
	}
}

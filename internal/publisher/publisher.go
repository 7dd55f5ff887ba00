// Package publisher fans view-update notifications out over NATS so other
// processes (UIs, bots) can react to fresh projections without polling the
// query API. Notifications are ephemeral hints, not data: a consumer that
// misses one just reads the current view.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"MarginView/internal/observability"
)

// SubjectPrefix is the root of the notification subject space. Full
// subjects are marginview.views.{kind}.{key}.
const SubjectPrefix = "marginview.views"

// Update is the wire payload of one notification.
type Update struct {
	EventID    uuid.UUID `json:"event_id"`
	Kind       string    `json:"kind"`
	Key        string    `json:"key"`
	Generation uuid.UUID `json:"generation"`
	AsOf       time.Time `json:"as_of"`
}

// Publisher drains a channel of updates into NATS. It implements
// view.Notifier through a non-blocking enqueue; a full channel drops the
// hint rather than slowing a refresh down.
type Publisher struct {
	nc      *nats.Conn
	updates chan Update
	log     zerolog.Logger
	metrics *observability.Metrics
	done    chan struct{}
}

// Connect dials NATS with endless reconnects and returns a running
// publisher. Close flushes and tears the connection down.
func Connect(url string, log zerolog.Logger, metrics *observability.Metrics) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	p := &Publisher{
		nc:      nc,
		updates: make(chan Update, 256),
		log:     log,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// ViewUpdated enqueues a notification. Never blocks.
func (p *Publisher) ViewUpdated(kind, key string, generation uuid.UUID, asOf time.Time) {
	u := Update{
		EventID:    uuid.New(),
		Kind:       kind,
		Key:        key,
		Generation: generation,
		AsOf:       asOf,
	}
	select {
	case p.updates <- u:
	default:
		p.count("dropped")
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for u := range p.updates {
		if err := p.publish(u); err != nil {
			// Non-fatal: consumers can read the view directly.
			p.log.Warn().Err(err).Str("kind", u.Kind).Str("key", u.Key).Msg("view update not published")
			p.count("error")
			continue
		}
		p.count("ok")
	}
}

func (p *Publisher) publish(u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	return p.nc.Publish(fmt.Sprintf("%s.%s.%s", SubjectPrefix, u.Kind, u.Key), data)
}

func (p *Publisher) count(outcome string) {
	if p.metrics != nil {
		p.metrics.PublishTotal.WithLabelValues(outcome).Inc()
	}
}

// Close drains pending updates, flushes, and closes the connection.
func (p *Publisher) Close(ctx context.Context) error {
	close(p.updates)
	select {
	case <-p.done:
	case <-ctx.Done():
	}
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		p.nc.Close()
		return err
	}
	p.nc.Close()
	return nil
}

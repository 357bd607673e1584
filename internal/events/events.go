// Package events broadcasts watched-state changes between instances over NATS.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"watchsync/models"
)

// DefaultSubject carries watched-state changes.
const DefaultSubject = "watchsync.watched"

// Connect dials the NATS server at url.
func Connect(url, name string, log *zap.SugaredLogger) (*nats.Conn, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(false),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnw("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infow("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

type msgPublisher interface {
	Publish(subject string, data []byte) error
}

// Publisher sends WatchedChange events. A nil *Publisher is a no-op.
type Publisher struct {
	conn    msgPublisher
	subject string
	origin  string
	log     *zap.SugaredLogger
	now     func() time.Time
}

// NewPublisher creates a publisher tagging every event with origin.
func NewPublisher(nc *nats.Conn, subject, origin string, log *zap.SugaredLogger) *Publisher {
	if nc == nil {
		return newPublisher(nil, subject, origin, log)
	}
	return newPublisher(nc, subject, origin, log)
}

func newPublisher(conn msgPublisher, subject, origin string, log *zap.SugaredLogger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Publisher{conn: conn, subject: subject, origin: origin, log: log, now: time.Now}
}

// PublishWatched announces that fact was marked watched or unwatched.
// Failures are logged and never surface to the caller.
func (p *Publisher) PublishWatched(fact models.WatchedFact, watched bool) {
	if p == nil || p.conn == nil {
		return
	}
	change := models.WatchedChange{
		EventID:    uuid.NewString(),
		Origin:     p.origin,
		Fact:       fact,
		Watched:    watched,
		OccurredAt: p.now().UTC(),
	}
	data, err := json.Marshal(change)
	if err != nil {
		p.log.Warnw("marshal watched change failed", "error", err)
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.log.Warnw("publish watched change failed", "subject", p.subject, "error", err)
	}
}

// Applier receives changes made by other instances.
type Applier interface {
	Remember(fact models.WatchedFact)
	Forget(fact models.WatchedFact)
}

// Subscribe applies every change on subject not published by origin.
func Subscribe(nc *nats.Conn, subject, origin string, target Applier, log *zap.SugaredLogger) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		handle(m.Data, origin, target, log)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func handle(data []byte, origin string, target Applier, log *zap.SugaredLogger) {
	var change models.WatchedChange
	if err := json.Unmarshal(data, &change); err != nil {
		log.Warnw("discarding malformed watched change", "error", err)
		return
	}
	if change.Origin == origin {
		return
	}
	if err := change.Fact.Validate(); err != nil {
		log.Warnw("discarding watched change", "event", change.EventID, "error", err)
		return
	}
	if change.Watched {
		target.Remember(change.Fact)
	} else {
		target.Forget(change.Fact)
	}
	log.Debugw("applied remote watched change", "event", change.EventID, "origin", change.Origin, "watched", change.Watched)
}

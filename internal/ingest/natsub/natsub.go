// Package natsub feeds alerts published on a NATS subject into the ingest
// service. Subscribers share a queue group so each message is queued once
// across replicas.
package natsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sift/internal/ingest"
)

const (
	// DefaultSubject is subscribed to when none is configured.
	DefaultSubject = "sift.alerts"

	// DefaultQueueGroup is the queue group shared by replicas.
	DefaultQueueGroup = "sift"

	source = "nats"
)

// Ingestor accepts raw alerts.
type Ingestor interface {
	Submit(ctx context.Context, source string, payload []byte) (*ingest.Result, error)
}

// Config configures a Subscriber.
type Config struct {
	URL        string
	Subject    string
	QueueGroup string
}

// Subscriber owns a NATS connection and one queue subscription.
type Subscriber struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	ingest  Ingestor
	logger  log.Logger
	ctx     context.Context
	respond func(msg *nats.Msg, data []byte) error
}

// Connect dials cfg.URL and subscribes. Messages are submitted with ctx's
// values but not its cancellation, so messages drained by Close after
// shutdown begins are still queued.
func Connect(ctx context.Context, cfg Config, in Ingestor, logger log.Logger) (*Subscriber, error) {
	if in == nil {
		panic(xerrors.New("ingestor is required"))
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = DefaultQueueGroup
	}

	s := newSubscriber(ctx, in, logger)
	l := s.logger

	nc, err := nats.Connect(cfg.URL,
		nats.Name("sift"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn(ctx, "nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l.Info(ctx, "nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	sub, err := nc.QueueSubscribe(cfg.Subject, cfg.QueueGroup, s.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Subject, err)
	}

	s.conn = nc
	s.sub = sub
	l.Info(ctx, "nats subscription started", "subject", cfg.Subject, "queue_group", cfg.QueueGroup)
	return s, nil
}

func newSubscriber(ctx context.Context, in Ingestor, logger log.Logger) *Subscriber {
	if logger == nil {
		logger = log.Nop()
	}
	return &Subscriber{
		ingest:  in,
		logger:  logger.With("component", "natsub"),
		ctx:     context.WithoutCancel(ctx),
		respond: func(msg *nats.Msg, data []byte) error { return msg.Respond(data) },
	}
}

func (s *Subscriber) handle(msg *nats.Msg) {
	res, err := s.ingest.Submit(s.ctx, source, msg.Data)
	if msg.Reply == "" {
		return
	}

	_, reply := ingest.ReplyFor(res, err)
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error(s.ctx, err, "failed to encode reply")
		return
	}
	if err := s.respond(msg, data); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.logger.Warn(s.ctx, "failed to reply", "subject", msg.Subject, "err", err)
	}
}

// Close drains the subscription so in-flight messages finish, then closes
// the connection.
func (s *Subscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.conn.Close()
			return fmt.Errorf("drain subscription: %w", err)
		}
	}
	if s.conn != nil {
		if err := s.conn.Drain(); err != nil {
			s.conn.Close()
			return fmt.Errorf("drain connection: %w", err)
		}
	}
	return nil
}

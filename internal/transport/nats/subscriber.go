// Package nats applies book upserts and deletions published on a NATS bus.
//
// Subjects carry JSON payloads:
//
//	books.upserted  {"id": 1, "text": "..."}
//	books.deleted   {"id": 1}
//
// Subscriptions join a queue group so several replicas share the stream.
// When a message carries a reply subject the outcome is sent back.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/domain"
	logpkg "github.com/kailas-cloud/bookrec/internal/logger"
	"github.com/kailas-cloud/bookrec/internal/metrics"
)

// Defaults for Config.
const (
	DefaultQueue         = "bookrec"
	DefaultUpsertSubject = "books.upserted"
	DefaultDeleteSubject = "books.deleted"
	defaultTimeout       = 30 * time.Second
)

// Books is the part of the recommender driven by events.
type Books interface {
	Insert(ctx context.Context, id domain.BookID, text string) ([]string, error)
	Delete(ctx context.Context, id domain.BookID) error
}

// Config configures the subscriber.
type Config struct {
	URL            string
	Name           string
	Queue          string
	UpsertSubject  string
	DeleteSubject  string
	HandlerTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "bookrec"
	}
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.UpsertSubject == "" {
		c.UpsertSubject = DefaultUpsertSubject
	}
	if c.DeleteSubject == "" {
		c.DeleteSubject = DefaultDeleteSubject
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = defaultTimeout
	}
}

// Subscriber consumes book events.
type Subscriber struct {
	nc     *nats.Conn
	subs   []*nats.Subscription
	books  Books
	cfg    Config
	logger *zap.Logger
}

type upsertEvent struct {
	ID   *domain.BookID `json:"id"`
	Text *string        `json:"text"`
}

type deleteEvent struct {
	ID *domain.BookID `json:"id"`
}

// Reply is sent back to requesters.
type Reply struct {
	OK         bool     `json:"ok"`
	Keyphrases []string `json:"keyphrases,omitempty"`
	Error      string   `json:"error,omitempty"`
}

var errMalformed = errors.New("malformed event")

// Connect dials the bus. Call Start to begin consuming.
func Connect(cfg Config, books Books, logger *zap.Logger) (*Subscriber, error) {
	cfg.applyDefaults()
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Subscriber{nc: nc, books: books, cfg: cfg, logger: logger}, nil
}

// Start subscribes to the upsert and delete subjects.
func (s *Subscriber) Start() error {
	handlers := map[string]nats.MsgHandler{
		s.cfg.UpsertSubject: s.handleUpsert,
		s.cfg.DeleteSubject: s.handleDelete,
	}
	for subject, h := range handlers {
		sub, err := s.nc.QueueSubscribe(subject, s.cfg.Queue, h)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.nc.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	s.logger.Info("book events subscribed",
		zap.String("upsert", s.cfg.UpsertSubject),
		zap.String("delete", s.cfg.DeleteSubject),
		zap.String("queue", s.cfg.Queue),
	)
	return nil
}

// HealthCheck fails while the connection is down.
func (s *Subscriber) HealthCheck(context.Context) error {
	if !s.nc.IsConnected() {
		return fmt.Errorf("nats connection %s", s.nc.Status())
	}
	return nil
}

// Close drains subscriptions and closes the connection.
func (s *Subscriber) Close() error {
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

func (s *Subscriber) handleUpsert(msg *nats.Msg) {
	var ev upsertEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.ID == nil || ev.Text == nil {
		s.finish(msg, nil, fmt.Errorf("%w: want {\"id\",\"text\"}", errMalformed))
		return
	}
	ctx, cancel := s.eventContext(msg)
	defer cancel()

	phrases, err := s.books.Insert(ctx, *ev.ID, *ev.Text)
	s.finish(msg, phrases, err, zap.Stringer("book_id", *ev.ID))
}

func (s *Subscriber) handleDelete(msg *nats.Msg) {
	var ev deleteEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.ID == nil {
		s.finish(msg, nil, fmt.Errorf("%w: want {\"id\"}", errMalformed))
		return
	}
	ctx, cancel := s.eventContext(msg)
	defer cancel()

	err := s.books.Delete(ctx, *ev.ID)
	s.finish(msg, nil, err, zap.Stringer("book_id", *ev.ID))
}

// eventContext bounds handler work and carries a logger tagged with the subject.
func (s *Subscriber) eventContext(msg *nats.Msg) (context.Context, context.CancelFunc) {
	ctx := logpkg.ContextWithLogger(context.Background(), s.logger.With(zap.String("subject", msg.Subject)))
	return context.WithTimeout(ctx, s.cfg.HandlerTimeout)
}

// finish records the outcome and answers requesters.
func (s *Subscriber) finish(msg *nats.Msg, phrases []string, err error, fields ...zap.Field) {
	result := "ok"
	reply := Reply{OK: true, Keyphrases: phrases}
	if err != nil {
		result = "failed"
		if errors.Is(err, errMalformed) {
			result = "malformed"
		}
		reply = Reply{Error: err.Error()}
		s.logger.Warn("book event rejected",
			append(fields, zap.String("subject", msg.Subject), zap.String("result", result), zap.Error(err))...)
	}
	metrics.BookEventsTotal.WithLabelValues(msg.Subject, result).Inc()

	if msg.Reply == "" {
		return
	}
	data, mErr := json.Marshal(reply)
	if mErr != nil {
		s.logger.Error("marshal reply", zap.Error(mErr))
		return
	}
	if rErr := msg.Respond(data); rErr != nil {
		s.logger.Warn("respond to book event", zap.Error(rErr))
	}
}

// Package stream publishes engagement events for downstream consumers (analytics,
// search indexing). Publishing is best-effort and never blocks a primary action.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"campuspulse/internal/observability"

	"github.com/segmentio/kafka-go"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Engagement kinds.
const (
	KindLike      = "like"
	KindUnlike    = "unlike"
	KindComment   = "comment"
	KindUncomment = "uncomment"
	KindShare     = "share"
)

// EngagementEvent describes one engagement mutation and the score it produced.
type EngagementEvent struct {
	Kind          string    `json:"kind"`
	PostID        uint      `json:"post_id"`
	UserID        uint      `json:"user_id"`
	Category      string    `json:"category"`
	LikesCount    int64     `json:"likes_count"`
	CommentsCount int64     `json:"comments_count"`
	SharesCount   int64     `json:"shares_count"`
	TrendingScore float64   `json:"trending_score"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher sends engagement events.
type Publisher interface {
	Publish(ctx context.Context, ev EngagementEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, EngagementEvent) error { return nil }
func (NopPublisher) Close() error                                   { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by post id, so one post's events stay ordered
// within a partition. A circuit breaker stops hammering an unreachable cluster.
type KafkaPublisher struct {
	writer messageWriter
	cb     *gobreaker.CircuitBreaker[struct{}]
	logger *slog.Logger
}

// BreakerConfig tunes the publisher circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	return c
}

// NewKafkaPublisher creates a synchronous writer for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, cfg BreakerConfig, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
	return newKafkaPublisher(w, cfg, logger)
}

func newKafkaPublisher(w messageWriter, cfg BreakerConfig, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	p := &KafkaPublisher{writer: w, logger: logger}
	p.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "engagement-stream",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return p
}

// Publish writes ev. Failures and breaker rejections are counted and returned.
func (p *KafkaPublisher) Publish(ctx context.Context, ev EngagementEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(ev.PostID), 10)),
		Value: value,
		Time:  ev.OccurredAt,
	}

	_, err = p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.writer.WriteMessages(ctx, msg)
	})
	switch {
	case err == nil:
		observability.EventStreamPublishes.WithLabelValues("ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		observability.EventStreamPublishes.WithLabelValues("rejected").Inc()
	default:
		observability.EventStreamPublishes.WithLabelValues("failed").Inc()
	}
	return err
}

// State returns the breaker state.
func (p *KafkaPublisher) State() gobreaker.State {
	return p.cb.State()
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

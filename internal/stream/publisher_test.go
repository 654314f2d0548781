package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	calls  int
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, BreakerConfig{}, nil)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), EngagementEvent{
		Kind: KindLike, PostID: 42, UserID: 7, Category: "sports", LikesCount: 3, TrendingScore: 2.5, OccurredAt: at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "42", string(w.msgs[0].Key))
	assert.Equal(t, at, w.msgs[0].Time)

	var decoded EngagementEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, KindLike, decoded.Kind)
	assert.Equal(t, int64(3), decoded.LikesCount)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_BreakerOpensAfterFailures(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	p := newKafkaPublisher(w, BreakerConfig{MaxFailures: 3, OpenTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.EqualError(t, p.Publish(ctx, EngagementEvent{PostID: 1}), "broker unreachable")
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	err := p.Publish(ctx, EngagementEvent{PostID: 1})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, w.calls, "open breaker must not reach the writer")
}

func TestKafkaPublisher_RecoversAfterTimeout(t *testing.T) {
	w := &fakeWriter{err: errors.New("down")}
	p := newKafkaPublisher(w, BreakerConfig{MaxFailures: 1, OpenTimeout: 20 * time.Millisecond}, nil)
	ctx := context.Background()

	require.Error(t, p.Publish(ctx, EngagementEvent{PostID: 1}))
	assert.Equal(t, gobreaker.StateOpen, p.State())

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, p.Publish(ctx, EngagementEvent{PostID: 1}))
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), EngagementEvent{}))
	assert.NoError(t, p.Close())
}

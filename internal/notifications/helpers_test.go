package notifications

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func newTestClient(userID uint) *Client {
	return NewClient(nil, nil, userID, "user")
}

func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case b := <-c.Send:
		var ev Event
		require.NoError(t, json.Unmarshal(b, &ev))
		return ev
	case <-time.After(testEventuallyTimeout):
		t.Fatalf("client %d received nothing", c.UserID)
	}
	return Event{}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b := <-c.Send:
		t.Fatalf("client %d unexpectedly received %s", c.UserID, b)
	case <-time.After(50 * time.Millisecond):
	}
}

type presenceWrite struct {
	userID uint
	online bool
	at     time.Time
}

type fakeDirectory struct {
	mu     sync.Mutex
	writes []presenceWrite
	err    error
}

func (d *fakeDirectory) SetPresence(_ context.Context, userID uint, online bool, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, presenceWrite{userID, online, at})
	return d.err
}

func (d *fakeDirectory) snapshot() []presenceWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]presenceWrite(nil), d.writes...)
}

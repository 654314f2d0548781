package trending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestScore_FreshPost(t *testing.T) {
	// 2 likes, 1 comment, 1 share => 2 + 2 + 3
	assert.InDelta(t, 7.0, Score(2, 1, 1, now, now), 1e-9)
}

func TestScore_LinearDecay(t *testing.T) {
	created := now.Add(-84 * time.Hour)
	assert.InDelta(t, 0.5, RecencyWeight(created, now), 1e-9)
	assert.InDelta(t, 5.0, Score(10, 0, 0, created, now), 1e-9)
}

func TestRecencyWeight_ClampsAtFloor(t *testing.T) {
	created := now.Add(-200 * time.Hour)
	w := RecencyWeight(created, now)
	assert.Equal(t, MinRecencyScale, w)
	assert.Greater(t, w, 0.0)

	assert.Equal(t, 0.0, Score(0, 0, 0, created, now))
	assert.InDelta(t, 0.3, Score(0, 0, 1, created, now), 1e-9)
}

func TestScore_MonotoneInAge(t *testing.T) {
	created := now
	prev := Score(5, 3, 2, created, now)
	for h := 1; h <= 400; h++ {
		s := Score(5, 3, 2, created, now.Add(time.Duration(h)*time.Hour))
		require.LessOrEqual(t, s, prev, "hour %d", h)
		require.GreaterOrEqual(t, s, RawEngagement(5, 3, 2)*MinRecencyScale)
		prev = s
	}
}

func TestRecencyWeight_FutureCreation(t *testing.T) {
	assert.Equal(t, 1.0, RecencyWeight(now.Add(time.Hour), now))
}

func TestAggregateScore(t *testing.T) {
	// 4 likes + 2*3 comments + 3*1 share + 0.5*2 posts
	assert.InDelta(t, 14.0, AggregateScore(4, 3, 1, 2), 1e-9)
}

func TestTimeframe(t *testing.T) {
	tf, ok := ParseTimeframe("")
	assert.True(t, ok)
	assert.Equal(t, TimeframeAll, tf)
	assert.Nil(t, tf.Since(now))

	tf, ok = ParseTimeframe(" Week ")
	assert.True(t, ok)
	require.NotNil(t, tf.Since(now))
	assert.Equal(t, now.Add(-7*24*time.Hour), *tf.Since(now))

	_, ok = ParseTimeframe("year")
	assert.False(t, ok)
}

// Package trending holds the engagement score math shared by the post store and the ranked reads.
package trending

import (
	"math"
	"strings"
	"time"
)

// Engagement weights and the decay window.
const (
	LikeWeight    = 1.0
	CommentWeight = 2.0
	ShareWeight   = 3.0
	BreadthWeight = 0.5

	DecayWindow     = 168 * time.Hour
	MinRecencyScale = 0.1
)

// RecencyWeight decays linearly from 1 to MinRecencyScale over DecayWindow.
// Posts dated in the future count as brand new.
func RecencyWeight(createdAt, now time.Time) float64 {
	ageHours := now.Sub(createdAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Max(MinRecencyScale, 1-ageHours/DecayWindow.Hours())
}

// RawEngagement is the weighted engagement sum without decay.
func RawEngagement(likes, comments, shares int64) float64 {
	return float64(likes)*LikeWeight + float64(comments)*CommentWeight + float64(shares)*ShareWeight
}

// Score is the decayed trending score of a single item.
func Score(likes, comments, shares int64, createdAt, now time.Time) float64 {
	return RawEngagement(likes, comments, shares) * RecencyWeight(createdAt, now)
}

// AggregateScore ranks a group of items from its summed counts, rewarding breadth.
func AggregateScore(likes, comments, shares, count int64) float64 {
	return RawEngagement(likes, comments, shares) + float64(count)*BreadthWeight
}

// Timeframe restricts ranked reads to recently created items.
type Timeframe string

const (
	TimeframeDay   Timeframe = "day"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
	TimeframeAll   Timeframe = "all"
)

// ParseTimeframe accepts day, week, month and all; empty means all.
func ParseTimeframe(s string) (Timeframe, bool) {
	switch tf := Timeframe(strings.ToLower(strings.TrimSpace(s))); tf {
	case "":
		return TimeframeAll, true
	case TimeframeDay, TimeframeWeek, TimeframeMonth, TimeframeAll:
		return tf, true
	}
	return "", false
}

// Since returns the lower creation bound for tf, or nil when unbounded.
func (tf Timeframe) Since(now time.Time) *time.Time {
	var d time.Duration
	switch tf {
	case TimeframeDay:
		d = 24 * time.Hour
	case TimeframeWeek:
		d = 7 * 24 * time.Hour
	case TimeframeMonth:
		d = 30 * 24 * time.Hour
	default:
		return nil
	}
	since := now.Add(-d)
	return &since
}

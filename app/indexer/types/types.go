package types

import (
	"context"
	"time"

	"github.com/composable-labs/pablox/pkg/oracle"
)

// Publisher fans verdicts out to real-time subscribers. *redis.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{})
	XAdd(ctx context.Context, stream string, values map[string]interface{}) string
}

// HeightResult summarizes one indexed height.
type HeightResult struct {
	Height     uint64 `json:"height"`
	Events     int    `json:"events"`
	Skipped    int    `json:"skipped"`
	Verified   int    `json:"verified"`
	Violations int    `json:"violations"`
	// Untracked counts settlements on pools the book has no snapshot of.
	Untracked  int     `json:"untracked"`
	DurationMs float64 `json:"durationMs"`
	// AlreadyIndexed is set when the height had been recorded before and nothing was done.
	AlreadyIndexed bool `json:"alreadyIndexed,omitempty"`
}

// VerdictMessage is the payload published for every verdict.
type VerdictMessage struct {
	Type    string         `json:"type"`
	Verdict oracle.Verdict `json:"verdict"`
}

const VerdictMessageType = "verdict"

// HeadScanInput configures one run of the head scan workflow.
type HeadScanInput struct {
	PollInterval time.Duration `json:"pollInterval"`
	// MaxActivities bounds the history of one run before it continues as new.
	MaxActivities int `json:"maxActivities"`
}

// HeightPlan is the range of heights the head scan should index next. It is empty when
// From > Head.
type HeightPlan struct {
	From uint64 `json:"from"`
	Head uint64 `json:"head"`
}

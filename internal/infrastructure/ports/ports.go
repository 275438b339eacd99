package ports

import (
	"context"
	"time"

	"github.com/sophialabs/meetpoint/internal/domain/meeting"
)

// Clock provides the current time (for testing).
type Clock interface {
	Now() time.Time
}

// Logger provides structured logging.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
	// With returns a logger that adds args to every record.
	With(args ...any) Logger
}

// RateLimiter throttles outbound calls.
type RateLimiter interface {
	// Wait blocks until a call identified by key is allowed, or ctx is done.
	// rate is tokens per second, burst is the max burst size.
	Wait(ctx context.Context, key string, rate float64, burst int) error
}

// Ranker orders scored candidate summaries from most to least convenient.
// Rank returns indexes into summaries, best first.
type Ranker interface {
	Rank(summaries []meeting.CandidateSummary) ([]int, error)
}

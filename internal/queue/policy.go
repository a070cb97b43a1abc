package queue

import (
	"time"

	"github.com/angelmondragon/carousel-backend/pkg/config"
)

const (
	defaultMaxAttempts   = 3
	defaultBackoffBase   = 2 * time.Second
	defaultBackoffMax    = 10 * time.Minute
	defaultVisibility    = 5 * time.Minute
	defaultKeepCompleted = 100
	defaultKeepFailed    = 500
)

// Policy holds the retry, visibility and retention rules of one queue.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Visibility is how long a leased job stays invisible before another
	// worker may claim it again.
	Visibility time.Duration
	// KeepCompleted and KeepFailed bound how many finished jobs are retained.
	// A negative value disables trimming for that status.
	KeepCompleted int
	KeepFailed    int
}

// DefaultPolicy returns 3 attempts with a doubling 2s backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   defaultMaxAttempts,
		BackoffBase:   defaultBackoffBase,
		BackoffMax:    defaultBackoffMax,
		Visibility:    defaultVisibility,
		KeepCompleted: defaultKeepCompleted,
		KeepFailed:    defaultKeepFailed,
	}
}

// PolicyFromConfig derives a queue policy from the shared queue settings.
func PolicyFromConfig(cfg config.QueueConfig, visibility time.Duration) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffBase > 0 {
		p.BackoffBase = cfg.BackoffBase
	}
	if visibility > 0 {
		p.Visibility = visibility
	}
	p.KeepCompleted = cfg.KeepCompleted
	p.KeepFailed = cfg.KeepFailed
	return p
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = d.BackoffBase
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = d.BackoffMax
	}
	if p.Visibility <= 0 {
		p.Visibility = d.Visibility
	}
	return p
}

// Backoff returns the delay before the retry that follows the given attempt
// (1-based): base, 2*base, 4*base... capped at BackoffMax.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if delay > p.BackoffMax {
		return p.BackoffMax
	}
	return delay
}

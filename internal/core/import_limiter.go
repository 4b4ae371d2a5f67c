package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyImports is returned when no import slot frees up within the
// limiter's wait time.
var ErrTooManyImports = errors.New("too many imports in progress, please try again later")

const (
	// DefaultMaxConcurrentImports serialises imports.
	DefaultMaxConcurrentImports = 1

	// DefaultMaxWaitTime is how long an import waits for a slot.
	DefaultMaxWaitTime = 30 * time.Second
)

// ImportLimiter bounds how many imports run at once. Slots are a buffered
// channel used as a semaphore.
type ImportLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	waiting atomic.Int64
	served  atomic.Int64
}

// NewImportLimiter allows maxConcurrent imports, each waiting at most
// maxWait for a slot. Non-positive arguments select the defaults.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &ImportLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire waits for a slot. The returned release func must be called
// exactly once; calling it again is a no-op.
func (l *ImportLimiter) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case l.slots <- struct{}{}:
		return l.releaser(), nil
	default:
	}

	l.waiting.Add(1)
	defer l.waiting.Add(-1)

	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return l.releaser(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTooManyImports
	}
}

func (l *ImportLimiter) releaser() func() {
	l.served.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			<-l.slots
		}
	}
}

// Active returns the number of imports holding a slot.
func (l *ImportLimiter) Active() int { return len(l.slots) }

// MaxConcurrent returns the number of slots.
func (l *ImportLimiter) MaxConcurrent() int { return cap(l.slots) }

// WaitForDrain blocks until no import holds a slot or ctx is done. Used
// during shutdown.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of the limiter for the status endpoint.
type LimiterStatus struct {
	Active        int   `json:"active"`
	Waiting       int64 `json:"waiting"`
	MaxConcurrent int   `json:"max_concurrent"`
	Served        int64 `json:"served"`
}

// Status returns the limiter's current state.
func (l *ImportLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.Active(),
		Waiting:       l.waiting.Load(),
		MaxConcurrent: l.MaxConcurrent(),
		Served:        l.served.Load(),
	}
}

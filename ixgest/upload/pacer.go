// Package upload bulk-loads a directory of text files into the source bucket.
package upload

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/nex/am"
	"github.com/teranos/nex/errors"
)

// DefaultDelay is the fixed pause between uploads.
const DefaultDelay = 100 * time.Millisecond

// Pacer spaces out uploads. Wait blocks until the next upload may start or ctx
// is done.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedPacer waits a fixed delay before every upload except the first.
type FixedPacer struct {
	Delay time.Duration

	mu      sync.Mutex
	started bool
}

// NewFixedPacer creates a fixed-delay pacer.
func NewFixedPacer(delay time.Duration) *FixedPacer {
	return &FixedPacer{Delay: delay}
}

func (p *FixedPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	first := !p.started
	p.started = true
	p.mu.Unlock()

	if first || p.Delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TokenBucketPacer allows bursts up to Burst and a sustained rate.
type TokenBucketPacer struct {
	limiter *rate.Limiter
}

// NewTokenBucketPacer creates a pacer allowing perSecond uploads with burst.
func NewTokenBucketPacer(perSecond float64, burst int) *TokenBucketPacer {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketPacer{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (p *TokenBucketPacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// NoPacer never waits.
type NoPacer struct{}

func (NoPacer) Wait(ctx context.Context) error { return ctx.Err() }

// NewPacer builds the pacer named in cfg.
func NewPacer(cfg am.UploadConfig) (Pacer, error) {
	switch cfg.Pacing {
	case am.PacingFixed, "":
		delay := DefaultDelay
		if cfg.DelayMS > 0 {
			delay = time.Duration(cfg.DelayMS) * time.Millisecond
		}
		return NewFixedPacer(delay), nil
	case am.PacingTokenBucket:
		if cfg.RatePerSecond <= 0 {
			return nil, errors.Newf("token-bucket pacing needs rate_per_second > 0, got %v", cfg.RatePerSecond)
		}
		return NewTokenBucketPacer(cfg.RatePerSecond, cfg.Burst), nil
	case am.PacingNone:
		return NoPacer{}, nil
	default:
		return nil, errors.Newf("unknown pacing strategy %q", cfg.Pacing)
	}
}

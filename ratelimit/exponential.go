package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const excessiveUsageRatePerSecond = 1.67

// ExponentialPacer is the opt-in pacer: it starts at MinWait, doubles up to
// MaxWait whenever any caller reports an empty round via Increment, and
// resets to MinWait whenever any caller reports a productive round via
// Reset. Increment is cooperative: once one caller has incremented during a
// cycle, further calls before the next EndLoop are no-ops, which is what
// lets one pacer be shared across streams without double-backoff.
type ExponentialPacer struct {
	mu sync.Mutex

	quotaSource         QuotaSource
	log                 *logrus.Logger
	rng                 *rand.Rand
	now                 func() time.Time
	ratelimitExhaustion int
	cooldown            time.Duration
	quotaRequests       int

	base          time.Duration
	min           time.Duration
	max           time.Duration
	value         time.Duration
	incremented   bool
	throttleLevel time.Duration
}

// ExponentialPacerOption customizes an ExponentialPacer at construction.
type ExponentialPacerOption func(*ExponentialPacer)

// WithExponentialClock overrides the pacer's notion of "now", for tests.
func WithExponentialClock(now func() time.Time) ExponentialPacerOption {
	return func(p *ExponentialPacer) { p.now = now }
}

// WithExponentialRand overrides the jitter source, for deterministic tests.
func WithExponentialRand(rng *rand.Rand) ExponentialPacerOption {
	return func(p *ExponentialPacer) { p.rng = rng }
}

// NewExponentialPacer builds a pacer starting at minWait (default 1s),
// doubling up to maxWait (default 16s). ratelimitExhaustion is the
// remaining-requests threshold below which the pacer sleeps through the
// rest of the window (default 30).
func NewExponentialPacer(quotaSource QuotaSource, minWait, maxWait time.Duration, ratelimitExhaustion int, quotaRequests int, cooldown time.Duration, log *logrus.Logger, opts ...ExponentialPacerOption) *ExponentialPacer {
	if minWait <= 0 {
		minWait = time.Second
	}
	if maxWait <= 0 {
		maxWait = 16 * time.Second
	}
	if ratelimitExhaustion <= 0 {
		ratelimitExhaustion = 30
	}
	if quotaRequests <= 0 {
		quotaRequests = 1000
	}
	if cooldown <= 0 {
		cooldown = 600 * time.Second
	}

	p := &ExponentialPacer{
		quotaSource:         quotaSource,
		log:                 log,
		rng:                 rand.New(rand.NewSource(time.Now().UnixNano())),
		now:                 time.Now,
		ratelimitExhaustion: ratelimitExhaustion,
		cooldown:            cooldown,
		quotaRequests:       quotaRequests,
		base:                minWait,
		min:                 minWait,
		max:                 maxWait,
		value:               minWait,
		throttleLevel:       maxWait,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Increment exponentially grows the pacer's wait, unless another caller has
// already incremented this cycle.
func (p *ExponentialPacer) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.incremented {
		return
	}
	p.incremented = true

	// Jitter magnitude scales as base/max so the spread stays proportional
	// to the current backoff level (62.5ms around a 1s base with a 16s cap).
	maxJitter := float64(p.base) / p.max.Seconds()
	delta := time.Duration(p.rng.Float64()*maxJitter - maxJitter/2)
	if p.throttleLevel == p.max {
		p.value = p.base + delta
	} else {
		p.value = p.throttleLevel + delta
	}
	if p.value < 0 {
		p.value = 0
	}

	p.base *= 2
	if p.base > p.max {
		p.base = p.max
	}
}

// Reset returns the pacer to its minimum wait.
func (p *ExponentialPacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *ExponentialPacer) resetLocked() {
	p.base = p.min
	maxJitter := float64(p.base) / p.max.Seconds()
	delta := time.Duration(p.rng.Float64()*maxJitter - maxJitter/2)
	p.value = p.min + delta
	if p.value < 0 {
		p.value = 0
	}
	p.incremented = false
	p.throttleLevel = p.max
}

// EndLoop clears the cooperative increment flag, sleeps for the current
// value, and then adjusts the throttle level against measured usage.
func (p *ExponentialPacer) EndLoop(ctx context.Context) error {
	p.mu.Lock()
	p.incremented = false
	wait := p.value
	p.mu.Unlock()

	if err := sleepCtx(ctx, wait); err != nil {
		return err
	}

	return p.adjustThrottle(ctx)
}

// adjustThrottle compares measured usage against the sustainable rate: if
// usage is running hot, multiply the throttle level; if it has cooled back
// down, restore it; if the quota is nearly exhausted, sleep through the
// rest of the window.
func (p *ExponentialPacer) adjustThrottle(ctx context.Context) error {
	snapshot := p.quotaSource.Quota()
	now := p.now()

	nextReset := snapshot.ResetAt.Sub(now)
	if nextReset < 0 {
		nextReset = 0
	}
	elapsed := p.cooldown - nextReset

	var usageRate float64
	if snapshot.Used != 0 && elapsed > 0 {
		usageRate = float64(snapshot.Used) / elapsed.Seconds()
	}

	p.mu.Lock()
	var sleepFor time.Duration
	needsSleep := false

	switch {
	case usageRate > excessiveUsageRatePerSecond && snapshot.Remaining > 30:
		p.throttleLevel = time.Duration(float64(p.throttleLevel) * 1.2)
		if p.log != nil {
			p.log.WithField("usage_rate", usageRate).Warn("excessive API usage, increasing interval between requests")
		}
	case usageRate < excessiveUsageRatePerSecond && p.throttleLevel > p.max:
		p.throttleLevel = p.max
		if p.log != nil {
			p.log.WithField("usage_rate", usageRate).Info("usage returned to sustainable levels, restoring normal request intervals")
		}
	case snapshot.Remaining < p.ratelimitExhaustion:
		sleepFor = nextReset + time.Second
		needsSleep = true
		if p.log != nil {
			p.log.WithField("remaining", snapshot.Remaining).Warn("ratelimit functionally exhausted, sleeping until past reset")
		}
	}
	p.mu.Unlock()

	if needsSleep {
		return sleepCtx(ctx, sleepFor)
	}
	return nil
}

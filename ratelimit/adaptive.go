package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AdaptivePacer is the default pacer. It targets consuming up to
// safetyFactor of the quota per reset window, uniformly.
type AdaptivePacer struct {
	mu sync.Mutex

	quotaSource QuotaSource
	log         *logrus.Logger
	rng         *rand.Rand
	now         func() time.Time

	quotaRequests  int
	cooldown       time.Duration
	safetyFactor   float64
	targetRequests int
	minWait        time.Duration

	currentWait time.Duration
	lastTime    time.Time
}

// AdaptivePacerOption customizes an AdaptivePacer at construction.
type AdaptivePacerOption func(*AdaptivePacer)

// WithAdaptiveClock overrides the pacer's notion of "now", for tests.
func WithAdaptiveClock(now func() time.Time) AdaptivePacerOption {
	return func(p *AdaptivePacer) { p.now = now }
}

// WithAdaptiveRand overrides the jitter source, for deterministic tests.
func WithAdaptiveRand(rng *rand.Rand) AdaptivePacerOption {
	return func(p *AdaptivePacer) { p.rng = rng }
}

// NewAdaptivePacer builds a pacer targeting safetyFactor of quotaRequests
// issued per cooldown window. safetyFactor defaults to 0.9 if <= 0.
func NewAdaptivePacer(quotaSource QuotaSource, quotaRequests int, cooldown time.Duration, safetyFactor float64, log *logrus.Logger, opts ...AdaptivePacerOption) *AdaptivePacer {
	if safetyFactor <= 0 {
		safetyFactor = 0.9
	}
	if quotaRequests <= 0 {
		quotaRequests = 1000
	}
	if cooldown <= 0 {
		cooldown = 600 * time.Second
	}
	minWait := time.Duration(float64(cooldown) / float64(quotaRequests) / safetyFactor)

	p := &AdaptivePacer{
		quotaSource:    quotaSource,
		log:            log,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		now:            time.Now,
		quotaRequests:  quotaRequests,
		cooldown:       cooldown,
		safetyFactor:   safetyFactor,
		targetRequests: int(float64(quotaRequests) * safetyFactor),
		minWait:        minWait,
		currentWait:    minWait,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lastTime = p.now()
	return p
}

// Increment is a no-op for the adaptive pacer; it paces purely off quota,
// kept only for interface compatibility with ExponentialPacer.
func (p *AdaptivePacer) Increment() {}

// Reset is a no-op for the adaptive pacer, kept for interface compatibility.
func (p *AdaptivePacer) Reset() {}

// EndLoop computes this round's wait from the remote quota and sleeps for
// it, returning early if ctx is canceled.
func (p *AdaptivePacer) EndLoop(ctx context.Context) error {
	p.mu.Lock()
	wait, _ := p.computeWaitLocked()
	p.mu.Unlock()

	return sleepCtx(ctx, wait)
}

// computeWaitLocked returns the duration to sleep this round. The boolean
// return distinguishes the reserve-exhausted branch; both branches sleep
// the returned value.
func (p *AdaptivePacer) computeWaitLocked() (time.Duration, bool) {
	now := p.now()
	snapshot := p.quotaSource.Quota()

	timeRemaining := snapshot.ResetAt.Sub(now)
	if timeRemaining < 0 {
		timeRemaining = 0
	}
	timeElapsed := p.cooldown - timeRemaining

	lastRunDuration := now.Sub(p.lastTime) - p.currentWait
	if lastRunDuration < 0 {
		lastRunDuration = 0
	}

	callsRemaining := p.targetRequests - snapshot.Used
	if callsRemaining <= 0 {
		callsRemaining = p.quotaRequests - snapshot.Used
		if callsRemaining <= 10 {
			if p.log != nil {
				p.log.WithFields(logrus.Fields{
					"remaining_reserve": callsRemaining,
					"time_remaining_s":  timeRemaining.Seconds(),
				}).Warn("reserve calls exhausted, sleeping until next ratelimit reset")
			}
			p.lastTime = now
			p.currentWait = timeRemaining
			return timeRemaining, true
		}
		if p.log != nil {
			p.log.WithFields(logrus.Fields{
				"remaining_reserve": callsRemaining,
				"time_remaining_s":  timeRemaining.Seconds(),
			}).Warn("exhausted safe calls, dipping into reserve")
		}
	}

	wait := time.Duration(float64(timeRemaining) / float64(callsRemaining) / p.safetyFactor)
	wait += lastRunDuration

	if timeElapsed > 0 && timeRemaining > 0 {
		currentUsageRate := float64(snapshot.Used) / timeElapsed.Seconds()
		futureUsageRate := float64(callsRemaining) / timeRemaining.Seconds()
		if currentUsageRate > futureUsageRate {
			wait += lastRunDuration
		}
	}

	wait += jitter(p.rng, wait, 16)

	wait = clamp(wait, p.minWait, timeRemaining)
	if timeRemaining <= 0 {
		wait = p.minWait
	}

	if p.log != nil {
		p.log.WithFields(logrus.Fields{
			"calls_remaining":  callsRemaining,
			"time_remaining_s": timeRemaining.Seconds(),
			"sleeping_s":       wait.Seconds(),
		}).Debug("adaptive pacer computed wait")
	}

	p.lastTime = now
	p.currentWait = wait
	return wait, false
}

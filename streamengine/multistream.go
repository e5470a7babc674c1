package streamengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddittail/ratelimit"
)

const defaultExceptionPause = 60 * time.Second

// Consumer receives items MultiStream has merged, deduplicated, and
// ordered per-listing.
type Consumer func(StreamItem)

// Config bundles the per-run knobs for a MultiStream.
type Config struct {
	Subreddit              string
	Listings               []string
	ParamsPerListing       map[string]map[string]string
	WaitForEdit            int
	ExceptionPause         time.Duration
	MaxTimeBeforeFullFetch time.Duration
	LogStreams             bool
}

// StreamStatus is a point-in-time snapshot of one SubredditStream, exposed
// through httpapi's inspection surface.
type StreamStatus struct {
	Listing       string
	SeenCount     int
	Dead          bool
	LastYieldTime time.Time
}

// MultiStream composes one SubredditStream per configured listing into a
// single merged feed, owns the shared pacer, recovers from transport
// faults by rebuilding its streams, and routes modlog invalidations into
// the modqueue stream.
type MultiStream struct {
	cfg    Config
	lister Lister
	store  CursorStore
	sink   Sink
	logger ItemLogger
	pacer  ratelimit.Pacer
	log    *logrus.Logger

	mu      sync.Mutex
	streams []*SubredditStream

	hasModqueue bool
}

// NewMultiStream builds one SubredditStream per cfg.Listings, sharing
// pacer across all of them. A nil pacer defaults to an AdaptivePacer over
// lister's own quota.
func NewMultiStream(cfg Config, lister Lister, store CursorStore, sink Sink, logger ItemLogger, pacer ratelimit.Pacer, log *logrus.Logger) (*MultiStream, error) {
	if cfg.ExceptionPause <= 0 {
		cfg.ExceptionPause = defaultExceptionPause
	}
	if pacer == nil {
		quotaSource, ok := lister.(QuotaAccessor)
		if !ok {
			return nil, fmt.Errorf("streamengine: no pacer given and lister %T does not implement QuotaAccessor", lister)
		}
		pacer = ratelimit.NewAdaptivePacer(quotaSource, 1000, 600*time.Second, 0.9, log)
	}

	ms := &MultiStream{
		cfg:    cfg,
		lister: lister,
		store:  store,
		sink:   sink,
		logger: logger,
		pacer:  pacer,
		log:    log,
	}

	for _, name := range cfg.Listings {
		if name == "modqueue" {
			ms.hasModqueue = true
		}
	}

	streams, err := ms.buildStreams()
	if err != nil {
		return nil, err
	}
	ms.streams = streams
	return ms, nil
}

func (ms *MultiStream) buildStreams() ([]*SubredditStream, error) {
	streams := make([]*SubredditStream, 0, len(ms.cfg.Listings))
	for _, name := range ms.cfg.Listings {
		params := ms.cfg.ParamsPerListing[name]
		stream, err := New(name, ms.cfg.Subreddit, ms.pacer, ms.lister, ms.store, ms.cfg.WaitForEdit, params, ms.log)
		if err != nil {
			return nil, fmt.Errorf("streamengine: building stream %q: %w", name, err)
		}
		if ms.cfg.MaxTimeBeforeFullFetch > 0 {
			WithMaxTimeBeforeFullFetch(ms.cfg.MaxTimeBeforeFullFetch)(stream)
		}
		streams = append(streams, stream)
	}
	return streams, nil
}

// streamByName finds a live stream by listing name, nil if not running.
func (ms *MultiStream) streamByName(name string) *SubredditStream {
	for _, s := range ms.streams {
		if s.Listing() == name {
			return s
		}
	}
	return nil
}

// Run drives the round-robin main loop until ctx is canceled: each
// configured stream polls once per round, forwarding every yielded item to
// consume; after every stream has completed its round, the shared pacer's
// EndLoop is called exactly once. MultiStream always polls with
// raiseErrors=true so it owns recovery uniformly.
func (ms *MultiStream) Run(ctx context.Context, consume Consumer) error {
	for {
		if err := ctx.Err(); err != nil {
			ms.Shutdown()
			return err
		}

		if err := ms.runRound(ctx, consume); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				ms.Shutdown()
				return err
			}
			if errors.Is(err, ErrTransient) {
				if ms.log != nil {
					ms.log.WithError(err).Warn("transient error in round, pausing before rebuild")
				}
				if sleepErr := sleepCtx(ctx, ms.cfg.ExceptionPause); sleepErr != nil {
					ms.Shutdown()
					return sleepErr
				}
				if err := ms.rebuildStreams(); err != nil {
					return err
				}
				continue
			}
			if ms.log != nil {
				ms.log.WithError(err).Error("unknown error in round, continuing")
			}
			continue
		}

		if err := ms.pacer.EndLoop(ctx); err != nil {
			ms.Shutdown()
			return err
		}
	}
}

func (ms *MultiStream) runRound(ctx context.Context, consume Consumer) error {
	ms.mu.Lock()
	streams := make([]*SubredditStream, len(ms.streams))
	copy(streams, ms.streams)
	ms.mu.Unlock()

	for _, stream := range streams {
		// ms.mu also serializes each stream's seen set against Status,
		// which reads it from the inspection server's goroutine.
		ms.mu.Lock()
		items, err := stream.Poll(ctx, true, ms.cfg.ExceptionPause)
		ms.mu.Unlock()
		if err != nil {
			return err
		}
		for _, item := range items {
			if ms.hasModqueue && stream.Listing() == "log" {
				ms.mu.Lock()
				ms.applyInvalidation(item)
				ms.mu.Unlock()
			}
			if ms.logger != nil && ms.cfg.LogStreams {
				ms.logger.Log(item)
			}
			if ms.sink != nil {
				if err := ms.sink.Record(item); err != nil && ms.log != nil {
					ms.log.WithError(err).Warn("failed to record item in sink")
				}
			}
			consume(item)
		}
	}
	return nil
}

// applyInvalidation drops an actioned item out of the modqueue stream:
// when the log listing yields a modlog action in the invalidation set, the
// modqueue stream forgets the target fullname before a future full fetch
// can replay the obsolete entry.
func (ms *MultiStream) applyInvalidation(item StreamItem) {
	if !invalidationActions[item.Item.Action] {
		return
	}
	modqueue := ms.streamByName("modqueue")
	if modqueue == nil {
		return
	}
	modqueue.Forget(item.Item.TargetFullname)
}

// rebuildStreams saves, discards, and recreates every SubredditStream,
// preserving names, params, and the shared pacer.
func (ms *MultiStream) rebuildStreams() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, s := range ms.streams {
		if err := s.Save(ms.store); err != nil && ms.log != nil {
			ms.log.WithError(err).WithField("listing", s.Listing()).Warn("failed to save cursor during rebuild")
		}
	}

	streams, err := ms.buildStreams()
	if err != nil {
		return err
	}
	ms.streams = streams
	return nil
}

// Shutdown saves every stream's cursor. Idempotent.
func (ms *MultiStream) Shutdown() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, s := range ms.streams {
		if err := s.Save(ms.store); err != nil && ms.log != nil {
			ms.log.WithError(err).WithField("listing", s.Listing()).Warn("failed to save cursor during shutdown")
		}
	}
}

// Status returns a point-in-time snapshot of every running stream, for
// httpapi's inspection endpoint.
func (ms *MultiStream) Status() []StreamStatus {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	status := make([]StreamStatus, 0, len(ms.streams))
	for _, s := range ms.streams {
		status = append(status, StreamStatus{
			Listing:       s.Listing(),
			SeenCount:     s.seen.Len(),
			Dead:          s.Dead(),
			LastYieldTime: s.lastYieldTime,
		})
	}
	return status
}

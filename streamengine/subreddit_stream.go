package streamengine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddittail/dedup"
	"github.com/brettboylen/reddittail/models"
	"github.com/brettboylen/reddittail/ratelimit"
)

const (
	fetchLimitMin = 90
	fetchLimitMax = 100

	defaultMaxTimeBeforeFullFetch = 60 * time.Second
)

// SubredditStream owns one listing's dedup state: it fetches newest-first
// pages, filters them against its BoundedSet of seen attributes, persists
// the set, and returns new items in chronological order.
type SubredditStream struct {
	descriptor ListingDescriptor
	subreddit  string
	lister     Lister
	pacer      ratelimit.Pacer
	log        *logrus.Logger
	rng        *rand.Rand
	now        func() time.Time

	waitForEdit            int
	editWaitInterval       time.Duration
	maxTimeBeforeFullFetch time.Duration
	params                 map[string]string

	seen          *dedup.BoundedSet[Attribute]
	lastYieldTime time.Time
	dead          bool
}

// Option customizes a SubredditStream at construction.
type Option func(*SubredditStream)

// WithRand overrides the cursor-selection jitter source, for tests.
func WithRand(rng *rand.Rand) Option {
	return func(s *SubredditStream) { s.rng = rng }
}

// WithClock overrides the stream's notion of "now", for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SubredditStream) { s.now = now }
}

// WithMaxTimeBeforeFullFetch overrides the periodic full-refetch interval
// (default 60s) used to recover from a silently-deleted cursor anchor.
func WithMaxTimeBeforeFullFetch(d time.Duration) Option {
	return func(s *SubredditStream) { s.maxTimeBeforeFullFetch = d }
}

// WithEditWaitInterval overrides the spacing between edit-propagation
// refresh attempts (default 1s), for tests.
func WithEditWaitInterval(d time.Duration) Option {
	return func(s *SubredditStream) { s.editWaitInterval = d }
}

// New constructs a SubredditStream for the named listing, loading its
// persisted cursor via store (a nil store starts empty).
func New(listingName, subreddit string, pacer ratelimit.Pacer, lister Lister, store CursorStore, waitForEdit int, params map[string]string, log *logrus.Logger, opts ...Option) (*SubredditStream, error) {
	descriptor, ok := Listings[listingName]
	if !ok {
		return nil, fmt.Errorf("streamengine: unknown listing %q", listingName)
	}
	if waitForEdit <= 0 {
		waitForEdit = 3
	}

	s := &SubredditStream{
		descriptor:             descriptor,
		subreddit:              subreddit,
		lister:                 lister,
		pacer:                  pacer,
		log:                    log,
		rng:                    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:                    time.Now,
		waitForEdit:            waitForEdit,
		editWaitInterval:       time.Second,
		maxTimeBeforeFullFetch: defaultMaxTimeBeforeFullFetch,
		params:                 params,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastYieldTime = s.now()

	if store != nil {
		values, err := store.Load(subreddit, listingName)
		if err != nil {
			if log != nil {
				log.WithError(err).WithField("listing", listingName).Warn("failed to load persisted cursor, starting empty")
			}
			s.seen = dedup.New[Attribute](dedup.DefaultMaxItems)
		} else {
			s.seen = dedup.Load(dedup.DefaultMaxItems, values)
		}
	} else {
		s.seen = dedup.New[Attribute](dedup.DefaultMaxItems)
	}

	return s, nil
}

// Listing returns the listing name this stream polls.
func (s *SubredditStream) Listing() string { return s.descriptor.Name }

// Dead reports whether the stream's last round ended in a transient error
// handled locally (raiseErrors=false).
func (s *SubredditStream) Dead() bool { return s.dead }

// Forget removes an attribute from the seen set, used by MultiStream's
// modlog->modqueue invalidation.
func (s *SubredditStream) Forget(value string) {
	// Invalidation always targets the fullname/id half of the attribute;
	// the edited-timestamp half, if any, is irrelevant to "has this target
	// been actioned" so every attribute sharing the value is dropped.
	for _, a := range s.seen.Values() {
		if a.Value == value {
			s.seen.Remove(a)
		}
	}
}

// Save persists the seen set via store.
func (s *SubredditStream) Save(store CursorStore) error {
	if store == nil {
		return nil
	}
	return store.Save(s.subreddit, s.descriptor.Name, s.seen.Values())
}

// Poll runs one full round: selects a cursor, fetches a page, reverses it
// to chronological order, filters against the seen set, and returns the
// newly-yielded items. Returning the slice stands in for yielding items
// one at a time plus an end-of-round terminator, since MultiStream only
// needs a whole round's items before it calls the pacer.
//
// raiseErrors controls whether a transient transport error is returned to
// the caller (true, used by MultiStream) or swallowed after marking the
// stream dead and sleeping exceptionPause (false).
func (s *SubredditStream) Poll(ctx context.Context, raiseErrors bool, exceptionPause time.Duration) ([]StreamItem, error) {
	before := s.selectCursor()

	items, err := s.fetch(ctx, before)
	if err != nil {
		if errors.Is(err, ErrBadCursor) && before != "" {
			s.Forget(before)
			items, err = s.fetch(ctx, "")
		}
	}
	if err != nil {
		if errors.Is(err, ErrTransient) {
			if raiseErrors {
				return nil, err
			}
			s.dead = true
			if s.log != nil {
				s.log.WithField("listing", s.descriptor.Name).WithError(err).Warn("stream marked dead after transient error")
			}
			if sleepErr := sleepCtx(ctx, exceptionPause); sleepErr != nil {
				return nil, sleepErr
			}
			return nil, nil
		}
		return nil, err
	}
	s.dead = false

	reverseItems(items)

	yielded := make([]StreamItem, 0, len(items))
	for _, item := range items {
		attr, err := s.attributeFor(ctx, item)
		if err != nil {
			return yielded, err
		}

		if s.seen.Contains(attr) {
			continue
		}
		if s.descriptor.Name == "spam" && !isActuallySpam(item) {
			continue
		}

		s.seen.Add(attr)
		s.lastYieldTime = s.now()
		yielded = append(yielded, NewStreamItem(s.descriptor.Name, item))
	}

	if len(yielded) > 0 {
		s.pacer.Reset()
	} else {
		s.pacer.Increment()
	}

	return yielded, nil
}

// selectCursor picks this round's "before" anchor. An empty return means a
// full fetch: on an empty set, and periodically when no item has been
// yielded for maxTimeBeforeFullFetch, which recovers from anchors the
// server has silently deleted. Otherwise a near-newest anchor is picked at
// random to hedge against the newest one having been deleted since last
// round.
func (s *SubredditStream) selectCursor() string {
	n := s.seen.Len()

	if n == 0 {
		return ""
	}
	if s.now().Sub(s.lastYieldTime) > s.maxTimeBeforeFullFetch {
		s.lastYieldTime = s.now()
		return ""
	}
	if n == 1 {
		return s.seen.At(0).CursorValue()
	}

	maxIdx := n - 1
	lo := maxIdx - 2
	if lo < 0 {
		lo = 0
	}
	k := lo + s.rng.Intn(maxIdx-lo+1)
	return s.seen.At(k).CursorValue()
}

// fetch calls the lister with a randomized page size and merged params.
func (s *SubredditStream) fetch(ctx context.Context, before string) ([]models.Item, error) {
	params := make(map[string]string, len(s.params)+1)
	for k, v := range s.params {
		params[k] = v
	}
	if params["only"] == "submissions" {
		params["only"] = "links"
	}
	if before != "" {
		params["before"] = before
	}

	limit := fetchLimitMin + s.rng.Intn(fetchLimitMax-fetchLimitMin+1)
	return s.lister.Fetch(ctx, s.descriptor.Source, limit, params)
}

// attributeFor computes the dedup identity for item, waiting out edit
// propagation for the edited listing. The retry loop performs at most
// waitForEdit refresh attempts, spaced editWaitInterval apart, stops as
// soon as an edit timestamp is present, and never sleeps after the final
// attempt.
func (s *SubredditStream) attributeFor(ctx context.Context, item models.Item) (Attribute, error) {
	switch s.descriptor.AttributeKind {
	case AttrID:
		return Attribute{Value: item.ID}, nil
	case AttrFullnameEdited:
		edited := item.Edited
		for attempt := 0; !edited.Present && attempt < s.waitForEdit; attempt++ {
			if attempt > 0 {
				if err := sleepCtx(ctx, s.editWaitInterval); err != nil {
					return Attribute{}, err
				}
			}
			refreshed, err := s.lister.Refresh(ctx, item.Fullname)
			if err != nil {
				return Attribute{}, err
			}
			edited = refreshed.Edited
		}
		return Attribute{Value: item.Fullname, EditedAt: edited.At, HasEdited: true}, nil
	default:
		return Attribute{Value: item.Fullname}, nil
	}
}

// isActuallySpam reports whether a removed item was removed as spam rather
// than by an ordinary mod action: a ban_note containing "spam" but not
// "not". A missing ban_note is treated as not-spam.
func isActuallySpam(item models.Item) bool {
	if item.BanNote == "" {
		return false
	}
	return strings.Contains(item.BanNote, "spam") && !strings.Contains(item.BanNote, "not")
}

// reverseItems reverses a newest-first page into chronological order.
func reverseItems(items []models.Item) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

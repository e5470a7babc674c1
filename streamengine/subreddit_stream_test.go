package streamengine

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/brettboylen/reddittail/models"
)

type fetchResponse struct {
	items []models.Item
	err   error
}

// fakeLister is an in-memory Lister: each call to Fetch for a given source
// pops the next scripted response off that source's queue.
type fakeLister struct {
	queues      map[string][]fetchResponse
	refreshFunc func(fullname string) (models.Item, error)
	refreshes   int
}

func newFakeLister() *fakeLister {
	return &fakeLister{queues: make(map[string][]fetchResponse)}
}

func (f *fakeLister) script(source string, resp fetchResponse) {
	f.queues[source] = append(f.queues[source], resp)
}

func (f *fakeLister) Fetch(ctx context.Context, source string, limit int, params map[string]string) ([]models.Item, error) {
	q := f.queues[source]
	if len(q) == 0 {
		return nil, nil
	}
	resp := q[0]
	f.queues[source] = q[1:]
	return resp.items, resp.err
}

func (f *fakeLister) Refresh(ctx context.Context, fullname string) (models.Item, error) {
	f.refreshes++
	if f.refreshFunc != nil {
		return f.refreshFunc(fullname)
	}
	return models.Item{Fullname: fullname}, nil
}

type noopPacer struct{}

func (noopPacer) Increment()                    {}
func (noopPacer) Reset()                        {}
func (noopPacer) EndLoop(context.Context) error { return nil }

func newTestStream(t *testing.T, listing string, lister Lister) *SubredditStream {
	t.Helper()
	s, err := New(listing, "golang", noopPacer{}, lister, nil, 3, nil, nil,
		WithRand(rand.New(rand.NewSource(1))),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// Scenario 1: cold start, empty listing.
func TestSubredditStreamColdStartEmptyListing(t *testing.T) {
	lister := newFakeLister()
	lister.script("new", fetchResponse{items: nil})
	s := newTestStream(t, "submissions", lister)

	items, err := s.Poll(context.Background(), true, time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
	if s.seen.Len() != 0 {
		t.Fatalf("expected empty seen set, got %d", s.seen.Len())
	}
}

// Scenario 2: two new submissions, newest-first on the wire, chronological on emit.
func TestSubredditStreamTwoNewSubmissionsEmitChronologically(t *testing.T) {
	lister := newFakeLister()
	lister.script("new", fetchResponse{items: []models.Item{
		{Fullname: "t3_b", ID: "b"},
		{Fullname: "t3_a", ID: "a"},
	}})
	s := newTestStream(t, "submissions", lister)

	items, err := s.Poll(context.Background(), true, time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(items) != 2 || items[0].Item.Fullname != "t3_a" || items[1].Item.Fullname != "t3_b" {
		t.Fatalf("expected emit order [a, b], got %+v", items)
	}

	if s.seen.At(0).Value != "t3_a" || s.seen.At(1).Value != "t3_b" {
		t.Fatalf("expected seen set oldest-first [a, b], got [%v, %v]", s.seen.At(0), s.seen.At(1))
	}
}

// Scenario 3: deleted anchor recovery.
func TestSubredditStreamDeletedAnchorRecovery(t *testing.T) {
	lister := newFakeLister()
	lister.script("new", fetchResponse{err: ErrBadCursor})
	lister.script("new", fetchResponse{items: []models.Item{{Fullname: "t3_y", ID: "y"}}})

	s := newTestStream(t, "submissions", lister)
	s.seen.Add(Attribute{Value: "t3_x"})

	items, err := s.Poll(context.Background(), true, time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if s.seen.Contains(Attribute{Value: "t3_x"}) {
		t.Fatal("expected t3_x to be forgotten after BadCursor")
	}
	if len(items) != 1 || items[0].Item.Fullname != "t3_y" {
		t.Fatalf("expected [t3_y], got %+v", items)
	}
	if s.seen.Len() != 1 || s.seen.At(0).Value != "t3_y" {
		t.Fatalf("expected seen set to be exactly [t3_y], got %v", s.seen.Values())
	}
}

// Scenario 4: edited multi-capture — the same fullname re-emitted with a
// distinct edited timestamp is a distinct attribute.
func TestSubredditStreamEditedMultiCapture(t *testing.T) {
	lister := newFakeLister()
	lister.script("mod/edited", fetchResponse{items: []models.Item{
		{Fullname: "t1_k", ID: "k", Edited: models.Edited{Present: true, At: 1000}},
	}})
	lister.script("mod/edited", fetchResponse{items: []models.Item{
		{Fullname: "t1_k", ID: "k", Edited: models.Edited{Present: true, At: 1500}},
	}})

	s := newTestStream(t, "edited", lister)

	first, err := s.Poll(context.Background(), true, time.Second)
	if err != nil {
		t.Fatalf("Poll 1: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 item on first poll, got %d", len(first))
	}

	second, err := s.Poll(context.Background(), true, time.Second)
	if err != nil {
		t.Fatalf("Poll 2: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected 1 item on second poll, got %d", len(second))
	}

	if !s.seen.Contains(Attribute{Value: "t1_k", EditedAt: 1000, HasEdited: true}) {
		t.Fatal("expected (t1_k, 1000) in seen set")
	}
	if !s.seen.Contains(Attribute{Value: "t1_k", EditedAt: 1500, HasEdited: true}) {
		t.Fatal("expected (t1_k, 1500) in seen set")
	}
}

// The edit-wait retry must perform exactly waitForEdit attempts, never one
// extra.
func TestSubredditStreamEditWaitRetryCapsAtExactAttemptCount(t *testing.T) {
	lister := newFakeLister()
	lister.script("mod/edited", fetchResponse{items: []models.Item{
		{Fullname: "t1_k", ID: "k", Edited: models.Edited{Present: false}},
	}})
	lister.refreshFunc = func(fullname string) (models.Item, error) {
		return models.Item{Fullname: fullname, Edited: models.Edited{Present: false}}, nil
	}

	s := newTestStream(t, "edited", lister)
	s.waitForEdit = 3
	s.editWaitInterval = time.Millisecond

	items, err := s.Poll(context.Background(), true, time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if lister.refreshes != 3 {
		t.Fatalf("expected exactly 3 refresh attempts, got %d", lister.refreshes)
	}
	if len(items) != 1 {
		t.Fatalf("expected the item to still be emitted with a stale edited value, got %d items", len(items))
	}
}

// Scenario 5: spam filter.
func TestSubredditStreamSpamFilter(t *testing.T) {
	lister := newFakeLister()
	lister.script("mod/spam", fetchResponse{items: []models.Item{
		{Fullname: "t3_removed", ID: "removed", BanNote: "removed as spam"},
		{Fullname: "t3_clean", ID: "clean", BanNote: "not spam"},
	}})
	s := newTestStream(t, "spam", lister)

	items, err := s.Poll(context.Background(), true, time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(items) != 1 || items[0].Item.Fullname != "t3_removed" {
		t.Fatalf("expected only t3_removed to be emitted, got %+v", items)
	}
}

func TestSubredditStreamTransientErrorPropagatesWhenRaiseErrorsTrue(t *testing.T) {
	lister := newFakeLister()
	lister.script("new", fetchResponse{err: ErrTransient})
	s := newTestStream(t, "submissions", lister)

	_, err := s.Poll(context.Background(), true, time.Second)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient to propagate, got %v", err)
	}
}

func TestSubredditStreamTransientErrorSwallowedWhenRaiseErrorsFalse(t *testing.T) {
	lister := newFakeLister()
	lister.script("new", fetchResponse{err: ErrTransient})
	s := newTestStream(t, "submissions", lister)

	_, err := s.Poll(context.Background(), false, time.Millisecond)
	if err != nil {
		t.Fatalf("expected no error with raiseErrors=false, got %v", err)
	}
	if !s.Dead() {
		t.Fatal("expected stream to be marked dead")
	}
}

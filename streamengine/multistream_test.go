package streamengine

import (
	"context"
	"testing"
	"time"

	"github.com/brettboylen/reddittail/models"
)

// Scenario 6: a modlog action in the invalidation set drops its target out
// of the modqueue stream's seen set before the next modqueue fetch.
func TestMultiStreamModlogInvalidatesModqueue(t *testing.T) {
	lister := newFakeLister()
	lister.script("mod/log", fetchResponse{items: []models.Item{
		{ID: "log1", Action: "removelink", TargetFullname: "t3_z"},
	}})
	lister.script("mod/modqueue", fetchResponse{items: nil})

	cfg := Config{
		Subreddit: "golang",
		Listings:  []string{"log", "modqueue"},
	}
	ms, err := NewMultiStream(cfg, lister, nil, nil, nil, noopPacer{}, nil)
	if err != nil {
		t.Fatalf("NewMultiStream: %v", err)
	}

	modqueue := ms.streamByName("modqueue")
	modqueue.seen.Add(Attribute{Value: "t3_z"})

	var consumed []StreamItem
	if err := ms.runRound(context.Background(), func(item StreamItem) {
		consumed = append(consumed, item)
	}); err != nil {
		t.Fatalf("runRound: %v", err)
	}

	if modqueue.seen.Contains(Attribute{Value: "t3_z"}) {
		t.Fatal("expected t3_z to be forgotten from modqueue's seen set")
	}
	if len(consumed) != 1 || consumed[0].Item.Action != "removelink" {
		t.Fatalf("expected the log entry to be forwarded to the consumer, got %+v", consumed)
	}
}

func TestMultiStreamRunRoundForwardsItemsFromEveryStream(t *testing.T) {
	lister := newFakeLister()
	lister.script("new", fetchResponse{items: []models.Item{{Fullname: "t3_a", ID: "a"}}})
	lister.script("comments", fetchResponse{items: []models.Item{{Fullname: "t1_b", ID: "b"}}})

	cfg := Config{Subreddit: "golang", Listings: []string{"submissions", "comments"}}
	ms, err := NewMultiStream(cfg, lister, nil, nil, nil, noopPacer{}, nil)
	if err != nil {
		t.Fatalf("NewMultiStream: %v", err)
	}

	var consumed []StreamItem
	if err := ms.runRound(context.Background(), func(item StreamItem) {
		consumed = append(consumed, item)
	}); err != nil {
		t.Fatalf("runRound: %v", err)
	}

	if len(consumed) != 2 {
		t.Fatalf("expected 2 items across both streams, got %d", len(consumed))
	}
}

func TestMultiStreamRunExitsOnContextCancellation(t *testing.T) {
	lister := newFakeLister()
	cfg := Config{Subreddit: "golang", Listings: []string{"submissions"}}
	ms, err := NewMultiStream(cfg, lister, nil, nil, nil, noopPacer{}, nil)
	if err != nil {
		t.Fatalf("NewMultiStream: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = ms.Run(ctx, func(StreamItem) {})
	if err == nil {
		t.Fatal("expected Run to return an error when its context is canceled")
	}
}

// Package models holds the wire and domain types shared by the reddit
// client and the stream engine, covering the full set of listing items
// (submissions, comments, mod actions, modmail) the engine streams.
package models

import (
	"encoding/json"
)

// Edited mirrors the Reddit API's overloaded "edited" field: it is either
// the JSON literal `false` or a Unix timestamp. Present reports which case
// was decoded; At is only meaningful when Present is true.
type Edited struct {
	Present bool
	At      float64
}

// UnmarshalJSON decodes both the `false` sentinel and a numeric timestamp.
func (e *Edited) UnmarshalJSON(data []byte) error {
	if string(data) == "false" {
		e.Present = false
		e.At = 0
		return nil
	}
	var at float64
	if err := json.Unmarshal(data, &at); err != nil {
		return err
	}
	e.Present = true
	e.At = at
	return nil
}

// MarshalJSON round-trips the sentinel/timestamp split above.
func (e Edited) MarshalJSON() ([]byte, error) {
	if !e.Present {
		return []byte("false"), nil
	}
	return json.Marshal(e.At)
}

// Item is the opaque-to-the-core object the stream engine consumes: it
// carries every field any supported listing might need (submissions,
// comments, mod log entries, modmail conversations) in one flat struct,
// since a single Go struct decodes more naturally than re-deriving Reddit's
// per-kind tagged payloads on every call site. Callers only read the
// fields relevant to the listing kind they requested.
type Item struct {
	ThingKind string `json:"kind"`
	ID        string `json:"id"`
	Fullname  string `json:"name"`

	CreatedUTC float64 `json:"created_utc"`
	Edited     Edited  `json:"edited"`

	Author    string `json:"author,omitempty"`
	Subreddit string `json:"subreddit,omitempty"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body,omitempty"`
	Permalink string `json:"permalink,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`

	// BanNote is reddit's (oddly named) field for why a removed item was
	// banned; used by the spam listing's "actually spam" filter.
	BanNote string `json:"ban_note,omitempty"`

	// Mod log fields.
	Action          string `json:"action,omitempty"`
	TargetFullname  string `json:"target_fullname,omitempty"`
	TargetPermalink string `json:"target_permalink,omitempty"`
	TargetAuthor    string `json:"target_author,omitempty"`
	Details         string `json:"details,omitempty"`
	Description     string `json:"description,omitempty"`
	Moderator       string `json:"mod,omitempty"`
}

// IsComment reports whether the item's fullname identifies a comment
// (the `t1_` prefix), used for StreamItem.Kind classification.
func (i Item) IsComment() bool {
	return hasFullnamePrefix(i.Fullname, "t1_")
}

// IsSubmission reports whether the item's fullname identifies a
// submission (the `t3_` prefix), used for StreamItem.Kind classification.
func (i Item) IsSubmission() bool {
	return hasFullnamePrefix(i.Fullname, "t3_")
}

func hasFullnamePrefix(fullname, prefix string) bool {
	return len(fullname) >= len(prefix) && fullname[:len(prefix)] == prefix
}

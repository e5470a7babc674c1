// Package store persists a SubredditStream's dedup cursor between restarts
// and mirrors every emitted item into a queryable SQLite table.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/brettboylen/reddittail/streamengine"
)

// FileCursorStore persists each listing's seen-set snapshot as a JSON file
// under <root>/cache-<subreddit>/<listing>.json. The file carries a
// version field so the on-disk format can evolve without guessing.
type FileCursorStore struct {
	root string
	mu   sync.Mutex
}

// NewFileCursorStore builds a store rooted at root.
func NewFileCursorStore(root string) *FileCursorStore {
	return &FileCursorStore{root: root}
}

type cursorFile struct {
	Version int                     `json:"version"`
	Values  []streamengine.Attribute `json:"values"`
}

const cursorFileVersion = 1

func (s *FileCursorStore) path(subreddit, listing string) string {
	return filepath.Join(s.root, "cache-"+subreddit, listing+".json")
}

// Load reads the persisted snapshot for (subreddit, listing). A missing
// file yields an empty snapshot; other failures are returned for the
// caller to log before it starts empty, since dedup state is a cache, not
// a source of truth.
func (s *FileCursorStore) Load(subreddit, listing string) ([]streamengine.Attribute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(subreddit, listing))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: reading cursor file: %w", err)
	}

	var file cursorFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("store: decoding cursor file: %w", err)
	}
	return file.Values, nil
}

// Save writes the snapshot for (subreddit, listing), creating the
// subreddit's cache directory if needed.
func (s *FileCursorStore) Save(subreddit, listing string, values []streamengine.Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(subreddit, listing)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: creating cache directory: %w", err)
	}

	data, err := json.Marshal(cursorFile{Version: cursorFileVersion, Values: values})
	if err != nil {
		return fmt.Errorf("store: encoding cursor file: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: writing cursor file: %w", err)
	}
	return os.Rename(tmp, path)
}

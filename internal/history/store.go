package history

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
	"github.com/rs/zerolog/log"
)

// Capacity is the maximum number of results kept.
const Capacity = 20

// BlobStore is a key space holding opaque values.
type BlobStore interface {
	GetBlob(key string) ([]byte, error)
	PutBlob(key string, data []byte) error
}

// Store is a bounded, most-recent-first list of results persisted as a single
// JSON blob. The blob is read once by Open and rewritten on every mutation.
type Store struct {
	mu      sync.Mutex
	blobs   BlobStore
	key     string
	entries []nutrition.Result
}

// Key returns the storage key of a Telegram user's history.
func Key(telegramID int64) string {
	return fmt.Sprintf("history/%d", telegramID)
}

// Open loads the history stored under key. A missing blob is an empty
// history.
func Open(blobs BlobStore, key string) (*Store, error) {
	data, err := blobs.GetBlob(key)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	s := &Store{blobs: blobs, key: key}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.entries); err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
	}
	if len(s.entries) > Capacity {
		s.entries = s.entries[:Capacity]
	}
	log.Debug().Str("key", key).Int("entries", len(s.entries)).Msg("history loaded")
	return s, nil
}

// Record prepends r and evicts anything beyond Capacity.
func (s *Store) Record(r nutrition.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]nutrition.Result, 0, Capacity)
	next = append(next, r)
	next = append(next, s.entries...)
	if len(next) > Capacity {
		next = next[:Capacity]
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

// List returns a copy of the entries, most recent first.
func (s *Store) List() []nutrition.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]nutrition.Result, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get returns a copy of the entry with the given ID.
func (s *Store) Get(id string) (nutrition.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return nutrition.Result{}, false
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear removes every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist([]nutrition.Result{}); err != nil {
		return err
	}
	s.entries = nil
	return nil
}

func (s *Store) persist(entries []nutrition.Result) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := s.blobs.PutBlob(s.key, data); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// Package dismissal remembers which items the user hid from continue watching.
package dismissal

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"watchsync/internal/kvstore"
	"watchsync/models"
)

// StorageKey is the kvstore key holding the dismissal map.
const StorageKey = "dismissals"

// ErrEmptyKey is returned when dismissing without a key.
var ErrEmptyKey = errors.New("dismissal key is empty")

// Store keeps dismissals in memory and persists them as a map of key to
// dismissal time in unix milliseconds.
type Store struct {
	kv  kvstore.Store
	log *zap.SugaredLogger
	now func() time.Time

	mu      sync.Mutex
	loaded  bool
	entries map[string]time.Time
}

// New creates a store that loads lazily from kv.
func New(kv kvstore.Store, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		kv:      kv,
		log:     log,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

func (s *Store) ensureLoadedLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	var stored map[string]int64
	if _, err := kvstore.GetJSON(ctx, s.kv, StorageKey, &stored); err != nil {
		s.log.Warnw("load dismissals failed", "error", err)
		return
	}
	for key, ms := range stored {
		if _, ok := s.entries[key]; !ok {
			s.entries[key] = time.UnixMilli(ms)
		}
	}
	s.loaded = true
}

func (s *Store) persistLocked(ctx context.Context) {
	out := make(map[string]int64, len(s.entries))
	for key, at := range s.entries {
		out[key] = at.UnixMilli()
	}
	if err := kvstore.SetJSON(ctx, s.kv, StorageKey, out); err != nil {
		s.log.Warnw("persist dismissals failed", "entries", len(out), "error", err)
	}
}

// Dismiss hides key from continue watching until new activity happens.
func (s *Store) Dismiss(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)
	s.entries[key] = s.now()
	s.persistLocked(ctx)
	return nil
}

// Filter drops dismissed candidates. A candidate with activity after its
// dismissal passes and its dismissal is removed.
func (s *Store) Filter(ctx context.Context, candidates []models.Candidate) []models.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)
	if len(s.entries) == 0 {
		return candidates
	}

	out := make([]models.Candidate, 0, len(candidates))
	removed := 0
	for _, c := range candidates {
		key := c.Item.DismissalKey()
		dismissedAt, ok := s.entries[key]
		if !ok {
			out = append(out, c)
			continue
		}
		if c.LastActivityAt.After(dismissedAt) {
			delete(s.entries, key)
			removed++
			out = append(out, c)
		}
	}
	if removed > 0 {
		s.log.Debugw("reinstated dismissed items", "count", removed)
		s.persistLocked(ctx)
	}
	return out
}

// Entries lists the current dismissals, most recent first.
func (s *Store) Entries(ctx context.Context) []models.DismissalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)

	out := make([]models.DismissalEntry, 0, len(s.entries))
	for key, at := range s.entries {
		out = append(out, models.DismissalEntry{Key: key, DismissedAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DismissedAt.Equal(out[j].DismissedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].DismissedAt.After(out[j].DismissedAt)
	})
	return out
}

// Invalidate forces the next use to reload from storage.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.entries = make(map[string]time.Time)
}

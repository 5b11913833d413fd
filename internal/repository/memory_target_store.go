package repository

import (
	"context"
	"sync"
	"sync/atomic"

	"SnipeRadar/internal/domain/models"
	drepo "SnipeRadar/internal/domain/repository"
)

// QueryCounts reports how many store round-trips each operation made.
type QueryCounts struct {
	ExistingPending int64
	CountActive     int64
	InsertBatch     int64
	GetPreferences  int64
	AutoSnipeUsers  int64
}

// MemoryTargetStore is an in-process TargetStore. It enforces the same
// one-active-target-per-pair rule as the Postgres unique index and counts
// every call, which the bridge tests use to check batching.
type MemoryTargetStore struct {
	mu      sync.Mutex
	targets []models.SnipeTarget
	err     error

	existingCalls atomic.Int64
	countCalls    atomic.Int64
	insertCalls   atomic.Int64
}

func NewMemoryTargetStore(seed ...models.SnipeTarget) *MemoryTargetStore {
	return &MemoryTargetStore{targets: append([]models.SnipeTarget(nil), seed...)}
}

// FailWith makes every later call return err. nil restores normal operation.
func (s *MemoryTargetStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemoryTargetStore) ExistingPending(_ context.Context, pairs []models.UserSymbol) ([]models.UserSymbol, error) {
	s.existingCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	want := make(map[models.UserSymbol]struct{}, len(pairs))
	for _, p := range pairs {
		want[p] = struct{}{}
	}
	var out []models.UserSymbol
	seen := map[models.UserSymbol]struct{}{}
	for _, t := range s.targets {
		if !blocksPair(t.Status) {
			continue
		}
		p := models.UserSymbol{UserID: t.UserID, Symbol: t.SymbolName}
		if _, ok := want[p]; !ok {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryTargetStore) CountActive(_ context.Context, userIDs []string) (map[string]int, error) {
	s.countCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	want := make(map[string]struct{}, len(userIDs))
	for _, u := range userIDs {
		want[u] = struct{}{}
	}
	out := make(map[string]int, len(userIDs))
	for _, t := range s.targets {
		if _, ok := want[t.UserID]; ok && isActive(t.Status) {
			out[t.UserID]++
		}
	}
	return out, nil
}

func (s *MemoryTargetStore) InsertBatch(_ context.Context, targets []models.SnipeTarget) ([]models.SnipeTarget, error) {
	s.insertCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	taken := map[models.UserSymbol]struct{}{}
	for _, t := range s.targets {
		if blocksPair(t.Status) {
			taken[models.UserSymbol{UserID: t.UserID, Symbol: t.SymbolName}] = struct{}{}
		}
	}
	var inserted []models.SnipeTarget
	for _, t := range targets {
		p := models.UserSymbol{UserID: t.UserID, Symbol: t.SymbolName}
		if _, ok := taken[p]; ok && blocksPair(t.Status) {
			continue
		}
		if blocksPair(t.Status) {
			taken[p] = struct{}{}
		}
		s.targets = append(s.targets, t)
		inserted = append(inserted, t)
	}
	return inserted, nil
}

func (s *MemoryTargetStore) CountByStatus(_ context.Context) (map[models.TargetStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := map[models.TargetStatus]int{}
	for _, t := range s.targets {
		out[t.Status]++
	}
	return out, nil
}

func (s *MemoryTargetStore) Health(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// All returns a copy of every stored target.
func (s *MemoryTargetStore) All() []models.SnipeTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SnipeTarget(nil), s.targets...)
}

// ByUser lists a user's targets, newest first.
func (s *MemoryTargetStore) ByUser(_ context.Context, userID string, limit int) ([]models.SnipeTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.SnipeTarget, 0)
	for i := len(s.targets) - 1; i >= 0 && len(out) < limit; i-- {
		if s.targets[i].UserID == userID {
			out = append(out, s.targets[i])
		}
	}
	return out, nil
}

// Counts returns the per-operation call counts.
func (s *MemoryTargetStore) Counts() QueryCounts {
	return QueryCounts{
		ExistingPending: s.existingCalls.Load(),
		CountActive:     s.countCalls.Load(),
		InsertBatch:     s.insertCalls.Load(),
	}
}

// blocksPair reports whether a target in this status occupies its
// (user, symbol) pair.
func blocksPair(st models.TargetStatus) bool {
	return st == models.TargetPending || st == models.TargetReady
}

func isActive(st models.TargetStatus) bool {
	for _, a := range models.ActiveStatuses {
		if st == a {
			return true
		}
	}
	return false
}

// MemoryPreferenceStore is an in-process PreferenceStore.
type MemoryPreferenceStore struct {
	mu    sync.RWMutex
	prefs map[string]models.UserPreferences

	getCalls  atomic.Int64
	autoCalls atomic.Int64
}

func NewMemoryPreferenceStore(prefs ...models.UserPreferences) *MemoryPreferenceStore {
	s := &MemoryPreferenceStore{prefs: make(map[string]models.UserPreferences, len(prefs))}
	for _, p := range prefs {
		s.prefs[p.UserID] = p
	}
	return s
}

// Upsert stores or replaces a user's preferences.
func (s *MemoryPreferenceStore) Upsert(p models.UserPreferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.UserID] = p
}

func (s *MemoryPreferenceStore) GetPreferences(_ context.Context, userIDs []string) (map[string]models.UserPreferences, error) {
	s.getCalls.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.UserPreferences, len(userIDs))
	for _, u := range userIDs {
		if p, ok := s.prefs[u]; ok {
			out[u] = p
		}
	}
	return out, nil
}

func (s *MemoryPreferenceStore) AutoSnipeUsers(_ context.Context) ([]string, error) {
	s.autoCalls.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, p := range s.prefs {
		if p.AutoSnipeEnabled {
			out = append(out, id)
		}
	}
	return out, nil
}

// Counts returns the per-operation call counts.
func (s *MemoryPreferenceStore) Counts() QueryCounts {
	return QueryCounts{GetPreferences: s.getCalls.Load(), AutoSnipeUsers: s.autoCalls.Load()}
}

var (
	_ drepo.TargetStore     = (*MemoryTargetStore)(nil)
	_ drepo.PreferenceStore = (*MemoryPreferenceStore)(nil)
)

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	drepo "SnipeRadar/internal/domain/repository"
)

type setEntry struct {
	key string
	exp time.Time
}

// TTLSet is an in-process ListingRegistry. Every key lives for ttl; once
// maxSize keys are held the oldest is evicted first. All keys share one
// ttl, so insertion order is also expiry order.
type TTLSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	m       map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

func NewTTLSet(ttl time.Duration, maxSize int) *TTLSet {
	if maxSize <= 0 {
		maxSize = 50_000
	}
	return &TTLSet{
		ttl:     ttl,
		maxSize: maxSize,
		m:       make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// MarkSeen atomically inserts key and reports whether it was absent.
func (s *TTLSet) MarkSeen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.purgeLocked(now)

	if _, ok := s.m[key]; ok {
		return false, nil
	}
	if s.order.Len() >= s.maxSize {
		s.removeLocked(s.order.Front())
	}
	var exp time.Time
	if s.ttl > 0 {
		exp = now.Add(s.ttl)
	}
	s.m[key] = s.order.PushBack(&setEntry{key: key, exp: exp})
	return true, nil
}

func (s *TTLSet) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[key]; ok {
		s.removeLocked(e)
	}
	return nil
}

// Contains reports whether key is held and unexpired.
func (s *TTLSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(s.now())
	_, ok := s.m[key]
	return ok
}

func (s *TTLSet) Size(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(s.now())
	return s.order.Len(), nil
}

func (s *TTLSet) purgeLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for e := s.order.Front(); e != nil; e = s.order.Front() {
		if now.Before(e.Value.(*setEntry).exp) {
			return
		}
		s.removeLocked(e)
	}
}

func (s *TTLSet) removeLocked(e *list.Element) {
	if e == nil {
		return
	}
	delete(s.m, e.Value.(*setEntry).key)
	s.order.Remove(e)
}

var _ drepo.ListingRegistry = (*TTLSet)(nil)

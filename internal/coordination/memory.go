package coordination

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process implementation of Store for tests and
// single-node dev mode. It is thread-safe. Expiry is lazy: expired keys are
// dropped when next touched, which matches the "absence is the signal"
// semantics the rest of the system relies on.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryValue
	zsets  map[string]*memoryZSet
	sets   map[string]map[string]struct{}
	now    func() time.Time
}

type memoryValue struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type memoryZSet struct {
	scores    map[string]float64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memoryValue),
		zsets:  make(map[string]*memoryZSet),
		sets:   make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

// SetClock replaces the store's time source. Tests use it to advance time
// past TTLs without sleeping.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveValue(key); ok {
		return false, nil
	}
	s.values[key] = memoryValue{value: value, expiresAt: s.deadline(ttl)}
	return true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = memoryValue{value: value, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

func (s *MemoryStore) RefreshTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.liveValue(key)
	if !ok {
		return false, nil
	}
	v.expiresAt = s.deadline(ttl)
	s.values[key] = v
	return true, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.liveValue(key)
	return ok, nil
}

func (s *MemoryStore) AddToSortedSet(ctx context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.liveZSet(key, true).scores[member] = score
	return nil
}

func (s *MemoryStore) RemoveRangeByScore(ctx context.Context, key string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	z := s.liveZSet(key, false)
	if z == nil {
		return nil
	}
	for member, score := range z.scores {
		if score >= min && score <= max {
			delete(z.scores, member)
		}
	}
	return nil
}

func (s *MemoryStore) RemoveFromSortedSet(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if z := s.liveZSet(key, false); z != nil {
		delete(z.scores, member)
	}
	return nil
}

func (s *MemoryStore) CountSortedSet(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	z := s.liveZSet(key, false)
	if z == nil {
		return 0, nil
	}
	return int64(len(z.scores)), nil
}

func (s *MemoryStore) SetSortedSetTTL(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if z := s.liveZSet(key, false); z != nil {
		z.expiresAt = s.deadline(ttl)
	}
	return nil
}

func (s *MemoryStore) AddToSet(ctx context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	var added int64
	for _, m := range members {
		if _, exists := set[m]; !exists {
			set[m] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (s *MemoryStore) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	return nil
}

func (s *MemoryStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) SetCardinality(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.sets[key])), nil
}

func (s *MemoryStore) SlideWindow(ctx context.Context, key string, cutoff, score float64, member string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	z := s.liveZSet(key, true)
	for m, sc := range z.scores {
		if sc < cutoff {
			delete(z.scores, m)
		}
	}
	z.scores[member] = score
	z.expiresAt = s.deadline(ttl)
	return int64(len(z.scores)), nil
}

// liveValue returns the value for key, dropping it first if expired.
// Callers must hold the mutex.
func (s *MemoryStore) liveValue(key string) (memoryValue, bool) {
	v, ok := s.values[key]
	if !ok {
		return memoryValue{}, false
	}
	if !v.expiresAt.IsZero() && !s.now().Before(v.expiresAt) {
		delete(s.values, key)
		return memoryValue{}, false
	}
	return v, true
}

func (s *MemoryStore) liveZSet(key string, create bool) *memoryZSet {
	z, ok := s.zsets[key]
	if ok && !z.expiresAt.IsZero() && !s.now().Before(z.expiresAt) {
		delete(s.zsets, key)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		z = &memoryZSet{scores: make(map[string]float64)}
		s.zsets[key] = z
	}
	return z
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rendis/flowsketch/pkg/schema"
)

// MemoryStore keeps everything in process memory. Data is lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	shares      map[string]*Share
	counters    map[string]int64
	active      map[string]struct{}
	lastReset   time.Time
	subscribers map[string]*Subscriber
	secrets     map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shares:      make(map[string]*Share),
		counters:    make(map[string]int64),
		active:      make(map[string]struct{}),
		lastReset:   time.Now().UTC(),
		subscribers: make(map[string]*Subscriber),
		secrets:     make(map[string][]byte),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// --- Shares ---

func (s *MemoryStore) CreateShare(_ context.Context, share *Share) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shares[share.ID]; ok {
		return storeConflict("share", share.ID)
	}
	cp := *share
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	s.shares[share.ID] = &cp
	return nil
}

func (s *MemoryStore) GetShare(_ context.Context, id string) (*Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shares[id]
	if !ok {
		return nil, storeNotFound("share", id)
	}
	cp := *sh
	return &cp, nil
}

func (s *MemoryStore) IncrementShareViews(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shares[id]
	if !ok {
		return 0, storeNotFound("share", id)
	}
	sh.Views++
	return sh.Views, nil
}

func (s *MemoryStore) ListShares(_ context.Context, filter ShareFilter) ([]*Share, error) {
	s.mu.RLock()
	list := make([]*Share, 0, len(s.shares))
	for _, sh := range s.shares {
		if filter.PublicOnly && !sh.IsPublic {
			continue
		}
		cp := *sh
		list = append(list, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	start, end := page(len(list), filter)
	return list[start:end], nil
}

// --- Counters ---

func (s *MemoryStore) IncrementCounter(_ context.Context, name string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += delta
	return s.counters[name], nil
}

func (s *MemoryStore) Counters(context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) MarkUserActive(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[userID]; ok {
		return false, nil
	}
	s.active[userID] = struct{}{}
	return true, nil
}

func (s *MemoryStore) ActiveUsers(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active), nil
}

func (s *MemoryStore) SetPeak(_ context.Context, candidate int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if candidate > s.counters[schema.CounterPeakUsers] {
		s.counters[schema.CounterPeakUsers] = candidate
	}
	return s.counters[schema.CounterPeakUsers], nil
}

func (s *MemoryStore) ResetActiveUsers(_ context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[string]struct{})
	s.lastReset = timeOrNow(at)
	return nil
}

func (s *MemoryStore) LastReset(context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReset, nil
}

// --- Subscribers ---

func (s *MemoryStore) AddSubscriber(_ context.Context, sub *Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[sub.Email]; ok {
		return storeConflict("subscriber", sub.Email)
	}
	cp := *sub
	cp.Interests = slices.Clone(sub.Interests)
	cp.SubscribedAt = timeOrNow(cp.SubscribedAt)
	s.subscribers[sub.Email] = &cp
	return nil
}

func (s *MemoryStore) CountSubscribers(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers), nil
}

func (s *MemoryStore) RecentSubscribers(_ context.Context, limit int) ([]*Subscriber, error) {
	s.mu.RLock()
	list := make([]*Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		cp := *sub
		list = append(list, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].SubscribedAt.After(list[j].SubscribedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// --- Secrets ---

func (s *MemoryStore) StoreSecret(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key] = slices.Clone(value)
	return nil
}

func (s *MemoryStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[key]
	if !ok {
		return nil, storeNotFound("secret", key)
	}
	return slices.Clone(v), nil
}

func (s *MemoryStore) DeleteSecret(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[key]; !ok {
		return storeNotFound("secret", key)
	}
	delete(s.secrets, key)
	return nil
}

func (s *MemoryStore) ListSecrets(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.secrets))
	for k := range s.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

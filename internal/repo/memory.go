package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cpms/internal/models"
)

// MemoryStore keeps profiles in process. Stored values are never mutated:
// writes swap whole profiles under the lock and reads hand out deep copies,
// so a snapshot taken before a Replace or Delete is unaffected by it.
type MemoryStore struct {
	mu       sync.RWMutex
	nextId   int64
	profiles map[int64]models.ChargingProfile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[int64]models.ChargingProfile)}
}

func (s *MemoryStore) Create(_ context.Context, p models.ChargingProfile) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextId++
	p = p.Clone()
	p.Id = s.nextId
	s.profiles[p.Id] = p
	return p.Id, nil
}

func (s *MemoryStore) Replace(_ context.Context, p models.ChargingProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.Id]; !ok {
		return ErrNotFound
	}
	s.profiles[p.Id] = p.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return ErrNotFound
	}
	delete(s.profiles, id)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*models.ChargingProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	c := p.Clone()
	return &c, nil
}

func (s *MemoryStore) ProfilesFor(_ context.Context, chargePointId string) ([]models.ChargingProfile, error) {
	return s.collect(func(p models.ChargingProfile) bool { return p.ChargePointId == chargePointId }, 0, false), nil
}

func (s *MemoryStore) List(_ context.Context, f models.ProfileFilter) ([]models.ChargingProfile, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.collect(func(p models.ChargingProfile) bool { return matchesFilter(p, f) }, limit, true), nil
}

func (s *MemoryStore) collect(keep func(models.ChargingProfile) bool, limit int, newestFirst bool) []models.ChargingProfile {
	s.mu.RLock()
	var out []models.ChargingProfile
	for _, p := range s.profiles {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].Id > out[j].Id
		}
		return out[i].Id < out[j].Id
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matchesFilter(p models.ChargingProfile, f models.ProfileFilter) bool {
	if f.ChargePointId != "" && p.ChargePointId != f.ChargePointId {
		return false
	}
	if f.Purpose != "" && p.Purpose != f.Purpose {
		return false
	}
	if f.Kind != "" && p.Kind != f.Kind {
		return false
	}
	if f.RecurrencyKind != "" && (p.RecurrencyKind == nil || *p.RecurrencyKind != f.RecurrencyKind) {
		return false
	}
	if f.StackLevel != nil && p.StackLevel != *f.StackLevel {
		return false
	}
	if f.Description != "" && !strings.Contains(strings.ToLower(p.Description), strings.ToLower(f.Description)) {
		return false
	}
	if f.ValidFrom != nil && p.ValidTo != nil && !p.ValidTo.After(*f.ValidFrom) {
		return false
	}
	if f.ValidTo != nil && p.ValidFrom != nil && !p.ValidFrom.Before(*f.ValidTo) {
		return false
	}
	return true
}

// MemorySessions records transaction starts in process.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions []models.Session
}

func NewMemorySessions() *MemorySessions { return &MemorySessions{} }

func (m *MemorySessions) Start(_ context.Context, s models.Session) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.SessionId == "" {
		s.SessionId = fmt.Sprintf("%s-%d", s.ChargePointId, len(m.sessions)+1)
	}
	m.sessions = append(m.sessions, s)
	return s.SessionId, nil
}

func (m *MemorySessions) FindByTx(_ context.Context, cp string, tx int) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.Session
	for i := range m.sessions {
		s := m.sessions[i]
		if s.ChargePointId != cp || s.TransactionId != tx {
			continue
		}
		if found == nil || s.StartedAt.After(found.StartedAt) {
			c := s
			found = &c
		}
	}
	return found, nil
}

func (m *MemorySessions) End(_ context.Context, sessionId string, endedAt time.Time, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sessions {
		if m.sessions[i].SessionId == sessionId {
			m.sessions[i].EndedAt = &endedAt
			if reason != nil {
				m.sessions[i].Reason = reason
			}
		}
	}
	return nil
}

func (m *MemorySessions) TransactionStart(ctx context.Context, cp string, tx int) (*time.Time, error) {
	s, err := m.FindByTx(ctx, cp, tx)
	if err != nil || s == nil {
		return nil, err
	}
	started := s.StartedAt
	return &started, nil
}

// MemoryChargers is an in-process charger registry.
type MemoryChargers struct {
	mu       sync.RWMutex
	chargers map[string]models.Charger
}

func NewMemoryChargers() *MemoryChargers {
	return &MemoryChargers{chargers: make(map[string]models.Charger)}
}

func (m *MemoryChargers) Upsert(_ context.Context, c models.Charger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if old, ok := m.chargers[c.ChargePointId]; ok {
		c.CreatedAt = old.CreatedAt
		c.LastSeenAt = old.LastSeenAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.chargers[c.ChargePointId] = c
	return nil
}

func (m *MemoryChargers) Get(_ context.Context, id string) (*models.Charger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chargers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryChargers) TouchLastSeen(_ context.Context, id string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.chargers[id]; ok {
		c.LastSeenAt = &t
		c.UpdatedAt = time.Now().UTC()
		m.chargers[id] = c
	}
	return nil
}

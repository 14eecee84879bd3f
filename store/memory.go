package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/admission/rules"
)

// InMemoryPolicyStore implements PolicyStore with a map guarded by a RWMutex
type InMemoryPolicyStore struct {
	clinics map[string]*Clinic
	mu      sync.RWMutex
	now     func() time.Time
}

func NewInMemoryPolicyStore() *InMemoryPolicyStore {
	return &InMemoryPolicyStore{
		clinics: make(map[string]*Clinic),
		now:     time.Now,
	}
}

func (s *InMemoryPolicyStore) Create(_ context.Context, c *Clinic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clinics[c.ID]; exists {
		return fmt.Errorf("clinic %s: %w", c.ID, ErrAlreadyExists)
	}

	now := s.now()
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	stored := *c
	s.clinics[c.ID] = &stored
	return nil
}

func (s *InMemoryPolicyStore) SavePolicy(_ context.Context, clinicID string, p rules.Policy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.clinics[clinicID]
	if !exists {
		return 0, fmt.Errorf("clinic %s: %w", clinicID, ErrNotFound)
	}

	updated := *existing
	updated.Policy = p
	updated.Version++
	updated.UpdatedAt = s.now()
	s.clinics[clinicID] = &updated
	return updated.Version, nil
}

func (s *InMemoryPolicyStore) Get(_ context.Context, clinicID string) (*Clinic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.clinics[clinicID]
	if !exists {
		return nil, fmt.Errorf("clinic %s: %w", clinicID, ErrNotFound)
	}
	out := *c
	return &out, nil
}

// List returns clinics ordered by ID
func (s *InMemoryPolicyStore) List(_ context.Context) ([]*Clinic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Clinic, 0, len(s.clinics))
	for _, c := range s.clinics {
		out := *c
		list = append(list, &out)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *InMemoryPolicyStore) Delete(_ context.Context, clinicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clinics[clinicID]; !exists {
		return fmt.Errorf("clinic %s: %w", clinicID, ErrNotFound)
	}
	delete(s.clinics, clinicID)
	return nil
}

// InMemoryStageHistory implements StageHistory
type InMemoryStageHistory struct {
	records map[string]*StageRecord
	seq     map[string]uint64 // insertion order, breaks UpdatedAt ties
	next    uint64
	mu      sync.RWMutex
	now     func() time.Time
}

func NewInMemoryStageHistory() *InMemoryStageHistory {
	return &InMemoryStageHistory{
		records: make(map[string]*StageRecord),
		seq:     make(map[string]uint64),
		now:     time.Now,
	}
}

func (s *InMemoryStageHistory) PreviousStage(_ context.Context, patientRef, stage string) (*StageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *StageRecord
	for _, r := range s.records {
		if r.PatientRef != patientRef || !strings.EqualFold(r.Stage, stage) {
			continue
		}
		if latest == nil || r.UpdatedAt.After(latest.UpdatedAt) ||
			(r.UpdatedAt.Equal(latest.UpdatedAt) && s.seq[r.ID] > s.seq[latest.ID]) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("stage %q for patient %s: %w", stage, patientRef, ErrNotFound)
	}
	out := *latest
	return &out, nil
}

func (s *InMemoryStageHistory) RecordStage(_ context.Context, r *StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, exists := s.records[r.ID]; exists {
		return fmt.Errorf("stage record %s: %w", r.ID, ErrAlreadyExists)
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = s.now()
	}
	stored := *r
	s.records[r.ID] = &stored
	s.next++
	s.seq[r.ID] = s.next
	return nil
}

func (s *InMemoryStageHistory) OverrideStatus(_ context.Context, stageID string, status rules.StageStatus) (*StageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.records[stageID]
	if !exists {
		return nil, fmt.Errorf("stage record %s: %w", stageID, ErrNotFound)
	}
	r.Status = status
	r.UpdatedAt = s.now()
	out := *r
	return &out, nil
}

// InMemoryInventory implements Inventory
type InMemoryInventory struct {
	levels map[string]*StockLevel
	mu     sync.RWMutex
	now    func() time.Time
}

func NewInMemoryInventory() *InMemoryInventory {
	return &InMemoryInventory{
		levels: make(map[string]*StockLevel),
		now:    time.Now,
	}
}

func stockKey(clinicID, service string) string {
	return clinicID + "\x00" + strings.ToLower(service)
}

func (s *InMemoryInventory) Stock(_ context.Context, clinicID, service string) (*StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, exists := s.levels[stockKey(clinicID, service)]
	if !exists {
		return nil, fmt.Errorf("stock for %s at %s: %w", service, clinicID, ErrNotFound)
	}
	out := *l
	return &out, nil
}

func (s *InMemoryInventory) SetStock(_ context.Context, l *StockLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.UpdatedAt = s.now()
	stored := *l
	s.levels[stockKey(l.ClinicID, l.Service)] = &stored
	return nil
}

// InMemoryDecisionLog implements DecisionLog
type InMemoryDecisionLog struct {
	entries []*DecisionEntry
	mu      sync.RWMutex
	now     func() time.Time
}

func NewInMemoryDecisionLog() *InMemoryDecisionLog {
	return &InMemoryDecisionLog{now: time.Now}
}

func (s *InMemoryDecisionLog) Append(_ context.Context, e *DecisionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.Suggestions == nil {
		e.Suggestions = []string{}
	}
	stored := *e
	s.entries = append(s.entries, &stored)
	return nil
}

func (s *InMemoryDecisionLog) Recent(_ context.Context, clinicID string, limit int) ([]*DecisionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*DecisionEntry{}
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].ClinicID == clinicID {
			e := *s.entries[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

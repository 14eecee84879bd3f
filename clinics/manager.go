package clinics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/liamcoop/admission/internal/logger"
	"github.com/liamcoop/admission/rules"
	"github.com/liamcoop/admission/store"
)

var (
	ErrClinicNotFound = errors.New("clinic not found")
	ErrInvalidClinic  = errors.New("invalid clinic")
	ErrInvalidPolicy  = errors.New("invalid policy")
)

// ClinicEngine wraps a rules.Engine with clinic metadata
type ClinicEngine struct {
	ClinicID string
	Name     string
	Engine   *rules.Engine
}

// Manager owns one engine per clinic, loaded from a PolicyStore
type Manager struct {
	engines map[string]*ClinicEngine
	store   store.PolicyStore
	opts    []rules.Option
	mu      sync.RWMutex

	// serialises persist-then-reload so the stored and running versions agree
	updateMu sync.Mutex
}

// NewManager creates a manager. opts are applied to every clinic engine.
func NewManager(s store.PolicyStore, opts ...rules.Option) *Manager {
	return &Manager{
		engines: make(map[string]*ClinicEngine),
		store:   s,
		opts:    opts,
	}
}

// LoadAll compiles an engine for every stored clinic. A clinic whose stored
// policy no longer compiles fails the whole load.
func (m *Manager) LoadAll(ctx context.Context) error {
	clinics, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch clinics: %w", err)
	}

	loaded := make(map[string]*ClinicEngine, len(clinics))
	for _, c := range clinics {
		engine, err := rules.NewEngine(c.Policy, m.opts...)
		if err != nil {
			return fmt.Errorf("failed to initialize clinic %s: %w", c.ID, err)
		}
		loaded[c.ID] = &ClinicEngine{ClinicID: c.ID, Name: c.Name, Engine: engine}
	}

	m.mu.Lock()
	m.engines = loaded
	m.mu.Unlock()

	logger.Info("clinics loaded", "count", len(loaded))
	return nil
}

// CreateClinic validates and compiles p before persisting the clinic
func (m *Manager) CreateClinic(ctx context.Context, id, name string, p rules.Policy) (*store.Clinic, error) {
	if err := ValidateClinicID(id); err != nil {
		return nil, fmt.Errorf("%w: id: %v", ErrInvalidClinic, err)
	}
	if err := ValidateClinicName(name); err != nil {
		return nil, fmt.Errorf("%w: name: %v", ErrInvalidClinic, err)
	}

	engine, err := rules.NewEngine(p, m.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	c := &store.Clinic{ID: id, Name: name, Policy: p}
	if err := m.store.Create(ctx, c); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.engines[id] = &ClinicEngine{ClinicID: id, Name: name, Engine: engine}
	m.mu.Unlock()

	logger.Info("clinic created", "clinic", id)
	return c, nil
}

// EnsureClinic creates the clinic with p unless it is already stored
func (m *Manager) EnsureClinic(ctx context.Context, id, name string, p rules.Policy) error {
	if _, err := m.Engine(id); err == nil {
		return nil
	}
	_, err := m.CreateClinic(ctx, id, name, p)
	if errors.Is(err, store.ErrAlreadyExists) {
		return m.reloadFromStore(ctx, id)
	}
	return err
}

func (m *Manager) reloadFromStore(ctx context.Context, id string) error {
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	engine, err := rules.NewEngine(c.Policy, m.opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize clinic %s: %w", id, err)
	}

	m.mu.Lock()
	m.engines[id] = &ClinicEngine{ClinicID: id, Name: c.Name, Engine: engine}
	m.mu.Unlock()
	return nil
}

// Engine returns the engine for a clinic
func (m *Manager) Engine(clinicID string) (*rules.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ce, exists := m.engines[clinicID]
	if !exists {
		return nil, fmt.Errorf("clinic %s: %w", clinicID, ErrClinicNotFound)
	}
	return ce.Engine, nil
}

// UpdatePolicy persists p as a new version and hot-swaps it into the running
// engine. Evaluations already in flight finish on the previous policy.
func (m *Manager) UpdatePolicy(ctx context.Context, clinicID string, p rules.Policy) (int, error) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	engine, err := m.Engine(clinicID)
	if err != nil {
		return 0, err
	}

	// compile first so an invalid policy is never persisted
	if _, err := rules.NewEngine(p, m.opts...); err != nil {
		logger.RecordReload(false)
		return 0, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	version, err := m.store.SavePolicy(ctx, clinicID, p)
	if err != nil {
		return 0, fmt.Errorf("failed to save policy: %w", err)
	}

	if err := engine.Reload(p); err != nil {
		logger.RecordReload(false)
		return 0, fmt.Errorf("failed to reload clinic %s: %w", clinicID, err)
	}
	logger.RecordReload(true)
	logger.Info("clinic policy updated", "clinic", clinicID, "version", version)

	return version, nil
}

// ListClinics returns the loaded clinic IDs in sorted order
func (m *Manager) ListClinics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.engines))
	for id := range m.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RemoveClinic deletes the clinic from the store and drops its engine
func (m *Manager) RemoveClinic(ctx context.Context, clinicID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[clinicID]; !exists {
		return fmt.Errorf("clinic %s: %w", clinicID, ErrClinicNotFound)
	}
	if err := m.store.Delete(ctx, clinicID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete clinic: %w", err)
	}

	delete(m.engines, clinicID)
	return nil
}

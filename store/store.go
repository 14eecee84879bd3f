// Package store holds the collaborators the booking workflow reads before
// calling the engine: clinic policies, prior-stage history, stock levels and
// the decision log. Each has an in-memory and a PostgreSQL implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/liamcoop/admission/rules"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Clinic is a clinic and its active policy version
type Clinic struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Policy    rules.Policy `json:"policy"`
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// PolicyStore persists clinics and their versioned policies
type PolicyStore interface {
	// Create adds a clinic with its first policy version
	Create(ctx context.Context, c *Clinic) error

	// SavePolicy stores p as the clinic's new active version and returns it
	SavePolicy(ctx context.Context, clinicID string, p rules.Policy) (int, error)

	Get(ctx context.Context, clinicID string) (*Clinic, error)

	List(ctx context.Context) ([]*Clinic, error)

	Delete(ctx context.Context, clinicID string) error
}

// StageRecord is one patient's progress through a protocol stage
type StageRecord struct {
	ID          string            `json:"id"`
	PatientRef  string            `json:"patient_ref"`
	Stage       string            `json:"stage"`
	Status      rules.StageStatus `json:"status"`
	CompletedAt *rules.Timestamp  `json:"completed_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Context converts the record into the engine's prior-stage input
func (r *StageRecord) Context() *rules.StageContext {
	return &rules.StageContext{
		PreviousStageStatus: r.Status,
		PreviousStageTime:   r.CompletedAt,
	}
}

// StageHistory answers prior-stage lookups. Stage names match case-insensitively.
type StageHistory interface {
	// PreviousStage returns the latest record of stage for the patient, or ErrNotFound
	PreviousStage(ctx context.Context, patientRef, stage string) (*StageRecord, error)

	// RecordStage inserts r, assigning an ID when empty
	RecordStage(ctx context.Context, r *StageRecord) error

	// OverrideStatus sets the status of a stage record by ID
	OverrideStatus(ctx context.Context, stageID string, status rules.StageStatus) (*StageRecord, error)
}

// StockLevel is a stock snapshot for a stock-gated service.
// A nil LowStockThreshold defers to the clinic policy.
type StockLevel struct {
	ClinicID          string    `json:"clinic_id"`
	Service           string    `json:"service"`
	Level             int       `json:"stock_level"`
	LowStockThreshold *int      `json:"low_stock_threshold,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Inventory answers stock lookups
type Inventory interface {
	// Stock returns the snapshot for service, or ErrNotFound when the service is not stock-gated
	Stock(ctx context.Context, clinicID, service string) (*StockLevel, error)

	SetStock(ctx context.Context, s *StockLevel) error
}

// DecisionEntry is one audit record of an admission decision
type DecisionEntry struct {
	ID            string    `json:"id"`
	ClinicID      string    `json:"clinic_id"`
	Action        string    `json:"action"`
	PatientRef    string    `json:"patient_ref,omitempty"`
	RequestedTime string    `json:"requested_time"`
	IsValid       bool      `json:"is_valid"`
	Reasoning     string    `json:"reasoning"`
	FailedRule    string    `json:"failed_rule,omitempty"`
	Suggestions   []string  `json:"suggestions"`
	LowStock      bool      `json:"low_stock"`
	CreatedAt     time.Time `json:"created_at"`
}

// DecisionLog is an append-only audit trail
type DecisionLog interface {
	Append(ctx context.Context, e *DecisionEntry) error

	// Recent returns up to limit entries for the clinic, newest first
	Recent(ctx context.Context, clinicID string, limit int) ([]*DecisionEntry, error)
}

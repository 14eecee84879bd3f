package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/admission/rules"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresPolicyStore implements PolicyStore backed by PostgreSQL
type PostgresPolicyStore struct {
	db *sql.DB
}

func NewPostgresPolicyStore(db *sql.DB) *PostgresPolicyStore {
	return &PostgresPolicyStore{db: db}
}

// Create inserts the clinic and its first policy version in one transaction
func (s *PostgresPolicyStore) Create(ctx context.Context, c *Clinic) error {
	definition, err := json.Marshal(c.Policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO clinics (id, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING created_at, updated_at
	`, c.ID, c.Name).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("clinic %s: %w", c.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert clinic: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO clinic_policies (clinic_id, version, definition, active, created_at)
		VALUES ($1, 1, $2, true, NOW())
	`, c.ID, definition)
	if err != nil {
		return fmt.Errorf("failed to insert policy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clinic: %w", err)
	}
	c.Version = 1
	return nil
}

// SavePolicy deactivates the current version and inserts the next one
func (s *PostgresPolicyStore) SavePolicy(ctx context.Context, clinicID string, p rules.Policy) (int, error) {
	definition, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal policy: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// lock the clinic row so concurrent saves serialise on the version number
	res, err := tx.ExecContext(ctx, `
		UPDATE clinics SET updated_at = NOW() WHERE id = $1
	`, clinicID)
	if err != nil {
		return 0, fmt.Errorf("failed to update clinic: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return 0, fmt.Errorf("clinic %s: %w", clinicID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE clinic_policies SET active = false WHERE clinic_id = $1 AND active
	`, clinicID); err != nil {
		return 0, fmt.Errorf("failed to deactivate old policy: %w", err)
	}

	var version int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO clinic_policies (clinic_id, version, definition, active, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, true, NOW()
		FROM clinic_policies
		WHERE clinic_id = $1
		RETURNING version
	`, clinicID, definition).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to save new policy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit policy: %w", err)
	}
	return version, nil
}

const selectClinic = `
	SELECT c.id, c.name, c.created_at, c.updated_at, p.version, p.definition
	FROM clinics c
	JOIN clinic_policies p ON p.clinic_id = c.id AND p.active
`

func scanClinic(row interface{ Scan(...any) error }) (*Clinic, error) {
	var c Clinic
	var definition []byte
	if err := row.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt, &c.Version, &definition); err != nil {
		return nil, err
	}
	// decode over the defaults so fields added after the row was written keep sane values
	c.Policy = rules.DefaultPolicy()
	if err := json.Unmarshal(definition, &c.Policy); err != nil {
		return nil, fmt.Errorf("invalid policy for clinic %s: %w", c.ID, err)
	}
	return &c, nil
}

func (s *PostgresPolicyStore) Get(ctx context.Context, clinicID string) (*Clinic, error) {
	c, err := scanClinic(s.db.QueryRowContext(ctx, selectClinic+` WHERE c.id = $1`, clinicID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("clinic %s: %w", clinicID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clinic: %w", err)
	}
	return c, nil
}

func (s *PostgresPolicyStore) List(ctx context.Context) ([]*Clinic, error) {
	rows, err := s.db.QueryContext(ctx, selectClinic+` ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clinics: %w", err)
	}
	defer rows.Close()

	clinics := []*Clinic{}
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clinic: %w", err)
		}
		clinics = append(clinics, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clinics: %w", err)
	}
	return clinics, nil
}

func (s *PostgresPolicyStore) Delete(ctx context.Context, clinicID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clinics WHERE id = $1`, clinicID)
	if err != nil {
		return fmt.Errorf("failed to delete clinic: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("clinic %s: %w", clinicID, ErrNotFound)
	}
	return nil
}

// PostgresStageHistory implements StageHistory backed by PostgreSQL
type PostgresStageHistory struct {
	db *sql.DB
}

func NewPostgresStageHistory(db *sql.DB) *PostgresStageHistory {
	return &PostgresStageHistory{db: db}
}

func scanStage(row interface{ Scan(...any) error }) (*StageRecord, error) {
	var r StageRecord
	var status string
	var completedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.PatientRef, &r.Stage, &status, &completedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = rules.ParseStageStatus(status)
	if completedAt.Valid {
		ts := rules.FromTime(completedAt.Time)
		r.CompletedAt = &ts
	}
	return &r, nil
}

func (s *PostgresStageHistory) PreviousStage(ctx context.Context, patientRef, stage string) (*StageRecord, error) {
	r, err := scanStage(s.db.QueryRowContext(ctx, `
		SELECT id, patient_ref, stage, status, completed_at, updated_at
		FROM stage_records
		WHERE patient_ref = $1 AND lower(stage) = lower($2)
		ORDER BY updated_at DESC, seq DESC
		LIMIT 1
	`, patientRef, stage))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stage %q for patient %s: %w", stage, patientRef, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stage record: %w", err)
	}
	return r, nil
}

func (s *PostgresStageHistory) RecordStage(ctx context.Context, r *StageRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	var completedAt sql.NullTime
	if r.CompletedAt != nil {
		completedAt = sql.NullTime{Time: r.CompletedAt.Time(), Valid: true}
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO stage_records (id, patient_ref, stage, status, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING updated_at
	`, r.ID, r.PatientRef, r.Stage, string(r.Status), completedAt).Scan(&r.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("stage record %s: %w", r.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert stage record: %w", err)
	}
	return nil
}

func (s *PostgresStageHistory) OverrideStatus(ctx context.Context, stageID string, status rules.StageStatus) (*StageRecord, error) {
	if _, err := uuid.Parse(stageID); err != nil {
		return nil, fmt.Errorf("stage record %s: %w", stageID, ErrNotFound)
	}

	r, err := scanStage(s.db.QueryRowContext(ctx, `
		UPDATE stage_records
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, patient_ref, stage, status, completed_at, updated_at
	`, stageID, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stage record %s: %w", stageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to override stage status: %w", err)
	}
	return r, nil
}

// PostgresInventory implements Inventory backed by PostgreSQL
type PostgresInventory struct {
	db *sql.DB
}

func NewPostgresInventory(db *sql.DB) *PostgresInventory {
	return &PostgresInventory{db: db}
}

func (s *PostgresInventory) Stock(ctx context.Context, clinicID, service string) (*StockLevel, error) {
	var l StockLevel
	var threshold sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT clinic_id, service, stock_level, low_stock_threshold, updated_at
		FROM inventory
		WHERE clinic_id = $1 AND lower(service) = lower($2)
	`, clinicID, service).Scan(&l.ClinicID, &l.Service, &l.Level, &threshold, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stock for %s at %s: %w", service, clinicID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock level: %w", err)
	}
	if threshold.Valid {
		t := int(threshold.Int64)
		l.LowStockThreshold = &t
	}
	return &l, nil
}

// SetStock upserts on the case-insensitive service name and keeps the latest spelling
func (s *PostgresInventory) SetStock(ctx context.Context, l *StockLevel) error {
	var threshold sql.NullInt64
	if l.LowStockThreshold != nil {
		threshold = sql.NullInt64{Int64: int64(*l.LowStockThreshold), Valid: true}
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO inventory (clinic_id, service, stock_level, low_stock_threshold, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (clinic_id, lower(service)) DO UPDATE
		SET service = EXCLUDED.service,
		    stock_level = EXCLUDED.stock_level,
		    low_stock_threshold = EXCLUDED.low_stock_threshold,
		    updated_at = EXCLUDED.updated_at
		RETURNING updated_at
	`, l.ClinicID, l.Service, l.Level, threshold).Scan(&l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set stock level: %w", err)
	}
	return nil
}

// PostgresDecisionLog implements DecisionLog backed by PostgreSQL
type PostgresDecisionLog struct {
	db *sql.DB
}

func NewPostgresDecisionLog(db *sql.DB) *PostgresDecisionLog {
	return &PostgresDecisionLog{db: db}
}

func (s *PostgresDecisionLog) Append(ctx context.Context, e *DecisionEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Suggestions == nil {
		e.Suggestions = []string{}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	suggestions, err := json.Marshal(e.Suggestions)
	if err != nil {
		return fmt.Errorf("failed to marshal suggestions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision_log
			(id, clinic_id, action, patient_ref, requested_time, is_valid, reasoning, failed_rule, suggestions, low_stock, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.ClinicID, e.Action, e.PatientRef, e.RequestedTime, e.IsValid, e.Reasoning,
		e.FailedRule, suggestions, e.LowStock, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

func (s *PostgresDecisionLog) Recent(ctx context.Context, clinicID string, limit int) ([]*DecisionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, clinic_id, action, patient_ref, requested_time, is_valid, reasoning, failed_rule, suggestions, low_stock, created_at
		FROM decision_log
		WHERE clinic_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, clinicID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	entries := []*DecisionEntry{}
	for rows.Next() {
		var e DecisionEntry
		var suggestions []byte
		if err := rows.Scan(&e.ID, &e.ClinicID, &e.Action, &e.PatientRef, &e.RequestedTime, &e.IsValid,
			&e.Reasoning, &e.FailedRule, &suggestions, &e.LowStock, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		if err := json.Unmarshal(suggestions, &e.Suggestions); err != nil {
			return nil, fmt.Errorf("invalid suggestions for decision %s: %w", e.ID, err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return entries, nil
}

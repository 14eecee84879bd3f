package main

import (
	"encoding/json"
	"time"

	"github.com/liamcoop/admission/rules"
)

// EvaluateRequest is the body of POST /api/v1/evaluate.
// ClinicID selects the clinic policy; empty means the default clinic.
type EvaluateRequest struct {
	rules.Request
	ClinicID string `json:"clinic_id,omitempty" example:"north"`
}

// EvaluateResponse flattens a decision: the validation result plus diagnostics
type EvaluateResponse struct {
	rules.ValidationResult
	FailedRule     rules.RuleID    `json:"failed_rule,omitempty" example:"operating_hours"`
	Kind           rules.ErrorKind `json:"kind,omitempty" example:"RuleViolation"`
	LowStock       bool            `json:"low_stock"`
	EvaluationTime string          `json:"evaluation_time,omitempty" example:"41µs"`
}

func newEvaluateResponse(d rules.Decision) EvaluateResponse {
	return EvaluateResponse{
		ValidationResult: d.Result,
		FailedRule:       d.FailedRule,
		Kind:             d.Kind,
		LowStock:         d.LowStock,
	}
}

// CheckResponse is returned by the booking check endpoint
type CheckResponse struct {
	EvaluateResponse
	DecisionID string `json:"decision_id" example:"9b2f7c1e-3a54-4b8e-9d0f-2c6e1a7b5d40"`
}

// CreateClinicRequest is the body of POST /api/v1/clinics.
// Policy fields are applied over the defaults; omitted id gets a generated one.
type CreateClinicRequest struct {
	ID     string          `json:"id,omitempty" example:"north"`
	Name   string          `json:"name" example:"North Clinic"`
	Policy json.RawMessage `json:"policy,omitempty"`
}

// ClinicResponse represents a clinic in API responses
type ClinicResponse struct {
	ID        string    `json:"id" example:"north"`
	Name      string    `json:"name" example:"North Clinic"`
	Version   int       `json:"version" example:"1"`
	CreatedAt time.Time `json:"created_at" example:"2026-01-15T10:30:00Z"`
	UpdatedAt time.Time `json:"updated_at" example:"2026-01-15T10:30:00Z"`
}

type ClinicsListResponse struct {
	Clinics []ClinicResponse `json:"clinics"`
}

// PolicyResponse carries the active policy version
type PolicyResponse struct {
	ClinicID   string         `json:"clinic_id" example:"north"`
	Version    int            `json:"version" example:"2"`
	Definition rules.Policy   `json:"definition"`
	Rules      []rules.RuleID `json:"rules"`
}

// SetStockRequest is the body of PUT /api/v1/clinics/{clinicId}/inventory/{service}
type SetStockRequest struct {
	StockLevel        int  `json:"stock_level" example:"12"`
	LowStockThreshold *int `json:"low_stock_threshold,omitempty" example:"5"`
}

// RecordStageRequest is the body of POST /api/v1/stages
type RecordStageRequest struct {
	PatientRef  string  `json:"patient_ref" example:"patient-0042"`
	Stage       string  `json:"stage" example:"Dose 1"`
	Status      string  `json:"status" example:"completed"`
	CompletedAt *string `json:"completed_at,omitempty" example:"2026-01-20 10:00"`
}

// OverrideStageRequest is the body of POST /api/v1/stages/{stageId}/override
type OverrideStageRequest struct {
	Status string `json:"status" example:"completed"`
}

type ErrorResponse struct {
	Error   string `json:"error" example:"clinic not found"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status        string `json:"status" example:"healthy"`
	Storage       string `json:"storage" example:"postgres"`
	ClinicsLoaded int    `json:"clinicsLoaded" example:"3"`
}

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/liamcoop/admission/booking"
	"github.com/liamcoop/admission/clinics"
	"github.com/liamcoop/admission/internal/config"
	"github.com/liamcoop/admission/internal/logger"
	"github.com/liamcoop/admission/rules"
	"github.com/liamcoop/admission/store"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storage := "memory"
	if s.db != nil {
		storage = "postgres"
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Storage:       storage,
		ClinicsLoaded: len(s.clinics.ListClinics()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, logger.Snapshot())
}

// handleEvaluate runs the engine on a request that carries its own stage and stock context
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondBodyError(w, err)
		return
	}

	clinicID := req.ClinicID
	if clinicID == "" {
		clinicID = s.cfg.DefaultClinic
	}

	engine, err := s.clinics.Engine(clinicID)
	if err != nil {
		respondError(w, http.StatusNotFound, "clinic not found", err)
		return
	}

	start := time.Now()
	decision := engine.Evaluate(req.Request)
	elapsed := time.Since(start)

	logger.RecordDecision(decision.Result.IsValid, decision.Kind == rules.KindInvalidFormat, decision.LowStock)
	logger.Debug("evaluated request",
		"clinic", clinicID,
		"appointment_type", req.AppointmentType,
		"valid", decision.Result.IsValid,
		"failed_rule", decision.FailedRule,
		"duration", elapsed,
	)

	resp := newEvaluateResponse(decision)
	resp.EvaluationTime = elapsed.String()
	respondJSON(w, http.StatusOK, resp)
}

// handleCheckBooking looks up the patient's stage and the stock level, then
// evaluates. Rejections are reported with 422.
func (s *Server) handleCheckBooking(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicId")

	var in booking.Input
	if err := decodeBody(w, r, &in); err != nil {
		respondBodyError(w, err)
		return
	}

	start := time.Now()
	out, err := s.booking.Check(r.Context(), clinicID, in)
	switch {
	case errors.Is(err, clinics.ErrClinicNotFound):
		respondError(w, http.StatusNotFound, "clinic not found", err)
		return
	case errors.Is(err, booking.ErrLookupFailed):
		respondError(w, http.StatusServiceUnavailable, "booking context unavailable", err)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to check booking", err)
		return
	}

	resp := CheckResponse{
		EvaluateResponse: newEvaluateResponse(out.Decision),
		DecisionID:       out.DecisionID,
	}
	resp.EvaluationTime = time.Since(start).String()

	status := http.StatusOK
	if !out.Decision.Result.IsValid {
		status = http.StatusUnprocessableEntity
		logger.WarnHttp4xx(status)
	}
	respondJSON(w, status, resp)
}

func (s *Server) handleListClinics(w http.ResponseWriter, r *http.Request) {
	list, err := s.policies.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list clinics", err)
		return
	}

	resp := ClinicsListResponse{Clinics: make([]ClinicResponse, 0, len(list))}
	for _, c := range list {
		resp.Clinics = append(resp.Clinics, clinicResponse(c))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateClinic(w http.ResponseWriter, r *http.Request) {
	var req CreateClinicRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondBodyError(w, err)
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	policy := rules.DefaultPolicy()
	if len(req.Policy) > 0 {
		p, err := decodePolicyJSON(req.Policy)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid policy", err)
			return
		}
		policy = p
	}

	c, err := s.clinics.CreateClinic(r.Context(), req.ID, req.Name, policy)
	switch {
	case errors.Is(err, clinics.ErrInvalidClinic), errors.Is(err, clinics.ErrInvalidPolicy):
		respondError(w, http.StatusBadRequest, "invalid clinic", err)
		return
	case errors.Is(err, store.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "clinic already exists", err)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to create clinic", err)
		return
	}

	respondJSON(w, http.StatusCreated, clinicResponse(c))
}

func (s *Server) handleDeleteClinic(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicId")

	if clinicID == s.cfg.DefaultClinic {
		respondError(w, http.StatusConflict, "the default clinic cannot be deleted", nil)
		return
	}

	err := s.clinics.RemoveClinic(r.Context(), clinicID)
	if errors.Is(err, clinics.ErrClinicNotFound) {
		respondError(w, http.StatusNotFound, "clinic not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete clinic", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetPolicy returns the active policy; ?format=yaml returns the policy file form
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicId")

	engine, err := s.clinics.Engine(clinicID)
	if err != nil {
		respondError(w, http.StatusNotFound, "clinic not found", err)
		return
	}

	c, err := s.policies.Get(r.Context(), clinicID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "policy not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to fetch policy", err)
		return
	}

	if r.URL.Query().Get("format") == "yaml" {
		data, err := config.PolicyToYAML(engine.Policy())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to encode policy", err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("X-Policy-Version", strconv.Itoa(c.Version))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}

	respondJSON(w, http.StatusOK, PolicyResponse{
		ClinicID:   clinicID,
		Version:    c.Version,
		Definition: engine.Policy(),
		Rules:      engine.Rules(),
	})
}

// handleUpdatePolicy replaces the clinic policy without restarting the service.
// The body is a JSON or YAML policy; omitted fields take their default values.
func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicId")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondBodyError(w, err)
		return
	}

	var p rules.Policy
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		p, err = config.PolicyFromYAML(body)
	} else {
		p, err = decodePolicyJSON(body)
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid policy", err)
		return
	}

	version, err := s.clinics.UpdatePolicy(r.Context(), clinicID, p)
	switch {
	case errors.Is(err, clinics.ErrClinicNotFound):
		respondError(w, http.StatusNotFound, "clinic not found", err)
		return
	case errors.Is(err, clinics.ErrInvalidPolicy):
		respondError(w, http.StatusBadRequest, "invalid policy", err)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to update policy", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message":  "policy updated successfully",
		"clinicId": clinicID,
		"version":  version,
	})
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicId")

	limit := s.cfg.DecisionPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = min(n, 1000)
	}

	entries, err := s.booking.Decisions(r.Context(), clinicID, limit)
	if errors.Is(err, clinics.ErrClinicNotFound) {
		respondError(w, http.StatusNotFound, "clinic not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list decisions", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"decisions": entries,
		"count":     len(entries),
	})
}

func (s *Server) handleSetStock(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicId")
	service := chi.URLParam(r, "service")

	if _, err := s.clinics.Engine(clinicID); err != nil {
		respondError(w, http.StatusNotFound, "clinic not found", err)
		return
	}

	var req SetStockRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondBodyError(w, err)
		return
	}
	if req.StockLevel < 0 {
		respondError(w, http.StatusBadRequest, "stock_level must not be negative", nil)
		return
	}
	if req.LowStockThreshold != nil && *req.LowStockThreshold < 0 {
		respondError(w, http.StatusBadRequest, "low_stock_threshold must not be negative", nil)
		return
	}

	level := &store.StockLevel{
		ClinicID:          clinicID,
		Service:           service,
		Level:             req.StockLevel,
		LowStockThreshold: req.LowStockThreshold,
	}
	if err := s.inventory.SetStock(r.Context(), level); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to set stock", err)
		return
	}

	respondJSON(w, http.StatusOK, level)
}

func (s *Server) handleRecordStage(w http.ResponseWriter, r *http.Request) {
	var req RecordStageRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondBodyError(w, err)
		return
	}

	if req.PatientRef == "" || req.Stage == "" {
		respondError(w, http.StatusBadRequest, "patient_ref and stage are required", nil)
		return
	}

	rec := &store.StageRecord{
		PatientRef: req.PatientRef,
		Stage:      req.Stage,
		Status:     rules.StageStatus(req.Status),
	}
	if req.CompletedAt != nil {
		ts, err := rules.ParseTimestamp(*req.CompletedAt)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid completed_at", err)
			return
		}
		rec.CompletedAt = &ts
	}

	err := s.booking.RecordStage(r.Context(), rec)
	if errors.Is(err, booking.ErrInvalidStatus) {
		respondError(w, http.StatusBadRequest, "invalid status", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record stage", err)
		return
	}

	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleOverrideStage(w http.ResponseWriter, r *http.Request) {
	stageID := chi.URLParam(r, "stageId")

	var req OverrideStageRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondBodyError(w, err)
		return
	}

	rec, err := s.booking.OverrideStage(r.Context(), stageID, rules.StageStatus(req.Status))
	switch {
	case errors.Is(err, booking.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, "invalid status", err)
		return
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "stage record not found", err)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to override stage", err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// decodeBody decodes a JSON request body of at most maxBodyBytes
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// respondBodyError answers 413 for an oversized body and 400 for anything else
func respondBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
		return
	}
	respondError(w, http.StatusBadRequest, "invalid request body", err)
}

// decodePolicyJSON decodes data over the default policy, rejecting unknown fields
func decodePolicyJSON(data []byte) (rules.Policy, error) {
	p := rules.DefaultPolicy()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return rules.Policy{}, fmt.Errorf("failed to decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return rules.Policy{}, err
	}
	return p, nil
}

func clinicResponse(c *store.Clinic) ClinicResponse {
	return ClinicResponse{
		ID:        c.ID,
		Name:      c.Name,
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Logger.Error(message, "status", status, "error", err)
	case status >= 400:
		logger.WarnHttp4xx(status)
	}

	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// Package booking is the workflow around the admission engine: it gathers the
// prior-stage and stock snapshots a request needs, evaluates it, records the
// decision and raises low-stock alerts.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/admission/internal/logger"
	"github.com/liamcoop/admission/rules"
	"github.com/liamcoop/admission/store"
)

var (
	ErrLookupFailed  = errors.New("collaborator lookup failed")
	ErrInvalidStatus = errors.New("invalid stage status")
)

// Engines resolves a clinic's engine
type Engines interface {
	Engine(clinicID string) (*rules.Engine, error)
}

// Input is a booking check as received from the caller
type Input struct {
	AppointmentType string `json:"appointment_type"`
	RequestedTime   string `json:"requested_time"`
	PatientRef      string `json:"patient_ref,omitempty"`

	// Service names the stock-gated resource consumed by the appointment, if any
	Service string `json:"service,omitempty"`
}

// Outcome is the result of a booking check
type Outcome struct {
	Decision   rules.Decision `json:"decision"`
	DecisionID string         `json:"decision_id"`
}

// Service runs booking checks. The engine stays pure; all I/O happens here.
type Service struct {
	engines       Engines
	stages        store.StageHistory
	inventory     store.Inventory
	decisions     store.DecisionLog
	notifier      Notifier
	lookupTimeout time.Duration
	now           func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLookupTimeout bounds each stage history and inventory lookup
func WithLookupTimeout(d time.Duration) Option {
	return func(s *Service) { s.lookupTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(engines Engines, stages store.StageHistory, inventory store.Inventory, decisions store.DecisionLog, opts ...Option) *Service {
	s := &Service{
		engines:       engines,
		stages:        stages,
		inventory:     inventory,
		decisions:     decisions,
		notifier:      LogNotifier{},
		lookupTimeout: 2 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check evaluates a booking request for a clinic. Rejections are reported in
// the Outcome; an error means the check itself could not be carried out.
func (s *Service) Check(ctx context.Context, clinicID string, in Input) (*Outcome, error) {
	engine, err := s.engines.Engine(clinicID)
	if err != nil {
		return nil, err
	}

	var decision rules.Decision
	requested, err := rules.ParseTimestamp(in.RequestedTime)
	if err != nil {
		// the engine owns the malformed-input result
		decision = engine.Evaluate(rules.Request{AppointmentType: in.AppointmentType, RequestedTime: in.RequestedTime})
	} else {
		stage, err := s.lookupStage(ctx, engine, in)
		if err != nil {
			return nil, err
		}
		res, err := s.lookupStock(ctx, engine, clinicID, in.Service)
		if err != nil {
			return nil, err
		}

		decision = engine.EvaluateRequest(rules.AppointmentRequest{
			AppointmentType: in.AppointmentType,
			RequestedTime:   requested,
			PatientRef:      in.PatientRef,
		}, stage, res)

		if decision.LowStock && s.notifier != nil {
			s.alert(ctx, clinicID, in, res)
		}
	}

	logger.RecordDecision(decision.Result.IsValid, decision.Kind == rules.KindInvalidFormat, decision.LowStock)

	entry := &store.DecisionEntry{
		ClinicID:      clinicID,
		Action:        in.AppointmentType,
		PatientRef:    in.PatientRef,
		RequestedTime: in.RequestedTime,
		IsValid:       decision.Result.IsValid,
		Reasoning:     decision.Result.Reason,
		FailedRule:    string(decision.FailedRule),
		Suggestions:   suggestionStrings(decision.Result.Suggestions),
		LowStock:      decision.LowStock,
		CreatedAt:     s.now(),
	}
	if err := s.decisions.Append(ctx, entry); err != nil {
		// the decision stands; the audit gap is surfaced through the error counter
		logger.Error("failed to append decision", "clinic", clinicID, "error", err)
	}

	return &Outcome{Decision: decision, DecisionID: entry.ID}, nil
}

// lookupStage fetches the prior-stage record when the appointment type is a follow-on stage
func (s *Service) lookupStage(ctx context.Context, engine *rules.Engine, in Input) (*rules.StageContext, error) {
	dep, ok := engine.Dependency(in.AppointmentType)
	if !ok || in.PatientRef == "" {
		return nil, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	rec, err := s.stages.PreviousStage(lookupCtx, in.PatientRef, dep.Prior)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.WarnLookup()
		logger.Warn("stage history lookup failed", "patient", in.PatientRef, "stage", dep.Prior, "error", err)
		return nil, fmt.Errorf("%w: stage history: %v", ErrLookupFailed, err)
	}
	return rec.Context(), nil
}

// lookupStock fetches the stock snapshot for a stock-gated service
func (s *Service) lookupStock(ctx context.Context, engine *rules.Engine, clinicID, service string) (*rules.ResourceContext, error) {
	if service == "" {
		return nil, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	level, err := s.inventory.Stock(lookupCtx, clinicID, service)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.WarnLookup()
		logger.Warn("inventory lookup failed", "clinic", clinicID, "service", service, "error", err)
		return nil, fmt.Errorf("%w: inventory: %v", ErrLookupFailed, err)
	}

	res := &rules.ResourceContext{StockLevel: level.Level}
	if level.LowStockThreshold != nil {
		res.LowStockThreshold = *level.LowStockThreshold
	} else {
		res.LowStockThreshold = engine.Policy().LowStockThreshold
	}
	return res, nil
}

func (s *Service) alert(ctx context.Context, clinicID string, in Input, res *rules.ResourceContext) {
	a := Alert{
		ClinicID:   clinicID,
		Service:    in.Service,
		StockLevel: res.StockLevel,
		Threshold:  res.LowStockThreshold,
		PatientRef: in.PatientRef,
		RaisedAt:   s.now(),
	}
	if err := s.notifier.LowStock(ctx, a); err != nil {
		logger.Error("failed to deliver low stock alert", "clinic", clinicID, "service", in.Service, "error", err)
	}
}

// RecordStage stores a patient's stage record
func (s *Service) RecordStage(ctx context.Context, r *store.StageRecord) error {
	if r.PatientRef == "" || r.Stage == "" {
		return fmt.Errorf("patient_ref and stage are required")
	}
	if r.Status == "" {
		r.Status = rules.StagePending
	}
	if !validStatus(r.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}
	return s.stages.RecordStage(ctx, r)
}

// OverrideStage manually sets the status of a stage record
func (s *Service) OverrideStage(ctx context.Context, stageID string, status rules.StageStatus) (*store.StageRecord, error) {
	if !validStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	rec, err := s.stages.OverrideStatus(ctx, stageID, status)
	if err != nil {
		return nil, err
	}
	logger.Info("stage status overridden", "stage_id", stageID, "status", status)
	return rec, nil
}

// Decisions returns the most recent decisions for a clinic
func (s *Service) Decisions(ctx context.Context, clinicID string, limit int) ([]*store.DecisionEntry, error) {
	if _, err := s.engines.Engine(clinicID); err != nil {
		return nil, err
	}
	return s.decisions.Recent(ctx, clinicID, limit)
}

func validStatus(st rules.StageStatus) bool {
	switch st {
	case rules.StageNone, rules.StagePending, rules.StageCompleted:
		return true
	}
	return false
}

func suggestionStrings(ts []rules.Timestamp) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}

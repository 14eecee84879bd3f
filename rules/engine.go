package rules

import (
	"fmt"
	"sync/atomic"
)

// Engine evaluates appointment requests against a compiled policy.
// Evaluation is lock-free: the compiled policy is read through an atomic
// pointer and replaced wholesale by Reload, never mutated in place.
type Engine struct {
	state    atomic.Pointer[compiledPolicy]
	capacity CapacityLookup
}

type compiledPolicy struct {
	policy   Policy
	stages   StageResolver
	pipeline Pipeline
}

// Option configures an Engine
type Option func(*Engine)

// WithCapacityLookup injects an occupancy snapshot consulted by the capacity
// rule in addition to the policy's fully booked hours and expression.
func WithCapacityLookup(l CapacityLookup) Option {
	return func(en *Engine) {
		en.capacity = l
	}
}

// NewEngine validates and compiles p
func NewEngine(p Policy, opts ...Option) (*Engine, error) {
	en := &Engine{}
	for _, opt := range opts {
		opt(en)
	}

	if err := en.Reload(p); err != nil {
		return nil, err
	}
	return en, nil
}

// Reload compiles p and atomically swaps it in. In-flight evaluations finish
// against the policy they started with. On error the current policy is kept.
func (en *Engine) Reload(p Policy) error {
	compiled, err := en.compile(p)
	if err != nil {
		return err
	}
	en.state.Store(compiled)
	return nil
}

func (en *Engine) compile(p Policy) (*compiledPolicy, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	p = p.clone()

	var capacity anyCapacity
	if len(p.FullyBookedHours) > 0 {
		capacity = append(capacity, NewFullyBookedHours(p.FullyBookedHours))
	}
	if p.CapacityExpression != "" {
		expr, err := CompileCapacityExpression(p.CapacityExpression)
		if err != nil {
			return nil, fmt.Errorf("invalid capacity expression: %w", err)
		}
		capacity = append(capacity, expr)
	}
	if en.capacity != nil {
		capacity = append(capacity, en.capacity)
	}

	stages := NewStageResolver(p.StageMarkers, p.MinStageGapDays)

	return &compiledPolicy{
		policy:   p,
		stages:   stages,
		pipeline: NewPipeline(p, capacity, stages),
	}, nil
}

// Policy returns a copy of the active policy
func (en *Engine) Policy() Policy {
	return en.state.Load().policy.clone()
}

// Rules returns the enabled rules in evaluation order
func (en *Engine) Rules() []RuleID {
	return en.state.Load().pipeline.Rules()
}

// Dependency reports the prior stage appointmentType depends on, so callers
// know which stage record to fetch before evaluating.
func (en *Engine) Dependency(appointmentType string) (Dependency, bool) {
	return en.state.Load().stages.Dependency(appointmentType)
}

// Evaluate parses a wire-level request and evaluates it.
// Every failure, including malformed input, is reported in the returned Decision.
func (en *Engine) Evaluate(in Request) Decision {
	state := en.state.Load()

	requested, err := ParseTimestamp(in.RequestedTime)
	if err != nil {
		return invalidFormat()
	}

	var stage *StageContext
	if in.PreviousStageStatus != "" || in.PreviousStageTime != nil {
		stage = &StageContext{PreviousStageStatus: ParseStageStatus(in.PreviousStageStatus)}
		if in.PreviousStageTime != nil && *in.PreviousStageTime != "" {
			prev, err := ParseTimestamp(*in.PreviousStageTime)
			if err != nil {
				return invalidFormat()
			}
			stage.PreviousStageTime = &prev
		}
	}

	var res *ResourceContext
	if in.StockLevel != nil {
		res = &ResourceContext{
			StockLevel:        *in.StockLevel,
			LowStockThreshold: state.policy.LowStockThreshold,
		}
		if in.LowStockThreshold != nil {
			res.LowStockThreshold = *in.LowStockThreshold
		}
	}

	req := AppointmentRequest{
		AppointmentType: in.AppointmentType,
		RequestedTime:   requested,
		PatientRef:      in.PatientRef,
	}
	return state.evaluate(req, stage, res)
}

// EvaluateRequest evaluates an already parsed request. stage and res are
// optional and nil when the caller has no such record.
func (en *Engine) EvaluateRequest(req AppointmentRequest, stage *StageContext, res *ResourceContext) Decision {
	if req.RequestedTime.IsZero() {
		return invalidFormat()
	}
	return en.state.Load().evaluate(req, stage, res)
}

func (c *compiledPolicy) evaluate(req AppointmentRequest, stage *StageContext, res *ResourceContext) Decision {
	failure, lowStock := c.pipeline.Run(req, stage, res)
	if failure == nil {
		return Decision{
			Result: ValidationResult{
				IsValid:     true,
				Reason:      ReasonAccepted,
				Suggestions: []Timestamp{},
			},
			LowStock: lowStock,
		}
	}

	suggestions := []Timestamp{}
	if alt, ok := Suggest(failure.Rule.ID, req.RequestedTime, c.policy); ok {
		candidate := req
		candidate.RequestedTime = alt
		// a suggestion must not be rejected by a rule ahead of the one that failed
		if c.pipeline.PassesBefore(failure.Index, candidate, stage, res) {
			suggestions = append(suggestions, alt)
		}
	}

	return Decision{
		Result: ValidationResult{
			IsValid:     false,
			Reason:      failure.Outcome.Reason,
			Suggestions: suggestions,
		},
		FailedRule: failure.Rule.ID,
		Kind:       failure.Rule.Kind,
	}
}

func invalidFormat() Decision {
	return Decision{
		Result: ValidationResult{
			IsValid:     false,
			Reason:      ReasonInvalidFormat,
			Suggestions: []Timestamp{},
		},
		Kind: KindInvalidFormat,
	}
}

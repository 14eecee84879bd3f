package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// CapacityLookup reports externally supplied occupancy for a requested slot.
// Implementations must answer from a pre-fetched snapshot; the engine calls
// them synchronously on the evaluation path.
type CapacityLookup interface {
	FullyBooked(req AppointmentRequest) bool
}

// CapacityFunc adapts a plain function to CapacityLookup
type CapacityFunc func(req AppointmentRequest) bool

func (f CapacityFunc) FullyBooked(req AppointmentRequest) bool { return f(req) }

// FullyBookedHours treats every slot starting in one of the listed hours as full
type FullyBookedHours map[int]bool

func NewFullyBookedHours(hours []int) FullyBookedHours {
	set := make(FullyBookedHours, len(hours))
	for _, h := range hours {
		set[h] = true
	}
	return set
}

func (h FullyBookedHours) FullyBooked(req AppointmentRequest) bool {
	return h[req.RequestedTime.Hour]
}

// ExpressionCapacity evaluates a CEL expression over the requested slot.
// Variables: hour, minute, weekday (0 is Sunday), date ("YYYY-MM-DD"),
// appointment_type and patient_ref.
type ExpressionCapacity struct {
	Expression string
	program    cel.Program
}

var capacityEnv = mustCapacityEnv()

func mustCapacityEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("hour", cel.IntType),
		cel.Variable("minute", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("date", cel.StringType),
		cel.Variable("appointment_type", cel.StringType),
		cel.Variable("patient_ref", cel.StringType),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create capacity CEL environment: %v", err))
	}
	return env
}

// CompileCapacityExpression type-checks expr and prepares a cost-limited program.
// The expression must evaluate to a bool; true means the slot is fully booked.
func CompileCapacityExpression(expr string) (*ExpressionCapacity, error) {
	ast, issues := capacityEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("capacity expression must return bool, got %s", ast.OutputType())
	}

	prog, err := capacityEnv.Program(ast, cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &ExpressionCapacity{Expression: expr, program: prog}, nil
}

// FullyBooked evaluates the expression. Evaluation errors and non-boolean
// results count as not booked so the rule stays total.
func (c *ExpressionCapacity) FullyBooked(req AppointmentRequest) bool {
	ts := req.RequestedTime
	out, _, err := c.program.Eval(map[string]any{
		"hour":             int64(ts.Hour),
		"minute":           int64(ts.Minute),
		"weekday":          int64(ts.Weekday),
		"date":             fmt.Sprintf("%04d-%02d-%02d", ts.Year, ts.Month, ts.Day),
		"appointment_type": req.AppointmentType,
		"patient_ref":      req.PatientRef,
	})
	if err != nil {
		return false
	}

	booked, ok := out.Value().(bool)
	return ok && booked
}

// anyCapacity is full when any of its lookups is full
type anyCapacity []CapacityLookup

func (a anyCapacity) FullyBooked(req AppointmentRequest) bool {
	for _, l := range a {
		if l.FullyBooked(req) {
			return true
		}
	}
	return false
}

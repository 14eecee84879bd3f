package rules

import (
	"fmt"
	"time"
)

// Check is a pure admission predicate. It must terminate for every input and
// never panic; malformed timestamps are rejected before any check runs.
type Check func(req AppointmentRequest, stage *StageContext, res *ResourceContext) RuleOutcome

// Rule is one step of the admission pipeline
type Rule struct {
	ID    RuleID
	Kind  ErrorKind
	Check Check
}

// Pipeline is the ordered list of enabled rules. Order is part of the contract:
// it decides which reason and suggestion a caller sees when several rules fail.
type Pipeline struct {
	rules []Rule
}

// Failure describes the first failing rule of a run
type Failure struct {
	Index   int
	Rule    Rule
	Outcome RuleOutcome
}

// NewPipeline builds the canonical rule order for p, skipping disabled rules
func NewPipeline(p Policy, capacity CapacityLookup, stages StageResolver) Pipeline {
	all := []Rule{
		operatingHoursRule(p),
		weeklyClosureRule(p),
		blockedIntervalRule(p),
		capacityRule(capacity),
		stageDependencyRule(stages),
		resourceAdmissionRule(),
	}

	enabled := make([]Rule, 0, len(all))
	for _, r := range all {
		if p.Enabled(r.ID) {
			enabled = append(enabled, r)
		}
	}
	return Pipeline{rules: enabled}
}

// Rules returns the IDs of the enabled rules in evaluation order
func (pl Pipeline) Rules() []RuleID {
	ids := make([]RuleID, len(pl.rules))
	for i, r := range pl.rules {
		ids[i] = r.ID
	}
	return ids
}

// Run evaluates rules in order and stops at the first failure.
// lowStock is only meaningful when failure is nil.
func (pl Pipeline) Run(req AppointmentRequest, stage *StageContext, res *ResourceContext) (failure *Failure, lowStock bool) {
	for i, r := range pl.rules {
		out := r.Check(req, stage, res)
		if !out.Passed {
			return &Failure{Index: i, Rule: r, Outcome: out}, false
		}
		lowStock = lowStock || out.LowStock
	}
	return nil, lowStock
}

// PassesBefore reports whether every rule ahead of position n passes
func (pl Pipeline) PassesBefore(n int, req AppointmentRequest, stage *StageContext, res *ResourceContext) bool {
	for _, r := range pl.rules[:n] {
		if !r.Check(req, stage, res).Passed {
			return false
		}
	}
	return true
}

func operatingHoursRule(p Policy) Rule {
	reason := fmt.Sprintf("Clinic is closed during these hours (open %02d:00-%02d:00)", p.OpenHour, p.CloseHour)
	return Rule{
		ID:   RuleOperatingHours,
		Kind: KindRuleViolation,
		Check: func(req AppointmentRequest, _ *StageContext, _ *ResourceContext) RuleOutcome {
			h := req.RequestedTime.Hour
			if h < p.OpenHour || h >= p.CloseHour {
				return fail(reason)
			}
			return pass()
		},
	}
}

func weeklyClosureRule(p Policy) Rule {
	return Rule{
		ID:   RuleWeeklyClosure,
		Kind: KindRuleViolation,
		Check: func(req AppointmentRequest, _ *StageContext, _ *ResourceContext) RuleOutcome {
			wd := req.RequestedTime.Weekday
			if p.IsClosedOn(int(wd)) {
				return fail(fmt.Sprintf("Clinic is closed on %s", wd))
			}
			return pass()
		},
	}
}

func blockedIntervalRule(p Policy) Rule {
	return Rule{
		ID:   RuleBlockedInterval,
		Kind: KindRuleViolation,
		Check: func(req AppointmentRequest, _ *StageContext, _ *ResourceContext) RuleOutcome {
			if iv, blocked := p.BlockedAt(req.RequestedTime.Hour); blocked {
				return fail(fmt.Sprintf("Requested time falls in a blocked interval (%02d:00-%02d:00)", iv.StartHour, iv.EndHour))
			}
			return pass()
		},
	}
}

func capacityRule(capacity CapacityLookup) Rule {
	return Rule{
		ID:   RuleCapacity,
		Kind: KindRuleViolation,
		Check: func(req AppointmentRequest, _ *StageContext, _ *ResourceContext) RuleOutcome {
			if capacity != nil && capacity.FullyBooked(req) {
				return fail("Requested slot is fully booked")
			}
			return pass()
		},
	}
}

func stageDependencyRule(stages StageResolver) Rule {
	return Rule{
		ID:   RuleStageDependency,
		Kind: KindDependencyUnsatisfied,
		Check: func(req AppointmentRequest, stage *StageContext, _ *ResourceContext) RuleOutcome {
			return stages.Resolve(req, stage)
		},
	}
}

func resourceAdmissionRule() Rule {
	return Rule{
		ID:   RuleResourceAdmission,
		Kind: KindResourceExhausted,
		Check: func(_ AppointmentRequest, _ *StageContext, res *ResourceContext) RuleOutcome {
			if res == nil {
				return pass()
			}
			if res.StockLevel <= 0 {
				return fail("Required stock is unavailable")
			}
			return RuleOutcome{Passed: true, LowStock: res.StockLevel <= res.LowStockThreshold}
		},
	}
}

// hourDuration converts whole hours to a time.Duration
func hourDuration(h int) time.Duration {
	return time.Duration(h) * time.Hour
}

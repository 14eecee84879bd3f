package rules

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
)

// Interval is a recurring blocked hour range [StartHour, EndHour)
type Interval struct {
	StartHour int `yaml:"start_hour" json:"start_hour"`
	EndHour   int `yaml:"end_hour" json:"end_hour"`
}

// Contains reports whether hour falls inside the interval
func (iv Interval) Contains(hour int) bool {
	return hour >= iv.StartHour && hour < iv.EndHour
}

// Hours is the length of the interval in hours
func (iv Interval) Hours() int {
	return iv.EndHour - iv.StartHour
}

// Policy is the deployment configuration of the admission pipeline.
// It is treated as read-only once handed to an Engine.
type Policy struct {
	OpenHour           int        `yaml:"open_hour" json:"open_hour"`
	CloseHour          int        `yaml:"close_hour" json:"close_hour"`
	ClosedWeekdays     []int      `yaml:"closed_weekdays" json:"closed_weekdays"`
	BlockedIntervals   []Interval `yaml:"blocked_intervals" json:"blocked_intervals"`
	MinStageGapDays    int        `yaml:"min_stage_gap_days" json:"min_stage_gap_days"`
	FullyBookedHours   []int      `yaml:"fully_booked_hours" json:"fully_booked_hours"`
	CapacityExpression string     `yaml:"capacity_expression,omitempty" json:"capacity_expression,omitempty"`
	LowStockThreshold  int        `yaml:"low_stock_threshold" json:"low_stock_threshold"`
	StageMarkers       []string   `yaml:"stage_markers" json:"stage_markers"`
	DisabledRules      []RuleID   `yaml:"disabled_rules,omitempty" json:"disabled_rules,omitempty"`
}

// DefaultPolicy returns the stock clinic policy: 09:00-17:00, closed Sundays,
// lunch blocked 13:00-14:00, 21 days between doses.
func DefaultPolicy() Policy {
	return Policy{
		OpenHour:          9,
		CloseHour:         17,
		ClosedWeekdays:    []int{0},
		BlockedIntervals:  []Interval{{StartHour: 13, EndHour: 14}},
		MinStageGapDays:   21,
		FullyBookedHours:  []int{},
		LowStockThreshold: 5,
		StageMarkers:      []string{"Dose", "Stage"},
	}
}

var knownRules = map[RuleID]bool{
	RuleOperatingHours:    true,
	RuleWeeklyClosure:     true,
	RuleBlockedInterval:   true,
	RuleCapacity:          true,
	RuleStageDependency:   true,
	RuleResourceAdmission: true,
}

var markerPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z ]{0,31}$`)

// Validate checks that the policy can be compiled into a pipeline.
// It does not compile the capacity expression; NewEngine reports those errors.
func (p Policy) Validate() error {
	if p.OpenHour < 0 || p.OpenHour > 23 {
		return fmt.Errorf("open_hour %d out of range 0-23", p.OpenHour)
	}
	if p.CloseHour < 1 || p.CloseHour > 24 {
		return fmt.Errorf("close_hour %d out of range 1-24", p.CloseHour)
	}
	if p.OpenHour >= p.CloseHour {
		return fmt.Errorf("open_hour %d must be before close_hour %d", p.OpenHour, p.CloseHour)
	}

	closed := make(map[int]bool, len(p.ClosedWeekdays))
	for _, d := range p.ClosedWeekdays {
		if d < 0 || d > 6 {
			return fmt.Errorf("closed weekday %d out of range 0-6 (0 is Sunday)", d)
		}
		closed[d] = true
	}
	if len(closed) == 7 {
		return fmt.Errorf("closed_weekdays closes every day of the week")
	}

	for _, iv := range p.BlockedIntervals {
		if iv.StartHour < 0 || iv.EndHour > 24 || iv.StartHour >= iv.EndHour {
			return fmt.Errorf("blocked interval %02d:00-%02d:00 is not a valid hour range", iv.StartHour, iv.EndHour)
		}
	}

	if p.MinStageGapDays < 0 {
		return fmt.Errorf("min_stage_gap_days must not be negative, got %d", p.MinStageGapDays)
	}

	for _, h := range p.FullyBookedHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("fully booked hour %d out of range 0-23", h)
		}
	}

	if p.LowStockThreshold < 0 {
		return fmt.Errorf("low_stock_threshold must not be negative, got %d", p.LowStockThreshold)
	}

	for _, m := range p.StageMarkers {
		if strings.TrimSpace(m) != m || !markerPattern.MatchString(m) {
			return fmt.Errorf("stage marker %q must be a word of letters", m)
		}
	}

	for _, id := range p.DisabledRules {
		if !knownRules[id] {
			return fmt.Errorf("unknown rule %q in disabled_rules", id)
		}
	}

	return nil
}

// Enabled reports whether the rule is active under this policy
func (p Policy) Enabled(id RuleID) bool {
	for _, d := range p.DisabledRules {
		if d == id {
			return false
		}
	}
	return true
}

// IsClosedOn reports whether the weekday is in the closed set
func (p Policy) IsClosedOn(weekday int) bool {
	for _, d := range p.ClosedWeekdays {
		if d == weekday {
			return true
		}
	}
	return false
}

// BlockedAt returns the first blocked interval containing hour.
// Engines hold their intervals sorted by start hour.
func (p Policy) BlockedAt(hour int) (Interval, bool) {
	for _, iv := range p.BlockedIntervals {
		if iv.Contains(hour) {
			return iv, true
		}
	}
	return Interval{}, false
}

// clone deep-copies the slices so callers cannot mutate a policy an engine holds
func (p Policy) clone() Policy {
	c := p
	c.ClosedWeekdays = slices.Clone(p.ClosedWeekdays)
	c.BlockedIntervals = slices.Clone(p.BlockedIntervals)
	c.FullyBookedHours = slices.Clone(p.FullyBookedHours)
	c.StageMarkers = slices.Clone(p.StageMarkers)
	c.DisabledRules = slices.Clone(p.DisabledRules)
	sort.SliceStable(c.BlockedIntervals, func(i, j int) bool {
		return c.BlockedIntervals[i].StartHour < c.BlockedIntervals[j].StartHour
	})
	return c
}

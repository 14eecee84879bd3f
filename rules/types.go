package rules

// RuleID identifies one admission rule in the pipeline
type RuleID string

const (
	RuleOperatingHours    RuleID = "operating_hours"
	RuleWeeklyClosure     RuleID = "weekly_closure"
	RuleBlockedInterval   RuleID = "blocked_interval"
	RuleCapacity          RuleID = "capacity"
	RuleStageDependency   RuleID = "stage_dependency"
	RuleResourceAdmission RuleID = "resource_admission"
)

// ErrorKind classifies why a request was rejected
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindInvalidFormat         ErrorKind = "InvalidFormat"
	KindRuleViolation         ErrorKind = "RuleViolation"
	KindDependencyUnsatisfied ErrorKind = "DependencyUnsatisfied"
	KindResourceExhausted     ErrorKind = "ResourceExhausted"
)

const (
	ReasonAccepted      = "Slot available and rules met."
	ReasonInvalidFormat = "Invalid date format"
)

// StageStatus is the state of the prior stage of a multi-stage protocol
type StageStatus string

const (
	StageNone      StageStatus = "none"
	StagePending   StageStatus = "pending"
	StageCompleted StageStatus = "completed"
)

// ParseStageStatus maps the wire value onto a StageStatus.
// An empty value means no prior stage; unknown values are reported as pending
// so that a follow-on stage is never admitted on a status we cannot read.
func ParseStageStatus(s string) StageStatus {
	switch StageStatus(s) {
	case "", StageNone:
		return StageNone
	case StageCompleted:
		return StageCompleted
	default:
		return StagePending
	}
}

// AppointmentRequest is the immutable input to a single evaluation
type AppointmentRequest struct {
	AppointmentType string    `json:"appointment_type"`
	RequestedTime   Timestamp `json:"requested_time"`
	PatientRef      string    `json:"patient_ref,omitempty"`
}

// StageContext carries the prior-stage record for follow-on appointment types
type StageContext struct {
	PreviousStageStatus StageStatus `json:"previous_stage_status"`
	PreviousStageTime   *Timestamp  `json:"previous_stage_time,omitempty"`
}

// ResourceContext is a read-only stock snapshot for stock-gated services
type ResourceContext struct {
	StockLevel        int `json:"stock_level"`
	LowStockThreshold int `json:"low_stock_threshold"`
}

// RuleOutcome is the result of a single rule
type RuleOutcome struct {
	Passed bool
	Reason string

	// LowStock is an advisory raised by the resource rule on a passing outcome
	LowStock bool
}

func pass() RuleOutcome { return RuleOutcome{Passed: true} }

func fail(reason string) RuleOutcome { return RuleOutcome{Reason: reason} }

// ValidationResult is the sole output returned to the booking workflow
type ValidationResult struct {
	IsValid     bool        `json:"is_valid"`
	Reason      string      `json:"reason"`
	Suggestions []Timestamp `json:"suggestions"`
}

// Decision wraps a ValidationResult with diagnostics that are not part of it.
// LowStock is the advisory flag for the external stock-alert collaborator and
// must not be treated as a reservation.
type Decision struct {
	Result     ValidationResult `json:"result"`
	FailedRule RuleID           `json:"failed_rule,omitempty"`
	Kind       ErrorKind        `json:"kind,omitempty"`
	LowStock   bool             `json:"low_stock"`
}

// Request is the wire-level input accepted from the calling workflow
type Request struct {
	AppointmentType     string  `json:"appointment_type"`
	RequestedTime       string  `json:"requested_time"`
	PatientRef          string  `json:"patient_ref,omitempty"`
	PreviousStageStatus string  `json:"previous_stage_status,omitempty"`
	PreviousStageTime   *string `json:"previous_stage_time,omitempty"`
	StockLevel          *int    `json:"stock_level,omitempty"`
	LowStockThreshold   *int    `json:"low_stock_threshold,omitempty"`
}

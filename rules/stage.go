package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const ReasonPriorStageIncomplete = "prior stage must be completed first"

// Dependency is the single edge from a follow-on stage to the stage before it
type Dependency struct {
	Stage   string `json:"stage"`
	Prior   string `json:"prior"`
	Ordinal int    `json:"ordinal"`
}

// StageResolver decides whether the dependency of a follow-on stage is satisfied.
// Appointment types declare a dependency by carrying a stage marker with an
// ordinal of 2 or more, e.g. "Dose 2" or "Hepatitis B Stage 3".
type StageResolver struct {
	MinGapDays int
	pattern    *regexp.Regexp
}

// NewStageResolver builds a resolver recognising the given stage markers.
// A minGapDays of zero disables the gap check.
func NewStageResolver(markers []string, minGapDays int) StageResolver {
	r := StageResolver{MinGapDays: minGapDays}
	if len(markers) == 0 {
		return r
	}

	quoted := make([]string, 0, len(markers))
	for _, m := range markers {
		quoted = append(quoted, regexp.QuoteMeta(m))
	}
	r.pattern = regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\s*#?\s*(\d{1,3})\b`)
	return r
}

// Dependency returns the declared prior stage of appointmentType, if any
func (r StageResolver) Dependency(appointmentType string) (Dependency, bool) {
	if r.pattern == nil {
		return Dependency{}, false
	}

	loc := r.pattern.FindStringSubmatchIndex(appointmentType)
	if loc == nil {
		return Dependency{}, false
	}

	ordinal, err := strconv.Atoi(appointmentType[loc[4]:loc[5]])
	if err != nil || ordinal < 2 {
		return Dependency{}, false
	}

	marker := appointmentType[loc[2]:loc[3]]
	prior := appointmentType[:loc[0]] + marker + " " + strconv.Itoa(ordinal-1) + appointmentType[loc[1]:]

	return Dependency{
		Stage:   appointmentType,
		Prior:   prior,
		Ordinal: ordinal,
	}, true
}

// Resolve checks the prior-stage record against the declared dependency.
// A completed prior stage without a recorded time skips the gap check.
func (r StageResolver) Resolve(req AppointmentRequest, stage *StageContext) RuleOutcome {
	if _, ok := r.Dependency(req.AppointmentType); !ok {
		return pass()
	}

	if stage == nil || stage.PreviousStageStatus != StageCompleted {
		return fail(ReasonPriorStageIncomplete)
	}

	if r.MinGapDays > 0 && stage.PreviousStageTime != nil {
		if req.RequestedTime.DaysSince(*stage.PreviousStageTime) < r.MinGapDays {
			return fail(fmt.Sprintf("prior stage must be completed at least %d days before this stage", r.MinGapDays))
		}
	}

	return pass()
}

package rules

import "testing"

func TestStageResolver_Dependency(t *testing.T) {
	r := NewStageResolver([]string{"Dose", "Stage"}, 21)

	tests := []struct {
		appointmentType string
		wantOK          bool
		wantPrior       string
	}{
		{"Dose 2", true, "Dose 1"},
		{"dose 2", true, "dose 1"},
		{"Hepatitis B Dose 3", true, "Hepatitis B Dose 2"},
		{"Dose #2 booster", true, "Dose 1 booster"},
		{"Implant Stage 2", true, "Implant Stage 1"},
		{"Dose 10", true, "Dose 9"},
		{"Dose 1", false, ""},
		{"Dose 0", false, ""},
		{"Vaccination", false, ""},
		{"Overdose 2", false, ""},
		{"Dose2x", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.appointmentType, func(t *testing.T) {
			dep, ok := r.Dependency(tt.appointmentType)
			if ok != tt.wantOK {
				t.Fatalf("Dependency(%q) ok = %v, want %v", tt.appointmentType, ok, tt.wantOK)
			}
			if ok && dep.Prior != tt.wantPrior {
				t.Errorf("Prior = %q, want %q", dep.Prior, tt.wantPrior)
			}
		})
	}
}

func TestStageResolver_NoMarkers(t *testing.T) {
	r := NewStageResolver(nil, 21)

	if _, ok := r.Dependency("Dose 2"); ok {
		t.Error("resolver without markers should declare no dependencies")
	}
	req := AppointmentRequest{AppointmentType: "Dose 2", RequestedTime: MustParseTimestamp("2026-02-16 10:00")}
	if out := r.Resolve(req, nil); !out.Passed {
		t.Errorf("expected pass, got %q", out.Reason)
	}
}

func TestStageResolver_Resolve(t *testing.T) {
	requested := MustParseTimestamp("2026-02-17 10:00")
	prev20 := requested.AddDays(-20)
	prev21 := requested.AddDays(-21)

	tests := []struct {
		name   string
		gap    int
		stage  *StageContext
		passed bool
	}{
		{"no record", 21, nil, false},
		{"status none", 21, &StageContext{PreviousStageStatus: StageNone}, false},
		{"pending", 21, &StageContext{PreviousStageStatus: StagePending, PreviousStageTime: &prev21}, false},
		{"completed too recently", 21, &StageContext{PreviousStageStatus: StageCompleted, PreviousStageTime: &prev20}, false},
		{"completed at the gap", 21, &StageContext{PreviousStageStatus: StageCompleted, PreviousStageTime: &prev21}, true},
		{"completed without time", 21, &StageContext{PreviousStageStatus: StageCompleted}, true},
		{"gap disabled", 0, &StageContext{PreviousStageStatus: StageCompleted, PreviousStageTime: &prev20}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewStageResolver([]string{"Dose"}, tt.gap)
			out := r.Resolve(AppointmentRequest{AppointmentType: "Dose 2", RequestedTime: requested}, tt.stage)
			if out.Passed != tt.passed {
				t.Errorf("Passed = %v, want %v (reason %q)", out.Passed, tt.passed, out.Reason)
			}
		})
	}
}

func TestParseStageStatus(t *testing.T) {
	tests := map[string]StageStatus{
		"":          StageNone,
		"none":      StageNone,
		"completed": StageCompleted,
		"pending":   StagePending,
		"scheduled": StagePending,
		"COMPLETED": StagePending,
	}
	for in, want := range tests {
		if got := ParseStageStatus(in); got != want {
			t.Errorf("ParseStageStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

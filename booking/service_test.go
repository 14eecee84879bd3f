package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/liamcoop/admission/clinics"
	"github.com/liamcoop/admission/rules"
	"github.com/liamcoop/admission/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (n *recordingNotifier) LowStock(_ context.Context, a Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

type failingStages struct{ store.StageHistory }

func (failingStages) PreviousStage(context.Context, string, string) (*store.StageRecord, error) {
	return nil, errors.New("connection refused")
}

type slowInventory struct{ store.Inventory }

func (slowInventory) Stock(ctx context.Context, _, _ string) (*store.StockLevel, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixture struct {
	svc       *Service
	stages    *store.InMemoryStageHistory
	inventory *store.InMemoryInventory
	decisions *store.InMemoryDecisionLog
	notifier  *recordingNotifier
}

var fixedNow = time.Date(2026, 2, 16, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := clinics.NewManager(store.NewInMemoryPolicyStore())
	if _, err := m.CreateClinic(context.Background(), "north", "North Clinic", rules.DefaultPolicy()); err != nil {
		t.Fatalf("CreateClinic failed: %v", err)
	}

	f := &fixture{
		stages:    store.NewInMemoryStageHistory(),
		inventory: store.NewInMemoryInventory(),
		decisions: store.NewInMemoryDecisionLog(),
		notifier:  &recordingNotifier{},
	}
	f.svc = NewService(m, f.stages, f.inventory, f.decisions,
		WithNotifier(f.notifier),
		WithClock(func() time.Time { return fixedNow }),
	)
	return f
}

func TestCheck_Accepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Check(ctx, "north", Input{AppointmentType: "Checkup", RequestedTime: "2026-02-16 10:00", PatientRef: "p-1"})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !out.Decision.Result.IsValid || out.Decision.Result.Reason != rules.ReasonAccepted {
		t.Errorf("Decision = %+v", out.Decision)
	}
	if out.DecisionID == "" {
		t.Error("expected decision ID")
	}

	entries, _ := f.decisions.Recent(ctx, "north", 10)
	if len(entries) != 1 {
		t.Fatalf("expected one decision entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != "Checkup" || !e.IsValid || e.Reasoning != rules.ReasonAccepted || !e.CreatedAt.Equal(fixedNow) {
		t.Errorf("entry = %+v", e)
	}
}

func TestCheck_RejectedWithSuggestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Check(ctx, "north", Input{AppointmentType: "Checkup", RequestedTime: "2026-02-15 23:00"})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if out.Decision.Result.IsValid {
		t.Fatal("expected rejection")
	}

	entries, _ := f.decisions.Recent(ctx, "north", 1)
	if len(entries[0].Suggestions) != 1 || entries[0].Suggestions[0] != "2026-02-16 09:00" {
		t.Errorf("logged suggestions = %v", entries[0].Suggestions)
	}
	if entries[0].FailedRule != string(rules.RuleOperatingHours) {
		t.Errorf("FailedRule = %q", entries[0].FailedRule)
	}
}

func TestCheck_InvalidFormatIsLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Check(ctx, "north", Input{AppointmentType: "Checkup", RequestedTime: "tomorrow"})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if out.Decision.Kind != rules.KindInvalidFormat || out.Decision.Result.Reason != rules.ReasonInvalidFormat {
		t.Errorf("Decision = %+v", out.Decision)
	}
	if entries, _ := f.decisions.Recent(ctx, "north", 1); len(entries) != 1 {
		t.Error("malformed requests should be logged too")
	}
}

func TestCheck_UnknownClinic(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Check(context.Background(), "south", Input{AppointmentType: "Checkup", RequestedTime: "2026-02-16 10:00"})
	if !errors.Is(err, clinics.ErrClinicNotFound) {
		t.Errorf("error = %v, want ErrClinicNotFound", err)
	}
}

func TestCheck_StageDependency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := Input{AppointmentType: "Dose 2", RequestedTime: "2026-02-17 10:00", PatientRef: "p-1"}

	out, err := f.svc.Check(ctx, "north", in)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if out.Decision.Result.Reason != rules.ReasonPriorStageIncomplete {
		t.Errorf("without history: reason = %q", out.Decision.Result.Reason)
	}

	rec := &store.StageRecord{PatientRef: "p-1", Stage: "Dose 1", Status: rules.StagePending}
	if err := f.svc.RecordStage(ctx, rec); err != nil {
		t.Fatalf("RecordStage failed: %v", err)
	}
	out, _ = f.svc.Check(ctx, "north", in)
	if out.Decision.Result.Reason != rules.ReasonPriorStageIncomplete {
		t.Errorf("pending history: reason = %q", out.Decision.Result.Reason)
	}

	done := rules.MustParseTimestamp("2026-01-27 10:00")
	completed := &store.StageRecord{PatientRef: "p-1", Stage: "Dose 1", Status: rules.StageCompleted, CompletedAt: &done, UpdatedAt: time.Now().Add(time.Hour)}
	if err := f.svc.RecordStage(ctx, completed); err != nil {
		t.Fatalf("RecordStage failed: %v", err)
	}
	out, _ = f.svc.Check(ctx, "north", in)
	if !out.Decision.Result.IsValid {
		t.Errorf("completed 21 days earlier should be admitted, got %q", out.Decision.Result.Reason)
	}
}

func TestCheck_OverrideUnblocksStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := &store.StageRecord{PatientRef: "p-7", Stage: "Stage 1", Status: rules.StagePending}
	if err := f.svc.RecordStage(ctx, rec); err != nil {
		t.Fatalf("RecordStage failed: %v", err)
	}

	updated, err := f.svc.OverrideStage(ctx, rec.ID, rules.StageCompleted)
	if err != nil {
		t.Fatalf("OverrideStage failed: %v", err)
	}
	if updated.Status != rules.StageCompleted {
		t.Errorf("Status = %q", updated.Status)
	}

	out, err := f.svc.Check(ctx, "north", Input{AppointmentType: "Stage 2", RequestedTime: "2026-02-16 10:00", PatientRef: "p-7"})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !out.Decision.Result.IsValid {
		t.Errorf("completed without a time should skip the gap check, got %q", out.Decision.Result.Reason)
	}

	if _, err := f.svc.OverrideStage(ctx, rec.ID, "done"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("invalid status error = %v", err)
	}
	if _, err := f.svc.OverrideStage(ctx, "missing", rules.StageCompleted); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing stage error = %v", err)
	}
}

func TestCheck_StockAndAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := Input{AppointmentType: "Vaccination", RequestedTime: "2026-02-16 10:00", PatientRef: "p-1", Service: "Flu Vaccine"}

	// not stock-gated: no inventory entry
	out, err := f.svc.Check(ctx, "north", in)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !out.Decision.Result.IsValid || out.Decision.LowStock {
		t.Errorf("ungated service: %+v", out.Decision)
	}

	if err := f.inventory.SetStock(ctx, &store.StockLevel{ClinicID: "north", Service: "Flu Vaccine", Level: 4}); err != nil {
		t.Fatalf("SetStock failed: %v", err)
	}
	out, _ = f.svc.Check(ctx, "north", in)
	if !out.Decision.Result.IsValid || !out.Decision.LowStock {
		t.Errorf("stock 4 under policy threshold 5: %+v", out.Decision)
	}
	if len(f.notifier.alerts) != 1 || f.notifier.alerts[0].Threshold != 5 || f.notifier.alerts[0].StockLevel != 4 {
		t.Errorf("alerts = %+v", f.notifier.alerts)
	}

	if err := f.inventory.SetStock(ctx, &store.StockLevel{ClinicID: "north", Service: "Flu Vaccine", Level: 0}); err != nil {
		t.Fatalf("SetStock failed: %v", err)
	}
	out, _ = f.svc.Check(ctx, "north", in)
	if out.Decision.Kind != rules.KindResourceExhausted {
		t.Errorf("Kind = %q", out.Decision.Kind)
	}
	if len(f.notifier.alerts) != 1 {
		t.Error("rejected bookings must not raise alerts")
	}
}

func TestCheck_LookupFailures(t *testing.T) {
	m := clinics.NewManager(store.NewInMemoryPolicyStore())
	if _, err := m.CreateClinic(context.Background(), "north", "North", rules.DefaultPolicy()); err != nil {
		t.Fatalf("CreateClinic failed: %v", err)
	}
	decisions := store.NewInMemoryDecisionLog()
	svc := NewService(m, failingStages{}, slowInventory{}, decisions, WithLookupTimeout(20*time.Millisecond))
	ctx := context.Background()

	_, err := svc.Check(ctx, "north", Input{AppointmentType: "Dose 2", RequestedTime: "2026-02-16 10:00", PatientRef: "p-1"})
	if !errors.Is(err, ErrLookupFailed) {
		t.Errorf("stage lookup error = %v, want ErrLookupFailed", err)
	}

	start := time.Now()
	_, err = svc.Check(ctx, "north", Input{AppointmentType: "Vaccination", RequestedTime: "2026-02-16 10:00", Service: "Flu Vaccine"})
	if !errors.Is(err, ErrLookupFailed) {
		t.Errorf("inventory lookup error = %v, want ErrLookupFailed", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("lookup timeout was not applied")
	}

	if entries, _ := decisions.Recent(ctx, "north", 10); len(entries) != 0 {
		t.Errorf("failed checks must not be logged as decisions, got %d", len(entries))
	}
}

func TestRecordStage_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.RecordStage(ctx, &store.StageRecord{Stage: "Dose 1"}); err == nil {
		t.Error("expected error without patient_ref")
	}
	if err := f.svc.RecordStage(ctx, &store.StageRecord{PatientRef: "p-1", Stage: "Dose 1", Status: "finished"}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("error = %v, want ErrInvalidStatus", err)
	}

	rec := &store.StageRecord{PatientRef: "p-1", Stage: "Dose 1"}
	if err := f.svc.RecordStage(ctx, rec); err != nil {
		t.Fatalf("RecordStage failed: %v", err)
	}
	if rec.Status != rules.StagePending {
		t.Errorf("default status = %q, want pending", rec.Status)
	}
}

func TestDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, ts := range []string{"2026-02-16 10:00", "2026-02-16 13:30", "2026-02-16 11:00"} {
		if _, err := f.svc.Check(ctx, "north", Input{AppointmentType: "Checkup", RequestedTime: ts}); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}

	got, err := f.svc.Decisions(ctx, "north", 2)
	if err != nil {
		t.Fatalf("Decisions failed: %v", err)
	}
	if len(got) != 2 || got[0].RequestedTime != "2026-02-16 11:00" || got[1].IsValid {
		t.Errorf("Decisions = %+v", got)
	}

	if _, err := f.svc.Decisions(ctx, "south", 2); !errors.Is(err, clinics.ErrClinicNotFound) {
		t.Errorf("unknown clinic error = %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	if err := (LogNotifier{}).LowStock(context.Background(), Alert{ClinicID: "north", Service: "Flu Vaccine", StockLevel: 2, Threshold: 5}); err != nil {
		t.Errorf("LogNotifier returned error: %v", err)
	}
}

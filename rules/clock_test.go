package rules

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
		weekday time.Weekday
	}{
		{"2026-02-15 23:00", false, time.Sunday},
		{"2026-02-16 09:00", false, time.Monday},
		{"2026-02-14 00:00", false, time.Saturday},
		{"2024-02-29 12:30", false, time.Thursday},
		{"2026-02-29 12:30", true, 0},
		{"2026-13-01 10:00", true, 0},
		{"2026-02-16 24:00", true, 0},
		{"2026-02-16 9:00", true, 0},
		{"2026-02-16T09:00", true, 0},
		{"2026-02-16 09:00:00", true, 0},
		{" 2026-02-16 09:00", true, 0},
		{"", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ts, err := ParseTimestamp(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				if !errors.Is(err, ErrInvalidFormat) {
					t.Errorf("error should wrap ErrInvalidFormat, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ts.Weekday != tt.weekday {
				t.Errorf("Weekday = %s, want %s", ts.Weekday, tt.weekday)
			}
			if ts.String() != tt.input {
				t.Errorf("String() = %q, want %q", ts.String(), tt.input)
			}
		})
	}
}

func TestTimestamp_Arithmetic(t *testing.T) {
	ts := MustParseTimestamp("2026-02-28 16:30")

	if got := ts.Add(time.Hour).String(); got != "2026-02-28 17:30" {
		t.Errorf("Add(1h) = %s", got)
	}
	if got := ts.AddDays(1).String(); got != "2026-03-01 16:30" {
		t.Errorf("AddDays(1) = %s", got)
	}
	if got := ts.AtHour(9).String(); got != "2026-02-28 09:00" {
		t.Errorf("AtHour(9) = %s", got)
	}
	if got := ts.Add(8 * time.Hour).String(); got != "2026-03-01 00:30" {
		t.Errorf("Add(8h) = %s", got)
	}
}

func TestTimestamp_DaysSince(t *testing.T) {
	requested := MustParseTimestamp("2026-02-17 10:00")

	tests := []struct {
		earlier string
		want    int
	}{
		{"2026-02-17 10:00", 0},
		{"2026-02-16 10:01", 0},
		{"2026-02-16 10:00", 1},
		{"2026-01-27 10:00", 21},
		{"2026-01-27 10:01", 20},
		{"2026-01-27 09:59", 21},
		{"2026-02-18 10:00", -1},
	}

	for _, tt := range tests {
		if got := requested.DaysSince(MustParseTimestamp(tt.earlier)); got != tt.want {
			t.Errorf("DaysSince(%s) = %d, want %d", tt.earlier, got, tt.want)
		}
	}
}

func TestTimestamp_Text(t *testing.T) {
	var ts Timestamp
	if err := ts.UnmarshalText([]byte("2026-02-16 09:00")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if ts.Weekday != time.Monday || ts.Hour != 9 {
		t.Errorf("unexpected timestamp %+v", ts)
	}

	if err := ts.UnmarshalText([]byte("16/02/2026")); err == nil {
		t.Error("expected error for malformed text")
	}

	b, err := ts.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	if string(b) != "2026-02-16 09:00" {
		t.Errorf("MarshalText = %s", b)
	}
}

func TestTimestamp_IsZero(t *testing.T) {
	if !(Timestamp{}).IsZero() {
		t.Error("zero value should report IsZero")
	}
	if MustParseTimestamp("2026-02-16 00:00").IsZero() {
		t.Error("parsed midnight should not report IsZero")
	}
}

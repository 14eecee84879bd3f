//go:build integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liamcoop/admission/internal/config"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDatabase starts a PostgreSQL testcontainer and returns its URL
func setupTestDatabase(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	url := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())
	return url, func() { postgres.Terminate(ctx) }
}

func newPostgresServer(t *testing.T, databaseURL string) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		DatabaseURL:       databaseURL,
		DefaultClinic:     "default",
		LookupTimeout:     2 * time.Second,
		RequestTimeout:    30 * time.Second,
		MigrationsOnStart: true,
		DecisionPageSize:  50,
	}

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		server.Close()
	})
	return ts
}

// TestEndToEnd_SecondDoseWorkflow covers the full booking path against PostgreSQL:
// record a first dose, reject an early second dose, accept it after the gap and
// read the decision log back.
func TestEndToEnd_SecondDoseWorkflow(t *testing.T) {
	databaseURL, cleanup := setupTestDatabase(t)
	defer cleanup()

	ts := newPostgresServer(t, databaseURL)
	baseURL := ts.URL + "/api/v1"

	t.Log("Step 1: Creating clinic...")
	clinic := makeRequest(t, "POST", baseURL+"/clinics", map[string]any{
		"id":   "north",
		"name": "North Clinic",
	}, http.StatusCreated)
	if clinic["version"].(float64) != 1 {
		t.Errorf("Expected policy version 1, got %v", clinic["version"])
	}

	t.Log("Step 2: Recording first dose...")
	makeRequest(t, "POST", baseURL+"/stages", map[string]any{
		"patient_ref":  "patient-42",
		"stage":        "Dose 1",
		"status":       "completed",
		"completed_at": "2026-01-20 10:00",
	}, http.StatusCreated)

	t.Log("Step 3: Checking an early second dose...")
	early := makeRequest(t, "POST", baseURL+"/clinics/north/bookings/check", map[string]any{
		"appointment_type": "Dose 2",
		"requested_time":   "2026-02-09 10:00",
		"patient_ref":      "patient-42",
	}, http.StatusUnprocessableEntity)
	if early["failed_rule"] != "stage_dependency" {
		t.Errorf("Expected stage_dependency failure, got %v", early)
	}

	t.Log("Step 4: Checking the second dose after the gap...")
	ok := makeRequest(t, "POST", baseURL+"/clinics/north/bookings/check", map[string]any{
		"appointment_type": "Dose 2",
		"requested_time":   "2026-02-10 10:00",
		"patient_ref":      "patient-42",
	}, http.StatusOK)
	if ok["is_valid"] != true {
		t.Errorf("Expected second dose to be admitted, got %v", ok)
	}

	t.Log("Step 5: Reading the decision log...")
	decisions := makeRequest(t, "GET", baseURL+"/clinics/north/decisions", nil, http.StatusOK)
	if decisions["count"].(float64) != 2 {
		t.Errorf("Expected 2 decisions, got %v", decisions["count"])
	}

	t.Log("End-to-end test completed successfully!")
}

// TestEndToEnd_PolicyUpdate checks that a policy update is versioned, applied
// without restart and survives a restart.
func TestEndToEnd_PolicyUpdate(t *testing.T) {
	databaseURL, cleanup := setupTestDatabase(t)
	defer cleanup()

	ts := newPostgresServer(t, databaseURL)
	baseURL := ts.URL + "/api/v1"

	check := map[string]any{
		"appointment_type": "General Checkup",
		"requested_time":   "2026-02-17 18:00",
	}

	before := makeRequest(t, "POST", baseURL+"/clinics/default/bookings/check", check, http.StatusUnprocessableEntity)
	if before["failed_rule"] != "operating_hours" {
		t.Errorf("Expected operating_hours failure, got %v", before)
	}

	t.Log("Extending opening hours...")
	updated := makeRequest(t, "PUT", baseURL+"/clinics/default/policy", map[string]any{
		"open_hour":  8,
		"close_hour": 20,
	}, http.StatusOK)
	if updated["version"].(float64) != 2 {
		t.Errorf("Expected policy version 2, got %v", updated["version"])
	}

	makeRequest(t, "POST", baseURL+"/clinics/default/bookings/check", check, http.StatusOK)

	t.Log("Restarting against the same database...")
	restarted := newPostgresServer(t, databaseURL)
	policy := makeRequest(t, "GET", restarted.URL+"/api/v1/clinics/default/policy", nil, http.StatusOK)
	if policy["version"].(float64) != 2 {
		t.Errorf("Expected version 2 after restart, got %v", policy["version"])
	}
	makeRequest(t, "POST", restarted.URL+"/api/v1/clinics/default/bookings/check", check, http.StatusOK)
}

// TestEndToEnd_StockAndConflicts covers stock gating and duplicate clinic creation
func TestEndToEnd_StockAndConflicts(t *testing.T) {
	databaseURL, cleanup := setupTestDatabase(t)
	defer cleanup()

	ts := newPostgresServer(t, databaseURL)
	baseURL := ts.URL + "/api/v1"

	makeRequest(t, "PUT", baseURL+"/clinics/default/inventory/flu-vaccine", map[string]any{
		"stock_level": 0,
	}, http.StatusOK)

	resp := makeRequest(t, "POST", baseURL+"/clinics/default/bookings/check", map[string]any{
		"appointment_type": "Flu Vaccine",
		"requested_time":   "2026-02-17 10:00",
		"service":          "flu-vaccine",
	}, http.StatusUnprocessableEntity)
	if resp["kind"] != "ResourceExhausted" {
		t.Errorf("Expected ResourceExhausted, got %v", resp)
	}

	t.Log("Attempting to create the default clinic again (should fail)...")
	makeRequest(t, "POST", baseURL+"/clinics", map[string]any{
		"id":   "default",
		"name": "Default clinic",
	}, http.StatusConflict)
}

// makeRequest sends a JSON request and fails the test unless the status matches
func makeRequest(t *testing.T, method, url string, body any, wantStatus int) map[string]any {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make %s request to %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, url, wantStatus, resp.StatusCode, string(bodyBytes))
	}

	var result map[string]any
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return result
}

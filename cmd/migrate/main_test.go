package main

import (
	"strings"
	"testing"
)

func TestCommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	got := strings.Join(names, ",")
	if got != "down,force,up,version" {
		t.Errorf("commands = %s", got)
	}
}

func TestMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	root := newRootCmd()
	root.SetArgs([]string{"up"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "database URL is required") {
		t.Errorf("error = %v", err)
	}
}

func TestForce_InvalidVersion(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"force", "latest", "--database", "postgres://localhost/x"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid version number") {
		t.Errorf("error = %v", err)
	}
}

package db

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunMigrateCommand(t *testing.T) {
	db := newTestDB(t)
	var out bytes.Buffer

	if err := db.RunMigrateCommand([]string{"status"}, nil, &out, false); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 2") {
		t.Errorf("Unexpected status output:\n%s", out.String())
	}

	out.Reset()
	if err := db.RunMigrateCommand([]string{"down"}, nil, &out, false); err != nil {
		t.Fatalf("down: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 1 (dirty: false)") {
		t.Errorf("Unexpected down output:\n%s", out.String())
	}

	out.Reset()
	if err := db.RunMigrateCommand([]string{"status"}, nil, &out, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "1 migration(s) pending") {
		t.Errorf("Expected a pending migration:\n%s", out.String())
	}

	if err := db.RunMigrateCommand([]string{"version", "2"}, nil, &out, false); err != nil {
		t.Fatalf("version 2: %v", err)
	}
	if err := db.RunMigrateCommand([]string{"up"}, nil, &out, false); err != nil {
		t.Fatalf("up with nothing pending: %v", err)
	}
}

func TestRunMigrateCommandForce(t *testing.T) {
	db := newTestDB(t)
	var out bytes.Buffer

	if err := db.RunMigrateCommand([]string{"force", "1"}, strings.NewReader("n\n"), &out, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Aborted") {
		t.Errorf("Expected abort on 'n':\n%s", out.String())
	}
	fsys, _ := getMigrationsFS()
	if v, _, _ := db.MigrateVersion(fsys); v != 2 {
		t.Errorf("Aborted force changed version to %d", v)
	}

	if err := db.RunMigrateCommand([]string{"force", "1"}, strings.NewReader("y\n"), &out, false); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := db.MigrateVersion(fsys); v != 1 {
		t.Errorf("Expected forced version 1, got %d", v)
	}
}

func TestRunMigrateCommandErrors(t *testing.T) {
	db := newTestDB(t)
	var out bytes.Buffer
	for _, args := range [][]string{nil, {"sideways"}, {"version"}, {"force", "x"}} {
		if err := db.RunMigrateCommand(args, nil, &out, true); err == nil {
			t.Errorf("Expected error for args %v", args)
		}
	}
	if !strings.Contains(out.String(), "Usage: scenecapture migrate") {
		t.Error("Expected help output for unknown action")
	}
}

package persistence

import (
	"strings"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected embedded migrations")
	}
	if migrations[0].Version != 1 || migrations[0].Description != "initial schema" {
		t.Errorf("unexpected first migration: %d %q", migrations[0].Version, migrations[0].Description)
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			t.Errorf("migrations out of order at %d", i)
		}
	}
	if !strings.Contains(migrations[0].SQL, "UNIQUE (briefing_date, locale)") {
		t.Error("initial schema should key briefings on (date, locale)")
	}
}

func TestPendingMigrations(t *testing.T) {
	available := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}
	pending := PendingMigrations(available, map[int]bool{1: true, 3: true})
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Fatalf("expected only version 2 pending, got %+v", pending)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float64{0.5, -0.25, 1}
	s := FormatVector(v)
	if s != "[0.5,-0.25,1]" {
		t.Fatalf("unexpected format %q", s)
	}
	back, err := ParseVector(s)
	if err != nil {
		t.Fatal(err)
	}
	for i := range v {
		if back[i] != v[i] {
			t.Errorf("component %d: got %v want %v", i, back[i], v[i])
		}
	}
	if _, err := ParseVector("0.1,0.2"); err == nil {
		t.Error("expected malformed vector error")
	}
}

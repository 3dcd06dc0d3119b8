package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Snapshot().Stop.Mode != "" {
		t.Fatalf("expected zero-value config, got %+v", s.Snapshot())
	}
}

func TestSetStopPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.SetStop(StopConfig{Mode: StopGate, Reason: "tests running"}); err != nil {
		t.Fatalf("SetStop: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Snapshot().Stop.Mode != StopGate || reloaded.Snapshot().Stop.Reason != "tests running" {
		t.Fatalf("unexpected reloaded config: %+v", reloaded.Snapshot())
	}
}

func TestFirstProfileBecomesActive(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.AddProfile(Profile{Name: "p1"}); err != nil {
		t.Fatalf("AddProfile: %v", err)
	}
	if err := s.AddProfile(Profile{Name: "p2"}); err != nil {
		t.Fatalf("AddProfile: %v", err)
	}

	profiles := s.Snapshot().Profiles
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].Status != ProfileActive {
		t.Errorf("expected first profile active, got %v", profiles[0].Status)
	}
	if profiles[1].Status != ProfileAvailable {
		t.Errorf("expected second profile available, got %v", profiles[1].Status)
	}
}

func TestStartConfigScriptPrefersEventOverride(t *testing.T) {
	c := StartConfig{
		EventScript: EventScript{Shell: "echo default"},
		Event: map[string]EventScript{
			"compact": {Shell: "echo compact-specific"},
		},
	}
	if got := c.Script("compact").Shell; got != "echo compact-specific" {
		t.Errorf("expected override, got %q", got)
	}
	if got := c.Script("startup").Shell; got != "echo default" {
		t.Errorf("expected default, got %q", got)
	}
}

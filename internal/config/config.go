// Package config persists the orchestrator-supplied, per-session
// configuration (stop/start hook behavior, registered credential
// profiles) that C11 and C12 consult, following the teacher's pattern of
// a small YAML file per session directory.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// EventScript is one {text?, shell?} pair from spec §4.11: text is raw
// content that the start hook composer base64-encodes into a
// `printf ... | base64 -d` pipeline, which decodes it and prints it to the
// script's stdout; shell lines are appended verbatim. Both may be
// set; text and shell are composed in that order.
type EventScript struct {
	Text  string `yaml:"text,omitempty"`
	Shell string `yaml:"shell,omitempty"`
}

// StartConfig controls the script the start hook composes for the agent
// to eval on session start, optionally varying by source
// (startup/resume/clear/compact).
type StartConfig struct {
	EventScript `yaml:",inline"`
	Event       map[string]EventScript `yaml:"event,omitempty"`
}

// Script resolves the script to use for a given start source, preferring
// a source-specific override over the top-level default.
func (c StartConfig) Script(source string) EventScript {
	if c.Event != nil {
		if s, ok := c.Event[source]; ok {
			return s
		}
	}
	return c.EventScript
}

// StopMode selects how the stop hook responds to the agent's stop event.
type StopMode string

const (
	StopAllow  StopMode = "allow"
	StopGate   StopMode = "gate"
	StopSignal StopMode = "signal"
)

// StopConfig controls whether the agent is allowed to stop freely or must
// be held open pending an orchestrator decision.
type StopConfig struct {
	Mode   StopMode `yaml:"mode"`
	Reason string   `yaml:"reason,omitempty"`
}

// ProfileStatus tracks a registered credential profile's rotation state.
type ProfileStatus string

const (
	ProfileActive      ProfileStatus = "active"
	ProfileAvailable   ProfileStatus = "available"
	ProfileRateLimited ProfileStatus = "rate_limited"
)

// Profile is one set of credentials C12 can rotate between.
type Profile struct {
	Name           string            `yaml:"name"`
	Credentials    map[string]string `yaml:"credentials"`
	Status         ProfileStatus     `yaml:"status"`
	CooldownUntil  int64             `yaml:"cooldown_until,omitempty"`
}

// Config is the full persisted session configuration file.
type Config struct {
	Start    StartConfig `yaml:"start,omitempty"`
	Stop     StopConfig  `yaml:"stop,omitempty"`
	Profiles []Profile   `yaml:"profiles,omitempty"`
}

// Store guards Config with a mutex and persists it to path on every
// mutation, mirroring the teacher's small-file-per-session-dir style.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

// Load reads path if it exists, else starts from a zero-value Config.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) save() error {
	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", s.path, err)
	}
	return nil
}

// Snapshot returns a copy of the current config.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetStart persists a new StartConfig.
func (s *Store) SetStart(c StartConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Start = c
	return s.save()
}

// SetStop persists a new StopConfig.
func (s *Store) SetStop(c StopConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Stop = c
	return s.save()
}

// AddProfile registers a new profile. The first profile ever registered
// becomes active; subsequent ones start available.
func (s *Store) AddProfile(p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cfg.Profiles) == 0 {
		p.Status = ProfileActive
	} else if p.Status == "" {
		p.Status = ProfileAvailable
	}
	s.cfg.Profiles = append(s.cfg.Profiles, p)
	return s.save()
}

// UpdateProfiles replaces the profile list wholesale (used by C12's
// rotation state machine after recomputing statuses).
func (s *Store) UpdateProfiles(profiles []Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Profiles = profiles
	return s.save()
}

// Package profile implements C12: the credential-profile rotation state
// machine that responds to rate_limited errors by round-robining to
// another registered profile, parking when none are available, and
// handling orchestrator-driven credential switches.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/coopdev/coop/internal/agentstate"
	"github.com/coopdev/coop/internal/config"
)

// ErrSwitchInProgress is returned when a second switch is requested while
// one is already pending.
var ErrSwitchInProgress = errors.New("profile: switch already in progress")

var (
	defaultCooldown  = 300 * time.Second
	defaultMaxPerHr  = 20
)

// SetTuning overrides the cooldown and anti-flap cap; wired to
// COOP_ROTATE_COOLDOWN_SECS / COOP_ROTATE_MAX_PER_HOUR at startup.
func SetTuning(cooldown time.Duration, maxPerHour int) {
	if cooldown > 0 {
		defaultCooldown = cooldown
	}
	if maxPerHour > 0 {
		defaultMaxPerHr = maxPerHour
	}
}

// SwitchRequest is the decoded body of POST /session/switch.
type SwitchRequest struct {
	Credentials map[string]string
	Profile     string
	Force       bool
}

// SwitchAction is what the caller (session loop) must do to carry out an
// approved switch: broadcast Restarting, SIGHUP the child, respawn with
// Env merged in, and reset ready_flag/state=Starting.
type SwitchAction struct {
	Env          map[string]string
	ResumeDriver bool
}

// Manager owns the registered profiles and rotation/anti-flap bookkeeping.
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	store    *config.Store
	profiles []config.Profile

	switchPending bool
	switchHistory []time.Time
}

// NewManager creates a Manager backed by store's persisted profile list.
func NewManager(store *config.Store) *Manager {
	return &Manager{store: store, profiles: store.Snapshot().Profiles}
}

// Register adds a new profile; the first one ever registered becomes
// active.
func (m *Manager) Register(p config.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.profiles) == 0 {
		p.Status = config.ProfileActive
	} else if p.Status == "" {
		p.Status = config.ProfileAvailable
	}
	m.profiles = append(m.profiles, p)
	return m.persistLocked()
}

func (m *Manager) persistLocked() error {
	if m.store == nil {
		return nil
	}
	return m.store.UpdateProfiles(m.profiles)
}

// List returns a snapshot of every registered profile with credential
// values redacted, for GET /session/profiles.
func (m *Manager) List() []config.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]config.Profile, len(m.profiles))
	for i, p := range m.profiles {
		redacted := make(map[string]string, len(p.Credentials))
		for k := range p.Credentials {
			redacted[k] = "***"
		}
		p.Credentials = redacted
		out[i] = p
	}
	return out
}

// Active returns the currently active profile, if any.
func (m *Manager) Active() (config.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.Status == config.ProfileActive {
			return p, true
		}
	}
	return config.Profile{}, false
}

// RotationOutcome describes what HandleRateLimit decided.
type RotationOutcome struct {
	Switch *SwitchAction
	Parked *agentstate.ParkedInfo
}

// HandleRateLimit implements spec §4.12's 5-step rotation algorithm for an
// Error(category=rate_limited) signal. now is passed in for testability.
func (m *Manager) HandleRateLimit(now time.Time) (RotationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	activeIdx := -1
	for i, p := range m.profiles {
		if p.Status == config.ProfileActive {
			activeIdx = i
			break
		}
	}
	if activeIdx < 0 {
		return RotationOutcome{}, fmt.Errorf("profile: no active profile to rotate away from")
	}

	// 1. Mark current rate_limited with a cooldown.
	m.profiles[activeIdx].Status = config.ProfileRateLimited
	m.profiles[activeIdx].CooldownUntil = now.Add(defaultCooldown).Unix()

	// 2. Promote expired cooldowns back to available.
	for i := range m.profiles {
		if m.profiles[i].Status == config.ProfileRateLimited && m.profiles[i].CooldownUntil <= now.Unix() {
			m.profiles[i].Status = config.ProfileAvailable
			m.profiles[i].CooldownUntil = 0
		}
	}

	// 3. Round-robin from after the current active to the next available.
	n := len(m.profiles)
	nextIdx := -1
	for off := 1; off <= n; off++ {
		i := (activeIdx + off) % n
		if m.profiles[i].Status == config.ProfileAvailable {
			nextIdx = i
			break
		}
	}

	if nextIdx < 0 {
		// 4. None available: park until the earliest cooldown expires.
		minCooldown := int64(0)
		for _, p := range m.profiles {
			if p.CooldownUntil == 0 {
				continue
			}
			if minCooldown == 0 || p.CooldownUntil < minCooldown {
				minCooldown = p.CooldownUntil
			}
		}
		if err := m.persistLocked(); err != nil {
			return RotationOutcome{}, err
		}
		return RotationOutcome{Parked: &agentstate.ParkedInfo{
			Reason:          "all_profiles_rate_limited",
			ResumeAtEpochMS: minCooldown * 1000,
		}}, nil
	}

	// 5. Force a credential switch to the chosen profile.
	m.profiles[nextIdx].Status = config.ProfileActive
	if err := m.persistLocked(); err != nil {
		return RotationOutcome{}, err
	}
	return RotationOutcome{Switch: &SwitchAction{Env: m.profiles[nextIdx].Credentials, ResumeDriver: true}}, nil
}

// RetryParked re-attempts rotation once a scheduled Parked retry fires.
// Unlike HandleRateLimit it doesn't require an active profile to rotate
// away from — parking already left none active — so it only promotes
// expired cooldowns and claims the first available profile, re-parking
// with a fresh resume_at_epoch_ms if none has come available yet.
func (m *Manager) RetryParked(now time.Time) (RotationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.profiles {
		if m.profiles[i].Status == config.ProfileRateLimited && m.profiles[i].CooldownUntil <= now.Unix() {
			m.profiles[i].Status = config.ProfileAvailable
			m.profiles[i].CooldownUntil = 0
		}
	}

	nextIdx := -1
	for i, p := range m.profiles {
		if p.Status == config.ProfileAvailable {
			nextIdx = i
			break
		}
	}

	if nextIdx < 0 {
		minCooldown := int64(0)
		for _, p := range m.profiles {
			if p.CooldownUntil == 0 {
				continue
			}
			if minCooldown == 0 || p.CooldownUntil < minCooldown {
				minCooldown = p.CooldownUntil
			}
		}
		if err := m.persistLocked(); err != nil {
			return RotationOutcome{}, err
		}
		return RotationOutcome{Parked: &agentstate.ParkedInfo{
			Reason:          "all_profiles_rate_limited",
			ResumeAtEpochMS: minCooldown * 1000,
		}}, nil
	}

	m.profiles[nextIdx].Status = config.ProfileActive
	if err := m.persistLocked(); err != nil {
		return RotationOutcome{}, err
	}
	return RotationOutcome{Switch: &SwitchAction{Env: m.profiles[nextIdx].Credentials, ResumeDriver: true}}, nil
}

// NextRetryTime converts a Parked resume_at_epoch_ms into a one-shot
// schedule using rrule-go, so the session loop can drive the retry off
// the same recurrence-rule machinery it would use for any other timer.
func NextRetryTime(resumeAtEpochMS int64) (time.Time, error) {
	dtstart := time.UnixMilli(resumeAtEpochMS).UTC()
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.SECONDLY,
		Count:   1,
		Dtstart: dtstart,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("profile: build retry rule: %w", err)
	}
	occurrences := rule.All()
	if len(occurrences) == 0 {
		return dtstart, nil
	}
	return occurrences[0], nil
}

// RequestSwitch validates and (if accepted) applies an orchestrator switch
// request, enforcing single-pending-switch and the anti-flap cap.
// waitForIdleOrExited is consulted only when req.Force is false.
func (m *Manager) RequestSwitch(ctx context.Context, req SwitchRequest, waitForIdleOrExited func(context.Context) bool) (*SwitchAction, error) {
	m.mu.Lock()
	if m.switchPending {
		m.mu.Unlock()
		return nil, ErrSwitchInProgress
	}
	if m.overFlapCapLocked(time.Now()) {
		m.mu.Unlock()
		return nil, fmt.Errorf("profile: exceeded %d switches/hour", defaultMaxPerHr)
	}
	m.switchPending = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.switchPending = false
		m.mu.Unlock()
	}()

	if !req.Force && waitForIdleOrExited != nil {
		if !waitForIdleOrExited(ctx) {
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	env := req.Credentials
	if req.Profile != "" {
		for i, p := range m.profiles {
			if p.Name == req.Profile {
				for j := range m.profiles {
					m.profiles[j].Status = config.ProfileAvailable
				}
				m.profiles[i].Status = config.ProfileActive
				env = m.profiles[i].Credentials
				break
			}
		}
	}
	m.switchHistory = append(m.switchHistory, time.Now())
	if err := m.persistLocked(); err != nil {
		return nil, err
	}
	return &SwitchAction{Env: env, ResumeDriver: true}, nil
}

func (m *Manager) overFlapCapLocked(now time.Time) bool {
	cutoff := now.Add(-time.Hour)
	kept := m.switchHistory[:0]
	for _, t := range m.switchHistory {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.switchHistory = kept
	return len(m.switchHistory) >= defaultMaxPerHr
}

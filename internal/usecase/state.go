// Package usecase contains application business logic.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// Persisted state keys.
const (
	KeyBlockingEnabled = "blockingEnabled"
	KeyTimerMode       = "timerMode"
	KeyTimerEndTime    = "timerEndTime"
	KeyTimerDuration   = "timerDuration"
	KeyAllowedSites    = "allowedSites"
)

var allKeys = []string{KeyBlockingEnabled, KeyTimerMode, KeyTimerEndTime, KeyTimerDuration, KeyAllowedSites}

// StateAccessor is the only reader and writer of the state store.
// It caches nothing: every call reads or writes the store.
type StateAccessor struct {
	store           domain.StateStore
	defaultDuration int
	defaultSites    []string
}

// NewStateAccessor creates an accessor. defaultDuration and defaultSites are
// written on install and substituted when the fields are missing.
func NewStateAccessor(store domain.StateStore, defaultDuration int, defaultSites []string) *StateAccessor {
	return &StateAccessor{
		store:           store,
		defaultDuration: defaultDuration,
		defaultSites:    append([]string(nil), defaultSites...),
	}
}

// Initialized reports whether any state key has ever been written.
func (a *StateAccessor) Initialized(ctx context.Context) (bool, error) {
	values, err := a.store.Get(ctx, allKeys...)
	if err != nil {
		return false, fmt.Errorf("failed to read state: %w", err)
	}
	return len(values) > 0, nil
}

// InstallDefaults writes the install-time defaults for every key.
func (a *StateAccessor) InstallDefaults(ctx context.Context) error {
	return a.set(ctx, map[string]any{
		KeyBlockingEnabled: false,
		KeyAllowedSites:    a.DefaultSites(),
		KeyTimerMode:       false,
		KeyTimerEndTime:    nil,
		KeyTimerDuration:   a.defaultDuration,
	})
}

// Load reads the full state. Missing fields read as zero values.
func (a *StateAccessor) Load(ctx context.Context) (*domain.State, error) {
	values, err := a.store.Get(ctx, allKeys...)
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	s := &domain.State{}
	if err := decodeField(values, KeyBlockingEnabled, &s.BlockingEnabled); err != nil {
		return nil, err
	}
	if err := decodeField(values, KeyTimerMode, &s.TimerMode); err != nil {
		return nil, err
	}
	if err := decodeField(values, KeyTimerDuration, &s.TimerDuration); err != nil {
		return nil, err
	}
	if err := decodeField(values, KeyAllowedSites, &s.AllowedSites); err != nil {
		return nil, err
	}

	var endMillis *int64
	if err := decodeField(values, KeyTimerEndTime, &endMillis); err != nil {
		return nil, err
	}
	if endMillis != nil {
		end := time.UnixMilli(*endMillis)
		s.TimerEndTime = &end
	}
	return s, nil
}

// AllowedSites returns the stored allow-list, or the default list if none was stored.
// An explicitly stored empty list is returned as empty.
func (a *StateAccessor) AllowedSites(ctx context.Context) ([]string, error) {
	values, err := a.store.Get(ctx, KeyAllowedSites)
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	var sites []string
	if err := decodeField(values, KeyAllowedSites, &sites); err != nil {
		return nil, err
	}
	if sites == nil {
		return a.DefaultSites(), nil
	}
	return sites, nil
}

// DefaultSites returns a copy of the default allow-list.
func (a *StateAccessor) DefaultSites() []string {
	return append([]string{}, a.defaultSites...)
}

// Status returns the reduced status view with defaults substituted.
func (a *StateAccessor) Status(ctx context.Context) (*domain.Status, error) {
	s, err := a.Load(ctx)
	if err != nil {
		return nil, err
	}

	duration := s.TimerDuration
	if duration == 0 {
		duration = a.defaultDuration
	}
	return &domain.Status{
		BlockingEnabled: s.BlockingEnabled,
		TimerMode:       s.TimerMode,
		TimerDuration:   duration,
	}, nil
}

// SetBlockingEnabled persists the blocking flag.
func (a *StateAccessor) SetBlockingEnabled(ctx context.Context, enabled bool) error {
	return a.set(ctx, map[string]any{KeyBlockingEnabled: enabled})
}

// SetAllowedSites overwrites the allow-list as given.
func (a *StateAccessor) SetAllowedSites(ctx context.Context, sites []string) error {
	if sites == nil {
		sites = []string{}
	}
	return a.set(ctx, map[string]any{KeyAllowedSites: sites})
}

// SaveTimerStarted persists a running timer ending at end.
func (a *StateAccessor) SaveTimerStarted(ctx context.Context, end time.Time, minutes int) error {
	return a.set(ctx, map[string]any{
		KeyBlockingEnabled: true,
		KeyTimerMode:       true,
		KeyTimerEndTime:    end.UnixMilli(),
		KeyTimerDuration:   minutes,
	})
}

// SaveTimerEnded persists the fully disabled state. timerDuration is kept
// as the last used length.
func (a *StateAccessor) SaveTimerEnded(ctx context.Context) error {
	return a.set(ctx, map[string]any{
		KeyBlockingEnabled: false,
		KeyTimerMode:       false,
		KeyTimerEndTime:    nil,
	})
}

func (a *StateAccessor) set(ctx context.Context, values map[string]any) error {
	if err := a.store.Set(ctx, values); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

func decodeField(values map[string]json.RawMessage, key string, dst any) error {
	raw, ok := values[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("corrupt state field %s: %w", key, err)
	}
	return nil
}

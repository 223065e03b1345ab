package relay

import (
	"net/mail"
	"sync"
)

// DeliverySettings is a consistent snapshot of the runtime delivery settings
// read at the start of every delivery attempt.
type DeliverySettings struct {
	Filter      FilterRule
	DeviceAlias string
	FromAddress string
	ToAddress   string
}

// Valid reports whether the addressing part of the settings is complete and
// RFC-shaped. The filter and alias have no invalid states.
func (s DeliverySettings) Valid() bool {
	if s.FromAddress == "" || s.ToAddress == "" {
		return false
	}
	if _, err := mail.ParseAddress(s.FromAddress); err != nil {
		return false
	}
	if _, err := mail.ParseAddress(s.ToAddress); err != nil {
		return false
	}
	return true
}

// SettingsStore owns the mutable delivery settings and hands out read-only
// snapshots. It is the single writer for the filter rule and device alias,
// which the API can change at runtime.
type SettingsStore struct {
	mu       sync.RWMutex
	settings DeliverySettings
}

// NewSettingsStore seeds the store from startup configuration.
func NewSettingsStore(initial DeliverySettings) *SettingsStore {
	return &SettingsStore{settings: initial}
}

// Snapshot returns the current settings by value.
func (s *SettingsStore) Snapshot() DeliverySettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetFilter replaces the active filter rule.
func (s *SettingsStore) SetFilter(rule FilterRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Filter = rule
}

// SetDeviceAlias replaces the device alias used in subjects and templates.
func (s *SettingsStore) SetDeviceAlias(alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.DeviceAlias = alias
}

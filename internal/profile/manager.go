// Package profile owns the named upstream profiles and the single active
// selection shared by all requests.
package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/heungtae/codex-chat-bridge/internal/config"
)

// ErrUnknownProfile is returned by SwitchTo for names that were not loaded.
var ErrUnknownProfile = errors.New("unknown profile")

// UnknownProfileError carries the rejected name.
type UnknownProfileError struct {
	Name string
}

func (e *UnknownProfileError) Error() string {
	return fmt.Sprintf("unknown profile %q", e.Name)
}

func (e *UnknownProfileError) Unwrap() error { return ErrUnknownProfile }

// ActiveState is the profile selection visible to new requests. A value is
// never modified after it has been published.
type ActiveState struct {
	Name   string
	Config *config.Configuration
}

// SwitchObserver is notified after every successful switch.
type SwitchObserver func(from, to string)

// Manager holds the resolved profiles and the active selection.
type Manager struct {
	names    []string
	resolved map[string]*config.Configuration
	active   atomic.Pointer[ActiveState]

	// switchMu orders writers so observers see switches in the order they
	// were published. Readers never take it.
	switchMu  sync.Mutex
	observers []SwitchObserver
}

// New resolves every profile in set and activates set.Initial. Any
// validation failure is returned so a bad profile is reported at startup
// rather than on first switch.
func New(set *config.ProfileSet) (*Manager, error) {
	m := &Manager{
		names:    set.Names(),
		resolved: make(map[string]*config.Configuration),
	}
	for _, name := range m.names {
		cfg, err := set.Effective(name)
		if err != nil {
			return nil, err
		}
		m.resolved[name] = cfg
	}

	cfg, ok := m.resolved[set.Initial]
	if !ok {
		return nil, &UnknownProfileError{Name: set.Initial}
	}
	m.active.Store(&ActiveState{Name: set.Initial, Config: cfg})
	return m, nil
}

// OnSwitch registers an observer. It is not safe to call concurrently with
// SwitchTo; register observers during startup.
func (m *Manager) OnSwitch(fn SwitchObserver) {
	m.observers = append(m.observers, fn)
}

// Active returns the current selection. The returned state is a snapshot:
// later switches do not affect it.
func (m *Manager) Active() ActiveState {
	return *m.active.Load()
}

// List returns the profile names in display order.
func (m *Manager) List() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// SwitchTo makes name the active profile and returns its configuration.
// In-flight requests keep the snapshot they already took.
func (m *Manager) SwitchTo(name string) (*config.Configuration, error) {
	cfg, ok := m.resolved[name]
	if !ok {
		return nil, &UnknownProfileError{Name: name}
	}

	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	prev := m.active.Swap(&ActiveState{Name: name, Config: cfg})
	slog.Info("profile.switched", "from", prev.Name, "to", name, "upstream_url", cfg.UpstreamURL, "upstream_wire", cfg.UpstreamWire)
	for _, fn := range m.observers {
		fn(prev.Name, name)
	}
	return cfg, nil
}

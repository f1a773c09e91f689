//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// UnitManager inspects and restarts systemd units over D-Bus.
type UnitManager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// New connects to the system bus.
func New(ctx context.Context) (*UnitManager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &UnitManager{conn: conn}, nil
}

func (m *UnitManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}

// Status reads the unit's load and active state. A missing unit is reported
// with LoadState "not-found" and no error.
func (m *UnitManager) Status(ctx context.Context, unit string) (UnitStatus, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return UnitStatus{}, ErrClosed
	}

	name := UnitName(unit)
	props, err := conn.GetUnitPropertiesContext(ctx, name)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return UnitStatus{Name: name, Active: "unknown", SubState: "not-found", LoadState: "not-found"}, nil
		}
		return UnitStatus{}, fmt.Errorf("failed to get status for %s: %w", name, err)
	}
	st := UnitStatus{
		Name:      name,
		Active:    stringProp(props, "ActiveState"),
		SubState:  stringProp(props, "SubState"),
		LoadState: stringProp(props, "LoadState"),
	}
	if ts, ok := props["ActiveEnterTimestamp"].(uint64); ok && ts > 0 {
		// microseconds since the epoch
		st.ActiveSince = time.UnixMicro(int64(ts))
	}
	return st, nil
}

// Restart queues a restart job in "replace" mode.
func (m *UnitManager) Restart(ctx context.Context, unit string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return ErrClosed
	}
	name := UnitName(unit)
	if _, err := m.conn.RestartUnitContext(ctx, name, "replace", nil); err != nil {
		return fmt.Errorf("failed to restart %s: %w", name, err)
	}
	return nil
}

func stringProp(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	// org.freedesktop.systemd1.NoSuchUnit
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}

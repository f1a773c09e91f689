// Package systemdmanager queries and restarts the systemd units the bell
// controller depends on, such as the MPD daemon.
package systemdmanager

import (
	"errors"
	"strings"
	"time"
)

var ErrClosed = errors.New("systemd connection is closed")

// UnitStatus is the subset of unit properties the controller reports.
type UnitStatus struct {
	Name        string
	Active      string // active, inactive, failed, ...
	SubState    string // running, dead, ...
	LoadState   string // loaded, not-found, ...
	ActiveSince time.Time
}

func (s UnitStatus) Running() bool { return s.Active == "active" }

func (s UnitStatus) Exists() bool { return s.LoadState != "" && s.LoadState != "not-found" }

// UnitName appends ".service" when unit has no type suffix.
func UnitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return ""
	}
	if i := strings.LastIndexByte(unit, '.'); i > 0 {
		switch unit[i+1:] {
		case "service", "socket", "target", "timer", "mount", "path":
			return unit
		}
	}
	return unit + ".service"
}

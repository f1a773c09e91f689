//go:build !linux

package systemdmanager

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

type UnitManager struct{}

func New(context.Context) (*UnitManager, error) { return nil, ErrUnsupported }

func (*UnitManager) Close() error { return nil }

func (*UnitManager) Status(context.Context, string) (UnitStatus, error) {
	return UnitStatus{}, ErrUnsupported
}

func (*UnitManager) Restart(context.Context, string) error { return ErrUnsupported }

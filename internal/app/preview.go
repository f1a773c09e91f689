package app

import (
	"time"

	"github.com/spf13/afero"

	"schoolbell/internal/clock"
	"schoolbell/internal/config"
	"schoolbell/internal/storage"
	logx "schoolbell/pkg/logx"
)

// ControllerTime reads the clock a running controller rings on: host time
// plus the offset persisted in storage, in the configured zone. Without
// storage it is plain host time.
func ControllerTime(cfg *config.Config, fs afero.Fs) (time.Time, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cc, err := mapClockConfig(cfg)
	if err != nil {
		return time.Time{}, err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return time.Time{}, err
	}
	var state clock.StateStore
	if enabled {
		st, err := storage.OpenFs(fs, sc, logx.Nop())
		if err != nil {
			return time.Time{}, err
		}
		defer st.Close()
		state = st
	}
	p := clock.NewPersistent(cc, nil, state, logx.Nop())
	return p.Now().Time(p.Location()), nil
}

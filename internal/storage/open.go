package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	logx "schoolbell/pkg/logx"
)

// Store is what the engine and clock persist through.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	PutState(ctx context.Context, key, value string) error
	GetState(ctx context.Context, key string) (value string, ok bool, err error)
	Close() error
}

type opener func(fs afero.Fs, cfg Config, log logx.Logger) (Store, error)

// sqlite always lives on the host filesystem.
func sqliteOpener(_ afero.Fs, cfg Config, log logx.Logger) (Store, error) {
	return openSQLite(cfg, log)
}

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  sqliteOpener,
	"sqlite3": sqliteOpener,
}

// Open opens the configured store on the host filesystem. A disabled store
// is (nil, nil).
func Open(cfg Config, log logx.Logger) (Store, error) {
	return OpenFs(afero.NewOsFs(), cfg, log)
}

// OpenFs is Open with the file driver rooted on fs.
func OpenFs(fs afero.Fs, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	open, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(fs, cfg, log.With(logx.String("driver", driver)))
}

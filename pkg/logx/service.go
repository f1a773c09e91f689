package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

// FileConfig appends JSON lines to Path.
type FileConfig struct {
	Enabled bool
	Path    string
}

const (
	defaultLogPath    = "./bell.log"
	consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"
)

var levels = map[string]Level{
	"TRACE":   LevelTrace,
	"DEBUG":   LevelDebug,
	"INFO":    LevelInfo,
	"WARN":    LevelWarn,
	"WARNING": LevelWarn,
	"ERROR":   LevelError,
}

var globalsOnce sync.Once

func setGlobals() {
	globalsOnce.Do(func() {
		zerolog.TimeFieldFormat = consoleTimeFormat
		zerolog.ErrorFieldName = "err"
	})
}

// Service owns the sinks. Loggers derived from it follow every Apply.
type Service struct {
	fs      afero.Fs
	console io.Writer

	mu   sync.Mutex
	file afero.File

	root atomic.Pointer[zerolog.Logger]
}

type ServiceOption func(*Service)

// WithFs opens the log file on fs instead of the host filesystem.
func WithFs(fs afero.Fs) ServiceOption { return func(s *Service) { s.fs = fs } }

// WithConsole sends console output to w instead of stdout.
func WithConsole(w io.Writer) ServiceOption { return func(s *Service) { s.console = w } }

// New applies cfg at once and returns the service with its root logger.
func New(cfg Config, opts ...ServiceOption) (*Service, Logger) {
	setGlobals()
	s := &Service{fs: afero.NewOsFs(), console: Stdout()}
	for _, o := range opts {
		o(s)
	}
	s.Apply(cfg)
	return s, Logger{src: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// Close releases the log file. Later lines still reach the console.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.store(s.consoleWriter(), s.current().GetLevel())
	return err
}

// Apply swaps sinks and level. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, s.consoleWriter())
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogPath
		}
		f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(Stderr(), "logx: open %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	// The console is the controller's serial port; never go silent.
	if len(writers) == 0 {
		writers = append(writers, s.consoleWriter())
	}
	s.store(zerolog.MultiLevelWriter(writers...), parseLevel(cfg.Level, LevelInfo))
}

func (s *Service) store(w io.Writer, lvl Level) {
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	s.root.Store(&zl)
}

func (s *Service) consoleWriter() io.Writer { return newConsoleWriter(s.console) }

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   consoleTimeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

func parseLevel(s string, def Level) Level {
	if lvl, ok := levels[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return def
}

// ValidLevel reports whether s names a known level. Empty means INFO.
func ValidLevel(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	_, ok := levels[s]
	return ok || s == ""
}

func Stdout() io.Writer { return os.Stdout }

func Stderr() io.Writer { return os.Stderr }

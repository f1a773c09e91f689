package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	logx "schoolbell/pkg/logx"
)

const compactEvery = 256

// fileStore keeps everything in a handful of flat files.
//
// Files:
//   - <prefix>.audit.jsonl         (append-only JSON Lines)
//   - <prefix>.state.snapshot.json (periodic snapshot)
//   - <prefix>.state.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Close.
type fileStore struct {
	fs  afero.Fs
	log logx.Logger

	mu sync.Mutex

	auditFile afero.File

	snapshotPath string
	journalFile  afero.File
	state        map[string]string

	writes int
}

type stateRecord struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func openFile(fs afero.Fs, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".state.snapshot.json"
	journalPath := prefix + ".state.journal.jsonl"

	af, err := fs.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	state := map[string]string{}
	if err := loadSnapshot(fs, snapPath, state); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state snapshot unreadable; ignoring", logx.Err(err))
	}
	if err := replayJournal(fs, journalPath, state); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state journal unreadable; ignoring", logx.Err(err))
	}

	jf, err := fs.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("keys", len(state)))
	return &fileStore{
		fs:           fs,
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		state:        state,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil {
		// A reader that wrote nothing leaves the files to their owner.
		if s.writes > 0 {
			if err := s.compactLocked(); err != nil {
				errs = append(errs, err)
			}
		}
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutState(ctx context.Context, key, value string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("state journal closed")
	}
	if prev, ok := s.state[key]; ok && prev == value {
		return nil
	}
	s.state[key] = value

	if err := json.NewEncoder(s.journalFile).Encode(stateRecord{Key: key, Value: value}); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetState(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	return v, ok, nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(fs afero.Fs, path string, out map[string]string) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(fs afero.Fs, path string, out map[string]string) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r stateRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn final line after power loss is expected.
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Value
	}
	return sc.Err()
}

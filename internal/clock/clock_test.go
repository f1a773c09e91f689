package clock

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	logx "schoolbell/pkg/logx"
)

type memState struct {
	mu      sync.Mutex
	m       map[string]string
	fail    error
	failKey string
}

func newMemState() *memState { return &memState{m: map[string]string{}} }

func (s *memState) GetState(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", false, s.fail
	}
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *memState) PutState(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if key == s.failKey {
		return errors.New("read-only key")
	}
	s.m[key] = value
	return nil
}

type fetchFunc func(ctx context.Context) (time.Time, error)

func (f fetchFunc) Fetch(ctx context.Context) (time.Time, error) { return f(ctx) }

func fixedHost(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestISOWeekday(t *testing.T) {
	t.Parallel()
	// 2024-09-16 is a Monday.
	mon := time.Date(2024, 9, 16, 8, 30, 0, 0, time.UTC)
	for i, want := range []int{1, 2, 3, 4, 5, 6, 7} {
		got := FromTime(mon.AddDate(0, 0, i)).Weekday
		if got != want {
			t.Fatalf("day +%d: weekday = %d, want %d", i, got, want)
		}
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("TRT", 3*3600)
	in := time.Date(2025, 2, 3, 12, 0, 5, 0, loc)
	ts := FromTime(in)
	if got := ts.Time(loc); !got.Equal(in) {
		t.Fatalf("Time() = %v, want %v", got, in)
	}
	if ts.String() != "2025-02-03 12:00:05" {
		t.Fatalf("String() = %q", ts.String())
	}
}

func TestPersistentSetPersistsOffset(t *testing.T) {
	t.Parallel()
	host := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	st := newMemState()
	p := NewPersistent(PersistentConfig{Location: time.UTC}, nil, st, logx.Nop(), WithHostClock(fixedHost(host)))

	target := Timestamp{Year: 2025, Month: 1, Day: 1, Hour: 0, Minute: 10, Second: 0}
	if err := p.Set(target); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := p.Now(); got.Minute != 10 || got.Hour != 0 {
		t.Fatalf("Now() = %v, want 00:10", got)
	}
	if st.m[stateKeyOffset] != "600000" {
		t.Fatalf("persisted offset = %q", st.m[stateKeyOffset])
	}

	// A new clock over the same store picks the correction back up.
	p2 := NewPersistent(PersistentConfig{Location: time.UTC}, nil, st, logx.Nop(), WithHostClock(fixedHost(host)))
	if got := p2.Now(); got.Minute != 10 {
		t.Fatalf("restored Now() = %v, want minute 10", got)
	}
}

func TestPersistentStateFailureFallsBackToHost(t *testing.T) {
	t.Parallel()
	host := time.Date(2025, 1, 1, 7, 0, 0, 0, time.UTC)
	st := newMemState()
	st.fail = errors.New("disk gone")
	p := NewPersistent(PersistentConfig{Location: time.UTC}, nil, st, logx.Nop(), WithHostClock(fixedHost(host)))
	if got := p.Now(); got.Hour != 7 {
		t.Fatalf("Now() = %v, want host time", got)
	}
}

func TestTrySyncSuccess(t *testing.T) {
	t.Parallel()
	host := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	netTime := host.Add(90 * time.Second)
	st := newMemState()
	p := NewPersistent(PersistentConfig{Location: time.UTC}, fetchFunc(func(context.Context) (time.Time, error) {
		return netTime, nil
	}), st, logx.Nop(), WithHostClock(fixedHost(host)))

	if !p.TrySyncFromNetwork(context.Background()) {
		t.Fatal("expected sync to succeed")
	}
	if got := p.Now(); got.Minute != 1 || got.Second != 30 {
		t.Fatalf("Now() = %v, want 00:01:30", got)
	}
	if p.SyncStatus().LastSuccess.IsZero() {
		t.Fatal("LastSuccess not recorded")
	}
	if _, ok := st.m[stateKeyLastSync]; !ok {
		t.Fatal("last sync not persisted")
	}
}

func TestTrySyncLogsLastSyncWriteFailure(t *testing.T) {
	t.Parallel()
	host := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	st := newMemState()
	st.failKey = stateKeyLastSync
	var buf bytes.Buffer
	p := NewPersistent(PersistentConfig{Location: time.UTC}, fetchFunc(func(context.Context) (time.Time, error) {
		return host.Add(time.Minute), nil
	}), st, logx.NewWriter(&buf, "debug"), WithHostClock(fixedHost(host)))

	if !p.TrySyncFromNetwork(context.Background()) {
		t.Fatal("expected sync to succeed")
	}
	if _, ok := st.m[stateKeyOffset]; !ok {
		t.Fatal("offset not persisted")
	}
	if !strings.Contains(buf.String(), "last sync not persisted") || !strings.Contains(buf.String(), "read-only key") {
		t.Fatalf("log = %q", buf.String())
	}
}

func TestTrySyncRejectsEpochBeforeCutoff(t *testing.T) {
	t.Parallel()
	host := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	st := newMemState()
	p := NewPersistent(PersistentConfig{Location: time.UTC}, fetchFunc(func(context.Context) (time.Time, error) {
		return time.Unix(DefaultMinValidEpoch-1, 0), nil
	}), st, logx.Nop(), WithHostClock(fixedHost(host)))

	before := p.Now()
	if p.TrySyncFromNetwork(context.Background()) {
		t.Fatal("expected implausible time to be rejected")
	}
	if after := p.Now(); after != before {
		t.Fatalf("clock changed: %v -> %v", before, after)
	}
	if _, ok := st.m[stateKeyOffset]; ok {
		t.Fatal("offset must not be persisted on rejection")
	}
	if p.SyncStatus().LastError == "" {
		t.Fatal("LastError not recorded")
	}
}

func TestTrySyncFetchError(t *testing.T) {
	t.Parallel()
	host := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	p := NewPersistent(PersistentConfig{Location: time.UTC}, fetchFunc(func(context.Context) (time.Time, error) {
		return time.Time{}, errors.New("no route to host")
	}), nil, logx.Nop(), WithHostClock(fixedHost(host)))
	if p.TrySyncFromNetwork(context.Background()) {
		t.Fatal("expected failure")
	}
	if p.Now().Hour != 9 {
		t.Fatal("clock changed on failure")
	}
}

func TestTrySyncTimeoutIsEnforced(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)
	// Fetcher ignores its context entirely.
	p := NewPersistent(PersistentConfig{Location: time.UTC, SyncTimeout: 50 * time.Millisecond},
		fetchFunc(func(context.Context) (time.Time, error) {
			<-release
			return time.Now(), nil
		}), nil, logx.Nop())

	start := time.Now()
	if p.TrySyncFromNetwork(context.Background()) {
		t.Fatal("expected timeout")
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("sync blocked for %v", took)
	}
}

func TestFakeClock(t *testing.T) {
	t.Parallel()
	f := NewFake(time.Date(2025, 3, 3, 8, 29, 59, 0, time.UTC))
	f.Advance(time.Second)
	if ts := f.Now(); ts.Hour != 8 || ts.Minute != 30 || ts.Second != 0 || ts.Weekday != 1 {
		t.Fatalf("Now() = %+v", ts)
	}
	if f.TrySyncFromNetwork(context.Background()) {
		t.Fatal("fake sync should default to failure")
	}
	f.SyncResult = true
	f.SyncTo = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	if !f.TrySyncFromNetwork(context.Background()) || f.Now().Hour != 9 {
		t.Fatal("fake sync did not apply SyncTo")
	}
}

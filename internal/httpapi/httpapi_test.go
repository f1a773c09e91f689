package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"schoolbell/internal/bell"
	"schoolbell/internal/clock"
	"schoolbell/internal/engine"
)

type fakeController struct {
	mu      sync.Mutex
	plays   []int
	stops   int
	volumes []int
	snap    engine.Snapshot
}

func (f *fakeController) RequestManualPlay(_ context.Context, track int) error {
	if err := engine.ValidateTrack(track); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, track)
	return nil
}

func (f *fakeController) RequestStop(context.Context) {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeController) RequestVolume(_ context.Context, level int) int {
	v := engine.ClampVolume(level)
	f.mu.Lock()
	f.volumes = append(f.volumes, v)
	f.mu.Unlock()
	return v
}

func (f *fakeController) Snapshot() engine.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

type fakeSync struct{ st clock.SyncStatus }

func (f fakeSync) SyncStatus() clock.SyncStatus { return f.st }

func newTestServer(t *testing.T, cfg Config, ctrl *fakeController) *Server {
	t.Helper()
	table, err := bell.NewTable([]bell.Event{
		{DayFrom: 1, DayTo: 5, Hour: 8, Minute: 30, Track: 1, Label: "First lesson"},
		{DayFrom: 6, DayTo: 7, Hour: 10, Minute: 0, Track: 7, Label: "Weekend"},
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(cfg, Deps{
		Engine: ctrl,
		Table:  table,
		Net:    StaticNet{Connected: true, IP: "192.168.1.40"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestPlay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		target string
		code   int
		body   string
	}{
		{"/play", http.StatusBadRequest, "Missing track"},
		{"/play?track=", http.StatusBadRequest, "Invalid track"},
		{"/play?track=abc", http.StatusBadRequest, "Invalid track"},
		{"/play?track=0", http.StatusBadRequest, "Invalid track"},
		{"/play?track=3001", http.StatusBadRequest, "Invalid track"},
		{"/play?track=-2", http.StatusBadRequest, "Invalid track"},
		{"/play?track=1", http.StatusOK, "OK"},
		{"/play?track=3000", http.StatusOK, "OK"},
	}
	ctrl := &fakeController{}
	h := newTestServer(t, Config{}, ctrl).Handler()
	for _, tt := range tests {
		rr := do(t, h, tt.target)
		if rr.Code != tt.code || rr.Body.String() != tt.body {
			t.Errorf("%s = %d %q, want %d %q", tt.target, rr.Code, rr.Body.String(), tt.code, tt.body)
		}
		if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Errorf("%s content type = %q", tt.target, ct)
		}
	}
	if got := ctrl.plays; len(got) != 2 || got[0] != 1 || got[1] != 3000 {
		t.Fatalf("plays = %v", got)
	}
}

func TestStopAndVolume(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	h := newTestServer(t, Config{}, ctrl).Handler()

	if rr := do(t, h, "/stop"); rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Fatalf("/stop = %d %q", rr.Code, rr.Body.String())
	}
	if ctrl.stops != 1 {
		t.Fatalf("stops = %d", ctrl.stops)
	}

	tests := []struct {
		target string
		code   int
		body   string
	}{
		{"/volume", http.StatusBadRequest, "Missing v"},
		{"/volume?v=loud", http.StatusBadRequest, "Invalid v"},
		{"/volume?v=-5", http.StatusOK, "OK"},
		{"/volume?v=99", http.StatusOK, "OK"},
		{"/volume?v=12", http.StatusOK, "OK"},
		{"/volume?v=99999999999999999999", http.StatusOK, "OK"},
		{"/volume?v=-99999999999999999999", http.StatusOK, "OK"},
		{"/volume?v=1e3", http.StatusBadRequest, "Invalid v"},
	}
	for _, tt := range tests {
		rr := do(t, h, tt.target)
		if rr.Code != tt.code || rr.Body.String() != tt.body {
			t.Errorf("%s = %d %q, want %d %q", tt.target, rr.Code, rr.Body.String(), tt.code, tt.body)
		}
	}
	want := []int{0, 30, 12, 30, 0}
	if len(ctrl.volumes) != len(want) {
		t.Fatalf("volumes = %v", ctrl.volumes)
	}
	for i := range want {
		if ctrl.volumes[i] != want[i] {
			t.Fatalf("volumes = %v, want %v", ctrl.volumes, want)
		}
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{snap: engine.Snapshot{
		Time:                clock.FromTime(time.Date(2025, 3, 3, 8, 30, 15, 0, time.UTC)),
		Volume:              18,
		ManualLock:          true,
		ManualLockRemaining: 2*time.Minute + 45*time.Second,
		LastTrigger:         &engine.Trigger{At: clock.FromTime(time.Date(2025, 3, 3, 8, 30, 0, 0, time.UTC)), Track: 1, Label: "First lesson"},
	}}
	s := newTestServer(t, Config{}, ctrl)
	s.sync = fakeSync{st: clock.SyncStatus{LastSuccess: time.Date(2025, 3, 3, 7, 0, 0, 0, time.UTC)}}

	rr := do(t, s.Handler(), "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var got StatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := StatusResponse{
		Wifi:            "connected",
		IP:              "192.168.1.40",
		ClockTimestamp:  "2025-03-03 08:30:15",
		Volume:          18,
		ManualLock:      true,
		ManualLockUntil: "2025-03-03 08:33:00",
		LastSync:        "2025-03-03T07:00:00Z",
		LastTrigger:     &LastTrigger{At: "2025-03-03 08:30:00", Track: 1, Label: "First lesson"},
	}
	if got.Wifi != want.Wifi || got.IP != want.IP || got.ClockTimestamp != want.ClockTimestamp ||
		got.Volume != want.Volume || got.ManualLock != want.ManualLock ||
		got.ManualLockUntil != want.ManualLockUntil || got.ManualLockRemainingSec != 165 || got.LastSync != want.LastSync ||
		got.LastTrigger == nil || *got.LastTrigger != *want.LastTrigger {
		t.Fatalf("status = %+v, want %+v", got, want)
	}

	// Keys the firmware dashboard reads must be present even when false.
	var raw map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &raw)
	for _, k := range []string{"wifi", "ip", "clockTimestamp", "volume", "manualLock"} {
		if _, ok := raw[k]; !ok {
			t.Errorf("status missing %q", k)
		}
	}
}

func TestSchedule(t *testing.T) {
	t.Parallel()
	rr := do(t, newTestServer(t, Config{}, &fakeController{}).Handler(), "/schedule")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	var rows []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0]["dayFrom"] != float64(1) || rows[0]["dayTo"] != float64(5) || rows[0]["label"] != "First lesson" {
		t.Fatalf("row 0 = %v", rows[0])
	}
	if rows[1]["track"] != float64(7) {
		t.Fatalf("rows out of order: %v", rows)
	}
}

func TestRootAndRequestID(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, Config{}, &fakeController{}).Handler()
	rr := do(t, h, "/")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "GET /play?track=1") {
		t.Fatalf("/ = %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(headerRequestID) == "" {
		t.Fatal("request id not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get(headerRequestID) != "abc-123" {
		t.Fatalf("request id = %q", rr.Header().Get(headerRequestID))
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, Config{RatePerSec: 0.001, Burst: 2}, &fakeController{}).Handler()
	codes := []int{}
	for range 4 {
		codes = append(codes, do(t, h, "/stop").Code)
	}
	want := []int{200, 200, 429, 429}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
	// Health checks bypass the limiter.
	if rr := do(t, h, "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("/healthz = %d", rr.Code)
	}
}

type panicController struct{ fakeController }

func (*panicController) RequestStop(context.Context) { panic("boom") }

func TestRecover(t *testing.T) {
	t.Parallel()
	s, err := New(Config{}, Deps{Engine: &panicController{}, Net: StaticNet{}})
	if err != nil {
		t.Fatal(err)
	}
	rr := do(t, s.Handler(), "/stop")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rr.Code)
	}
}

func TestPprofMount(t *testing.T) {
	t.Parallel()
	off := newTestServer(t, Config{}, &fakeController{}).Handler()
	if rr := do(t, off, "/debug/pprof/"); rr.Code != http.StatusNotFound {
		t.Fatalf("pprof off = %d", rr.Code)
	}
	on := newTestServer(t, Config{Pprof: true}, &fakeController{}).Handler()
	if rr := do(t, on, "/debug/pprof/"); rr.Code != http.StatusOK {
		t.Fatalf("pprof on = %d", rr.Code)
	}
}

func TestServeLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Addr: "127.0.0.1:0"}, &fakeController{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != "127.0.0.1:0" {
			addr = a
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server did not bind")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeListenError(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	s := newTestServer(t, Config{Addr: ln.Addr().String()}, &fakeController{})
	if err := s.Serve(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestInterfacesLink(t *testing.T) {
	t.Parallel()
	lo := net.Interface{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback}
	down := net.Interface{Index: 2, Name: "eth0"}
	wlan := net.Interface{Index: 3, Name: "wlan0", Flags: net.FlagUp}
	addrs := map[string][]net.Addr{
		"lo":    {&net.IPNet{IP: net.IPv4(127, 0, 0, 1), Mask: net.CIDRMask(8, 32)}},
		"eth0":  {&net.IPNet{IP: net.IPv4(10, 0, 0, 2), Mask: net.CIDRMask(24, 32)}},
		"wlan0": {&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)}, &net.IPNet{IP: net.IPv4(192, 168, 4, 9), Mask: net.CIDRMask(24, 32)}},
	}
	n := Interfaces{
		list:  func() ([]net.Interface, error) { return []net.Interface{lo, down, wlan}, nil },
		addrs: func(ifi net.Interface) ([]net.Addr, error) { return addrs[ifi.Name], nil },
	}
	if ok, ip := n.Link(); !ok || ip != "192.168.4.9" {
		t.Fatalf("Link() = %v %q", ok, ip)
	}

	n.Name = "eth0"
	if ok, ip := n.Link(); ok || ip != unspecifiedIP {
		t.Fatalf("down iface Link() = %v %q", ok, ip)
	}

	n.list = func() ([]net.Interface, error) { return nil, errors.New("no netlink") }
	if ok, _ := n.Link(); ok {
		t.Fatal("expected disconnected on error")
	}
}

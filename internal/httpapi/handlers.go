package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"schoolbell/internal/bell"
	"schoolbell/internal/engine"
	logx "schoolbell/pkg/logx"
)

// Controller is the part of the engine the control surface drives.
type Controller interface {
	RequestManualPlay(ctx context.Context, track int) error
	RequestStop(ctx context.Context)
	RequestVolume(ctx context.Context, level int) int
	Snapshot() engine.Snapshot
}

const rootHelp = "School bell controller\n" +
	"GET /status\n" +
	"GET /play?track=1\n" +
	"GET /stop\n" +
	"GET /volume?v=20\n" +
	"GET /schedule\n"

// StatusResponse is the body of GET /status. ManualLockUntil is on the same
// clock as ClockTimestamp.
type StatusResponse struct {
	Wifi                   string       `json:"wifi"`
	IP                     string       `json:"ip"`
	ClockTimestamp         string       `json:"clockTimestamp"`
	Volume                 int          `json:"volume"`
	ManualLock             bool         `json:"manualLock"`
	ManualLockUntil        string       `json:"manualLockUntil,omitempty"`
	ManualLockRemainingSec int          `json:"manualLockRemainingSec,omitempty"`
	LastSync               string       `json:"lastSync,omitempty"`
	LastTrigger            *LastTrigger `json:"lastTrigger,omitempty"`
}

type LastTrigger struct {
	At    string `json:"at"`
	Track int    `json:"track"`
	Label string `json:"label,omitempty"`
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, rootHelp)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	snap := s.eng.Snapshot()
	connected, ip := s.net.Link()

	resp := StatusResponse{
		Wifi:           "disconnected",
		IP:             ip,
		ClockTimestamp: snap.Time.String(),
		Volume:         snap.Volume,
		ManualLock:     snap.ManualLock,
	}
	if connected {
		resp.Wifi = "connected"
	}
	if snap.ManualLock {
		resp.ManualLockUntil = snap.ManualLockEnd().String()
		resp.ManualLockRemainingSec = int(snap.ManualLockRemaining.Round(time.Second) / time.Second)
	}
	if s.sync != nil {
		if st := s.sync.SyncStatus(); !st.LastSuccess.IsZero() {
			resp.LastSync = st.LastSuccess.Format(time.RFC3339)
		}
	}
	if t := snap.LastTrigger; t != nil {
		resp.LastTrigger = &LastTrigger{At: t.At.String(), Track: t.Track, Label: t.Label}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("track") {
		writeText(w, http.StatusBadRequest, "Missing track")
		return
	}
	track, err := strconv.Atoi(strings.TrimSpace(q.Get("track")))
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid track")
		return
	}
	if err := s.eng.RequestManualPlay(r.Context(), track); err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			writeText(w, http.StatusBadRequest, "Invalid track")
			return
		}
		s.log.Warn("manual play failed", logx.Int("track", track), logx.Err(err))
		writeText(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.eng.RequestStop(r.Context())
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) volume(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("v") {
		writeText(w, http.StatusBadRequest, "Missing v")
		return
	}
	v, ok := parseLevel(q.Get("v"))
	if !ok {
		writeText(w, http.StatusBadRequest, "Invalid v")
		return
	}
	s.eng.RequestVolume(r.Context(), v)
	writeText(w, http.StatusOK, "OK")
}

// parseLevel saturates integers outside the int range; the engine clamps
// the rest.
func parseLevel(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.ParseInt(raw, 10, strconv.IntSize)
	if err == nil {
		return int(n), true
	}
	if !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	if strings.HasPrefix(raw, "-") {
		return math.MinInt, true
	}
	return math.MaxInt, true
}

func (s *Server) schedule(w http.ResponseWriter, _ *http.Request) {
	events := []bell.Event{}
	if s.table != nil {
		events = s.table.Events()
	}
	writeJSON(w, http.StatusOK, events)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

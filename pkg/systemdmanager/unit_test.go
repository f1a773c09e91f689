package systemdmanager

import "testing"

func TestUnitName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"mpd":         "mpd.service",
		"mpd.service": "mpd.service",
		"mpd.socket":  "mpd.socket",
		" pulse ":     "pulse.service",
		"user@1000.x": "user@1000.x.service",
		"":            "",
	}
	for in, want := range tests {
		if got := UnitName(in); got != want {
			t.Errorf("UnitName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnitStatus(t *testing.T) {
	t.Parallel()
	if !(UnitStatus{Active: "active", LoadState: "loaded"}).Running() {
		t.Fatal("active unit not running")
	}
	if (UnitStatus{Active: "unknown", LoadState: "not-found"}).Exists() {
		t.Fatal("missing unit reported as existing")
	}
}

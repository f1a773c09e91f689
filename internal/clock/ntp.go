package clock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/ntp"
)

const DefaultNTPServer = "pool.ntp.org"

// NTPFetcher queries a single NTP server.
type NTPFetcher struct {
	Server  string
	Timeout time.Duration
}

func (f NTPFetcher) Fetch(ctx context.Context) (time.Time, error) {
	server := strings.TrimSpace(f.Server)
	if server == "" {
		server = DefaultNTPServer
	}
	timeout := f.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); timeout <= 0 || rem < timeout {
			timeout = rem
		}
	}
	if timeout <= 0 {
		return time.Time{}, ErrSyncTimeout
	}

	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return time.Time{}, fmt.Errorf("ntp query %s: %w", server, err)
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("ntp response %s: %w", server, err)
	}
	return time.Now().Add(resp.ClockOffset), nil
}

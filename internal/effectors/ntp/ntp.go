// Package ntp implements the get_network_time effector: an SNTP client
// (RFC 5905) that queries a primary server, falls back to a backup
// server, and finally falls back to the local system clock.
package ntp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// sntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const sntpEpochOffset = 2208988800

// Result is the outcome of a network-time query.
type Result struct {
	Time    time.Time `json:"time"`
	Source  string    `json:"source"` // "ntp:<server>" on success, "system" on full fallback
	Warning string    `json:"warning,omitempty"`
}

// Client queries a primary and backup NTP server, falling back to the
// system clock if both are unreachable. This effector never fails the
// call; the fallback path is part of its contract.
type Client struct {
	Primary string
	Backup  string
	Timeout time.Duration
}

// New creates an NTP client.
func New(primary, backup string, timeout time.Duration) *Client {
	return &Client{Primary: primary, Backup: backup, Timeout: timeout}
}

// Query attempts the primary server, then the backup, then falls back
// to the local system clock with a warning. Always returns a usable
// Result, never an error.
func (c *Client) Query(ctx context.Context) Result {
	if t, err := c.queryServer(ctx, c.Primary); err == nil {
		return Result{Time: t, Source: "ntp:" + c.Primary}
	}

	if c.Backup != "" {
		if t, err := c.queryServer(ctx, c.Backup); err == nil {
			return Result{Time: t, Source: "ntp:" + c.Backup}
		}
	}

	return Result{
		Time:    time.Now(),
		Source:  "system",
		Warning: "NTP servers unreachable; falling back to system clock",
	}
}

// queryServer sends a single SNTP request and parses the 48-byte reply.
func (c *Client) queryServer(ctx context.Context, server string) (time.Time, error) {
	if server == "" {
		return time.Time{}, fmt.Errorf("no server configured")
	}

	dialer := net.Dialer{Timeout: c.Timeout}
	conn, err := dialer.DialContext(ctx, "udp", net.JoinHostPort(server, "123"))
	if err != nil {
		return time.Time{}, fmt.Errorf("dial %s: %w", server, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.Timeout))
	}

	req := make([]byte, 48)
	req[0] = 0x1B // LI=0, VN=3, Mode=3 (client)
	if _, err := conn.Write(req); err != nil {
		return time.Time{}, fmt.Errorf("write request to %s: %w", server, err)
	}

	resp := make([]byte, 48)
	if _, err := conn.Read(resp); err != nil {
		return time.Time{}, fmt.Errorf("read response from %s: %w", server, err)
	}

	// Transmit timestamp occupies bytes 40-47: seconds since NTP epoch,
	// followed by a fractional-second counter.
	seconds := binary.BigEndian.Uint32(resp[40:44])
	fraction := binary.BigEndian.Uint32(resp[44:48])

	secs := int64(seconds) - sntpEpochOffset
	nanos := (int64(fraction) * 1e9) >> 32
	return time.Unix(secs, nanos).UTC(), nil
}

package httpkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

// flakyRT fails its first n round trips with err, then delegates to fn.
type flakyRT struct {
	failures int
	err      error
	attempts int
	fn       func(*http.Request) (*http.Response, error)
}

func (f *flakyRT) RoundTrip(req *http.Request) (*http.Response, error) {
	f.attempts++
	if f.attempts <= f.failures {
		return nil, f.err
	}
	return f.fn(req)
}

func okResponse(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    req,
	}, nil
}

func refusedErr() error {
	return &net.OpError{Op: "dial", Err: &net.OpError{Op: "connect", Err: syscall.ECONNREFUSED}}
}

func TestNewClientSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewClient(WithTimeout(5 * time.Second))
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if gotUA == "" || strings.HasPrefix(gotUA, "Go-http-client") {
		t.Fatalf("User-Agent = %q, want the module's own", gotUA)
	}
}

func TestNewClientKeepsCallerUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewClient()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom/1.0")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if gotUA != "custom/1.0" {
		t.Fatalf("User-Agent = %q, want custom/1.0", gotUA)
	}
}

func TestRetryTransportRetriesTransientErrors(t *testing.T) {
	base := &flakyRT{failures: 2, err: refusedErr(), fn: okResponse}
	rt := &retryTransport{next: base, attempts: 3, wait: time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://svc.local/", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if base.attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (1 initial + 2 retries)", base.attempts)
	}
}

func TestRetryTransportGivesUpAfterBudget(t *testing.T) {
	base := &flakyRT{failures: 10, err: refusedErr(), fn: okResponse}
	rt := &retryTransport{next: base, attempts: 2, wait: time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://svc.local/", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("want error after retry budget exhausted")
	}
	if base.attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (1 initial + 2 retries)", base.attempts)
	}
}

func TestRetryTransportSkipsNonTransientErrors(t *testing.T) {
	base := &flakyRT{failures: 10, err: errors.New("certificate expired"), fn: okResponse}
	rt := &retryTransport{next: base, attempts: 3, wait: time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://svc.local/", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("want non-transient error surfaced")
	}
	if base.attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry)", base.attempts)
	}
}

func TestRetryTransportRewindsBody(t *testing.T) {
	var bodies []string
	base := &flakyRT{failures: 1, err: refusedErr(), fn: func(req *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(req.Body)
		bodies = append(bodies, string(b))
		return okResponse(req)
	}}
	rt := &retryTransport{next: base, attempts: 2, wait: time.Millisecond}

	payload := []byte(`{"entity_id":"light.kitchen"}`)
	req, _ := http.NewRequest(http.MethodPost, "http://svc.local/", bytes.NewReader(payload))

	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if len(bodies) != 1 || bodies[0] != string(payload) {
		t.Fatalf("retried body = %q, want original payload", bodies)
	}
}

func TestRetryTransportRefusesUnrewindableBody(t *testing.T) {
	base := &flakyRT{failures: 10, err: refusedErr(), fn: okResponse}
	rt := &retryTransport{next: base, attempts: 3, wait: time.Millisecond}

	req, _ := http.NewRequest(http.MethodPost, "http://svc.local/", nil)
	req.Body = io.NopCloser(strings.NewReader("one-shot"))
	req.GetBody = nil

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("want error")
	}
	if base.attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (body not rewindable)", base.attempts)
	}
}

func TestRetryTransportHonorsContextDuringDelay(t *testing.T) {
	base := &flakyRT{failures: 10, err: refusedErr(), fn: okResponse}
	rt := &retryTransport{next: base, attempts: 3, wait: 10 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://svc.local/", nil)

	done := make(chan error, 1)
	go func() {
		_, err := rt.RoundTrip(req)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RoundTrip did not return after context cancellation")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", refusedErr(), true},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"host unreachable", &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, true},
		{"net unreachable", &net.OpError{Op: "dial", Err: syscall.ENETUNREACH}, true},
		{"plain error", errors.New("boom"), false},
		{"permission denied", &net.OpError{Op: "dial", Err: syscall.EACCES}, false},
	}
	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Errorf("%s: isRetryableError = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader(`{"message":"not found"}`))
	got := ReadErrorBody(body, 4096)
	if got != `{"message":"not found"}` {
		t.Fatalf("ReadErrorBody = %q", got)
	}

	if got := ReadErrorBody(nil, 4096); got != "" {
		t.Fatalf("ReadErrorBody(nil) = %q, want empty", got)
	}

	long := io.NopCloser(strings.NewReader(strings.Repeat("x", 100)))
	if got := ReadErrorBody(long, 10); len(got) != 10 {
		t.Fatalf("len = %d, want limit 10", len(got))
	}
}

func TestReadErrorBodyPropagatesReadFailure(t *testing.T) {
	got := ReadErrorBody(io.NopCloser(&failingReader{}), 4096)
	if !strings.Contains(got, "failed to read error body") {
		t.Fatalf("got %q", got)
	}
}

type failingReader struct{}

func (r *failingReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("connection reset mid-body")
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway records envelopes and answers with the next scripted status.
type fakeGateway struct {
	mu       sync.Mutex
	statuses []int
	reply    Response
	got      []Envelope
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var env Envelope
	_ = json.NewDecoder(r.Body).Decode(&env)

	g.mu.Lock()
	g.got = append(g.got, env)
	status := http.StatusOK
	if len(g.statuses) > 0 {
		status = g.statuses[0]
		g.statuses = g.statuses[1:]
	}
	reply := g.reply
	g.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusOK {
		_ = json.NewEncoder(w).Encode(reply)
		return
	}
	_, _ = w.Write([]byte(`{"success":false,"error":"upstream down"}`))
}

func (g *fakeGateway) calls() []Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Envelope(nil), g.got...)
}

func newTestClient(url string, cfg Config) (*Client, *[]time.Duration) {
	cfg.BaseURL = url
	c := NewClient(cfg, testLogger())
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return c, &delays
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		err  bool
	}{
		{raw: "+55 (11) 98765-4321", want: "5511987654321"},
		{raw: "(11) 98765-4321", want: "5511987654321"},
		{raw: "011 98765-4321", want: "5511987654321"},
		{raw: "0055 11 98765 4321", want: "5511987654321"},
		{raw: "5511987654321", want: "5511987654321"},
		{raw: "+1 415 555 0100", want: "14155550100"},
		{raw: "1234", err: true},
		{raw: "", err: true},
		{raw: "+123456789012345678", err: true},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.raw, "55")
		if tc.err {
			if !errors.Is(err, ErrInvalidPhone) {
				t.Fatalf("NormalizePhone(%q): expected ErrInvalidPhone, got %q err=%v", tc.raw, got, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("NormalizePhone(%q) = %q err=%v, want %q", tc.raw, got, err, tc.want)
		}
	}
}

func TestSendRetriesWithExponentialBackoff(t *testing.T) {
	gw := &fakeGateway{
		statuses: []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusOK},
		reply:    Response{Success: true},
	}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c, delays := newTestClient(srv.URL, Config{})
	if !c.Send(context.Background(), "t-1", "tenant-t-1", "(11) 98765-4321", "hello") {
		t.Fatalf("expected delivery on third attempt")
	}

	calls := gw.calls()
	if len(calls) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", len(calls))
	}
	if len(*delays) != 2 || (*delays)[0] != time.Second || (*delays)[1] != 2*time.Second {
		t.Fatalf("expected delays [1s 2s], got %v", *delays)
	}
	env := calls[2]
	if env.Action != ActionSendMessage || env.TenantID != "t-1" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Payload.Number != "5511987654321" || env.Payload.Message != "hello" || env.Payload.InstanceName != "tenant-t-1" {
		t.Fatalf("unexpected payload %+v", env.Payload)
	}
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	gw := &fakeGateway{statuses: []int{500, 500, 500, 500}}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c, delays := newTestClient(srv.URL, Config{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond})
	if c.Send(context.Background(), "t-1", "i-1", "5511987654321", "hello") {
		t.Fatalf("expected failure")
	}
	if n := len(gw.calls()); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
	if len(*delays) != 2 || (*delays)[0] != 10*time.Millisecond || (*delays)[1] != 20*time.Millisecond {
		t.Fatalf("unexpected delays %v", *delays)
	}
}

func TestSendTreatsRejectionAsRetryable(t *testing.T) {
	gw := &fakeGateway{reply: Response{Success: false, Error: "instance offline"}}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c, _ := newTestClient(srv.URL, Config{MaxAttempts: 2})
	if c.Send(context.Background(), "t-1", "i-1", "5511987654321", "hello") {
		t.Fatalf("expected failure on success=false")
	}
	if n := len(gw.calls()); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
}

func TestSendNotConfiguredShortCircuits(t *testing.T) {
	c, delays := newTestClient("", Config{})
	if c.Configured() {
		t.Fatalf("expected unconfigured client")
	}
	if c.Send(context.Background(), "t-1", "i-1", "5511987654321", "hello") {
		t.Fatalf("expected failure")
	}
	if len(*delays) != 0 {
		t.Fatalf("not-configured must not retry, got delays %v", *delays)
	}
	if _, err := c.QRCode(context.Background(), "t-1", "i-1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendInvalidRecipientSkipsGateway(t *testing.T) {
	gw := &fakeGateway{reply: Response{Success: true}}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c, _ := newTestClient(srv.URL, Config{})
	if c.Send(context.Background(), "t-1", "i-1", "12-34", "hello") {
		t.Fatalf("expected failure")
	}
	if n := len(gw.calls()); n != 0 {
		t.Fatalf("expected no gateway calls, got %d", n)
	}
}

func TestSendStopsWhenContextCancelled(t *testing.T) {
	gw := &fakeGateway{statuses: []int{500, 500, 500}}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	if c.Send(ctx, "t-1", "i-1", "5511987654321", "hello") {
		t.Fatalf("expected failure")
	}
	if n := len(gw.calls()); n != 1 {
		t.Fatalf("expected 1 attempt before shutdown, got %d", n)
	}
}

func TestCreateInstanceRegistersWebhook(t *testing.T) {
	gw := &fakeGateway{reply: Response{Success: true, Data: &Data{InstanceName: "tenant-t-1", QRCode: "data:image/png;base64,AAA", State: "connecting"}}}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c, _ := newTestClient(srv.URL, Config{PublicBaseURL: "https://api.example.test/"})
	data, err := c.CreateInstance(context.Background(), "t-1", "tenant-t-1", "11 98765-4321")
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if data.QRCode == "" || data.State != "connecting" {
		t.Fatalf("unexpected data %+v", data)
	}
	env := gw.calls()[0]
	if env.Action != ActionCreateInstance {
		t.Fatalf("unexpected action %q", env.Action)
	}
	if env.Payload.WebhookURL != "https://api.example.test/api/v1/notifications/gateway/webhook" {
		t.Fatalf("unexpected webhook %q", env.Payload.WebhookURL)
	}
	if env.Payload.PhoneNumber != "5511987654321" {
		t.Fatalf("unexpected phone %q", env.Payload.PhoneNumber)
	}
}

func TestCreateInstanceIsNotRetried(t *testing.T) {
	gw := &fakeGateway{statuses: []int{http.StatusBadGateway, http.StatusOK}, reply: Response{Success: true}}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c, _ := newTestClient(srv.URL, Config{})
	_, err := c.CreateInstance(context.Background(), "t-1", "tenant-t-1", "")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if n := len(gw.calls()); n != 1 {
		t.Fatalf("expected a single call, got %d", n)
	}
}

func TestConnectionStateAndDelete(t *testing.T) {
	gw := &fakeGateway{reply: Response{Success: true, Data: &Data{State: "open"}}}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	c, _ := newTestClient(srv.URL, Config{})
	data, err := c.ConnectionState(context.Background(), "t-1", "tenant-t-1")
	if err != nil || data.State != "open" {
		t.Fatalf("unexpected state %+v err=%v", data, err)
	}
	if err := c.DeleteInstance(context.Background(), "t-1", "tenant-t-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	calls := gw.calls()
	if calls[0].Action != ActionGetConnectionState || calls[1].Action != ActionDeleteInstance {
		t.Fatalf("unexpected actions %q %q", calls[0].Action, calls[1].Action)
	}
}

package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/cat-tracker/internal/clock"
	"github.com/sweeney/cat-tracker/internal/mode"
	"github.com/sweeney/cat-tracker/internal/publish"
	"github.com/sweeney/cat-tracker/internal/ring"
	"github.com/sweeney/cat-tracker/internal/status"
	"github.com/sweeney/cat-tracker/internal/telemetry"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	cfg := status.Config{
		ClientID: "351234567890123",
		Broker:   "tcp://192.168.1.200:1883",
		Encoding: "cbor",
		HTTPAddr: ":80",
	}
	tr := status.NewTracker(start, cfg, clock.NewFake(start.Add(time.Hour)))
	srv := New(Options{Addr: ":0", Tracker: tr})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetSession("connected", 0)
	tr.SetDevice(mode.Default())
	tr.SetPublish(publish.Stats{Snapshots: 3, Batches: 5, Entries: 21}, start.Add(time.Minute), nil)

	sj := getJSON(t, ts.URL+"/index.json")

	if !sj.Status.Cloud.Connected {
		t.Error("expected Cloud.Connected=true")
	}
	if sj.Status.Cloud.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("Cloud.Broker: got %q", sj.Status.Cloud.Broker)
	}
	if sj.Status.UptimeSeconds != 3600 {
		t.Errorf("UptimeSeconds: got %d, want 3600", sj.Status.UptimeSeconds)
	}
	if sj.Status.Publish.Entries != 21 {
		t.Errorf("Publish.Entries: got %d, want 21", sj.Status.Publish.Entries)
	}
	if sj.Status.Config.Encoding != "cbor" {
		t.Errorf("Config.Encoding: got %q", sj.Status.Config.Encoding)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t)

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Cloud.Connected {
		t.Error("expected disconnected initially")
	}

	store := ring.NewStore(ring.DefaultCapacities(), 0, nil)
	store.Location.Record(start, telemetry.Location{Latitude: 51.5})
	tr.SetBuffers(store)
	tr.SetSession("backoff", 2)

	sj = getJSON(t, ts.URL+"/index.json")
	if sj.Status.Cloud.State != "backoff" || sj.Status.Cloud.Retries != 2 {
		t.Errorf("Cloud: got %+v", sj.Status.Cloud)
	}
	if q := sj.Status.Buffers[telemetry.ClassLocation].Queued; q != 1 {
		t.Errorf("location queued: got %d, want 1", q)
	}
}

func TestHTMLEndpoints(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetSession("connected", 0)
	tr.SetFix(telemetry.Location{Latitude: 51.49341, Longitude: -0.00981}, start)

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q, want text/html", path, ct)
		}
		page := string(body)
		for _, want := range []string{"Cat Tracker", "connected", "51.49341", "user_input", "1h 0m 0s"} {
			if !strings.Contains(page, want) {
				t.Errorf("%s: page missing %q", path, want)
			}
		}
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/index.json", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts, tr := newTestServer(t)

	get := func() (int, string) {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET /healthz: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, strings.TrimSpace(string(body))
	}

	if code, body := get(); code != http.StatusServiceUnavailable || body != "disconnected" {
		t.Errorf("before connect: got %d %q", code, body)
	}
	tr.SetSession("connected", 0)
	if code, body := get(); code != http.StatusOK || body != "connected" {
		t.Errorf("connected: got %d %q", code, body)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{5*time.Minute + 3*time.Second, "5m 3s"},
		{time.Hour, "1h 0m 0s"},
		{50*time.Hour + 90*time.Second, "2d 2h 1m 30s"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

package shimmer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/shimmer/internal/journal"
	"github.com/hazyhaar/shimmer/shield"
)

func newServer(t *testing.T, e *Engine, opts shield.Options) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(e.Router(opts))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTP_Measure(t *testing.T) {
	e := newEngine(t, &stages{render: paragraph}, func(c *Config) { c.Journal = journal.OpenMemory(t) })
	srv := newServer(t, e, shield.Options{MaxBody: 1 << 20})

	resp := post(t, srv.URL+"/v1/measure", `{"fragments":[{"html":"<p>hi</p>"}],"config":{"duration_seconds":2}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if resp.Header.Get(shield.TraceHeader) == "" {
		t.Fatal("trace header missing")
	}
	var body struct {
		SessionID string `json:"session_id"`
		Loading   bool   `json:"loading"`
		Config    struct {
			DurationSeconds float64 `json:"duration_seconds"`
		} `json:"config"`
		Geometry  []map[string]any `json:"geometry"`
		Blocks    []map[string]any `json:"blocks"`
		HTML      string           `json:"html"`
		ElapsedMS *int64           `json:"elapsed_ms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SessionID == "" || !body.Loading || body.ElapsedMS == nil {
		t.Fatalf("body: got %+v", body)
	}
	if body.Config.DurationSeconds != 2 || len(body.Geometry) != 1 || len(body.Blocks) != 1 {
		t.Fatalf("body: got %+v", body)
	}

	resp = get(t, srv.URL+"/v1/measurements?limit=5")
	var entries []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0]["id"] != body.SessionID || entries[0]["transport"] != "http" {
		t.Fatalf("measurements: got %v", entries)
	}

	resp = get(t, srv.URL+"/v1/measurements/"+body.SessionID)
	var entry map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || entry["id"] != body.SessionID {
		t.Fatalf("measurement: got %d %v", resp.StatusCode, entry)
	}
	if resp = get(t, srv.URL+"/v1/measurements/msr_unknown"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown measurement: got %d, want 404", resp.StatusCode)
	}
}

func TestHTTP_BadRequests(t *testing.T) {
	e := newEngine(t, &stages{render: paragraph})
	srv := newServer(t, e, shield.Options{MaxBody: 256})

	cases := map[string]struct {
		body string
		want int
	}{
		"invalid json":   {`{"fragments":`, http.StatusBadRequest},
		"no content":     {`{"fragments":[]}`, http.StatusBadRequest},
		"bad fragment":   {`{"fragments":[{"html":"a","text":"b"}]}`, http.StatusBadRequest},
		"bad template":   {`{"fragments":[{"template":"{{.x"}]}`, http.StatusBadRequest},
		"empty html":     {`{"fragments":[{"html":"<!-- nothing -->"}]}`, http.StatusBadRequest},
		"body too large": {`{"fragments":[{"html":"` + strings.Repeat("x", 512) + `"}]}`, http.StatusRequestEntityTooLarge},
	}
	for name, tc := range cases {
		resp := post(t, srv.URL+"/v1/measure", tc.body)
		if resp.StatusCode != tc.want {
			t.Errorf("%s: got %d, want %d", name, resp.StatusCode, tc.want)
		}
		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["error"] == "" {
			t.Errorf("%s: error body: got %v, %v", name, body, err)
		}
	}

	resp := get(t, srv.URL+"/v1/measurements?limit=x")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: got %d", resp.StatusCode)
	}
	if resp = get(t, srv.URL+"/v1/measurements/msr_x"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("no journal: got %d, want 404", resp.StatusCode)
	}
}

func TestHTTP_Unavailable(t *testing.T) {
	e := newEngine(t, &stages{render: paragraph, err: errors.New("chrome gone")})
	srv := newServer(t, e, shield.Options{})

	resp := post(t, srv.URL+"/v1/measure", `{"fragments":[{"html":"<p>hi</p>"}]}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("Retry-After missing")
	}
}

func TestHTTP_AllStagesBusy(t *testing.T) {
	e := New(Config{
		Stages: func(ctx context.Context, _ int) (Stage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Timeout: 20 * time.Millisecond,
		Logger:  quiet(),
	})
	srv := newServer(t, e, shield.Options{})

	resp := post(t, srv.URL+"/v1/measure", `{"fragments":[{"html":"<p>hi</p>"}]}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("Retry-After missing")
	}
}

func TestHTTP_RateLimited(t *testing.T) {
	e := newEngine(t, &stages{render: paragraph})
	srv := newServer(t, e, shield.Options{RateLimit: 1})

	post(t, srv.URL+"/v1/measure", `{"fragments":[{"html":"<p>hi</p>"}]}`)
	resp := post(t, srv.URL+"/v1/measure", `{"fragments":[{"html":"<p>hi</p>"}]}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second measure: got %d, want 429", resp.StatusCode)
	}
	if resp := get(t, srv.URL+"/v1/config"); resp.StatusCode != http.StatusOK {
		t.Fatalf("config after limit: got %d", resp.StatusCode)
	}
}

func TestHTTP_Config(t *testing.T) {
	e := newEngine(t, &stages{render: paragraph})
	srv := newServer(t, e, shield.Options{})

	resp := get(t, srv.URL+"/v1/config")
	var cfg map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg["shimmer_color"] != "rgba(255, 255, 255, 0.15)" || cfg["fallback_radius_px"] != 4.0 {
		t.Fatalf("config: got %v", cfg)
	}
}

func TestHTTP_Health(t *testing.T) {
	ready := false
	e := newEngine(t, &stages{render: paragraph}, func(c *Config) { c.Ready = func() bool { return ready } })
	srv := newServer(t, e, shield.Options{})

	if resp := get(t, srv.URL+"/healthz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("starting: got %d", resp.StatusCode)
	}
	ready = true
	if resp := get(t, srv.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("ready: got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodHead, srv.URL+"/healthz", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("HEAD: got %d", resp.StatusCode)
	}
}

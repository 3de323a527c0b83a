package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/shimmer/idgen"
	"github.com/hazyhaar/shimmer/kit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	serve(h, httptest.NewRequest(http.MethodHead, "/healthz", nil))
	if method != http.MethodGet {
		t.Fatalf("method: got %q, want GET", method)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(Headers{"X-Frame-Options": "DENY", "X-Empty": ""})(okHandler())
	w := serve(h, httptest.NewRequest("GET", "/", nil))
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options: got %q", got)
	}
	if _, ok := w.Header()["X-Empty"]; ok {
		t.Fatal("empty header was set")
	}
	if APIHeaders()["X-Content-Type-Options"] != "nosniff" {
		t.Fatal("APIHeaders: nosniff missing")
	}
}

func TestMaxBody(t *testing.T) {
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	w := serve(h, httptest.NewRequest("POST", "/v1/measure", strings.NewReader("short")))
	if w.Code != http.StatusOK {
		t.Fatalf("small body: got %d", w.Code)
	}

	w = serve(h, httptest.NewRequest("POST", "/v1/measure", strings.NewReader("much too long for the cap")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("declared length: got %d, want 413", w.Code)
	}
	if !strings.Contains(w.Body.String(), "too large") {
		t.Fatalf("body: got %q", w.Body.String())
	}

	req := httptest.NewRequest("POST", "/v1/measure", strings.NewReader("much too long for the cap"))
	req.ContentLength = -1
	w = serve(h, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("streamed body: got %d, want 413", w.Code)
	}
}

func TestTraceID_New(t *testing.T) {
	var traceID, transport, remote string
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = kit.GetTraceID(r.Context())
		transport = kit.GetTransport(r.Context())
		remote = kit.GetRemoteAddr(r.Context())
	}))
	req := httptest.NewRequest("GET", "/v1/config", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	w := serve(h, req)

	if !strings.HasPrefix(traceID, idgen.TracePrefix) {
		t.Fatalf("trace ID: got %q", traceID)
	}
	if w.Header().Get(TraceHeader) != traceID {
		t.Fatalf("header: got %q, want %q", w.Header().Get(TraceHeader), traceID)
	}
	if transport != kit.TransportHTTP || remote != "192.0.2.7" {
		t.Fatalf("context: transport %q remote %q", transport, remote)
	}
}

func TestTraceID_Inbound(t *testing.T) {
	in := idgen.Trace()
	var got string
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = kit.GetTraceID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(TraceHeader, in)
	serve(h, req)
	if got != in {
		t.Fatalf("inbound: got %q, want %q", got, in)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(TraceHeader, "<script>")
	serve(h, req)
	if got == "<script>" || !strings.HasPrefix(got, idgen.TracePrefix) {
		t.Fatalf("malformed inbound: got %q", got)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, "/v1/measure")
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(okHandler())

	req := func(path, ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", path, nil)
		r.RemoteAddr = ip + ":1234"
		return serve(h, r)
	}

	for i := 0; i < 2; i++ {
		if w := req("/v1/measure", "10.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, w.Code)
		}
	}
	w := req("/v1/measure", "10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("over limit: got %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "61" {
		t.Fatalf("Retry-After: got %q", w.Header().Get("Retry-After"))
	}

	if w := req("/v1/measure", "10.0.0.2"); w.Code != http.StatusOK {
		t.Fatalf("other client: got %d", w.Code)
	}
	if w := req("/v1/config", "10.0.0.1"); w.Code != http.StatusOK {
		t.Fatalf("unlimited path: got %d", w.Code)
	}

	now = now.Add(time.Minute + time.Second)
	if w := req("/v1/measure", "10.0.0.1"); w.Code != http.StatusOK {
		t.Fatalf("after window: got %d", w.Code)
	}
}

func TestExtractIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:80"
	if got := ExtractIP(r); got != "192.0.2.1" {
		t.Fatalf("RemoteAddr: got %q", got)
	}
	r.Header.Set("X-Forwarded-For", " 203.0.113.5 , 10.0.0.1")
	if got := ExtractIP(r); got != "203.0.113.5" {
		t.Fatalf("X-Forwarded-For: got %q", got)
	}
}

func TestStack(t *testing.T) {
	if n := len(Stack(Options{})); n != 3 {
		t.Fatalf("bare stack: got %d middlewares", n)
	}
	if n := len(Stack(Options{MaxBody: 1, RateLimit: 1})); n != 5 {
		t.Fatalf("full stack: got %d middlewares", n)
	}
}

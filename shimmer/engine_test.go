package shimmer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/shimmer/idgen"
	"github.com/hazyhaar/shimmer/internal/journal"
	"github.com/hazyhaar/shimmer/internal/sanitize"
	"github.com/hazyhaar/shimmer/kit"
	"github.com/hazyhaar/shimmer/skeleton"
	st "github.com/hazyhaar/shimmer/skeleton/skeletontest"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stages hands out one stage per episode and remembers them.
type stages struct {
	mu     sync.Mutex
	render func([]skeleton.Fragment) st.Frame
	err    error
	opened []*st.Stage
	widths []int
}

func (s *stages) factory(_ context.Context, width int) (Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	stage := st.NewStage(s.render)
	s.opened = append(s.opened, stage)
	s.widths = append(s.widths, width)
	return stage, nil
}

func paragraph([]skeleton.Fragment) st.Frame {
	return st.Frame{
		Container: skeleton.Rect{Width: 200, Height: 200},
		Children:  []*st.Box{st.El("p", 10, 10, 100, 50).WithText("hi")},
	}
}

func newEngine(t *testing.T, s *stages, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Stages: s.factory,
		Policy: skeleton.Policy{RetryDelay: time.Millisecond},
		Logger: quiet(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg)
}

func htmlReq(fragments ...string) *Request {
	req := &Request{}
	for _, f := range fragments {
		req.Fragments = append(req.Fragments, FragmentSpec{HTML: f})
	}
	return req
}

func TestMeasure_Loading(t *testing.T) {
	s := &stages{render: paragraph}
	e := newEngine(t, s)

	res, err := e.Measure(context.Background(), htmlReq("<p>hi</p>"))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if !strings.HasPrefix(res.SessionID, idgen.MeasurementPrefix) {
		t.Fatalf("session ID: got %q", res.SessionID)
	}
	want := skeleton.LeafGeometry{X: 10, Y: 10, Width: 100, Height: 50, Kind: "p"}
	if len(res.Geometry) != 1 || res.Geometry[0] != want {
		t.Fatalf("geometry: got %+v, want [%+v]", res.Geometry, want)
	}
	if res.Passes != 2 || res.Retries != 1 || res.Exhausted {
		t.Fatalf("passes %d retries %d exhausted %v", res.Passes, res.Retries, res.Exhausted)
	}
	if len(res.Blocks) != 1 || res.Blocks[0].Radius != "4px" {
		t.Fatalf("blocks: got %+v", res.Blocks)
	}
	for _, part := range []string{skeleton.MeasureClass, "shimmer-block", "<p>hi</p>"} {
		if !strings.Contains(res.HTML, part) {
			t.Fatalf("HTML: %q missing from %s", part, res.HTML)
		}
	}

	stage := s.opened[0]
	if !stage.Closed() || stage.Mounted() {
		t.Fatalf("stage: closed %v mounted %v", stage.Closed(), stage.Mounted())
	}
	if s.widths[0] != 1280 {
		t.Fatalf("width: got %d, want default 1280", s.widths[0])
	}
}

func TestMeasure_NotLoading(t *testing.T) {
	s := &stages{render: paragraph}
	e := newEngine(t, s)
	off := false

	req := htmlReq("<p>hi</p>", "tail")
	req.Loading = &off
	res, err := e.Measure(context.Background(), req)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if res.HTML != "<p>hi</p>tail" {
		t.Fatalf("HTML: got %q", res.HTML)
	}
	if len(s.opened) != 0 || len(res.Blocks) != 0 || res.Passes != 0 {
		t.Fatalf("not loading: opened %d stages, %d blocks", len(s.opened), len(res.Blocks))
	}
}

func TestMeasure_TemplateData(t *testing.T) {
	var mu sync.Mutex
	var mounted string
	s := &stages{render: func(content []skeleton.Fragment) st.Frame {
		html, _ := skeleton.RenderString(context.Background(), skeleton.Join(content))
		mu.Lock()
		mounted = html
		mu.Unlock()
		return paragraph(content)
	}}
	e := newEngine(t, s)

	req := &Request{
		Fragments: []FragmentSpec{
			{Template: `<h2>{{.name}}</h2>`, Inputs: map[string]any{"name": "", "role": "x"}},
			{Template: `<p>{{.name}}</p>`},
		},
		TemplateData: map[string]any{"name": "Ada Lovelace"},
		Width:        375,
	}
	res, err := e.Measure(context.Background(), req)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if mounted != "<h2>Ada Lovelace</h2><p></p>" {
		t.Fatalf("mounted: got %q", mounted)
	}
	if !strings.Contains(res.HTML, "<h2>Ada Lovelace</h2>") {
		t.Fatalf("HTML: prepared content missing from %s", res.HTML)
	}
	if s.widths[0] != 375 {
		t.Fatalf("width: got %d", s.widths[0])
	}
}

func TestMeasure_Errors(t *testing.T) {
	s := &stages{render: paragraph}
	e := newEngine(t, s)
	ctx := context.Background()

	cases := map[string]struct {
		req  *Request
		want error
	}{
		"empty":         {&Request{}, ErrNoContent},
		"two kinds":     {&Request{Fragments: []FragmentSpec{{HTML: "<p>", Text: "p"}}}, ErrBadFragment},
		"no kind":       {&Request{Fragments: []FragmentSpec{{}}}, ErrBadFragment},
		"bad template":  {&Request{Fragments: []FragmentSpec{{Template: "{{.x"}}}, ErrBadFragment},
		"second is bad": {htmlReq("<p>ok</p>", ""), ErrBadFragment},
	}
	for name, tc := range cases {
		if _, err := e.Measure(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", name, err, tc.want)
		}
	}

	s.err = errors.New("chrome gone")
	if _, err := e.Measure(ctx, htmlReq("<p>x</p>")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("no stage: got %v, want %v", err, ErrUnavailable)
	}
}

func TestMeasure_Exhausted(t *testing.T) {
	s := &stages{render: func([]skeleton.Fragment) st.Frame {
		return st.Frame{Container: skeleton.Rect{Width: 200, Height: 200}}
	}}
	e := newEngine(t, s, func(c *Config) {
		c.Policy.RetryBudget = 2
	})

	res, err := e.Measure(context.Background(), htmlReq("<div></div>"))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if !res.Exhausted || res.Passes != 3 || len(res.Geometry) != 0 {
		t.Fatalf("exhausted %v passes %d leaves %d", res.Exhausted, res.Passes, len(res.Geometry))
	}
	if !strings.Contains(res.HTML, skeleton.MeasureClass) {
		t.Fatal("HTML: loading view missing")
	}
}

func TestMeasure_Timeout(t *testing.T) {
	s := &stages{render: func([]skeleton.Fragment) st.Frame {
		return st.Frame{Container: skeleton.Rect{Width: 200, Height: 200}}
	}}
	e := newEngine(t, s, func(c *Config) {
		c.Policy.RetryDelay = time.Hour
		c.Timeout = 20 * time.Millisecond
	})

	res, err := e.Measure(context.Background(), htmlReq("<div></div>"))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if !res.Exhausted || res.Passes != 1 {
		t.Fatalf("exhausted %v passes %d", res.Exhausted, res.Passes)
	}
	if !s.opened[0].Closed() {
		t.Fatal("stage not closed after timeout")
	}
}

func TestMeasure_Cancelled(t *testing.T) {
	s := &stages{render: func([]skeleton.Fragment) st.Frame {
		return st.Frame{Container: skeleton.Rect{Width: 200, Height: 200}}
	}}
	e := newEngine(t, s, func(c *Config) { c.Policy.RetryDelay = time.Hour })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := e.Measure(ctx, htmlReq("<div></div>")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Measure: got %v, want deadline exceeded", err)
	}
}

func TestMeasure_StageWait(t *testing.T) {
	e := New(Config{
		Stages: func(ctx context.Context, _ int) (Stage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Logger: quiet(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Measure(ctx, htmlReq("<p>x</p>"))
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline: got %v, want unavailable and deadline exceeded", err)
	}

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = e.Measure(ctx, htmlReq("<p>x</p>"))
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrUnavailable) {
		t.Fatalf("cancelled: got %v, want context.Canceled only", err)
	}
}

func TestMeasure_MountFailure(t *testing.T) {
	var stage *st.Stage
	e := New(Config{
		Stages: func(context.Context, int) (Stage, error) {
			stage = st.StaticStage(st.Frame{})
			stage.MountErr = errors.New("page crashed")
			return stage, nil
		},
		Logger: quiet(),
	})

	res, err := e.Measure(context.Background(), htmlReq("<p>x</p>"))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if !res.Exhausted || len(res.Geometry) != 0 {
		t.Fatalf("mount failure: exhausted %v leaves %d", res.Exhausted, len(res.Geometry))
	}
}

func TestMeasure_Sanitized(t *testing.T) {
	s := &stages{render: paragraph}
	e := newEngine(t, s, func(c *Config) { c.Sanitizer = sanitize.New() })

	res, err := e.Measure(context.Background(), htmlReq(`<p onclick="steal()">hi</p><script>x()</script>`))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if strings.Contains(res.HTML, "onclick") || strings.Contains(res.HTML, "<script>x()") {
		t.Fatalf("HTML: unsanitized markup in %s", res.HTML)
	}
}

func TestMeasure_Journal(t *testing.T) {
	j := journal.OpenMemory(t)
	s := &stages{render: paragraph}
	e := newEngine(t, s, func(c *Config) { c.Journal = j })

	ctx := kit.WithTraceID(kit.WithTransport(context.Background(), kit.TransportCLI), "trc_test")
	res, err := e.Measure(ctx, htmlReq("<p>hi</p>"))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}

	entries, err := e.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	got := entries[0]
	if got.ID != res.SessionID || got.Leaves != 1 || got.Passes != 2 {
		t.Fatalf("entry: got %+v", got)
	}
	if got.Transport != kit.TransportCLI || got.TraceID != "trc_test" {
		t.Fatalf("entry context: transport %q trace %q", got.Transport, got.TraceID)
	}
	if got.Config != res.Config {
		t.Fatalf("entry config: got %+v, want %+v", got.Config, res.Config)
	}
}

func TestRecent_NoJournal(t *testing.T) {
	e := newEngine(t, &stages{render: paragraph})
	entries, err := e.Recent(context.Background(), 5)
	if err != nil || entries == nil || len(entries) != 0 {
		t.Fatalf("Recent: got %v, %v", entries, err)
	}
}

func TestResolve_Tiers(t *testing.T) {
	e := newEngine(t, &stages{render: paragraph}, func(c *Config) {
		c.Ambient = skeleton.Override{ShimmerColor: skeleton.String("red")}
	})
	ctx := context.Background()

	if got := e.Resolve(ctx, skeleton.Override{}).ShimmerColor; got != "red" {
		t.Fatalf("ambient: got %q, want red", got)
	}

	scoped := skeleton.Provide(ctx, skeleton.Override{ShimmerColor: skeleton.String("blue")})
	if got := e.Resolve(scoped, skeleton.Override{}).ShimmerColor; got != "blue" {
		t.Fatalf("scoped: got %q, want blue", got)
	}

	got := e.Resolve(scoped, skeleton.Override{ShimmerColor: skeleton.String("green")})
	if got.ShimmerColor != "green" || got.DurationSeconds != skeleton.Defaults().DurationSeconds {
		t.Fatalf("override: got %+v", got)
	}

	e.SetAmbient(skeleton.Override{DurationSeconds: skeleton.Float(3)})
	got = e.Resolve(ctx, skeleton.Override{})
	if got.DurationSeconds != 3 || got.ShimmerColor != skeleton.Defaults().ShimmerColor {
		t.Fatalf("SetAmbient: got %+v", got)
	}
}

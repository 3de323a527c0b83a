package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/shimmer/shimmer"
	"github.com/hazyhaar/shimmer/skeleton"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMeasureOpts_Request(t *testing.T) {
	dir := t.TempDir()
	page := writeFile(t, dir, "card.html", "<h2>Title</h2>\n\n<p>Body</p>\n")
	tmpl := writeFile(t, dir, "row.tmpl", `<li>{{.name}}</li>`)
	data := writeFile(t, dir, "data.json", `{"name": "Ada"}`)

	o := &measureOpts{template: tmpl, data: data}
	req, err := o.request(page)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	want := []shimmer.FragmentSpec{
		{Template: `<li>{{.name}}</li>`},
		{HTML: "<h2>Title</h2>"},
		{HTML: "<p>Body</p>"},
	}
	if len(req.Fragments) != len(want) {
		t.Fatalf("fragments: got %+v", req.Fragments)
	}
	for i := range want {
		if req.Fragments[i].HTML != want[i].HTML || req.Fragments[i].Template != want[i].Template {
			t.Fatalf("fragment %d: got %+v, want %+v", i, req.Fragments[i], want[i])
		}
	}
	if req.TemplateData["name"] != "Ada" {
		t.Fatalf("template data: got %v", req.TemplateData)
	}

	o = &measureOpts{data: `{"name": "Grace"}`}
	req, err = o.request(page)
	if err != nil {
		t.Fatalf("inline data: %v", err)
	}
	if req.TemplateData["name"] != "Grace" {
		t.Fatalf("inline data: got %v", req.TemplateData)
	}
}

func TestMeasureOpts_RequestErrors(t *testing.T) {
	dir := t.TempDir()
	page := writeFile(t, dir, "card.html", "<p>x</p>")

	if _, err := (&measureOpts{}).request(filepath.Join(dir, "missing.html")); err == nil {
		t.Fatal("missing file: want error")
	}
	if _, err := (&measureOpts{data: "{not json"}).request(page); err == nil {
		t.Fatal("bad data: want error")
	}
}

func TestMeasureOpts_Print(t *testing.T) {
	cfg := skeleton.Defaults()
	geom := []skeleton.LeafGeometry{{X: 0, Y: 0, Width: 80, Height: 16, Kind: "h2"}}
	res := &shimmer.Result{
		Loading:   true,
		Config:    cfg,
		Geometry:  geom,
		Blocks:    skeleton.Overlay(geom, cfg),
		HTML:      "<div class=\"shimmer\"></div>",
		Passes:    2,
		Exhausted: true,
	}

	out := filepath.Join(t.TempDir(), "view.html")
	var buf bytes.Buffer
	o := &measureOpts{out: out}
	if err := o.print(context.Background(), &buf, res); err != nil {
		t.Fatalf("print: %v", err)
	}
	// go-pretty upper-cases footers.
	for _, part := range []string{"h2", "1 blocks", "2 passes", "did not settle"} {
		if !strings.Contains(strings.ToLower(buf.String()), part) {
			t.Fatalf("table: %q missing from\n%s", part, buf.String())
		}
	}
	written, err := os.ReadFile(out)
	if err != nil || string(written) != res.HTML {
		t.Fatalf("view file: got %q, %v", written, err)
	}

	buf.Reset()
	o = &measureOpts{asJSON: true}
	if err := o.print(context.Background(), &buf, res); err != nil {
		t.Fatalf("print json: %v", err)
	}
	if !strings.Contains(buf.String(), `"elapsed_ms"`) || !strings.Contains(buf.String(), `"passes": 2`) {
		t.Fatalf("json: got %s", buf.String())
	}
}

func TestConfigCmd(t *testing.T) {
	t.Chdir(t.TempDir())
	var buf bytes.Buffer
	root := newRootCmd()
	root.SetOut(&buf)
	root.SetArgs([]string{"config", "--width", "800", "--duration", "2.5", "--no-journal", "--log-level", "error"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("config: %v", err)
	}
	for _, part := range []string{"default_width: 800", "duration_seconds: 2.5", "enabled: false"} {
		if !strings.Contains(buf.String(), part) {
			t.Fatalf("dump: %q missing from\n%s", part, buf.String())
		}
	}
}

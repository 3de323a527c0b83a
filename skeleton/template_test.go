package skeleton

import (
	"context"
	"testing"
)

func mustComponent(t *testing.T, name, src string, inputs map[string]any) *Component {
	t.Helper()
	c, err := ParseComponent(name, src, inputs)
	if err != nil {
		t.Fatalf("ParseComponent: %v", err)
	}
	return c
}

func render(t *testing.T, f Fragment) string {
	t.Helper()
	s, err := RenderString(context.Background(), f)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return s
}

func TestPrepare_OnlyFirstFragment(t *testing.T) {
	a := mustComponent(t, "a", `<p>{{.x}}</p>`, nil)
	b := mustComponent(t, "b", `<p>{{.x}}</p>`, map[string]any{"x": 9})
	content := []Fragment{a, b}

	got := Prepare(content, map[string]any{"x": 1}, true)
	if len(got) != 2 {
		t.Fatalf("Prepare: got %d fragments, want 2", len(got))
	}
	if s := render(t, got[0]); s != "<p>1</p>" {
		t.Fatalf("first fragment: got %q, want %q", s, "<p>1</p>")
	}
	if c, ok := got[1].(*Component); !ok || c != b {
		t.Fatal("second fragment: want the identical value")
	}
	if s := render(t, content[0]); s != "<p></p>" {
		t.Fatalf("original first fragment changed: %q", s)
	}
}

func TestPrepare_Unchanged(t *testing.T) {
	a := mustComponent(t, "a", `<p>{{.x}}</p>`, nil)
	raw := HTML("<p>raw</p>")
	data := map[string]any{"x": 1}

	cases := []struct {
		name    string
		content []Fragment
		data    map[string]any
		loading bool
	}{
		{"not loading", []Fragment{a}, data, false},
		{"nil data", []Fragment{a}, nil, true},
		{"raw first", []Fragment{raw, a}, data, true},
		{"empty", nil, data, true},
	}
	for _, tc := range cases {
		got := Prepare(tc.content, tc.data, tc.loading)
		if len(got) != len(tc.content) {
			t.Fatalf("%s: got %d fragments, want %d", tc.name, len(got), len(tc.content))
		}
		for i := range got {
			if g, w := render(t, got[i]), render(t, tc.content[i]); g != w {
				t.Fatalf("%s: fragment %d: got %q, want %q", tc.name, i, g, w)
			}
		}
		if len(got) > 0 {
			if c, ok := got[len(got)-1].(*Component); !ok || c != a {
				t.Fatalf("%s: component was replaced", tc.name)
			}
		}
	}
}

func TestComponent_WithInputsMerges(t *testing.T) {
	c := mustComponent(t, "card", `{{.title}}/{{.body}}`, map[string]any{"title": "T", "body": "B"})
	d := c.WithInputs(map[string]any{"body": "<b>"})
	if s := render(t, d); s != "T/&lt;b&gt;" {
		t.Fatalf("WithInputs: got %q", s)
	}
	if c.Inputs()["body"] != "B" {
		t.Fatal("WithInputs modified the receiver")
	}
	if c.Name() != "card" {
		t.Fatalf("Name: got %q, want card", c.Name())
	}
}

func TestParseComponent_Error(t *testing.T) {
	if _, err := ParseComponent("bad", `{{.x`, nil); err == nil {
		t.Fatal("ParseComponent: want error for unclosed action")
	}
}

func TestTextAndJoin(t *testing.T) {
	got := render(t, Join([]Fragment{Text("a<b"), nil, HTML("<i>c</i>")}))
	if got != "a&lt;b<i>c</i>" {
		t.Fatalf("Join: got %q", got)
	}
}

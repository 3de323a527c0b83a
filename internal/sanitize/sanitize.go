// Package sanitize cleans caller-supplied HTML before it is mounted for
// measurement, and inspects fragment structure.
package sanitize

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/shimmer/skeleton"
)

// layoutStyles are the inline style properties that shape geometry. Any
// other property is dropped.
var layoutStyles = []string{
	"display", "position", "top", "right", "bottom", "left",
	"width", "height", "min-width", "min-height", "max-width", "max-height",
	"margin", "margin-top", "margin-right", "margin-bottom", "margin-left",
	"padding", "padding-top", "padding-right", "padding-bottom", "padding-left",
	"border", "border-width", "border-style", "border-color", "border-radius",
	"box-sizing", "overflow", "float", "clear", "vertical-align",
	"flex", "flex-direction", "flex-wrap", "flex-grow", "flex-shrink", "flex-basis",
	"justify-content", "align-items", "align-self", "gap",
	"grid-template-columns", "grid-template-rows", "grid-column", "grid-row",
	"font-size", "font-weight", "font-family", "line-height", "letter-spacing",
	"text-align", "white-space", "word-break",
	"background", "background-color", "color", "opacity", "visibility",
	"aspect-ratio", "object-fit",
}

// Policy removes scripts, event handlers and non-layout styles from HTML.
// It is safe for concurrent use.
type Policy struct {
	p *bluemonday.Policy
}

// New builds the measurement policy: user-generated-content markup plus
// media, form controls, classes and layout styles.
func New() *Policy {
	p := bluemonday.UGCPolicy()
	p.AllowStyling()
	p.AllowStyles(layoutStyles...).Globally()
	p.AllowElements("figure", "figcaption", "picture", "section", "article", "header", "footer", "nav", "aside", "main")
	p.AllowElements("button", "textarea", "canvas")
	p.AllowAttrs("type", "placeholder", "value", "disabled").OnElements("input", "button")
	p.AllowAttrs("rows", "cols", "placeholder").OnElements("textarea")
	p.AllowAttrs("width", "height").OnElements("img", "video", "canvas", "iframe", "svg")
	p.AllowAttrs("src", "poster", "controls").OnElements("video")
	p.AllowAttrs("src", "srcset", "media").OnElements("source")
	p.AllowElements("source")
	p.AllowAttrs("src").OnElements("iframe")
	p.AllowAttrs("viewbox").OnElements("svg")
	p.AllowElements("svg")
	return &Policy{p: p}
}

// HTML sanitizes a markup string.
func (p *Policy) HTML(s string) string {
	return p.p.Sanitize(s)
}

// Wrap returns a fragment that renders f and sanitizes the output. A
// composable fragment stays composable.
func (p *Policy) Wrap(f skeleton.Fragment) skeleton.Fragment {
	if f == nil {
		return nil
	}
	if c, ok := f.(skeleton.Composable); ok {
		return &cleanComposable{clean{inner: c, p: p}}
	}
	return &clean{inner: f, p: p}
}

// WrapAll wraps every fragment of content.
func (p *Policy) WrapAll(content []skeleton.Fragment) []skeleton.Fragment {
	out := make([]skeleton.Fragment, len(content))
	for i, f := range content {
		out[i] = p.Wrap(f)
	}
	return out
}

type clean struct {
	inner skeleton.Fragment
	p     *Policy
}

func (c *clean) Render(ctx context.Context, w io.Writer) error {
	var buf bytes.Buffer
	if err := c.inner.Render(ctx, &buf); err != nil {
		return err
	}
	_, err := io.Copy(w, c.p.p.SanitizeReader(&buf))
	return err
}

type cleanComposable struct {
	clean
}

func (c *cleanComposable) WithInputs(in map[string]any) skeleton.Fragment {
	inner := c.inner.(skeleton.Composable).WithInputs(in)
	return c.p.Wrap(inner)
}

// Stats describes the top level of an HTML fragment.
type Stats struct {
	// Elements counts top-level elements.
	Elements int `json:"elements"`
	// Text reports non-whitespace top-level character data.
	Text bool `json:"text"`
	// Depth is the deepest element nesting.
	Depth int `json:"depth"`
}

// Empty reports whether the fragment has nothing to measure.
func (s Stats) Empty() bool {
	return s.Elements == 0 && !s.Text
}

// Inspect parses s as body content.
func Inspect(s string) (Stats, error) {
	nodes, err := parseFragment(s)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, n := range nodes {
		switch n.Type {
		case html.ElementNode:
			st.Elements++
			if d := depth(n); d > st.Depth {
				st.Depth = d
			}
		case html.TextNode:
			if strings.TrimSpace(n.Data) != "" {
				st.Text = true
			}
		}
	}
	return st, nil
}

// Split breaks a markup string into its top-level nodes, each re-rendered
// as its own markup. Whitespace-only text and comments between elements
// are dropped.
func Split(s string) ([]string, error) {
	nodes, err := parseFragment(s)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range nodes {
		switch n.Type {
		case html.CommentNode:
			continue
		case html.TextNode:
			if strings.TrimSpace(n.Data) == "" {
				continue
			}
		}
		var buf bytes.Buffer
		if err := html.Render(&buf, n); err != nil {
			return nil, fmt.Errorf("sanitize: render node: %w", err)
		}
		out = append(out, buf.String())
	}
	return out, nil
}

func parseFragment(s string) ([]*html.Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(s), body)
	if err != nil {
		return nil, fmt.Errorf("sanitize: parse fragment: %w", err)
	}
	return nodes, nil
}

func depth(n *html.Node) int {
	deepest := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if d := depth(c); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

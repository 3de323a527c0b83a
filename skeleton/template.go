package skeleton

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"html/template"
	"io"
	"maps"

	"github.com/a-h/templ"
)

// Fragment is one top-level piece of content.
type Fragment = templ.Component

// Composable is a fragment that accepts named inputs.
type Composable interface {
	Fragment
	// WithInputs returns a copy whose inputs are the receiver's inputs with
	// in laid over them. The receiver is unchanged.
	WithInputs(in map[string]any) Fragment
}

// Prepare substitutes template data into content before it is measured.
// Only the first fragment is eligible; it receives data as inputs when it is
// Composable. Content is returned unchanged when not loading, when data is
// nil, or when the first fragment cannot take inputs.
func Prepare(content []Fragment, data map[string]any, loading bool) []Fragment {
	if !loading || data == nil || len(content) == 0 {
		return content
	}
	first, ok := content[0].(Composable)
	if !ok {
		return content
	}
	out := make([]Fragment, len(content))
	out[0] = first.WithInputs(data)
	copy(out[1:], content[1:])
	return out
}

// Component is a composable fragment backed by an html/template.
type Component struct {
	tmpl   *template.Template
	inputs map[string]any
}

var _ Composable = (*Component)(nil)

// NewComponent binds t to a copy of inputs.
func NewComponent(t *template.Template, inputs map[string]any) *Component {
	return &Component{tmpl: t, inputs: maps.Clone(inputs)}
}

// ParseComponent parses src as an html/template named name.
func ParseComponent(name, src string, inputs map[string]any) (*Component, error) {
	t, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("skeleton: parse component %s: %w", name, err)
	}
	return NewComponent(t, inputs), nil
}

// Render executes the template with the component's inputs.
func (c *Component) Render(ctx context.Context, w io.Writer) error {
	if c.tmpl == nil {
		return nil
	}
	return c.tmpl.Execute(w, c.inputs)
}

// WithInputs returns a copy with in merged over the current inputs.
func (c *Component) WithInputs(in map[string]any) Fragment {
	merged := make(map[string]any, len(c.inputs)+len(in))
	maps.Copy(merged, c.inputs)
	maps.Copy(merged, in)
	return &Component{tmpl: c.tmpl, inputs: merged}
}

// Inputs returns a copy of the component's inputs.
func (c *Component) Inputs() map[string]any {
	return maps.Clone(c.inputs)
}

// Name is the template name.
func (c *Component) Name() string {
	if c.tmpl == nil {
		return ""
	}
	return c.tmpl.Name()
}

// HTML is a raw markup fragment. It takes no inputs.
func HTML(s string) Fragment {
	return templ.Raw(s)
}

// Text is an escaped text fragment. It takes no inputs.
func Text(s string) Fragment {
	return templ.Raw(html.EscapeString(s))
}

// Join renders fragments back to back with no wrapper element.
func Join(content []Fragment) Fragment {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		for _, f := range content {
			if f == nil {
				continue
			}
			if err := f.Render(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

// RenderString renders f to a string.
func RenderString(ctx context.Context, f Fragment) (string, error) {
	var buf bytes.Buffer
	if err := f.Render(ctx, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

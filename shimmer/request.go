package shimmer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/shimmer/internal/sanitize"
	"github.com/hazyhaar/shimmer/skeleton"
)

var (
	// ErrNoContent is returned for a request without fragments.
	ErrNoContent = errors.New("shimmer: no content")
	// ErrBadFragment is returned when a fragment is not exactly one of
	// html, text or template, its html holds nothing to measure, or its
	// template does not parse.
	ErrBadFragment = errors.New("shimmer: bad fragment")
	// ErrUnavailable is returned when no measurement stage can be opened.
	ErrUnavailable = errors.New("shimmer: measurement unavailable")
)

// FragmentSpec is one top-level content node. Exactly one of HTML, Text or
// Template is set. A Template fragment is composable: template data reaches
// it through its inputs.
type FragmentSpec struct {
	HTML     string         `json:"html,omitempty"`
	Text     string         `json:"text,omitempty"`
	Template string         `json:"template,omitempty"`
	Inputs   map[string]any `json:"inputs,omitempty"`
}

// Request asks for one loading episode.
type Request struct {
	Fragments []FragmentSpec `json:"fragments"`
	// Loading defaults to true.
	Loading      *bool             `json:"loading,omitempty"`
	TemplateData map[string]any    `json:"template_data,omitempty"`
	Config       skeleton.Override `json:"config"`
	// Width is the layout width in CSS pixels. Zero uses the engine default.
	Width int `json:"width,omitempty"`
}

func (r *Request) loading() bool {
	return r.Loading == nil || *r.Loading
}

// Result is the outcome of one loading episode.
type Result struct {
	SessionID string                  `json:"session_id"`
	Loading   bool                    `json:"loading"`
	Config    skeleton.Config         `json:"config"`
	Geometry  []skeleton.LeafGeometry `json:"geometry"`
	Blocks    []skeleton.Block        `json:"blocks"`
	HTML      string                  `json:"html"`
	Passes    int                     `json:"passes"`
	Retries   int                     `json:"retries"`
	Exhausted bool                    `json:"exhausted"`
	Elapsed   time.Duration           `json:"-"`
}

// MarshalJSON adds elapsed_ms.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		ElapsedMS int64 `json:"elapsed_ms"`
	}{plain(r), r.Elapsed.Milliseconds()})
}

// decode turns specs into fragments.
func decode(specs []FragmentSpec) ([]skeleton.Fragment, error) {
	if len(specs) == 0 {
		return nil, ErrNoContent
	}
	out := make([]skeleton.Fragment, len(specs))
	for i, s := range specs {
		f, err := s.fragment(i)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func (s FragmentSpec) fragment(i int) (skeleton.Fragment, error) {
	set := 0
	for _, v := range []string{s.HTML, s.Text, s.Template} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: fragment %d: want exactly one of html, text, template", ErrBadFragment, i)
	}
	switch {
	case s.HTML != "":
		stats, err := sanitize.Inspect(s.HTML)
		if err != nil {
			return nil, fmt.Errorf("%w: fragment %d: %v", ErrBadFragment, i, err)
		}
		if stats.Empty() {
			return nil, fmt.Errorf("%w: fragment %d: html has no elements or text", ErrBadFragment, i)
		}
		return skeleton.HTML(s.HTML), nil
	case s.Text != "":
		return skeleton.Text(s.Text), nil
	}
	c, err := skeleton.ParseComponent(fmt.Sprintf("fragment%d", i), s.Template, s.Inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: fragment %d: %v", ErrBadFragment, i, err)
	}
	return c, nil
}

package browser

import (
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/shimmer/skeleton"
)

// domNode is one element of a page snapshot.
type domNode struct {
	Tag      string         `json:"kind"`
	Box      skeleton.Rect  `json:"rect"`
	Rad      string         `json:"radius"`
	Text     bool           `json:"text_only"`
	TextBox  *skeleton.Rect `json:"text_box,omitempty"`
	Elements []*domNode     `json:"children"`
}

var (
	_ skeleton.Node         = (*domNode)(nil)
	_ skeleton.TextMeasurer = (*domNode)(nil)
)

func (n *domNode) Kind() string { return n.Tag }
func (n *domNode) Rect() skeleton.Rect { return n.Box }
func (n *domNode) Radius() string { return n.Rad }
func (n *domNode) TextOnly() bool { return n.Text }

func (n *domNode) Children() []skeleton.Node {
	out := make([]skeleton.Node, 0, len(n.Elements))
	for _, c := range n.Elements {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (n *domNode) IntrinsicTextBox() (skeleton.Rect, bool) {
	if n.TextBox == nil {
		return skeleton.Rect{}, false
	}
	return *n.TextBox, true
}

type pageSnapshot struct {
	Frame    skeleton.Rect `json:"frame"`
	Children []*domNode    `json:"children"`
}

func parseSnapshot(data []byte) (skeleton.Rect, []skeleton.Node, error) {
	var snap pageSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return skeleton.Rect{}, nil, fmt.Errorf("browser: decode snapshot: %w", err)
	}
	nodes := make([]skeleton.Node, 0, len(snap.Children))
	for _, c := range snap.Children {
		if c != nil {
			nodes = append(nodes, c)
		}
	}
	return snap.Frame, nodes, nil
}

package skeleton

// Node is a measurable element of a laid-out content tree.
type Node interface {
	// Kind is the lower-case element category ("img", "td", "div").
	Kind() string
	// Rect is the node's on-screen box in page coordinates.
	Rect() Rect
	// Radius is the computed corner radius as CSS text, or "" when the
	// style query was unavailable.
	Radius() string
	// Children returns element-type children in document order. Text and
	// other character data are never included.
	Children() []Node
	// TextOnly reports whether the node has at least one child node and
	// every child node is character data.
	TextOnly() bool
}

// TextMeasurer is implemented by nodes that can report the intrinsic box of
// their text content, as opposed to the node's padded box. Implementations
// must leave the underlying tree unmodified.
type TextMeasurer interface {
	IntrinsicTextBox() (Rect, bool)
}

// atomicKinds are always one block, whatever markup they wrap.
var atomicKinds = map[string]bool{
	"img":      true,
	"svg":      true,
	"video":    true,
	"canvas":   true,
	"iframe":   true,
	"input":    true,
	"textarea": true,
	"button":   true,
}

// IsAtomic reports whether kind is always treated as a leaf.
func IsAtomic(kind string) bool {
	return atomicKinds[kind]
}

// IsLeaf decides whether n is rendered as a single shimmer block or
// expanded into its children. Category membership wins over structure, so a
// button wrapping an icon stays one block.
func IsLeaf(n Node) bool {
	if IsAtomic(n.Kind()) {
		return true
	}
	return len(n.Children()) == 0
}

func isTableCell(kind string) bool {
	return kind == "td" || kind == "th"
}

package skeleton

// Extract walks n depth-first and returns the geometry of every leaf below
// it, relative to frame. Siblings keep document order. A node with no area
// contributes nothing, and neither does anything beneath it.
func Extract(n Node, frame Rect) []LeafGeometry {
	return appendLeaves(nil, n, frame)
}

// ExtractAll runs Extract over each child of a measurement container and
// concatenates the results. frame is the container's own box.
func ExtractAll(frame Rect, children []Node) []LeafGeometry {
	var out []LeafGeometry
	for _, c := range children {
		out = appendLeaves(out, c, frame)
	}
	return out
}

func appendLeaves(out []LeafGeometry, n Node, frame Rect) []LeafGeometry {
	if n == nil {
		return out
	}
	box := n.Rect()
	if box.Empty() {
		return out
	}

	if !IsLeaf(n) {
		for _, c := range n.Children() {
			out = appendLeaves(out, c, frame)
		}
		return out
	}

	// Table cells stretch to the row; measure the text instead so adjacent
	// cells don't merge into one wide block.
	if isTableCell(n.Kind()) && n.TextOnly() {
		if tm, ok := n.(TextMeasurer); ok {
			if text, ok := tm.IntrinsicTextBox(); ok && !text.Empty() {
				box = text
			}
		}
	}

	return append(out, LeafGeometry{
		X:      box.X - frame.X,
		Y:      box.Y - frame.Y,
		Width:  box.Width,
		Height: box.Height,
		Kind:   n.Kind(),
		Radius: n.Radius(),
	})
}

// Package skeleton is the structural measurement and overlay engine behind
// shimmer placeholders. It walks a laid-out content tree, keeps the nodes
// that carry content (leaves), converts their boxes into coordinates
// relative to a measurement container, and turns the result into animated
// blocks that stand in for the content while it loads.
//
// The package never touches a real rendering target. Adapters supply the
// tree through the Node interface and the off-screen mount through Stage;
// internal/browser is the headless-Chrome adapter.
package skeleton

import "strings"

// Rect is an axis-aligned box in device-independent pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// LeafGeometry is one measured content unit. X and Y are offsets from the
// measurement container's top-left corner. Width and Height are always > 0.
type LeafGeometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Kind   string  `json:"kind"`
	Radius string  `json:"radius"`
}

// EqualGeometry reports whether two passes produced the same leaves in the
// same order.
func EqualGeometry(a, b []LeafGeometry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// UnspecifiedRadius reports whether a computed CSS border-radius carries no
// rounding: empty (style unavailable) or every length component zero.
func UnspecifiedRadius(r string) bool {
	r = strings.TrimSpace(r)
	if r == "" {
		return true
	}
	for _, part := range strings.FieldsFunc(r, func(c rune) bool { return c == ' ' || c == '/' }) {
		num := strings.TrimRight(part, "abcdefghijklmnopqrstuvwxyz%")
		num = strings.TrimLeft(num, "+")
		if strings.Trim(num, "0.") != "" {
			return false
		}
	}
	return true
}

package skeleton

import (
	"context"
	"fmt"
	"html"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// MeasureClass is the class of the measurement mount container.
const MeasureClass = "shimmer-measure-container"

// MeasureCSS neutralizes the measurement mount: text and media disappear,
// container backgrounds and borders stay visible beneath the overlay.
const MeasureCSS = `.shimmer-measure-container * { color: transparent !important; }
.shimmer-measure-container img,
.shimmer-measure-container svg,
.shimmer-measure-container video,
.shimmer-measure-container canvas { opacity: 0; }`

// keyframesCSS sweeps the gradient across each block.
const keyframesCSS = `@keyframes shimmer { 0% { transform: translateX(-100%); } 100% { transform: translateX(100%); } }`

// Block is one shimmer block, ready to paint.
type Block struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	Kind            string  `json:"kind"`
	Radius          string  `json:"radius"`
	Background      string  `json:"background"`
	ShimmerColor    string  `json:"shimmer_color"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Overlay converts measured leaves into blocks using cfg. A leaf keeps its
// own corner radius unless it is unspecified, in which case the fallback
// radius applies.
func Overlay(geometry []LeafGeometry, cfg Config) []Block {
	blocks := make([]Block, 0, len(geometry))
	fallback := px(cfg.FallbackRadiusPx)
	for _, g := range geometry {
		radius := g.Radius
		if UnspecifiedRadius(radius) {
			radius = fallback
		}
		blocks = append(blocks, Block{
			X:               g.X,
			Y:               g.Y,
			Width:           g.Width,
			Height:          g.Height,
			Kind:            g.Kind,
			Radius:          radius,
			Background:      cfg.BackgroundColor,
			ShimmerColor:    cfg.ShimmerColor,
			DurationSeconds: cfg.DurationSeconds,
		})
	}
	return blocks
}

// OverlayFragment paints blocks as absolutely positioned elements filling
// their positioned parent.
func OverlayFragment(blocks []Block) Fragment {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		ew := &errWriter{w: w}
		ew.printf(`<div class="shimmer-overlay" style="position:absolute;top:0;left:0;right:0;bottom:0;overflow:hidden">`)
		ew.printf(`<style>%s</style>`, keyframesCSS)
		for _, b := range blocks {
			ew.printf(`<div class="shimmer-block" data-kind="%s" style="position:absolute;left:%s;top:%s;width:%s;height:%s;background-color:%s;border-radius:%s;overflow:hidden">`,
				html.EscapeString(b.Kind), px(b.X), px(b.Y), px(b.Width), px(b.Height),
				cssValue(b.Background), cssValue(b.Radius))
			ew.printf(`<div style="position:absolute;top:0;left:0;width:100%%;height:100%%;background:linear-gradient(90deg, transparent, %s, transparent);animation:shimmer %ss infinite"></div>`,
				cssValue(b.ShimmerColor), num(b.DurationSeconds))
			ew.printf(`</div>`)
		}
		ew.printf(`</div>`)
		return ew.err
	})
}

// View is what an adapter mounts. When not loading it is the content
// itself with no wrapper. When loading it is the measurement mount holding
// prepared, with the overlay of blocks laid over the same box.
func View(loading bool, content, prepared []Fragment, blocks []Block) Fragment {
	if !loading {
		return Join(content)
	}
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		ew := &errWriter{w: w}
		ew.printf(`<div class="shimmer" style="position:relative">`)
		ew.printf(`<style>%s</style>`, MeasureCSS)
		ew.printf(`<div class="%s" aria-hidden="true" inert style="pointer-events:none">`, MeasureClass)
		if ew.err != nil {
			return ew.err
		}
		if err := Join(prepared).Render(ctx, w); err != nil {
			return err
		}
		ew.printf(`</div>`)
		if ew.err != nil {
			return ew.err
		}
		if err := OverlayFragment(blocks).Render(ctx, w); err != nil {
			return err
		}
		ew.printf(`</div>`)
		return ew.err
	})
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func px(v float64) string {
	return num(v) + "px"
}

// cssValue keeps a value from escaping its declaration.
func cssValue(v string) string {
	for _, c := range v {
		switch c {
		case ';', '"', '<', '>', '{', '}':
			return "transparent"
		}
	}
	return v
}

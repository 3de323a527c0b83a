// Package preview draws a shimmer overlay in the terminal: each block is
// scaled onto a character grid and coloured from the effective config.
package preview

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/hazyhaar/shimmer/skeleton"
)

const (
	blockGlyph = "█"
	emptyGlyph = " "
)

// Options controls the grid.
type Options struct {
	// CellWidth and CellHeight are the CSS pixels one character covers.
	// Defaults: 8 and 16.
	CellWidth  float64
	CellHeight float64
	// MaxColumns caps the grid width. Default: 100.
	MaxColumns int
	// MaxRows caps the grid height. Default: 60.
	MaxRows int
	// Canvas is the colour translucent blocks are composited onto.
	// Default: #1e1e1e.
	Canvas string
	// Phase in [0, 1) places the shimmer highlight across each block. A
	// negative phase draws no highlight.
	Phase float64
	// Renderer defaults to lipgloss.DefaultRenderer().
	Renderer *lipgloss.Renderer
}

func (o *Options) defaults() {
	if o.CellWidth <= 0 {
		o.CellWidth = 8
	}
	if o.CellHeight <= 0 {
		o.CellHeight = 16
	}
	if o.MaxColumns <= 0 {
		o.MaxColumns = 100
	}
	if o.MaxRows <= 0 {
		o.MaxRows = 60
	}
	if o.Canvas == "" {
		o.Canvas = "#1e1e1e"
	}
	if o.Renderer == nil {
		o.Renderer = lipgloss.DefaultRenderer()
	}
}

type cell int

const (
	cellEmpty cell = iota
	cellBlock
	cellShine
)

// layout scales blocks onto a character grid. Cells whose centre falls
// inside a block are filled; cells inside a block's highlight band are
// marked as shine.
func layout(blocks []skeleton.Block, opts Options) [][]cell {
	opts.defaults()
	cols, rows := extent(blocks, opts)
	grid := make([][]cell, rows)
	for r := range grid {
		grid[r] = make([]cell, cols)
	}

	for _, b := range blocks {
		c0 := int(math.Floor(b.X / opts.CellWidth))
		c1 := int(math.Ceil((b.X + b.Width) / opts.CellWidth))
		r0 := int(math.Floor(b.Y / opts.CellHeight))
		r1 := int(math.Ceil((b.Y + b.Height) / opts.CellHeight))
		// Thin blocks still get one cell.
		if c1 <= c0 {
			c1 = c0 + 1
		}
		if r1 <= r0 {
			r1 = r0 + 1
		}
		shine := -1
		if opts.Phase >= 0 && c1-c0 > 2 {
			shine = c0 + int(opts.Phase*float64(c1-c0))
		}
		for r := max(r0, 0); r < min(r1, rows); r++ {
			for c := max(c0, 0); c < min(c1, cols); c++ {
				if c == shine {
					grid[r][c] = cellShine
				} else if grid[r][c] == cellEmpty {
					grid[r][c] = cellBlock
				}
			}
		}
	}
	return grid
}

func extent(blocks []skeleton.Block, opts Options) (cols, rows int) {
	var w, h float64
	for _, b := range blocks {
		w = math.Max(w, b.X+b.Width)
		h = math.Max(h, b.Y+b.Height)
	}
	cols = int(math.Ceil(w / opts.CellWidth))
	rows = int(math.Ceil(h / opts.CellHeight))
	return min(cols, opts.MaxColumns), min(rows, opts.MaxRows)
}

// Render draws blocks with cfg's colours. Colours that fail to parse fall
// back to the canvas.
func Render(blocks []skeleton.Block, cfg skeleton.Config, opts Options) string {
	opts.defaults()
	canvas, _, err := ParseColor(opts.Canvas)
	if err != nil {
		canvas, _ = colorful.Hex("#1e1e1e")
	}
	fill := composite(canvas, cfg.BackgroundColor)
	shine := composite(fill, cfg.ShimmerColor)

	blockStyle := opts.Renderer.NewStyle().Foreground(lipgloss.Color(fill.Hex()))
	shineStyle := opts.Renderer.NewStyle().Foreground(lipgloss.Color(shine.Hex()))

	var sb strings.Builder
	for i, row := range layout(blocks, opts) {
		if i > 0 {
			sb.WriteByte('\n')
		}
		writeRow(&sb, row, blockStyle, shineStyle)
	}
	return sb.String()
}

// writeRow renders runs of equal cells with one style call each.
func writeRow(sb *strings.Builder, row []cell, block, shine lipgloss.Style) {
	for i := 0; i < len(row); {
		j := i
		for j < len(row) && row[j] == row[i] {
			j++
		}
		n := j - i
		switch row[i] {
		case cellEmpty:
			sb.WriteString(strings.Repeat(emptyGlyph, n))
		case cellBlock:
			sb.WriteString(block.Render(strings.Repeat(blockGlyph, n)))
		case cellShine:
			sb.WriteString(shine.Render(strings.Repeat(blockGlyph, n)))
		}
		i = j
	}
}

func composite(base colorful.Color, css string) colorful.Color {
	c, alpha, err := ParseColor(css)
	if err != nil {
		return base
	}
	return over(base, c, alpha)
}

package preview

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// named covers the keywords shimmer configs use in practice.
var named = map[string]string{
	"black":  "#000000",
	"white":  "#ffffff",
	"gray":   "#808080",
	"grey":   "#808080",
	"silver": "#c0c0c0",
	"red":    "#ff0000",
	"green":  "#008000",
	"blue":   "#0000ff",
	"yellow": "#ffff00",
	"orange": "#ffa500",
	"purple": "#800080",
	"navy":   "#000080",
	"teal":   "#008080",
}

// ParseColor reads a CSS colour: #rgb, #rrggbb, #rrggbbaa, rgb(), rgba(),
// a basic keyword or transparent. It returns the colour and its alpha.
func ParseColor(s string) (colorful.Color, float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "transparent" {
		return colorful.Color{}, 0, nil
	}
	if hex, ok := named[s]; ok {
		s = hex
	}

	switch {
	case strings.HasPrefix(s, "#"):
		return parseHex(s)
	case strings.HasPrefix(s, "rgb"):
		return parseRGB(s)
	}
	return colorful.Color{}, 0, fmt.Errorf("preview: unsupported colour %q", s)
}

func parseHex(s string) (colorful.Color, float64, error) {
	h := s[1:]
	alpha := 1.0
	switch len(h) {
	case 3:
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	case 6:
	case 8:
		a, err := strconv.ParseUint(h[6:], 16, 8)
		if err != nil {
			return colorful.Color{}, 0, fmt.Errorf("preview: bad alpha in %q", s)
		}
		alpha = float64(a) / 255
		h = h[:6]
	default:
		return colorful.Color{}, 0, fmt.Errorf("preview: bad hex colour %q", s)
	}
	c, err := colorful.Hex("#" + h)
	if err != nil {
		return colorful.Color{}, 0, fmt.Errorf("preview: %w", err)
	}
	return c, alpha, nil
}

func parseRGB(s string) (colorful.Color, float64, error) {
	lp, rp := strings.IndexByte(s, '('), strings.LastIndexByte(s, ')')
	if lp < 0 || rp < lp {
		return colorful.Color{}, 0, fmt.Errorf("preview: bad colour %q", s)
	}
	parts := strings.FieldsFunc(s[lp+1:rp], func(r rune) bool {
		return r == ',' || r == ' ' || r == '/'
	})
	if len(parts) != 3 && len(parts) != 4 {
		return colorful.Color{}, 0, fmt.Errorf("preview: bad colour %q", s)
	}

	var ch [3]float64
	for i := range ch {
		v, err := channel(parts[i], 255)
		if err != nil {
			return colorful.Color{}, 0, fmt.Errorf("preview: %q: %w", s, err)
		}
		ch[i] = v
	}
	alpha := 1.0
	if len(parts) == 4 {
		a, err := channel(parts[3], 1)
		if err != nil {
			return colorful.Color{}, 0, fmt.Errorf("preview: %q: %w", s, err)
		}
		alpha = a
	}
	return colorful.Color{R: ch[0], G: ch[1], B: ch[2]}, alpha, nil
}

// channel parses a number or percentage and scales it to [0, 1] by limit.
func channel(p string, limit float64) (float64, error) {
	scale := limit
	if pct, ok := strings.CutSuffix(p, "%"); ok {
		p, scale = pct, 100
	}
	v, err := strconv.ParseFloat(p, 64)
	if err != nil {
		return 0, err
	}
	v /= scale
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v, nil
}

// over composites c with alpha onto base.
func over(base, c colorful.Color, alpha float64) colorful.Color {
	return base.BlendRgb(c, alpha).Clamped()
}

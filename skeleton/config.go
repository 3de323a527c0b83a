package skeleton

import (
	"context"
	"sync"
)

// Config is the fully resolved set of visual parameters. Every field is
// always concrete after Resolve.
type Config struct {
	ShimmerColor     string  `json:"shimmer_color" yaml:"shimmer_color"`
	BackgroundColor  string  `json:"background_color" yaml:"background_color"`
	DurationSeconds  float64 `json:"duration_seconds" yaml:"duration_seconds"`
	FallbackRadiusPx float64 `json:"fallback_radius_px" yaml:"fallback_radius_px"`
}

// Defaults returns the hard defaults used when neither an override nor an
// ambient value supplies a field.
func Defaults() Config {
	return Config{
		ShimmerColor:     "rgba(255, 255, 255, 0.15)",
		BackgroundColor:  "rgba(255, 255, 255, 0.08)",
		DurationSeconds:  1.5,
		FallbackRadiusPx: 4,
	}
}

// Override is a partial Config. A nil field is absent.
type Override struct {
	ShimmerColor     *string  `json:"shimmer_color,omitempty" yaml:"shimmer_color,omitempty"`
	BackgroundColor  *string  `json:"background_color,omitempty" yaml:"background_color,omitempty"`
	DurationSeconds  *float64 `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
	FallbackRadiusPx *float64 `json:"fallback_radius_px,omitempty" yaml:"fallback_radius_px,omitempty"`
}

// Merge layers o over base field by field and returns the result. Neither
// input is modified.
func (base Override) Merge(o Override) Override {
	if o.ShimmerColor != nil {
		base.ShimmerColor = o.ShimmerColor
	}
	if o.BackgroundColor != nil {
		base.BackgroundColor = o.BackgroundColor
	}
	if o.DurationSeconds != nil {
		base.DurationSeconds = o.DurationSeconds
	}
	if o.FallbackRadiusPx != nil {
		base.FallbackRadiusPx = o.FallbackRadiusPx
	}
	return base
}

// IsZero reports whether no field is set.
func (o Override) IsZero() bool {
	return o.ShimmerColor == nil && o.BackgroundColor == nil &&
		o.DurationSeconds == nil && o.FallbackRadiusPx == nil
}

// Resolve merges the three tiers field by field: override, then ambient,
// then defaults. A tier only counts for a field when its value is usable
// (non-empty colour, duration > 0, radius >= 0), so a bad value never
// leaks into the result.
func Resolve(override, ambient Override, defaults Config) Config {
	cfg := defaults
	cfg.ShimmerColor = pickColor(override.ShimmerColor, ambient.ShimmerColor, defaults.ShimmerColor)
	cfg.BackgroundColor = pickColor(override.BackgroundColor, ambient.BackgroundColor, defaults.BackgroundColor)
	cfg.DurationSeconds = pickNumber(override.DurationSeconds, ambient.DurationSeconds, defaults.DurationSeconds,
		func(v float64) bool { return v > 0 })
	cfg.FallbackRadiusPx = pickNumber(override.FallbackRadiusPx, ambient.FallbackRadiusPx, defaults.FallbackRadiusPx,
		func(v float64) bool { return v >= 0 })
	return cfg
}

func pickColor(override, ambient *string, def string) string {
	if override != nil && *override != "" {
		return *override
	}
	if ambient != nil && *ambient != "" {
		return *ambient
	}
	return def
}

func pickNumber(override, ambient *float64, def float64, ok func(float64) bool) float64 {
	if override != nil && ok(*override) {
		return *override
	}
	if ambient != nil && ok(*ambient) {
		return *ambient
	}
	return def
}

// Resolver memoizes Resolve on the value of its three inputs. It is safe
// for concurrent use.
type Resolver struct {
	mu    sync.Mutex
	valid bool
	key   resolveKey
	last  Config
}

type resolveKey struct {
	override, ambient flatOverride
	defaults          Config
}

// flatOverride is a comparable copy of an Override.
type flatOverride struct {
	hasShimmer, hasBackground, hasDuration, hasRadius bool
	shimmer, background                               string
	duration, radius                                  float64
}

func flatten(o Override) flatOverride {
	var f flatOverride
	if o.ShimmerColor != nil {
		f.hasShimmer, f.shimmer = true, *o.ShimmerColor
	}
	if o.BackgroundColor != nil {
		f.hasBackground, f.background = true, *o.BackgroundColor
	}
	if o.DurationSeconds != nil {
		f.hasDuration, f.duration = true, *o.DurationSeconds
	}
	if o.FallbackRadiusPx != nil {
		f.hasRadius, f.radius = true, *o.FallbackRadiusPx
	}
	return f
}

// Resolve returns the cached Config when the inputs equal the previous
// call's inputs, and recomputes otherwise.
func (r *Resolver) Resolve(override, ambient Override, defaults Config) Config {
	key := resolveKey{override: flatten(override), ambient: flatten(ambient), defaults: defaults}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.valid && r.key == key {
		return r.last
	}
	r.key = key
	r.last = Resolve(override, ambient, defaults)
	r.valid = true
	return r.last
}

type ambientKey struct{}

// Provide returns a context carrying o as the ambient configuration for
// everything derived from it. A nested Provide merges over the outer value,
// field by field.
func Provide(ctx context.Context, o Override) context.Context {
	return context.WithValue(ctx, ambientKey{}, Ambient(ctx).Merge(o))
}

// Ambient reads the ambient configuration from ctx. It returns an empty
// Override when nothing was provided.
func Ambient(ctx context.Context) Override {
	o, _ := ctx.Value(ambientKey{}).(Override)
	return o
}

// String returns a pointer to s, for building Overrides inline.
func String(s string) *string { return &s }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Package shimmer serves skeleton loading placeholders. An Engine takes a
// request of content fragments, measures them on a browser stage and
// returns the measured geometry together with the HTML view an adapter
// mounts: the overlay while loading, the content itself otherwise.
package shimmer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/shimmer/idgen"
	"github.com/hazyhaar/shimmer/internal/browser"
	"github.com/hazyhaar/shimmer/internal/journal"
	"github.com/hazyhaar/shimmer/internal/sanitize"
	"github.com/hazyhaar/shimmer/kit"
	"github.com/hazyhaar/shimmer/skeleton"
)

// Stage is a measurement stage the Engine opens per episode and closes
// afterwards.
type Stage interface {
	skeleton.Stage
	Close() error
}

// StageFactory opens a Stage laid out width pixels wide.
type StageFactory func(ctx context.Context, width int) (Stage, error)

// BrowserStages opens stages as pages of m.
func BrowserStages(m *browser.Manager) StageFactory {
	return func(ctx context.Context, width int) (Stage, error) {
		s, err := m.NewStage(ctx, width)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Config configures an Engine.
type Config struct {
	Stages StageFactory
	Policy skeleton.Policy
	// Defaults is the last configuration tier. Zero means skeleton.Defaults.
	Defaults skeleton.Config
	// Ambient is the initial ambient tier; see SetAmbient.
	Ambient      skeleton.Override
	DefaultWidth int
	// Timeout bounds one episode from mount to settled geometry. An
	// episode that times out keeps its last pass and is marked exhausted.
	Timeout time.Duration
	// Sanitizer cleans raw HTML fragments. Nil disables sanitizing.
	Sanitizer *sanitize.Policy
	// Journal records each loading episode. Nil disables journaling.
	Journal *journal.Journal
	// Ready reports whether stages can be opened. Nil means always.
	Ready  func() bool
	Clock  skeleton.Clock
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Defaults == (skeleton.Config{}) {
		c.Defaults = skeleton.Defaults()
	}
	if c.DefaultWidth <= 0 {
		c.DefaultWidth = 1280
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = skeleton.RealClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine runs loading episodes. It is safe for concurrent use; each
// episode owns its own Stage and Session.
type Engine struct {
	cfg      Config
	ambient  atomic.Pointer[skeleton.Override]
	resolver skeleton.Resolver
}

// New creates an Engine.
func New(cfg Config) *Engine {
	cfg.defaults()
	e := &Engine{cfg: cfg}
	e.SetAmbient(cfg.Ambient)
	return e
}

// SetAmbient replaces the ambient configuration tier. Episodes already
// running keep the value they resolved.
func (e *Engine) SetAmbient(o skeleton.Override) {
	e.ambient.Store(&o)
	e.cfg.Logger.Info("shimmer: ambient config updated", "empty", o.IsZero())
}

// Ambient returns the effective ambient tier for ctx: the engine's ambient
// value with any skeleton.Provide scopes in ctx layered over it.
func (e *Engine) Ambient(ctx context.Context) skeleton.Override {
	return e.ambient.Load().Merge(skeleton.Ambient(ctx))
}

// Resolve resolves override against the ambient tier and the defaults.
func (e *Engine) Resolve(ctx context.Context, override skeleton.Override) skeleton.Config {
	return e.resolver.Resolve(override, e.Ambient(ctx), e.cfg.Defaults)
}

// Measure runs one loading episode. Measurement failures degrade to an
// empty or partial geometry marked Exhausted; only bad input, an
// unavailable stage or a cancelled ctx return an error.
func (e *Engine) Measure(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	content, err := decode(req.Fragments)
	if err != nil {
		return nil, err
	}
	if e.cfg.Sanitizer != nil {
		content = e.cfg.Sanitizer.WrapAll(content)
	}

	res := &Result{
		SessionID: idgen.Measurement(),
		Loading:   req.loading(),
		Config:    e.Resolve(ctx, req.Config),
		Geometry:  []skeleton.LeafGeometry{},
		Blocks:    []skeleton.Block{},
	}
	if !res.Loading {
		html, err := skeleton.RenderString(ctx, skeleton.View(false, content, nil, nil))
		if err != nil {
			return nil, fmt.Errorf("shimmer: render: %w", err)
		}
		res.HTML = html
		res.Elapsed = time.Since(start)
		return res, nil
	}

	width := req.Width
	if width <= 0 {
		width = e.cfg.DefaultWidth
	}
	prepared := skeleton.Prepare(content, req.TemplateData, true)

	snap, measureErr, err := e.episode(ctx, width, prepared)
	if err != nil {
		return nil, err
	}
	res.Geometry = snap.Geometry
	res.Passes = snap.Pass
	res.Retries = snap.Retries
	res.Exhausted = snap.Exhausted
	res.Blocks = skeleton.Overlay(snap.Geometry, res.Config)

	html, err := skeleton.RenderString(ctx, skeleton.View(true, content, prepared, res.Blocks))
	if err != nil {
		return nil, fmt.Errorf("shimmer: render: %w", err)
	}
	res.HTML = html
	res.Elapsed = time.Since(start)

	e.record(ctx, res, width, len(content), measureErr)
	return res, nil
}

// episode mounts prepared on a fresh stage and waits for the geometry to
// settle. measureErr describes a degraded episode; err aborts the request.
func (e *Engine) episode(ctx context.Context, width int, prepared []skeleton.Fragment) (snap skeleton.Snapshot, measureErr, err error) {
	log := kit.Logger(ctx)
	stage, err := e.cfg.Stages(ctx, width)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			// Every stage stayed busy until the deadline.
			return snap, nil, fmt.Errorf("%w: no stage free: %w", ErrUnavailable, ctx.Err())
		case ctx.Err() != nil:
			return snap, nil, ctx.Err()
		}
		return snap, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		if cerr := stage.Close(); cerr != nil {
			log.Warn("shimmer: close stage", "error", cerr)
		}
	}()

	sess := skeleton.NewSession(stage,
		skeleton.WithPolicy(e.cfg.Policy),
		skeleton.WithClock(e.cfg.Clock),
		skeleton.WithLogger(log),
	)
	// Unmount must run even when the caller has gone away.
	defer sess.Close(context.WithoutCancel(ctx))

	mctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	if err := sess.Start(mctx, prepared); err != nil {
		log.Warn("shimmer: mount failed", "error", err)
		measureErr = err
	}
	snap, err = sess.Wait(mctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return snap, nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("shimmer: measurement timed out", "passes", snap.Pass, "timeout", e.cfg.Timeout)
		snap.Exhausted = true
		measureErr = err
	default:
		return snap, nil, fmt.Errorf("shimmer: wait: %w", err)
	}
	return snap, measureErr, nil
}

func (e *Engine) record(ctx context.Context, res *Result, width, fragments int, measureErr error) {
	if e.cfg.Journal == nil {
		return
	}
	entry := journal.Entry{
		ID:        res.SessionID,
		TraceID:   kit.GetTraceID(ctx),
		Transport: kit.GetTransport(ctx),
		Width:     width,
		Fragments: fragments,
		Leaves:    len(res.Geometry),
		Passes:    res.Passes,
		Retries:   res.Retries,
		Exhausted: res.Exhausted,
		Elapsed:   res.Elapsed,
		Config:    res.Config,
	}
	if measureErr != nil {
		entry.Error = measureErr.Error()
	}
	if _, err := e.cfg.Journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		kit.Logger(ctx).Warn("shimmer: journal record failed", "error", err)
	}
}

// Ready reports whether the engine can measure.
func (e *Engine) Ready() bool {
	return e.cfg.Ready == nil || e.cfg.Ready()
}

// Measurement returns one journaled episode. Without a journal every ID is
// unknown.
func (e *Engine) Measurement(ctx context.Context, id string) (journal.Entry, error) {
	if e.cfg.Journal == nil {
		return journal.Entry{}, journal.ErrNotFound
	}
	return e.cfg.Journal.Get(ctx, id)
}

// Recent returns journaled episodes, newest first.
func (e *Engine) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if e.cfg.Journal == nil {
		return []journal.Entry{}, nil
	}
	return e.cfg.Journal.Recent(ctx, limit)
}

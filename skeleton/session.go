package skeleton

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Retry defaults for content whose real shape appears after its first paint.
const (
	DefaultRetryDelay  = 100 * time.Millisecond
	DefaultRetryBudget = 3
)

var (
	// ErrSessionClosed is returned by operations on a closed Session.
	ErrSessionClosed = errors.New("skeleton: session closed")
	// ErrStopped is returned by Wait when loading ended before the
	// geometry settled.
	ErrStopped = errors.New("skeleton: session stopped")
)

// Stage hosts the off-screen measurement mount. It is owned by exactly one
// Session, which never calls it concurrently.
type Stage interface {
	// Mount replaces the mount's content. The mount occupies layout space
	// but is hidden from view, input and assistive technology.
	Mount(ctx context.Context, content []Fragment) error
	// Snapshot returns the mount container's box and its element-type
	// children, observed after layout and before the next paint.
	Snapshot(ctx context.Context) (frame Rect, children []Node, err error)
	// Unmount removes the content.
	Unmount(ctx context.Context) error
}

// State is the measurement state of a Session.
type State int

const (
	StateIdle State = iota
	StateMeasuring
	StateRetrying
	StateStable
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMeasuring:
		return "measuring"
	case StateRetrying:
		return "retrying"
	case StateStable:
		return "stable"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SettleFunc decides whether a pass is final, given the previous pass of the
// same loading episode (nil for the first) and the current one.
type SettleFunc func(prev, cur []LeafGeometry) bool

// SettleWhenUnchanged accepts a pass once it is non-empty and identical to
// the pass before it.
func SettleWhenUnchanged(prev, cur []LeafGeometry) bool {
	return len(cur) > 0 && EqualGeometry(prev, cur)
}

// SettleWhenNonEmpty accepts the first pass that measured anything.
func SettleWhenNonEmpty(_, cur []LeafGeometry) bool {
	return len(cur) > 0
}

// Policy bounds the retry path.
type Policy struct {
	// RetryDelay is the wait before re-measuring. Default: 100ms.
	RetryDelay time.Duration
	// RetryBudget is the maximum number of retries per loading episode.
	// A pass that measured something on the last retry earns one extra
	// confirming pass outside the budget.
	// Default: 3.
	RetryBudget int
	// Settle decides when geometry is final. Default: SettleWhenUnchanged.
	Settle SettleFunc
}

func (p *Policy) defaults() {
	if p.RetryDelay <= 0 {
		p.RetryDelay = DefaultRetryDelay
	}
	if p.RetryBudget <= 0 {
		p.RetryBudget = DefaultRetryBudget
	}
	if p.Settle == nil {
		p.Settle = SettleWhenUnchanged
	}
}

// Snapshot is a copy of a Session's observable state.
type Snapshot struct {
	State    State          `json:"state"`
	Geometry []LeafGeometry `json:"geometry"`
	Pass     int            `json:"pass"`
	Retries  int            `json:"retries"`
	// Exhausted is set when the retry budget ran out before the geometry
	// settled. The geometry is still the last pass, possibly empty.
	Exhausted bool `json:"exhausted"`
}

// Session drives measurement passes for one mounted instance. It owns its
// Stage, its geometry and at most one pending retry timer.
//
// Stage calls are serialized by stageMu, which is never acquired while mu
// is held.
type Session struct {
	stage     Stage
	stageMu   sync.Mutex
	clock     Clock
	policy    Policy
	logger    *slog.Logger
	observers []func(Snapshot)

	mu        sync.Mutex
	state     State
	gen       uint64
	geometry  []LeafGeometry
	pass      int
	retries   int
	exhausted bool
	// confirming marks the one extra pass granted when the last budgeted
	// pass measured something.
	confirming bool
	timer      Timer
	ctx       context.Context
	cancel    context.CancelFunc
	settled   chan struct{}
	closed    bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithClock sets the retry scheduler. Default: RealClock.
func WithClock(c Clock) SessionOption { return func(s *Session) { s.clock = c } }

// WithPolicy sets the retry policy.
func WithPolicy(p Policy) SessionOption { return func(s *Session) { s.policy = p } }

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption { return func(s *Session) { s.logger = l } }

// WithObserver registers fn to receive every accepted pass.
func WithObserver(fn func(Snapshot)) SessionOption {
	return func(s *Session) { s.observers = append(s.observers, fn) }
}

// NewSession creates an idle Session measuring through stage.
func NewSession(stage Stage, opts ...SessionOption) *Session {
	s := &Session{
		stage:   stage,
		clock:   RealClock{},
		settled: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.policy.defaults()
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Start begins a loading episode: content is mounted and measured once
// before Start returns. Calling Start while loading behaves like Update.
func (s *Session) Start(ctx context.Context, content []Fragment) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	gen, runCtx := s.beginLocked(ctx)
	s.mu.Unlock()

	return s.mountAndMeasure(runCtx, gen, content)
}

// Update re-mounts and re-measures after the prepared content changed while
// loading. Pending retries and in-flight passes of the old content are
// discarded. Update on an idle Session does nothing.
func (s *Session) Update(ctx context.Context, content []Fragment) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	gen, runCtx := s.beginLocked(ctx)
	s.mu.Unlock()

	return s.mountAndMeasure(runCtx, gen, content)
}

// Stop ends the loading episode: timers are cancelled, in-flight results
// dropped, geometry cleared and the mount removed.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.resetLocked()
	gen := s.gen
	s.mu.Unlock()

	s.stageMu.Lock()
	defer s.stageMu.Unlock()
	// A Start that raced in after the reset owns the mount now.
	if !s.current(gen) {
		return nil
	}
	if err := s.stage.Unmount(ctx); err != nil {
		return fmt.Errorf("skeleton: unmount: %w", err)
	}
	return nil
}

// Close stops the session for good. Later calls return ErrSessionClosed.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasIdle := s.state == StateIdle
	s.resetLocked()
	s.mu.Unlock()

	if wasIdle {
		return nil
	}
	s.stageMu.Lock()
	defer s.stageMu.Unlock()
	if err := s.stage.Unmount(ctx); err != nil {
		return fmt.Errorf("skeleton: unmount: %w", err)
	}
	return nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Wait blocks until the geometry is stable, the session stops, or ctx ends.
func (s *Session) Wait(ctx context.Context) (Snapshot, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Snapshot{}, ErrSessionClosed
		}
		switch s.state {
		case StateIdle:
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, ErrStopped
		case StateStable:
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, nil
		}
		ch := s.settled
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
}

// beginLocked opens a new generation: anything scheduled or running for an
// older one becomes a no-op.
func (s *Session) beginLocked(ctx context.Context) (uint64, context.Context) {
	s.cancelLocked()
	s.gen++
	s.state = StateMeasuring
	s.retries = 0
	s.exhausted = false
	s.confirming = false
	s.settled = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s.gen, s.ctx
}

func (s *Session) resetLocked() {
	s.cancelLocked()
	s.gen++
	s.state = StateIdle
	s.geometry = nil
	s.pass = 0
	s.retries = 0
	s.exhausted = false
	s.confirming = false
	s.ctx, s.cancel = nil, nil
}

// cancelLocked stops the pending timer, cancels in-flight work and wakes
// waiters of the current generation.
func (s *Session) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.signalLocked()
}

func (s *Session) signalLocked() {
	select {
	case <-s.settled:
	default:
		close(s.settled)
	}
}

// current reports whether gen is still the live generation.
func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && !s.closed
}

func (s *Session) mountAndMeasure(ctx context.Context, gen uint64, content []Fragment) error {
	s.stageMu.Lock()
	if !s.current(gen) {
		s.stageMu.Unlock()
		return nil
	}
	err := s.stage.Mount(ctx, content)
	s.stageMu.Unlock()
	if err != nil {
		s.mu.Lock()
		if s.gen == gen && !s.closed {
			s.geometry = nil
			s.exhausted = true
			s.state = StateStable
			s.signalLocked()
		}
		s.mu.Unlock()
		return fmt.Errorf("skeleton: mount: %w", err)
	}
	s.runPass(ctx, gen)
	return nil
}

// runPass takes one snapshot outside the lock and applies it only if its
// generation is still current.
func (s *Session) runPass(ctx context.Context, gen uint64) {
	s.stageMu.Lock()
	if !s.current(gen) {
		s.stageMu.Unlock()
		return
	}
	var geom []LeafGeometry
	frame, nodes, err := s.stage.Snapshot(ctx)
	s.stageMu.Unlock()
	if err != nil {
		s.logger.Warn("skeleton: snapshot failed", "error", err)
	} else {
		geom = ExtractAll(frame, nodes)
	}

	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.geometry
	s.geometry = geom
	s.pass++

	switch {
	case s.policy.Settle(prev, geom):
		s.state = StateStable
		s.signalLocked()
	case s.retries < s.policy.RetryBudget:
		s.state = StateRetrying
		s.scheduleLocked(gen)
	case len(geom) > 0 && !s.confirming:
		// Geometry measured on the last budgeted pass gets one
		// confirming pass that does not count as a retry.
		s.confirming = true
		s.state = StateRetrying
		s.scheduleLocked(gen)
	default:
		s.exhausted = true
		s.state = StateStable
		s.signalLocked()
		s.logger.Warn("skeleton: retry budget exhausted",
			"passes", s.pass, "leaves", len(geom))
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("skeleton: pass", "pass", snap.Pass, "leaves", len(snap.Geometry), "state", snap.State)
	for _, fn := range s.observers {
		fn(snap)
	}
}

func (s *Session) scheduleLocked(gen uint64) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(s.policy.RetryDelay, func() { s.retry(gen) })
}

func (s *Session) retry(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.closed || s.state != StateRetrying {
		s.mu.Unlock()
		return
	}
	if !s.confirming {
		s.retries++
	}
	s.state = StateMeasuring
	s.timer = nil
	ctx := s.ctx
	s.mu.Unlock()

	s.runPass(ctx, gen)
}

func (s *Session) snapshotLocked() Snapshot {
	geom := make([]LeafGeometry, len(s.geometry))
	copy(geom, s.geometry)
	return Snapshot{
		State:     s.state,
		Geometry:  geom,
		Pass:      s.pass,
		Retries:   s.retries,
		Exhausted: s.exhausted,
	}
}

// Package skeletontest provides in-memory doubles for skeleton adapters:
// boxes with fixed geometry, a scriptable Stage and a manually advanced
// Clock.
package skeletontest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/shimmer/skeleton"
)

// Box is a skeleton.Node with fixed geometry.
type Box struct {
	Tag      string
	Box      skeleton.Rect
	Rad      string
	Text     string
	TextBox  *skeleton.Rect
	Elements []*Box
}

var (
	_ skeleton.Node         = (*Box)(nil)
	_ skeleton.TextMeasurer = (*Box)(nil)
)

// El builds a Box at (x, y) sized w×h.
func El(tag string, x, y, w, h float64, children ...*Box) *Box {
	return &Box{Tag: tag, Box: skeleton.Rect{X: x, Y: y, Width: w, Height: h}, Elements: children}
}

// WithText sets the box's text content.
func (b *Box) WithText(s string) *Box { b.Text = s; return b }

// WithRadius sets the computed corner radius.
func (b *Box) WithRadius(r string) *Box { b.Rad = r; return b }

// WithTextBox sets the intrinsic text box.
func (b *Box) WithTextBox(x, y, w, h float64) *Box {
	b.TextBox = &skeleton.Rect{X: x, Y: y, Width: w, Height: h}
	return b
}

func (b *Box) Kind() string { return b.Tag }
func (b *Box) Rect() skeleton.Rect { return b.Box }
func (b *Box) Radius() string { return b.Rad }
func (b *Box) TextOnly() bool { return b.Text != "" && len(b.Elements) == 0 }
func (b *Box) Children() []skeleton.Node {
	out := make([]skeleton.Node, len(b.Elements))
	for i, c := range b.Elements {
		out[i] = c
	}
	return out
}

// IntrinsicTextBox implements skeleton.TextMeasurer.
func (b *Box) IntrinsicTextBox() (skeleton.Rect, bool) {
	if b.TextBox == nil {
		return skeleton.Rect{}, false
	}
	return *b.TextBox, true
}

// Frame is one scripted snapshot.
type Frame struct {
	Container skeleton.Rect
	Children  []*Box
	Err       error
}

// Stage is a skeleton.Stage whose snapshots come from a function.
type Stage struct {
	mu       sync.Mutex
	render   func(content []skeleton.Fragment) Frame
	content  []skeleton.Fragment
	mounted  bool
	mounts   int
	snaps    int
	unmounts int
	closed   bool
	MountErr error
}

var _ skeleton.Stage = (*Stage)(nil)

// NewStage creates a Stage that answers each Snapshot with render(content).
func NewStage(render func(content []skeleton.Fragment) Frame) *Stage {
	return &Stage{render: render}
}

// StaticStage answers every Snapshot with the same frame.
func StaticStage(f Frame) *Stage {
	return NewStage(func([]skeleton.Fragment) Frame { return f })
}

func (s *Stage) Mount(_ context.Context, content []skeleton.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MountErr != nil {
		return s.MountErr
	}
	s.content = content
	s.mounted = true
	s.mounts++
	return nil
}

func (s *Stage) Snapshot(ctx context.Context) (skeleton.Rect, []skeleton.Node, error) {
	s.mu.Lock()
	content := s.content
	s.snaps++
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return skeleton.Rect{}, nil, err
	}
	f := s.render(content)
	if f.Err != nil {
		return skeleton.Rect{}, nil, f.Err
	}
	nodes := make([]skeleton.Node, len(f.Children))
	for i, c := range f.Children {
		nodes[i] = c
	}
	return f.Container, nodes, nil
}

func (s *Stage) Unmount(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = nil
	s.mounted = false
	s.unmounts++
	return nil
}

// Close marks the stage released by its owner.
func (s *Stage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Stage) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Content returns what is currently mounted.
func (s *Stage) Content() []skeleton.Fragment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// Mounted reports whether content is mounted.
func (s *Stage) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted
}

// Counts returns how many mounts, snapshots and unmounts happened.
func (s *Stage) Counts() (mounts, snapshots, unmounts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounts, s.snaps, s.unmounts
}

// Clock is a skeleton.Clock driven by Advance. Callbacks run on the
// goroutine calling Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*timer
}

var _ skeleton.Clock = (*Clock)(nil)

type timer struct {
	clock   *Clock
	at      time.Duration
	seq     int
	f       func()
	stopped bool
	fired   bool
}

// NewClock starts at zero.
func NewClock() *Clock { return &Clock{} }

// Now is the elapsed fake time.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements skeleton.Clock.
func (c *Clock) AfterFunc(d time.Duration, f func()) skeleton.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{clock: c, at: c.now + d, seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Pending counts timers that have neither fired nor been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves time forward by d, firing due timers in order. Timers
// scheduled by a callback fire too if they fall due within d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(end)
		if next == nil {
			c.now = end
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()
		next.f()
	}
}

func (c *Clock) nextDueLocked(end time.Duration) *timer {
	var due []*timer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= end {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

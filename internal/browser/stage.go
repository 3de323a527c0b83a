package browser

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/shimmer/skeleton"
)

// mountID is the id of the measurement container inside a stage page.
const mountID = "shimmer-measure"

// Stage is a skeleton.Stage backed by one Chrome page. Open it with
// Manager.NewStage and Close it when the session ends.
type Stage struct {
	page    *rod.Page
	router  *rod.HijackRouter
	width   int
	log     *slog.Logger
	timeout int64
	release func()
	once    sync.Once
}

var _ skeleton.Stage = (*Stage)(nil)

// NewStage opens a page sized width×ViewportHeight holding an empty
// measurement container. It blocks while MaxStages pages are already open.
func (m *Manager) NewStage(ctx context.Context, width int) (*Stage, error) {
	if width <= 0 {
		width = m.cfg.DefaultWidth
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("browser: acquire stage: %w", err)
	}
	release := func() { m.sem.Release(1) }

	b := m.Browser()
	if b == nil {
		release()
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		release()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	s := &Stage{
		page:    page,
		width:   width,
		log:     m.cfg.Logger,
		timeout: m.cfg.LoadTimeout.Milliseconds(),
		release: release,
	}
	if len(m.cfg.ResourceBlocking) > 0 {
		s.router = applyResourceBlocking(page, m.cfg.ResourceBlocking)
	}

	p := page.Context(ctx)
	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}
	if err := p.SetDocumentContent(stageDocument(width)); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser: set document: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: stage wait load", "error", err)
	}
	s.log.Debug("browser: stage opened", "width", s.width, "stealth", m.cfg.Stealth)
	return s, nil
}

// stageDocument is the page shell: the neutralizing stylesheet and an empty
// measurement container as wide as the viewport.
func stageDocument(width int) string {
	return fmt.Sprintf(`<!doctype html><html><head><meta charset="utf-8"><style>html,body{margin:0;padding:0}
%s</style></head><body><div id="%s" class="%s" aria-hidden="true" inert style="position:relative;pointer-events:none;width:%dpx"></div></body></html>`,
		skeleton.MeasureCSS, mountID, html.EscapeString(skeleton.MeasureClass), width)
}

// Mount renders content into the measurement container and waits, up to
// LoadTimeout, for its images and fonts.
func (s *Stage) Mount(ctx context.Context, content []skeleton.Fragment) error {
	markup, err := skeleton.RenderString(ctx, skeleton.Join(content))
	if err != nil {
		return fmt.Errorf("browser: render content: %w", err)
	}
	if _, err := s.page.Context(ctx).Eval(mountJS, mountID, markup, s.timeout); err != nil {
		return fmt.Errorf("browser: mount: %w", err)
	}
	return nil
}

// Snapshot reads the container and its subtree in one evaluation, inside an
// animation frame so the layout is settled and not yet painted. Pages that
// get no frames are read after a short timer instead.
func (s *Stage) Snapshot(ctx context.Context) (skeleton.Rect, []skeleton.Node, error) {
	res, err := s.page.Context(ctx).Eval(snapshotJS, mountID)
	if err != nil {
		return skeleton.Rect{}, nil, fmt.Errorf("browser: snapshot: %w", err)
	}
	return parseSnapshot([]byte(res.Value.Str()))
}

// Unmount empties the measurement container.
func (s *Stage) Unmount(ctx context.Context) error {
	if _, err := s.page.Context(ctx).Eval(unmountJS, mountID); err != nil {
		return fmt.Errorf("browser: unmount: %w", err)
	}
	return nil
}

// Close closes the page and frees its slot. Safe to call twice.
func (s *Stage) Close() error {
	var err error
	s.once.Do(func() {
		if s.router != nil {
			if rerr := s.router.Stop(); rerr != nil {
				s.log.Debug("browser: stop hijack router", "error", rerr)
			}
		}
		err = s.page.Close()
		s.release()
	})
	return err
}

const mountJS = `(id, markup, timeout) => {
	const root = document.getElementById(id);
	root.innerHTML = markup;
	const pending = Array.from(root.querySelectorAll('img'))
		.filter(img => !img.complete)
		.map(img => new Promise(r => { img.addEventListener('load', r, {once: true}); img.addEventListener('error', r, {once: true}); }));
	if (document.fonts) pending.push(document.fonts.ready);
	return Promise.race([
		Promise.all(pending),
		new Promise(r => setTimeout(r, timeout)),
	]).then(() => true);
}`

const unmountJS = `(id) => { document.getElementById(id).innerHTML = ''; return true; }`

// snapshotJS serializes the container box and an element tree with boxes,
// computed radii and text-only flags. Text-only table cells also report the
// box of their text, measured by wrapping it in an inline span and moving
// it back.
//
// Hidden or background tabs throttle requestAnimationFrame, so a timer
// resolves the snapshot if no frame arrives within snapshotFallbackMS.
const snapshotJS = `(id) => new Promise(resolve => {
	let done = false;
	const measure = () => {
	if (done) return;
	done = true;
	const root = document.getElementById(id);
	const box = el => {
		const r = el.getBoundingClientRect();
		return {x: r.left, y: r.top, width: r.width, height: r.height};
	};
	const radius = el => {
		try { return getComputedStyle(el).borderRadius || ''; } catch (e) { return ''; }
	};
	const textBox = el => {
		const span = document.createElement('span');
		span.style.display = 'inline';
		while (el.firstChild) span.appendChild(el.firstChild);
		el.appendChild(span);
		const b = box(span);
		while (span.firstChild) el.insertBefore(span.firstChild, span);
		el.removeChild(span);
		return b;
	};
	const walk = el => {
		const kind = el.tagName.toLowerCase();
		const nodes = Array.from(el.childNodes);
		const textOnly = nodes.length > 0 && nodes.every(c => c instanceof CharacterData);
		const n = {kind: kind, rect: box(el), radius: radius(el), text_only: textOnly, children: []};
		if ((kind === 'td' || kind === 'th') && textOnly) n.text_box = textBox(el);
		for (const c of el.children) n.children.push(walk(c));
		return n;
	};
	resolve(JSON.stringify({frame: box(root), children: Array.from(root.children).map(walk)}));
	};
	requestAnimationFrame(measure);
	setTimeout(measure, ` + snapshotFallbackMS + `);
})`

const snapshotFallbackMS = "100"

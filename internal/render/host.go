package render

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"golang.org/x/net/html"

	"livenote/internal/capability"
	"livenote/internal/jsloop"
	"livenote/internal/logging"
	"livenote/internal/rewrite"
	"livenote/internal/sandbox"
	"livenote/internal/transpile"
	"livenote/internal/types"
	"livenote/internal/ui"
)

// State is a host's lifecycle position.
type State string

const (
	StateCreated  State = "created"
	StateMounting State = "mounting"
	StateMounted  State = "mounted"
	StateErrored  State = "errored"
	StateDisposed State = "disposed"
)

// Observer is told whenever a host's HTML changes. Called without host locks
// held, from any goroutine.
type Observer interface {
	HostUpdated(h *Host)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(h *Host)

// HostUpdated implements Observer.
func (f ObserverFunc) HostUpdated(h *Host) { f(h) }

// pass is one mounting attempt: its own loop, renderer and scope.
type pass struct {
	gen  uint64
	loop *jsloop.Loop
	r    *ui.Renderer
}

// close unmounts the tree and stops the loop. Must not run on the loop.
func (p *pass) close() {
	if p == nil {
		return
	}
	if p.r != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = p.loop.Call(ctx, func(*goja.Runtime) error {
			p.r.Dispose()
			return nil
		})
		cancel()
	}
	p.loop.Stop()
}

// Host owns one snippet instance. A newer Render supersedes any pass still
// in flight: results are applied only when their generation is current.
type Host struct {
	ID       string
	Document string
	Block    int

	rc       *Context
	observer Observer

	mu         sync.Mutex
	state      State
	gen        uint64
	committed  uint64 // generation of the latest re-render commit
	source     string
	theme      string
	inner      string
	failure    *types.Failure
	current    *pass
	cancelPass context.CancelFunc
	slow       *time.Timer
	started    time.Time

	running sync.WaitGroup
}

// NewHost acquires a mount point for block of doc. observer may be nil.
func (c *Context) NewHost(doc string, block int, observer Observer) (*Host, error) {
	h := &Host{
		ID:       uuid.NewString(),
		Document: doc,
		Block:    block,
		rc:       c,
		observer: observer,
		state:    StateCreated,
		theme:    c.Theme(),
	}
	if err := c.register(h); err != nil {
		return nil, err
	}
	logging.RenderDebug("host %s created for %s#%d", h.ID, doc, block)
	return h, nil
}

// State returns the lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Failure returns the failure shown by an errored host.
func (h *Host) Failure() *types.Failure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failure
}

// Generation returns the number of the latest pass.
func (h *Host) Generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gen
}

// Source returns the snippet text of the latest pass.
func (h *Host) Source() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.source
}

// Inner returns the rendered content without the container.
func (h *Host) Inner() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inner
}

// HTML returns the container element with the current content.
func (h *Host) HTML() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.containerLocked()
}

func (h *Host) containerLocked() string {
	classes := []string{"live-container", "theme-" + h.theme}
	if h.rc.Config.Render.MathTypesetting {
		classes = append(classes, "live-math")
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="%s" data-live-id="%s" data-live-block="%d" data-live-state="%s">`,
		strings.Join(classes, " "), html.EscapeString(h.ID), h.Block, h.state)
	b.WriteString(h.inner)
	b.WriteString("</div>")
	return b.String()
}

// SetTheme re-classes the container.
func (h *Host) SetTheme(theme string) {
	h.mu.Lock()
	if h.state == StateDisposed || h.theme == theme {
		h.mu.Unlock()
		return
	}
	h.theme = theme
	h.mu.Unlock()
	h.notify()
}

func (h *Host) notify() {
	if h.observer != nil {
		h.observer.HostUpdated(h)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Render starts a mounting pass over source and returns its generation. It
// does not wait for the pass; use WaitIdle.
func (h *Host) Render(source string) uint64 {
	h.mu.Lock()
	if h.state == StateDisposed {
		h.mu.Unlock()
		return 0
	}
	if h.cancelPass != nil {
		h.cancelPass()
	}
	h.gen++
	gen := h.gen
	h.source = source
	h.state = StateMounting
	h.failure = nil
	h.inner = ""
	h.started = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancelPass = cancel
	h.armSlowNoticeLocked(gen)
	h.running.Add(1)
	h.mu.Unlock()

	logging.AuditFor(h.Document).SnippetMount(h.Block, gen)
	h.notify()
	go h.mount(ctx, gen, source)
	return gen
}

// Retry clears the error state and mounts the last source again.
func (h *Host) Retry() uint64 {
	h.mu.Lock()
	source := h.source
	h.mu.Unlock()
	logging.AuditFor(h.Document).SnippetRetry(h.Block)
	return h.Render(source)
}

func (h *Host) armSlowNoticeLocked(gen uint64) {
	if h.slow != nil {
		h.slow.Stop()
	}
	threshold := h.rc.Config.GetSlowNotice()
	h.slow = time.AfterFunc(threshold, func() {
		h.mu.Lock()
		if h.gen != gen || h.state != StateMounting {
			h.mu.Unlock()
			return
		}
		h.inner = ui.SlowNotice()
		h.mu.Unlock()
		logging.AuditFor(h.Document).PerfSlow(fmt.Sprintf("mount block %d", h.Block), threshold, threshold)
		h.notify()
	})
}

func (h *Host) mount(ctx context.Context, gen uint64, source string) {
	defer h.running.Done()
	outcome, p := h.run(ctx, gen, source)
	h.settle(gen, outcome, p)
}

// run executes the pipeline. The returned pass is nil when no tree was
// mounted.
func (h *Host) run(ctx context.Context, gen uint64, source string) (types.RenderOutcome, *pass) {
	cfg := h.rc.Config

	res, err := h.rc.Rewriter.Rewrite(ctx, source, rewrite.Context{
		DocumentPath:   h.Document,
		MaxImportDepth: cfg.Render.MaxIncludeDepth,
	})
	if err != nil {
		return types.Failed(types.AsFailure(err, types.SyntaxFailure)), nil
	}
	for _, w := range res.Warnings {
		logging.RewriteWarn("%s#%d: %s", h.Document, h.Block, w)
	}

	unit, err := transpile.Compile(res.Body, res.Dialect)
	if err != nil {
		f := types.AsFailure(err, types.SyntaxFailure)
		if f.Location != nil && f.Location.Line > res.LineOffset {
			f.Location.Line -= res.LineOffset
		}
		return types.Failed(f), nil
	}
	if ctx.Err() != nil {
		return types.Failed(types.WrapFailure(types.RuntimeFailure, ctx.Err())), nil
	}

	fm, err := h.rc.Docs.Frontmatter(h.Document)
	if err != nil {
		logging.Get(logging.CategoryRender).Warn("frontmatter of %s unavailable: %v", h.Document, err)
		fm = map[string]interface{}{}
	}

	p := &pass{gen: gen, loop: jsloop.New()}
	var scope capability.Scope
	err = p.loop.Call(ctx, func(rt *goja.Runtime) error {
		p.r = ui.NewRenderer(rt, p.loop, func(out string, err error) { h.commit(gen, out, err) })
		var berr error
		scope, berr = capability.Build(capability.Env{
			Renderer:    p.r,
			Document:    h.Document,
			Frontmatter: fm,
			Docs:        h.rc.Docs,
			Storage:     h.rc.Storage,
			Market:      h.rc.Market,
			MarketStore: h.rc.Stores.For(h.Document),
			Analyzer:    h.rc.Analyzer,
			Picker:      h.rc.Picker,
			Notifier:    h.rc.Notifier,
			Theme:       h.themeNow(),
			MountDelay:  cfg.GetMountDelay(),
			UsesThree:   res.UsesThree,
		})
		return berr
	})
	if err != nil {
		p.close()
		return types.Failed(types.AsFailure(err, types.RuntimeFailure)), nil
	}

	exec := sandbox.NewExecutor(sandbox.NewGojaEvaluator(p.loop), cfg.GetExecutionTimeout())
	outcome := exec.Execute(ctx, unit, scope)
	if !outcome.OK() {
		p.close()
		return outcome, nil
	}

	// Mounting is the isolating boundary: failures raised while expanding
	// the tree surface as failures, plain objects as ObjectRenderFailure.
	var out string
	var mountErr error
	err = p.loop.Call(ctx, func(*goja.Runtime) error {
		out, mountErr = p.r.Mount(outcome.Value.(goja.Value))
		return nil
	})
	if err == nil {
		err = mountErr
	}
	if err != nil {
		p.close()
		return types.Failed(types.AsFailure(err, types.RuntimeFailure)), nil
	}
	return types.Rendered(out), p
}

func (h *Host) themeNow() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.theme
}

// settle applies a finished pass if it is still the latest one.
func (h *Host) settle(gen uint64, outcome types.RenderOutcome, p *pass) {
	h.mu.Lock()
	if gen != h.gen || h.state == StateDisposed {
		h.mu.Unlock()
		logging.RenderDebug("discarding stale pass %d of host %s", gen, h.ID)
		p.close()
		return
	}
	if h.slow != nil {
		h.slow.Stop()
	}
	old := h.current
	h.current = p
	elapsed := time.Since(h.started)
	errMsg := ""
	if outcome.OK() {
		h.state = StateMounted
		if h.committed != gen {
			h.inner, _ = outcome.Value.(string)
		}
	} else {
		h.state = StateErrored
		h.failure = outcome.Failure
		h.inner = ui.ErrorPanel(outcome.Failure)
		errMsg = outcome.Failure.Message
	}
	h.mu.Unlock()

	if old != nil && old != p {
		old.close()
	}
	logging.AuditFor(h.Document).SnippetOutcome(h.Block, elapsed, string(outcome.Kind()), errMsg)
	if outcome.OK() {
		logging.Render("%s#%d mounted (pass %d, %v)", h.Document, h.Block, gen, elapsed)
	} else {
		logging.RenderError("%s#%d failed (pass %d): %s", h.Document, h.Block, gen, outcome.Failure.Error())
	}
	h.notify()
}

// commit receives re-renders triggered by state changes. Runs on the loop.
func (h *Host) commit(gen uint64, out string, err error) {
	h.mu.Lock()
	if gen != h.gen || h.state == StateDisposed {
		h.mu.Unlock()
		return
	}
	h.committed = gen
	if err != nil {
		f := types.AsFailure(err, types.RuntimeFailure)
		h.state = StateErrored
		h.failure = f
		h.inner = ui.ErrorPanel(f)
		logging.RenderError("%s#%d render-phase failure: %s", h.Document, h.Block, f.Error())
	} else {
		if h.state == StateErrored {
			h.failure = nil
		}
		h.state = StateMounted
		h.inner = out
	}
	h.mu.Unlock()
	h.notify()
}

// Dispatch delivers a UI event. The retry handler re-enters mounting.
func (h *Host) Dispatch(ctx context.Context, handler string, payload map[string]interface{}) error {
	h.mu.Lock()
	state, p := h.state, h.current
	h.mu.Unlock()

	if handler == ui.RetryHandlerID && state == StateErrored {
		h.Retry()
		return nil
	}
	if state == StateDisposed {
		return fmt.Errorf("host %s is disposed", h.ID)
	}
	if p == nil {
		return fmt.Errorf("host %s has no mounted tree", h.ID)
	}
	var derr error
	err := p.loop.Call(ctx, func(*goja.Runtime) error {
		derr = p.r.Dispatch(handler, payload)
		return nil
	})
	if err == nil {
		err = derr
	}
	if err != nil {
		logging.RenderError("%s#%d event %s: %v", h.Document, h.Block, handler, err)
		h.rc.Notifier.Notify(h.Document, fmt.Sprintf("Event handler failed: %v", err))
	}
	return err
}

// WaitIdle blocks until no pass is in flight and the mounted tree has no
// outstanding async work.
func (h *Host) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	p := h.current
	h.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.loop.WaitIdle(ctx)
}

// Dispose releases the mount point: in-flight passes are discarded, the tree
// is unmounted, and pending persistence for the document is flushed.
func (h *Host) Dispose() {
	h.mu.Lock()
	if h.state == StateDisposed {
		h.mu.Unlock()
		return
	}
	h.state = StateDisposed
	h.gen++
	if h.cancelPass != nil {
		h.cancelPass()
	}
	if h.slow != nil {
		h.slow.Stop()
	}
	p := h.current
	h.current = nil
	h.inner = ""
	h.mu.Unlock()

	p.close()
	h.running.Wait()
	h.rc.Storage.Flush(h.Document)
	h.rc.unregister(h)
	logging.AuditFor(h.Document).SnippetDispose(h.Block)
	logging.RenderDebug("host %s disposed", h.ID)
}

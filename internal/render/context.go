// Package render hosts snippet instances: it runs the pipeline (rewrite,
// transpile, scope, execute, mount) for every fenced block and keeps each
// instance's lifecycle, and composes whole documents into pages.
package render

import (
	"fmt"
	"sort"
	"sync"

	"livenote/internal/capability"
	"livenote/internal/config"
	"livenote/internal/document"
	"livenote/internal/logging"
	"livenote/internal/market"
	"livenote/internal/picker"
	"livenote/internal/rewrite"
	"livenote/internal/storage"
)

// Context is shared by every host of one process: configuration, the stores
// and the theme source. It replaces process-wide registries; hosts reach
// shared state only through it.
type Context struct {
	Config   *config.Config
	Docs     document.Store
	Rewriter *rewrite.Rewriter
	Storage  *storage.Manager
	Market   *market.Service
	Stores   *market.Stores
	Analyzer market.Analyzer
	Picker   picker.Picker
	Notifier capability.Notifier

	mu       sync.RWMutex
	reported string // theme reported by a client, used when the setting is auto
	hosts    map[string]*Host
	closed   bool
}

// Option customises a Context.
type Option func(*Context)

// WithPicker sets the readFile picker.
func WithPicker(p picker.Picker) Option {
	return func(c *Context) { c.Picker = p }
}

// WithNotifier sets where transient notices go.
func WithNotifier(n capability.Notifier) Option {
	return func(c *Context) { c.Notifier = n }
}

// WithMarket replaces the market service built from config.
func WithMarket(svc *market.Service) Option {
	return func(c *Context) { c.Market = svc }
}

// WithStores replaces the market cache stores built from config.
func WithStores(s *market.Stores) Option {
	return func(c *Context) { c.Stores = s }
}

// WithAnalyzer installs the order-block analyzer behind analyzeOrderBlocks.
func WithAnalyzer(a market.Analyzer) Option {
	return func(c *Context) { c.Analyzer = a }
}

// NewContext wires the shared collaborators for docs.
func NewContext(cfg *config.Config, docs document.Store, opts ...Option) (*Context, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Context{
		Config:   cfg,
		Docs:     docs,
		Rewriter: rewrite.New(docs, cfg.Render.Language),
		Storage:  storage.NewManager(docs, cfg.Render.Namespace, cfg.GetPersistDebounce()),
		Picker:   picker.None{},
		Notifier: capability.LogNotifier{},
		hosts:    map[string]*Host{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Market == nil {
		c.Market = market.NewServiceFromConfig(cfg)
	}
	if c.Stores == nil {
		stores, err := market.OpenStores(docs.Root(), cfg.Market)
		if err != nil {
			c.Storage.Close()
			return nil, fmt.Errorf("open market cache: %w", err)
		}
		c.Stores = stores
	}
	logging.Render("render context ready: vault=%s lang=%s theme=%s", docs.Root(), cfg.Render.Language, cfg.Render.Theme)
	return c, nil
}

// Theme returns the effective theme: the setting unless it is auto, then the
// client-reported theme, then dark.
func (c *Context) Theme() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ResolveTheme(c.Config.Render.Theme, c.reported)
}

// ResolveTheme picks the theme for a setting and a reported preference.
func ResolveTheme(setting, reported string) string {
	switch setting {
	case config.ThemeDark, config.ThemeLight:
		return setting
	}
	if reported == config.ThemeLight {
		return config.ThemeLight
	}
	return config.ThemeDark
}

// ReportTheme records a client's theme and re-classes every live host when
// the effective theme changes.
func (c *Context) ReportTheme(theme string) {
	c.mu.Lock()
	before := ResolveTheme(c.Config.Render.Theme, c.reported)
	c.reported = theme
	after := ResolveTheme(c.Config.Render.Theme, c.reported)
	hosts := c.liveHosts()
	c.mu.Unlock()

	if before == after {
		return
	}
	logging.Render("theme changed %s -> %s, updating %d hosts", before, after, len(hosts))
	for _, h := range hosts {
		h.SetTheme(after)
	}
}

// liveHosts must be called with mu held.
func (c *Context) liveHosts() []*Host {
	hosts := make([]*Host, 0, len(c.hosts))
	for _, h := range c.hosts {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].ID < hosts[j].ID })
	return hosts
}

// Hosts returns the live hosts ordered by id.
func (c *Context) Hosts() []*Host {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.liveHosts()
}

// Host returns a live host by id.
func (c *Context) Host(id string) (*Host, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hosts[id]
	return h, ok
}

func (c *Context) register(h *Host) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("render context closed")
	}
	c.hosts[h.ID] = h
	return nil
}

func (c *Context) unregister(h *Host) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hosts, h.ID)
}

// Close disposes every live host and releases the stores.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hosts := c.liveHosts()
	c.mu.Unlock()

	for _, h := range hosts {
		h.Dispose()
	}
	c.Storage.Close()
	return c.Stores.Close()
}

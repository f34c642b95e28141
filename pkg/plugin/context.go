package plugin

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/clock"
	"github.com/shouya/fondbot/internal/config"
	"github.com/shouya/fondbot/internal/guard"
	"github.com/shouya/fondbot/internal/names"
	"github.com/shouya/fondbot/internal/store"
)

// DefaultCallTimeout bounds a single outbound platform call made through
// the Context helpers.
const DefaultCallTimeout = 30 * time.Second

// Context provides dependencies to plugins. One Context lives for the whole
// process and is shared by every plugin. Apart from Post, its methods must
// only be called from the dispatch goroutine, or before the loop starts.
type Context struct {
	// Client sends and edits messages on the chat platform.
	Client chat.Client

	// Store persists plugin state. Only the dispatch goroutine may use it.
	Store store.Store

	// Guard is the admission filter; the manager plugin edits it.
	Guard *guard.Guard

	// Names resolves user display names.
	Names *names.Map

	// Logger is a structured logger for the plugin to use.
	// Plugins should use logger.Named("pluginname") for namespacing.
	Logger *zap.Logger

	// Clock is the time source for timers, sessions and workers.
	Clock clock.Clock

	// Config holds the tunables loaded from bot.yaml.
	Config *config.Config

	// Location is the time zone for user-facing clock times.
	Location *time.Location

	base    context.Context
	bypass  bool
	reports func() map[string]string

	postMu sync.Mutex
	post   func(func())
	held   []func()
}

// NewContext creates a plugin context with all required dependencies.
func NewContext(
	client chat.Client,
	st store.Store,
	g *guard.Guard,
	nm *names.Map,
	logger *zap.Logger,
	clk clock.Clock,
	cfg *config.Config,
) *Context {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Context{
		Client:   client,
		Store:    st,
		Guard:    g,
		Names:    nm,
		Logger:   logger,
		Clock:    clk,
		Config:   cfg,
		Location: cfg.Location(),
		base:     context.Background(),
	}
}

// Base returns the process-wide context. It is cancelled on shutdown.
func (c *Context) Base() context.Context {
	if c.base == nil {
		return context.Background()
	}
	return c.base
}

// Attach binds the context to the dispatch loop: ctx becomes the base
// context and post is used by Post to hand tasks to the loop. It returns
// the tasks posted before the loop attached, in order; the caller runs them
// on the dispatch goroutine.
func (c *Context) Attach(ctx context.Context, post func(func())) []func() {
	c.postMu.Lock()
	defer c.postMu.Unlock()
	c.base = ctx
	c.post = post
	held := c.held
	c.held = nil
	return held
}

// Post schedules task to run on the dispatch goroutine. It is the only
// Context method that is safe to call from timers and workers. Tasks posted
// before a dispatch loop attaches are held until Attach.
func (c *Context) Post(task func()) {
	c.postMu.Lock()
	post := c.post
	if post == nil {
		c.held = append(c.held, task)
		c.postMu.Unlock()
		return
	}
	c.postMu.Unlock()
	post(task)
}

// SetReportSource installs the function behind Reports.
func (c *Context) SetReportSource(fn func() map[string]string) {
	c.reports = fn
}

// Reports returns the status line of every plugin implementing Reporter.
func (c *Context) Reports() map[string]string {
	if c.reports == nil {
		return nil
	}
	return c.reports()
}

// SetBypass stops the remaining plugins from seeing the current message.
func (c *Context) SetBypass() { c.bypass = true }

// Bypassed reports whether a plugin set the bypass flag for this message.
func (c *Context) Bypassed() bool { return c.bypass }

// ResetBypass clears the flag. The dispatcher calls it after every message.
func (c *Context) ResetBypass() { c.bypass = false }

// Now returns the current time in the configured location.
func (c *Context) Now() time.Time {
	return c.Clock.Now().In(c.Location)
}

func (c *Context) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Base(), DefaultCallTimeout)
}

// Send posts a new message.
func (c *Context) Send(out chat.Outgoing) (chat.MessageRef, error) {
	ctx, cancel := c.callContext()
	defer cancel()
	return c.Client.Send(ctx, out)
}

// Reply answers msg with plain text.
func (c *Context) Reply(msg *chat.Message, text string) (chat.MessageRef, error) {
	return c.Send(chat.ReplyTo(msg, text))
}

// Edit replaces the content of a message the bot sent earlier.
func (c *Context) Edit(ref chat.MessageRef, out chat.Outgoing) error {
	ctx, cancel := c.callContext()
	defer cancel()
	out.Chat = ref.Chat
	return c.Client.Edit(ctx, ref, out)
}

// Answer acknowledges a callback.
func (c *Context) Answer(cb *chat.Callback, text string) error {
	ctx, cancel := c.callContext()
	defer cancel()
	return c.Client.Answer(ctx, cb.ID, text)
}

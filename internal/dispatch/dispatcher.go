// Package dispatch routes inbound chat updates through the ordered plugin
// stack. All plugin state is touched from the single dispatch goroutine
// started by Run; timers and workers reach it through Context.Post.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/guard"
	"github.com/shouya/fondbot/pkg/plugin"
)

// ErrDuplicatePlugin is returned when two plugins share a name, which would
// make callback routing ambiguous.
var ErrDuplicatePlugin = errors.New("dispatch: duplicate plugin name")

const taskQueueSize = 256

// Dispatcher owns the plugin stack and the dispatch loop.
type Dispatcher struct {
	pctx    *plugin.Context
	plugins []plugin.Plugin
	byName  map[string]plugin.Plugin
	denial  string
	logger  *zap.Logger

	tasks   chan func()
	done    chan struct{}
	running atomic.Bool
}

// New creates a dispatcher bound to the shared plugin context. denial is the
// text sent to chats the guard rejects; empty means guard.DefaultDenial.
func New(pctx *plugin.Context, denial string, logger *zap.Logger) *Dispatcher {
	if denial == "" {
		denial = guard.DefaultDenial
	}
	d := &Dispatcher{
		pctx:   pctx,
		byName: make(map[string]plugin.Plugin),
		denial: denial,
		logger: logger.Named("dispatch"),
		tasks:  make(chan func(), taskQueueSize),
		done:   make(chan struct{}),
	}
	pctx.SetReportSource(d.collectReports)
	return d
}

// Register appends p to the stack. Registration order is processing order.
func (d *Dispatcher) Register(p plugin.Plugin) error {
	name := p.Name()
	if _, exists := d.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, name)
	}
	d.plugins = append(d.plugins, p)
	d.byName[name] = p
	d.logger.Info("Plugin registered", zap.String("plugin", name), zap.Int("position", len(d.plugins)))
	return nil
}

// Plugins returns the registered plugin names in processing order.
func (d *Dispatcher) Plugins() []string {
	names := make([]string, len(d.plugins))
	for i, p := range d.plugins {
		names[i] = p.Name()
	}
	return names
}

// Dispatch routes one update.
func (d *Dispatcher) Dispatch(u chat.Update) {
	switch {
	case u.Message != nil:
		d.DispatchMessage(u.Message)
	case u.Callback != nil:
		d.DispatchCallback(u.Callback)
	default:
		d.logger.Debug("Ignoring empty update")
	}
}

// DispatchMessage runs msg through the guard and then through every plugin
// in order until one sets bypass.
func (d *Dispatcher) DispatchMessage(msg *chat.Message) {
	metricUpdates.WithLabelValues("message").Inc()
	logger := d.logger.With(zap.Int64("chat_id", int64(msg.Chat)), zap.Int64("message_id", int64(msg.ID)))

	if !d.admitted(msg.Chat) {
		metricDenied.Inc()
		logger.Warn("Rejected message from unknown chat",
			zap.Int64("user_id", int64(msg.From.ID)),
			zap.String("username", msg.From.Username),
			zap.String("text", msg.Text))
		if _, err := d.pctx.Reply(msg, d.denial); err != nil {
			logger.Error("Failed to send denial", zap.Error(err))
		}
		return
	}

	defer d.pctx.ResetBypass()
	for _, p := range d.plugins {
		if d.pctx.Bypassed() {
			metricBypassed.WithLabelValues(p.Name()).Inc()
			logger.Debug("Plugin bypassed", zap.String("plugin", p.Name()))
			continue
		}
		d.invoke(p.Name(), func() error { return p.Process(d.pctx, msg) })
	}
}

// DispatchCallback routes a button press to the plugin named by the data
// prefix. Admission is checked against the chat the button lives in.
func (d *Dispatcher) DispatchCallback(cb *chat.Callback) {
	metricUpdates.WithLabelValues("callback").Inc()
	logger := d.logger.With(zap.Int64("chat_id", int64(cb.Message.Chat)), zap.String("data", cb.Data))
	defer d.pctx.ResetBypass()

	if !d.admitted(cb.Message.Chat) {
		metricDenied.Inc()
		logger.Warn("Rejected callback from unknown chat", zap.Int64("user_id", int64(cb.From.ID)))
		d.answer(cb, d.denial)
		return
	}

	name, key, ok := cb.Route()
	if !ok {
		logger.Warn("Dropping callback without plugin prefix")
		d.answer(cb, "")
		return
	}
	p, ok := d.byName[name]
	if !ok {
		logger.Warn("Dropping callback for unknown plugin", zap.String("plugin", name))
		d.answer(cb, "")
		return
	}
	cp, ok := p.(plugin.CallbackProcessor)
	if !ok {
		logger.Warn("Dropping callback for plugin without callback support", zap.String("plugin", name))
		d.answer(cb, "")
		return
	}
	d.invoke(name, func() error { return cp.ProcessCallback(d.pctx, cb, key) })
}

func (d *Dispatcher) admitted(id chat.ChatID) bool {
	return d.pctx.Guard != nil && d.pctx.Guard.IsAdmitted(id)
}

func (d *Dispatcher) answer(cb *chat.Callback, text string) {
	if err := d.pctx.Answer(cb, text); err != nil {
		d.logger.Error("Failed to answer callback", zap.String("callback_id", cb.ID), zap.Error(err))
	}
}

// invoke isolates one plugin call so a failure cannot stop the loop.
func (d *Dispatcher) invoke(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			metricPluginFailures.WithLabelValues(name, "panic").Inc()
			d.logger.Error("Plugin panicked",
				zap.String("plugin", name),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	if err := fn(); err != nil {
		metricPluginFailures.WithLabelValues(name, "error").Inc()
		d.logger.Error("Plugin failed", zap.String("plugin", name), zap.Error(err))
	}
}

// post queues a task for the dispatch loop. Tasks posted after the loop
// has exited are dropped.
func (d *Dispatcher) post(task func()) {
	select {
	case <-d.done:
		d.logger.Debug("Dropping task posted after shutdown")
		return
	default:
	}
	select {
	case d.tasks <- task:
		metricTasks.Inc()
	case <-d.done:
		d.logger.Debug("Dropping task posted after shutdown")
	}
}

// Run consumes updates from src and posted tasks until ctx is cancelled or
// the source closes. Stoppers are stopped, in reverse order, before Run
// returns. Run must be called at most once.
func (d *Dispatcher) Run(ctx context.Context, src chat.Source) error {
	updates, err := src.Updates(ctx)
	if err != nil {
		return fmt.Errorf("failed to start event source: %w", err)
	}

	held := d.pctx.Attach(ctx, d.post)
	d.running.Store(true)
	d.logger.Info("Dispatch loop started", zap.Strings("plugins", d.Plugins()), zap.Int("held_tasks", len(held)))

	defer func() {
		d.running.Store(false)
		d.stopPlugins()
		close(d.done)
		d.logger.Info("Dispatch loop stopped")
	}()

	for _, task := range held {
		d.runTask(task)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				d.logger.Warn("Event source closed")
				return nil
			}
			d.Dispatch(u)
		case task := <-d.tasks:
			d.runTask(task)
		}
	}
}

func (d *Dispatcher) runTask(task func()) {
	defer d.pctx.ResetBypass()
	d.invoke("task", func() error { task(); return nil })
}

func (d *Dispatcher) stopPlugins() {
	for i := len(d.plugins) - 1; i >= 0; i-- {
		p := d.plugins[i]
		if s, ok := p.(plugin.Stopper); ok {
			d.invoke(p.Name(), func() error { s.Stop(d.pctx); return nil })
		}
	}
}

// Reports collects Reporter output keyed by plugin name. While the loop is
// running the collection happens on the dispatch goroutine.
func (d *Dispatcher) Reports(ctx context.Context) (map[string]string, error) {
	if !d.running.Load() {
		return d.collectReports(), nil
	}
	result := make(chan map[string]string, 1)
	d.post(func() { result <- d.collectReports() })
	select {
	case r := <-result:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) collectReports() map[string]string {
	reports := make(map[string]string)
	for _, p := range d.plugins {
		if r, ok := p.(plugin.Reporter); ok {
			reports[p.Name()] = r.Report()
		}
	}
	return reports
}

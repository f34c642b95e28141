// Package tracker follows parcel shipments. Each tracked number gets its own
// background worker that polls the provider and reports new progress into
// the chat the /track command came from.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/worker"
	"github.com/shouya/fondbot/pkg/plugin"
)

const (
	// Name is the plugin name.
	Name = "tracker"

	// IndexKey lists the persisted tracking numbers; each shipment lives
	// under ShipmentKey(number).
	IndexKey = "tracker"
)

// ShipmentKey is the store key of one shipment snapshot.
func ShipmentKey(number string) string {
	return IndexKey + "." + number
}

// Tracker owns the pool of tracking workers.
type Tracker struct {
	pool    *worker.Pool[Shipment]
	fetcher Fetcher
	logger  *zap.Logger

	// base is the lifetime of every worker. Only Stop cancels it, after the
	// final persist.
	base   context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New creates the plugin, restores persisted shipments and starts the
// periodic persist loop.
func New(ctx *plugin.Context, fetcher Fetcher) (*Tracker, error) {
	cfg := ctx.Config.Tracker
	base, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		base:   base,
		cancel: cancel,
		pool: worker.NewPool[Shipment](worker.Config{
			Name:     Name,
			Interval: cfg.Interval,
			Clock:    ctx.Clock,
			Logger:   ctx.Logger,
		}),
		fetcher: fetcher,
		logger:  ctx.Logger.Named(Name),
		stop:    make(chan struct{}),
	}

	if err := t.restore(ctx); err != nil {
		cancel()
		return nil, err
	}

	if cfg.PersistInterval > 0 {
		ticker := ctx.Clock.NewTicker(cfg.PersistInterval)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-t.stop:
					return
				case <-ticker.C():
					ctx.Post(func() { t.persist(ctx) })
				}
			}
		}()
	}
	return t, nil
}

func (t *Tracker) Name() string { return Name }

func (t *Tracker) restore(ctx *plugin.Context) error {
	var numbers []string
	if _, err := ctx.Store.Load(IndexKey, &numbers); err != nil {
		return fmt.Errorf("failed to load tracker index: %w", err)
	}

	restored := 0
	for _, number := range numbers {
		var s Shipment
		found, err := ctx.Store.Load(ShipmentKey(number), &s)
		if err != nil {
			t.logger.Warn("Skipping unreadable shipment", zap.String("number", number), zap.Error(err))
			continue
		}
		if !found || s.Done {
			continue
		}
		b := newTracking(s, true, t.fetcher, ctx.Client, ctx.Clock, t.logger)
		if _, err := t.pool.Start(t.base, number, b); err != nil {
			t.logger.Warn("Failed to restore tracker", zap.String("number", number), zap.Error(err))
			continue
		}
		restored++
	}
	t.logger.Info("Trackers restored", zap.Int("restored", restored), zap.Int("indexed", len(numbers)))
	return nil
}

// persist writes a snapshot of every live worker and drops the keys of
// shipments that are no longer tracked.
func (t *Tracker) persist(ctx *plugin.Context) {
	snaps := t.pool.Snapshots(t.base)

	var previous []string
	if _, err := ctx.Store.Load(IndexKey, &previous); err != nil {
		t.logger.Warn("Failed to load tracker index", zap.Error(err))
	}

	numbers := make([]string, 0, len(snaps))
	for number, s := range snaps {
		if err := ctx.Store.Save(ShipmentKey(number), s); err != nil {
			t.logger.Error("Failed to persist shipment", zap.String("number", number), zap.Error(err))
			continue
		}
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)

	if err := ctx.Store.Save(IndexKey, numbers); err != nil {
		t.logger.Error("Failed to persist tracker index", zap.Error(err))
		return
	}
	for _, number := range previous {
		if _, ok := snaps[number]; ok {
			continue
		}
		if err := ctx.Store.Delete(ShipmentKey(number)); err != nil {
			t.logger.Warn("Failed to delete shipment", zap.String("number", number), zap.Error(err))
		}
	}
	t.logger.Debug("Trackers persisted", zap.Int("count", len(numbers)))
}

// Process handles the tracker commands.
func (t *Tracker) Process(ctx *plugin.Context, msg *chat.Message) error {
	cmd, arg, ok := msg.Command()
	if !ok {
		return nil
	}
	switch cmd {
	case "track":
		return t.track(ctx, msg, arg)
	case "untrack":
		return t.untrack(ctx, msg, arg)
	case "list_trackers":
		return t.reply(ctx, msg, t.list())
	case "query":
		return t.query(ctx, msg, arg)
	case "cleanup_trackers":
		listing := t.list()
		removed := t.pool.Cleanup(t.base)
		t.persist(ctx)
		return t.reply(ctx, msg, fmt.Sprintf("%s\n---\n%d entries removed.", listing, removed))
	}
	return nil
}

func (t *Tracker) reply(ctx *plugin.Context, msg *chat.Message, text string) error {
	out := chat.ReplyTo(msg, text)
	out.Markdown = true
	_, err := ctx.Send(out)
	return err
}

func (t *Tracker) track(ctx *plugin.Context, msg *chat.Message, number string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		_, err := ctx.Reply(msg, "Usage: /track <tracking_no>")
		return err
	}

	s := Shipment{Number: number, Origin: msg.Ref()}
	b := newTracking(s, false, t.fetcher, ctx.Client, ctx.Clock, t.logger)
	h, err := t.pool.Start(t.base, number, b)
	if err != nil {
		t.logger.Warn("Failed to start tracking", zap.String("number", number), zap.Error(err))
		_, rerr := ctx.Reply(msg, fmt.Sprintf("Failed to track %s: %v", number, err))
		return rerr
	}
	if err := h.ForceReport(t.base); err != nil {
		t.logger.Warn("Failed to send first report", zap.String("number", number), zap.Error(err))
	}
	t.persist(ctx)
	return nil
}

func (t *Tracker) untrack(ctx *plugin.Context, msg *chat.Message, number string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		_, err := ctx.Reply(msg, "Usage: /untrack <tracking_no>")
		return err
	}
	ok, err := t.pool.Stop(t.base, number)
	if err != nil {
		return fmt.Errorf("failed to stop tracker %s: %w", number, err)
	}
	if !ok {
		_, err := ctx.Reply(msg, number+" is not being tracked")
		return err
	}
	t.persist(ctx)
	_, err = ctx.Reply(msg, "Stopped tracking "+number)
	return err
}

func (t *Tracker) query(ctx *plugin.Context, msg *chat.Message, number string) error {
	number = strings.TrimSpace(number)
	h, ok := t.pool.Get(number)
	if number == "" || !ok {
		_, err := ctx.Reply(msg, "Usage: /query <tracking_no> (one of /list_trackers)")
		return err
	}
	err := h.ForceReport(t.base)
	if errors.Is(err, worker.ErrWorkerDead) {
		_, err := ctx.Reply(msg, number+" has finished, use /cleanup_trackers to remove it")
		return err
	}
	return err
}

func (t *Tracker) list() string {
	ids := t.pool.IDs()
	if len(ids) == 0 {
		return "No trackers"
	}
	var b strings.Builder
	for _, id := range ids {
		state := "[dead ]"
		if h, ok := t.pool.Get(id); ok && h.Alive() {
			state = "[alive]"
		}
		fmt.Fprintf(&b, "`%s`\t%s\n", id, state)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Report summarizes the pool for /status.
func (t *Tracker) Report() string {
	alive := 0
	for _, id := range t.pool.IDs() {
		if h, ok := t.pool.Get(id); ok && h.Alive() {
			alive++
		}
	}
	return fmt.Sprintf("%d trackers, %d alive", t.pool.Len(), alive)
}

// Stop halts the persist loop, saves the current state and quits every worker.
func (t *Tracker) Stop(ctx *plugin.Context) {
	t.stopOnce.Do(func() { close(t.stop) })
	t.wg.Wait()
	t.persist(ctx)
	t.pool.StopAll(t.base)
	t.cancel()
}

// Package reminder lets users schedule one-off reminders through a short
// dialogue: content first, then a time picked with buttons or typed.
package reminder

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/clock"
	"github.com/shouya/fondbot/internal/interaction"
	"github.com/shouya/fondbot/internal/suntime"
	"github.com/shouya/fondbot/pkg/plugin"
)

const (
	// Name is the plugin name and callback namespace.
	Name = "reminder"

	// StoreKey holds the pending reminders.
	StoreKey = "reminders"

	timeLayout = "Mon Jan 2 15:04"
)

// Reminder is a scheduled alert. Delivered guards against firing twice.
type Reminder struct {
	ID        uuid.UUID       `json:"id"`
	FireAt    time.Time       `json:"remind_at"`
	SetAt     time.Time       `json:"set_at"`
	Content   string          `json:"content"`
	Origin    chat.MessageRef `json:"origin"`
	Delivered bool            `json:"delivered"`
}

// listing remembers what the last /list_reminders showed in a chat, so that
// /del_N refers to what the user saw.
type listing struct {
	ref chat.MessageRef
	ids []uuid.UUID
}

// Pool owns pending reminders and their timers. Every method runs on the
// dispatch goroutine; timers hand firing back through Context.Post.
type Pool struct {
	engine   *interaction.Engine
	pending  map[uuid.UUID]*Reminder
	timers   map[uuid.UUID]clock.Timer
	listings map[chat.ChatID]*listing
	logger   *zap.Logger
}

// NewPool restores persisted reminders, dropping delivered and past ones,
// and arms a timer for each of the rest.
func NewPool(ctx *plugin.Context) (*Pool, error) {
	cfg := ctx.Config.Reminder
	engineCfg := interaction.Config{
		Namespace:     Name,
		Subject:       "Reminder",
		ContentPrompt: "What do you want to be reminded about?",
		CommittedText: "Reminder set",
		MinLead:       cfg.MinLead,
		TTL:           cfg.SessionTTL,
		Location:      ctx.Location,
	}
	if cfg.Latitude != 0 || cfg.Longitude != 0 {
		engineCfg.Sun = suntime.NewCalculator(cfg.Latitude, cfg.Longitude)
	}

	p := &Pool{
		engine:   interaction.NewEngine(engineCfg, ctx.Clock, ctx.Logger),
		pending:  make(map[uuid.UUID]*Reminder),
		timers:   make(map[uuid.UUID]clock.Timer),
		listings: make(map[chat.ChatID]*listing),
		logger:   ctx.Logger.Named(Name),
	}

	var stored []Reminder
	if _, err := ctx.Store.Load(StoreKey, &stored); err != nil {
		return nil, fmt.Errorf("failed to load reminders: %w", err)
	}

	now := ctx.Clock.Now()
	dropped := 0
	for i := range stored {
		r := stored[i]
		if r.Delivered || !r.FireAt.After(now) {
			dropped++
			continue
		}
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		p.pending[r.ID] = &r
		p.arm(ctx, &r)
	}
	p.logger.Info("Reminders restored", zap.Int("pending", len(p.pending)), zap.Int("dropped", dropped))

	if dropped > 0 {
		if err := p.save(ctx); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pool) Name() string { return Name }

// Pending returns the pending reminders ordered by fire time.
func (p *Pool) Pending() []Reminder {
	out := make([]Reminder, 0, len(p.pending))
	for _, r := range p.pending {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].SetAt.Before(out[j].SetAt)
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

func (p *Pool) pendingIn(id chat.ChatID) []Reminder {
	var out []Reminder
	for _, r := range p.Pending() {
		if r.Origin.Chat == id {
			out = append(out, r)
		}
	}
	return out
}

func (p *Pool) save(ctx *plugin.Context) error {
	if err := ctx.Store.Save(StoreKey, p.Pending()); err != nil {
		return fmt.Errorf("failed to persist reminders: %w", err)
	}
	return nil
}

func (p *Pool) arm(ctx *plugin.Context, r *Reminder) {
	id := r.ID
	delay := r.FireAt.Sub(ctx.Clock.Now())
	p.timers[id] = ctx.Clock.AfterFunc(delay, func() {
		ctx.Post(func() { p.fire(ctx, id) })
	})
}

// fire delivers a reminder at most once.
func (p *Pool) fire(ctx *plugin.Context, id uuid.UUID) {
	r, ok := p.pending[id]
	if !ok || r.Delivered {
		p.logger.Debug("Skipping reminder already handled", zap.String("id", id.String()))
		return
	}
	r.Delivered = true
	delete(p.pending, id)
	delete(p.timers, id)
	if err := p.save(ctx); err != nil {
		p.logger.Error("Failed to persist after firing", zap.Error(err))
	}

	_, err := ctx.Send(chat.Outgoing{
		Chat:    r.Origin.Chat,
		ReplyTo: r.Origin.ID,
		Text:    p.alertText(ctx, r),
	})
	if err != nil {
		p.logger.Error("Failed to deliver reminder",
			zap.String("id", id.String()),
			zap.Int64("chat_id", int64(r.Origin.Chat)),
			zap.Error(err))
		return
	}
	p.logger.Info("Reminder delivered", zap.String("id", id.String()), zap.Int64("chat_id", int64(r.Origin.Chat)))
}

func (p *Pool) alertText(ctx *plugin.Context, r *Reminder) string {
	now := ctx.Clock.Now()
	lines := []string{
		"It's time for " + r.Content,
		fmt.Sprintf("Set at: %s (%s)", r.SetAt.In(ctx.Location).Format(timeLayout), humanize.RelTime(r.SetAt, now, "ago", "from now")),
		"Alert at: " + r.FireAt.In(ctx.Location).Format(timeLayout),
	}
	return strings.Join(lines, "\n")
}

// schedule turns a committed dialogue into a pending reminder. It is armed
// even when persisting fails; the next save or Stop writes it out.
func (p *Pool) schedule(ctx *plugin.Context, s interaction.Session) *Reminder {
	r := &Reminder{
		ID:      s.ID,
		FireAt:  s.Target,
		SetAt:   ctx.Clock.Now(),
		Content: s.Content,
		Origin:  s.Origin,
	}
	p.pending[r.ID] = r
	p.arm(ctx, r)
	if err := p.save(ctx); err != nil {
		p.logger.Error("Failed to persist new reminder", zap.String("id", r.ID.String()), zap.Error(err))
	}
	p.logger.Info("Reminder scheduled",
		zap.String("id", r.ID.String()),
		zap.Time("fire_at", r.FireAt),
		zap.Int64("chat_id", int64(r.Origin.Chat)))
	return r
}

// cancel removes a pending reminder and stops its timer.
func (p *Pool) cancel(ctx *plugin.Context, id uuid.UUID) (*Reminder, bool, error) {
	r, ok := p.pending[id]
	if !ok {
		return nil, false, nil
	}
	r.Delivered = true
	delete(p.pending, id)
	if t, ok := p.timers[id]; ok {
		t.Stop()
		delete(p.timers, id)
	}
	return r, true, p.save(ctx)
}

// Process handles the reminder commands and replies to its prompts.
func (p *Pool) Process(ctx *plugin.Context, msg *chat.Message) error {
	p.engine.Sweep()

	cmd, arg, isCmd := msg.Command()
	switch {
	case isCmd && cmd == "remind_me":
		_, err := p.engine.Start(ctx, msg, arg)
		return err
	case isCmd && cmd == "list_reminders":
		return p.list(ctx, msg)
	case isCmd && strings.HasPrefix(cmd, "del_"):
		return p.delete(ctx, msg, strings.TrimPrefix(cmd, "del_"))
	}

	_, err := p.engine.HandleReply(ctx, msg)
	return err
}

// ProcessCallback handles the time prompt buttons.
func (p *Pool) ProcessCallback(ctx *plugin.Context, cb *chat.Callback, key string) error {
	ready, err := p.engine.HandleCallback(ctx, cb, key)
	if err != nil || !ready {
		return err
	}
	s, ok := p.engine.TakeReady(cb.Message.Chat)
	if !ok {
		return nil
	}
	p.schedule(ctx, s)
	return nil
}

// renderListing prints the reminders behind ids that are still pending,
// numbered by their position in ids.
func (p *Pool) renderListing(ctx *plugin.Context, ids []uuid.UUID) string {
	var lines []string
	for i, id := range ids {
		r, ok := p.pending[id]
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s (/del_%d)", r.FireAt.In(ctx.Location).Format(timeLayout), r.Content, i))
	}
	header := fmt.Sprintf("Reminders (%d)\n----------", len(lines))
	if len(lines) == 0 {
		return header + "\nno reminders"
	}
	return header + "\n" + strings.Join(lines, "\n")
}

func (p *Pool) list(ctx *plugin.Context, msg *chat.Message) error {
	l := &listing{}
	for _, r := range p.pendingIn(msg.Chat) {
		l.ids = append(l.ids, r.ID)
	}
	ref, err := ctx.Send(chat.Text(msg.Chat, p.renderListing(ctx, l.ids)))
	if err != nil {
		return fmt.Errorf("failed to send listing: %w", err)
	}
	l.ref = ref
	p.listings[msg.Chat] = l
	return nil
}

func (p *Pool) delete(ctx *plugin.Context, msg *chat.Message, suffix string) error {
	l, ok := p.listings[msg.Chat]
	if !ok {
		_, err := ctx.Reply(msg, "Please /list_reminders first")
		return err
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 || n >= len(l.ids) || l.ids[n] == uuid.Nil {
		_, err := ctx.Reply(msg, "Invalid index, please try another one")
		return err
	}

	r, found, err := p.cancel(ctx, l.ids[n])
	if err != nil {
		return err
	}
	if !found {
		_, err := ctx.Reply(msg, "That reminder already went off")
		return err
	}
	// Keep the indices the user saw stable for further deletions.
	l.ids[n] = uuid.Nil
	if _, err := ctx.Reply(msg, "Deleted: "+r.Content); err != nil {
		return err
	}
	return ctx.Edit(l.ref, chat.Outgoing{Text: p.renderListing(ctx, l.ids)})
}

// Report summarizes the pool for /status.
func (p *Pool) Report() string {
	next := "none"
	if pending := p.Pending(); len(pending) > 0 {
		next = pending[0].FireAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("%d pending, next at %s, %d open dialogues", len(p.pending), next, p.engine.Active())
}

// Stop disarms every timer and persists the pool.
func (p *Pool) Stop(ctx *plugin.Context) {
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
	if err := p.save(ctx); err != nil {
		p.logger.Error("Failed to persist reminders on shutdown", zap.Error(err))
	}
}

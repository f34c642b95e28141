// Package afk lets a user mark themselves away from keyboard. While someone
// is away, messages in the chat get an occasional notice and skip every
// plugin that comes after this one.
package afk

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/pkg/plugin"
)

const (
	Name     = "afk"
	StoreKey = "afk"

	// NotifyInterval is the minimum gap between two AFK notices.
	NotifyInterval = 60 * time.Second

	timeLayout = "Mon Jan 2 15:04"
)

// State describes the current AFK user.
type State struct {
	AfkAt      time.Time   `json:"afk_at"`
	Reason     string      `json:"reason,omitempty"`
	LastNotify time.Time   `json:"last_notify"`
	UserID     chat.UserID `json:"user_id"`
	UserName   string      `json:"user_name"`
}

type persisted struct {
	State *State `json:"state"`
}

// Afk is the plugin. A nil state means nobody is away.
type Afk struct {
	state   *State
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New restores the AFK state from the store.
func New(ctx *plugin.Context) (*Afk, error) {
	a := &Afk{logger: ctx.Logger.Named(Name)}

	var p persisted
	if _, err := ctx.Store.Load(StoreKey, &p); err != nil {
		return nil, fmt.Errorf("failed to load afk state: %w", err)
	}
	if p.State != nil {
		a.state = p.State
		a.limiter = newLimiter()
		if !p.State.LastNotify.IsZero() {
			a.limiter.AllowN(p.State.LastNotify, 1)
		}
		a.logger.Info("AFK state restored", zap.String("user", p.State.UserName))
	}
	return a, nil
}

func newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(NotifyInterval), 1)
}

func (a *Afk) Name() string { return Name }

// Away reports whether someone is AFK.
func (a *Afk) Away() bool { return a.state != nil }

func (a *Afk) save(ctx *plugin.Context) error {
	if err := ctx.Store.Save(StoreKey, persisted{State: a.state}); err != nil {
		return fmt.Errorf("failed to persist afk state: %w", err)
	}
	return nil
}

// Process handles /afk and /noafk, and notices messages while someone is away.
func (a *Afk) Process(ctx *plugin.Context, msg *chat.Message) error {
	cmd, arg, isCmd := msg.Command()
	switch {
	case isCmd && cmd == "afk":
		return a.set(ctx, msg, arg)
	case !a.Away():
		return nil
	case isCmd && cmd == "noafk":
		a.state = nil
		a.limiter = nil
		if err := a.save(ctx); err != nil {
			return err
		}
		_, err := ctx.Reply(msg, "Afk unset")
		return err
	}

	ctx.SetBypass()
	return a.notify(ctx, msg)
}

func (a *Afk) set(ctx *plugin.Context, msg *chat.Message, reason string) error {
	name := msg.From.FirstName
	if ctx.Names != nil {
		name = ctx.Names.Resolve(msg.From)
	}
	a.state = &State{
		AfkAt:    ctx.Clock.Now(),
		Reason:   strings.TrimSpace(reason),
		UserID:   msg.From.ID,
		UserName: name,
	}
	a.limiter = newLimiter()
	if err := a.save(ctx); err != nil {
		return err
	}
	a.logger.Info("AFK set", zap.String("user", name), zap.String("reason", a.state.Reason))
	_, err := ctx.Reply(msg, "Afk set")
	return err
}

func (a *Afk) notify(ctx *plugin.Context, msg *chat.Message) error {
	now := ctx.Clock.Now()
	if !a.limiter.AllowN(now, 1) {
		a.logger.Debug("AFK notice suppressed", zap.Int64("chat_id", int64(msg.Chat)))
		return nil
	}
	a.state.LastNotify = now
	if err := a.save(ctx); err != nil {
		return err
	}

	reason := a.state.Reason
	if reason == "" {
		reason = "[not given]"
	}
	text := fmt.Sprintf("%s is *AFK* now.\nAFK set time: _%s, %s_\n*Reason*: %s",
		a.state.UserName,
		a.state.AfkAt.In(ctx.Location).Format(timeLayout),
		humanize.RelTime(a.state.AfkAt, now, "ago", "from now"),
		reason)

	out := chat.ReplyTo(msg, text)
	out.Markdown = true
	_, err := ctx.Send(out)
	return err
}

// Report implements plugin.Reporter.
func (a *Afk) Report() string {
	if a.state == nil {
		return "nobody is AFK"
	}
	return fmt.Sprintf("%s is AFK since %s", a.state.UserName, a.state.AfkAt.Format(time.RFC3339))
}

package interaction

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/clock"
	"github.com/shouya/fondbot/internal/suntime"
)

// Messenger is the outbound surface the engine needs. *plugin.Context
// satisfies it.
type Messenger interface {
	Send(out chat.Outgoing) (chat.MessageRef, error)
	Edit(ref chat.MessageRef, out chat.Outgoing) error
	Answer(cb *chat.Callback, text string) error
}

// Config parameterizes an Engine.
type Config struct {
	// Namespace prefixes callback data; it must be the owning plugin's name.
	Namespace string

	// Subject labels the content in prompts, e.g. "Reminder".
	Subject string

	// ContentPrompt asks for the content when the trigger carried none.
	ContentPrompt string

	// CommittedText is the callback toast shown on a successful commit.
	CommittedText string

	// MinLead is how far past now a candidate must be to commit.
	MinLead time.Duration

	// TTL expires sessions that have not been touched for this long.
	TTL time.Duration

	Location *time.Location

	// Sun enables the sunrise and sunset buttons when set.
	Sun *suntime.Calculator
}

const (
	textExpired  = "This prompt has expired."
	textInvalid  = "Unknown option."
	textTooSoon  = "Too soon"
	textNoSun    = "No sunrise or sunset coming up here."
	timeLayout   = "Mon Jan 2 15:04"
	emptyContent = "I need some text for this. What should it say?"
)

// Engine holds at most one session per chat.
type Engine struct {
	cfg      Config
	clock    clock.Clock
	sessions map[chat.ChatID]*Session
	logger   *zap.Logger
}

// NewEngine creates an engine. It must only be used from the dispatch goroutine.
func NewEngine(cfg Config, clk clock.Clock, logger *zap.Logger) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Subject == "" {
		cfg.Subject = "Item"
	}
	if cfg.ContentPrompt == "" {
		cfg.ContentPrompt = "What is it about?"
	}
	if cfg.CommittedText == "" {
		cfg.CommittedText = "Saved"
	}
	return &Engine{
		cfg:      cfg,
		clock:    clk,
		sessions: make(map[chat.ChatID]*Session),
		logger:   logger.Named("interaction"),
	}
}

func (e *Engine) now() time.Time {
	return e.clock.Now().In(e.cfg.Location)
}

// lookup returns the live session for a chat, dropping it if expired.
func (e *Engine) lookup(id chat.ChatID) (*Session, bool) {
	s, ok := e.sessions[id]
	if !ok {
		return nil, false
	}
	if s.expired(e.now(), e.cfg.TTL) {
		e.logger.Debug("Session expired",
			zap.Int64("chat_id", int64(id)),
			zap.String("session", s.ID.String()),
			zap.Stringer("stage", s.Stage))
		delete(e.sessions, id)
		return nil, false
	}
	return s, true
}

// Session returns a copy of the live session for a chat.
func (e *Engine) Session(id chat.ChatID) (Session, bool) {
	s, ok := e.lookup(id)
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Active counts live sessions.
func (e *Engine) Active() int {
	e.Sweep()
	return len(e.sessions)
}

// Sweep drops expired sessions and returns how many were dropped.
func (e *Engine) Sweep() int {
	now := e.now()
	n := 0
	for id, s := range e.sessions {
		if s.expired(now, e.cfg.TTL) {
			delete(e.sessions, id)
			n++
		}
	}
	return n
}

// Cancel discards the session for a chat.
func (e *Engine) Cancel(id chat.ChatID) bool {
	_, ok := e.sessions[id]
	delete(e.sessions, id)
	return ok
}

// Start begins a dialogue for msg, replacing any session already in flight
// for the chat. With inline content the time prompt is sent right away.
func (e *Engine) Start(m Messenger, msg *chat.Message, inline string) (Session, error) {
	now := e.now()
	if old, ok := e.sessions[msg.Chat]; ok {
		e.logger.Info("Replacing in-flight session",
			zap.Int64("chat_id", int64(msg.Chat)),
			zap.String("session", old.ID.String()),
			zap.Stringer("stage", old.Stage))
	}

	s := &Session{
		ID:        uuid.New(),
		Origin:    msg.Ref(),
		From:      msg.From,
		Stage:     AwaitingContent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.sessions[msg.Chat] = s

	inline = strings.TrimSpace(inline)
	if inline == "" {
		ref, err := m.Send(chat.Outgoing{
			Chat:       msg.Chat,
			ReplyTo:    msg.ID,
			Text:       e.cfg.ContentPrompt,
			ForceReply: true,
		})
		if err != nil {
			delete(e.sessions, msg.Chat)
			return Session{}, fmt.Errorf("failed to send content prompt: %w", err)
		}
		s.Prompt = ref
		return *s, nil
	}

	if err := e.enterTimeStage(m, s, msg, inline, now); err != nil {
		delete(e.sessions, msg.Chat)
		return Session{}, err
	}
	return *s, nil
}

func (e *Engine) enterTimeStage(m Messenger, s *Session, msg *chat.Message, content string, now time.Time) error {
	s.Content = content
	s.Stage = AwaitingTime
	s.Base = now
	s.Candidate = now
	s.UpdatedAt = now

	out := e.timePrompt(s, "")
	out.Chat = msg.Chat
	out.ReplyTo = msg.ID
	ref, err := m.Send(out)
	if err != nil {
		return fmt.Errorf("failed to send time prompt: %w", err)
	}
	s.Prompt = ref
	return nil
}

// HandleReply consumes a message replying to the session's prompt.
// handled is false when the message is not part of a dialogue.
func (e *Engine) HandleReply(m Messenger, msg *chat.Message) (handled bool, err error) {
	s, ok := e.lookup(msg.Chat)
	if !ok || !msg.IsReplyTo(s.Prompt) {
		return false, nil
	}
	now := e.now()

	switch s.Stage {
	case AwaitingContent:
		content := strings.TrimSpace(msg.Text)
		if content == "" {
			ref, err := m.Send(chat.Outgoing{
				Chat:       msg.Chat,
				ReplyTo:    msg.ID,
				Text:       emptyContent,
				ForceReply: true,
			})
			if err != nil {
				return true, fmt.Errorf("failed to re-prompt for content: %w", err)
			}
			s.Prompt = ref
			s.UpdatedAt = now
			return true, nil
		}
		return true, e.enterTimeStage(m, s, msg, content, now)

	case AwaitingTime:
		t, perr := parseReplyTime(msg.Text, now)
		if perr != nil {
			_, err := m.Send(chat.ReplyTo(msg, "Sorry, "+perr.Error()+"."))
			return true, err
		}
		s.Candidate = t
		s.UpdatedAt = now
		return true, m.Edit(s.Prompt, e.timePrompt(s, ""))
	}
	return false, nil
}

// HandleCallback applies a button press on the time prompt. ready reports
// whether the press committed the session.
func (e *Engine) HandleCallback(m Messenger, cb *chat.Callback, key string) (ready bool, err error) {
	s, ok := e.lookup(cb.Message.Chat)
	if !ok || s.Stage != AwaitingTime || s.Prompt != cb.Message {
		return false, m.Answer(cb, textExpired)
	}

	k, perr := parseKey(key)
	if perr != nil {
		e.logger.Warn("Ignoring malformed callback key", zap.String("key", key), zap.Error(perr))
		return false, m.Answer(cb, textInvalid)
	}

	now := e.now()
	s.UpdatedAt = now

	switch k.kind {
	case keyCommit:
		if !s.Candidate.After(now.Add(e.cfg.MinLead)) {
			note := fmt.Sprintf("That is too soon. Pick a time at least %s from now.", humanizeLead(e.cfg.MinLead))
			if err := m.Edit(s.Prompt, e.timePrompt(s, note)); err != nil {
				return false, err
			}
			return false, m.Answer(cb, textTooSoon)
		}
		s.Target = s.Candidate
		s.Stage = Ready
		if err := m.Edit(s.Prompt, chat.Outgoing{Text: e.confirmation(s)}); err != nil {
			e.logger.Warn("Failed to edit prompt into confirmation", zap.Error(err))
		}
		return true, m.Answer(cb, e.cfg.CommittedText)

	case keyReset:
		s.Candidate = s.Base
	case keyDelta:
		s.Candidate = s.Candidate.Add(k.delta)
	case keyAt:
		s.Candidate = atClock(now, k.hour, k.min)
	case keyAtTomorrow:
		s.Candidate = atClock(now.AddDate(0, 0, 1), k.hour, k.min)
	case keySun:
		if e.cfg.Sun == nil {
			return false, m.Answer(cb, textInvalid)
		}
		event := suntime.Sunrise
		if k.sun == "set" {
			event = suntime.Sunset
		}
		t, ok := e.cfg.Sun.Next(event, now)
		if !ok {
			return false, m.Answer(cb, textNoSun)
		}
		s.Candidate = t
	}

	if err := m.Edit(s.Prompt, e.timePrompt(s, "")); err != nil {
		return false, err
	}
	return false, m.Answer(cb, "")
}

// TakeReady removes and returns the committed session for a chat. A session
// can be taken once.
func (e *Engine) TakeReady(id chat.ChatID) (Session, bool) {
	s, ok := e.sessions[id]
	if !ok || s.Stage != Ready {
		return Session{}, false
	}
	delete(e.sessions, id)
	return *s, true
}

func (e *Engine) describe(t time.Time) string {
	return fmt.Sprintf("%s (%s)", t.In(e.cfg.Location).Format(timeLayout),
		humanize.RelTime(t, e.now(), "ago", "from now"))
}

func (e *Engine) timePrompt(s *Session, note string) chat.Outgoing {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", e.cfg.Subject, s.Content)
	fmt.Fprintf(&b, "When: %s", e.describe(s.Candidate))
	if note != "" {
		b.WriteString("\n\n")
		b.WriteString(note)
	}
	return chat.Outgoing{Text: b.String(), Keyboard: e.keyboard()}
}

func (e *Engine) confirmation(s *Session) string {
	return fmt.Sprintf("%s: %s\nScheduled for %s", e.cfg.Subject, s.Content, e.describe(s.Target))
}

func (e *Engine) button(label, key string) chat.Button {
	return chat.Button{Label: label, Data: chat.CallbackData(e.cfg.Namespace, key)}
}

func (e *Engine) keyboard() chat.Keyboard {
	kb := chat.Keyboard{
		{e.button("+5m", deltaKey(5, "min")), e.button("+10m", deltaKey(10, "min")), e.button("+30m", deltaKey(30, "min"))},
		{e.button("+1h", deltaKey(1, "hr")), e.button("+2h", deltaKey(2, "hr")), e.button("+4h", deltaKey(4, "hr"))},
		{e.button("+1d", deltaKey(1, "day")), e.button("-1h", deltaKey(-1, "hr")), e.button("-5m", deltaKey(-5, "min"))},
		{e.button("12:00", "at/12:00"), e.button("17:00", "at/17:00"), e.button("20:00", "at/20:00"), e.button("22:00", "at/22:00")},
		{e.button("Tmr 08:00", "at+/08:00"), e.button("Tmr 10:00", "at+/10:00"), e.button("Tmr 20:00", "at+/20:00")},
	}
	if e.cfg.Sun != nil {
		kb = append(kb, []chat.Button{e.button("Sunrise", "sun/rise"), e.button("Sunset", "sun/set")})
	}
	return append(kb, []chat.Button{e.button("Reset", KeyReset), e.button("Set", KeyCommit)})
}

func humanizeLead(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	return d.String()
}

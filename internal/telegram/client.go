// Package telegram adapts the Telegram Bot API to chat.Client and chat.Source.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shouya/fondbot/internal/chat"
)

const DefaultBaseURL = "https://api.telegram.org"

type Config struct {
	Token   string
	BaseURL string
	// PollTimeout is the long-poll timeout passed to getUpdates.
	PollTimeout time.Duration
	// RetryDelay is the pause after a failed poll.
	RetryDelay time.Duration
	// RatePerSecond caps outbound calls. Zero disables the limit.
	RatePerSecond float64
	HTTPClient    *http.Client
}

// Client talks to the Bot API. It is safe for concurrent use.
type Client struct {
	http        *http.Client
	baseURL     string
	token       string
	pollTimeout time.Duration
	retryDelay  time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger

	mu    sync.Mutex
	botID int64
}

var (
	_ chat.Client = (*Client)(nil)
	_ chat.Source = (*Client)(nil)
)

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.PollTimeout + 15*time.Second}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Client{
		http:        cfg.HTTPClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		pollTimeout: cfg.PollTimeout,
		retryDelay:  cfg.RetryDelay,
		limiter:     limiter,
		logger:      logger.Named("telegram"),
	}
}

func (c *Client) Send(ctx context.Context, out chat.Outgoing) (chat.MessageRef, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return chat.MessageRef{}, err
	}
	req := buildRequest(out)
	var sent apiMessage
	if err := c.call(ctx, "sendMessage", req, &sent); err != nil {
		return chat.MessageRef{}, err
	}
	return chat.MessageRef{Chat: chat.ChatID(sent.Chat.ID), ID: chat.MessageID(sent.MessageID)}, nil
}

// Edit replaces a message's text and keyboard. Editing to identical content
// is not an error.
func (c *Client) Edit(ctx context.Context, ref chat.MessageRef, out chat.Outgoing) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req := buildRequest(out)
	req.ChatID = int64(ref.Chat)
	req.MessageID = int64(ref.ID)
	req.ReplyToMessageID = 0
	if req.ReplyMarkup != nil && req.ReplyMarkup.ForceReply {
		req.ReplyMarkup = nil
	}
	err := c.call(ctx, "editMessageText", req, nil)
	if isNotModified(err) {
		return nil
	}
	return err
}

func (c *Client) Answer(ctx context.Context, callbackID string, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: callbackID, Text: text}, nil)
}

func buildRequest(out chat.Outgoing) sendMessageRequest {
	req := sendMessageRequest{
		ChatID:           int64(out.Chat),
		Text:             out.Text,
		ReplyToMessageID: int64(out.ReplyTo),
	}
	if out.Markdown {
		req.ParseMode = "Markdown"
	}
	switch {
	case len(out.Keyboard) > 0:
		rows := make([][]inlineButton, 0, len(out.Keyboard))
		for _, row := range out.Keyboard {
			buttons := make([]inlineButton, 0, len(row))
			for _, b := range row {
				buttons = append(buttons, inlineButton{Text: b.Label, CallbackData: b.Data})
			}
			rows = append(rows, buttons)
		}
		req.ReplyMarkup = &replyMarkup{InlineKeyboard: rows}
	case out.ForceReply:
		req.ReplyMarkup = &replyMarkup{ForceReply: true, Selective: true}
	}
	return req
}

// Updates learns the bot's own id with getMe, then long-polls getUpdates
// until ctx is done. Poll failures are logged and retried.
func (c *Client) Updates(ctx context.Context) (<-chan chat.Update, error) {
	var me apiUser
	if err := c.call(ctx, "getMe", struct{}{}, &me); err != nil {
		return nil, fmt.Errorf("failed to identify bot: %w", err)
	}
	c.mu.Lock()
	c.botID = me.ID
	c.mu.Unlock()
	c.logger.Info("Connected to Telegram",
		zap.Int64("bot_id", me.ID),
		zap.String("username", me.Username))

	out := make(chan chat.Update, 64)
	go c.poll(ctx, out)
	return out, nil
}

func (c *Client) poll(ctx context.Context, out chan<- chat.Update) {
	defer close(out)
	var offset int64
	for ctx.Err() == nil {
		var updates []apiUpdate
		req := getUpdatesRequest{
			Offset:         offset,
			Timeout:        int(c.pollTimeout / time.Second),
			AllowedUpdates: []string{"message", "callback_query"},
		}
		if err := c.call(ctx, "getUpdates", req, &updates); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Failed to poll updates", zap.Error(err), zap.Duration("retry_in", c.retryDelay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			update, ok := c.convert(u)
			if !ok {
				continue
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}
}

// convert maps an API update onto chat.Update. Messages without text, such
// as photos or stickers, are kept with an empty Text so that dialogues can
// re-prompt for them.
func (c *Client) convert(u apiUpdate) (chat.Update, bool) {
	switch {
	case u.Message != nil:
		return chat.Update{Message: c.convertMessage(u.Message)}, true
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		cb := &chat.Callback{ID: q.ID, From: convertUser(&q.From), Data: q.Data}
		if q.Message != nil {
			cb.Message = chat.MessageRef{Chat: chat.ChatID(q.Message.Chat.ID), ID: chat.MessageID(q.Message.MessageID)}
		}
		return chat.Update{Callback: cb}, true
	}
	return chat.Update{}, false
}

func (c *Client) convertMessage(m *apiMessage) *chat.Message {
	msg := &chat.Message{
		Chat: chat.ChatID(m.Chat.ID),
		ID:   chat.MessageID(m.MessageID),
		Date: time.Unix(m.Date, 0),
		Text: m.Text,
	}
	if m.From != nil {
		msg.From = convertUser(m.From)
	}
	if m.ReplyTo != nil {
		msg.ReplyTo = &chat.MessageRef{Chat: chat.ChatID(m.ReplyTo.Chat.ID), ID: chat.MessageID(m.ReplyTo.MessageID)}
		if m.ReplyTo.Chat.ID == 0 {
			msg.ReplyTo.Chat = msg.Chat
		}
		c.mu.Lock()
		botID := c.botID
		c.mu.Unlock()
		msg.ReplyToBot = m.ReplyTo.From != nil && m.ReplyTo.From.ID == botID
	}
	return msg
}

func convertUser(u *apiUser) chat.User {
	return chat.User{ID: chat.UserID(u.ID), FirstName: u.FirstName, Username: u.Username}
}

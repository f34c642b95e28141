// Package chat defines the platform-neutral event and outbound message types
// shared by the dispatcher, the plugins and the platform adapters.
package chat

import (
	"strings"
	"time"
)

type (
	ChatID    int64
	MessageID int64
	UserID    int64
)

// MessageRef identifies a message previously sent or received.
type MessageRef struct {
	Chat ChatID    `json:"chat_id"`
	ID   MessageID `json:"message_id"`
}

// IsZero reports whether the ref points nowhere.
func (r MessageRef) IsZero() bool {
	return r.Chat == 0 && r.ID == 0
}

type User struct {
	ID        UserID `json:"id"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Message is an inbound text message.
type Message struct {
	Chat ChatID    `json:"chat_id"`
	ID   MessageID `json:"message_id"`
	From User      `json:"from"`
	Date time.Time `json:"date"`
	Text string    `json:"text,omitempty"`

	// ReplyTo is set when the message replies to another message.
	ReplyTo *MessageRef `json:"reply_to,omitempty"`
	// ReplyToBot is set when the replied-to message was authored by the bot.
	ReplyToBot bool `json:"reply_to_bot,omitempty"`
}

func (m *Message) Ref() MessageRef {
	return MessageRef{Chat: m.Chat, ID: m.ID}
}

// IsReplyTo reports whether m replies to the bot message ref.
func (m *Message) IsReplyTo(ref MessageRef) bool {
	return m.ReplyToBot && m.ReplyTo != nil && *m.ReplyTo == ref
}

// Callback is a press on an inline keyboard button attached to a bot message.
type Callback struct {
	ID      string     `json:"id"`
	From    User       `json:"from"`
	Message MessageRef `json:"message"`
	Data    string     `json:"data"`
}

// Route splits callback data of the form "<plugin>.<key>" at the first dot.
// ok is false when the data has no plugin prefix.
func (c *Callback) Route() (plugin, key string, ok bool) {
	plugin, key, ok = strings.Cut(c.Data, ".")
	if !ok || plugin == "" {
		return "", "", false
	}
	return plugin, key, true
}

// CallbackData builds button data routed to the named plugin.
func CallbackData(plugin, key string) string {
	return plugin + "." + key
}

// Update is one inbound event. Exactly one field is set.
type Update struct {
	Message  *Message  `json:"message,omitempty"`
	Callback *Callback `json:"callback,omitempty"`
}

// Origin returns the chat the update belongs to.
func (u Update) Origin() ChatID {
	switch {
	case u.Message != nil:
		return u.Message.Chat
	case u.Callback != nil:
		return u.Callback.Message.Chat
	}
	return 0
}

type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Keyboard is an inline keyboard laid out in rows.
type Keyboard [][]Button

// Outgoing describes a message to send, or the new content of an edited one.
type Outgoing struct {
	Chat       ChatID    `json:"chat_id"`
	ReplyTo    MessageID `json:"reply_to,omitempty"`
	Text       string    `json:"text"`
	Markdown   bool      `json:"markdown,omitempty"`
	Keyboard   Keyboard  `json:"keyboard,omitempty"`
	ForceReply bool      `json:"force_reply,omitempty"`
}

// ReplyTo builds a plain text reply to msg.
func ReplyTo(msg *Message, text string) Outgoing {
	return Outgoing{Chat: msg.Chat, ReplyTo: msg.ID, Text: text}
}

// Text builds a plain text message to a chat.
func Text(chat ChatID, text string) Outgoing {
	return Outgoing{Chat: chat, Text: text}
}

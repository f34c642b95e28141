// Package chattest provides an in-memory chat.Client that records every
// outbound call, and a channel-backed chat.Source.
package chattest

import (
	"context"
	"sync"

	"github.com/shouya/fondbot/internal/chat"
)

// Sent is a recorded Send call.
type Sent struct {
	Ref chat.MessageRef
	Out chat.Outgoing
}

// Edited is a recorded Edit call.
type Edited struct {
	Ref chat.MessageRef
	Out chat.Outgoing
}

// Answered is a recorded Answer call.
type Answered struct {
	CallbackID string
	Text       string
}

// Client records outbound traffic. Message ids are assigned sequentially
// starting at 1000.
type Client struct {
	mu       sync.Mutex
	nextID   chat.MessageID
	sent     []Sent
	edited   []Edited
	answered []Answered

	// SendErr, when set, is returned by every Send.
	SendErr error
}

func NewClient() *Client {
	return &Client{nextID: 1000}
}

func (c *Client) Send(ctx context.Context, out chat.Outgoing) (chat.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return chat.MessageRef{}, c.SendErr
	}
	c.nextID++
	ref := chat.MessageRef{Chat: out.Chat, ID: c.nextID}
	c.sent = append(c.sent, Sent{Ref: ref, Out: out})
	return ref, nil
}

func (c *Client) Edit(ctx context.Context, ref chat.MessageRef, out chat.Outgoing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edited = append(c.edited, Edited{Ref: ref, Out: out})
	return nil
}

func (c *Client) Answer(ctx context.Context, callbackID string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answered = append(c.answered, Answered{CallbackID: callbackID, Text: text})
	return nil
}

func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *Client) Edited() []Edited {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Edited(nil), c.edited...)
}

func (c *Client) Answered() []Answered {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Answered(nil), c.answered...)
}

// LastSent returns the most recent Send, or false if nothing was sent.
func (c *Client) LastSent() (Sent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return Sent{}, false
	}
	return c.sent[len(c.sent)-1], true
}

// LastEdited returns the most recent Edit, or false if nothing was edited.
func (c *Client) LastEdited() (Edited, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.edited) == 0 {
		return Edited{}, false
	}
	return c.edited[len(c.edited)-1], true
}

// Reset forgets all recorded calls.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent, c.edited, c.answered = nil, nil, nil
}

// Source is a chat.Source fed by Push.
type Source struct {
	ch chan chat.Update
}

func NewSource() *Source {
	return &Source{ch: make(chan chat.Update, 64)}
}

func (s *Source) Updates(ctx context.Context) (<-chan chat.Update, error) {
	return s.ch, nil
}

func (s *Source) Push(u chat.Update) {
	s.ch <- u
}

// Close ends the stream.
func (s *Source) Close() {
	close(s.ch)
}

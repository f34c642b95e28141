// Package gateway connects to a websocket chat gateway that relays updates
// from a messaging platform and performs outbound calls on the bot's behalf.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shouya/fondbot/internal/chat"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrDisconnected = errors.New("connection lost while waiting for response")
)

// Config tunes the client. Zero values take the defaults below.
type Config struct {
	URL            string
	Token          string
	RequestTimeout time.Duration
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
}

// Client implements chat.Client and chat.Source over one websocket
// connection, reconnecting with exponential backoff while Updates runs.
type Client struct {
	url            string
	token          string
	requestTimeout time.Duration
	minBackoff     time.Duration
	maxBackoff     time.Duration
	logger         *zap.Logger

	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	// lost is closed when the current connection drops.
	lost chan struct{}

	writeMu sync.Mutex // Protects websocket writes

	msgID     int
	msgIDMu   sync.Mutex
	pending   map[int]chan Message
	pendingMu sync.Mutex
}

var (
	_ chat.Client = (*Client)(nil)
	_ chat.Source = (*Client)(nil)
)

// NewClient creates a gateway client. Nothing is dialled until Updates.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Client{
		url:            cfg.URL,
		token:          cfg.Token,
		requestTimeout: cfg.RequestTimeout,
		minBackoff:     cfg.MinBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.Named("gateway"),
		pending:        make(map[int]chan Message),
	}
}

// IsConnected returns true if client is connected
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Updates connects and authenticates, then streams updates until ctx is
// done. A dropped connection is re-established in the background; the
// returned channel stays open across reconnects.
func (c *Client) Updates(ctx context.Context) (<-chan chat.Update, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan chat.Update, 64)
	go func() {
		<-ctx.Done()
		c.shutdown()
	}()
	go c.run(ctx, conn, out)
	return out, nil
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn, out chan<- chat.Update) {
	defer close(out)
	for {
		err := c.receiveMessages(ctx, conn, out)
		c.dropConnection(conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("Connection lost", zap.Error(err))

		conn = c.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

// reconnect retries with exponential backoff until it succeeds or ctx is
// done, in which case it returns nil.
func (c *Client) reconnect(ctx context.Context) *websocket.Conn {
	backoff := c.minBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting to reconnect...")
		conn, err := c.connect(ctx)
		if err == nil {
			c.logger.Info("Reconnected successfully")
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Error("Reconnection failed", zap.Error(err), zap.Duration("backoff", backoff))
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// connect dials, authenticates and subscribes to updates.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.connMu.Lock()
	if c.connected {
		c.connMu.Unlock()
		return nil, fmt.Errorf("already connected")
	}
	c.connMu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		conn.Close()
		return nil, ErrNotConnected
	}
	c.conn = conn
	c.connected = true
	c.lost = make(chan struct{})
	c.connMu.Unlock()

	// The subscribe result is read by receiveMessages, so wait for it in
	// the background and only log a failure.
	go func() {
		if _, err := c.request(ctx, Message{Type: TypeSubscribeUpdates}); err != nil {
			c.logger.Warn("Failed to subscribe to updates", zap.Error(err))
		}
	}()

	c.logger.Info("Connected to chat gateway", zap.String("url", c.url))
	return conn, nil
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	var authRequired Message
	if err := conn.ReadJSON(&authRequired); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if authRequired.Type != TypeAuthRequired {
		return fmt.Errorf("expected auth_required, got %s", authRequired.Type)
	}

	if err := conn.WriteJSON(Message{Type: TypeAuth, AccessToken: c.token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var authResponse Message
	if err := conn.ReadJSON(&authResponse); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	switch authResponse.Type {
	case TypeAuthOK:
		return nil
	case TypeAuthInvalid:
		return fmt.Errorf("authentication failed: invalid token")
	default:
		return fmt.Errorf("expected auth_ok, got %s", authResponse.Type)
	}
}

// receiveMessages reads frames until the connection fails. Updates go to
// out; results are routed to the waiting request.
func (c *Client) receiveMessages(ctx context.Context, conn *websocket.Conn, out chan<- chat.Update) error {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		if msg.Type == TypeUpdate {
			if msg.Update == nil {
				continue
			}
			select {
			case out <- *msg.Update:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// dropConnection marks conn as gone and wakes requests waiting on it.
func (c *Client) dropConnection(conn *websocket.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != conn {
		return
	}
	c.connected = false
	c.conn = nil
	close(c.lost)
	conn.Close()
}

// shutdown closes the connection for good.
func (c *Client) shutdown() {
	c.connMu.Lock()
	c.closed = true
	conn := c.conn
	c.connMu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.logger.Info("Disconnected from chat gateway")
}

// nextMsgID returns the next message ID
func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// request sends msg with a fresh id and waits for its result.
func (c *Client) request(ctx context.Context, msg Message) (*Message, error) {
	c.connMu.RLock()
	conn, lost := c.conn, c.lost
	connected := c.connected
	c.connMu.RUnlock()
	if !connected {
		return nil, ErrNotConnected
	}

	msg.ID = c.nextMsgID()
	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msg.ID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, resp.Error
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for response to %s", msg.Type)
	case <-lost:
		return nil, ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) Send(ctx context.Context, out chat.Outgoing) (chat.MessageRef, error) {
	resp, err := c.request(ctx, Message{Type: TypeSendMessage, Outgoing: &out})
	if err != nil {
		return chat.MessageRef{}, err
	}
	var ref chat.MessageRef
	if err := json.Unmarshal(resp.Result, &ref); err != nil {
		return chat.MessageRef{}, fmt.Errorf("failed to unmarshal message ref: %w", err)
	}
	return ref, nil
}

func (c *Client) Edit(ctx context.Context, ref chat.MessageRef, out chat.Outgoing) error {
	_, err := c.request(ctx, Message{Type: TypeEditMessage, Ref: &ref, Outgoing: &out})
	return err
}

func (c *Client) Answer(ctx context.Context, callbackID string, text string) error {
	_, err := c.request(ctx, Message{Type: TypeAnswerCallback, CallbackID: callbackID, Text: text})
	return err
}

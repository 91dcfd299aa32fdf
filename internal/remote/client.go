package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// watchEntry holds a change handler with its unique subscription ID.
type watchEntry struct {
	subID   int
	path    string
	handler ChangeHandler
}

// connEntry holds a connectivity handler with its unique subscription ID.
type connEntry struct {
	subID   int
	handler ConnectivityHandler
}

// Client implements Store and Connectivity over the store's WebSocket
// protocol: authenticated frames, request/response correlation by message id,
// pushed change events for watched paths, and automatic reconnection with
// exponential backoff.
type Client struct {
	url    string
	token  string
	logger *zap.Logger

	conn      *websocket.Conn
	connected bool
	connMu    sync.RWMutex
	writeMu   sync.Mutex // serializes websocket writes

	msgID   int
	msgIDMu sync.Mutex

	pending   map[int]chan Message
	pendingMu sync.Mutex

	watches    []watchEntry
	connSubs   []connEntry
	nextSubID  int
	subsMu     sync.Mutex
	reconnect  bool
	ctx        context.Context
	cancel     context.CancelFunc
	reqTimeout time.Duration
}

// NewClient creates a store client. It does not connect; call Connect.
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:        url,
		token:      token,
		logger:     logger.Named("remote"),
		pending:    make(map[int]chan Message),
		ctx:        ctx,
		cancel:     cancel,
		reconnect:  true,
		reqTimeout: 10 * time.Second,
	}
}

// Connect dials the store, authenticates, and starts the receive loop.
func (c *Client) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("dial store: %w", err)
	}
	c.conn = conn

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		c.connMu.Unlock()
		return err
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.connected = true
	c.reconnect = true
	c.logger.Info("Connected to remote store", zap.String("url", c.url))

	go c.receiveMessages(conn)
	c.connMu.Unlock()

	// Re-arm server-side watches from previous sessions
	if err := c.resendWatches(); err != nil {
		c.logger.Warn("Failed to re-arm watches", zap.Error(err))
	}

	c.notifyConnectivity(true)
	return nil
}

// authenticate runs the auth handshake on a fresh connection.
func (c *Client) authenticate(conn *websocket.Conn) error {
	var required Message
	if err := conn.ReadJSON(&required); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if required.Type != msgAuthRequired {
		return fmt.Errorf("expected %s, got %s", msgAuthRequired, required.Type)
	}

	if err := conn.WriteJSON(authMessage{Type: msgAuth, Token: c.token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var response Message
	if err := conn.ReadJSON(&response); err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	switch response.Type {
	case msgAuthOk:
		return nil
	case msgAuthInvalid:
		return fmt.Errorf("authentication failed: invalid token")
	default:
		return fmt.Errorf("expected %s, got %s", msgAuthOk, response.Type)
	}
}

// Disconnect closes the connection and stops reconnecting.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.reconnect = false
	if !c.connected {
		return nil
	}
	c.cancel()
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
		c.conn = nil
	}

	c.logger.Info("Disconnected from remote store")
	return nil
}

// IsOnline reports whether the client currently holds a live connection.
func (c *Client) IsOnline() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// OnConnectivityChange registers a handler for online/offline transitions.
func (c *Client) OnConnectivityChange(handler ConnectivityHandler) Subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	subID := c.nextSubID
	c.nextSubID++
	c.connSubs = append(c.connSubs, connEntry{subID: subID, handler: handler})
	return &clientSubscription{client: c, subID: subID, connectivity: true}
}

// Get reads the value at path.
func (c *Client) Get(path string) (json.RawMessage, error) {
	resp, err := c.sendRequest(func(id int) any {
		return &getRequest{ID: id, Type: msgGet, Path: path}
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Value) == 0 || string(resp.Value) == "null" {
		return nil, ErrNotFound
	}
	return resp.Value, nil
}

// Set replaces the value at path.
func (c *Client) Set(path string, value any) error {
	_, err := c.sendRequest(func(id int) any {
		return &setRequest{ID: id, Type: msgSet, Path: path, Value: value}
	})
	return err
}

// Update merges fields into the object at path.
func (c *Client) Update(path string, fields map[string]any) error {
	_, err := c.sendRequest(func(id int) any {
		return &updateRequest{ID: id, Type: msgUpdate, Path: path, Fields: fields}
	})
	return err
}

// Subscribe watches path and everything beneath it. The watch survives
// reconnects: it is re-armed server-side on every successful Connect.
func (c *Client) Subscribe(path string, handler ChangeHandler) (Subscription, error) {
	c.subsMu.Lock()
	subID := c.nextSubID
	c.nextSubID++
	c.watches = append(c.watches, watchEntry{subID: subID, path: path, handler: handler})
	c.subsMu.Unlock()

	if c.IsOnline() {
		if err := c.sendWatch(path); err != nil {
			c.logger.Warn("Failed to arm watch, will retry on reconnect",
				zap.String("path", path), zap.Error(err))
		}
	}

	return &clientSubscription{client: c, subID: subID}, nil
}

// sendWatch arms one server-side watch.
func (c *Client) sendWatch(path string) error {
	_, err := c.sendRequest(func(id int) any {
		return &watchRequest{ID: id, Type: msgWatch, Path: path}
	})
	return err
}

// resendWatches re-arms every registered watch after a (re)connect.
func (c *Client) resendWatches() error {
	c.subsMu.Lock()
	paths := make(map[string]struct{}, len(c.watches))
	for _, w := range c.watches {
		paths[w.path] = struct{}{}
	}
	c.subsMu.Unlock()

	for path := range paths {
		if err := c.sendWatch(path); err != nil {
			return err
		}
	}
	return nil
}

// nextMsgID returns the next request correlation id.
func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendRequest sends one frame and waits for its result.
func (c *Client) sendRequest(build func(id int) any) (*Message, error) {
	c.connMu.RLock()
	conn := c.conn
	connected := c.connected
	ctx := c.ctx
	c.connMu.RUnlock()

	if !connected {
		return nil, ErrOffline
	}

	msgID := c.nextMsgID()
	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(build(msgID))
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("store error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-time.After(c.reqTimeout):
		return nil, fmt.Errorf("timeout waiting for response")
	case <-ctx.Done():
		return nil, ErrOffline
	}
}

// receiveMessages routes incoming frames until the connection drops.
func (c *Client) receiveMessages(conn *websocket.Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.logger.Warn("Read failed, connection lost", zap.Error(err))
			c.handleDisconnect()
			return
		}

		if msg.Type == msgEvent {
			c.handleEvent(&msg)
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

// handleEvent delivers a pushed change to every watch covering its path.
func (c *Client) handleEvent(msg *Message) {
	c.subsMu.Lock()
	entries := append([]watchEntry(nil), c.watches...)
	c.subsMu.Unlock()

	for _, entry := range entries {
		if pathCovers(entry.path, msg.Path) {
			entry.handler(msg.Path, msg.Value)
		}
	}
}

// pathCovers reports whether a watch on watched receives events for path.
func pathCovers(watched, path string) bool {
	return path == watched || strings.HasPrefix(path, watched+"/")
}

// handleDisconnect marks the client offline and schedules reconnection.
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	reconnect := c.reconnect
	c.connMu.Unlock()

	if wasConnected {
		c.notifyConnectivity(false)
	}
	if reconnect {
		go c.attemptReconnect()
	}
}

// attemptReconnect retries Connect with exponential backoff.
func (c *Client) attemptReconnect() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.connMu.RLock()
		reconnect := c.reconnect
		c.connMu.RUnlock()
		if !reconnect {
			return
		}

		c.logger.Info("Attempting to reconnect to remote store")
		if err := c.Connect(); err != nil {
			c.logger.Warn("Reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return
	}
}

// notifyConnectivity fans a transition out to registered handlers.
func (c *Client) notifyConnectivity(online bool) {
	c.subsMu.Lock()
	entries := append([]connEntry(nil), c.connSubs...)
	c.subsMu.Unlock()

	for _, entry := range entries {
		entry.handler(online)
	}
}

// clientSubscription implements Subscription for watches and connectivity
// handlers.
type clientSubscription struct {
	client       *Client
	subID        int
	connectivity bool
}

func (s *clientSubscription) Unsubscribe() error {
	c := s.client
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if s.connectivity {
		for i, entry := range c.connSubs {
			if entry.subID == s.subID {
				c.connSubs = append(c.connSubs[:i], c.connSubs[i+1:]...)
				break
			}
		}
		return nil
	}
	for i, entry := range c.watches {
		if entry.subID == s.subID {
			c.watches = append(c.watches[:i], c.watches[i+1:]...)
			break
		}
	}
	return nil
}

// Package socket is the client half of the support websocket: one shared
// connection with explicit connect, automatic reconnection and a single
// dispatcher goroutine that delivers every event, including lifecycle ones,
// in arrival order.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
	sendBufSize    = 256
	eventBufSize   = 1024
)

var (
	ErrNotConnected = errors.New("socket: not connected")
	ErrSendBuffer   = errors.New("socket: send buffer full")
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives one event. Handlers run on the dispatcher goroutine and
// must not block.
type Handler func(protocol.Envelope)

// Options configure a Conn.
type Options struct {
	URL          string
	Header       http.Header
	Reconnect    ReconnectPolicy
	NoReconnect  bool
	Dialer       *websocket.Dialer
	HandshakeCtx time.Duration
}

// session is one live websocket; a Conn goes through many of them.
type session struct {
	ws   *websocket.Conn
	send chan protocol.Outgoing
	done chan struct{}
}

// Conn is safe for concurrent use. It is created disconnected and only dials
// after Connect.
type Conn struct {
	opts Options

	mu       sync.Mutex
	state    State
	sess     *session
	stop     chan struct{}
	handlers map[protocol.Event]map[uint64]Handler
	nextID   uint64

	events    chan protocol.Envelope
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates the connection object without dialing.
func New(opts Options) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.HandshakeCtx <= 0 {
		opts.HandshakeCtx = 10 * time.Second
	}
	c := &Conn{
		opts:     opts,
		handlers: make(map[protocol.Event]map[uint64]Handler),
		events:   make(chan protocol.Envelope, eventBufSize),
		closed:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.dispatch()
	return c
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Connected() bool { return c.State() == StateConnected }

// On registers fn for ev and returns a function that removes it.
func (c *Conn) On(ev protocol.Event, fn Handler) (off func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.handlers[ev] == nil {
		c.handlers[ev] = make(map[uint64]Handler)
	}
	c.handlers[ev][id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.handlers[ev], id)
		c.mu.Unlock()
	}
}

// Once registers fn to fire at most one time.
func (c *Conn) Once(ev protocol.Event, fn Handler) (off func()) {
	var once sync.Once
	var offFn func()
	offFn = c.On(ev, func(e protocol.Envelope) {
		once.Do(func() {
			offFn()
			fn(e)
		})
	})
	return offFn
}

// Connect starts dialing in the background. Calling it while already
// connecting or connected does nothing.
func (c *Conn) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return
	default:
	}
	if c.state != StateDisconnected {
		return
	}
	c.state = StateConnecting
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.run(c.stop)
}

// Disconnect closes the live websocket and cancels reconnection. A later
// Connect starts over.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	stop := c.stop
	sess := c.sess
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if sess != nil {
		_ = sess.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		sess.ws.Close()
	}
}

// Close disconnects, drops all handlers and waits for background goroutines.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.Disconnect()
		close(c.closed)
	})
	c.wg.Wait()
	c.mu.Lock()
	c.handlers = make(map[protocol.Event]map[uint64]Handler)
	c.mu.Unlock()
}

// Emit queues one event for the writer. It never waits for the server.
func (c *Conn) Emit(ev protocol.Event, payload any) error {
	c.mu.Lock()
	sess := c.sess
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || sess == nil {
		logger.Debugf("socket emit %s dropped: not connected", ev)
		return ErrNotConnected
	}
	select {
	case sess.send <- protocol.Outgoing{Type: ev, Payload: payload}:
		return nil
	case <-sess.done:
		return ErrNotConnected
	default:
		return ErrSendBuffer
	}
}

func (c *Conn) setState(s State, sess *session) {
	c.mu.Lock()
	c.state = s
	c.sess = sess
	c.mu.Unlock()
}

func (c *Conn) local(ev protocol.Event, payload any) {
	env, err := protocol.Encode(ev, payload)
	if err != nil {
		logger.Errorf("socket encode %s: %v", ev, err)
		return
	}
	c.enqueue(env)
}

func (c *Conn) enqueue(env protocol.Envelope) {
	select {
	case c.events <- env:
	case <-c.closed:
	}
}

// run owns the dial/read/reconnect loop until stop is closed or the policy
// gives up.
func (c *Conn) run(stop chan struct{}) {
	defer c.wg.Done()
	attempt := 0
	for {
		ws, err := c.dial(stop)
		if err != nil {
			select {
			case <-stop:
				c.setState(StateDisconnected, nil)
				return
			default:
			}
			attempt++
			logger.Warnf("socket connect %s (attempt %d): %v", c.opts.URL, attempt, err)
			c.local(protocol.EventConnectError, protocol.ErrorPayload{Message: err.Error()})
			if c.opts.NoReconnect || c.opts.Reconnect.Exhausted(attempt) {
				c.setState(StateDisconnected, nil)
				return
			}
			if !c.sleep(stop, c.opts.Reconnect.Backoff(attempt)) {
				c.setState(StateDisconnected, nil)
				return
			}
			continue
		}

		attempt = 0
		sess := &session{ws: ws, send: make(chan protocol.Outgoing, sendBufSize), done: make(chan struct{})}
		c.setState(StateConnected, sess)
		c.local(protocol.EventConnect, nil)

		var pumps sync.WaitGroup
		pumps.Add(1)
		go func() {
			defer pumps.Done()
			c.writePump(sess)
		}()
		reason := c.readPump(sess)
		close(sess.done)
		ws.Close()
		pumps.Wait()

		manual := false
		select {
		case <-stop:
			manual = true
		default:
		}
		if manual {
			c.setState(StateDisconnected, nil)
			c.local(protocol.EventDisconnect, "io client disconnect")
			return
		}
		if c.opts.NoReconnect {
			c.setState(StateDisconnected, nil)
			c.local(protocol.EventDisconnect, reason)
			return
		}
		c.setState(StateConnecting, nil)
		c.local(protocol.EventDisconnect, reason)
		attempt++
		if !c.sleep(stop, c.opts.Reconnect.Backoff(attempt)) {
			c.setState(StateDisconnected, nil)
			return
		}
	}
}

func (c *Conn) sleep(stop chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}

func (c *Conn) dial(stop chan struct{}) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeCtx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return ws, nil
}

// readPump decodes frames until the websocket fails and returns the reason.
func (c *Conn) readPump(sess *session) string {
	ws := sess.ws
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("socket read: %v", err)
				c.local(protocol.EventError, protocol.ErrorPayload{Message: err.Error()})
			}
			return "transport close"
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("socket unmarshal: %v", err)
			continue
		}
		c.enqueue(env)
	}
}

func (c *Conn) writePump(sess *session) {
	for {
		select {
		case <-sess.done:
			return
		case msg := <-sess.send:
			if err := sess.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := sess.ws.WriteJSON(msg); err != nil {
				logger.Warnf("socket write %s: %v", msg.Type, err)
				sess.ws.Close()
				return
			}
		}
	}
}

func (c *Conn) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		case env := <-c.events:
			c.deliver(env)
		}
	}
}

func (c *Conn) deliver(env protocol.Envelope) {
	c.mu.Lock()
	hs := c.handlers[env.Type]
	ids := make([]uint64, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	sortIDs(ids)
	fns := make([]Handler, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, hs[id])
	}
	c.mu.Unlock()
	for _, fn := range fns {
		c.safeCall(env, fn)
	}
}

func (c *Conn) safeCall(env protocol.Envelope, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("socket handler %s panicked: %v", env.Type, r)
		}
	}()
	fn(env)
}

// sortIDs keeps handlers in registration order.
func sortIDs(ids []uint64) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

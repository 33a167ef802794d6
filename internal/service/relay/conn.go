package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"resv_relay/internal/model"
	"resv_relay/internal/protocol/event"
	"resv_relay/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 128
)

var (
	ErrConnClosed = errors.New("relay: connection closed")
	ErrRejected   = errors.New("relay: event rejected")
)

type (
	// Conn is one websocket connection to a relay. Writes go through a buffered channel
	// drained by a single writer goroutine; reads are dispatched from a single reader.
	Conn struct {
		URL string

		ws        *websocket.Conn
		send      chan []byte
		closeOnce sync.Once
		done      chan struct{}

		mu   sync.Mutex
		subs map[string]*connSub
		oks  map[string]chan okResult
		err  error
	}

	connSub struct {
		onEvent func(relay string, ev *model.Event)
		// onEnd fires once: on EOSE, on CLOSED, or when the connection drops first.
		onEnd func()
		ended bool
	}

	okResult struct {
		accepted bool
		message  string
	}
)

// Dial opens a connection and starts its read and write loops.
func Dial(ctx context.Context, dialer *websocket.Dialer, url string) (*Conn, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", url, err)
	}

	c := &Conn{
		URL:  url,
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		subs: make(map[string]*connSub),
		oks:  make(map[string]chan okResult),
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Publish sends ev and waits for the relay's OK.
func (c *Conn) Publish(ctx context.Context, ev *model.Event) error {
	wait := make(chan okResult, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}
	c.oks[ev.ID] = wait
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.oks, ev.ID)
		c.mu.Unlock()
	}()

	if err := c.write([]any{"EVENT", ev}); err != nil {
		return err
	}

	select {
	case res := <-wait:
		if !res.accepted {
			return fmt.Errorf("%w: %s", ErrRejected, res.message)
		}
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe sends a REQ under id.
func (c *Conn) Subscribe(id string, filter model.Filter, onEvent func(string, *model.Event), onEnd func()) error {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}
	c.subs[id] = &connSub{onEvent: onEvent, onEnd: onEnd}
	c.mu.Unlock()

	if err := c.write([]any{"REQ", id, filter}); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops the handlers for id and sends CLOSE.
func (c *Conn) Unsubscribe(id string) {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	closed := c.err != nil
	c.mu.Unlock()

	if ok && !closed {
		_ = c.write([]any{"CLOSE", id})
	}
}

func (c *Conn) write(msg []any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	case c.send <- data:
		return nil
	default:
		c.fail(errors.New("relay: send buffer full"))
		return ErrConnClosed
	}
}

// Close terminates the connection.
func (c *Conn) Close() error {
	c.fail(ErrConnClosed)
	return nil
}

func (c *Conn) fail(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = reason
		var ends []func()
		for _, s := range c.subs {
			if !s.ended {
				s.ended = true
				ends = append(ends, s.onEnd)
			}
		}
		c.mu.Unlock()

		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.ws.Close()

		for _, end := range ends {
			if end != nil {
				end()
			}
		}
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.fail(err)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.fail(err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			log.Debug("relay connection closed", zap.String("relay", c.URL), zap.Error(err))
			c.fail(err)
			return
		}
		if err := c.dispatch(data); err != nil {
			log.Debug("ignoring relay message", zap.String("relay", c.URL), zap.Error(err))
		}
	}
}

func (c *Conn) dispatch(data []byte) error {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	if len(frame) == 0 {
		return errors.New("empty frame")
	}
	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return err
	}

	switch label {
	case "EVENT":
		if len(frame) < 3 {
			return errors.New("short EVENT frame")
		}
		var (
			id string
			ev model.Event
		)
		if err := json.Unmarshal(frame[1], &id); err != nil {
			return err
		}
		if err := json.Unmarshal(frame[2], &ev); err != nil {
			return err
		}
		if err := event.Verify(&ev); err != nil {
			return fmt.Errorf("event %s: %w", ev.ID, err)
		}
		c.mu.Lock()
		s, ok := c.subs[id]
		c.mu.Unlock()
		if ok && s.onEvent != nil {
			s.onEvent(c.URL, &ev)
		}

	case "EOSE", "CLOSED":
		if len(frame) < 2 {
			return fmt.Errorf("short %s frame", label)
		}
		var id string
		if err := json.Unmarshal(frame[1], &id); err != nil {
			return err
		}
		if label == "CLOSED" {
			var msg string
			if len(frame) > 2 {
				_ = json.Unmarshal(frame[2], &msg)
			}
			log.Warn("relay closed subscription", zap.String("relay", c.URL), zap.String("sub", id), zap.String("reason", msg))
		}
		c.end(id, label == "CLOSED")

	case "OK":
		if len(frame) < 3 {
			return errors.New("short OK frame")
		}
		var (
			id  string
			res okResult
		)
		if err := json.Unmarshal(frame[1], &id); err != nil {
			return err
		}
		if err := json.Unmarshal(frame[2], &res.accepted); err != nil {
			return err
		}
		if len(frame) > 3 {
			_ = json.Unmarshal(frame[3], &res.message)
		}
		c.mu.Lock()
		wait, ok := c.oks[id]
		c.mu.Unlock()
		if ok {
			select {
			case wait <- res:
			default:
			}
		}

	case "NOTICE":
		var msg string
		if len(frame) > 1 {
			_ = json.Unmarshal(frame[1], &msg)
		}
		log.Info("relay notice", zap.String("relay", c.URL), zap.String("notice", msg))

	default:
		return fmt.Errorf("unknown label %q", label)
	}
	return nil
}

func (c *Conn) end(id string, remove bool) {
	c.mu.Lock()
	s, ok := c.subs[id]
	if !ok || s.ended {
		if ok && remove {
			delete(c.subs, id)
		}
		c.mu.Unlock()
		return
	}
	s.ended = true
	if remove {
		delete(c.subs, id)
	}
	c.mu.Unlock()

	if s.onEnd != nil {
		s.onEnd()
	}
}

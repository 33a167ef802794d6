package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"resv_relay/internal/model"
	"resv_relay/internal/utils/log"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	dialTimeout    = 10 * time.Second
	publishTimeout = 10 * time.Second
)

var ErrNoRelays = errors.New("relay: no relay reachable")

type (
	// Pool keeps one lazily dialed connection per relay URL.
	Pool struct {
		relays []string
		dialer *websocket.Dialer

		mu     sync.Mutex
		conns  map[string]*Conn
		closed bool
	}

	// Subscription spans every relay of the pool under a single subscription id.
	Subscription struct {
		ID    string
		conns []*Conn
		once  sync.Once
	}
)

func NewPool(relays []string, dialer *websocket.Dialer) *Pool {
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}
	return &Pool{
		relays: append([]string(nil), relays...),
		dialer: dialer,
		conns:  make(map[string]*Conn),
	}
}

func (p *Pool) Relays() []string {
	return append([]string(nil), p.relays...)
}

// Conn returns a live connection to url, dialing it if needed.
func (p *Pool) Conn(ctx context.Context, url string) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnClosed
	}
	if c, ok := p.conns[url]; ok && c.Err() == nil {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	c, err := Dial(dctx, p.dialer, url)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = c.Close()
		return nil, ErrConnClosed
	}
	if existing, ok := p.conns[url]; ok && existing.Err() == nil {
		// lost a dial race
		_ = c.Close()
		return existing, nil
	}
	p.conns[url] = c
	log.Debug("connected to relay", zap.String("relay", url))
	return c, nil
}

// Publish sends ev to every relay in relays (or to the whole pool when relays is empty)
// and returns the per-relay outcome. A nil entry means the relay accepted the event.
func (p *Pool) Publish(ctx context.Context, ev *model.Event, relays []string) map[string]error {
	if len(relays) == 0 {
		relays = p.relays
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]error, len(relays))
	)
	for _, url := range relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			err := p.publishOne(ctx, url, ev)
			if err != nil {
				log.Warn("publish failed", zap.String("relay", url), zap.String("event", ev.ID), zap.Error(err))
			}
			mu.Lock()
			results[url] = err
			mu.Unlock()
		}(url)
	}
	wg.Wait()
	return results
}

func (p *Pool) publishOne(ctx context.Context, url string, ev *model.Event) error {
	c, err := p.Conn(ctx, url)
	if err != nil {
		return err
	}
	return c.Publish(ctx, ev)
}

// Subscribe opens filter on every relay of the pool. onEOSE fires once, after each relay
// has either sent EOSE, closed the subscription or dropped. Relays that cannot be dialed
// are skipped; it is an error only when none can.
func (p *Pool) Subscribe(ctx context.Context, filter model.Filter, onEvent func(relay string, ev *model.Event), onEOSE func()) (*Subscription, error) {
	sub := &Subscription{ID: uuid.NewString()}

	var (
		mu      sync.Mutex
		pending int
		fired   bool
		armed   bool
	)
	maybeFire := func() {
		mu.Lock()
		if fired || !armed || pending > 0 {
			mu.Unlock()
			return
		}
		fired = true
		mu.Unlock()
		if onEOSE != nil {
			onEOSE()
		}
	}

	var errs []error
	for _, url := range p.relays {
		c, err := p.Conn(ctx, url)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}

		mu.Lock()
		pending++
		mu.Unlock()
		var endOnce sync.Once
		end := func() {
			endOnce.Do(func() {
				mu.Lock()
				pending--
				mu.Unlock()
				maybeFire()
			})
		}

		if err := c.Subscribe(sub.ID, filter, onEvent, end); err != nil {
			end()
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		sub.conns = append(sub.conns, c)
	}

	if len(sub.conns) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoRelays, errors.Join(errs...))
	}
	for _, err := range errs {
		log.Warn("relay unavailable for subscription", zap.String("sub", sub.ID), zap.Error(err))
	}

	mu.Lock()
	armed = true
	mu.Unlock()
	maybeFire()

	return sub, nil
}

// Close sends CLOSE to every relay still holding the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		for _, c := range s.conns {
			c.Unsubscribe(s.ID)
		}
	})
}

func (p *Pool) Close() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*Conn)
	p.closed = true
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

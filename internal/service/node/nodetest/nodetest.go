// Package nodetest provides an in-memory relay network and archive for tests.
package nodetest

import (
	"context"
	"errors"
	"sync"

	"resv_relay/internal/model"
	"resv_relay/internal/service/pipeline"
)

const RelayURL = "wss://mem.test"

var ErrRejected = errors.New("nodetest: rejected")

// Network stores every published event and pushes it to matching live subscriptions
// before Publish returns.
type Network struct {
	// Reject, when set, refuses the events it returns true for.
	Reject func(ev *model.Event) bool

	mu     sync.Mutex
	events []*model.Event
	subs   []*subscription
}

type subscription struct {
	net     *Network
	filter  model.Filter
	onEvent func(string, *model.Event)
	closed  bool
}

func (s *subscription) Close() {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	s.closed = true
}

func (n *Network) Publish(_ context.Context, ev *model.Event, _ []string) map[string]error {
	if n.Reject != nil && n.Reject(ev) {
		return map[string]error{RelayURL: ErrRejected}
	}
	n.mu.Lock()
	n.events = append(n.events, ev)
	var targets []*subscription
	for _, s := range n.subs {
		if !s.closed && s.filter.Matches(ev) {
			targets = append(targets, s)
		}
	}
	n.mu.Unlock()

	for _, s := range targets {
		s.onEvent(RelayURL, ev)
	}
	return map[string]error{RelayURL: nil}
}

// Subscribe replays the stored matches, signals EOSE and keeps the subscription live.
func (n *Network) Subscribe(_ context.Context, f model.Filter, onEvent func(string, *model.Event), onEOSE func()) (pipeline.Subscription, error) {
	s := &subscription{net: n, filter: f, onEvent: onEvent}
	n.mu.Lock()
	n.subs = append(n.subs, s)
	var backlog []*model.Event
	for _, ev := range n.events {
		if f.Matches(ev) {
			backlog = append(backlog, ev)
		}
	}
	n.mu.Unlock()

	for _, ev := range backlog {
		onEvent(RelayURL, ev)
	}
	onEOSE()
	return s, nil
}

// Events returns a snapshot of everything published so far.
func (n *Network) Events() []*model.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*model.Event(nil), n.events...)
}

type Archive struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (a *Archive) Append(_ context.Context, msgs ...*model.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msgs...)
	return nil
}

func (a *Archive) Load(context.Context) ([]*model.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*model.Message(nil), a.msgs...), nil
}

func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.msgs)
}

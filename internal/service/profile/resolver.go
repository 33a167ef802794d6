package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"resv_relay/internal/cryptographic/dh"
	"resv_relay/internal/model"
	"resv_relay/internal/protocol/event"
	"resv_relay/internal/utils/log"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL  = 10 * time.Minute
	defaultWait = 5 * time.Second
)

var ErrNotFound = errors.New("profile: no metadata found")

// Transport is the relay query side the resolver needs.
type Transport interface {
	Subscribe(ctx context.Context, filter model.Filter, onEvent func(relay string, ev *model.Event), onEOSE func()) (model.Subscription, error)
}

// Resolver looks up kind-0 metadata on the relays and keeps the answers in a Cache.
type Resolver struct {
	transport Transport
	cache     *Cache[string, *model.Profile]
	wait      time.Duration
	group     singleflight.Group
}

func NewResolver(transport Transport, cache *Cache[string, *model.Profile]) *Resolver {
	if cache == nil {
		cache = NewCache[string, *model.Profile](DefaultTTL, nil)
	}
	return &Resolver{transport: transport, cache: cache, wait: defaultWait}
}

func (r *Resolver) Cache() *Cache[string, *model.Profile] { return r.cache }

// Lookup returns the newest metadata published by pubkey. Concurrent lookups of the
// same key share one relay query.
func (r *Resolver) Lookup(ctx context.Context, pubkey string) (*model.Profile, error) {
	if p, ok := r.cache.Get(pubkey); ok {
		return p, nil
	}
	if _, err := dh.ParsePublicKeyHex(pubkey); err != nil {
		return nil, err
	}

	v, err, _ := r.group.Do(pubkey, func() (any, error) {
		ev, err := r.fetch(ctx, pubkey)
		if err != nil {
			return nil, err
		}
		p, err := Parse(ev)
		if err != nil {
			return nil, err
		}
		r.cache.Set(pubkey, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Profile), nil
}

func (r *Resolver) fetch(ctx context.Context, pubkey string) (*model.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	var (
		mu     sync.Mutex
		newest *model.Event
		once   sync.Once
		done   = make(chan struct{})
	)
	filter := model.Filter{Kinds: []int{model.KindMetadata}, Authors: []string{pubkey}}
	sub, err := r.transport.Subscribe(ctx, filter,
		func(_ string, ev *model.Event) {
			if ev.Kind != model.KindMetadata || ev.PubKey != pubkey {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if newest == nil || ev.CreatedAt > newest.CreatedAt {
				newest = ev
			}
		},
		func() { once.Do(func() { close(done) }) },
	)
	if err != nil {
		return nil, fmt.Errorf("profile: subscribe: %w", err)
	}
	defer sub.Close()

	select {
	case <-done:
	case <-ctx.Done():
		log.Debug("profile lookup cut short", zap.String("pubkey", pubkey), zap.Error(ctx.Err()))
	}

	mu.Lock()
	defer mu.Unlock()
	if newest == nil {
		return nil, ErrNotFound
	}
	return newest, nil
}

// Parse reads the JSON content of a kind-0 event.
func Parse(ev *model.Event) (*model.Profile, error) {
	if ev.Kind != model.KindMetadata {
		return nil, fmt.Errorf("profile: unexpected kind %d", ev.Kind)
	}
	var p model.Profile
	if err := json.Unmarshal([]byte(ev.Content), &p); err != nil {
		return nil, fmt.Errorf("profile: decode metadata: %w", err)
	}
	p.PubKey = ev.PubKey
	return &p, nil
}

// Metadata builds the signed kind-0 event announcing p.
func Metadata(priv []byte, p *model.Profile, createdAt int64) (*model.Event, error) {
	content, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	ev := &model.Event{
		CreatedAt: createdAt,
		Kind:      model.KindMetadata,
		Tags:      model.Tags{},
		Content:   string(content),
	}
	if err := event.Sign(ev, priv); err != nil {
		return nil, err
	}
	return ev, nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"resv_relay/internal/cryptographic/dh"
	"resv_relay/internal/model"
	"resv_relay/internal/protocol/giftwrap"
	"resv_relay/internal/protocol/reservation"
	"resv_relay/internal/protocol/thread"
	"resv_relay/internal/utils/log"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

type (
	// Transport is the relay network as the pipeline needs it.
	Transport interface {
		Subscribe(ctx context.Context, filter model.Filter, onEvent func(relay string, ev *model.Event), onEOSE func()) (Subscription, error)
	}

	Subscription = model.Subscription

	Handlers struct {
		OnMessage func(msg *model.Message)
		// OnReady fires once the stored backlog has been delivered.
		OnReady func()
		// OnError receives failures of envelopes that were addressed to us but could not
		// be used, together with the raw envelope.
		OnError func(err error, envelope *model.Event)
	}

	Config struct {
		PrivateKey []byte
		// Since limits the backlog requested from relays. Wrap timestamps are pushed up
		// to two days into the past, so callers should subtract that margin.
		Since    *int64
		Protocol *giftwrap.Protocol
		Codec    *reservation.Codec
		Registry metrics.Registry
	}

	State int

	Pipeline struct {
		transport Transport
		handlers  Handlers
		priv      []byte
		pub       string
		since     *int64
		proto     *giftwrap.Protocol
		codec     *reservation.Codec
		registry  metrics.Registry
		counters  counters

		mu         sync.Mutex
		state      State
		gen        uint64
		sub        Subscription
		inCallback bool

		// cbMu is held while a handler callback is checked and run; Stop drains it.
		cbMu sync.Mutex

		// procMu serializes envelope processing; it guards everything below.
		procMu     sync.Mutex
		seenWraps  map[string]struct{}
		seenRumors map[string]struct{}
	}

	counters struct {
		received         metrics.Counter
		duplicateWrap    metrics.Counter
		authDropped      metrics.Counter
		structuralErrors metrics.Counter
		unknownKind      metrics.Counter
		payloadErrors    metrics.Counter
		duplicateRumor   metrics.Counter
		delivered        metrics.Counter
	}
)

const (
	StateIdle State = iota
	StateActive
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

func New(transport Transport, cfg Config, handlers Handlers) (*Pipeline, error) {
	pub, err := dh.PublicKeyHex(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if cfg.Protocol == nil {
		cfg.Protocol = giftwrap.New(giftwrap.Options{})
	}
	if cfg.Codec == nil {
		cfg.Codec = reservation.NewCodec(reservation.DefaultSchema)
	}
	if cfg.Registry == nil {
		cfg.Registry = metrics.NewRegistry()
	}

	p := &Pipeline{
		transport:  transport,
		handlers:   handlers,
		priv:       append([]byte(nil), cfg.PrivateKey...),
		pub:        pub,
		since:      cfg.Since,
		proto:      cfg.Protocol,
		codec:      cfg.Codec,
		registry:   cfg.Registry,
		seenWraps:  make(map[string]struct{}),
		seenRumors: make(map[string]struct{}),
	}
	p.counters = counters{
		received:         metrics.GetOrRegisterCounter("pipeline.envelope.received", p.registry),
		duplicateWrap:    metrics.GetOrRegisterCounter("pipeline.envelope.duplicate", p.registry),
		authDropped:      metrics.GetOrRegisterCounter("pipeline.unwrap.auth_dropped", p.registry),
		structuralErrors: metrics.GetOrRegisterCounter("pipeline.unwrap.structural", p.registry),
		unknownKind:      metrics.GetOrRegisterCounter("pipeline.rumor.unknown_kind", p.registry),
		payloadErrors:    metrics.GetOrRegisterCounter("pipeline.rumor.payload_error", p.registry),
		duplicateRumor:   metrics.GetOrRegisterCounter("pipeline.rumor.duplicate", p.registry),
		delivered:        metrics.GetOrRegisterCounter("pipeline.rumor.delivered", p.registry),
	}
	return p, nil
}

func (p *Pipeline) PublicKey() string { return p.pub }

func (p *Pipeline) Registry() metrics.Registry { return p.registry }

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Filter is the relay filter for gift wraps addressed to this identity.
func (p *Pipeline) Filter() model.Filter {
	return model.Filter{
		Kinds: []int{model.KindGiftWrap},
		PTags: []string{p.pub},
		Since: p.since,
	}
}

// Start opens the transport subscription. Calling it while a subscription is already
// open only logs a warning.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		state := p.state
		p.mu.Unlock()
		log.Warn("pipeline already started", zap.String("state", state.String()), zap.String("pubkey", p.pub))
		return nil
	}
	p.gen++
	gen := p.gen
	p.state = StateActive
	p.mu.Unlock()

	sub, err := p.transport.Subscribe(ctx, p.Filter(),
		func(relay string, ev *model.Event) { p.handle(gen, relay, ev) },
		func() { p.ready(gen) },
	)
	if err != nil {
		p.mu.Lock()
		if p.gen == gen {
			p.state = StateIdle
		}
		p.mu.Unlock()
		return fmt.Errorf("pipeline: subscribe: %w", err)
	}

	p.mu.Lock()
	if p.gen != gen {
		// stopped while subscribing
		p.mu.Unlock()
		sub.Close()
		return nil
	}
	p.sub = sub
	p.mu.Unlock()

	log.Info("pipeline started", zap.String("pubkey", p.pub))
	return nil
}

// Stop closes the subscription and returns to idle. It is safe to call at any time,
// including from inside a handler; no handler starts after Stop returns.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.state == StateIdle {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.state = StateIdle
	sub := p.sub
	p.sub = nil
	busy := p.inCallback
	p.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	// A callback already running may be the caller; waiting on it would deadlock.
	if !busy {
		p.cbMu.Lock()
		p.cbMu.Unlock()
	}
	log.Info("pipeline stopped", zap.String("pubkey", p.pub))
}

// Seed marks already known messages (e.g. from an archive) as delivered. It must not
// be called from inside a handler.
func (p *Pipeline) Seed(msgs []*model.Message) {
	p.procMu.Lock()
	defer p.procMu.Unlock()
	for _, m := range msgs {
		if id := m.ID(); id != "" {
			p.seenRumors[id] = struct{}{}
		}
		if m.WrapID != "" {
			p.seenWraps[m.WrapID] = struct{}{}
		}
	}
}

func (p *Pipeline) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen && p.state != StateIdle
}

// invoke runs fn if gen is still current, atomically with respect to Stop.
func (p *Pipeline) invoke(gen uint64, fn func()) bool {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()

	p.mu.Lock()
	if p.gen != gen || p.state == StateIdle {
		p.mu.Unlock()
		return false
	}
	p.inCallback = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inCallback = false
		p.mu.Unlock()
	}()
	fn()
	return true
}

func (p *Pipeline) ready(gen uint64) {
	p.procMu.Lock()
	defer p.procMu.Unlock()

	p.mu.Lock()
	if p.gen != gen || p.state != StateActive {
		p.mu.Unlock()
		return
	}
	p.state = StateReady
	p.mu.Unlock()

	log.Debug("pipeline backlog delivered", zap.String("pubkey", p.pub))
	if p.handlers.OnReady != nil {
		p.invoke(gen, p.handlers.OnReady)
	}
}

func (p *Pipeline) handle(gen uint64, relay string, ev *model.Event) {
	if ev == nil {
		return
	}

	p.procMu.Lock()
	defer p.procMu.Unlock()

	if !p.current(gen) {
		return
	}
	p.counters.received.Inc(1)

	if _, ok := p.seenWraps[ev.ID]; ok {
		p.counters.duplicateWrap.Inc(1)
		return
	}
	p.seenWraps[ev.ID] = struct{}{}

	rumor, err := p.proto.Unwrap(ev, p.priv)
	if err != nil {
		if giftwrap.IsAuthentication(err) {
			p.counters.authDropped.Inc(1)
			log.Debug("dropping envelope not decryptable by us", zap.String("wrap", ev.ID), zap.String("relay", relay))
			return
		}
		p.counters.structuralErrors.Inc(1)
		p.emitError(gen, err, ev)
		return
	}

	typ := model.MessageTypeOfKind(rumor.Kind)
	if typ == model.MessageTypeUnknown {
		p.counters.unknownKind.Inc(1)
		log.Debug("ignoring rumor of unrelated kind", zap.Int("kind", rumor.Kind), zap.String("rumor", rumor.ID))
		return
	}

	if _, ok := p.seenRumors[rumor.ID]; ok {
		p.counters.duplicateRumor.Inc(1)
		return
	}

	// a rumor is settled once, whether it decodes or not
	p.seenRumors[rumor.ID] = struct{}{}
	payload, err := p.codec.Decode(rumor)
	if err != nil {
		p.counters.payloadErrors.Inc(1)
		p.emitError(gen, fmt.Errorf("rumor %s: %w", rumor.ID, err), ev)
		return
	}

	msg := &model.Message{
		Rumor:   rumor,
		Type:    typ,
		Payload: payload,
		Context: thread.ReadContext(rumor),
		WrapID:  ev.ID,
		Relay:   relay,
	}
	if !p.current(gen) {
		return
	}
	p.counters.delivered.Inc(1)
	if p.handlers.OnMessage != nil {
		p.invoke(gen, func() { p.handlers.OnMessage(msg) })
	}
}

func (p *Pipeline) emitError(gen uint64, err error, ev *model.Event) {
	log.Warn("envelope rejected", zap.String("wrap", ev.ID), zap.Error(err))
	if p.handlers.OnError == nil {
		return
	}
	p.invoke(gen, func() { p.handlers.OnError(err, ev) })
}

// IsPayloadError reports whether err came from the payload codec rather than from
// unwrapping.
func IsPayloadError(err error) bool {
	return errors.Is(err, reservation.ErrInvalidPayload)
}

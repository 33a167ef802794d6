package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"resv_relay/internal/cryptographic/dh"
	"resv_relay/internal/model"
	"resv_relay/internal/protocol/giftwrap"
	"resv_relay/internal/protocol/reservation"

	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	t      *fakeTransport
	closed bool
}

func (s *fakeSub) Close() {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.closed = true
}

type fakeTransport struct {
	mu      sync.Mutex
	subs    []*fakeSub
	filters []model.Filter
	onEvent func(string, *model.Event)
	onEOSE  func()
	err     error
}

func (f *fakeTransport) Subscribe(_ context.Context, filter model.Filter, onEvent func(string, *model.Event), onEOSE func()) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSub{t: f}
	f.subs = append(f.subs, s)
	f.filters = append(f.filters, filter)
	f.onEvent, f.onEOSE = onEvent, onEOSE
	return s, nil
}

func (f *fakeTransport) deliver(evs ...*model.Event) {
	f.mu.Lock()
	fn := f.onEvent
	f.mu.Unlock()
	for _, ev := range evs {
		fn("wss://relay.test", ev)
	}
}

func (f *fakeTransport) eose() {
	f.mu.Lock()
	fn := f.onEOSE
	f.mu.Unlock()
	fn()
}

type party struct {
	priv []byte
	pub  string
}

func newParty(t *testing.T) party {
	priv, pub, err := dh.NewKeyPair()
	require.NoError(t, err)
	return party{priv: priv[:], pub: hex.EncodeToString(pub[:])}
}

type recorder struct {
	mu       sync.Mutex
	messages []*model.Message
	errs     []error
	envs     []*model.Event
	ready    int
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnMessage: func(m *model.Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.messages = append(r.messages, m)
		},
		OnReady: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ready++
		},
		OnError: func(err error, ev *model.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
			r.envs = append(r.envs, ev)
		},
	}
}

var proto = giftwrap.New(giftwrap.Options{})

func requestRumor(t *testing.T, from, to party) *model.Event {
	enc, err := reservation.NewCodec(0).Encode(&model.ReservationRequest{
		PartySize: 2,
		Slot:      model.Slot{Time: 1767376800, TZID: "UTC"},
	})
	require.NoError(t, err)
	return giftwrap.NewRumor(from.pub, enc.Kind, append(enc.Tags, model.Tag{"p", to.pub}), enc.Content, 1767300000)
}

func wrapTo(t *testing.T, rumor *model.Event, from party, to string) *model.Event {
	seal, err := proto.Seal(rumor, from.priv, to)
	require.NoError(t, err)
	wrap, err := proto.Wrap(seal, to)
	require.NoError(t, err)
	return wrap
}

func startPipeline(t *testing.T, me party, rec *recorder) (*Pipeline, *fakeTransport) {
	tr := &fakeTransport{}
	p, err := New(tr, Config{PrivateKey: me.priv}, rec.handlers())
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	return p, tr
}

func TestSelfCopyDeliveredOnce(t *testing.T) {
	agent, merchant := newParty(t), newParty(t)
	rec := &recorder{}
	p, tr := startPipeline(t, agent, rec)

	rumor := requestRumor(t, agent, merchant)
	_, toSelf, err := proto.SendWithSelfCopy(rumor, agent.priv, merchant.pub, agent.pub)
	require.NoError(t, err)
	// a second self copy, as produced by a resend from another device
	again := wrapTo(t, rumor, agent, agent.pub)

	tr.deliver(toSelf, toSelf, again)

	require.Len(t, rec.messages, 1)
	msg := rec.messages[0]
	assert.Equal(t, rumor.ID, msg.ID())
	assert.Equal(t, model.MessageTypeRequest, msg.Type)
	assert.Equal(t, toSelf.ID, msg.WrapID)
	assert.Equal(t, "wss://relay.test", msg.Relay)
	assert.True(t, msg.Context.IsRoot())
	assert.Equal(t, 2, msg.Payload.(*model.ReservationRequest).PartySize)
	assert.Empty(t, rec.errs)

	c := p.Registry().Get("pipeline.envelope.duplicate").(interface{ Count() int64 })
	assert.EqualValues(t, 1, c.Count())
}

func TestBothSelfCopyEnvelopesSeenBySameSubscriber(t *testing.T) {
	// the same key on both ends: a merchant talking to itself from two devices
	merchant := newParty(t)
	rec := &recorder{}
	_, tr := startPipeline(t, merchant, rec)

	rumor := requestRumor(t, merchant, merchant)
	a, b, err := proto.SendWithSelfCopy(rumor, merchant.priv, merchant.pub, merchant.pub)
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	tr.deliver(a, b)
	assert.Len(t, rec.messages, 1)
}

func TestForeignEnvelopesAreSilentlyDropped(t *testing.T) {
	agent, merchant, other := newParty(t), newParty(t), newParty(t)
	rec := &recorder{}
	_, tr := startPipeline(t, merchant, rec)

	toOther := wrapTo(t, requestRumor(t, agent, other), agent, other.pub)
	tr.deliver(toOther)

	assert.Empty(t, rec.messages)
	assert.Empty(t, rec.errs)
}

func TestUnknownKindIgnored(t *testing.T) {
	agent, merchant := newParty(t), newParty(t)
	rec := &recorder{}
	_, tr := startPipeline(t, merchant, rec)

	note := giftwrap.NewRumor(agent.pub, 14, model.Tags{{"p", merchant.pub}}, "hi there", 1767300000)
	tr.deliver(wrapTo(t, note, agent, merchant.pub))

	assert.Empty(t, rec.messages)
	assert.Empty(t, rec.errs)
}

func TestPayloadErrorReported(t *testing.T) {
	agent, merchant := newParty(t), newParty(t)
	rec := &recorder{}
	_, tr := startPipeline(t, merchant, rec)

	broken := giftwrap.NewRumor(agent.pub, model.KindReservationRequest, model.Tags{{"p", merchant.pub}, {"tzid", "UTC"}}, "", 1767300000)
	wrap := wrapTo(t, broken, agent, merchant.pub)
	good := wrapTo(t, requestRumor(t, agent, merchant), agent, merchant.pub)
	tr.deliver(wrap, good)

	require.Len(t, rec.errs, 1)
	assert.True(t, IsPayloadError(rec.errs[0]))
	assert.Equal(t, wrap, rec.envs[0])
	// processing continues after a bad envelope
	assert.Len(t, rec.messages, 1)
}

func TestBrokenSelfCopyPairReportedOnce(t *testing.T) {
	agent, merchant := newParty(t), newParty(t)
	rec := &recorder{}
	p, tr := startPipeline(t, merchant, rec)

	// the same undecodable rumor wrapped once per recipient, both seen by the merchant
	broken := giftwrap.NewRumor(agent.pub, model.KindReservationRequest, model.Tags{{"p", merchant.pub}, {"tzid", "UTC"}}, "", 1767300000)
	tr.deliver(wrapTo(t, broken, agent, merchant.pub), wrapTo(t, broken, agent, merchant.pub))

	require.Len(t, rec.errs, 1)
	assert.True(t, IsPayloadError(rec.errs[0]))
	dup := p.Registry().Get("pipeline.rumor.duplicate").(metrics.Counter)
	assert.EqualValues(t, 1, dup.Count())
}

func TestStructuralFailureReported(t *testing.T) {
	agent, merchant, mallory := newParty(t), newParty(t), newParty(t)
	rec := &recorder{}
	_, tr := startPipeline(t, merchant, rec)

	// a seal whose signer was swapped for mallory's key
	rumor := requestRumor(t, agent, merchant)
	seal, err := proto.Seal(rumor, agent.priv, merchant.pub)
	require.NoError(t, err)
	forged := *seal
	forged.PubKey = mallory.pub
	wrap, err := proto.Wrap(&forged, merchant.pub)
	require.NoError(t, err)

	tr.deliver(wrap)

	assert.Empty(t, rec.messages)
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], giftwrap.ErrUnwrapFailed)
	assert.False(t, giftwrap.IsAuthentication(rec.errs[0]))
}

func TestStartIsIdempotent(t *testing.T) {
	merchant := newParty(t)
	rec := &recorder{}
	p, tr := startPipeline(t, merchant, rec)

	require.NoError(t, p.Start(context.Background()))
	tr.eose()
	require.NoError(t, p.Start(context.Background()))

	assert.Len(t, tr.subs, 1)
	assert.Equal(t, StateReady, p.State())
	assert.Equal(t, 1, rec.ready)
	assert.Equal(t, []int{model.KindGiftWrap}, tr.filters[0].Kinds)
	assert.Equal(t, []string{merchant.pub}, tr.filters[0].PTags)
}

func TestStopAndRestart(t *testing.T) {
	agent, merchant := newParty(t), newParty(t)
	rec := &recorder{}
	p, tr := startPipeline(t, merchant, rec)
	oldDeliver := tr.onEvent

	p.Stop()
	assert.Equal(t, StateIdle, p.State())
	assert.True(t, tr.subs[0].closed)
	p.Stop()

	// late events from the closed subscription are ignored
	oldDeliver("wss://late", wrapTo(t, requestRumor(t, agent, merchant), agent, merchant.pub))
	assert.Empty(t, rec.messages)

	require.NoError(t, p.Start(context.Background()))
	assert.Len(t, tr.subs, 2)
	tr.deliver(wrapTo(t, requestRumor(t, agent, merchant), agent, merchant.pub))
	assert.Len(t, rec.messages, 1)
}

func TestStopFromInsideCallback(t *testing.T) {
	agent, merchant := newParty(t), newParty(t)
	tr := &fakeTransport{}

	var (
		p        *Pipeline
		received int
	)
	p, err := New(tr, Config{PrivateKey: merchant.priv}, Handlers{
		OnMessage: func(*model.Message) {
			received++
			p.Stop()
		},
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	first := requestRumor(t, agent, merchant)
	second := giftwrap.NewRumor(agent.pub, first.Kind, first.Tags, "another", first.CreatedAt+1)
	tr.deliver(wrapTo(t, first, agent, merchant.pub), wrapTo(t, second, agent, merchant.pub))

	assert.Equal(t, 1, received)
	assert.Equal(t, StateIdle, p.State())
	assert.True(t, tr.subs[0].closed)
}

func TestSubscribeFailureReturnsToIdle(t *testing.T) {
	merchant := newParty(t)
	tr := &fakeTransport{err: errors.New("no relays")}
	p, err := New(tr, Config{PrivateKey: merchant.priv}, Handlers{})
	require.NoError(t, err)

	assert.Error(t, p.Start(context.Background()))
	assert.Equal(t, StateIdle, p.State())
}

func TestSeedSuppressesRedelivery(t *testing.T) {
	agent, merchant := newParty(t), newParty(t)
	rec := &recorder{}
	p, tr := startPipeline(t, merchant, rec)

	rumor := requestRumor(t, agent, merchant)
	p.Seed([]*model.Message{{Rumor: rumor}})

	tr.deliver(wrapTo(t, rumor, agent, merchant.pub))
	assert.Empty(t, rec.messages)
}

func TestConcurrentDeliveryDedups(t *testing.T) {
	agent, merchant := newParty(t), newParty(t)
	rec := &recorder{}
	_, tr := startPipeline(t, merchant, rec)

	rumor := requestRumor(t, agent, merchant)
	wraps := make([]*model.Event, 8)
	for i := range wraps {
		wraps[i] = wrapTo(t, rumor, agent, merchant.pub)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.deliver(wraps...)
		}()
	}
	wg.Wait()

	assert.Len(t, rec.messages, 1)
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := New(&fakeTransport{}, Config{PrivateKey: make([]byte, 32)}, Handlers{})
	assert.ErrorIs(t, err, dh.ErrInvalidPrivateKey)
}

// hookCounter runs onInc on every increment.
type hookCounter struct {
	metrics.Counter
	onInc func()
}

func (c *hookCounter) Inc(n int64) {
	c.Counter.Inc(n)
	if c.onInc != nil {
		c.onInc()
	}
}

func TestNoCallbackAfterConcurrentStopReturns(t *testing.T) {
	agent, merchant := newParty(t), newParty(t)
	tr := &fakeTransport{}
	reg := metrics.NewRegistry()

	var (
		p           *Pipeline
		stopped     atomic.Bool
		lateCalls   atomic.Int32
		stopReturns = make(chan struct{})
	)
	// stop from another goroutine after the envelope passed every check, right before
	// the message would be handed out
	hook := &hookCounter{Counter: metrics.NewCounter(), onInc: func() {
		go func() {
			p.Stop()
			stopped.Store(true)
			close(stopReturns)
		}()
		<-stopReturns
	}}
	require.NoError(t, reg.Register("pipeline.rumor.delivered", hook))

	p, err := New(tr, Config{PrivateKey: merchant.priv, Registry: reg}, Handlers{
		OnMessage: func(*model.Message) {
			if stopped.Load() {
				lateCalls.Add(1)
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	tr.deliver(wrapTo(t, requestRumor(t, agent, merchant), agent, merchant.pub))

	assert.Equal(t, StateIdle, p.State())
	assert.Zero(t, lateCalls.Load())
}

func TestStopFromAnotherGoroutineInsideCallback(t *testing.T) {
	agent, merchant := newParty(t), newParty(t)
	tr := &fakeTransport{}

	var p *Pipeline
	p, err := New(tr, Config{PrivateKey: merchant.priv}, Handlers{
		OnMessage: func(*model.Message) {
			done := make(chan struct{})
			go func() {
				p.Stop()
				close(done)
			}()
			// must not deadlock waiting on the callback that is waiting on it
			<-done
		},
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	tr.deliver(wrapTo(t, requestRumor(t, agent, merchant), agent, merchant.pub))
	assert.Equal(t, StateIdle, p.State())
}

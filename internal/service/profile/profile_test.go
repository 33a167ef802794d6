package profile

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"resv_relay/internal/cryptographic/dh"
	"resv_relay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestCacheExpiry(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1767300000, 0)}
	c := NewCache[string, int](time.Minute, clk.Now)

	c.Set("a", 1)
	clk.Advance(30 * time.Second)
	c.Set("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clk.Advance(30 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry is gone exactly at its ttl")
	assert.Equal(t, 1, c.Len())

	clk.Advance(time.Minute)
	assert.Equal(t, 1, c.Purge())
	assert.Zero(t, c.Len())
}

func TestCachesAreIsolated(t *testing.T) {
	a := NewCache[string, string](time.Hour, nil)
	b := NewCache[string, string](time.Hour, nil)
	a.Set("k", "v")

	_, ok := b.Get("k")
	assert.False(t, ok)
	a.Delete("k")
	_, ok = a.Get("k")
	assert.False(t, ok)
}

type metaTransport struct {
	mu      sync.Mutex
	events  []*model.Event
	queries int
}

type noopSub struct{}

func (noopSub) Close() {}

var _ Transport = (*metaTransport)(nil)

func (m *metaTransport) Subscribe(_ context.Context, f model.Filter, onEvent func(string, *model.Event), onEOSE func()) (model.Subscription, error) {
	m.mu.Lock()
	m.queries++
	evs := append([]*model.Event(nil), m.events...)
	m.mu.Unlock()

	for _, ev := range evs {
		// relays are not trusted to honour the filter
		onEvent("wss://relay.test", ev)
	}
	onEOSE()
	return noopSub{}, nil
}

func (m *metaTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

func keys(t *testing.T) ([]byte, string) {
	priv, pub, err := dh.NewKeyPair()
	require.NoError(t, err)
	return priv[:], hex.EncodeToString(pub[:])
}

func TestResolverPicksNewestAndCaches(t *testing.T) {
	priv, pub := keys(t)
	otherPriv, _ := keys(t)

	old, err := Metadata(priv, &model.Profile{Name: "old name"}, 100)
	require.NoError(t, err)
	cur, err := Metadata(priv, &model.Profile{Name: "Chez Test", About: "bistro"}, 200)
	require.NoError(t, err)
	spoof, err := Metadata(otherPriv, &model.Profile{Name: "spoofed"}, 300)
	require.NoError(t, err)

	clk := &fakeClock{t: time.Unix(1767300000, 0)}
	tr := &metaTransport{events: []*model.Event{cur, spoof, old}}
	r := NewResolver(tr, NewCache[string, *model.Profile](time.Minute, clk.Now))

	p, err := r.Lookup(context.Background(), pub)
	require.NoError(t, err)
	assert.Equal(t, "Chez Test", p.Name)
	assert.Equal(t, "bistro", p.About)
	assert.Equal(t, pub, p.PubKey)

	_, err = r.Lookup(context.Background(), pub)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.count())

	clk.Advance(2 * time.Minute)
	_, err = r.Lookup(context.Background(), pub)
	require.NoError(t, err)
	assert.Equal(t, 2, tr.count())
}

func TestResolverNotFound(t *testing.T) {
	_, pub := keys(t)
	r := NewResolver(&metaTransport{}, nil)

	_, err := r.Lookup(context.Background(), pub)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, r.Cache().Len())
}

func TestResolverRejectsBadKey(t *testing.T) {
	tr := &metaTransport{}
	r := NewResolver(tr, nil)

	_, err := r.Lookup(context.Background(), "zz")
	assert.ErrorIs(t, err, dh.ErrInvalidPeerKey)
	assert.Zero(t, tr.count())
}

func TestParseRejectsOtherKinds(t *testing.T) {
	_, err := Parse(&model.Event{Kind: model.KindGiftWrap, Content: "{}"})
	assert.Error(t, err)

	_, err = Parse(&model.Event{Kind: model.KindMetadata, Content: "not json"})
	assert.Error(t, err)
}

package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"resv_relay/internal/model"
	"resv_relay/internal/protocol/giftwrap"
	"resv_relay/internal/protocol/reservation"
	"resv_relay/internal/service/negotiation"
	"resv_relay/internal/service/pipeline"
	"resv_relay/internal/service/profile"
	"resv_relay/internal/service/relay"
	"resv_relay/internal/service/threads"
	"resv_relay/internal/utils/log"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

const archiveTimeout = 5 * time.Second

var ErrUnknownThread = errors.New("node: unknown thread")

type (
	// Network is the relay side of a node: subscribe for the pipeline, publish for the
	// negotiator.
	Network interface {
		pipeline.Transport
		negotiation.Publisher
	}

	// Archive persists delivered messages across restarts.
	Archive interface {
		Append(ctx context.Context, msgs ...*model.Message) error
		Load(ctx context.Context) ([]*model.Message, error)
	}

	Options struct {
		PrivateKey []byte
		Network    Network
		// Archive is optional.
		Archive  Archive
		Schema   reservation.Schema
		Registry metrics.Registry
	}

	// Node is one identity taking part in negotiations: it receives through the pipeline,
	// keeps the inbox and sends through the negotiator.
	Node struct {
		Pipeline   *pipeline.Pipeline
		Inbox      *threads.Inbox
		Negotiator *negotiation.Negotiator
		Profiles   *profile.Resolver

		priv     []byte
		network  Network
		archive  Archive
		registry metrics.Registry

		readyOnce sync.Once
		ready     chan struct{}
	}

	// PoolNetwork adapts a relay pool to Network.
	PoolNetwork struct {
		*relay.Pool
	}
)

var _ Network = PoolNetwork{}

func (p PoolNetwork) Subscribe(ctx context.Context, f model.Filter, onEvent func(string, *model.Event), onEOSE func()) (pipeline.Subscription, error) {
	sub, err := p.Pool.Subscribe(ctx, f, onEvent, onEOSE)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func New(opts Options) (*Node, error) {
	if opts.Network == nil {
		return nil, errors.New("node: no network")
	}
	if opts.Registry == nil {
		opts.Registry = metrics.NewRegistry()
	}
	proto := giftwrap.New(giftwrap.Options{})
	codec := reservation.NewCodec(opts.Schema)

	n := &Node{
		priv:     append([]byte(nil), opts.PrivateKey...),
		network:  opts.Network,
		archive:  opts.Archive,
		registry: opts.Registry,
		ready:    make(chan struct{}),
		Profiles: profile.NewResolver(opts.Network, nil),
	}

	var err error
	n.Pipeline, err = pipeline.New(opts.Network, pipeline.Config{
		PrivateKey: opts.PrivateKey,
		Protocol:   proto,
		Codec:      codec,
		Registry:   opts.Registry,
	}, pipeline.Handlers{
		OnMessage: n.deliver,
		OnReady:   func() { n.readyOnce.Do(func() { close(n.ready) }) },
		OnError: func(err error, ev *model.Event) {
			log.Warn("unusable reservation envelope", zap.String("wrap", ev.ID), zap.Error(err))
		},
	})
	if err != nil {
		return nil, err
	}
	n.Inbox = threads.NewInbox(n.Pipeline.PublicKey())

	n.Negotiator, err = negotiation.New(opts.Network, negotiation.Config{
		PrivateKey: opts.PrivateKey,
		Protocol:   proto,
		Codec:      codec,
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) PublicKey() string { return n.Pipeline.PublicKey() }

func (n *Node) Registry() metrics.Registry { return n.registry }

// Ready is closed once the relays' stored backlog has been processed.
func (n *Node) Ready() <-chan struct{} { return n.ready }

// Start replays the archive and opens the relay subscription.
func (n *Node) Start(ctx context.Context) error {
	if n.archive != nil {
		msgs, err := n.archive.Load(ctx)
		if err != nil {
			return fmt.Errorf("node: replay archive: %w", err)
		}
		n.Pipeline.Seed(msgs)
		n.Inbox.Add(msgs...)
		log.Info("archive replayed", zap.Int("messages", len(msgs)))
	}
	return n.Pipeline.Start(ctx)
}

func (n *Node) Stop() {
	n.Pipeline.Stop()
}

// SendRequest opens a thread with merchantPub and records the request locally.
func (n *Node) SendRequest(ctx context.Context, merchantPub string, req *model.ReservationRequest) (*negotiation.Result, error) {
	res, err := n.Negotiator.SendRequest(ctx, merchantPub, req)
	if err != nil {
		return res, err
	}
	n.record(res.Message)
	return res, nil
}

// Reply answers the thread rooted at rootID.
func (n *Node) Reply(ctx context.Context, rootID string, payload model.Payload) (*negotiation.Result, error) {
	th, ok := n.Inbox.Thread(rootID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownThread, rootID)
	}
	res, err := n.Negotiator.Reply(ctx, th, payload)
	if err != nil {
		return res, err
	}
	n.record(res.Message)
	return res, nil
}

// AcceptModification accepts the counterparty's latest proposal in the thread.
func (n *Node) AcceptModification(ctx context.Context, rootID, note string) (*negotiation.Result, error) {
	th, ok := n.Inbox.Thread(rootID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownThread, rootID)
	}
	res, err := n.Negotiator.AcceptModification(ctx, th, note)
	if err != nil {
		return res, err
	}
	n.record(res.Message)
	return res, nil
}

// Announce publishes p as this identity's kind-0 metadata.
func (n *Node) Announce(ctx context.Context, p *model.Profile) error {
	ev, err := profile.Metadata(n.priv, p, time.Now().Unix())
	if err != nil {
		return err
	}
	accepted := false
	for url, err := range n.network.Publish(ctx, ev, nil) {
		if err != nil {
			log.Warn("profile not published", zap.String("relay", url), zap.Error(err))
			continue
		}
		accepted = true
	}
	if !accepted {
		return negotiation.ErrNotPublished
	}
	return nil
}

func (n *Node) deliver(msg *model.Message) {
	n.record(msg)
}

// record adds msg to the inbox and, when it is new, to the archive.
func (n *Node) record(msg *model.Message) {
	if n.Inbox.Add(msg) == 0 || n.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := n.archive.Append(ctx, msg); err != nil {
		log.Error("archive append failed", zap.String("rumor", msg.ID()), zap.Error(err))
	}
}

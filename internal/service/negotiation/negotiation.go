package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resv_relay/internal/cryptographic/dh"
	"resv_relay/internal/model"
	"resv_relay/internal/protocol/giftwrap"
	"resv_relay/internal/protocol/reservation"
	"resv_relay/internal/protocol/thread"
	"resv_relay/internal/utils/log"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotPublished  = errors.New("negotiation: no relay accepted the message")
	ErrNoPartner     = errors.New("negotiation: thread has no counterparty")
	ErrNothingToDo   = errors.New("negotiation: no pending modification request")
	ErrInvalidThread = errors.New("negotiation: thread has no messages")
)

type (
	// Publisher sends a signed event to relays and reports the outcome per relay.
	Publisher interface {
		Publish(ctx context.Context, ev *model.Event, relays []string) map[string]error
	}

	Config struct {
		PrivateKey []byte
		// Relays overrides the publisher's default relay set when not empty.
		Relays   []string
		Protocol *giftwrap.Protocol
		Codec    *reservation.Codec
		Now      func() time.Time
	}

	Negotiator struct {
		publisher Publisher
		priv      []byte
		pub       string
		relays    []string
		proto     *giftwrap.Protocol
		codec     *reservation.Codec
		now       func() time.Time
	}

	// Result describes one sent message. Message is the locally built view of the rumor,
	// ready to be added to an inbox before the self copy comes back from a relay.
	Result struct {
		Message   *model.Message
		Recipient map[string]error
		Self      map[string]error
	}
)

func New(publisher Publisher, cfg Config) (*Negotiator, error) {
	pub, err := dh.PublicKeyHex(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("negotiation: %w", err)
	}
	n := &Negotiator{
		publisher: publisher,
		priv:      append([]byte(nil), cfg.PrivateKey...),
		pub:       pub,
		relays:    cfg.Relays,
		proto:     cfg.Protocol,
		codec:     cfg.Codec,
		now:       cfg.Now,
	}
	if n.proto == nil {
		n.proto = giftwrap.New(giftwrap.Options{})
	}
	if n.codec == nil {
		n.codec = reservation.NewCodec(reservation.DefaultSchema)
	}
	if n.now == nil {
		n.now = time.Now
	}
	return n, nil
}

func (n *Negotiator) PublicKey() string { return n.pub }

// SendRequest opens a new thread with merchantPub.
func (n *Negotiator) SendRequest(ctx context.Context, merchantPub string, req *model.ReservationRequest) (*Result, error) {
	if _, err := dh.ParsePublicKeyHex(merchantPub); err != nil {
		return nil, err
	}
	return n.send(ctx, merchantPub, req, func(tags model.Tags) model.Tags {
		return thread.AddParticipants(tags, merchantPub)
	})
}

// Reply answers the latest message of th with payload.
func (n *Negotiator) Reply(ctx context.Context, th *model.ConversationThread, payload model.Payload) (*Result, error) {
	if th == nil || th.Latest == nil {
		return nil, ErrInvalidThread
	}
	partner := th.PartnerPubKey
	if partner == "" || partner == n.pub {
		return nil, ErrNoPartner
	}

	var rootRelay string
	if th.InitialRequest != nil {
		rootRelay = th.InitialRequest.Relay
	}
	latest := th.Latest
	return n.send(ctx, partner, payload, func(tags model.Tags) model.Tags {
		tags = thread.MarkReply(tags, th.RootID, latest.ID(), rootRelay, latest.Relay)
		return thread.AddParticipants(tags, partner)
	})
}

// AcceptModification accepts the most recent modification request in th.
func (n *Negotiator) AcceptModification(ctx context.Context, th *model.ConversationThread, note string) (*Result, error) {
	if th == nil {
		return nil, ErrInvalidThread
	}
	for i := len(th.Messages) - 1; i >= 0; i-- {
		m := th.Messages[i]
		if m.Author() == n.pub {
			continue
		}
		if m.Type != model.MessageTypeModificationRequest {
			continue
		}
		req, ok := m.Payload.(*model.ReservationModificationRequest)
		if !ok {
			continue
		}
		slot := req.Slot
		return n.Reply(ctx, th, &model.ReservationModificationResponse{
			Status:  model.StatusAccepted,
			Slot:    &slot,
			Message: note,
		})
	}
	return nil, ErrNothingToDo
}

func (n *Negotiator) send(ctx context.Context, recipient string, payload model.Payload, decorate func(model.Tags) model.Tags) (*Result, error) {
	enc, err := n.codec.Encode(payload)
	if err != nil {
		return nil, err
	}

	rumor := giftwrap.NewRumor(n.pub, enc.Kind, decorate(enc.Tags), enc.Content, n.now().Unix())
	toRecipient, toSelf, err := n.proto.SendWithSelfCopy(rumor, n.priv, recipient, n.pub)
	if err != nil {
		return nil, fmt.Errorf("negotiation: wrap: %w", err)
	}

	res := &Result{
		Message: &model.Message{
			Rumor:   rumor,
			Type:    payload.MessageType(),
			Payload: payload,
			Context: thread.ReadContext(rumor),
		},
	}

	// both copies go out together; the per-relay outcome is kept instead of failing fast
	var g errgroup.Group
	g.Go(func() error {
		res.Recipient = n.publisher.Publish(ctx, toRecipient, n.relays)
		return nil
	})
	g.Go(func() error {
		res.Self = n.publisher.Publish(ctx, toSelf, n.relays)
		return nil
	})
	_ = g.Wait()

	if !res.Delivered() {
		return res, fmt.Errorf("%w: %w", ErrNotPublished, res.firstError())
	}

	log.Info("reservation message sent",
		zap.String("rumor", rumor.ID),
		zap.String("type", payload.MessageType().String()),
		zap.String("to", recipient),
		zap.Int("accepted", res.accepted()),
	)
	return res, nil
}

// Delivered reports whether at least one relay accepted either copy.
func (r *Result) Delivered() bool {
	return r.accepted() > 0
}

func (r *Result) accepted() int {
	n := 0
	for _, m := range []map[string]error{r.Recipient, r.Self} {
		for _, err := range m {
			if err == nil {
				n++
			}
		}
	}
	return n
}

func (r *Result) firstError() error {
	for _, m := range []map[string]error{r.Recipient, r.Self} {
		for relay, err := range m {
			if err != nil {
				return fmt.Errorf("%s: %w", relay, err)
			}
		}
	}
	return errors.New("no relays configured")
}

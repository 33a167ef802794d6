package giftwrap

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"resv_relay/internal/cryptographic/dh"
	"resv_relay/internal/cryptographic/encryption"
	"resv_relay/internal/model"
	"resv_relay/internal/protocol/event"
)

// MaxTimestampSkew bounds how far in the past a wrap's created_at is pushed.
const MaxTimestampSkew = 2 * 24 * time.Hour

type (
	Options struct {
		// Now defaults to time.Now.
		Now func() time.Time
		// Rand feeds the timestamp offset; defaults to crypto/rand.Reader.
		Rand io.Reader
	}

	Protocol struct {
		now  func() time.Time
		rand io.Reader
	}
)

func New(opts Options) *Protocol {
	p := &Protocol{now: opts.Now, rand: opts.Rand}
	if p.now == nil {
		p.now = time.Now
	}
	if p.rand == nil {
		p.rand = rand.Reader
	}
	return p
}

// NewRumor builds an unsigned event and fills its id.
func NewRumor(pubkey string, kind int, tags model.Tags, content string, createdAt int64) *model.Event {
	if tags == nil {
		tags = model.Tags{}
	}
	ev := &model.Event{
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags.Clone(),
		Content:   content,
	}
	ev.ID = event.ComputeID(ev)
	return ev
}

// Seal encrypts the rumor to recipientPub and signs the result with senderPriv.
func (p *Protocol) Seal(rumor *model.Event, senderPriv []byte, recipientPub string) (*model.Event, error) {
	senderPub, err := dh.PublicKeyHex(senderPriv)
	if err != nil {
		return nil, err
	}
	if rumor.Sig != "" {
		return nil, errors.New("giftwrap: rumor must not be signed")
	}
	if rumor.PubKey != senderPub {
		return nil, fmt.Errorf("giftwrap: rumor author %s is not the sealing key %s", rumor.PubKey, senderPub)
	}
	if !event.CheckID(rumor) {
		return nil, event.ErrIDMismatch
	}

	content, err := encryptTo(rumor, senderPriv, recipientPub)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	seal := &model.Event{
		CreatedAt: p.now().Unix(),
		Kind:      model.KindSeal,
		Tags:      model.Tags{},
		Content:   content,
	}
	if err := event.Sign(seal, senderPriv); err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return seal, nil
}

// Wrap encrypts the seal to recipientPub under a fresh ephemeral key, which is wiped
// once the wrap is signed.
func (p *Protocol) Wrap(seal *model.Event, recipientPub string) (*model.Event, error) {
	if seal.Kind != model.KindSeal {
		return nil, fmt.Errorf("giftwrap: expected kind %d, got %d", model.KindSeal, seal.Kind)
	}

	ephPriv, _, err := dh.NewKeyPair()
	if err != nil {
		return nil, err
	}
	defer clear(ephPriv[:])

	content, err := encryptTo(seal, ephPriv[:], recipientPub)
	if err != nil {
		return nil, fmt.Errorf("wrap: %w", err)
	}

	createdAt, err := p.randomPast()
	if err != nil {
		return nil, err
	}

	wrap := &model.Event{
		CreatedAt: createdAt,
		Kind:      model.KindGiftWrap,
		Tags:      model.Tags{{"p", recipientPub}},
		Content:   content,
	}
	if err := event.Sign(wrap, ephPriv[:]); err != nil {
		return nil, fmt.Errorf("wrap: %w", err)
	}
	return wrap, nil
}

// SendWithSelfCopy seals and wraps rumor twice: once for the counterparty and once for
// the sender's own key, so the sender can recover its history from relays. Both wraps
// carry the same rumor id.
func (p *Protocol) SendWithSelfCopy(rumor *model.Event, senderPriv []byte, recipientPub, myPub string) (toRecipient, toSelf *model.Event, err error) {
	toRecipient, err = p.sealAndWrap(rumor, senderPriv, recipientPub)
	if err != nil {
		return nil, nil, err
	}
	toSelf, err = p.sealAndWrap(rumor, senderPriv, myPub)
	if err != nil {
		return nil, nil, err
	}
	return toRecipient, toSelf, nil
}

func (p *Protocol) sealAndWrap(rumor *model.Event, senderPriv []byte, recipientPub string) (*model.Event, error) {
	seal, err := p.Seal(rumor, senderPriv, recipientPub)
	if err != nil {
		return nil, err
	}
	return p.Wrap(seal, recipientPub)
}

// Unwrap opens a gift wrap addressed to myPriv's owner and returns the rumor inside.
// Every failure is an *UnwrapError.
func (p *Protocol) Unwrap(wrap *model.Event, myPriv []byte) (*model.Event, error) {
	if wrap == nil || wrap.Kind != model.KindGiftWrap {
		return nil, structural("wrap", errors.New("not a gift wrap"))
	}
	if err := event.Verify(wrap); err != nil {
		return nil, structural("wrap", err)
	}

	var seal model.Event
	if err := decryptFrom(wrap, myPriv, &seal); err != nil {
		return nil, classify("wrap", err)
	}
	if seal.Kind != model.KindSeal {
		return nil, structural("seal", fmt.Errorf("unexpected kind %d", seal.Kind))
	}
	if len(seal.Tags) != 0 {
		return nil, structural("seal", errors.New("seal must not carry tags"))
	}
	if err := event.Verify(&seal); err != nil {
		return nil, structural("seal", err)
	}

	var rumor model.Event
	if err := decryptFrom(&seal, myPriv, &rumor); err != nil {
		return nil, classify("seal", err)
	}
	if rumor.Sig != "" {
		return nil, structural("rumor", errors.New("rumor is signed"))
	}
	if rumor.PubKey != seal.PubKey {
		return nil, structural("rumor", fmt.Errorf("author %s does not match seal signer %s", rumor.PubKey, seal.PubKey))
	}
	if !event.CheckID(&rumor) {
		return nil, structural("rumor", event.ErrIDMismatch)
	}
	if rumor.Tags == nil {
		rumor.Tags = model.Tags{}
	}
	return &rumor, nil
}

func (p *Protocol) randomPast() (int64, error) {
	n, err := rand.Int(p.rand, big.NewInt(int64(MaxTimestampSkew/time.Second)))
	if err != nil {
		return 0, fmt.Errorf("random timestamp: %w", err)
	}
	return p.now().Unix() - n.Int64(), nil
}

func encryptTo(v *model.Event, priv []byte, recipientPub string) (string, error) {
	pub, err := hex.DecodeString(recipientPub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", dh.ErrInvalidPeerKey, err)
	}
	key, err := encryption.ConversationKey(priv, pub)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return encryption.Encrypt(data, key)
}

// decryptFrom opens ev.Content using the conversation key with ev's signer.
func decryptFrom(ev *model.Event, myPriv []byte, out *model.Event) error {
	pub, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", dh.ErrInvalidPeerKey, err)
	}
	key, err := encryption.ConversationKey(myPriv, pub)
	if err != nil {
		return err
	}
	plain, err := encryption.Decrypt(ev.Content, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// classify maps cipher failures to ReasonAuthentication and everything else that went
// wrong after decryption to ReasonStructural.
func classify(layer string, err error) error {
	if errors.Is(err, encryption.ErrAuthenticationFailed) || errors.Is(err, encryption.ErrMalformedPayload) {
		return authFailure(layer, err)
	}
	return structural(layer, err)
}

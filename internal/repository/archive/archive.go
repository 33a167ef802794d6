package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"resv_relay/internal/cryptographic/dh"
	"resv_relay/internal/cryptographic/encryption"
	"resv_relay/internal/cryptographic/kdf"
	"resv_relay/internal/model"
	"resv_relay/internal/protocol/event"
	"resv_relay/internal/protocol/reservation"
	"resv_relay/internal/protocol/thread"
	"resv_relay/internal/utils/log"

	"go.uber.org/zap"
)

// DefaultLimit bounds how many messages are kept per identity.
const DefaultLimit = 10000

var archiveInfo = []byte("resv archive v1")

type (
	// ListStore is the subset of the redis service the archive needs.
	ListStore interface {
		RPush(ctx context.Context, key string, value ...any) error
		LRange(ctx context.Context, key string) ([]string, error)
		LTrimTail(ctx context.Context, key string, n int64) error
		Del(ctx context.Context, key string) error
	}

	// Archive keeps delivered rumors of one identity, encrypted under a key derived from
	// that identity's private key.
	Archive struct {
		store ListStore
		key   string
		aead  []byte
		codec *reservation.Codec
		limit int64
	}

	record struct {
		WrapID string       `json:"wrap_id,omitempty"`
		Relay  string       `json:"relay,omitempty"`
		Rumor  *model.Event `json:"rumor"`
	}
)

func New(store ListStore, priv []byte, codec *reservation.Codec) (*Archive, error) {
	pub, err := dh.PublicKeyHex(priv)
	if err != nil {
		return nil, err
	}
	aeadKey := make([]byte, 32)
	if _, err := kdf.HKDF(priv, nil, archiveInfo, aeadKey); err != nil {
		return nil, fmt.Errorf("archive: derive key: %w", err)
	}
	if codec == nil {
		codec = reservation.NewCodec(reservation.DefaultSchema)
	}
	// the key name does not reveal the identity it belongs to
	sum := sha256.Sum256(append([]byte("archive:"), pub...))
	return &Archive{
		store: store,
		key:   "archive:" + hex.EncodeToString(sum[:16]),
		aead:  aeadKey,
		codec: codec,
		limit: DefaultLimit,
	}, nil
}

func (a *Archive) Key() string { return a.key }

// Append stores msgs in delivery order.
func (a *Archive) Append(ctx context.Context, msgs ...*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	vals := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(record{WrapID: m.WrapID, Relay: m.Relay, Rumor: m.Rumor})
		if err != nil {
			return err
		}
		sealed, err := encryption.AEADEncrypt(a.aead, data, []byte(a.key))
		if err != nil {
			return err
		}
		vals = append(vals, sealed)
	}
	if err := a.store.RPush(ctx, a.key, vals...); err != nil {
		return fmt.Errorf("archive: push: %w", err)
	}
	return a.store.LTrimTail(ctx, a.key, a.limit)
}

// Load returns the archived messages, decoded again through the codec. Entries that
// no longer decrypt or parse are skipped.
func (a *Archive) Load(ctx context.Context) ([]*model.Message, error) {
	vals, err := a.store.LRange(ctx, a.key)
	if err != nil {
		return nil, fmt.Errorf("archive: load: %w", err)
	}

	res := make([]*model.Message, 0, len(vals))
	for i, v := range vals {
		m, err := a.decode([]byte(v))
		if err != nil {
			log.Warn("skipping archive entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		res = append(res, m)
	}
	return res, nil
}

func (a *Archive) decode(v []byte) (*model.Message, error) {
	plain, err := encryption.AEADDecrypt(a.aead, v, []byte(a.key))
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(plain, &rec); err != nil {
		return nil, err
	}
	if rec.Rumor == nil || !event.CheckID(rec.Rumor) {
		return nil, event.ErrIDMismatch
	}
	typ := model.MessageTypeOfKind(rec.Rumor.Kind)
	payload, err := a.codec.Decode(rec.Rumor)
	if err != nil {
		return nil, err
	}
	return &model.Message{
		Rumor:   rec.Rumor,
		Type:    typ,
		Payload: payload,
		Context: thread.ReadContext(rec.Rumor),
		WrapID:  rec.WrapID,
		Relay:   rec.Relay,
	}, nil
}

func (a *Archive) Clear(ctx context.Context) error {
	return a.store.Del(ctx, a.key)
}

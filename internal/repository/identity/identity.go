package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resv_relay/internal/cryptographic/dh"
	"resv_relay/internal/model"
	"resv_relay/internal/utils/log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type (
	IdentityRepo struct {
		collection *mongo.Collection
	}

	// KeyStore is the raw-key view of one named identity.
	KeyStore struct {
		repo *IdentityRepo
		name string
	}
)

func NewIdentityRepo(db *mongo.Database) *IdentityRepo {
	return &IdentityRepo{
		collection: db.Collection("identities"),
	}
}

// GetByName returns nil when no identity is stored under name.
func (r *IdentityRepo) GetByName(ctx context.Context, name string) (*model.Identity, error) {
	filter := bson.M{
		"name": name,
	}

	var id model.Identity
	err := r.collection.FindOne(ctx, filter).Decode(&id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &id, nil
}

func (r *IdentityRepo) Create(ctx context.Context, id *model.Identity) (primitive.ObjectID, error) {
	res, err := r.collection.InsertOne(ctx, id)
	if err != nil {
		return primitive.NilObjectID, err
	}

	oid := res.InsertedID.(primitive.ObjectID)
	id.ID = oid
	return oid, nil
}

func (r *IdentityRepo) KeyStore(name string) *KeyStore {
	return &KeyStore{repo: r, name: name}
}

// LoadPrivateKey returns the stored key, or nil when there is none yet.
func (s *KeyStore) LoadPrivateKey(ctx context.Context) ([]byte, error) {
	id, err := s.repo.GetByName(ctx, s.name)
	if err != nil || id == nil {
		return nil, err
	}
	return id.PrivateKey, nil
}

// StorePrivateKey persists priv under the store's name.
func (s *KeyStore) StorePrivateKey(ctx context.Context, priv []byte) error {
	pub, err := dh.PublicKeyHex(priv)
	if err != nil {
		return err
	}
	_, err = s.repo.Create(ctx, &model.Identity{
		Name:       s.name,
		PrivateKey: append([]byte(nil), priv...),
		PublicKey:  pub,
		CreatedAt:  time.Now().Unix(),
	})
	return err
}

// LoadOrCreate returns the stored key, generating and storing a fresh one on first use.
func (s *KeyStore) LoadOrCreate(ctx context.Context) ([]byte, error) {
	priv, err := s.LoadPrivateKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: load %q: %w", s.name, err)
	}
	if priv != nil {
		if _, err := dh.ParsePrivateKey(priv); err != nil {
			return nil, fmt.Errorf("identity: stored key for %q: %w", s.name, err)
		}
		return priv, nil
	}

	sk, _, err := dh.NewKeyPair()
	if err != nil {
		return nil, err
	}
	if err := s.StorePrivateKey(ctx, sk[:]); err != nil {
		return nil, fmt.Errorf("identity: store %q: %w", s.name, err)
	}
	log.Info("created identity", zap.String("name", s.name))
	return sk[:], nil
}

package model

import "go.mongodb.org/mongo-driver/bson/primitive"

type (
	// Identity is a stored long-lived key. PrivateKey holds the raw 32-byte scalar.
	Identity struct {
		ID         primitive.ObjectID `bson:"_id,omitempty"`
		Name       string             `bson:"name"`
		PrivateKey []byte             `bson:"private_key"`
		PublicKey  string             `bson:"public_key"`
		CreatedAt  int64              `bson:"created_at"`
	}

	// Profile is the public kind-0 metadata of an identity.
	Profile struct {
		PubKey      string `json:"-"`
		Name        string `json:"name,omitempty"`
		DisplayName string `json:"display_name,omitempty"`
		About       string `json:"about,omitempty"`
		Picture     string `json:"picture,omitempty"`
		NIP05       string `json:"nip05,omitempty"`
	}
)

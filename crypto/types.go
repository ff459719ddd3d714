package crypto

import (
	"crypto"
	"errors"
)

// KeyType identifies the signing algorithm a KeyPair implements.
type KeyType string

const (
	KeyTypeEd25519   KeyType = "Ed25519"
	KeyTypeSecp256k1 KeyType = "Secp256k1"
)

// KeyPair is a signing identity: the long-lived key behind a Peer's
// public_key field. The transport never generates key material itself —
// it is handed a KeyPair at construction and only ever calls Sign/Verify.
type KeyPair interface {
	// PublicKey returns the public key.
	PublicKey() crypto.PublicKey

	// PrivateKey returns the private key.
	PrivateKey() crypto.PrivateKey

	// Type returns the key type.
	Type() KeyType

	// PublicKeyBytes returns the canonical wire encoding of the public
	// key: raw 32 bytes for Ed25519, SEC1-compressed 33 bytes for
	// Secp256k1. This is the encoding peer addresses are derived from
	// and the encoding placed in a signed peer frame.
	PublicKeyBytes() []byte

	// Sign signs the given message.
	Sign(message []byte) ([]byte, error)

	// Verify verifies the signature.
	Verify(message, signature []byte) error

	// ID returns a short, stable identifier derived from the public key.
	ID() string
}

// KeyStorage provides storage for a node's own key pairs, keyed by ID.
type KeyStorage interface {
	Store(id string, keyPair KeyPair) error
	Load(id string) (KeyPair, error)
	Delete(id string) error
	List() ([]string, error)
	Exists(id string) bool
}

// Common errors returned by KeyPair and KeyStorage implementations.
var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrInvalidKeyType   = errors.New("invalid key type")
	ErrKeyExists        = errors.New("key already exists")
	ErrInvalidSignature = errors.New("invalid signature")
)

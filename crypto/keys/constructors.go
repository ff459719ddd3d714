// Copyright (C) 2025 kademesh
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	sagecrypto "github.com/kademesh/kademesh/crypto"
)

// NewEd25519KeyPair wraps an existing Ed25519 private key.
func NewEd25519KeyPair(privateKey ed25519.PrivateKey, id string) (sagecrypto.KeyPair, error) {
	publicKey := privateKey.Public().(ed25519.PublicKey)

	if id == "" {
		hash := sha256.Sum256(publicKey)
		id = hex.EncodeToString(hash[:8])
	}

	return &ed25519KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         id,
	}, nil
}

// NewSecp256k1KeyPair wraps an existing Secp256k1 private key.
func NewSecp256k1KeyPair(privateKey *secp256k1.PrivateKey, id string) (sagecrypto.KeyPair, error) {
	publicKey := privateKey.PubKey()

	if id == "" {
		pubKeyBytes := publicKey.SerializeCompressed()
		hash := sha256.Sum256(pubKeyBytes)
		id = hex.EncodeToString(hash[:8])
	}

	return &secp256k1KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         id,
	}, nil
}

// publicKeyOnlyEd25519 wraps an Ed25519 public key for verification only,
// used to hold a remote peer's claimed key without its private half.
type publicKeyOnlyEd25519 struct {
	publicKey ed25519.PublicKey
	id        string
}

func (pk *publicKeyOnlyEd25519) PublicKey() crypto.PublicKey   { return pk.publicKey }
func (pk *publicKeyOnlyEd25519) PrivateKey() crypto.PrivateKey { return nil }
func (pk *publicKeyOnlyEd25519) Type() sagecrypto.KeyType      { return sagecrypto.KeyTypeEd25519 }
func (pk *publicKeyOnlyEd25519) ID() string                    { return pk.id }
func (pk *publicKeyOnlyEd25519) PublicKeyBytes() []byte {
	out := make([]byte, len(pk.publicKey))
	copy(out, pk.publicKey)
	return out
}

func (pk *publicKeyOnlyEd25519) Sign(message []byte) ([]byte, error) {
	return nil, errors.New("cannot sign with public key only")
}

func (pk *publicKeyOnlyEd25519) Verify(message, signature []byte) error {
	if !ed25519.Verify(pk.publicKey, message, signature) {
		return sagecrypto.ErrInvalidSignature
	}
	return nil
}

// NewEd25519PublicKey wraps a remote peer's claimed Ed25519 public key for
// verification-only use by the version gate and message codec.
func NewEd25519PublicKey(publicKey ed25519.PublicKey, id string) sagecrypto.KeyPair {
	if id == "" {
		hash := sha256.Sum256(publicKey)
		id = hex.EncodeToString(hash[:8])
	}
	return &publicKeyOnlyEd25519{publicKey: publicKey, id: id}
}

// publicKeyOnlySecp256k1 wraps a Secp256k1 public key for verification
// only, used to hold a remote peer's claimed key without its private half.
type publicKeyOnlySecp256k1 struct {
	publicKey *secp256k1.PublicKey
	id        string
}

func (pk *publicKeyOnlySecp256k1) PublicKey() crypto.PublicKey   { return pk.publicKey.ToECDSA() }
func (pk *publicKeyOnlySecp256k1) PrivateKey() crypto.PrivateKey { return nil }
func (pk *publicKeyOnlySecp256k1) Type() sagecrypto.KeyType      { return sagecrypto.KeyTypeSecp256k1 }
func (pk *publicKeyOnlySecp256k1) ID() string                    { return pk.id }
func (pk *publicKeyOnlySecp256k1) PublicKeyBytes() []byte        { return pk.publicKey.SerializeCompressed() }

func (pk *publicKeyOnlySecp256k1) Sign(message []byte) ([]byte, error) {
	return nil, errors.New("cannot sign with public key only")
}

func (pk *publicKeyOnlySecp256k1) Verify(message, signature []byte) error {
	kp := &secp256k1KeyPair{publicKey: pk.publicKey}
	return kp.Verify(message, signature)
}

// NewSecp256k1PublicKeyFromBytes parses a SEC1-compressed Secp256k1 public
// key for verification-only use by the version gate and message codec.
func NewSecp256k1PublicKeyFromBytes(compressed []byte, id string) (sagecrypto.KeyPair, error) {
	pub, err := secp256k1.ParsePubKey(compressed)
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 public key: %w", err)
	}
	if id == "" {
		hash := sha256.Sum256(compressed)
		id = hex.EncodeToString(hash[:8])
	}
	return &publicKeyOnlySecp256k1{publicKey: pub, id: id}, nil
}

// VerifyPublicKeyBytes verifies signature over message against a raw
// public key encoding (PublicKeyBytes' format) of the given key type,
// without needing a full KeyPair. It is the primitive the message codec
// and version gate use to check a peer's self-claimed signature.
func VerifyPublicKeyBytes(keyType sagecrypto.KeyType, publicKeyBytes, message, signature []byte) error {
	switch keyType {
	case sagecrypto.KeyTypeEd25519:
		if len(publicKeyBytes) != ed25519.PublicKeySize {
			return fmt.Errorf("invalid ed25519 public key length %d", len(publicKeyBytes))
		}
		return NewEd25519PublicKey(ed25519.PublicKey(publicKeyBytes), "").Verify(message, signature)
	case sagecrypto.KeyTypeSecp256k1:
		kp, err := NewSecp256k1PublicKeyFromBytes(publicKeyBytes, "")
		if err != nil {
			return err
		}
		return kp.Verify(message, signature)
	default:
		return fmt.Errorf("%w: %q", sagecrypto.ErrInvalidKeyType, keyType)
	}
}

// Package signature verifies request signatures against participant
// public keys. The core does not issue signatures; it only checks what
// the boundary hands it. Payloads are canonicalized with RFC 8785 (JCS)
// before hashing so that JSON field order cannot change the digest.
package signature

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/gowebpki/jcs"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
)

// Verifier validates a canonical encoding of a request payload against
// the initiator's public key.
type Verifier interface {
	Verify(publicKey []byte, payload any, sig []byte) error
}

// Secp256k1Verifier verifies DER-encoded ECDSA signatures over the
// SHA-256 of the canonical payload encoding.
type Secp256k1Verifier struct{}

// NewVerifier returns the default secp256k1 verifier.
func NewVerifier() *Secp256k1Verifier { return &Secp256k1Verifier{} }

// Digest computes the canonical SHA-256 digest of a payload.
func Digest(payload any) ([32]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return [32]byte{}, err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canon), nil
}

// Verify checks sig over the canonical digest of payload. Any failure
// is an E005: a request with a bad signature is fatal, never retried.
func (v *Secp256k1Verifier) Verify(publicKey []byte, payload any, sig []byte) error {
	pub, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return errs.InvalidSignature("malformed public key")
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return errs.InvalidSignature("malformed signature")
	}
	digest, err := Digest(payload)
	if err != nil {
		return errs.InvalidSignature("payload cannot be canonicalized")
	}
	if !parsed.Verify(digest[:], pub) {
		return errs.InvalidSignature("signature verification failed")
	}
	return nil
}

// NopVerifier accepts every signature. Used in standalone mode and
// tests, where the boundary has already authenticated the caller.
type NopVerifier struct{}

// Verify always succeeds.
func (NopVerifier) Verify([]byte, any, []byte) error { return nil }

package signature

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slawa19/GEOv0-sub001/internal/core/errs"
)

func signPayload(t *testing.T, key *secp256k1.PrivateKey, payload any) []byte {
	t.Helper()
	digest, err := Digest(payload)
	require.NoError(t, err)
	return ecdsa.Sign(key, digest[:]).Serialize()
}

func TestVerify(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pub := key.PubKey().SerializeCompressed()
	v := NewVerifier()

	payload := map[string]any{"from": "alice", "to": "bob", "amount": "10"}
	sig := signPayload(t, key, payload)
	require.NoError(t, v.Verify(pub, payload, sig))

	// Field order does not matter after canonicalization.
	reordered := map[string]any{"amount": "10", "to": "bob", "from": "alice"}
	require.NoError(t, v.Verify(pub, reordered, sig))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pub := key.PubKey().SerializeCompressed()
	v := NewVerifier()

	sig := signPayload(t, key, map[string]any{"amount": "10"})
	err = v.Verify(pub, map[string]any{"amount": "11"}, sig)
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidSignature, errs.CodeOf(err))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	other, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	v := NewVerifier()

	payload := map[string]any{"amount": "10"}
	sig := signPayload(t, key, payload)
	err = v.Verify(other.PubKey().SerializeCompressed(), payload, sig)
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidSignature, errs.CodeOf(err))
}

func TestVerifyRejectsMalformedInputs(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pub := key.PubKey().SerializeCompressed()
	v := NewVerifier()

	err = v.Verify([]byte{0x00, 0x01}, map[string]any{}, signPayload(t, key, map[string]any{}))
	assert.Equal(t, errs.CodeInvalidSignature, errs.CodeOf(err))

	err = v.Verify(pub, map[string]any{}, []byte("not-der"))
	assert.Equal(t, errs.CodeInvalidSignature, errs.CodeOf(err))
}

func TestNopVerifier(t *testing.T) {
	assert.NoError(t, NopVerifier{}.Verify(nil, nil, nil))
}

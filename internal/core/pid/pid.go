// Package pid derives printable participant identifiers from public
// keys. A PID is the base58check encoding of RIPEMD160(SHA256(pubkey))
// with a fixed version byte, so it is short, checksummed, and cannot be
// forged without the key.
package pid

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/decred/dcrd/crypto/ripemd160"
)

// IDSize is the size of the raw participant ID in bytes.
const IDSize = 20

// versionByte prefixes every encoded PID; it makes all PIDs start with
// the same leading character.
const versionByte = 0x26 // 'G'

const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var (
	// ErrInvalidPID is returned for strings that are not well-formed PIDs.
	ErrInvalidPID = errors.New("invalid participant identifier")

	bigRadix = big.NewInt(58)
	decodeMap [256]int8
)

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i, c := range alphabet {
		decodeMap[c] = int8(i)
	}
}

// CalcID computes the raw 160-bit participant ID from a public key:
// RIPEMD160(SHA256(publicKey)). Two different hashes are used to rule
// out length-extension issues; 160 bits keeps identifiers short.
func CalcID(publicKey []byte) [IDSize]byte {
	sha := sha256.Sum256(publicKey)
	h := ripemd160.New()
	h.Write(sha[:])
	sum := h.Sum(nil)

	var id [IDSize]byte
	copy(id[:], sum)
	return id
}

// FromPublicKey derives the printable PID for a public key.
func FromPublicKey(publicKey []byte) string {
	id := CalcID(publicKey)
	return Encode(id)
}

// Encode renders a raw participant ID as a base58check string.
func Encode(id [IDSize]byte) string {
	payload := make([]byte, 0, 1+IDSize+4)
	payload = append(payload, versionByte)
	payload = append(payload, id[:]...)
	payload = append(payload, checksum(payload)...)
	return base58Encode(payload)
}

// Decode parses a printable PID back into its raw ID, verifying the
// version byte and checksum.
func Decode(s string) ([IDSize]byte, error) {
	var id [IDSize]byte
	raw, err := base58Decode(s)
	if err != nil {
		return id, err
	}
	if len(raw) != 1+IDSize+4 {
		return id, ErrInvalidPID
	}
	if raw[0] != versionByte {
		return id, ErrInvalidPID
	}
	if !bytes.Equal(raw[len(raw)-4:], checksum(raw[:len(raw)-4])) {
		return id, ErrInvalidPID
	}
	copy(id[:], raw[1:1+IDSize])
	return id, nil
}

// Valid reports whether s decodes as a well-formed PID.
func Valid(s string) bool {
	_, err := Decode(s)
	return err == nil
}

// checksum is the first four bytes of a double SHA256.
func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

func base58Encode(b []byte) string {
	x := new(big.Int).SetBytes(b)
	mod := new(big.Int)

	out := make([]byte, 0, len(b)*137/100+1)
	for x.Sign() > 0 {
		x.DivMod(x, bigRadix, mod)
		out = append(out, alphabet[mod.Int64()])
	}
	for _, c := range b {
		if c != 0 {
			break
		}
		out = append(out, alphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func base58Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrInvalidPID
	}
	x := new(big.Int)
	for _, c := range []byte(s) {
		d := decodeMap[c]
		if d < 0 {
			return nil, ErrInvalidPID
		}
		x.Mul(x, bigRadix)
		x.Add(x, big.NewInt(int64(d)))
	}
	raw := x.Bytes()

	var leading int
	for leading = 0; leading < len(s) && s[leading] == alphabet[0]; leading++ {
	}
	out := make([]byte, leading+len(raw))
	copy(out[leading:], raw)
	return out, nil
}

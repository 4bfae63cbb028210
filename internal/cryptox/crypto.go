// Package cryptox holds the keyed-hash helpers used for signing URLs and
// provider webhooks.
package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of keys returned by DeriveKey.
const KeySize = 32

// DeriveKey expands secret into a KeySize key bound to info using
// HKDF-SHA256. Different info strings give independent keys from the same
// secret.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// SignHex returns hex(HMAC-SHA256(key, msg)).
func SignHex(key, msg []byte) string {
	m := hmac.New(sha256.New, key)
	m.Write(msg)
	return hex.EncodeToString(m.Sum(nil))
}

// SignParts signs the parts joined with "|".
func SignParts(key []byte, parts ...string) string {
	return SignHex(key, []byte(strings.Join(parts, "|")))
}

// EqualHex compares two hex digests in constant time. Malformed input never
// matches.
func EqualHex(want, got string) bool {
	a, err := hex.DecodeString(want)
	if err != nil {
		return false
	}
	b, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(got)))
	if err != nil {
		return false
	}
	return hmac.Equal(a, b)
}

package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// groupKey derives the symmetric AEAD key from the raw Burmester-Desmedt
// shared secret: SHA-256(secret), per spec.
func groupKey(secret uint64) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], secret)
	return sha256.Sum256(buf[:])
}

// Encrypt seals plaintext under the group key derived from secret,
// returning lowercase hex so the ciphertext survives JSON string framing.
// The nonce is prefixed to the sealed output.
func Encrypt(plaintext string, secret uint64) (string, error) {
	key := groupKey(secret)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return "", errors.Wrap(err, "init cipher")
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It returns an error — surfaced to the UI as
// "decryption failed" for that message only — rather than panicking or
// tearing down the connection, per the error handling policy.
func Decrypt(ciphertextHex string, secret uint64) (string, error) {
	raw, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", errors.Wrap(err, "invalid hex ciphertext")
	}

	key := groupKey(secret)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return "", errors.Wrap(err, "init cipher")
	}

	if len(raw) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.Wrap(err, "decryption failed")
	}

	return string(plaintext), nil
}

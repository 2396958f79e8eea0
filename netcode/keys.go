// Package netcode implements the secure connection handshake and encrypted
// envelope that wraps every packet exchanged between a client and a
// server: connect tokens issued by an external authentication backend,
// the challenge/response exchange that proves token possession, AEAD
// encryption of in-flight packets, and replay protection.
package netcode

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the width of every symmetric key used in this package.
const KeySize = chacha20poly1305.KeySize

// Key is a symmetric AEAD key: a private server key, or one half of a
// client/server session key pair.
type Key [KeySize]byte

// GenerateKey returns a new random key suitable for use as a server
// private key or session key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

var errShortKey = errors.New("netcode: key slice has the wrong length")

// KeyFromBytes copies a KeySize-byte slice into a Key.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, errShortKey
	}
	copy(k[:], b)
	return k, nil
}

package netcode

import (
	"encoding/binary"
	"errors"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// MaxServerAddresses bounds how many server endpoints a single token
	// may advertise.
	MaxServerAddresses = 32
	// UserDataBytes is the fixed width of the opaque application payload
	// carried in a token's private section.
	UserDataBytes = 256
	// TokenBytes is the fixed, padded size of a serialized token on the
	// wire; callers hand this exact number of bytes to ConnectionRequest.
	TokenBytes = 2048

	versionInfoSize   = 13
	privateNonceSize  = 24 // XChaCha20-Poly1305 nonce width.
	privatePlainSize  = 8 + KeySize + KeySize + UserDataBytes
	privateCipherSize = privatePlainSize + chacha20poly1305.Overhead
)

var versionInfo = [versionInfoSize]byte{'S', 'H', 'A', 'R', 'D', 'N', 'E', 'T', ' ', '1', '.', '0', 0}

var (
	ErrTokenExpired         = errors.New("netcode: token has expired")
	ErrTokenVersionMismatch = errors.New("netcode: token version mismatch")
	ErrTokenMalformed       = errors.New("netcode: token is malformed")
	ErrTooManyAddresses     = errors.New("netcode: too many server addresses")
	ErrNoAddresses          = errors.New("netcode: token must list at least one server address")
	ErrAddressTooLong       = errors.New("netcode: server address exceeds 255 bytes")
	ErrDecryptFailed        = errors.New("netcode: private section decryption failed")
)

// Private is the confidential section of a connect token: issued by the
// external authentication backend, readable only by a server holding the
// matching private key.
type Private struct {
	ClientID  uint64
	ClientKey Key
	ServerKey Key
	UserData  [UserDataBytes]byte
}

// Public is the clear-text section of a connect token: readable by the
// client that received it, and sent unencrypted to the server as part of
// the ConnectionRequest envelope.
type Public struct {
	ProtocolID      uint64
	CreateTimestamp int64
	ExpireTimestamp int64
	TimeoutSeconds  int32
	ServerAddresses []string
}

// Token is a fully issued connect token: a public header plus an
// AEAD-sealed private section. The private section can only be opened by
// whoever holds the server's private key.
type Token struct {
	Public
	nonce  [privateNonceSize]byte
	cipher [privateCipherSize]byte
}

// Generate seals priv under key and assembles a new Token carrying pub's
// public fields. The caller is responsible for handing the matching
// Private.ClientKey/ServerKey to the client out of band; this package
// never exposes them from a Token the client itself holds.
func Generate(key Key, pub Public, priv Private, nonceFn func([]byte) error) (*Token, error) {
	if len(pub.ServerAddresses) == 0 {
		return nil, ErrNoAddresses
	}
	if len(pub.ServerAddresses) > MaxServerAddresses {
		return nil, ErrTooManyAddresses
	}
	for _, a := range pub.ServerAddresses {
		if len(a) > 255 {
			return nil, ErrAddressTooLong
		}
	}

	t := &Token{Public: pub}
	if err := nonceFn(t.nonce[:]); err != nil {
		return nil, err
	}

	plain := make([]byte, 0, privatePlainSize)
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], priv.ClientID)
	plain = append(plain, idBuf[:]...)
	plain = append(plain, priv.ClientKey[:]...)
	plain = append(plain, priv.ServerKey[:]...)
	plain = append(plain, priv.UserData[:]...)

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, t.nonce[:], plain, associatedData(pub.ProtocolID))
	copy(t.cipher[:], sealed)
	return t, nil
}

// DecryptPrivate opens the private section using the server's key.
func (t *Token) DecryptPrivate(key Key) (*Private, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, t.nonce[:], t.cipher[:], associatedData(t.ProtocolID))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	var p Private
	p.ClientID = binary.LittleEndian.Uint64(plain[0:8])
	copy(p.ClientKey[:], plain[8:8+KeySize])
	copy(p.ServerKey[:], plain[8+KeySize:8+2*KeySize])
	copy(p.UserData[:], plain[8+2*KeySize:])
	return &p, nil
}

// NonceFingerprint returns the bytes that identify this token for replay
// detection across its validity lifetime (not to be confused with the
// per-packet envelope sequence replay window).
func (t *Token) NonceFingerprint() [privateNonceSize]byte { return t.nonce }

// ValidAt reports whether the token's lifetime covers the instant now.
func (t *Token) ValidAt(now time.Time) bool {
	ts := now.Unix()
	return ts >= t.CreateTimestamp && ts < t.ExpireTimestamp
}

// Write serializes t to a fixed TokenBytes-length buffer.
func (t *Token) Write() []byte {
	buf := make([]byte, 0, TokenBytes)
	buf = append(buf, versionInfo[:]...)
	buf = appendU64(buf, t.ProtocolID)
	buf = appendI64(buf, t.CreateTimestamp)
	buf = appendI64(buf, t.ExpireTimestamp)
	buf = append(buf, t.nonce[:]...)
	buf = appendI32(buf, t.TimeoutSeconds)
	buf = append(buf, byte(len(t.ServerAddresses)))
	for _, addr := range t.ServerAddresses {
		buf = append(buf, byte(len(addr)))
		buf = append(buf, addr...)
	}
	buf = append(buf, t.cipher[:]...)

	if len(buf) > TokenBytes {
		// Caller configured more/longer server addresses than fit; this
		// is a configuration error the issuing side should catch before
		// calling Write.
		return buf
	}
	padded := make([]byte, TokenBytes)
	copy(padded, buf)
	return padded
}

// Read parses a token previously produced by Write. It does not attempt
// decryption; call DecryptPrivate separately once the caller's key is
// available.
func Read(data []byte) (*Token, error) {
	if len(data) < TokenBytes {
		return nil, ErrTokenMalformed
	}
	off := 0
	var v [versionInfoSize]byte
	copy(v[:], data[off:off+versionInfoSize])
	off += versionInfoSize
	if v != versionInfo {
		return nil, ErrTokenVersionMismatch
	}

	t := &Token{}
	t.ProtocolID = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	t.CreateTimestamp = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	t.ExpireTimestamp = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	copy(t.nonce[:], data[off:off+privateNonceSize])
	off += privateNonceSize
	t.TimeoutSeconds = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4

	numAddrs := int(data[off])
	off++
	if numAddrs == 0 {
		return nil, ErrNoAddresses
	}
	if numAddrs > MaxServerAddresses {
		return nil, ErrTooManyAddresses
	}
	addrs := make([]string, 0, numAddrs)
	for i := 0; i < numAddrs; i++ {
		if off >= len(data) {
			return nil, ErrTokenMalformed
		}
		n := int(data[off])
		off++
		if off+n > len(data) {
			return nil, ErrTokenMalformed
		}
		addrs = append(addrs, string(data[off:off+n]))
		off += n
	}
	t.ServerAddresses = addrs

	if off+privateCipherSize > len(data) {
		return nil, ErrTokenMalformed
	}
	copy(t.cipher[:], data[off:off+privateCipherSize])
	return t, nil
}

func associatedData(protocolID uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], protocolID)
	return buf[:]
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendI64(buf []byte, v int64) []byte { return appendU64(buf, uint64(v)) }

func appendI32(buf []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}

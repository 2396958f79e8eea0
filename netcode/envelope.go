package netcode

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// PacketType identifies the six envelope kinds exchanged during and after
// the handshake.
type PacketType uint8

const (
	ConnectionRequest PacketType = iota
	ConnectionChallenge
	ConnectionResponse
	ConnectionKeepAlive
	ConnectionPayload
	ConnectionDisconnect
	numPacketTypes
)

func (t PacketType) String() string {
	switch t {
	case ConnectionRequest:
		return "ConnectionRequest"
	case ConnectionChallenge:
		return "ConnectionChallenge"
	case ConnectionResponse:
		return "ConnectionResponse"
	case ConnectionKeepAlive:
		return "ConnectionKeepAlive"
	case ConnectionPayload:
		return "ConnectionPayload"
	case ConnectionDisconnect:
		return "ConnectionDisconnect"
	default:
		return "Unknown"
	}
}

var (
	ErrEnvelopeMalformed   = errors.New("netcode: malformed envelope")
	ErrEnvelopeUnknownType = errors.New("netcode: unknown packet type")
	ErrEnvelopeDecrypt     = errors.New("netcode: envelope authentication failed")
)

// NumDisconnectPackets is how many times a Disconnect envelope is resent
// back-to-back: UDP gives no delivery guarantee, so the closing side fires
// off several copies rather than relying on any one arriving.
const NumDisconnectPackets = 10

// sequenceByteCount returns the minimal byte width (1..8) able to hold seq.
func sequenceByteCount(seq uint64) int {
	n := 1
	for v := seq >> 8; v != 0; v >>= 8 {
		n++
	}
	if n > 8 {
		n = 8
	}
	return n
}

func encodePrefix(t PacketType, seqBytes int) byte {
	return byte(t) | byte(seqBytes<<4)
}

func decodePrefix(b byte) (PacketType, int) {
	return PacketType(b & 0x0F), int(b >> 4)
}

func encodeSequence(seq uint64, n int) []byte {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = byte(seq >> (8 * i))
	}
	return buf
}

func decodeSequenceBytes(buf []byte) uint64 {
	var seq uint64
	for i, b := range buf {
		seq |= uint64(b) << (8 * i)
	}
	return seq
}

// EncodeEnvelope wraps body in the prefix-byte + variable-length sequence
// + (ciphertext|plaintext) framing. When encrypt is false the body is
// carried verbatim (used for ConnectionRequest, whose payload is already
// sealed inside the connect token, and for sockets that declare
// themselves already encrypted); the sequence is still assigned and
// encoded either way so the ack/RTT machinery above stays uniform.
func EncodeEnvelope(t PacketType, sequence uint64, protocolID uint64, key Key, body []byte, encrypt bool) []byte {
	n := sequenceByteCount(sequence)
	prefix := encodePrefix(t, n)
	seqBytes := encodeSequence(sequence, n)

	buf := make([]byte, 0, 1+n+len(body)+chacha20poly1305.Overhead)
	buf = append(buf, prefix)
	buf = append(buf, seqBytes...)

	if !encrypt {
		return append(buf, body...)
	}

	aad := associatedDataForEnvelope(protocolID, prefix, seqBytes)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		// key is always KeySize; this cannot happen outside of a
		// programmer error constructing a zero-value Key incorrectly.
		panic(err)
	}
	nonce := sequenceNonce(sequence)
	ciphertext := aead.Seal(nil, nonce[:], body, aad)
	return append(buf, ciphertext...)
}

// DecodeEnvelope reverses EncodeEnvelope.
func DecodeEnvelope(data []byte, protocolID uint64, key Key, encrypt bool) (PacketType, uint64, []byte, error) {
	if len(data) < 1 {
		return 0, 0, nil, ErrEnvelopeMalformed
	}
	t, n := decodePrefix(data[0])
	if t >= numPacketTypes {
		return 0, 0, nil, ErrEnvelopeUnknownType
	}
	if n < 1 || n > 8 || len(data) < 1+n {
		return 0, 0, nil, ErrEnvelopeMalformed
	}
	seqBytes := data[1 : 1+n]
	sequence := decodeSequenceBytes(seqBytes)
	rest := data[1+n:]

	if !encrypt {
		body := make([]byte, len(rest))
		copy(body, rest)
		return t, sequence, body, nil
	}

	aad := associatedDataForEnvelope(protocolID, data[0], seqBytes)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		panic(err)
	}
	nonce := sequenceNonce(sequence)
	body, err := aead.Open(nil, nonce[:], rest, aad)
	if err != nil {
		return 0, 0, nil, ErrEnvelopeDecrypt
	}
	return t, sequence, body, nil
}

func associatedDataForEnvelope(protocolID uint64, prefix byte, seqBytes []byte) []byte {
	buf := make([]byte, 0, 8+1+len(seqBytes))
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], protocolID)
	buf = append(buf, idBuf[:]...)
	buf = append(buf, prefix)
	buf = append(buf, seqBytes...)
	return buf
}

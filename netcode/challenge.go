package netcode

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
)

// challengePlainSize is ClientID(8) + ClientKey + ServerKey + UserData.
const challengePlainSize = 8 + KeySize + KeySize + UserDataBytes

// ChallengeCipherSize is the fixed length of an encrypted challenge token
// payload as carried inside a Challenge packet.
const ChallengeCipherSize = challengePlainSize + chacha20poly1305.Overhead

// ChallengeToken is the payload a server seals with its own
// challenge-only key and echoes back to the client unexamined; proof that
// the client can faithfully reflect it back in a Response packet confirms
// the client owns the private section it claims to.
type ChallengeToken struct {
	ClientID  uint64
	ClientKey Key
	ServerKey Key
	UserData  [UserDataBytes]byte
}

// EncryptChallengeToken seals ct under key using sequence as the nonce
// source, matching the envelope's own sequence-derived nonce convention.
func EncryptChallengeToken(ct ChallengeToken, key Key, sequence uint64) ([ChallengeCipherSize]byte, error) {
	var out [ChallengeCipherSize]byte
	plain := make([]byte, 0, challengePlainSize)
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], ct.ClientID)
	plain = append(plain, idBuf[:]...)
	plain = append(plain, ct.ClientKey[:]...)
	plain = append(plain, ct.ServerKey[:]...)
	plain = append(plain, ct.UserData[:]...)

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return out, err
	}
	nonce := sequenceNonce(sequence)
	sealed := aead.Seal(nil, nonce[:], plain, nil)
	copy(out[:], sealed)
	return out, nil
}

// DecryptChallengeToken reverses EncryptChallengeToken.
func DecryptChallengeToken(cipher [ChallengeCipherSize]byte, key Key, sequence uint64) (ChallengeToken, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return ChallengeToken{}, err
	}
	nonce := sequenceNonce(sequence)
	plain, err := aead.Open(nil, nonce[:], cipher[:], nil)
	if err != nil {
		return ChallengeToken{}, ErrDecryptFailed
	}
	var ct ChallengeToken
	ct.ClientID = binary.LittleEndian.Uint64(plain[0:8])
	copy(ct.ClientKey[:], plain[8:8+KeySize])
	copy(ct.ServerKey[:], plain[8+KeySize:8+2*KeySize])
	copy(ct.UserData[:], plain[8+2*KeySize:])
	return ct, nil
}

// sequenceNonce derives a chacha20poly1305.NonceSize-byte nonce from a
// 64-bit sequence counter, left-padded with zeros, matching the scheme the
// envelope layer uses for its own AEAD nonces.
func sequenceNonce(sequence uint64) [chacha20poly1305.NonceSize]byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], sequence)
	return nonce
}

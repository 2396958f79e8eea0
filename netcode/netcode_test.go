package netcode

import (
	"bytes"
	"testing"
	"time"
)

func fixedNonce(fill byte) func([]byte) error {
	return func(b []byte) error {
		for i := range b {
			b[i] = fill
		}
		return nil
	}
}

func TestTokenRoundTrip(t *testing.T) {
	serverKey, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	clientKey, _ := GenerateKey()
	sessKey, _ := GenerateKey()

	priv := Private{ClientID: 42, ClientKey: clientKey, ServerKey: sessKey}
	copy(priv.UserData[:], []byte("hello world"))

	pub := Public{
		ProtocolID:      7,
		CreateTimestamp: time.Now().Unix(),
		ExpireTimestamp: time.Now().Add(time.Minute).Unix(),
		TimeoutSeconds:  5,
		ServerAddresses: []string{"127.0.0.1:40000", "127.0.0.1:40001"},
	}

	tok, err := Generate(serverKey, pub, priv, fixedNonce(0x11))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	wire := tok.Write()
	if len(wire) != TokenBytes {
		t.Fatalf("wire length = %d, want %d", len(wire), TokenBytes)
	}

	parsed, err := Read(wire)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if parsed.ProtocolID != pub.ProtocolID || len(parsed.ServerAddresses) != 2 ||
		parsed.ServerAddresses[0] != pub.ServerAddresses[0] || parsed.ServerAddresses[1] != pub.ServerAddresses[1] {
		t.Fatalf("parsed public section mismatch: %+v", parsed.Public)
	}

	got, err := parsed.DecryptPrivate(serverKey)
	if err != nil {
		t.Fatalf("DecryptPrivate: %v", err)
	}
	if got.ClientID != priv.ClientID || got.ClientKey != priv.ClientKey || got.ServerKey != priv.ServerKey {
		t.Fatalf("private mismatch: %+v", got)
	}
	if !bytes.HasPrefix(got.UserData[:], []byte("hello world")) {
		t.Fatalf("user data mismatch: %q", got.UserData[:20])
	}
}

func TestTokenDecryptWithWrongKeyFails(t *testing.T) {
	serverKey, _ := GenerateKey()
	wrongKey, _ := GenerateKey()
	pub := Public{ProtocolID: 1, ExpireTimestamp: time.Now().Add(time.Minute).Unix(), ServerAddresses: []string{"a:1"}}
	tok, err := Generate(serverKey, pub, Private{ClientID: 1}, fixedNonce(1))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := tok.DecryptPrivate(wrongKey); err != ErrDecryptFailed {
		t.Fatalf("err = %v, want ErrDecryptFailed", err)
	}
}

func TestTokenRejectsTooManyAddresses(t *testing.T) {
	serverKey, _ := GenerateKey()
	addrs := make([]string, MaxServerAddresses+1)
	for i := range addrs {
		addrs[i] = "a:1"
	}
	pub := Public{ServerAddresses: addrs}
	if _, err := Generate(serverKey, pub, Private{}, fixedNonce(0)); err != ErrTooManyAddresses {
		t.Fatalf("err = %v, want ErrTooManyAddresses", err)
	}
}

func TestTokenValidAt(t *testing.T) {
	serverKey, _ := GenerateKey()
	now := time.Now()
	pub := Public{CreateTimestamp: now.Unix(), ExpireTimestamp: now.Add(time.Second).Unix(), ServerAddresses: []string{"a:1"}}
	tok, _ := Generate(serverKey, pub, Private{}, fixedNonce(0))
	if !tok.ValidAt(now) {
		t.Fatal("expected token to be valid now")
	}
	if tok.ValidAt(now.Add(2 * time.Second)) {
		t.Fatal("expected token to be expired")
	}
}

func TestChallengeTokenRoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	clientKey, _ := GenerateKey()
	serverSessKey, _ := GenerateKey()
	ct := ChallengeToken{ClientID: 55, ClientKey: clientKey, ServerKey: serverSessKey}
	copy(ct.UserData[:], []byte("payload"))

	cipher, err := EncryptChallengeToken(ct, key, 123)
	if err != nil {
		t.Fatalf("EncryptChallengeToken: %v", err)
	}
	got, err := DecryptChallengeToken(cipher, key, 123)
	if err != nil {
		t.Fatalf("DecryptChallengeToken: %v", err)
	}
	if got.ClientID != ct.ClientID || got.ClientKey != ct.ClientKey || got.ServerKey != ct.ServerKey {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestChallengeTokenWrongSequenceFails(t *testing.T) {
	key, _ := GenerateKey()
	cipher, _ := EncryptChallengeToken(ChallengeToken{ClientID: 1}, key, 5)
	if _, err := DecryptChallengeToken(cipher, key, 6); err != ErrDecryptFailed {
		t.Fatalf("err = %v, want ErrDecryptFailed", err)
	}
}

func TestReplayProtectionRejectsDuplicatesAndOldSequences(t *testing.T) {
	rp := NewReplayProtection()
	if rp.AlreadyReceived(10) {
		t.Fatal("fresh sequence should not be flagged as replayed")
	}
	rp.Accept(10)
	if !rp.AlreadyReceived(10) {
		t.Fatal("duplicate sequence should be rejected")
	}

	for seq := uint64(11); seq <= 300; seq++ {
		if !rp.AlreadyReceived(seq) {
			rp.Accept(seq)
		}
	}
	if !rp.AlreadyReceived(10) {
		t.Fatal("sequence 10 should now be outside the acceptance window")
	}
}

func TestEnvelopeRoundTripEncrypted(t *testing.T) {
	key, _ := GenerateKey()
	body := []byte("keepalive body")
	wire := EncodeEnvelope(ConnectionKeepAlive, 99, 42, key, body, true)
	pt, seq, got, err := DecodeEnvelope(wire, 42, key, true)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if pt != ConnectionKeepAlive || seq != 99 || !bytes.Equal(got, body) {
		t.Fatalf("got type=%v seq=%d body=%q", pt, seq, got)
	}
}

func TestEnvelopeRoundTripUnencrypted(t *testing.T) {
	key, _ := GenerateKey()
	body := []byte("raw token bytes")
	wire := EncodeEnvelope(ConnectionRequest, 0, 42, key, body, false)
	pt, _, got, err := DecodeEnvelope(wire, 42, key, false)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if pt != ConnectionRequest || !bytes.Equal(got, body) {
		t.Fatalf("got type=%v body=%q", pt, got)
	}
}

func TestEnvelopeWrongProtocolIDFailsAuth(t *testing.T) {
	key, _ := GenerateKey()
	wire := EncodeEnvelope(ConnectionPayload, 1, 42, key, []byte("x"), true)
	if _, _, _, err := DecodeEnvelope(wire, 43, key, true); err != ErrEnvelopeDecrypt {
		t.Fatalf("err = %v, want ErrEnvelopeDecrypt", err)
	}
}

func TestSequenceByteCountGrowsWithMagnitude(t *testing.T) {
	cases := []struct {
		seq  uint64
		want int
	}{
		{0, 1},
		{255, 1},
		{256, 2},
		{1 << 16, 3},
		{1 << 56, 8},
	}
	for _, c := range cases {
		if got := sequenceByteCount(c.seq); got != c.want {
			t.Errorf("sequenceByteCount(%d) = %d, want %d", c.seq, got, c.want)
		}
	}
}

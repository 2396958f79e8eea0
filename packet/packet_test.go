package packet

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeSmall(t *testing.T) {
	h := Header{Sequence: 7, Ack: 3, AckBits: 0xABCD}
	m := MessageRecord{ChannelID: 2, HasMessageID: true, MessageID: 99, Payload: []byte("hello")}
	wire := EncodeSmall(h, m)

	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != Small || got.Header != h {
		t.Fatalf("got kind=%v header=%+v", got.Kind, got.Header)
	}
	if len(got.Messages) != 1 || !bytes.Equal(got.Messages[0].Payload, m.Payload) || got.Messages[0].MessageID != 99 {
		t.Fatalf("got messages=%+v", got.Messages)
	}
}

func TestEncodeDecodeNormalMultipleChannels(t *testing.T) {
	h := Header{Sequence: 1, Ack: 0, AckBits: 0}
	msgs := []MessageRecord{
		{ChannelID: 0, HasMessageID: false, Payload: []byte("a")},
		{ChannelID: 1, HasMessageID: true, MessageID: 5, Payload: []byte("bb")},
		{ChannelID: 2, HasMessageID: true, MessageID: 6, Payload: []byte("ccc")},
	}
	wire, err := EncodeNormal(h, msgs)
	if err != nil {
		t.Fatalf("EncodeNormal: %v", err)
	}
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != Normal || len(got.Messages) != 3 {
		t.Fatalf("got %+v", got)
	}
	for i, m := range msgs {
		if got.Messages[i].ChannelID != m.ChannelID || got.Messages[i].HasMessageID != m.HasMessageID ||
			got.Messages[i].MessageID != m.MessageID || !bytes.Equal(got.Messages[i].Payload, m.Payload) {
			t.Fatalf("message %d mismatch: got %+v want %+v", i, got.Messages[i], m)
		}
	}
}

func TestEncodeNormalEmptyFails(t *testing.T) {
	if _, err := EncodeNormal(Header{}, nil); err != ErrEmptyMessages {
		t.Fatalf("err = %v, want ErrEmptyMessages", err)
	}
}

func TestEncodeDecodeFragment(t *testing.T) {
	h := Header{Sequence: 42, Ack: 41, AckBits: 1}
	f := FragmentRecord{
		ChannelID:      3,
		MessageID:      1234,
		FragmentIndex:  2,
		TotalFragments: 10,
		PayloadSize:    1024,
		Data:           bytes.Repeat([]byte{0x5A}, 1024),
	}
	wire := EncodeFragment(h, f)
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != Fragment {
		t.Fatalf("kind = %v", got.Kind)
	}
	if got.Fragment.ChannelID != f.ChannelID || got.Fragment.MessageID != f.MessageID ||
		got.Fragment.FragmentIndex != f.FragmentIndex || got.Fragment.TotalFragments != f.TotalFragments ||
		!bytes.Equal(got.Fragment.Data, f.Data) {
		t.Fatalf("got %+v", got.Fragment)
	}
}

func TestEncodeDecodeAckOnly(t *testing.T) {
	h := Header{Sequence: 5, Ack: 4, AckBits: 0xFFFFFFFF}
	wire := EncodeAckOnly(h)
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != AckOnly || got.Header != h || len(got.Messages) != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeTruncatedFails(t *testing.T) {
	if _, err := Decode([]byte{0, 1, 2}); err == nil {
		t.Fatal("expected error decoding truncated header")
	}
	h := Header{Sequence: 1}
	m := MessageRecord{ChannelID: 0, Payload: []byte("xyz")}
	wire := EncodeSmall(h, m)
	if _, err := Decode(wire[:len(wire)-1]); err == nil {
		t.Fatal("expected error decoding truncated body")
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	wire := EncodeAckOnly(Header{})
	wire[0] = 200
	if _, err := Decode(wire); err != ErrUnknownKind {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestSequenceGreaterThanWrapsCorrectly(t *testing.T) {
	cases := []struct {
		a, b uint16
		want bool
	}{
		{1, 0, true},
		{0, 1, false},
		{0, 65535, true},
		{65535, 0, false},
		{100, 50, true},
		{50, 100, false},
		{32768, 0, true},
		{0, 32768, false},
	}
	for _, c := range cases {
		if got := SequenceGreaterThan(c.a, c.b); got != c.want {
			t.Errorf("SequenceGreaterThan(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

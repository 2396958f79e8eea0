package channel

import (
	"testing"
	"time"
)

func testConfig(st SendType) Config {
	return Config{
		ChannelID:      0,
		MaxMemoryBytes: 1 << 20,
		MaxMessageSize: 4096,
		SendType:       st,
		ResendDelay:    100 * time.Millisecond,
	}
}

func TestUnreliableFIFOAndBudget(t *testing.T) {
	ch, err := New(testConfig(Unreliable))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ch.Send([]byte("a")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.Send([]byte("b")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	now := time.Now()
	out := ch.MessagesToSend(1, now) // only 1 byte of budget: fits "a" only
	if len(out) != 1 || string(out[0].Payload) != "a" {
		t.Fatalf("unexpected first drain: %+v", out)
	}
	out = ch.MessagesToSend(64, now)
	if len(out) != 1 || string(out[0].Payload) != "b" {
		t.Fatalf("unexpected second drain: %+v", out)
	}
}

func TestUnreliableMessageTooLargeFaults(t *testing.T) {
	ch, _ := New(testConfig(Unreliable))
	big := make([]byte, 5000)
	if err := ch.Send(big); err != ErrMessageTooLarge {
		t.Fatalf("err = %v, want ErrMessageTooLarge", err)
	}
	if ch.Fault() != ErrMessageTooLarge {
		t.Fatalf("Fault() = %v, want latched", ch.Fault())
	}
	if err := ch.Send([]byte("x")); err != ErrMessageTooLarge {
		t.Fatalf("subsequent Send should keep returning the latched fault, got %v", err)
	}
}

func TestReliableUnorderedResendAndAck(t *testing.T) {
	ch, _ := New(testConfig(ReliableUnordered))
	if err := ch.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	t0 := time.Now()
	out := ch.MessagesToSend(1024, t0)
	if len(out) != 1 {
		t.Fatalf("expected initial send, got %d", len(out))
	}
	id := out[0].MessageID

	// Too soon for resend.
	out = ch.MessagesToSend(1024, t0.Add(10*time.Millisecond))
	if len(out) != 0 {
		t.Fatalf("expected no resend yet, got %d", len(out))
	}

	// Past resend delay: resent.
	out = ch.MessagesToSend(1024, t0.Add(200*time.Millisecond))
	if len(out) != 1 {
		t.Fatalf("expected resend, got %d", len(out))
	}

	ch.ProcessAck(id)
	out = ch.MessagesToSend(1024, t0.Add(400*time.Millisecond))
	if len(out) != 0 {
		t.Fatalf("expected no further resends after ack, got %d", len(out))
	}
}

func TestReliableUnorderedDedupeOnReceive(t *testing.T) {
	ch, _ := New(testConfig(ReliableUnordered))
	err := ch.ProcessMessages([]Incoming{
		{MessageID: 5, Payload: []byte("x")},
		{MessageID: 5, Payload: []byte("x-dup")},
		{MessageID: 6, Payload: []byte("y")},
	})
	if err != nil {
		t.Fatalf("ProcessMessages: %v", err)
	}
	var got []string
	for {
		m, ok := ch.Receive()
		if !ok {
			break
		}
		got = append(got, string(m))
	}
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("got %v, want [x y] with duplicate dropped", got)
	}
}

func TestReliableOrderedDeliversInOrder(t *testing.T) {
	ch, _ := New(testConfig(ReliableOrdered))
	// Arrive out of order: 2, 0, 1.
	if err := ch.ProcessMessages([]Incoming{{MessageID: 2, Payload: []byte("c")}}); err != nil {
		t.Fatalf("ProcessMessages: %v", err)
	}
	if m, ok := ch.Receive(); ok {
		t.Fatalf("should not deliver out-of-order message yet, got %q", m)
	}
	if err := ch.ProcessMessages([]Incoming{{MessageID: 0, Payload: []byte("a")}}); err != nil {
		t.Fatalf("ProcessMessages: %v", err)
	}
	if m, ok := ch.Receive(); !ok || string(m) != "a" {
		t.Fatalf("expected 'a', got %q ok=%v", m, ok)
	}
	if _, ok := ch.Receive(); ok {
		t.Fatal("message 1 still missing, should not have delivered message 2 yet")
	}
	if err := ch.ProcessMessages([]Incoming{{MessageID: 1, Payload: []byte("b")}}); err != nil {
		t.Fatalf("ProcessMessages: %v", err)
	}
	var got []string
	for {
		m, ok := ch.Receive()
		if !ok {
			break
		}
		got = append(got, string(m))
	}
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("got %v, want [b c]", got)
	}
}

func TestReliableOrderedOutOfSyncFault(t *testing.T) {
	ch, _ := New(testConfig(ReliableOrdered))
	err := ch.ProcessMessages([]Incoming{{MessageID: reorderWindow + 1, Payload: []byte("far")}})
	if err != ErrOutOfSync {
		t.Fatalf("err = %v, want ErrOutOfSync", err)
	}
	if ch.Fault() != ErrOutOfSync {
		t.Fatalf("Fault() = %v, want latched ErrOutOfSync", ch.Fault())
	}
}

func TestMemoryBoundOnUnackedBytes(t *testing.T) {
	cfg := testConfig(ReliableUnordered)
	cfg.MaxMemoryBytes = 10
	cfg.MaxMessageSize = 10
	ch, _ := New(cfg)
	if err := ch.Send([]byte("12345")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.Send([]byte("678")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.Send([]byte("90ab")); err != ErrMemoryExceeded {
		t.Fatalf("err = %v, want ErrMemoryExceeded", err)
	}
}

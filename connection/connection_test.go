package connection

import (
	"strconv"
	"testing"
	"time"

	"shardnet/channel"
	"shardnet/packet"
)

func testChannelSetup() ChannelSetup {
	cfg := []channel.Config{
		{ChannelID: 0, MaxMemoryBytes: 1 << 20, MaxMessageSize: 1 << 18, SendType: channel.ReliableOrdered, ResendDelay: 50 * time.Millisecond},
		{ChannelID: 1, MaxMemoryBytes: 1 << 20, MaxMessageSize: 4096, SendType: channel.Unreliable},
	}
	return ChannelSetup{SendConfigs: cfg, RecvConfigs: cfg}
}

func newTestConnection(t *testing.T, now time.Time) *Connection {
	t.Helper()
	c, err := New(Config{
		Channels:      testChannelSetup(),
		MaxPacketSize: 1200,
		Timeout:       5 * time.Second,
	}, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// deliver feeds every outgoing packet of src into dst, decoding the wire
// frame back into a packet.Packet first (as the server/client layer does
// after stripping the netcode envelope).
func deliver(t *testing.T, src, dst *Connection, now time.Time) {
	t.Helper()
	for _, op := range src.BuildOutgoingPackets(now) {
		pkt, err := packet.Decode(op.Bytes)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if err := dst.Ingest(pkt, len(op.Bytes), now); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
}

func TestConnectionRoundTripReliableOrdered(t *testing.T) {
	t0 := time.Now()
	a := newTestConnection(t, t0)
	b := newTestConnection(t, t0)

	if err := a.SendMessage(0, []byte("hello")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	now := t0
	for i := 0; i < 4; i++ {
		now = now.Add(20 * time.Millisecond)
		a.Update(now)
		b.Update(now)
		deliver(t, a, b, now)
		deliver(t, b, a, now)
	}

	msg, ok := b.ReceiveMessage(0)
	if !ok || string(msg) != "hello" {
		t.Fatalf("got %q ok=%v", msg, ok)
	}
	if a.State() != Connected || b.State() != Connected {
		t.Fatalf("states: a=%v b=%v", a.State(), b.State())
	}
}

func TestConnectionTimeoutDisconnects(t *testing.T) {
	t0 := time.Now()
	a := newTestConnection(t, t0)
	a.Update(t0.Add(10 * time.Second))
	if a.State() != Disconnected || a.DisconnectReason() != ReasonTimeout {
		t.Fatalf("state=%v reason=%v", a.State(), a.DisconnectReason())
	}
}

func TestConnectionFragmentRoundTrip(t *testing.T) {
	t0 := time.Now()
	a := newTestConnection(t, t0)
	b := newTestConnection(t, t0)

	big := make([]byte, 100*1024)
	for i := range big {
		big[i] = byte(i)
	}
	if err := a.SendMessage(0, big); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	now := t0
	for i := 0; i < 8; i++ {
		now = now.Add(20 * time.Millisecond)
		a.Update(now)
		b.Update(now)
		deliver(t, a, b, now)
		deliver(t, b, a, now)
	}

	got, ok := b.ReceiveMessage(0)
	if !ok {
		t.Fatal("expected reassembled message to be delivered")
	}
	if len(got) != len(big) {
		t.Fatalf("len = %d, want %d", len(got), len(big))
	}
	for i := range got {
		if got[i] != big[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}
}

func TestConnectionNoDeliveryAfterDisconnect(t *testing.T) {
	t0 := time.Now()
	a := newTestConnection(t, t0)
	a.Disconnect(ReasonDisconnectedByServer)
	if err := a.SendMessage(0, []byte("x")); err != ErrDisconnected {
		t.Fatalf("err = %v, want ErrDisconnected", err)
	}
	if _, ok := a.ReceiveMessage(0); ok {
		t.Fatal("expected no message after disconnect")
	}
	if pkts := a.BuildOutgoingPackets(t0); pkts != nil {
		t.Fatalf("expected no outgoing packets after disconnect, got %d", len(pkts))
	}
}

func TestConnectionUnreliableChannelDelivers(t *testing.T) {
	t0 := time.Now()
	a := newTestConnection(t, t0)
	b := newTestConnection(t, t0)

	if err := a.SendMessage(1, []byte("ping")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	now := t0.Add(10 * time.Millisecond)
	a.Update(now)
	deliver(t, a, b, now)

	msg, ok := b.ReceiveMessage(1)
	if !ok || string(msg) != "ping" {
		t.Fatalf("got %q ok=%v", msg, ok)
	}
}

// lossySwap drops the first three packets of every ten (a deterministic 30% rate)
// and swaps each remaining adjacent pair, simulating a link that both
// drops and reorders datagrams. counter tracks position across the whole
// run so the drop pattern is stable regardless of how many packets a
// single tick produces.
func lossySwap(counter *int, pkts []OutgoingPacket) []OutgoingPacket {
	kept := pkts[:0:0]
	for _, p := range pkts {
		i := *counter
		*counter++
		if i%10 < 3 {
			continue
		}
		kept = append(kept, p)
	}
	for i := 0; i+1 < len(kept); i += 2 {
		kept[i], kept[i+1] = kept[i+1], kept[i]
	}
	return kept
}

// deliverLossy pulls src's outgoing packets, applies lossySwap, and ingests
// whatever survives into dst.
func deliverLossy(t *testing.T, counter *int, src, dst *Connection, now time.Time) {
	t.Helper()
	for _, op := range lossySwap(counter, src.BuildOutgoingPackets(now)) {
		pkt, err := packet.Decode(op.Bytes)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if err := dst.Ingest(pkt, len(op.Bytes), now); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
}

func TestConnectionLossAndReorderDeliversInOrder(t *testing.T) {
	t0 := time.Now()
	cfg := ChannelSetup{
		SendConfigs: []channel.Config{{ChannelID: 0, MaxMemoryBytes: 1 << 20, MaxMessageSize: 64, SendType: channel.ReliableOrdered, ResendDelay: 100 * time.Millisecond}},
		RecvConfigs: []channel.Config{{ChannelID: 0, MaxMemoryBytes: 1 << 20, MaxMessageSize: 64, SendType: channel.ReliableOrdered, ResendDelay: 100 * time.Millisecond}},
	}

	a, err := New(Config{Channels: cfg, MaxPacketSize: 1200, Timeout: 30 * time.Second}, t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(Config{Channels: cfg, MaxPacketSize: 1200, Timeout: 30 * time.Second}, t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const total = 1000
	for i := 0; i < total; i++ {
		if err := a.SendMessage(0, []byte(strconv.Itoa(i))); err != nil {
			t.Fatalf("SendMessage(%d): %v", i, err)
		}
	}

	// Only the forward (a -> b) data path is lossy; acks flow back cleanly
	// so the sender reliably learns what to stop retransmitting.
	var forwardCounter int
	var sample NetworkInfo
	var sampled bool

	now := t0
	for round := 0; round < 400; round++ {
		now = now.Add(20 * time.Millisecond)
		a.Update(now)
		b.Update(now)

		deliverLossy(t, &forwardCounter, a, b, now)
		for _, op := range b.BuildOutgoingPackets(now) {
			pkt, err := packet.Decode(op.Bytes)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if err := a.Ingest(pkt, len(op.Bytes), now); err != nil {
				t.Fatalf("Ingest: %v", err)
			}
		}

		if !sampled && now.Sub(t0) >= 800*time.Millisecond {
			sample = a.NetworkInfo(now)
			sampled = true
		}

		if a.State() != Connected || b.State() != Connected {
			t.Fatalf("round %d: states a=%v b=%v", round, a.State(), b.State())
		}
	}

	var got []string
	for {
		msg, ok := b.ReceiveMessage(0)
		if !ok {
			break
		}
		got = append(got, string(msg))
	}
	if len(got) != total {
		t.Fatalf("delivered %d messages, want %d", len(got), total)
	}
	for i, msg := range got {
		if msg != strconv.Itoa(i) {
			t.Fatalf("message %d = %q, want %q (out of order or duplicate)", i, msg, strconv.Itoa(i))
		}
	}

	if !sampled {
		t.Fatal("never sampled NetworkInfo while the transfer was active")
	}
	if sample.PacketLoss < 0.1 || sample.PacketLoss > 0.5 {
		t.Fatalf("PacketLoss = %.2f, want roughly 0.3", sample.PacketLoss)
	}
}

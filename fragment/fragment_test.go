package fragment

import (
	"bytes"
	"math/rand"
	"testing"
	"time"
)

func TestSplitDeterministic(t *testing.T) {
	payload := make([]byte, 2500)
	for i := range payload {
		payload[i] = byte(i)
	}

	parts, err := Split(payload, 1024)
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("len(parts) = %d, want 3", len(parts))
	}
	if len(parts[0]) != 1024 || len(parts[1]) != 1024 || len(parts[2]) != 452 {
		t.Fatalf("unexpected fragment sizes: %d %d %d", len(parts[0]), len(parts[1]), len(parts[2]))
	}
	var rebuilt []byte
	for _, p := range parts {
		rebuilt = append(rebuilt, p...)
	}
	if !bytes.Equal(rebuilt, payload) {
		t.Fatal("rebuilt payload does not match original")
	}
}

func TestSplitTooManyFragments(t *testing.T) {
	payload := make([]byte, (MaxFragments+1)*DefaultPayloadSize)
	if _, err := Split(payload, DefaultPayloadSize); err != ErrTooManyFragments {
		t.Fatalf("err = %v, want ErrTooManyFragments", err)
	}
}

func TestReassemblerRoundTrip(t *testing.T) {
	payload := make([]byte, 100*1024+37)
	rand.New(rand.NewSource(1)).Read(payload)

	parts, err := Split(payload, DefaultPayloadSize)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	r := NewReassembler()
	now := time.Now()
	var full []byte
	var complete bool
	// Feed fragments out of order.
	order := rand.New(rand.NewSource(2)).Perm(len(parts))
	for _, i := range order {
		full, complete, err = r.Add(3, 42, uint16(i), uint16(len(parts)), DefaultPayloadSize, parts[i], now)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if !complete {
		t.Fatal("expected reassembly to be complete after all fragments delivered")
	}
	if !bytes.Equal(full, payload) {
		t.Fatal("reassembled payload does not match original")
	}
}

func TestReassemblerTotalMismatchFaults(t *testing.T) {
	r := NewReassembler()
	now := time.Now()
	if _, _, err := r.Add(1, 7, 0, 4, DefaultPayloadSize, []byte("a"), now); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if _, _, err := r.Add(1, 7, 1, 5, DefaultPayloadSize, []byte("b"), now); err != ErrTotalMismatch {
		t.Fatalf("err = %v, want ErrTotalMismatch", err)
	}
}

func TestReassemblerSweepExpiresStaleEntries(t *testing.T) {
	r := NewReassembler()
	now := time.Now()
	if _, _, err := r.Add(1, 7, 0, 2, DefaultPayloadSize, []byte("a"), now); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if dropped := r.Sweep(now.Add(4 * time.Second)); dropped != 0 {
		t.Fatalf("dropped = %d before timeout, want 0", dropped)
	}
	if dropped := r.Sweep(now.Add(6 * time.Second)); dropped != 1 {
		t.Fatalf("dropped = %d after timeout, want 1", dropped)
	}
}

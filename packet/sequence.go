package packet

import "time"

// ackWindowSize bounds how many previous sequences a single ack_bits
// bitfield can describe.
const ackWindowSize = 32

// maxSentRecords caps retained unacked records regardless of expiry, so a
// peer that stops acking entirely cannot grow this unbounded.
const maxSentRecords = 1024

// sentExpiry is how long an unacked record is kept; Sweep then drops it
// and counts it as lost for loss accounting (retransmission itself is the
// channel engine's concern, not this one's).
const sentExpiry = time.Second

// SequenceGreaterThan implements the circular 16-bit distance comparison:
// s1 is considered newer than s2 if the forward distance from s2 to s1 is
// at most half the sequence space. Callers must never use a raw ordered
// comparison on wrapping sequence numbers.
func SequenceGreaterThan(s1, s2 uint16) bool {
	return (s1 > s2 && s1-s2 <= 32768) || (s1 < s2 && s2-s1 > 32768)
}

// AckEntry describes one message carried by a sent packet, so that an
// incoming ack can be forwarded to the right channel. Fragment marks an
// entry that covers only one slice of a larger message; the caller must
// wait for every fragment of that message to be acked before forwarding
// the ack to the channel.
type AckEntry struct {
	ChannelID uint8
	MessageID uint64
	Fragment  bool
}

// SentRecord is one outgoing packet retained until it is acked or expires.
type SentRecord struct {
	Sequence uint16
	SendTime time.Time
	Entries  []AckEntry
	Size     int
	Acked    bool
}

// SendTracker retains outgoing packet records and produces newly-acked
// entries plus an RTT sample when the peer's ack/ack_bits cover them.
type SendTracker struct {
	nextSequence uint16
	records      map[uint16]*SentRecord
	order        []uint16 // insertion order, oldest first, for eviction
}

// NewSendTracker constructs an empty tracker starting sequence numbering
// from zero.
func NewSendTracker() *SendTracker {
	return &SendTracker{records: make(map[uint16]*SentRecord)}
}

// NextSequence returns the sequence number the next outgoing packet must
// use, then advances the internal counter (wrapping at 65536).
func (t *SendTracker) NextSequence() uint16 {
	seq := t.nextSequence
	t.nextSequence++
	return seq
}

// Record stores bookkeeping for a packet just sent under seq.
func (t *SendTracker) Record(seq uint16, entries []AckEntry, size int, now time.Time) {
	t.records[seq] = &SentRecord{Sequence: seq, SendTime: now, Entries: entries, Size: size}
	t.order = append(t.order, seq)
	for len(t.order) > maxSentRecords {
		evict := t.order[0]
		t.order = t.order[1:]
		delete(t.records, evict)
	}
}

// ApplyAck folds in a peer's ack/ack_bits header, returning the set of
// AckEntry values newly confirmed and the RTT sample measured against the
// most recent newly-acked record, if any.
func (t *SendTracker) ApplyAck(ack uint16, ackBits uint32, now time.Time) (newlyAcked []AckEntry, rtt time.Duration, hasRTT bool) {
	var newestSendTime time.Time
	mark := func(seq uint16) {
		r, ok := t.records[seq]
		if !ok || r.Acked {
			return
		}
		r.Acked = true
		newlyAcked = append(newlyAcked, r.Entries...)
		if r.SendTime.After(newestSendTime) {
			newestSendTime = r.SendTime
			hasRTT = true
		}
	}
	mark(ack)
	for i := 0; i < ackWindowSize; i++ {
		if ackBits&(1<<uint(i)) == 0 {
			continue
		}
		mark(ack - uint16(i+1))
	}
	if hasRTT {
		rtt = now.Sub(newestSendTime)
	}
	return newlyAcked, rtt, hasRTT
}

// Sweep discards records older than sentExpiry that were never acked,
// returning how many were dropped as lost.
func (t *SendTracker) Sweep(now time.Time) int {
	dropped := 0
	kept := t.order[:0]
	for _, seq := range t.order {
		r, ok := t.records[seq]
		if !ok {
			continue
		}
		if !r.Acked && now.Sub(r.SendTime) > sentExpiry {
			delete(t.records, seq)
			dropped++
			continue
		}
		kept = append(kept, seq)
	}
	t.order = kept
	return dropped
}

// ReceiveTracker accumulates the highest-seen sequence and its ack_bits
// bitmap on the receive side, for inclusion in this side's own outgoing
// headers.
type ReceiveTracker struct {
	hasAny  bool
	highest uint16
	bits    uint32 // bit i set means (highest - i - 1) was received
}

// NewReceiveTracker constructs an empty receive-side tracker.
func NewReceiveTracker() *ReceiveTracker {
	return &ReceiveTracker{}
}

// Receive folds in an inbound packet's sequence number.
func (r *ReceiveTracker) Receive(seq uint16) {
	if !r.hasAny {
		r.hasAny = true
		r.highest = seq
		r.bits = 0
		return
	}
	if seq == r.highest {
		return
	}
	if SequenceGreaterThan(seq, r.highest) {
		shift := seq - r.highest
		if shift >= ackWindowSize {
			r.bits = 0
		} else {
			r.bits <<= shift
			r.bits |= 1 << uint(shift-1)
		}
		r.highest = seq
		return
	}
	dist := r.highest - seq
	if dist == 0 || dist > ackWindowSize {
		return
	}
	r.bits |= 1 << uint(dist-1)
}

// Ack reports the header fields this side should send to acknowledge
// everything received so far.
func (r *ReceiveTracker) Ack() (ack uint16, ackBits uint32, ok bool) {
	if !r.hasAny {
		return 0, 0, false
	}
	return r.highest, r.bits, true
}

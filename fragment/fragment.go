// Package fragment splits oversized messages into ordered fragment sets on
// the send side and reassembles them on the receive side. It is shared by
// every channel kind; fragmentation is deterministic and channel-agnostic.
package fragment

import (
	"errors"
	"time"
)

const (
	// DefaultPayloadSize is the number of bytes carried by one fragment,
	// chosen so a fragment plus its wire header stays well under a
	// typical MTU.
	DefaultPayloadSize = 1024
	// MaxFragments bounds a single message to MaxFragments *
	// DefaultPayloadSize bytes (256 KB by default).
	MaxFragments = 256
	// reassemblyTimeout is how long a partially received message is kept
	// before being discarded for lack of progress.
	reassemblyTimeout = 5 * time.Second
)

var (
	// ErrTooManyFragments is returned when a message would require more
	// than MaxFragments fragments to send.
	ErrTooManyFragments = errors.New("fragment: message requires more than the maximum allowed fragments")
	// ErrTotalMismatch is returned when a fragment disagrees with the
	// total_fragments count of an in-progress reassembly for the same
	// (channel, message) pair.
	ErrTotalMismatch = errors.New("fragment: total_fragments disagreement for in-progress message")
	// ErrFragmentIndexRange is returned for a fragment index that is out
	// of bounds for its declared total.
	ErrFragmentIndexRange = errors.New("fragment: fragment_index out of range")
)

// Split deterministically divides payload into fragments of at most
// payloadSize bytes each: fragment i carries bytes [i*F, (i+1)*F).
func Split(payload []byte, payloadSize int) ([][]byte, error) {
	if payloadSize <= 0 {
		payloadSize = DefaultPayloadSize
	}
	total := (len(payload) + payloadSize - 1) / payloadSize
	if total == 0 {
		total = 1
	}
	if total > MaxFragments {
		return nil, ErrTooManyFragments
	}
	out := make([][]byte, total)
	for i := 0; i < total; i++ {
		start := i * payloadSize
		end := start + payloadSize
		if end > len(payload) {
			end = len(payload)
		}
		out[i] = payload[start:end]
	}
	return out, nil
}

type entryKey struct {
	channelID uint8
	messageID uint64
}

type entry struct {
	total        uint16
	received     []bool
	receivedN    int
	buf          []byte
	fragSize     int
	lastProgress time.Time
}

// Reassembler rebuilds fragmented messages, keyed per (channel_id,
// message_id). One Reassembler is owned per Connection.
type Reassembler struct {
	entries map[entryKey]*entry
}

// NewReassembler returns an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{entries: make(map[entryKey]*entry)}
}

// Add folds in one received fragment. It returns the reassembled payload
// and true once every fragment of the set has arrived; the entry is then
// discarded. A total_fragments disagreement with an already in-progress
// entry for the same key is a fault (ErrTotalMismatch).
func (r *Reassembler) Add(channelID uint8, messageID uint64, fragmentIndex, totalFragments uint16, payloadSize int, data []byte, now time.Time) ([]byte, bool, error) {
	if totalFragments == 0 || fragmentIndex >= totalFragments {
		return nil, false, ErrFragmentIndexRange
	}
	if int(totalFragments) > MaxFragments {
		return nil, false, ErrTooManyFragments
	}
	key := entryKey{channelID, messageID}
	e, ok := r.entries[key]
	if !ok {
		if payloadSize <= 0 {
			payloadSize = DefaultPayloadSize
		}
		e = &entry{
			total:    totalFragments,
			received: make([]bool, totalFragments),
			buf:      make([]byte, int(totalFragments)*payloadSize),
			fragSize: payloadSize,
		}
		r.entries[key] = e
	} else if e.total != totalFragments {
		delete(r.entries, key)
		return nil, false, ErrTotalMismatch
	}
	e.lastProgress = now
	if !e.received[fragmentIndex] {
		e.received[fragmentIndex] = true
		e.receivedN++
	}
	start := int(fragmentIndex) * e.fragSize
	n := copy(e.buf[start:], data)
	isLast := fragmentIndex == totalFragments-1
	if isLast {
		e.buf = e.buf[:start+n]
	}

	if e.receivedN < int(e.total) {
		return nil, false, nil
	}
	delete(r.entries, key)
	return e.buf, true, nil
}

// Sweep discards reassembly entries that have made no progress within the
// reassembly timeout, returning how many were dropped.
func (r *Reassembler) Sweep(now time.Time) int {
	dropped := 0
	for k, e := range r.entries {
		if now.Sub(e.lastProgress) > reassemblyTimeout {
			delete(r.entries, k)
			dropped++
		}
	}
	return dropped
}

// Reset drops all in-progress reassembly state.
func (r *Reassembler) Reset() {
	r.entries = make(map[entryKey]*entry)
}

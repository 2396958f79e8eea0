package channel

import (
	"sort"
	"time"
)

// reliableSender is the send-side bookkeeping shared by ReliableUnordered
// and ReliableOrdered: an outgoing table keyed by MessageId, resent on a
// timer until acked, bounded by unacked bytes. Both channel classes behave
// identically here; only the receive side differs.
type reliableSender struct {
	cfg          Config
	nextID       uint64
	out          map[uint64]*outRecord
	unackedBytes uint64
}

func newReliableSender(cfg Config) reliableSender {
	return reliableSender{cfg: cfg, out: make(map[uint64]*outRecord)}
}

func (s *reliableSender) send(payload []byte) (uint64, error) {
	if uint64(len(payload)) > s.cfg.MaxMessageSize {
		return 0, ErrMessageTooLarge
	}
	if s.unackedBytes+uint64(len(payload)) > s.cfg.MaxMemoryBytes {
		return 0, ErrMemoryExceeded
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	id := s.nextID
	s.nextID++
	s.out[id] = &outRecord{id: id, payload: buf}
	s.unackedBytes += uint64(len(payload))
	return id, nil
}

func (s *reliableSender) messagesToSend(availableBytes int, now time.Time) []Outgoing {
	var due []*outRecord
	for _, r := range s.out {
		if r.acked {
			continue
		}
		if r.lastSent.IsZero() || now.Sub(r.lastSent) >= s.cfg.ResendDelay {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].lastSent.Before(due[j].lastSent) })

	var out []Outgoing
	for _, r := range due {
		if len(r.payload) > availableBytes {
			continue
		}
		availableBytes -= len(r.payload)
		r.lastSent = now
		out = append(out, Outgoing{MessageID: r.id, Payload: r.payload})
	}
	return out
}

func (s *reliableSender) processAck(messageID uint64) {
	r, ok := s.out[messageID]
	if !ok || r.acked {
		return
	}
	r.acked = true
	s.unackedBytes -= uint64(len(r.payload))
	delete(s.out, messageID)
}

func (s *reliableSender) reset() {
	s.nextID = 0
	s.out = make(map[uint64]*outRecord)
	s.unackedBytes = 0
}

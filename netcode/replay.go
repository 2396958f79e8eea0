package netcode

// replayWindowSize is the number of distinct recent sequence values the
// protection bitmap remembers.
const replayWindowSize = 256

// ReplayProtection rejects a sequence number seen before, within a sliding
// window of the most recent replayWindowSize values. It guards envelope
// packet sequences, one instance per connection; connect-token replays
// are caught separately by the server's token nonce cache.
type ReplayProtection struct {
	mostRecentSequence uint64
	received           [replayWindowSize]uint64
}

// NewReplayProtection returns an empty protection window; every sequence
// accepted so far is implicitly "never seen".
func NewReplayProtection() *ReplayProtection {
	rp := &ReplayProtection{}
	for i := range rp.received {
		rp.received[i] = ^uint64(0)
	}
	return rp
}

// AlreadyReceived reports whether sequence falls outside the acceptance
// window or collides with an already-marked slot, without mutating state.
func (rp *ReplayProtection) AlreadyReceived(sequence uint64) bool {
	if rp.mostRecentSequence >= replayWindowSize && sequence+replayWindowSize <= rp.mostRecentSequence {
		return true // too old to be in the window at all
	}
	slot := sequence % replayWindowSize
	return rp.received[slot] == sequence
}

// Accept marks sequence as seen. Callers must call AlreadyReceived first
// and only Accept when it returned false.
func (rp *ReplayProtection) Accept(sequence uint64) {
	if sequence > rp.mostRecentSequence {
		rp.mostRecentSequence = sequence
	}
	rp.received[sequence%replayWindowSize] = sequence
}

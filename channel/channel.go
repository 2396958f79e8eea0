// Package channel implements the three message delivery classes:
// Unreliable, ReliableUnordered, and ReliableOrdered. Each engine owns its
// own send queue and receive-side bookkeeping; it knows nothing about
// packets, sequences, or transports — those live in the packet and
// connection packages.
package channel

import (
	"errors"
	"fmt"
	"time"
)

// SendType selects one of the three delivery classes a ChannelConfig may
// request.
type SendType int

const (
	Unreliable SendType = iota
	ReliableUnordered
	ReliableOrdered
)

func (t SendType) String() string {
	switch t {
	case Unreliable:
		return "Unreliable"
	case ReliableUnordered:
		return "ReliableUnordered"
	case ReliableOrdered:
		return "ReliableOrdered"
	default:
		return "Unknown"
	}
}

// Config describes one channel, independently for the send and receive
// direction lists (the same ChannelId may appear in both with different
// semantics per direction).
type Config struct {
	ChannelID      uint8
	MaxMemoryBytes uint64
	MaxMessageSize uint64
	SendType       SendType
	// ResendDelay applies to ReliableUnordered and ReliableOrdered only.
	ResendDelay time.Duration
}

// Validate rejects configurations the rest of the package cannot honor.
func (c Config) Validate() error {
	if c.MaxMemoryBytes == 0 {
		return errDict("channel %d: max_memory_bytes must be non-zero", c.ChannelID)
	}
	if c.MaxMessageSize == 0 {
		return errDict("channel %d: max message size must be non-zero", c.ChannelID)
	}
	if c.MaxMessageSize > c.MaxMemoryBytes {
		return errDict("channel %d: max message size exceeds max_memory_bytes", c.ChannelID)
	}
	if c.SendType != Unreliable && c.ResendDelay <= 0 {
		return errDict("channel %d: reliable channels require a positive resend delay", c.ChannelID)
	}
	return nil
}

func errDict(format string, args ...interface{}) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// ConfigError marks a configuration fault, surfaced synchronously at
// construction time.
type ConfigError struct{ msg string }

func (e *ConfigError) Error() string { return e.msg }

var (
	// ErrMemoryExceeded is a channel fault: pending send bytes would
	// exceed max_memory_bytes.
	ErrMemoryExceeded = errors.New("channel: send would exceed max_memory_bytes")
	// ErrMessageTooLarge is a channel fault: a single message exceeds
	// the channel's configured maximum size.
	ErrMessageTooLarge = errors.New("channel: message exceeds configured maximum size")
	// ErrOutOfSync is a channel fault raised by ReliableOrdered when an
	// incoming message's gap from next-expected exceeds the reorder
	// window.
	ErrOutOfSync = errors.New("channel: out of sync, reorder window exceeded")
	// ErrClosed names the condition of a connection that has
	// disconnected; none of the channel engines in this package return it.
	ErrClosed = errors.New("channel: connection is disconnected")
)

// Outgoing is one unit handed to the packer: a whole message (the packer
// is responsible for fragmenting it if it doesn't fit a packet).
type Outgoing struct {
	// MessageID is meaningful only for reliable channels; zero on
	// Unreliable.
	MessageID uint64
	Payload   []byte
}

// Incoming is one whole message dispatched to a channel engine after the
// connection has reassembled any fragments.
type Incoming struct {
	MessageID uint64
	Payload   []byte
}

// Channel is the shape shared by all three delivery classes.
type Channel interface {
	// Send enqueues an application message. It fails with
	// ErrMessageTooLarge or ErrMemoryExceeded if the message cannot be
	// accepted; either is a channel fault the caller must turn into a
	// connection teardown.
	Send(payload []byte) error

	// Receive pops the next message available to the application, in
	// the order this channel's class guarantees.
	Receive() ([]byte, bool)

	// MessagesToSend selects messages ready to go out this tick,
	// draining as much of availableBytes as it can.
	MessagesToSend(availableBytes int, now time.Time) []Outgoing

	// ProcessMessages folds in whole messages recovered from incoming
	// packets (after reassembly). It can fail with ErrOutOfSync.
	ProcessMessages(incoming []Incoming) error

	// ProcessAck notifies the channel that one of its previously sent
	// messages has been acknowledged by the peer.
	ProcessAck(messageID uint64)

	// Fault reports a latched fault, if any; once non-nil every other
	// method becomes a no-op.
	Fault() error

	// Reset clears all engine state, for pooled/recycled connections.
	Reset()
}

// New constructs the Channel implementation matching cfg.SendType.
func New(cfg Config) (Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.SendType {
	case Unreliable:
		return newUnreliable(cfg), nil
	case ReliableUnordered:
		return newReliableUnordered(cfg), nil
	case ReliableOrdered:
		return newReliableOrdered(cfg), nil
	default:
		return nil, errDict("channel %d: unknown send type", cfg.ChannelID)
	}
}

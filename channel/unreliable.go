package channel

import "time"

// unreliableChannel is a FIFO send queue with no retention, dedupe, or
// ordering on receive. If a fragment is lost the whole message is silently
// dropped; the reassembler's own timeout handles cleanup upstream.
type unreliableChannel struct {
	cfg Config

	sendQueue    [][]byte
	pendingBytes uint64
	recvQueue    [][]byte
	fault        error
}

func newUnreliable(cfg Config) *unreliableChannel {
	return &unreliableChannel{cfg: cfg}
}

func (c *unreliableChannel) Send(payload []byte) error {
	if c.fault != nil {
		return c.fault
	}
	if uint64(len(payload)) > c.cfg.MaxMessageSize {
		c.fault = ErrMessageTooLarge
		return ErrMessageTooLarge
	}
	if c.pendingBytes+uint64(len(payload)) > c.cfg.MaxMemoryBytes {
		c.fault = ErrMemoryExceeded
		return ErrMemoryExceeded
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.sendQueue = append(c.sendQueue, buf)
	c.pendingBytes += uint64(len(payload))
	return nil
}

func (c *unreliableChannel) Receive() ([]byte, bool) {
	if c.fault != nil || len(c.recvQueue) == 0 {
		return nil, false
	}
	msg := c.recvQueue[0]
	c.recvQueue = c.recvQueue[1:]
	return msg, true
}

func (c *unreliableChannel) MessagesToSend(availableBytes int, now time.Time) []Outgoing {
	if c.fault != nil {
		return nil
	}
	var out []Outgoing
	for len(c.sendQueue) > 0 {
		msg := c.sendQueue[0]
		if len(msg) > availableBytes {
			break
		}
		c.sendQueue = c.sendQueue[1:]
		c.pendingBytes -= uint64(len(msg))
		availableBytes -= len(msg)
		out = append(out, Outgoing{Payload: msg})
	}
	return out
}

func (c *unreliableChannel) ProcessMessages(incoming []Incoming) error {
	if c.fault != nil {
		return c.fault
	}
	for _, m := range incoming {
		c.recvQueue = append(c.recvQueue, m.Payload)
	}
	return nil
}

func (c *unreliableChannel) ProcessAck(uint64) {}

func (c *unreliableChannel) Fault() error { return c.fault }

func (c *unreliableChannel) Reset() {
	c.sendQueue = nil
	c.pendingBytes = 0
	c.recvQueue = nil
	c.fault = nil
}

package channel

import "time"

const recvDedupeWindow = 1024

type outRecord struct {
	id       uint64
	payload  []byte
	lastSent time.Time
	acked    bool
}

// reliableUnorderedChannel resends unacknowledged messages on a timer and
// dedupes duplicates on receive without imposing any ordering.
type reliableUnorderedChannel struct {
	sender reliableSender
	fault  error

	recvSeen  map[uint64]struct{}
	recvOrder []uint64 // FIFO of ids in recvSeen, for window eviction
	recvQueue [][]byte
}

func newReliableUnordered(cfg Config) *reliableUnorderedChannel {
	return &reliableUnorderedChannel{
		sender:   newReliableSender(cfg),
		recvSeen: make(map[uint64]struct{}),
	}
}

func (c *reliableUnorderedChannel) Send(payload []byte) error {
	if c.fault != nil {
		return c.fault
	}
	if _, err := c.sender.send(payload); err != nil {
		c.fault = err
		return err
	}
	return nil
}

func (c *reliableUnorderedChannel) Receive() ([]byte, bool) {
	if c.fault != nil || len(c.recvQueue) == 0 {
		return nil, false
	}
	msg := c.recvQueue[0]
	c.recvQueue = c.recvQueue[1:]
	return msg, true
}

func (c *reliableUnorderedChannel) MessagesToSend(availableBytes int, now time.Time) []Outgoing {
	if c.fault != nil {
		return nil
	}
	return c.sender.messagesToSend(availableBytes, now)
}

func (c *reliableUnorderedChannel) ProcessMessages(incoming []Incoming) error {
	if c.fault != nil {
		return c.fault
	}
	for _, m := range incoming {
		if _, dup := c.recvSeen[m.MessageID]; dup {
			continue
		}
		c.recvSeen[m.MessageID] = struct{}{}
		c.recvOrder = append(c.recvOrder, m.MessageID)
		if len(c.recvOrder) > recvDedupeWindow {
			evict := c.recvOrder[0]
			c.recvOrder = c.recvOrder[1:]
			delete(c.recvSeen, evict)
		}
		c.recvQueue = append(c.recvQueue, m.Payload)
	}
	return nil
}

func (c *reliableUnorderedChannel) ProcessAck(messageID uint64) {
	c.sender.processAck(messageID)
}

func (c *reliableUnorderedChannel) Fault() error { return c.fault }

func (c *reliableUnorderedChannel) Reset() {
	c.sender.reset()
	c.fault = nil
	c.recvSeen = make(map[uint64]struct{})
	c.recvOrder = nil
	c.recvQueue = nil
}

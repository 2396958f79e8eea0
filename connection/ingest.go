package connection

import (
	"time"

	"shardnet/channel"
	"shardnet/fragment"
	"shardnet/packet"
)

// Ingest folds in one decoded, already-authenticated inbound packet. The
// caller (server or client) is responsible for envelope decryption and
// replay protection; by the time a packet reaches here it is trusted to
// have originated from the peer it claims.
func (c *Connection) Ingest(pkt packet.Packet, size int, now time.Time) error {
	if c.state == Disconnected {
		return nil
	}

	c.lastRecvTime = now
	c.recvBytes.add(now, float64(size))
	c.recvTracker.Receive(pkt.Header.Sequence)

	newlyAcked, rtt, hasRTT := c.sendTracker.ApplyAck(pkt.Header.Ack, pkt.Header.AckBits, now)
	if hasRTT {
		c.rtt.sample(rtt)
	}
	for _, e := range newlyAcked {
		c.forwardAck(e)
	}

	if c.state == Connecting {
		c.state = Connected
	}

	switch pkt.Kind {
	case packet.AckOnly:
		return nil
	case packet.Small, packet.Normal:
		return c.dispatchMessages(pkt.Messages)
	case packet.Fragment:
		return c.dispatchFragment(pkt.Fragment, now)
	default:
		c.fault(ReasonProtocolError)
		return ErrDisconnected
	}
}

func (c *Connection) forwardAck(e packet.AckEntry) {
	if e.Fragment {
		key := fragAckKey{channelID: e.ChannelID, messageID: e.MessageID}
		remaining, ok := c.fragPending[key]
		if !ok {
			return
		}
		remaining--
		if remaining > 0 {
			c.fragPending[key] = remaining
			return
		}
		delete(c.fragPending, key)
	}
	if ch, ok := c.sendChannels[e.ChannelID]; ok {
		ch.ProcessAck(e.MessageID)
	}
}

func (c *Connection) dispatchMessages(msgs []packet.MessageRecord) error {
	byChannel := make(map[uint8][]channel.Incoming)
	for _, m := range msgs {
		byChannel[m.ChannelID] = append(byChannel[m.ChannelID], channel.Incoming{MessageID: m.MessageID, Payload: m.Payload})
	}
	for channelID, incoming := range byChannel {
		ch, ok := c.recvChannels[channelID]
		if !ok {
			continue // unknown channel id: silently dropped, counted as a protocol anomaly upstream
		}
		if err := ch.ProcessMessages(incoming); err != nil {
			c.fault(ReasonChannelFault)
			return err
		}
	}
	return nil
}

func (c *Connection) dispatchFragment(f packet.FragmentRecord, now time.Time) error {
	// The reassembler's slot size is the fragmenter's own constant, not
	// the wire PayloadSize field (which records this one fragment's
	// actual, possibly-shorter, data length).
	payload, complete, err := c.reassembler.Add(f.ChannelID, f.MessageID, f.FragmentIndex, f.TotalFragments, fragment.DefaultPayloadSize, f.Data, now)
	if err != nil {
		c.fault(ReasonChannelFault)
		return err
	}
	if !complete {
		return nil
	}
	ch, ok := c.recvChannels[f.ChannelID]
	if !ok {
		return nil
	}
	if err := ch.ProcessMessages([]channel.Incoming{{MessageID: f.MessageID, Payload: payload}}); err != nil {
		c.fault(ReasonChannelFault)
		return err
	}
	return nil
}

package connection

import (
	"time"

	"shardnet/fragment"
	"shardnet/packet"
)

// OutgoingPacket is one fully encoded channel-packet frame ready to be
// wrapped in a netcode envelope and handed to a socket.
type OutgoingPacket struct {
	Sequence uint16
	Bytes    []byte
}

type pendingMessage struct {
	channelID uint8
	hasID     bool
	messageID uint64
	payload   []byte
}

// BuildOutgoingPackets drains every send channel and packs the result into
// one or more wire packets under cfg.MaxPacketSize, in stable
// lowest-channel-id-first order. When there is nothing to send but an ack
// update is overdue, a single Ack-only packet is emitted (unless the
// underlying transport already guarantees delivery).
func (c *Connection) BuildOutgoingPackets(now time.Time) []OutgoingPacket {
	if c.state == Disconnected {
		return nil
	}

	pending := c.gatherPending(now)
	packets := c.packMessages(pending, now)

	if len(packets) == 0 {
		if ap := c.maybeAckOnly(now); ap != nil {
			packets = append(packets, *ap)
		}
	} else if ack, _, ok := c.recvTracker.Ack(); ok {
		c.lastAckSent = ack
		c.lastAckSentAt = now
		c.haveLastAckSent = true
	}

	for _, p := range packets {
		c.sentBytes.add(now, float64(len(p.Bytes)))
		c.sentCount.add(now, 1)
	}
	return packets
}

func (c *Connection) gatherPending(now time.Time) []pendingMessage {
	var all []pendingMessage
	for _, id := range c.sendOrder {
		ch := c.sendChannels[id]
		hasID := c.sendIsReliableType[id]
		for _, o := range ch.MessagesToSend(1<<30, now) {
			all = append(all, pendingMessage{channelID: id, hasID: hasID, messageID: o.MessageID, payload: o.Payload})
		}
	}
	return all
}

func messageOverhead(m pendingMessage) int {
	// channel_id(1) + has_id flag(1) + message_id varint(<=10) + length varint(<=5)
	return 1 + 1 + 10 + 5
}

func (c *Connection) packMessages(all []pendingMessage, now time.Time) []OutgoingPacket {
	var packets []OutgoingPacket
	i := 0
	for i < len(all) {
		m := all[i]
		budget := c.cfg.MaxPacketSize - headerOverhead
		if messageOverhead(m)+len(m.payload) > budget {
			packets = append(packets, c.packFragmented(m, now)...)
			i++
			continue
		}

		var batch []pendingMessage
		used := 0
		for i < len(all) {
			m := all[i]
			cost := messageOverhead(m) + len(m.payload)
			if cost > budget {
				break // oversized message, handled on its own next round
			}
			if used+cost > budget {
				break
			}
			used += cost
			batch = append(batch, m)
			i++
		}
		if len(batch) == 0 {
			continue
		}
		packets = append(packets, c.packBatch(batch, now))
	}
	return packets
}

func (c *Connection) packBatch(batch []pendingMessage, now time.Time) OutgoingPacket {
	seq := c.sendTracker.NextSequence()
	header := c.outgoingHeader(seq)

	var wire []byte
	if len(batch) == 1 && len(batch[0].payload) <= smallMessageThreshold {
		wire = packet.EncodeSmall(header, toRecord(batch[0]))
	} else {
		recs := make([]packet.MessageRecord, len(batch))
		for j, m := range batch {
			recs[j] = toRecord(m)
		}
		wire, _ = packet.EncodeNormal(header, recs)
	}

	entries := make([]packet.AckEntry, 0, len(batch))
	for _, m := range batch {
		if m.hasID {
			entries = append(entries, packet.AckEntry{ChannelID: m.channelID, MessageID: m.messageID})
		}
	}
	c.sendTracker.Record(seq, entries, len(wire), now)
	return OutgoingPacket{Sequence: seq, Bytes: wire}
}

func (c *Connection) packFragmented(m pendingMessage, now time.Time) []OutgoingPacket {
	chunks, err := fragment.Split(m.payload, fragment.DefaultPayloadSize)
	if err != nil {
		// Message exceeds the fragmentation budget entirely; the caller
		// should have rejected it at channel.Send time via
		// max_message_size, so this path is unreachable in practice.
		c.fault(ReasonChannelFault)
		return nil
	}

	key := fragAckKey{channelID: m.channelID, messageID: m.messageID}
	if m.hasID {
		c.fragPending[key] = len(chunks)
	}

	packets := make([]OutgoingPacket, 0, len(chunks))
	for idx, chunk := range chunks {
		seq := c.sendTracker.NextSequence()
		header := c.outgoingHeader(seq)
		rec := packet.FragmentRecord{
			ChannelID:      m.channelID,
			MessageID:      m.messageID,
			FragmentIndex:  uint16(idx),
			TotalFragments: uint16(len(chunks)),
			PayloadSize:    len(chunk),
			Data:           chunk,
		}
		wire := packet.EncodeFragment(header, rec)
		var entries []packet.AckEntry
		if m.hasID {
			entries = []packet.AckEntry{{ChannelID: m.channelID, MessageID: m.messageID, Fragment: true}}
		}
		c.sendTracker.Record(seq, entries, len(wire), now)
		packets = append(packets, OutgoingPacket{Sequence: seq, Bytes: wire})
	}
	return packets
}

func (c *Connection) maybeAckOnly(now time.Time) *OutgoingPacket {
	if c.cfg.SkipRetransmission {
		return nil
	}
	ack, bits, ok := c.recvTracker.Ack()
	if !ok {
		return nil
	}
	if c.haveLastAckSent && ack == c.lastAckSent {
		return nil
	}
	if c.haveLastAckSent && now.Sub(c.lastAckSentAt) < ackOnlyIdleDelay {
		return nil
	}
	seq := c.sendTracker.NextSequence()
	header := packet.Header{Sequence: seq, Ack: ack, AckBits: bits}
	wire := packet.EncodeAckOnly(header)
	c.sendTracker.Record(seq, nil, len(wire), now)
	c.lastAckSent = ack
	c.lastAckSentAt = now
	c.haveLastAckSent = true
	return &OutgoingPacket{Sequence: seq, Bytes: wire}
}

func (c *Connection) outgoingHeader(seq uint16) packet.Header {
	ack, bits, _ := c.recvTracker.Ack()
	return packet.Header{Sequence: seq, Ack: ack, AckBits: bits}
}

func toRecord(m pendingMessage) packet.MessageRecord {
	return packet.MessageRecord{ChannelID: m.channelID, HasMessageID: m.hasID, MessageID: m.messageID, Payload: m.payload}
}

// Package packet implements the wire framing that sits between a
// connection's channels and the netcode envelope: packing channel messages
// into Small/Normal/Fragment/Ack-only frames, sequence numbering, and the
// ack bitfield used to drive channel.ProcessAck and RTT accounting.
package packet

import (
	"encoding/binary"
	"errors"
)

// Kind identifies the frame layout of a packet body.
type Kind uint8

const (
	// Small carries exactly one message from one channel, encoded
	// compactly without a repeated length-prefixed record list.
	Small Kind = iota
	// Normal carries one or more messages, each individually framed,
	// possibly from different channels.
	Normal
	// Fragment carries one slice of an oversized message.
	Fragment
	// AckOnly carries no payload; it exists purely to deliver an updated
	// ack/ack_bits when there has been no outgoing data for a while.
	AckOnly
)

func (k Kind) String() string {
	switch k {
	case Small:
		return "Small"
	case Normal:
		return "Normal"
	case Fragment:
		return "Fragment"
	case AckOnly:
		return "AckOnly"
	default:
		return "Unknown"
	}
}

var (
	ErrMalformed     = errors.New("packet: malformed frame")
	ErrUnknownKind   = errors.New("packet: unknown kind byte")
	ErrBodyTooLarge  = errors.New("packet: encoded body exceeds limit")
	ErrEmptyMessages = errors.New("packet: no messages to encode")
)

// MessageRecord is one whole-message entry inside a Small or Normal body.
// Unreliable channels carry a zero MessageID; the wire encoding omits it
// for that case at the channel's own marking (HasMessageID below).
type MessageRecord struct {
	ChannelID    uint8
	HasMessageID bool
	MessageID    uint64
	Payload      []byte
}

// FragmentRecord is the single message slice carried by a Fragment frame.
type FragmentRecord struct {
	ChannelID      uint8
	MessageID      uint64
	FragmentIndex  uint16
	TotalFragments uint16
	PayloadSize    int
	Data           []byte
}

// Header is the per-packet sequence/ack metadata every frame carries,
// independent of Kind.
type Header struct {
	Sequence uint16
	Ack      uint16
	AckBits  uint32
}

// Packet is a fully decoded frame: its sequence/ack header plus exactly one
// of Messages or Fragment, selected by Kind.
type Packet struct {
	Kind     Kind
	Header   Header
	Messages []MessageRecord
	Fragment FragmentRecord
}

// EncodeSmall writes a single-message packet.
func EncodeSmall(h Header, m MessageRecord) []byte {
	buf := make([]byte, 0, 16+len(m.Payload))
	buf = appendHeader(buf, Small, h)
	buf = append(buf, m.ChannelID)
	buf = appendMessageIDFlag(buf, m.HasMessageID)
	if m.HasMessageID {
		buf = appendUvarint(buf, m.MessageID)
	}
	buf = appendUvarint(buf, uint64(len(m.Payload)))
	buf = append(buf, m.Payload...)
	return buf
}

// EncodeNormal writes a multi-message packet. Callers are responsible for
// ensuring the total stays under the transport's preferred packet size;
// EncodeNormal itself does not enforce an MTU.
func EncodeNormal(h Header, msgs []MessageRecord) ([]byte, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyMessages
	}
	buf := make([]byte, 0, 16)
	buf = appendHeader(buf, Normal, h)
	buf = appendUvarint(buf, uint64(len(msgs)))
	for _, m := range msgs {
		buf = append(buf, m.ChannelID)
		buf = appendMessageIDFlag(buf, m.HasMessageID)
		if m.HasMessageID {
			buf = appendUvarint(buf, m.MessageID)
		}
		buf = appendUvarint(buf, uint64(len(m.Payload)))
		buf = append(buf, m.Payload...)
	}
	return buf, nil
}

// EncodeFragment writes a single fragment-slice packet.
func EncodeFragment(h Header, f FragmentRecord) []byte {
	buf := make([]byte, 0, 20+len(f.Data))
	buf = appendHeader(buf, Fragment, h)
	buf = append(buf, f.ChannelID)
	buf = appendUvarint(buf, f.MessageID)
	var idx [4]byte
	binary.LittleEndian.PutUint16(idx[0:2], f.FragmentIndex)
	binary.LittleEndian.PutUint16(idx[2:4], f.TotalFragments)
	buf = append(buf, idx[:]...)
	buf = appendUvarint(buf, uint64(f.PayloadSize))
	buf = append(buf, f.Data...)
	return buf
}

// EncodeAckOnly writes a header-only packet.
func EncodeAckOnly(h Header) []byte {
	buf := make([]byte, 0, 8)
	return appendHeader(buf, AckOnly, h)
}

// Decode parses a frame produced by one of the Encode* functions.
func Decode(data []byte) (Packet, error) {
	kind, h, rest, err := decodeHeader(data)
	if err != nil {
		return Packet{}, err
	}
	p := Packet{Kind: kind, Header: h}
	switch kind {
	case AckOnly:
		return p, nil
	case Small:
		m, _, err := decodeMessageRecord(rest)
		if err != nil {
			return Packet{}, err
		}
		p.Messages = []MessageRecord{m}
		return p, nil
	case Normal:
		count, n, ok := decodeUvarint(rest)
		if !ok {
			return Packet{}, ErrMalformed
		}
		rest = rest[n:]
		msgs := make([]MessageRecord, 0, count)
		for i := uint64(0); i < count; i++ {
			m, n, err := decodeMessageRecord(rest)
			if err != nil {
				return Packet{}, err
			}
			rest = rest[n:]
			msgs = append(msgs, m)
		}
		p.Messages = msgs
		return p, nil
	case Fragment:
		f, err := decodeFragmentRecord(rest)
		if err != nil {
			return Packet{}, err
		}
		p.Fragment = f
		return p, nil
	default:
		return Packet{}, ErrUnknownKind
	}
}

func appendHeader(buf []byte, kind Kind, h Header) []byte {
	buf = append(buf, byte(kind))
	var tmp [8]byte
	binary.LittleEndian.PutUint16(tmp[0:2], h.Sequence)
	binary.LittleEndian.PutUint16(tmp[2:4], h.Ack)
	binary.LittleEndian.PutUint32(tmp[4:8], h.AckBits)
	return append(buf, tmp[:]...)
}

func decodeHeader(data []byte) (Kind, Header, []byte, error) {
	if len(data) < 9 {
		return 0, Header{}, nil, ErrMalformed
	}
	kind := Kind(data[0])
	if kind > AckOnly {
		return 0, Header{}, nil, ErrUnknownKind
	}
	h := Header{
		Sequence: binary.LittleEndian.Uint16(data[1:3]),
		Ack:      binary.LittleEndian.Uint16(data[3:5]),
		AckBits:  binary.LittleEndian.Uint32(data[5:9]),
	}
	return kind, h, data[9:], nil
}

func appendMessageIDFlag(buf []byte, has bool) []byte {
	if has {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func decodeMessageRecord(data []byte) (MessageRecord, int, error) {
	if len(data) < 2 {
		return MessageRecord{}, 0, ErrMalformed
	}
	channelID := data[0]
	hasID := data[1] != 0
	off := 2
	var msgID uint64
	if hasID {
		id, n, ok := decodeUvarint(data[off:])
		if !ok {
			return MessageRecord{}, 0, ErrMalformed
		}
		msgID = id
		off += n
	}
	length, n, ok := decodeUvarint(data[off:])
	if !ok {
		return MessageRecord{}, 0, ErrMalformed
	}
	off += n
	if uint64(len(data)-off) < length {
		return MessageRecord{}, 0, ErrMalformed
	}
	payload := make([]byte, length)
	copy(payload, data[off:off+int(length)])
	off += int(length)
	return MessageRecord{ChannelID: channelID, HasMessageID: hasID, MessageID: msgID, Payload: payload}, off, nil
}

func decodeFragmentRecord(data []byte) (FragmentRecord, error) {
	if len(data) < 1 {
		return FragmentRecord{}, ErrMalformed
	}
	channelID := data[0]
	off := 1
	msgID, n, ok := decodeUvarint(data[off:])
	if !ok {
		return FragmentRecord{}, ErrMalformed
	}
	off += n
	if len(data)-off < 4 {
		return FragmentRecord{}, ErrMalformed
	}
	fragIdx := binary.LittleEndian.Uint16(data[off : off+2])
	total := binary.LittleEndian.Uint16(data[off+2 : off+4])
	off += 4
	size, n, ok := decodeUvarint(data[off:])
	if !ok {
		return FragmentRecord{}, ErrMalformed
	}
	off += n
	if uint64(len(data)-off) < size {
		return FragmentRecord{}, ErrMalformed
	}
	buf := make([]byte, size)
	copy(buf, data[off:off+int(size)])
	return FragmentRecord{
		ChannelID:      channelID,
		MessageID:      msgID,
		FragmentIndex:  fragIdx,
		TotalFragments: total,
		PayloadSize:    int(size),
		Data:           buf,
	}, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func decodeUvarint(data []byte) (uint64, int, bool) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, 0, false
	}
	return v, n, true
}

// Package connection ties the channel engines, the fragmenter/reassembler,
// and the sequence/ack engine together into one per-peer state machine: it
// packs channel output into wire packets under an MTU budget and dispatches
// incoming packets back to the right channel. It knows nothing about
// encryption or handshakes — that is the netcode package's and the
// server/client packages' concern.
package connection

import (
	"errors"
	"sort"
	"time"

	"shardnet/channel"
	"shardnet/fragment"
	"shardnet/packet"
)

// State is a Connection's coarse lifecycle stage.
type State int

const (
	Connecting State = iota
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// DisconnectReason enumerates every way a Connection can end.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	ReasonTimeout
	ReasonTransportError
	ReasonDisconnectedByServer
	ReasonDisconnectedByClient
	ReasonTokenExpired
	ReasonProtocolError
	ReasonChannelFault
	ReasonConnectTokenAlreadyUsed
	ReasonClientIdInUse
	ReasonServerFull
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonTimeout:
		return "Timeout"
	case ReasonTransportError:
		return "TransportError"
	case ReasonDisconnectedByServer:
		return "DisconnectedByServer"
	case ReasonDisconnectedByClient:
		return "DisconnectedByClient"
	case ReasonTokenExpired:
		return "TokenExpired"
	case ReasonProtocolError:
		return "ProtocolError"
	case ReasonChannelFault:
		return "ChannelFault"
	case ReasonConnectTokenAlreadyUsed:
		return "ConnectTokenAlreadyUsed"
	case ReasonClientIdInUse:
		return "ClientIdInUse"
	case ReasonServerFull:
		return "ServerFull"
	default:
		return "Unknown"
	}
}

var (
	ErrDisconnected   = errors.New("connection: disconnected")
	ErrUnknownChannel = errors.New("connection: unknown channel id")
)

// ChannelSetup pairs a channel configuration with the direction(s) it is
// used in; a Connection may send and receive on the same ChannelID with
// independent configurations.
type ChannelSetup struct {
	SendConfigs []channel.Config
	RecvConfigs []channel.Config
}

// Config configures a new Connection.
type Config struct {
	Channels ChannelSetup

	// MaxPacketSize is the MTU the packer stays under, taken from the
	// owning socket's PreferredPacketSize().
	MaxPacketSize int

	// SkipRetransmission is set by the client from socket.IsReliable()
	// (or its hasReliableSocket argument). Its only effect is that the
	// connection sends no ack-only packets: the packer still assigns
	// sequences for ack/RTT bookkeeping, and the channel resend timers
	// run as configured.
	SkipRetransmission bool

	Timeout time.Duration
}

const (
	headerOverhead        = 9 // prefix(1) + sequence(2) + ack(2) + ack_bits(4)
	smallMessageThreshold = 256
	ackOnlyIdleDelay      = 100 * time.Millisecond
	rttAlpha              = 0.1
	bandwidthHorizon      = time.Second
)

type fragAckKey struct {
	channelID uint8
	messageID uint64
}

// Connection is one peer's channel set plus packer/dispatcher state.
type Connection struct {
	cfg Config

	sendChannels       map[uint8]channel.Channel
	recvChannels       map[uint8]channel.Channel
	sendOrder          []uint8 // ascending ChannelID, stable packing order
	sendIsReliableType map[uint8]bool

	reassembler *fragment.Reassembler
	sendTracker *packet.SendTracker
	recvTracker *packet.ReceiveTracker

	fragPending map[fragAckKey]int

	state            State
	disconnectReason DisconnectReason

	rtt       *rttEstimator
	sentBytes *slidingWindow
	recvBytes *slidingWindow
	sentCount *slidingWindow
	lostCount *slidingWindow

	lastRecvTime    time.Time
	lastAckSentAt   time.Time
	lastAckSent     uint16
	haveLastAckSent bool
}

// New constructs a Connection with its channels built from cfg. now is the
// instant the Connection is considered to have started its timeout clock.
func New(cfg Config, now time.Time) (*Connection, error) {
	c := &Connection{
		cfg:                cfg,
		sendChannels:       make(map[uint8]channel.Channel),
		recvChannels:       make(map[uint8]channel.Channel),
		sendIsReliableType: make(map[uint8]bool),
		reassembler:        fragment.NewReassembler(),
		sendTracker:        packet.NewSendTracker(),
		recvTracker:        packet.NewReceiveTracker(),
		fragPending:        make(map[fragAckKey]int),
		rtt:                newRTTEstimator(rttAlpha),
		sentBytes:          newSlidingWindow(bandwidthHorizon),
		recvBytes:          newSlidingWindow(bandwidthHorizon),
		sentCount:          newSlidingWindow(bandwidthHorizon),
		lostCount:          newSlidingWindow(bandwidthHorizon),
		lastRecvTime:       now,
	}
	for _, sc := range cfg.Channels.SendConfigs {
		ch, err := channel.New(sc)
		if err != nil {
			return nil, err
		}
		c.sendChannels[sc.ChannelID] = ch
		c.sendIsReliableType[sc.ChannelID] = sc.SendType != channel.Unreliable
		c.sendOrder = append(c.sendOrder, sc.ChannelID)
	}
	sort.Slice(c.sendOrder, func(i, j int) bool { return c.sendOrder[i] < c.sendOrder[j] })
	for _, rc := range cfg.Channels.RecvConfigs {
		ch, err := channel.New(rc)
		if err != nil {
			return nil, err
		}
		c.recvChannels[rc.ChannelID] = ch
	}
	return c, nil
}

// State reports the current lifecycle stage.
func (c *Connection) State() State { return c.state }

// DisconnectReason reports why the connection ended; meaningless unless
// State() == Disconnected.
func (c *Connection) DisconnectReason() DisconnectReason { return c.disconnectReason }

// SendMessage enqueues an application message on the named send channel.
func (c *Connection) SendMessage(channelID uint8, payload []byte) error {
	if c.state == Disconnected {
		return ErrDisconnected
	}
	ch, ok := c.sendChannels[channelID]
	if !ok {
		return ErrUnknownChannel
	}
	if err := ch.Send(payload); err != nil {
		c.fault(ReasonChannelFault)
		return err
	}
	return nil
}

// ReceiveMessage pops the next message delivered on the named receive
// channel, if any.
func (c *Connection) ReceiveMessage(channelID uint8) ([]byte, bool) {
	if c.state == Disconnected {
		return nil, false
	}
	ch, ok := c.recvChannels[channelID]
	if !ok {
		return nil, false
	}
	return ch.Receive()
}

// Touch records now as the last instant a packet was heard from the peer,
// without feeding the sequence/ack engine. Used for keep-alive envelopes,
// which carry no channel packet.
func (c *Connection) Touch(now time.Time) {
	if c.state == Disconnected {
		return
	}
	c.lastRecvTime = now
	if c.state == Connecting {
		c.state = Connected
	}
}

// Disconnect transitions to Disconnected with an explicit local reason
// (DisconnectedByServer / DisconnectedByClient).
func (c *Connection) Disconnect(reason DisconnectReason) {
	if c.state == Disconnected {
		return
	}
	c.state = Disconnected
	c.disconnectReason = reason
}

func (c *Connection) fault(reason DisconnectReason) {
	c.Disconnect(reason)
}

// Update advances timeout and fault detection; it does not touch the
// network. Call once per tick before building outgoing packets.
func (c *Connection) Update(now time.Time) {
	if c.state == Disconnected {
		return
	}
	if c.cfg.Timeout > 0 && now.Sub(c.lastRecvTime) > c.cfg.Timeout {
		c.fault(ReasonTimeout)
		return
	}
	for _, ch := range c.sendChannels {
		if err := ch.Fault(); err != nil {
			c.fault(ReasonChannelFault)
			return
		}
	}
	for _, ch := range c.recvChannels {
		if err := ch.Fault(); err != nil {
			c.fault(ReasonChannelFault)
			return
		}
	}
	c.reassembler.Sweep(now)
	dropped := c.sendTracker.Sweep(now)
	if dropped > 0 {
		c.lostCount.add(now, float64(dropped))
	}
}

// NetworkInfo snapshots the connection's estimators.
type NetworkInfo struct {
	RTT                    time.Duration
	PacketLoss             float64
	BytesSentPerSecond     float64
	BytesReceivedPerSecond float64
}

// NetworkInfo reports the current RTT/loss/bandwidth estimates.
func (c *Connection) NetworkInfo(now time.Time) NetworkInfo {
	sent := c.sentCount.sum(now)
	lost := c.lostCount.sum(now)
	var loss float64
	if sent+lost > 0 {
		loss = lost / (sent + lost)
	}
	return NetworkInfo{
		RTT:                    c.rtt.value,
		PacketLoss:             loss,
		BytesSentPerSecond:     c.sentBytes.sum(now),
		BytesReceivedPerSecond: c.recvBytes.sum(now),
	}
}

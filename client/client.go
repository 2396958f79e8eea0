// Package client implements the netcode client side of a connection: the
// connect-token handshake (Request/Challenge/Response) and, once
// connected, the channel packet traffic over one connection.Connection.
package client

import (
	"time"

	"go.uber.org/zap"

	"shardnet/connection"
	"shardnet/netcode"
	"shardnet/packet"
	"shardnet/socket"
)

type stage int

const (
	stageHandshaking stage = iota
	stageConnected
	stageDisconnected
)

const (
	requestResendInterval  = 300 * time.Millisecond
	responseResendInterval = 300 * time.Millisecond
	keepAliveInterval      = 1 * time.Second
)

// Client drives one connection to one server slot.
type Client struct {
	cfg               Config
	sock              socket.ClientSocket
	hasReliableSocket bool
	logger            *zap.Logger

	stage stage
	conn  *connection.Connection

	now       time.Time
	startedAt time.Time

	tokenExpire time.Time

	lastRequestSentAt  time.Time
	challengeBody      []byte
	lastResponseSentAt time.Time

	envSeq uint64
	replay *netcode.ReplayProtection
	lastKA time.Time

	disconnectReason    connection.DisconnectReason
	hasDisconnectReason bool
}

// New validates cfg, parses its token for its expiry, and returns a
// Client attached to sock. hasReliableSocket is ORed with
// sock.IsReliable(); when either is true the connection sends no ack-only
// packets. Channel resend timers run as configured either way.
func New(cfg Config, sock socket.ClientSocket, hasReliableSocket bool) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tok, err := netcode.Read(cfg.Token)
	if err != nil {
		return nil, &ConfigError{msg: "client: token: " + err.Error()}
	}
	now := time.Now()
	c := &Client{
		cfg:               cfg,
		sock:              sock,
		hasReliableSocket: hasReliableSocket || sock.IsReliable(),
		logger:            cfg.logger(),
		stage:             stageHandshaking,
		now:               now,
		startedAt:         now,
		tokenExpire:       time.Unix(tok.ExpireTimestamp, 0),
		replay:            netcode.NewReplayProtection(),
	}
	return c, nil
}

func (c *Client) envelopeEncrypt() bool { return !c.sock.IsEncrypted() }

// IsConnected reports whether the handshake has completed.
func (c *Client) IsConnected() bool { return c.stage == stageConnected }

// IsConnecting reports whether the handshake is still in progress.
func (c *Client) IsConnecting() bool { return c.stage == stageHandshaking }

// IsDisconnected reports whether the client has given up or been told to
// stop.
func (c *Client) IsDisconnected() bool { return c.stage == stageDisconnected }

// DisconnectReason reports why the client disconnected, if it has.
func (c *Client) DisconnectReason() (connection.DisconnectReason, bool) {
	return c.disconnectReason, c.hasDisconnectReason
}

// Update advances the handshake/connection state machine and drains
// pending datagrams from the socket. Call once per tick before
// SendPackets.
func (c *Client) Update(dt time.Duration) {
	if c.stage == stageDisconnected {
		return
	}
	c.now = c.now.Add(dt)
	c.sock.Update()

	for {
		data, ok := c.sock.TryRecv()
		if !ok {
			break
		}
		c.handleDatagram(data)
		if c.stage == stageDisconnected {
			return
		}
	}

	if c.stage == stageHandshaking && c.now.After(c.tokenExpire) {
		c.fail(connection.ReasonTokenExpired)
		return
	}
	if c.now.Sub(c.startedAt) > c.cfg.timeout() && c.stage == stageHandshaking {
		c.fail(connection.ReasonTimeout)
		return
	}
	if c.conn != nil {
		c.conn.Update(c.now)
		if c.conn.State() == connection.Disconnected {
			c.fail(c.conn.DisconnectReason())
			return
		}
		if c.stage == stageHandshaking && c.conn.State() == connection.Connected {
			c.stage = stageConnected
			c.logger.Info("connected")
		}
	}
}

func (c Config) timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }

func (c *Client) fail(reason connection.DisconnectReason) {
	c.stage = stageDisconnected
	c.disconnectReason = reason
	c.hasDisconnectReason = true
}

func (c *Client) handleDatagram(data []byte) {
	// Before a challenge has been echoed back, the client has no
	// session it could use to decrypt anything; the envelope around
	// Challenge itself is only encrypted once the socket requires it,
	// using the ServerKey handed out of band.
	typ, seq, body, err := netcode.DecodeEnvelope(data, c.cfg.ProtocolID, c.cfg.ServerKey, c.envelopeEncrypt())
	if err != nil {
		return
	}
	if c.conn != nil {
		if c.replay.AlreadyReceived(seq) {
			return
		}
		c.replay.Accept(seq)
	}

	switch typ {
	case netcode.ConnectionChallenge:
		if c.conn != nil {
			return // already past this stage
		}
		c.challengeBody = append([]byte(nil), body...)
		c.createConnection()
		c.logger.Debug("received challenge, response goes out on SendPackets")
	case netcode.ConnectionKeepAlive:
		if c.conn != nil {
			c.conn.Touch(c.now)
		}
	case netcode.ConnectionPayload:
		if c.conn == nil {
			return
		}
		pkt, err := packet.Decode(body)
		if err != nil {
			return
		}
		c.conn.Ingest(pkt, len(data), c.now)
	case netcode.ConnectionDisconnect:
		c.fail(connection.ReasonDisconnectedByServer)
	}
}

func (c *Client) createConnection() {
	conn, err := connection.New(connection.Config{
		Channels: connection.ChannelSetup{
			SendConfigs: c.cfg.Channels,
			RecvConfigs: c.cfg.Channels,
		},
		MaxPacketSize:      c.cfg.MaxPacketSize,
		SkipRetransmission: c.hasReliableSocket,
		Timeout:            c.cfg.timeout(),
	}, c.now)
	if err != nil {
		c.fail(connection.ReasonProtocolError)
		return
	}
	c.conn = conn
}

// SendPackets transmits the handshake packet appropriate to the current
// stage, or flushes channel traffic plus keep-alives once connected. Apart
// from Disconnect, which sends its disconnect burst immediately, this is
// the only place bytes reach the socket's Send.
func (c *Client) SendPackets() {
	if c.stage == stageDisconnected {
		return
	}
	if c.conn == nil {
		c.sendRequestIfDue()
		return
	}
	if c.challengeBody != nil && c.stage == stageHandshaking {
		c.sendResponseIfDue()
	}
	if c.conn.State() == connection.Disconnected {
		return
	}
	outgoing := c.conn.BuildOutgoingPackets(c.now)
	for _, op := range outgoing {
		c.sendEnvelope(netcode.ConnectionPayload, op.Bytes)
	}
	if len(outgoing) == 0 && c.now.Sub(c.lastKA) >= keepAliveInterval {
		c.sendEnvelope(netcode.ConnectionKeepAlive, nil)
		c.lastKA = c.now
	}
}

func (c *Client) sendRequestIfDue() {
	if !c.lastRequestSentAt.IsZero() && c.now.Sub(c.lastRequestSentAt) < requestResendInterval {
		return
	}
	wire := netcode.EncodeEnvelope(netcode.ConnectionRequest, 0, c.cfg.ProtocolID, netcode.Key{}, c.cfg.Token, false)
	c.sock.Send(wire)
	c.lastRequestSentAt = c.now
}

func (c *Client) sendResponseIfDue() {
	if !c.lastResponseSentAt.IsZero() && c.now.Sub(c.lastResponseSentAt) < responseResendInterval {
		return
	}
	c.sendResponse()
}

func (c *Client) sendResponse() {
	wire := netcode.EncodeEnvelope(netcode.ConnectionResponse, 0, c.cfg.ProtocolID, c.cfg.ClientKey, c.challengeBody, c.envelopeEncrypt())
	c.sock.Send(wire)
	c.lastResponseSentAt = c.now
}

func (c *Client) sendEnvelope(typ netcode.PacketType, body []byte) {
	seq := c.envSeq
	c.envSeq++
	wire := netcode.EncodeEnvelope(typ, seq, c.cfg.ProtocolID, c.cfg.ClientKey, body, c.envelopeEncrypt())
	c.sock.Send(wire)
}

// SendMessage enqueues payload on channelID.
func (c *Client) SendMessage(channelID uint8, payload []byte) error {
	if c.conn == nil {
		return connection.ErrDisconnected
	}
	return c.conn.SendMessage(channelID, payload)
}

// ReceiveMessage pops the next message delivered on channelID.
func (c *Client) ReceiveMessage(channelID uint8) ([]byte, bool) {
	if c.conn == nil {
		return nil, false
	}
	return c.conn.ReceiveMessage(channelID)
}

// NetworkInfo reports the current RTT/loss/bandwidth estimate.
func (c *Client) NetworkInfo() connection.NetworkInfo {
	if c.conn == nil {
		return connection.NetworkInfo{}
	}
	return c.conn.NetworkInfo(c.now)
}

// Disconnect tells the server we are leaving and stops the client.
func (c *Client) Disconnect() {
	if c.stage == stageDisconnected {
		return
	}
	if c.conn != nil {
		for i := 0; i < netcode.NumDisconnectPackets; i++ {
			c.sendEnvelope(netcode.ConnectionDisconnect, nil)
		}
	}
	c.fail(connection.ReasonDisconnectedByClient)
}

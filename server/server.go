// Package server implements the multi-slot netcode server: it owns one or
// more socket.ServerSocket "slots", runs the connect-token handshake
// against each, and drives one connection.Connection per connected client.
package server

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"shardnet/connection"
	"shardnet/netcode"
	"shardnet/packet"
	"shardnet/socket"
)

var (
	// ErrUnknownClient is returned by client-addressed methods for a
	// client_id that is not currently connected.
	ErrUnknownClient = errors.New("server: unknown client id")
)

const keepAliveInterval = 1 * time.Second

type slotAddrKey struct {
	slot int
	addr string
}

type pendingClient struct {
	slot      int
	addr      socket.Addr
	sessionID string
	clientID  uint64
	sendKey   netcode.Key // server -> client
	recvKey   netcode.Key // client -> server
	userData  [netcode.UserDataBytes]byte
	expire    time.Time
	createdAt time.Time

	envelopeSeq     uint64
	lastChallenge   []byte
	lastChallengeAt time.Time
}

type connectedClient struct {
	slot      int
	addr      socket.Addr
	sessionID string
	clientID  uint64
	sendKey   netcode.Key
	recvKey   netcode.Key

	conn   *connection.Connection
	replay *netcode.ReplayProtection
	envSeq uint64
	lastKA time.Time
}

// Server owns one or more bound slots and every client connected across
// them.
type Server struct {
	cfg        Config
	logger     *zap.Logger
	slots      []socket.ServerSocket
	challenge  netcode.Key
	tokenCache *tokenNonceCache
	reqLimit   *requestLimiters
	metrics    *Metrics

	// nextChallengeSeq is the nonce counter for ChallengeToken encryption
	// under the single server-wide challenge key: every challenge this
	// server ever issues, across every pending client, must use a
	// distinct sequence or the (key, nonce) pair repeats under
	// ChaCha20-Poly1305.
	nextChallengeSeq uint64

	now time.Time

	addrToClient map[slotAddrKey]uint64
	pending      map[slotAddrKey]*pendingClient
	clients      map[uint64]*connectedClient

	events []Event
}

// New validates cfg and constructs a Server bound to slots, one per
// ServerAddresses entry (index-aligned: slots[i] serves
// cfg.ServerAddresses[i]).
func New(cfg Config, slots []socket.ServerSocket) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(slots) != len(cfg.ServerAddresses) {
		return nil, configErrf("server: %d slots provided for %d server addresses", len(slots), len(cfg.ServerAddresses))
	}
	challengeKey, err := netcode.GenerateKey()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:          cfg,
		logger:       cfg.logger(),
		slots:        slots,
		challenge:    challengeKey,
		tokenCache:   newTokenNonceCache(0),
		reqLimit:     newRequestLimiters(0, cfg.connectionRequestRate(), cfg.connectionRequestBurst()),
		metrics:      newMetrics(),
		now:          time.Now(),
		addrToClient: make(map[slotAddrKey]uint64),
		pending:      make(map[slotAddrKey]*pendingClient),
		clients:      make(map[uint64]*connectedClient),
	}
	return s, nil
}

// Collector exposes the server's Prometheus instrumentation; the host may
// register it with any registry, or never call this at all.
func (s *Server) Collector() *Metrics { return s.metrics }

// ClientsID returns the client_id of every currently connected client.
func (s *Server) ClientsID() []uint64 {
	ids := make([]uint64, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

// GetEvent pops the next queued server event, if any.
func (s *Server) GetEvent() (Event, bool) {
	if len(s.events) == 0 {
		return Event{}, false
	}
	e := s.events[0]
	s.events = s.events[1:]
	return e, true
}

func (s *Server) pushEvent(e Event) { s.events = append(s.events, e) }

// Update drains every slot's pending datagrams (bounded per tick) and
// advances every connection's timers. Receive-side effects (events,
// delivered messages) become observable only after Update returns.
func (s *Server) Update(dt time.Duration) {
	s.now = s.now.Add(dt)
	limit := s.cfg.maxPacketsPerTick()

	for slotIdx, sock := range s.slots {
		sock.Update()
		for i := 0; i < limit; i++ {
			addr, data, ok := sock.TryRecv()
			if !ok {
				break
			}
			s.metrics.bytesReceived.Add(float64(len(data)))
			s.handleDatagram(slotIdx, sock, addr, data)
		}
	}

	for id, c := range s.clients {
		c.conn.Update(s.now)
		if c.conn.State() == connection.Disconnected {
			delete(s.clients, id)
			delete(s.addrToClient, slotAddrKey{slot: c.slot, addr: c.addr.String()})
			s.logger.Info("client disconnected",
				zap.Uint64("client_id", id),
				zap.String("session_id", c.sessionID),
				zap.Stringer("reason", c.conn.DisconnectReason()))
			s.pushEvent(Event{Kind: ClientDisconnectedEvent, ClientID: id, Reason: c.conn.DisconnectReason()})
		}
	}
	s.metrics.clientsConnected.Set(float64(len(s.clients)))

	var rttSum, lossSum float64
	for _, c := range s.clients {
		info := c.conn.NetworkInfo(s.now)
		rttSum += info.RTT.Seconds()
		lossSum += info.PacketLoss
	}
	if n := len(s.clients); n > 0 {
		s.metrics.rtt.Set(rttSum / float64(n))
		s.metrics.packetLoss.Set(lossSum / float64(n))
	}
}

func (s *Server) handleDatagram(slotIdx int, sock socket.ServerSocket, addr socket.Addr, data []byte) {
	key := slotAddrKey{slot: slotIdx, addr: addr.String()}

	if clientID, ok := s.addrToClient[key]; ok {
		s.handleConnectedPacket(sock, s.clients[clientID], data)
		return
	}
	if pc, ok := s.pending[key]; ok {
		s.handlePendingPacket(slotIdx, sock, key, pc, data)
		return
	}
	s.handleNewConnectionRequest(slotIdx, sock, addr, data)
}

func (s *Server) envelopeEncrypt(sock socket.ServerSocket) bool {
	return !sock.IsEncrypted()
}

func (s *Server) handleNewConnectionRequest(slotIdx int, sock socket.ServerSocket, addr socket.Addr, data []byte) {
	if !s.reqLimit.Allow(addr.String()) {
		s.metrics.packetsDropped.Inc()
		return
	}
	// ConnectionRequest's body is the token itself, which is already
	// sealed; the envelope around it is never encrypted regardless of
	// socket.IsEncrypted(), matching netcode's convention that the
	// first packet of a handshake must be decodable without prior
	// session keys.
	typ, _, body, err := netcode.DecodeEnvelope(data, s.cfg.ProtocolID, netcode.Key{}, false)
	if err != nil || typ != netcode.ConnectionRequest {
		s.metrics.packetsDropped.Inc()
		return
	}
	token, err := netcode.Read(body)
	if err != nil {
		s.metrics.packetsDropped.Inc()
		return
	}
	if token.ProtocolID != s.cfg.ProtocolID {
		s.metrics.packetsDropped.Inc()
		return
	}
	if !token.ValidAt(s.now) {
		s.metrics.packetsDropped.Inc()
		return
	}
	if !stringsContain(token.ServerAddresses, s.cfg.ServerAddresses[slotIdx]) {
		s.metrics.packetsDropped.Inc()
		return
	}
	nonce := token.NonceFingerprint()
	if s.tokenCache.Seen(nonce) {
		s.metrics.packetsDropped.Inc()
		return
	}
	priv, err := token.DecryptPrivate(s.cfg.PrivateKey)
	if err != nil {
		s.metrics.packetsDropped.Inc()
		return
	}
	if len(s.clients) >= s.cfg.MaxClients {
		s.metrics.packetsDropped.Inc()
		return
	}
	if _, inUse := s.clients[priv.ClientID]; inUse {
		s.metrics.packetsDropped.Inc()
		return
	}

	s.tokenCache.Record(nonce)

	key := slotAddrKey{slot: slotIdx, addr: addr.String()}
	pc := &pendingClient{
		slot:      slotIdx,
		addr:      addr,
		sessionID: xid.New().String(),
		clientID:  priv.ClientID,
		sendKey:   priv.ServerKey,
		recvKey:   priv.ClientKey,
		userData:  priv.UserData,
		expire:    time.Unix(token.ExpireTimestamp, 0),
		createdAt: s.now,
	}
	s.pending[key] = pc
	s.logger.Debug("issuing challenge",
		zap.Uint64("client_id", pc.clientID),
		zap.String("session_id", pc.sessionID),
		zap.Int("slot", slotIdx),
		zap.String("addr", addr.String()))
	s.sendChallenge(sock, pc)
}

func (s *Server) sendChallenge(sock socket.ServerSocket, pc *pendingClient) {
	// nextChallengeSeq is the nonce for EncryptChallengeToken and must
	// never repeat under the one server-wide challenge key, regardless
	// of which client it is issued to.
	challengeSeq := s.nextChallengeSeq
	s.nextChallengeSeq++

	ct := netcode.ChallengeToken{ClientID: pc.clientID, ClientKey: pc.recvKey, ServerKey: pc.sendKey, UserData: pc.userData}
	cipher, err := netcode.EncryptChallengeToken(ct, s.challenge, challengeSeq)
	if err != nil {
		return
	}
	body := make([]byte, 8+len(cipher))
	binary.LittleEndian.PutUint64(body[:8], challengeSeq)
	copy(body[8:], cipher[:])

	seq := pc.envelopeSeq
	pc.envelopeSeq++
	wire := netcode.EncodeEnvelope(netcode.ConnectionChallenge, seq, s.cfg.ProtocolID, pc.sendKey, body, s.envelopeEncrypt(sock))
	pc.lastChallenge = wire
	pc.lastChallengeAt = s.now
	sock.Send(pc.addr, wire)
	s.metrics.bytesSent.Add(float64(len(wire)))
}

func (s *Server) handlePendingPacket(slotIdx int, sock socket.ServerSocket, key slotAddrKey, pc *pendingClient, data []byte) {
	typ, _, body, err := netcode.DecodeEnvelope(data, s.cfg.ProtocolID, pc.recvKey, s.envelopeEncrypt(sock))
	if err != nil {
		s.metrics.packetsDropped.Inc()
		return
	}
	switch typ {
	case netcode.ConnectionRequest:
		// Lost Challenge: the client is retransmitting its request.
		// Resend the cached challenge rather than minting a new one.
		if pc.lastChallenge != nil {
			sock.Send(pc.addr, pc.lastChallenge)
			s.metrics.bytesSent.Add(float64(len(pc.lastChallenge)))
		}
	case netcode.ConnectionResponse:
		s.handleResponse(slotIdx, sock, key, pc, body)
	default:
		s.metrics.packetsDropped.Inc()
	}
}

func (s *Server) handleResponse(slotIdx int, sock socket.ServerSocket, key slotAddrKey, pc *pendingClient, body []byte) {
	if len(body) < 8+netcode.ChallengeCipherSize {
		s.metrics.packetsDropped.Inc()
		return
	}
	seq := binary.LittleEndian.Uint64(body[:8])
	var cipher [netcode.ChallengeCipherSize]byte
	copy(cipher[:], body[8:8+netcode.ChallengeCipherSize])
	ct, err := netcode.DecryptChallengeToken(cipher, s.challenge, seq)
	if err != nil || ct.ClientID != pc.clientID {
		s.metrics.packetsDropped.Inc()
		return
	}
	if _, inUse := s.clients[pc.clientID]; inUse {
		delete(s.pending, key)
		return
	}

	conn, err := connection.New(connection.Config{
		Channels:      connection.ChannelSetup{SendConfigs: s.cfg.Channels, RecvConfigs: s.cfg.Channels},
		MaxPacketSize: s.cfg.MaxPacketSize,
		Timeout:       s.cfg.timeout(),
	}, s.now)
	if err != nil {
		delete(s.pending, key)
		return
	}

	cc := &connectedClient{
		slot:      pc.slot,
		addr:      pc.addr,
		sessionID: pc.sessionID,
		clientID:  pc.clientID,
		sendKey:   pc.sendKey,
		recvKey:   pc.recvKey,
		conn:      conn,
		replay:    netcode.NewReplayProtection(),
		envSeq:    pc.envelopeSeq,
		lastKA:    time.Time{}, // zero: the first SendPackets sends a keep-alive at once
	}
	delete(s.pending, key)
	s.clients[cc.clientID] = cc
	s.addrToClient[key] = cc.clientID
	s.logger.Info("client connected",
		zap.Uint64("client_id", cc.clientID),
		zap.String("session_id", cc.sessionID),
		zap.Int("slot", cc.slot))
	s.pushEvent(Event{Kind: ClientConnectedEvent, ClientID: cc.clientID})
}

func (s *Server) handleConnectedPacket(sock socket.ServerSocket, c *connectedClient, data []byte) {
	typ, seq, body, err := netcode.DecodeEnvelope(data, s.cfg.ProtocolID, c.recvKey, s.envelopeEncrypt(sock))
	if err != nil {
		s.metrics.packetsDropped.Inc()
		return
	}
	if c.replay.AlreadyReceived(seq) {
		s.metrics.packetsDropped.Inc()
		return
	}
	c.replay.Accept(seq)

	switch typ {
	case netcode.ConnectionKeepAlive:
		c.conn.Touch(s.now)
	case netcode.ConnectionPayload:
		pkt, err := packet.Decode(body)
		if err != nil {
			s.metrics.packetsDropped.Inc()
			return
		}
		c.conn.Ingest(pkt, len(data), s.now)
	case netcode.ConnectionDisconnect:
		c.conn.Disconnect(connection.ReasonDisconnectedByClient)
	default:
		s.metrics.packetsDropped.Inc()
	}
}

// SendPackets flushes every connected client's pending channel traffic to
// its slot, wrapped in netcode envelopes, plus periodic keep-alives for
// idle connections. Handshake and disconnect traffic is not sent here:
// Update sends a Challenge (or resends the cached one) as soon as it
// handles a ConnectionRequest, and Disconnect/DisconnectAll send their
// disconnect burst immediately.
func (s *Server) SendPackets() {
	for _, c := range s.clients {
		if c.conn.State() == connection.Disconnected {
			continue
		}
		sock := s.slots[c.slot]
		outgoing := c.conn.BuildOutgoingPackets(s.now)
		for _, op := range outgoing {
			s.sendEnvelope(sock, c, netcode.ConnectionPayload, op.Bytes)
		}
		if len(outgoing) == 0 && s.now.Sub(c.lastKA) >= keepAliveInterval {
			s.sendEnvelope(sock, c, netcode.ConnectionKeepAlive, nil)
			c.lastKA = s.now
		}
	}
}

func (s *Server) sendEnvelope(sock socket.ServerSocket, c *connectedClient, typ netcode.PacketType, body []byte) {
	seq := c.envSeq
	c.envSeq++
	wire := netcode.EncodeEnvelope(typ, seq, s.cfg.ProtocolID, c.sendKey, body, s.envelopeEncrypt(sock))
	sock.Send(c.addr, wire)
	s.metrics.bytesSent.Add(float64(len(wire)))
}

// SendMessage enqueues payload on channelID for delivery to client.
func (s *Server) SendMessage(client uint64, channelID uint8, payload []byte) error {
	c, ok := s.clients[client]
	if !ok {
		return ErrUnknownClient
	}
	return c.conn.SendMessage(channelID, payload)
}

// BroadcastMessage enqueues payload on channelID for delivery to every
// connected client.
func (s *Server) BroadcastMessage(channelID uint8, payload []byte) {
	for _, c := range s.clients {
		c.conn.SendMessage(channelID, payload)
	}
}

// BroadcastMessageExcept is BroadcastMessage, skipping one client.
func (s *Server) BroadcastMessageExcept(except uint64, channelID uint8, payload []byte) {
	for id, c := range s.clients {
		if id == except {
			continue
		}
		c.conn.SendMessage(channelID, payload)
	}
}

// ReceiveMessage pops the next message delivered to client on channelID.
func (s *Server) ReceiveMessage(client uint64, channelID uint8) ([]byte, bool) {
	c, ok := s.clients[client]
	if !ok {
		return nil, false
	}
	return c.conn.ReceiveMessage(channelID)
}

// Disconnect sends the redundant disconnect burst to client and tears
// down its connection; SendPackets will not flush it again, and Update
// will emit the corresponding ClientDisconnectedEvent on its next call.
func (s *Server) Disconnect(client uint64) {
	c, ok := s.clients[client]
	if !ok {
		return
	}
	sock := s.slots[c.slot]
	for i := 0; i < netcode.NumDisconnectPackets; i++ {
		s.sendEnvelope(sock, c, netcode.ConnectionDisconnect, nil)
	}
	sock.Disconnect(c.addr)
	c.conn.Disconnect(connection.ReasonDisconnectedByServer)
}

// DisconnectAll sends the redundant disconnect burst to every connected
// client and drains them synchronously, for clean process shutdown.
func (s *Server) DisconnectAll() {
	for id, c := range s.clients {
		sock := s.slots[c.slot]
		for i := 0; i < netcode.NumDisconnectPackets; i++ {
			s.sendEnvelope(sock, c, netcode.ConnectionDisconnect, nil)
		}
		sock.Disconnect(c.addr)
		c.conn.Disconnect(connection.ReasonDisconnectedByServer)
		delete(s.addrToClient, slotAddrKey{slot: c.slot, addr: c.addr.String()})
		delete(s.clients, id)
		s.pushEvent(Event{Kind: ClientDisconnectedEvent, ClientID: id, Reason: connection.ReasonDisconnectedByServer})
	}
}

// NetworkInfo reports the current RTT/loss/bandwidth estimate for client.
func (s *Server) NetworkInfo(client uint64) (connection.NetworkInfo, bool) {
	c, ok := s.clients[client]
	if !ok {
		return connection.NetworkInfo{}, false
	}
	return c.conn.NetworkInfo(s.now), true
}

func stringsContain(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

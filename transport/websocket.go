package transport

import (
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shardnet/socket"
)

var errNotWSAddr = errors.New("transport: addr is not a websocket peer")

const wsPacketSize = 4096

// wsAddr wraps a net.Conn's remote address with a stable connection id, so
// a reconnect from the same IP:port never aliases a stale peer.
type wsAddr struct {
	id   string
	real string
}

func (a wsAddr) Network() string { return "websocket" }
func (a wsAddr) String() string  { return a.id }

type wsDatagram struct {
	addr wsAddr
	data []byte
}

type wsPeer struct {
	conn net.Conn
	addr wsAddr
}

// WebSocketServerSocket upgrades every HTTP request on path to a WebSocket
// connection and multiplexes all of them behind one socket.ServerSocket,
// each connection driven by its own read goroutine.
type WebSocketServerSocket struct {
	logger  *zap.Logger
	server  *http.Server
	ln      net.Listener
	inbound chan wsDatagram

	mu    sync.Mutex
	peers map[string]*wsPeer
}

// NewWebSocketServerSocket starts an HTTP server on addr upgrading requests
// to path into WebSocket connections. logger may be nil.
func NewWebSocketServerSocket(addr, path string, logger *zap.Logger) (*WebSocketServerSocket, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &WebSocketServerSocket{
		logger:  logger,
		inbound: make(chan wsDatagram, udpQueueDepth),
		peers:   make(map[string]*wsPeer),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleUpgrade)
	s.server = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("websocket server stopped", zap.Error(err))
		}
	}()
	return s, nil
}

// Addr returns the listener's bound address, useful when addr was
// "host:0" and the OS picked an ephemeral port.
func (s *WebSocketServerSocket) Addr() net.Addr { return s.ln.Addr() }

func (s *WebSocketServerSocket) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	peer := &wsPeer{conn: conn, addr: wsAddr{id: uuid.NewString(), real: conn.RemoteAddr().String()}}
	s.mu.Lock()
	s.peers[peer.addr.id] = peer
	s.mu.Unlock()
	s.logger.Info("websocket connection established", zap.String("id", peer.addr.id), zap.String("remote", peer.addr.real))
	go s.readLoop(peer)
}

func (s *WebSocketServerSocket) readLoop(peer *wsPeer) {
	defer func() {
		s.mu.Lock()
		delete(s.peers, peer.addr.id)
		s.mu.Unlock()
		peer.conn.Close()
	}()
	for {
		msg, err := wsutil.ReadClientData(peer.conn)
		if err != nil {
			s.logger.Info("websocket connection closed", zap.String("id", peer.addr.id), zap.Error(err))
			return
		}
		if msg.OpCode != ws.OpBinary {
			continue
		}
		select {
		case s.inbound <- wsDatagram{addr: peer.addr, data: msg.Payload}:
		default:
			s.logger.Warn("websocket server recv queue full, dropping message", zap.String("id", peer.addr.id))
		}
	}
}

func (s *WebSocketServerSocket) IsReliable() bool         { return true }
func (s *WebSocketServerSocket) IsEncrypted() bool        { return true }
func (s *WebSocketServerSocket) PreferredPacketSize() int { return wsPacketSize }
func (s *WebSocketServerSocket) Update()                  {}

func (s *WebSocketServerSocket) TryRecv() (socket.Addr, []byte, bool) {
	select {
	case d := <-s.inbound:
		return d.addr, d.data, true
	default:
		return nil, nil, false
	}
}

func (s *WebSocketServerSocket) Send(addr socket.Addr, data []byte) error {
	a, ok := addr.(wsAddr)
	if !ok {
		return errNotWSAddr
	}
	s.mu.Lock()
	peer, ok := s.peers[a.id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return wsutil.WriteServerMessage(peer.conn, ws.OpBinary, data)
}

func (s *WebSocketServerSocket) Disconnect(addr socket.Addr) {
	a, ok := addr.(wsAddr)
	if !ok {
		return
	}
	s.mu.Lock()
	peer, ok := s.peers[a.id]
	delete(s.peers, a.id)
	s.mu.Unlock()
	if ok {
		peer.conn.Close()
	}
}

// Close stops accepting new connections.
func (s *WebSocketServerSocket) Close() error {
	return s.server.Close()
}

// WebSocketClientSocket dials one WebSocket server endpoint.
type WebSocketClientSocket struct {
	conn    net.Conn
	logger  *zap.Logger
	inbound chan []byte
	closeCh chan struct{}
}

// NewWebSocketClientSocket dials url (e.g. "ws://127.0.0.1:5000/shardnet").
func NewWebSocketClientSocket(url string, logger *zap.Logger) (*WebSocketClientSocket, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, _, _, err := ws.DefaultDialer.Dial(nil, url)
	if err != nil {
		return nil, err
	}
	c := &WebSocketClientSocket{
		conn:    conn,
		logger:  logger,
		inbound: make(chan []byte, udpQueueDepth),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WebSocketClientSocket) readLoop() {
	for {
		msg, err := wsutil.ReadServerData(c.conn)
		if err != nil {
			select {
			case <-c.closeCh:
				return
			default:
			}
			c.logger.Info("websocket client connection closed", zap.Error(err))
			return
		}
		if msg.OpCode != ws.OpBinary {
			continue
		}
		select {
		case c.inbound <- msg.Payload:
		default:
			c.logger.Warn("websocket client recv queue full, dropping message")
		}
	}
}

func (c *WebSocketClientSocket) IsReliable() bool         { return true }
func (c *WebSocketClientSocket) IsEncrypted() bool        { return true }
func (c *WebSocketClientSocket) PreferredPacketSize() int { return wsPacketSize }
func (c *WebSocketClientSocket) Update()                  {}

func (c *WebSocketClientSocket) TryRecv() ([]byte, bool) {
	select {
	case d := <-c.inbound:
		return d, true
	default:
		return nil, false
	}
}

func (c *WebSocketClientSocket) Send(data []byte) error {
	return wsutil.WriteClientMessage(c.conn, ws.OpBinary, data)
}

func (c *WebSocketClientSocket) Close() {
	close(c.closeCh)
	c.conn.Close()
}

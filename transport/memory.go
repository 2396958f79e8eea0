// Package transport provides reference socket.ServerSocket/ClientSocket
// implementations: a native UDP transport, an in-process loopback
// transport for deterministic tests, and a WebSocket transport for
// browser-oriented clients.
package transport

import (
	"sync"

	"shardnet/socket"
)

// memoryAddr identifies one in-process peer.
type memoryAddr struct{ id string }

func (a memoryAddr) Network() string { return "memory" }
func (a memoryAddr) String() string  { return a.id }

const memoryPacketSize = 1200

type memoryDatagram struct {
	addr memoryAddr
	data []byte
}

// MemoryServerSocket is a loopback hub: every MemoryClientSocket connected
// to it via Connect exchanges datagrams with it synchronously through
// buffered channels, with no real I/O and no loss.
type MemoryServerSocket struct {
	mu      sync.Mutex
	clients map[string]*MemoryClientSocket
	inbound chan memoryDatagram
}

// NewMemoryServerSocket returns an empty hub.
func NewMemoryServerSocket() *MemoryServerSocket {
	return &MemoryServerSocket{
		clients: make(map[string]*MemoryClientSocket),
		inbound: make(chan memoryDatagram, 4096),
	}
}

// Connect attaches a new simulated client identified by id and returns its
// client-side socket.
func (s *MemoryServerSocket) Connect(id string) *MemoryClientSocket {
	c := &MemoryClientSocket{
		addr:    memoryAddr{id: id},
		server:  s,
		inbound: make(chan []byte, 4096),
	}
	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()
	return c
}

func (s *MemoryServerSocket) IsReliable() bool         { return true }
func (s *MemoryServerSocket) IsEncrypted() bool        { return true }
func (s *MemoryServerSocket) PreferredPacketSize() int { return memoryPacketSize }
func (s *MemoryServerSocket) Update()                  {}

// TryRecv returns the next datagram sent by any connected client.
func (s *MemoryServerSocket) TryRecv() (socket.Addr, []byte, bool) {
	select {
	case d := <-s.inbound:
		return d.addr, d.data, true
	default:
		return nil, nil, false
	}
}

// Send delivers data to the client named by addr, if still connected.
func (s *MemoryServerSocket) Send(addr socket.Addr, data []byte) error {
	s.mu.Lock()
	c, ok := s.clients[addr.String()]
	s.mu.Unlock()
	if !ok {
		return nil // client already disconnected; drop silently like a real socket would
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case c.inbound <- buf:
	default:
	}
	return nil
}

// Disconnect removes addr from the hub; further Sends to it are dropped.
func (s *MemoryServerSocket) Disconnect(addr socket.Addr) {
	s.mu.Lock()
	delete(s.clients, addr.String())
	s.mu.Unlock()
}

// MemoryClientSocket is the client side of a MemoryServerSocket hub
// connection.
type MemoryClientSocket struct {
	addr    memoryAddr
	server  *MemoryServerSocket
	inbound chan []byte
	closed  bool
}

func (c *MemoryClientSocket) IsReliable() bool         { return true }
func (c *MemoryClientSocket) IsEncrypted() bool        { return true }
func (c *MemoryClientSocket) PreferredPacketSize() int { return memoryPacketSize }
func (c *MemoryClientSocket) Update()                  {}

func (c *MemoryClientSocket) TryRecv() ([]byte, bool) {
	select {
	case d := <-c.inbound:
		return d, true
	default:
		return nil, false
	}
}

func (c *MemoryClientSocket) Send(data []byte) error {
	if c.closed {
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case c.server.inbound <- memoryDatagram{addr: c.addr, data: buf}:
	default:
	}
	return nil
}

func (c *MemoryClientSocket) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.server.Disconnect(c.addr)
}

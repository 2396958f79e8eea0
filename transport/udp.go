package transport

import (
	"errors"
	"net"

	"go.uber.org/zap"

	"shardnet/socket"
)

const (
	udpPacketSize  = 1200
	udpRecvBufSize = 2048
	udpQueueDepth  = 4096
)

var errNotUDPAddr = errors.New("transport: addr is not a *net.UDPAddr")

type udpDatagram struct {
	addr *net.UDPAddr
	data []byte
}

// UDPServerSocket binds one UDP endpoint and fans inbound datagrams into a
// buffered queue from a background read loop, mirroring the accept-loop
// style used to drive connection state elsewhere in the stack: a single
// goroutine blocks on the socket and everything else polls.
type UDPServerSocket struct {
	conn    *net.UDPConn
	logger  *zap.Logger
	inbound chan udpDatagram
	closeCh chan struct{}
}

// NewUDPServerSocket binds laddr (e.g. "0.0.0.0:5000") and starts its read
// loop. logger may be nil, in which case a no-op logger is used.
func NewUDPServerSocket(laddr string, logger *zap.Logger) (*UDPServerSocket, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	s := &UDPServerSocket{
		conn:    conn,
		logger:  logger,
		inbound: make(chan udpDatagram, udpQueueDepth),
		closeCh: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *UDPServerSocket) readLoop() {
	buf := make([]byte, udpRecvBufSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			s.logger.Warn("udp server read error", zap.Error(err))
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case s.inbound <- udpDatagram{addr: addr, data: data}:
		default:
			s.logger.Warn("udp server recv queue full, dropping datagram", zap.String("from", addr.String()))
		}
	}
}

func (s *UDPServerSocket) IsReliable() bool         { return false }
func (s *UDPServerSocket) IsEncrypted() bool        { return false }
func (s *UDPServerSocket) PreferredPacketSize() int { return udpPacketSize }
func (s *UDPServerSocket) Update()                  {}

func (s *UDPServerSocket) TryRecv() (socket.Addr, []byte, bool) {
	select {
	case d := <-s.inbound:
		return d.addr, d.data, true
	default:
		return nil, nil, false
	}
}

func (s *UDPServerSocket) Send(addr socket.Addr, data []byte) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return errNotUDPAddr
	}
	_, err := s.conn.WriteToUDP(data, udpAddr)
	return err
}

// Disconnect is a no-op: UDP is connectionless, there is no per-peer state
// to release on this socket.
func (s *UDPServerSocket) Disconnect(addr socket.Addr) {}

// Close stops the read loop and releases the bound port.
func (s *UDPServerSocket) Close() error {
	close(s.closeCh)
	return s.conn.Close()
}

// LocalAddr reports the bound address, useful when laddr used an ephemeral
// port (":0").
func (s *UDPServerSocket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// UDPClientSocket dials one remote UDP endpoint.
type UDPClientSocket struct {
	conn    *net.UDPConn
	logger  *zap.Logger
	inbound chan []byte
	closeCh chan struct{}
}

// NewUDPClientSocket dials raddr (e.g. "127.0.0.1:5000").
func NewUDPClientSocket(raddr string, logger *zap.Logger) (*UDPClientSocket, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	c := &UDPClientSocket{
		conn:    conn,
		logger:  logger,
		inbound: make(chan []byte, udpQueueDepth),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *UDPClientSocket) readLoop() {
	buf := make([]byte, udpRecvBufSize)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case <-c.closeCh:
				return
			default:
			}
			c.logger.Warn("udp client read error", zap.Error(err))
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case c.inbound <- data:
		default:
			c.logger.Warn("udp client recv queue full, dropping datagram")
		}
	}
}

func (c *UDPClientSocket) IsReliable() bool         { return false }
func (c *UDPClientSocket) IsEncrypted() bool        { return false }
func (c *UDPClientSocket) PreferredPacketSize() int { return udpPacketSize }
func (c *UDPClientSocket) Update()                  {}

func (c *UDPClientSocket) TryRecv() ([]byte, bool) {
	select {
	case d := <-c.inbound:
		return d, true
	default:
		return nil, false
	}
}

func (c *UDPClientSocket) Send(data []byte) error {
	_, err := c.conn.Write(data)
	return err
}

func (c *UDPClientSocket) Close() {
	close(c.closeCh)
	c.conn.Close()
}

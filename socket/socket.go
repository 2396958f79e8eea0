// Package socket defines the boundary the core calls to move raw
// datagrams: the only place the core is polymorphic over transports. Three
// reference implementations (UDP, in-memory, WebSocket) live in the
// transport package; socket itself has no concrete dependencies.
package socket

// Addr identifies a peer on a particular socket implementation's terms.
// Concrete sockets return values whose String() is stable and comparable
// via ==; callers must not assume any particular underlying type.
type Addr interface {
	Network() string
	String() string
}

// ServerSocket is the server-side half of the boundary: it multiplexes
// many peers behind one bound endpoint.
type ServerSocket interface {
	// IsReliable reports whether the transport itself guarantees
	// delivery. On the client side, true stops the connection from
	// sending ack-only packets; the server does not consult it, and
	// channel-level retransmission runs either way.
	IsReliable() bool
	// IsEncrypted reports whether the transport itself is already
	// confidential and authenticated; true lets the envelope layer skip
	// its own AEAD.
	IsEncrypted() bool
	// PreferredPacketSize is the payload MTU the core should respect
	// when packing messages into packets.
	PreferredPacketSize() int

	// Update lets the implementation pump any internal I/O; called once
	// per tick from the owning driver, never concurrently with itself.
	Update()
	// TryRecv returns the next datagram available without blocking, or
	// ok=false if none is pending.
	TryRecv() (addr Addr, data []byte, ok bool)
	// Send writes one datagram to addr.
	Send(addr Addr, data []byte) error
	// Disconnect tells the transport to release any per-peer resources
	// associated with addr (e.g. closing a WebSocket connection).
	Disconnect(addr Addr)
}

// ClientSocket is the client-side half of the boundary: a single
// connection to one server endpoint.
type ClientSocket interface {
	IsReliable() bool
	IsEncrypted() bool
	PreferredPacketSize() int

	Update()
	TryRecv() (data []byte, ok bool)
	Send(data []byte) error
	Close()
}

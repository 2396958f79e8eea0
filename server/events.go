package server

import "shardnet/connection"

// EventKind discriminates a ServerEvent's payload.
type EventKind int

const (
	ClientConnectedEvent EventKind = iota
	ClientDisconnectedEvent
)

// Event is one item from the server's event queue, polled via GetEvent.
type Event struct {
	Kind     EventKind
	ClientID uint64
	Reason   connection.DisconnectReason // meaningful only for ClientDisconnectedEvent
}

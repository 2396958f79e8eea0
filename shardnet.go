// Package shardnet is a UDP-style reliability/ordering layer plus a
// netcode-style secure connection handshake, multiplexed across
// heterogeneous datagram transports ("slots"). It re-exports the pieces a
// host actually wires together — Server, Client, their Config types, the
// channel delivery classes, and the connection-level disconnect/ network
// info types — so a caller never has to reach into the internal packages
// directly.
//
// A minimal server:
//
//	srv, err := shardnet.NewServer(shardnet.ServerConfig{...}, []socket.ServerSocket{udpSlot})
//	for {
//		srv.Update(dt)
//		for ev, ok := srv.GetEvent(); ok; ev, ok = srv.GetEvent() {
//			...
//		}
//		srv.SendPackets()
//	}
package shardnet

import (
	"shardnet/channel"
	"shardnet/client"
	"shardnet/connection"
	"shardnet/server"
	"shardnet/socket"
)

type (
	// ServerConfig configures a Server; see server.Config.
	ServerConfig = server.Config
	// ClientConfig configures a Client; see client.Config.
	ClientConfig = client.Config
	// ChannelConfig describes one message delivery channel.
	ChannelConfig = channel.Config
	// SendType selects a channel's delivery class.
	SendType = channel.SendType
	// DisconnectReason enumerates why a connection ended.
	DisconnectReason = connection.DisconnectReason
	// NetworkInfo snapshots RTT/loss/bandwidth estimates.
	NetworkInfo = connection.NetworkInfo
	// Event is one server-side connect/disconnect notification.
	Event = server.Event
	// EventKind discriminates Event.Kind.
	EventKind = server.EventKind
	// Server is the multi-slot netcode server.
	Server = server.Server
	// Client is the single-connection netcode client.
	Client = client.Client
)

const (
	Unreliable        = channel.Unreliable
	ReliableUnordered = channel.ReliableUnordered
	ReliableOrdered   = channel.ReliableOrdered

	ClientConnectedEvent    = server.ClientConnectedEvent
	ClientDisconnectedEvent = server.ClientDisconnectedEvent
)

// ConfigError marks a configuration fault raised synchronously by
// NewServer or NewClient: a *server.ConfigError or *client.ConfigError
// from the underlying package is converted to this single top-level type.
// Any other error those constructors return is passed through unchanged.
type ConfigError struct{ msg string }

func (e *ConfigError) Error() string { return e.msg }

// NewServer validates cfg and constructs a Server bound to slots, one per
// cfg.ServerAddresses entry.
func NewServer(cfg ServerConfig, slots []socket.ServerSocket) (*Server, error) {
	s, err := server.New(cfg, slots)
	if err != nil {
		return nil, wrapConfigError(err)
	}
	return s, nil
}

// NewClient validates cfg and attaches it to sock. hasReliableSocket is
// ORed with sock.IsReliable(); when either is true the client's connection
// sends no ack-only packets. Channel retransmission is not affected.
func NewClient(cfg ClientConfig, sock socket.ClientSocket, hasReliableSocket bool) (*Client, error) {
	c, err := client.New(cfg, sock, hasReliableSocket)
	if err != nil {
		return nil, wrapConfigError(err)
	}
	return c, nil
}

func wrapConfigError(err error) error {
	switch err.(type) {
	case *server.ConfigError, *client.ConfigError:
		return &ConfigError{msg: err.Error()}
	default:
		return err
	}
}

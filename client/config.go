package client

import (
	"errors"

	"go.uber.org/zap"

	"shardnet/channel"
	"shardnet/netcode"
)

// ConfigError marks a configuration fault, surfaced synchronously from New.
type ConfigError struct{ msg string }

func (e *ConfigError) Error() string { return e.msg }

var (
	errNoChannels = errors.New("client: config must list at least one channel")
	errNoToken    = errors.New("client: config must carry a connect token")
	errBadTimeout = errors.New("client: timeout_seconds must be positive")
	errBadPacket  = errors.New("client: max_packet_size must be positive")
)

// Config configures a Client. The connect token's private section is
// sealed for the server's eyes only; ClientKey/ServerKey are the session
// keys the issuing backend hands the client directly, out of band.
type Config struct {
	ProtocolID uint64
	Channels   []channel.Config

	// Token is the fixed-length wire encoding of a netcode.Token
	// (netcode.Token.Write()), as received from the authentication
	// backend alongside ClientKey/ServerKey.
	Token     []byte
	ClientKey netcode.Key // client -> server
	ServerKey netcode.Key // server -> client

	TimeoutSeconds int32
	MaxPacketSize  int

	Logger *zap.Logger
}

// Validate rejects configurations the client cannot honor before any
// socket I/O happens.
func (c Config) Validate() error {
	if len(c.Channels) == 0 {
		return errNoChannels
	}
	if len(c.Token) == 0 {
		return errNoToken
	}
	if c.TimeoutSeconds <= 0 {
		return errBadTimeout
	}
	if c.MaxPacketSize <= 0 {
		return errBadPacket
	}
	seen := make(map[uint8]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if seen[ch.ChannelID] {
			return &ConfigError{msg: "client: duplicate channel id"}
		}
		seen[ch.ChannelID] = true
		if err := ch.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

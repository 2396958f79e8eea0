package server

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shardnet/channel"
	"shardnet/netcode"
)

// ConfigError marks a configuration fault, surfaced synchronously from New.
type ConfigError struct{ msg string }

func (e *ConfigError) Error() string { return e.msg }

func configErrf(format string, args ...interface{}) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// Config configures a Server.
type Config struct {
	ProtocolID uint64
	PrivateKey netcode.Key

	MaxClients int

	// Channels describes every channel by ChannelID; the same list is
	// used symmetrically for send and receive, matching the client's
	// own channel list.
	Channels []channel.Config

	// ServerAddresses are the addresses this server's slots are bound
	// to, verified against each connect token's own server_addresses
	// list during the handshake.
	ServerAddresses []string

	TimeoutSeconds int32
	MaxPacketSize  int

	// MaxPacketsPerTick bounds how many datagrams Update drains from a
	// single slot per call, guaranteeing the tick returns even under a
	// flood. Zero selects a sane default.
	MaxPacketsPerTick int

	// ConnectionRequestRate and ConnectionRequestBurst bound how many
	// ConnectionRequest packets handleNewConnectionRequest will act on
	// per source address per second, ahead of any token decryption.
	// Zero selects a sane default.
	ConnectionRequestRate  float64
	ConnectionRequestBurst int

	Logger *zap.Logger
}

var (
	errNoChannels        = errors.New("server: config must list at least one channel")
	errNoServerAddresses = errors.New("server: config must list at least one server address")
	errBadMaxClients     = errors.New("server: max_clients must be positive")
	errBadPacketSize     = errors.New("server: max_packet_size must be positive")
	errBadTimeout        = errors.New("server: timeout_seconds must be positive")
)

// Validate rejects configurations the server cannot honor, before any
// socket is bound.
func (c Config) Validate() error {
	if c.MaxClients <= 0 {
		return errBadMaxClients
	}
	if len(c.Channels) == 0 {
		return errNoChannels
	}
	if len(c.ServerAddresses) == 0 {
		return errNoServerAddresses
	}
	if c.MaxPacketSize <= 0 {
		return errBadPacketSize
	}
	if c.TimeoutSeconds <= 0 {
		return errBadTimeout
	}
	seen := make(map[uint8]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if seen[ch.ChannelID] {
			return configErrf("server: duplicate channel id %d", ch.ChannelID)
		}
		seen[ch.ChannelID] = true
		if err := ch.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

const defaultMaxPacketsPerTick = 256

func (c Config) maxPacketsPerTick() int {
	if c.MaxPacketsPerTick > 0 {
		return c.MaxPacketsPerTick
	}
	return defaultMaxPacketsPerTick
}

const (
	defaultConnectionRequestRate  = 10
	defaultConnectionRequestBurst = 20
)

func (c Config) connectionRequestRate() float64 {
	if c.ConnectionRequestRate > 0 {
		return c.ConnectionRequestRate
	}
	return defaultConnectionRequestRate
}

func (c Config) connectionRequestBurst() int {
	if c.ConnectionRequestBurst > 0 {
		return c.ConnectionRequestBurst
	}
	return defaultConnectionRequestBurst
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

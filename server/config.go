// Package server implements the address-keyed Endpoint multiplexer of
// spec.md §4.8: routing inbound UDP datagrams to per-peer protocol.Connection
// instances, enforcing a block list and a cap on concurrent handshakes in
// progress per source IP. Grounded on source/server/server.go's Start/listen/
// updateLoop/sessionCleanupLoop lifecycle, generalized from SA-MP's
// single fixed RakNetHandler to an address-keyed map of Connections.
package server

import (
	"crypto/ecdsa"
	"time"

	"github.com/mpgameserver/mpgscore/protocol"
)

// Config is the server-side configuration surface of spec.md §6.
type Config struct {
	MTU                   int
	ConnectionTimeout     time.Duration
	TempConnectionTimeout time.Duration
	MessageTimeout        time.Duration
	KeepAliveInterval     time.Duration
	TickInterval          time.Duration
	BlockList             []string
	RootKey               *ecdsa.PrivateKey

	// MaxTempConnectionsPerIP bounds concurrent CONNECTING connections from
	// a single source address, resisting a handshake flood (spec.md §4.8).
	MaxTempConnectionsPerIP int
}

// DefaultConfig returns spec.md §6's default server configuration.
func DefaultConfig(rootKey *ecdsa.PrivateKey) Config {
	return Config{
		MTU:                     1500,
		ConnectionTimeout:       5 * time.Second,
		TempConnectionTimeout:   2 * time.Second,
		MessageTimeout:          1 * time.Second,
		KeepAliveInterval:       500 * time.Millisecond,
		TickInterval:            time.Second / 60,
		RootKey:                rootKey,
		MaxTempConnectionsPerIP: 8,
	}
}

func (c Config) connectionParams() protocol.Params {
	return protocol.Params{
		MTU:               c.MTU,
		ConnectionTimeout: c.ConnectionTimeout,
		MessageTimeout:    c.MessageTimeout,
		KeepAliveInterval: c.KeepAliveInterval,
	}
}

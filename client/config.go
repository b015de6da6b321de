// Package client implements the single-peer Connection driver of spec.md
// §4.3: CLIENT_HELLO retry/backoff, then the steady-state Tick/read loop.
// Grounded on source/server/server.go's ticker-driven lifecycle, mirrored
// onto a single outbound Connection instead of a listening socket.
package client

import (
	"crypto/ecdsa"
	"time"

	"github.com/mpgameserver/mpgscore/protocol"
)

// Config is the client-side configuration surface of spec.md §6.
type Config struct {
	MTU               int
	ConnectionTimeout time.Duration
	MessageTimeout    time.Duration
	KeepAliveInterval time.Duration
	TickInterval      time.Duration
	ServerPublicKey   *ecdsa.PublicKey

	// HelloRetryInterval is the initial CLIENT_HELLO resend delay; it
	// doubles on each attempt (capped at ConnectionTimeout/2) until the
	// cumulative wait reaches ConnectionTimeout (spec.md §4.3).
	HelloRetryInterval time.Duration
}

// DefaultConfig returns spec.md §6's default client configuration.
func DefaultConfig(serverPub *ecdsa.PublicKey) Config {
	return Config{
		MTU:                1500,
		ConnectionTimeout:  5 * time.Second,
		MessageTimeout:     1 * time.Second,
		KeepAliveInterval:  500 * time.Millisecond,
		TickInterval:       time.Second / 60,
		ServerPublicKey:    serverPub,
		HelloRetryInterval: 250 * time.Millisecond,
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

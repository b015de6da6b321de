// Package protocol implements the Connection state machine of spec.md §4:
// handshake driving, the send/receive path, ack-based retirement, retry and
// timeout scheduling, and message-type dispatch. Grounded on the Session
// struct and methods in source/protocol/raknet.go (mutex-protected fields,
// in-flight/pending maps, a per-session last-activity clock) generalized
// from RakNet's reliability layer to the header/AEAD-based scheme this
// module implements.
package protocol

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/mpgameserver/mpgscore/cryptosuite"
	"github.com/mpgameserver/mpgscore/fragment"
	"github.com/mpgameserver/mpgscore/internal/logging"
	"github.com/mpgameserver/mpgscore/seqnum"
	"github.com/mpgameserver/mpgscore/stats"
	"github.com/mpgameserver/mpgscore/wire"
)

// Params carries the tunables listed in spec.md §6's configuration surface
// that are relevant to a single Connection (server.Config/client.Config
// hold the rest — block list, root keys — and translate into Params when
// constructing a Connection).
type Params struct {
	MTU               int
	ConnectionTimeout time.Duration
	MessageTimeout    time.Duration
	KeepAliveInterval time.Duration
}

// DefaultParams returns spec.md §6's default configuration surface.
func DefaultParams() Params {
	return Params{
		MTU:               wire.DefaultMTU,
		ConnectionTimeout: 5 * time.Second,
		MessageTimeout:    1 * time.Second,
		KeepAliveInterval: 500 * time.Millisecond,
	}
}

const inFlightWindow = 32 // spec.md §3: at most 32 unacked packets at once

type inFlightPacket struct {
	msgSeqs  []seqnum.SeqNum
	sendTime time.Time
}

// Connection drives one end of the handshake and session for a single peer
// address, symmetric between client and server roles (spec.md §3 "Connection").
type Connection struct {
	mu sync.Mutex

	// handlerMu serializes every call out to EventHandler/SendHandle
	// callbacks, independent of mu, so OnConnect/OnMessage/OnDisconnect and
	// ack callbacks never run concurrently even when invoked from different
	// goroutines (spec.md §5: "serialized and never concurrent for the same
	// Connection"). pending holds callbacks queued while mu was held,
	// drained after release (see queueLocked/drainPending).
	handlerMu sync.Mutex
	pending   []func()

	role       Role
	id         xid.ID
	remoteAddr net.Addr
	params     Params
	state      State

	handler  EventHandler
	dispatch map[wire.PacketType]dispatchFunc
	counters *stats.Counters
	log      *logging.Logger

	// Handshake material.
	ephemeral        *ecdh.PrivateKey
	peerEphemeral    *ecdh.PublicKey
	sessionKey       []byte
	rootPriv         *ecdsa.PrivateKey // server role: signs SERVER_HELLO
	rootPub          *ecdsa.PublicKey  // client role: pinned, verifies SERVER_HELLO
	salt             []byte
	challengeToken   []byte
	clientHelloBytes []byte // full CLIENT_HELLO datagram, for SERVER_HELLO pad sizing
	handshakeStart   time.Time
	helloAttempts    int

	// Sequence/window state.
	nextOutPacketSeq seqnum.SeqNum
	nextOutMsgSeq    seqnum.SeqNum
	lastInboundSeq   seqnum.SeqNum
	inboundBits      seqnum.BitField
	oldestUnacked    seqnum.SeqNum

	inFlight  map[seqnum.SeqNum]*inFlightPacket
	sendQueue []*PendingMessage
	dedup     *dedupSet
	fragOutID uint16
	fragIn    *fragment.Assembler

	lastInboundTime    time.Time
	lastOutboundTime   time.Time
	disconnectDeadline time.Time
	disconnectMsgSeq   seqnum.SeqNum

	rttMillis float64
}

// NewClientConnection builds a Connection in CONNECTING state for the client
// role. serverPub is the pre-shared root public key used to authenticate
// SERVER_HELLO.
func NewClientConnection(remoteAddr net.Addr, serverPub *ecdsa.PublicKey, handler EventHandler, params Params, counters *stats.Counters) *Connection {
	c := newConnection(RoleClient, remoteAddr, handler, params, counters)
	c.rootPub = serverPub
	return c
}

// NewServerConnection builds a Connection in CONNECTING state for the server
// role, created when an Endpoint sees a CLIENT_HELLO from a new address.
func NewServerConnection(remoteAddr net.Addr, rootPriv *ecdsa.PrivateKey, handler EventHandler, params Params, counters *stats.Counters) *Connection {
	c := newConnection(RoleServer, remoteAddr, handler, params, counters)
	c.rootPriv = rootPriv
	return c
}

func newConnection(role Role, remoteAddr net.Addr, handler EventHandler, params Params, counters *stats.Counters) *Connection {
	id := xid.New()
	return &Connection{
		role:             role,
		id:               id,
		remoteAddr:       remoteAddr,
		params:           params,
		state:            StateConnecting,
		handler:          handler,
		dispatch:         defaultDispatchTable(),
		counters:         counters,
		log:              logging.New(fmt.Sprintf("[conn %s]", id.String())),
		nextOutPacketSeq: 1,
		nextOutMsgSeq:    1,
		inFlight:         make(map[seqnum.SeqNum]*inFlightPacket),
		dedup:            newDedupSet(dedupCapacity),
		fragIn:           fragment.NewAssembler(fragment.DefaultCapacity, fragment.DefaultTimeout),
	}
}

// ID returns the connection's human-facing identifier, used as its log
// prefix (distinct from the wire-level 128-bit challenge token exchanged
// during handshake). Stats counters are keyed separately, by whatever id the
// caller passes to stats.Collector.Track.
func (c *Connection) ID() string { return c.id.String() }

// RemoteAddr returns the peer address this Connection is bound to.
func (c *Connection) RemoteAddr() net.Addr { return c.remoteAddr }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RTT returns the current EWMA round-trip-time estimate in milliseconds.
func (c *Connection) RTT() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rttMillis
}

// myDirection is the Direction stamped on packets this Connection emits.
func (c *Connection) myDirection() wire.Direction {
	if c.role == RoleClient {
		return wire.ToServer
	}
	return wire.ToClient
}

// peerDirection is the Direction we require on packets we decode.
func (c *Connection) peerDirection() wire.Direction {
	if c.role == RoleClient {
		return wire.ToClient
	}
	return wire.ToServer
}

func (c *Connection) transitionLocked(next State, reason DisconnectReason) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	c.log.Debugf("state %s -> %s", prev, next)

	switch next {
	case StateConnected:
		if c.handler != nil {
			c.queueLocked(func() { c.handler.OnConnect(c) })
		}
	case StateDisconnected, StateDropped:
		if c.handler != nil {
			c.queueLocked(func() { c.handler.OnDisconnect(c, reason) })
		}
		for _, pm := range c.sendQueue {
			if pm.Handle != nil {
				handle := pm.Handle
				c.queueLocked(func() { handle.complete(false) })
			}
		}
	}
}

// queueLocked defers fn until after the caller releases mu (see
// drainPending). Caller holds c.mu.
func (c *Connection) queueLocked(fn func()) {
	c.pending = append(c.pending, fn)
}

// drainPending runs every callback queued by queueLocked since the last
// drain. It must be called with mu NOT held, from every exported method
// that can reach transitionLocked or retirePendingLocked, so that
// EventHandler/SendHandle callbacks never run while c.mu is held — a
// handler calling back into Send/State/Disconnect would otherwise deadlock.
// invokeHandler's mutex keeps these calls serialized against each other and
// against direct OnMessage dispatch from a different goroutine.
func (c *Connection) drainPending() {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, fn := range batch {
		c.invokeHandler(fn)
	}
}

// invokeHandler runs fn (an EventHandler or SendHandle callback invocation)
// under handlerMu, serializing it against every other such call for this
// Connection regardless of which goroutine makes it.
func (c *Connection) invokeHandler(fn func()) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	fn()
}

// ctimeMillis is the endpoint-local clock used for the header's ctime field
// (spec.md §3: "endpoint-local ms or seconds since boot"); it need not be
// wall-clock time, only monotonically informative per AEAD-nonce uniqueness.
func ctimeMillis(now time.Time) uint32 {
	return uint32(now.UnixMilli())
}

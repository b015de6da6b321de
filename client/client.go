package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mpgameserver/mpgscore/internal/logging"
	"github.com/mpgameserver/mpgscore/protocol"
	"github.com/mpgameserver/mpgscore/stats"
)

// Client drives a single outbound Connection to one server address:
// handshake with backoff, then the steady Tick/read loop.
type Client struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	config     Config
	handler    protocol.EventHandler
	counters   *stats.Counters
	log        *logging.Logger

	connection *protocol.Connection

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Client bound to conn, targeting remoteAddr. handler receives
// OnConnect/OnDisconnect/OnMessage once the handshake completes.
func New(conn *net.UDPConn, remoteAddr *net.UDPAddr, config Config, handler protocol.EventHandler) *Client {
	return &Client{
		conn:       conn,
		remoteAddr: remoteAddr,
		config:     config,
		handler:    handler,
		counters:   &stats.Counters{},
		log:        logging.New("[client]"),
		stopCh:     make(chan struct{}),
	}
}

// Counters exposes the Connection's rolling send/receive/RTT counters.
func (cl *Client) Counters() *stats.Counters { return cl.counters }

// Connection returns the underlying Connection once Connect has succeeded.
func (cl *Client) Connection() *protocol.Connection { return cl.connection }

// Connect performs the three-step handshake of spec.md §4.3, resending
// CLIENT_HELLO with exponential backoff until either SERVER_HELLO arrives
// (and CHALLENGE_RESP is sent in reply) or ctx/ConnectionTimeout expires.
// On success it spawns the background read and tick loops and returns nil.
func (cl *Client) Connect(ctx context.Context) error {
	cl.connection = protocol.NewClientConnection(cl.remoteAddr, cl.config.ServerPublicKey, cl.handler, cl.config.connectionParams(), cl.counters)

	deadline := time.Now().Add(cl.config.ConnectionTimeout)
	backoff := cl.config.HelloRetryInterval
	maxBackoff := cl.config.ConnectionTimeout / 2
	if maxBackoff <= 0 {
		maxBackoff = cl.config.HelloRetryInterval
	}

	buf := make([]byte, 65535)
	for {
		now := time.Now()
		if now.After(deadline) {
			cl.connection = nil
			return fmt.Errorf("client: connection timed out")
		}
		select {
		case <-ctx.Done():
			cl.connection = nil
			return ctx.Err()
		default:
		}

		hello, err := cl.connection.StartHandshake(now)
		if err != nil {
			return fmt.Errorf("client: start handshake: %w", err)
		}
		if _, err := cl.conn.WriteToUDP(hello, cl.remoteAddr); err != nil {
			return fmt.Errorf("client: send client hello: %w", err)
		}

		waitFor := backoff
		if remaining := deadline.Sub(now); remaining < waitFor {
			waitFor = remaining
		}
		if err := cl.conn.SetReadDeadline(time.Now().Add(waitFor)); err != nil {
			return fmt.Errorf("client: set read deadline: %w", err)
		}

		n, addr, err := cl.conn.ReadFromUDP(buf)
		if err != nil {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		if !addr.IP.Equal(cl.remoteAddr.IP) || addr.Port != cl.remoteAddr.Port {
			continue // ignore datagrams from anyone but the server we dialed
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		reply := cl.connection.HandleDatagram(raw, time.Now())
		if reply != nil {
			if _, err := cl.conn.WriteToUDP(reply, cl.remoteAddr); err != nil {
				return fmt.Errorf("client: send challenge response: %w", err)
			}
		}
		if cl.connection.State() == protocol.StateConnected {
			break
		}
		if cl.connection.State() == protocol.StateDropped {
			return fmt.Errorf("client: handshake failed")
		}
	}

	if err := cl.conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("client: clear read deadline: %w", err)
	}

	cl.wg.Add(2)
	go cl.readLoop()
	go cl.tickLoop()
	return nil
}

// Send enqueues payload for delivery on the live Connection.
func (cl *Client) Send(payload []byte, retry protocol.RetryMode, callback func(bool)) (*protocol.SendHandle, error) {
	if cl.connection == nil {
		return nil, fmt.Errorf("client: not connected")
	}
	return cl.connection.Send(payload, retry, callback)
}

// Disconnect begins a graceful close and blocks until it completes or
// timeout elapses, then stops the background loops.
func (cl *Client) Disconnect(timeout time.Duration) {
	if cl.connection != nil {
		cl.connection.Disconnect(time.Now())
		deadline := time.Now().Add(timeout)
		for time.Now().Before(deadline) {
			switch cl.connection.State() {
			case protocol.StateDisconnected, protocol.StateDropped:
				cl.Close()
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	cl.Close()
}

// Close stops the background loops without waiting for a graceful
// DISCONNECT handshake.
func (cl *Client) Close() {
	select {
	case <-cl.stopCh:
	default:
		close(cl.stopCh)
	}
	cl.wg.Wait()
}

func (cl *Client) readLoop() {
	defer cl.wg.Done()
	buf := make([]byte, 65535)
	for {
		select {
		case <-cl.stopCh:
			return
		default:
		}
		if err := cl.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond)); err != nil {
			return
		}
		n, addr, err := cl.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if !addr.IP.Equal(cl.remoteAddr.IP) || addr.Port != cl.remoteAddr.Port {
			continue
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		cl.connection.HandleDatagram(raw, time.Now())
	}
}

func (cl *Client) tickLoop() {
	defer cl.wg.Done()
	ticker := time.NewTicker(cl.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cl.stopCh:
			return
		case now := <-ticker.C:
			for _, pkt := range cl.connection.Tick(now) {
				if _, err := cl.conn.WriteToUDP(pkt, cl.remoteAddr); err != nil {
					cl.log.Warnf("send to %s: %v", cl.remoteAddr, err)
				}
			}
			switch cl.connection.State() {
			case protocol.StateDisconnected, protocol.StateDropped:
				return
			}
		}
	}
}

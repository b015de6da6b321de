package server

import (
	"net"
	"sync"
	"time"

	"github.com/mpgameserver/mpgscore/internal/logging"
	"github.com/mpgameserver/mpgscore/protocol"
	"github.com/mpgameserver/mpgscore/stats"
	"github.com/mpgameserver/mpgscore/wire"
)

// trackedConn pairs a live Connection with whether it is still counted
// against its source IP's temp-connection cap (cleared once CONNECTED).
type trackedConn struct {
	conn      *protocol.Connection
	temp      bool
	remote    string
	createdAt time.Time
}

// Endpoint multiplexes a single UDP socket across many peer Connections,
// keyed by remote address. Grounded on source/server/server.go's Start/
// listen/updateLoop/sessionCleanupLoop lifecycle (ReadFromUDP accept loop +
// ticker-driven update and cleanup goroutines over a mutex-guarded map),
// generalized from a single fixed game-session map to the handshake-aware
// Connection map this protocol needs.
type Endpoint struct {
	conn    *net.UDPConn
	config  Config
	handler protocol.EventHandler
	log     *logging.Logger
	metrics *stats.Collector

	mu         sync.RWMutex
	conns      map[string]*trackedConn
	tempByIP   map[string]int
	blockList  map[string]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEndpoint constructs an Endpoint bound to conn. handler receives
// OnConnect/OnDisconnect/OnMessage for every Connection the Endpoint creates.
func NewEndpoint(conn *net.UDPConn, config Config, handler protocol.EventHandler) *Endpoint {
	block := make(map[string]struct{}, len(config.BlockList))
	for _, addr := range config.BlockList {
		block[addr] = struct{}{}
	}
	return &Endpoint{
		conn:      conn,
		config:    config,
		handler:   handler,
		log:       logging.New("[server]"),
		metrics:   stats.NewCollector(),
		conns:     make(map[string]*trackedConn),
		tempByIP:  make(map[string]int),
		blockList: block,
		stopCh:    make(chan struct{}),
	}
}

// Metrics returns the prometheus.Collector tracking every Connection's
// Counters, registrable once at process startup (spec.md §6 Observability).
func (e *Endpoint) Metrics() *stats.Collector { return e.metrics }

// Start spawns the receive loop and the tick/cleanup loops (spec.md §4.8).
func (e *Endpoint) Start() {
	e.wg.Add(3)
	go e.listen()
	go e.updateLoop()
	go e.cleanupLoop()
}

// Stop halts all Endpoint goroutines and closes the socket.
func (e *Endpoint) Stop() {
	close(e.stopCh)
	e.conn.Close()
	e.wg.Wait()
}

func (e *Endpoint) listen() {
	defer e.wg.Done()
	buf := make([]byte, 65535)
	for {
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
				e.log.Warnf("read udp: %v", err)
				continue
			}
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		e.handleDatagram(raw, addr)
	}
}

func (e *Endpoint) handleDatagram(raw []byte, addr *net.UDPAddr) {
	if e.isBlocked(addr) {
		return
	}

	key := addr.String()
	now := time.Now()

	e.mu.RLock()
	tc, ok := e.conns[key]
	e.mu.RUnlock()

	if !ok {
		header, err := wire.DecodeHeader(raw, wire.ToServer)
		if err != nil || header.Type != wire.ClientHello {
			return // never originate a reply to an unrecognized peer
		}
		if !e.admitTempConnection(addr) {
			return
		}
		c := protocol.NewServerConnection(addr, e.config.RootKey, e.handler, e.config.connectionParams(), e.metrics.Track(addrConnKey(addr)))
		tc = &trackedConn{conn: c, temp: true, remote: key, createdAt: now}
		e.mu.Lock()
		e.conns[key] = tc
		e.mu.Unlock()
	}

	reply := tc.conn.HandleDatagram(raw, now)
	if tc.conn.State() == protocol.StateConnected {
		e.clearTemp(tc)
	}
	if reply != nil {
		if _, err := e.conn.WriteToUDP(reply, addr); err != nil {
			e.log.Warnf("write udp to %s: %v", key, err)
		}
	}
}

func (e *Endpoint) isBlocked(addr *net.UDPAddr) bool {
	_, blocked := e.blockList[addr.IP.String()]
	return blocked
}

func (e *Endpoint) admitTempConnection(addr *net.UDPAddr) bool {
	ip := addr.IP.String()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tempByIP[ip] >= e.config.MaxTempConnectionsPerIP {
		return false
	}
	e.tempByIP[ip]++
	return true
}

func (e *Endpoint) clearTemp(tc *trackedConn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !tc.temp {
		return
	}
	tc.temp = false
	host, _, err := net.SplitHostPort(tc.remote)
	if err != nil {
		host = tc.remote
	}
	if e.tempByIP[host] > 0 {
		e.tempByIP[host]--
	}
}

// updateLoop drives every Connection's Tick at config.TickInterval,
// writing whatever datagrams it produces and reaping finished connections
// (grounded on source/server/server.go's updateLoop 50ms ticker).
func (e *Endpoint) updateLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			e.tickAll(now)
		}
	}
}

func (e *Endpoint) tickAll(now time.Time) {
	e.mu.RLock()
	snapshot := make([]*trackedConn, 0, len(e.conns))
	for _, tc := range e.conns {
		snapshot = append(snapshot, tc)
	}
	e.mu.RUnlock()

	var dead []string
	for _, tc := range snapshot {
		for _, pkt := range tc.conn.Tick(now) {
			addr := tc.conn.RemoteAddr().(*net.UDPAddr)
			if _, err := e.conn.WriteToUDP(pkt, addr); err != nil {
				e.log.Warnf("write udp to %s: %v", tc.remote, err)
			}
		}
		switch tc.conn.State() {
		case protocol.StateDisconnected, protocol.StateDropped:
			dead = append(dead, tc.remote)
		}
	}

	if len(dead) > 0 {
		e.mu.Lock()
		for _, key := range dead {
			delete(e.conns, key)
		}
		e.mu.Unlock()
		for _, key := range dead {
			e.metrics.Untrack(key)
		}
	}
}

// cleanupLoop prunes CONNECTING connections that never completed the
// handshake within TempConnectionTimeout (spec.md §4.8 amplification/flood
// mitigation), grounded on source/server/server.go's sessionCleanupLoop.
func (e *Endpoint) cleanupLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.TempConnectionTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.pruneStaleHandshakes()
		}
	}
}

func (e *Endpoint) pruneStaleHandshakes() {
	now := time.Now()
	e.mu.RLock()
	var stale []*trackedConn
	for _, tc := range e.conns {
		if tc.temp && tc.conn.State() == protocol.StateConnecting &&
			now.Sub(tc.createdAt) >= e.config.TempConnectionTimeout {
			stale = append(stale, tc)
		}
	}
	e.mu.RUnlock()

	for _, tc := range stale {
		host, _, err := net.SplitHostPort(tc.remote)
		if err != nil {
			host = tc.remote
		}
		e.mu.Lock()
		delete(e.conns, tc.remote)
		tc.temp = false
		if e.tempByIP[host] > 0 {
			e.tempByIP[host]--
		}
		e.mu.Unlock()
		e.metrics.Untrack(tc.remote)
	}
}

func addrConnKey(addr *net.UDPAddr) string { return addr.String() }

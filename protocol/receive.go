package protocol

import (
	"time"

	"github.com/mpgameserver/mpgscore/cryptosuite"
	"github.com/mpgameserver/mpgscore/seqnum"
	"github.com/mpgameserver/mpgscore/wire"
)

// HandleDatagram processes one inbound UDP datagram addressed to this
// Connection. It returns a reply datagram when the handshake step demands
// one (SERVER_HELLO, CHALLENGE_RESP); nil otherwise. Every failure is
// dropped silently per spec.md §4.5/§7 — HandleDatagram never returns an
// error the caller must act on beyond discarding the datagram.
func (c *Connection) HandleDatagram(raw []byte, now time.Time) []byte {
	defer c.drainPending()

	header, err := wire.DecodeHeader(raw, c.peerDirection())
	if err != nil {
		c.bumpDropped()
		return nil
	}
	body := raw[wire.HeaderSize:]

	if header.Type.IsHandshake() {
		return c.handleHandshakePacket(header, body, raw, now)
	}

	c.mu.Lock()
	connected := c.state == StateConnected || c.state == StateDisconnecting
	c.mu.Unlock()
	if !connected {
		c.bumpDropped()
		return nil
	}

	c.handleSessionPacket(header, body, now)
	return nil
}

func (c *Connection) handleHandshakePacket(header wire.PacketHeader, body, raw []byte, now time.Time) []byte {
	switch header.Type {
	case wire.ClientHello:
		reply, err := c.handleClientHello(body, raw, now)
		if err != nil {
			c.bumpDropped()
			return nil
		}
		return reply
	case wire.ServerHello:
		reply, err := c.handleServerHello(header, body, now)
		if err != nil {
			c.bumpDropped()
			return nil
		}
		return reply
	case wire.ChallengeResp:
		if err := c.handleChallengeResponse(header, body, now); err != nil {
			c.bumpDropped()
		}
		return nil
	default:
		c.bumpDropped()
		return nil
	}
}

// handleSessionPacket implements spec.md §4.5 steps 2-5 for APP/APP_FRAGMENT/
// KEEP_ALIVE/DISCONNECT packets on an already-keyed Connection.
func (c *Connection) handleSessionPacket(header wire.PacketHeader, body []byte, now time.Time) {
	c.mu.Lock()

	seq := seqnum.SeqNum(header.Seq)
	snapshot := c.inboundBits.Snapshot()
	result := c.inboundBits.Insert(seq)
	if result != seqnum.Inserted {
		c.mu.Unlock()
		c.bumpDropped()
		return
	}

	sessionKey := c.sessionKey
	plaintext, err := cryptosuite.Open(sessionKey, header.Nonce(), header.AAD(), body)
	if err != nil {
		c.inboundBits.Restore(snapshot)
		c.mu.Unlock()
		c.bumpCorrupt()
		return
	}

	c.lastInboundSeq = seq
	c.lastInboundTime = now
	c.retireAckedLocked(header, now)

	var slots []wire.Slot
	if header.Count > 0 {
		slots, err = wire.DecodeBody(header.Type, header.Count, plaintext)
		if err != nil {
			c.mu.Unlock()
			c.bumpDropped()
			return
		}
	}
	c.mu.Unlock()

	c.counters.AddReceived(len(body) + wire.HeaderSize)

	for _, slot := range slots {
		c.dispatchSlot(slot)
	}
}

// retireAckedLocked processes the (ack, ack_bits) pair of an inbound header,
// retiring in-flight packets and firing PendingMessage callbacks with true
// (spec.md §4.5 step 4). Caller holds c.mu.
func (c *Connection) retireAckedLocked(header wire.PacketHeader, now time.Time) {
	ack := seqnum.SeqNum(header.Ack)
	if ack == seqnum.Invalid {
		return
	}

	acked := []seqnum.SeqNum{ack}
	for i := 1; i < seqnum.Width; i++ {
		if header.AckBits&(uint32(1)<<uint(i)) != 0 {
			acked = append(acked, seqnum.Advance(ack, -i))
		}
	}

	for _, packetSeq := range acked {
		pkt, ok := c.inFlight[packetSeq]
		if !ok {
			continue
		}
		delete(c.inFlight, packetSeq)

		sample := float64(now.Sub(pkt.sendTime).Milliseconds())
		c.counters.UpdateRTT(sample, 0.125)
		c.rttMillis = c.counters.RTT()

		for _, msgSeq := range pkt.msgSeqs {
			c.retirePendingLocked(msgSeq, true)
		}
	}
	c.advanceOldestUnackedLocked()
}

// retirePendingLocked removes msgSeq from the send queue and queues its
// SendHandle's completion for after the caller releases c.mu (see
// queueLocked/drainPending) — completion invokes the caller's callback,
// which must never run while c.mu is held.
func (c *Connection) retirePendingLocked(msgSeq seqnum.SeqNum, ok bool) {
	for i, pm := range c.sendQueue {
		if pm.MsgSeq == msgSeq {
			c.sendQueue = append(c.sendQueue[:i], c.sendQueue[i+1:]...)
			if pm.Handle != nil {
				handle := pm.Handle
				c.queueLocked(func() { handle.complete(ok) })
			}
			return
		}
	}
}

// advanceOldestUnackedLocked recomputes the oldest still-unacked packet
// SeqNum, which bounds how far the sender may advance (spec.md §3: "the
// sender must not advance beyond ack + 32"). Caller holds c.mu.
func (c *Connection) advanceOldestUnackedLocked() {
	if len(c.inFlight) == 0 {
		c.oldestUnacked = c.nextOutPacketSeq
		return
	}
	var found seqnum.SeqNum
	best := -1
	for seq := range c.inFlight {
		d := seqnum.Diff(c.nextOutPacketSeq, seq)
		if best == -1 || d > best {
			best = d
			found = seq
		}
	}
	c.oldestUnacked = found
}

func (c *Connection) dispatchSlot(slot wire.Slot) {
	handler, ok := c.dispatch[slot.Type]
	if !ok {
		c.log.Debugf("no dispatch handler for message type %d", slot.Type)
		c.bumpDropped()
		return
	}
	handler(c, slot)
}

func (c *Connection) handleAppSlot(slot wire.Slot) {
	msgSeq := seqnum.SeqNum(slot.MsgSeq)
	c.mu.Lock()
	isNew := c.dedup.Insert(msgSeq)
	c.mu.Unlock()
	if !isNew {
		c.bumpDropped()
		return
	}
	if c.handler != nil {
		c.invokeHandler(func() { c.handler.OnMessage(c, slot.Payload) })
	}
}

func (c *Connection) handleFragmentSlot(slot wire.Slot) {
	msgSeq := seqnum.SeqNum(slot.MsgSeq)
	c.mu.Lock()
	isNew := c.dedup.Insert(msgSeq)
	c.mu.Unlock()
	if !isNew {
		c.bumpDropped()
		return
	}

	frag, err := decodeFragmentEnvelope(slot.Payload)
	if err != nil {
		c.bumpDropped()
		return
	}

	c.mu.Lock()
	payload, done, err := c.fragIn.Insert(frag, time.Now())
	c.mu.Unlock()
	if err != nil {
		c.bumpDropped()
		return
	}
	if done && c.handler != nil {
		c.invokeHandler(func() { c.handler.OnMessage(c, payload) })
	}
}

// handleDisconnectSlot processes a peer-initiated graceful close (spec.md
// §4.7's DISCONNECT packet). It is not subject to dedup, since there is no
// application payload to deliver twice.
func (c *Connection) handleDisconnectSlot(slot wire.Slot) {
	c.mu.Lock()
	alreadyDone := c.state == StateDisconnected || c.state == StateDropped
	if !alreadyDone {
		c.transitionLocked(StateDisconnected, DisconnectGraceful)
	}
	c.mu.Unlock()
}

func (c *Connection) bumpDropped() {
	if c.counters != nil {
		c.counters.AddDropped()
	}
}

func (c *Connection) bumpCorrupt() {
	if c.counters != nil {
		c.counters.AddCorrupt()
	}
}

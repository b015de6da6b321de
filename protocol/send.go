package protocol

import (
	"fmt"
	"time"

	"github.com/mpgameserver/mpgscore/cryptosuite"
	"github.com/mpgameserver/mpgscore/fragment"
	"github.com/mpgameserver/mpgscore/seqnum"
	"github.com/mpgameserver/mpgscore/wire"
)

// disconnectWaitTimeout is the DISCONNECTING -> DISCONNECTED fallback delay
// when no ack for the DISCONNECT packet arrives (spec.md §4.7).
const disconnectWaitTimeout = 1 * time.Second

// Send enqueues payload for delivery, splitting it into ordered
// APP_FRAGMENT messages when it exceeds the single-message limit (spec.md
// §4.4). The returned SendHandle completes once the outcome of the
// message is known; for a fragmented message all pieces share one handle
// and the first piece to resolve (ack or give-up) decides the outcome.
func (c *Connection) Send(payload []byte, retry RetryMode, callback func(bool)) (*SendHandle, error) {
	defer c.drainPending()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return nil, fmt.Errorf("protocol: cannot send while connection is %s", c.state)
	}

	handle := newSendHandle(callback)

	if len(payload) > wire.MaxMessage {
		groupID := c.fragOutID
		c.fragOutID++
		frags, err := fragment.Split(payload, groupID, wire.MaxMessage-fragmentEnvelopeSize)
		if err != nil {
			return nil, fmt.Errorf("protocol: split message: %w", err)
		}
		for _, f := range frags {
			c.sendQueue = append(c.sendQueue, &PendingMessage{
				MsgSeq:      c.nextOutMsgSeq,
				Type:        wire.AppFragment,
				Payload:     encodeFragmentEnvelope(f),
				Retry:       retry,
				Handle:      handle,
				FragGroupID: f.GroupID,
				FragIndex:   f.Index,
				FragTotal:   f.Total,
				hasFragment: true,
			})
			c.nextOutMsgSeq = seqnum.Successor(c.nextOutMsgSeq)
		}
		return handle, nil
	}

	c.sendQueue = append(c.sendQueue, &PendingMessage{
		MsgSeq:  c.nextOutMsgSeq,
		Type:    wire.App,
		Payload: payload,
		Retry:   retry,
		Handle:  handle,
	})
	c.nextOutMsgSeq = seqnum.Successor(c.nextOutMsgSeq)
	return handle, nil
}

// Disconnect begins a graceful teardown (spec.md §4.7 CONNECTED ->
// DISCONNECTING): a DISCONNECT message is enqueued with RETRY_ON_TIMEOUT
// and no further user Sends are accepted. Returns nil if the connection
// isn't CONNECTED.
func (c *Connection) Disconnect(now time.Time) *SendHandle {
	defer c.drainPending()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return nil
	}

	handle := newSendHandle(nil)
	pm := &PendingMessage{
		MsgSeq: c.nextOutMsgSeq,
		Type:   wire.Disconnect,
		Retry:  RetryOnTimeout,
		Handle: handle,
	}
	c.disconnectMsgSeq = c.nextOutMsgSeq
	c.nextOutMsgSeq = seqnum.Successor(c.nextOutMsgSeq)
	c.sendQueue = append(c.sendQueue, pm)
	c.disconnectDeadline = now.Add(disconnectWaitTimeout)
	c.transitionLocked(StateDisconnecting, DisconnectGraceful)
	return handle
}

// Tick drives one iteration of the timeout/retry scheduler and the send
// queue drain (spec.md §4.4, §4.6), returning zero or one outbound
// datagrams the caller must write to the socket.
func (c *Connection) Tick(now time.Time) [][]byte {
	defer c.drainPending()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnected || c.state == StateDropped {
		return nil
	}

	c.checkConnectionTimeoutLocked(now)
	if c.state == StateDropped {
		return nil
	}

	c.scanInFlightTimeoutsLocked(now)
	c.scanBestEffortResendLocked(now)
	c.checkDisconnectingLocked(now)
	c.pruneFragmentsLocked(now)

	if c.state != StateConnected && c.state != StateDisconnecting {
		return nil
	}

	if pkt := c.drainSendQueueLocked(now); pkt != nil {
		return [][]byte{pkt}
	}
	if now.Sub(c.lastOutboundTime) >= c.params.KeepAliveInterval {
		if pkt := c.buildKeepAliveLocked(now); pkt != nil {
			return [][]byte{pkt}
		}
	}
	return nil
}

func (c *Connection) checkConnectionTimeoutLocked(now time.Time) {
	if c.lastInboundTime.IsZero() {
		return
	}
	if now.Sub(c.lastInboundTime) > c.params.ConnectionTimeout {
		c.transitionLocked(StateDropped, DisconnectTimeout)
	}
}

func (c *Connection) checkDisconnectingLocked(now time.Time) {
	if c.state != StateDisconnecting {
		return
	}
	acked := c.disconnectMsgSeq != seqnum.Invalid && c.findPendingLocked(c.disconnectMsgSeq) == nil
	if acked || now.After(c.disconnectDeadline) {
		c.transitionLocked(StateDisconnected, DisconnectGraceful)
	}
}

// scanInFlightTimeoutsLocked implements spec.md §4.6: packets unacked past
// message_timeout have their messages resolved per retry mode.
func (c *Connection) scanInFlightTimeoutsLocked(now time.Time) {
	for packetSeq, pkt := range c.inFlight {
		if now.Sub(pkt.sendTime) < c.params.MessageTimeout {
			continue
		}
		delete(c.inFlight, packetSeq)

		for _, msgSeq := range pkt.msgSeqs {
			pm := c.findPendingLocked(msgSeq)
			if pm == nil {
				continue // already retired (e.g. RetryNone at placement time)
			}
			switch pm.Retry {
			case RetryBestEffort:
				if now.Sub(pm.FirstSend) >= c.params.MessageTimeout {
					c.retirePendingLocked(msgSeq, false)
				} else {
					pm.placed = false
				}
			case RetryOnTimeout:
				c.requeueWithFreshSeqLocked(pm)
			}
		}
	}
	c.advanceOldestUnackedLocked()
}

// pruneFragmentsLocked evicts inbound fragment groups that have sat
// incomplete past their reassembly timeout (spec.md §4.5: "enforce a
// per-group reassembly timeout"), so a peer that starts a group and never
// finishes it can't hold a reassembly slot indefinitely.
func (c *Connection) pruneFragmentsLocked(now time.Time) {
	for _, groupID := range c.fragIn.Prune(now) {
		c.log.Debugf("fragment group %d dropped: reassembly timeout", groupID)
		c.bumpDropped()
	}
}

// scanBestEffortResendLocked implements spec.md §4.4's keep-alive resend
// cadence for BEST_EFFORT messages still awaiting ack.
func (c *Connection) scanBestEffortResendLocked(now time.Time) {
	for _, pm := range c.sendQueue {
		if pm.Retry != RetryBestEffort || !pm.placed {
			continue
		}
		if now.Sub(pm.FirstSend) >= c.params.MessageTimeout {
			continue // the in-flight scan will retire it once its packet times out
		}
		if now.Sub(pm.LastSend) >= c.params.KeepAliveInterval {
			pm.placed = false
		}
	}
}

// requeueWithFreshSeqLocked moves pm to the head of the send queue under a
// new message SeqNum (spec.md §4.6: RETRY_ON_TIMEOUT re-enqueues "with a
// fresh msg_seq").
func (c *Connection) requeueWithFreshSeqLocked(pm *PendingMessage) {
	for i, p := range c.sendQueue {
		if p == pm {
			c.sendQueue = append(c.sendQueue[:i], c.sendQueue[i+1:]...)
			break
		}
	}
	if pm.MsgSeq == c.disconnectMsgSeq {
		c.disconnectMsgSeq = c.nextOutMsgSeq
	}
	pm.MsgSeq = c.nextOutMsgSeq
	c.nextOutMsgSeq = seqnum.Successor(c.nextOutMsgSeq)
	pm.placed = false
	pm.PacketSeqs = nil
	c.sendQueue = append([]*PendingMessage{pm}, c.sendQueue...)
}

func (c *Connection) findPendingLocked(msgSeq seqnum.SeqNum) *PendingMessage {
	for _, pm := range c.sendQueue {
		if pm.MsgSeq == msgSeq {
			return pm
		}
	}
	return nil
}

// drainSendQueueLocked packs as many not-yet-placed PendingMessages as fit
// under the MTU into one packet (spec.md §4.4), honoring the in-flight
// window bound.
func (c *Connection) drainSendQueueLocked(now time.Time) []byte {
	if len(c.sendQueue) == 0 {
		return nil
	}
	if seqnum.Diff(c.nextOutPacketSeq, c.oldestUnacked) >= inFlightWindow {
		c.bumpDropped() // window-full stall, counted under Dropped
		return nil
	}

	maxBody := c.params.MTU - wire.UDPOverhead - wire.HeaderSize - wire.AEADTagSize

	var packed []*PendingMessage
	for _, pm := range c.sendQueue {
		if pm.placed {
			continue
		}
		candidate := append(packed, pm)
		if len(wire.EncodeBody(slotsFromPending(candidate))) > maxBody {
			break
		}
		packed = candidate
		if len(packed) >= 255 {
			break
		}
	}
	if len(packed) == 0 {
		return nil
	}

	slots := slotsFromPending(packed)
	body := wire.EncodeBody(slots)

	packetSeq := c.nextOutPacketSeq
	c.nextOutPacketSeq = seqnum.Successor(c.nextOutPacketSeq)

	headerType := wire.App
	if len(slots) == 1 {
		headerType = slots[0].Type
	}

	header := wire.PacketHeader{
		Direction: c.myDirection(),
		Ctime:     ctimeMillis(now),
		Seq:       uint16(packetSeq),
		Ack:       uint16(c.lastInboundSeq),
		Type:      headerType,
		Length:    uint16(len(body)),
		Count:     uint8(len(slots)),
		AckBits:   c.inboundBits.SnapshotRelativeTo(c.lastInboundSeq),
	}
	ciphertext, err := cryptosuite.Seal(c.sessionKey, header.Nonce(), header.AAD(), body)
	if err != nil {
		c.log.Errorf("seal outbound packet: %v", err)
		return nil
	}
	datagram := wire.AssembleDatagram(header, ciphertext, nil)

	msgSeqs := make([]seqnum.SeqNum, len(packed))
	for i, pm := range packed {
		pm.markPlaced(packetSeq, now)
		msgSeqs[i] = pm.MsgSeq
	}
	c.inFlight[packetSeq] = &inFlightPacket{msgSeqs: msgSeqs, sendTime: now}
	c.advanceOldestUnackedLocked()
	c.lastOutboundTime = now
	c.counters.AddSent(len(datagram))

	for _, pm := range packed {
		if pm.Retry == RetryNone {
			c.retirePendingLocked(pm.MsgSeq, true)
		}
	}

	return datagram
}

func slotsFromPending(packed []*PendingMessage) []wire.Slot {
	slots := make([]wire.Slot, len(packed))
	for i, pm := range packed {
		slots[i] = wire.Slot{MsgSeq: uint16(pm.MsgSeq), Type: pm.Type, Payload: pm.Payload}
	}
	return slots
}

// buildKeepAliveLocked emits an empty-body packet purely to keep the ack
// stream fresh (spec.md §4.4). Returns nil if the in-flight window is full.
func (c *Connection) buildKeepAliveLocked(now time.Time) []byte {
	if seqnum.Diff(c.nextOutPacketSeq, c.oldestUnacked) >= inFlightWindow {
		return nil
	}

	packetSeq := c.nextOutPacketSeq
	c.nextOutPacketSeq = seqnum.Successor(c.nextOutPacketSeq)

	header := wire.PacketHeader{
		Direction: c.myDirection(),
		Ctime:     ctimeMillis(now),
		Seq:       uint16(packetSeq),
		Ack:       uint16(c.lastInboundSeq),
		Type:      wire.KeepAlive,
		Length:    0,
		Count:     0,
		AckBits:   c.inboundBits.SnapshotRelativeTo(c.lastInboundSeq),
	}
	ciphertext, err := cryptosuite.Seal(c.sessionKey, header.Nonce(), header.AAD(), nil)
	if err != nil {
		c.log.Errorf("seal keep-alive: %v", err)
		return nil
	}
	datagram := wire.AssembleDatagram(header, ciphertext, nil)

	c.inFlight[packetSeq] = &inFlightPacket{sendTime: now}
	c.advanceOldestUnackedLocked()
	c.lastOutboundTime = now
	c.counters.AddSent(len(datagram))
	return datagram
}

package protocol

import (
	"sync"
	"time"

	"github.com/mpgameserver/mpgscore/seqnum"
	"github.com/mpgameserver/mpgscore/wire"
)

// RetryMode controls how a PendingMessage is re-sent after its containing
// packet is dropped, per spec.md §4.4.
type RetryMode int8

const (
	// RetryNone retires the message as soon as it is placed in one packet,
	// regardless of ack.
	RetryNone RetryMode = 0
	// RetryBestEffort re-enqueues on each keep-alive tick until acked or
	// until message_timeout elapses.
	RetryBestEffort RetryMode = 1
	// RetryOnTimeout re-enqueues only when the packet carrying the most
	// recent copy times out; persists until acked or the connection closes.
	RetryOnTimeout RetryMode = -1
)

func (r RetryMode) String() string {
	switch r {
	case RetryNone:
		return "none"
	case RetryBestEffort:
		return "best_effort"
	case RetryOnTimeout:
		return "retry_on_timeout"
	default:
		return "unknown"
	}
}

// SendHandle is returned from Connection.Send. It exposes both the callback
// idiom and a completion-channel idiom for a message's ack outcome (spec.md
// §9 Design Notes #2 permits either).
type SendHandle struct {
	mu       sync.Mutex
	done     bool
	acked    chan bool
	callback func(bool)
}

func newSendHandle(callback func(bool)) *SendHandle {
	return &SendHandle{acked: make(chan bool, 1), callback: callback}
}

// Acked returns a channel that receives exactly one value: true if the
// message was acknowledged (a RetryNone message reports true as soon as it
// is placed in a packet), false if it timed out or the connection closed
// before that happened.
func (h *SendHandle) Acked() <-chan bool {
	return h.acked
}

func (h *SendHandle) complete(ok bool) {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	h.mu.Unlock()

	h.acked <- ok
	if h.callback != nil {
		h.callback(ok)
	}
}

// PendingMessage is one outgoing user message awaiting placement in a
// packet or, once placed, awaiting ack/timeout/retry (spec.md §3).
type PendingMessage struct {
	MsgSeq     seqnum.SeqNum
	Type       wire.PacketType
	Payload    []byte
	Retry      RetryMode
	Handle     *SendHandle
	FirstSend  time.Time
	LastSend   time.Time
	PacketSeqs map[seqnum.SeqNum]struct{}

	FragGroupID uint16
	FragIndex   uint32
	FragTotal   uint32
	hasFragment bool

	placed bool // has been packed into at least one outbound packet
}

func (m *PendingMessage) markPlaced(packetSeq seqnum.SeqNum, now time.Time) {
	if !m.placed {
		m.FirstSend = now
		m.placed = true
	}
	m.LastSend = now
	if m.PacketSeqs == nil {
		m.PacketSeqs = make(map[seqnum.SeqNum]struct{}, 1)
	}
	m.PacketSeqs[packetSeq] = struct{}{}
}

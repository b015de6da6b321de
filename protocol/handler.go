package protocol

import "github.com/mpgameserver/mpgscore/wire"

// DisconnectReason classifies why a Connection left the CONNECTED state,
// surfaced to the external handler per spec.md §7's propagation policy
// (exactly (connect, bool) and (disconnect, reason) cross the application
// boundary — everything else stays internal).
type DisconnectReason int

const (
	DisconnectGraceful DisconnectReason = iota
	DisconnectTimeout
	DisconnectHandshakeFailed
	DisconnectForced
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectGraceful:
		return "graceful"
	case DisconnectTimeout:
		return "timeout"
	case DisconnectHandshakeFailed:
		return "handshake_failed"
	case DisconnectForced:
		return "forced"
	default:
		return "unknown"
	}
}

// EventHandler is the external collaborator a Connection reports to. Calls
// for one Connection are serialized and never concurrent, though they may be
// made from different goroutines (spec.md §5): connect precedes every
// handle_message, which precedes disconnect.
type EventHandler interface {
	OnConnect(c *Connection)
	OnDisconnect(c *Connection, reason DisconnectReason)
	OnMessage(c *Connection, payload []byte)
}

// dispatchFunc handles one parsed message slot of a known type.
// Generalizes the teacher's handleGamePacket switch (source/server/server.go)
// and the EventManager registration idea (spec.md §9 Design Notes #1) into a
// single lookup table populated once at construction.
type dispatchFunc func(c *Connection, slot wire.Slot)

func defaultDispatchTable() map[wire.PacketType]dispatchFunc {
	return map[wire.PacketType]dispatchFunc{
		wire.App:         (*Connection).handleAppSlot,
		wire.AppFragment: (*Connection).handleFragmentSlot,
		wire.Disconnect:  (*Connection).handleDisconnectSlot,
	}
}

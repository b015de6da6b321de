package protocol

// State is a Connection's position in the lifecycle state machine of
// spec.md §4.7.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateDropped:
		return "DROPPED"
	default:
		return "UNKNOWN"
	}
}

// Role distinguishes which side of the handshake a Connection plays.
type Role int8

const (
	RoleClient Role = iota
	RoleServer
)

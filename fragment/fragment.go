// Package fragment splits outgoing user messages that exceed the wire
// per-message size limit into ordered pieces and reassembles them on the
// receiving side, per spec.md §4.4/§5 ("FragmentAssembler"). Grounded on the
// split-packet handling in source/protocol/raknet.go's HandleDataPacket
// (SplitPackets map, concatenation in index order on completion).
package fragment

import "fmt"

// Fragment is one piece of a message split across multiple packets. GroupID
// ties fragments of the same original message together; Index/Total give the
// fragment's position and the piece count.
type Fragment struct {
	GroupID uint16
	Index   uint32
	Total   uint32
	Payload []byte
}

// Split divides payload into fragments of at most maxPiece bytes each,
// sharing groupID, with sequential indices starting at 0. Split never
// returns zero fragments: an empty payload yields a single empty fragment.
func Split(payload []byte, groupID uint16, maxPiece int) ([]Fragment, error) {
	if maxPiece <= 0 {
		return nil, fmt.Errorf("fragment: maxPiece must be positive, got %d", maxPiece)
	}
	if len(payload) == 0 {
		return []Fragment{{GroupID: groupID, Index: 0, Total: 1, Payload: nil}}, nil
	}

	total := (len(payload) + maxPiece - 1) / maxPiece
	frags := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxPiece
		end := start + maxPiece
		if end > len(payload) {
			end = len(payload)
		}
		frags = append(frags, Fragment{
			GroupID: groupID,
			Index:   uint32(i),
			Total:   uint32(total),
			Payload: payload[start:end],
		})
	}
	return frags, nil
}

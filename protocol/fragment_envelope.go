package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/mpgameserver/mpgscore/fragment"
)

// Fragment metadata (group id, index, total) rides inside the wire.Slot
// payload for APP_FRAGMENT messages, since wire.Slot itself only carries an
// opaque byte payload (spec.md §3 treats the core transport as payload-
// agnostic). Layout: group_id(u16) || index(u32) || total(u32) || piece.
const fragmentEnvelopeSize = 2 + 4 + 4

func encodeFragmentEnvelope(f fragment.Fragment) []byte {
	buf := make([]byte, fragmentEnvelopeSize+len(f.Payload))
	binary.BigEndian.PutUint16(buf[0:2], f.GroupID)
	binary.BigEndian.PutUint32(buf[2:6], f.Index)
	binary.BigEndian.PutUint32(buf[6:10], f.Total)
	copy(buf[fragmentEnvelopeSize:], f.Payload)
	return buf
}

func decodeFragmentEnvelope(buf []byte) (fragment.Fragment, error) {
	if len(buf) < fragmentEnvelopeSize {
		return fragment.Fragment{}, fmt.Errorf("protocol: fragment envelope too short (%d bytes)", len(buf))
	}
	return fragment.Fragment{
		GroupID: binary.BigEndian.Uint16(buf[0:2]),
		Index:   binary.BigEndian.Uint32(buf[2:6]),
		Total:   binary.BigEndian.Uint32(buf[6:10]),
		Payload: append([]byte(nil), buf[fragmentEnvelopeSize:]...),
	}, nil
}

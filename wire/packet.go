package wire

import (
	"encoding/binary"
	"fmt"
)

// Default MTU and derived size limits (spec.md §6).
const (
	DefaultMTU    = 1500
	UDPOverhead   = 28
	AEADTagSize   = 16
	MaxBodyForMTU = DefaultMTU - UDPOverhead - HeaderSize - AEADTagSize // 1436
	MaxMessage    = MaxBodyForMTU - 2                                   // 1434, single-slot overhead
)

// Slot is one user message packed into a Packet body.
type Slot struct {
	MsgSeq  uint16
	Type    PacketType
	Payload []byte
}

// SlotOverhead returns the per-message wire overhead for a packet carrying
// count total message slots: 2 bytes (just msg_seq) when there is exactly
// one message, 5 bytes (len + msg_seq + type) per message otherwise
// (spec.md §4.4).
func SlotOverhead(count int) int {
	if count == 1 {
		return 2
	}
	return 5
}

// EncodeBody serializes slots into the post-header packet body. When there
// is exactly one slot the compact single-slot encoding (msg_seq || payload)
// is used; it does not carry the slot's Type, so the caller must write that
// Type into the enclosing PacketHeader. Otherwise the multi-slot encoding
// (len, msg_seq, type, payload)* is used.
func EncodeBody(slots []Slot) []byte {
	if len(slots) == 1 {
		s := slots[0]
		buf := make([]byte, 2+len(s.Payload))
		binary.BigEndian.PutUint16(buf[0:2], s.MsgSeq)
		copy(buf[2:], s.Payload)
		return buf
	}

	var size int
	for _, s := range slots {
		size += 5 + len(s.Payload)
	}
	buf := make([]byte, 0, size)
	for _, s := range slots {
		var lenMsg [2]byte
		binary.BigEndian.PutUint16(lenMsg[:], uint16(len(s.Payload)))
		buf = append(buf, lenMsg[:]...)
		var seq [2]byte
		binary.BigEndian.PutUint16(seq[:], s.MsgSeq)
		buf = append(buf, seq[:]...)
		buf = append(buf, byte(s.Type))
		buf = append(buf, s.Payload...)
	}
	return buf
}

// DecodeBody parses count message slots from body, per the header's Type
// (used for the single-slot form) and Count field.
func DecodeBody(headerType PacketType, count uint8, body []byte) ([]Slot, error) {
	if count == 0 {
		if len(body) != 0 {
			return nil, fmt.Errorf("wire: count=0 but body has %d bytes", len(body))
		}
		return nil, nil
	}
	if count == 1 {
		if len(body) < 2 {
			return nil, fmt.Errorf("wire: short single-slot body")
		}
		return []Slot{{
			MsgSeq:  binary.BigEndian.Uint16(body[0:2]),
			Type:    headerType,
			Payload: append([]byte(nil), body[2:]...),
		}}, nil
	}

	slots := make([]Slot, 0, count)
	off := 0
	for i := 0; i < int(count); i++ {
		if off+5 > len(body) {
			return nil, fmt.Errorf("wire: truncated slot header at offset %d", off)
		}
		payloadLen := int(binary.BigEndian.Uint16(body[off : off+2]))
		msgSeq := binary.BigEndian.Uint16(body[off+2 : off+4])
		typ := PacketType(body[off+4])
		off += 5
		if off+payloadLen > len(body) {
			return nil, fmt.Errorf("wire: truncated slot payload at offset %d", off)
		}
		slots = append(slots, Slot{
			MsgSeq:  msgSeq,
			Type:    typ,
			Payload: append([]byte(nil), body[off:off+payloadLen]...),
		})
		off += payloadLen
	}
	return slots, nil
}

// AssembleDatagram encodes header and an already-encrypted-or-plain body
// into a single wire datagram, with trailer appended after body. Callers in
// this module pass a nil trailer: the handshake codecs already end their
// bodies with the signature and CRC-32, and cryptosuite.Seal's output
// already ends with the AEAD tag.
func AssembleDatagram(header PacketHeader, body, trailer []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(body)+len(trailer))
	out = append(out, header.Encode()...)
	out = append(out, body...)
	out = append(out, trailer...)
	return out
}

// Package wire implements the fixed 20-byte packet header codec and the
// packet body codec (message slots) described in spec.md §3, §4.2 and §6.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the exact on-wire size of a PacketHeader, in bytes.
const HeaderSize = 20

// Direction identifies which end of the connection a packet travels toward;
// it doubles as the trailing byte of the magic constant (spec.md §6).
type Direction byte

const (
	ToServer Direction = 'S' // client -> server, magic "FSOS"
	ToClient Direction = 'C' // server -> client, magic "FSOC"
)

var magicPrefix = [3]byte{'F', 'S', 'O'}

// PacketType identifies the kind of packet carried after the header.
type PacketType byte

const (
	ClientHello   PacketType = 1
	ServerHello   PacketType = 2
	ChallengeResp PacketType = 3
	KeepAlive     PacketType = 4
	Disconnect    PacketType = 5
	App           PacketType = 6
	AppFragment   PacketType = 7
)

// IsHandshake reports whether t is one of the three handshake packet types.
// CLIENT_HELLO and SERVER_HELLO travel unencrypted; CHALLENGE_RESP is sealed
// under the freshly derived session key.
func (t PacketType) IsHandshake() bool {
	return t == ClientHello || t == ServerHello || t == ChallengeResp
}

// PacketHeader is the fixed 20-byte header prefixing every datagram. The
// first 12 bytes (magic|direction|ctime|seq|ack) double as the AEAD nonce;
// the full 20 bytes double as the AEAD AAD (spec.md §4.2).
type PacketHeader struct {
	Direction Direction
	Ctime     uint32
	Seq       uint16 // seqnum.SeqNum, kept as uint16 here to avoid an import cycle
	Ack       uint16
	Type      PacketType
	Length    uint16 // bytes of post-header payload, excluding the AEAD tag
	Count     uint8  // number of message slots (0 for handshake and KEEP_ALIVE packets)
	AckBits   uint32
}

// Encode serializes h into exactly HeaderSize bytes, big-endian.
func (h PacketHeader) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:3], magicPrefix[:])
	buf[3] = byte(h.Direction)
	binary.BigEndian.PutUint32(buf[4:8], h.Ctime)
	binary.BigEndian.PutUint16(buf[8:10], h.Seq)
	binary.BigEndian.PutUint16(buf[10:12], h.Ack)
	buf[12] = byte(h.Type)
	binary.BigEndian.PutUint16(buf[13:15], h.Length)
	buf[15] = h.Count
	binary.BigEndian.PutUint32(buf[16:20], h.AckBits)
	return buf
}

// DecodeHeader parses a PacketHeader from buf, validating the magic prefix
// and that the direction byte matches wantDirection (the direction packets
// addressed to *us* should carry). Any mismatch is a malformed datagram per
// spec.md §4.2/§7: callers must drop silently and never reply.
func DecodeHeader(buf []byte, wantDirection Direction) (PacketHeader, error) {
	var h PacketHeader
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("wire: short header (%d bytes)", len(buf))
	}
	if buf[0] != magicPrefix[0] || buf[1] != magicPrefix[1] || buf[2] != magicPrefix[2] {
		return h, fmt.Errorf("wire: bad magic")
	}
	if Direction(buf[3]) != wantDirection {
		return h, fmt.Errorf("wire: unexpected direction byte 0x%02X", buf[3])
	}
	h.Direction = Direction(buf[3])
	h.Ctime = binary.BigEndian.Uint32(buf[4:8])
	h.Seq = binary.BigEndian.Uint16(buf[8:10])
	h.Ack = binary.BigEndian.Uint16(buf[10:12])
	h.Type = PacketType(buf[12])
	h.Length = binary.BigEndian.Uint16(buf[13:15])
	h.Count = buf[15]
	h.AckBits = binary.BigEndian.Uint32(buf[16:20])
	return h, nil
}

// Nonce returns the first 12 bytes of the encoded header, used as the AEAD
// nonce (spec.md §4.2, §6).
func (h PacketHeader) Nonce() []byte {
	return h.Encode()[:12]
}

// AAD returns the full encoded header, used as the AEAD additional
// authenticated data (spec.md §4.2).
func (h PacketHeader) AAD() []byte {
	return h.Encode()
}

package wire

import (
	"bytes"
	"testing"
)

func fakeCompressedKey(fill byte) []byte {
	k := make([]byte, compressedPubKeySize)
	for i := range k {
		k[i] = fill
	}
	k[0] = 0x02 // valid compressed-point prefix, not checked by this package
	return k
}

func TestClientHelloRoundTrip(t *testing.T) {
	want := ClientHelloBody{
		ProtocolVersion: ProtocolVersion,
		ClientEphemeral: fakeCompressedKey(0xAB),
	}
	buf, err := want.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeClientHello(buf)
	if err != nil {
		t.Fatalf("DecodeClientHello: %v", err)
	}
	if got.ProtocolVersion != want.ProtocolVersion || !bytes.Equal(got.ClientEphemeral, want.ClientEphemeral) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestClientHelloCRCTamper(t *testing.T) {
	hello := ClientHelloBody{ProtocolVersion: ProtocolVersion, ClientEphemeral: fakeCompressedKey(1)}
	buf, err := hello.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[0] ^= 0xFF
	if _, err := DecodeClientHello(buf); err == nil {
		t.Error("expected crc mismatch error after tampering")
	}
}

func TestClientHelloBadKeyLength(t *testing.T) {
	hello := ClientHelloBody{ProtocolVersion: ProtocolVersion, ClientEphemeral: []byte{1, 2, 3}}
	if _, err := hello.Encode(); err == nil {
		t.Error("expected error encoding a short client ephemeral key")
	}
}

func TestServerHelloSignedRegion(t *testing.T) {
	clientEph := fakeCompressedKey(0x11)
	b := ServerHelloBody{
		ServerEphemeral: fakeCompressedKey(0x22),
		Salt:            bytes.Repeat([]byte{0x33}, saltSize),
		ChallengeToken:  bytes.Repeat([]byte{0x44}, challengeTokenSize),
	}
	region := b.SignedRegion(clientEph)
	wantLen := len(b.ServerEphemeral) + len(b.Salt) + len(b.ChallengeToken) + len(clientEph)
	if len(region) != wantLen {
		t.Fatalf("signed region length = %d, want %d", len(region), wantLen)
	}
	if !bytes.Equal(region[:len(b.ServerEphemeral)], b.ServerEphemeral) {
		t.Error("signed region must start with the server ephemeral key")
	}
	if !bytes.Equal(region[len(region)-len(clientEph):], clientEph) {
		t.Error("signed region must end with the client ephemeral key")
	}
}

func TestServerHelloRoundTrip(t *testing.T) {
	b := ServerHelloBody{
		ServerEphemeral: fakeCompressedKey(0x55),
		Salt:            bytes.Repeat([]byte{0x66}, saltSize),
		ChallengeToken:  bytes.Repeat([]byte{0x77}, challengeTokenSize),
		Signature:       []byte{0x30, 0x45, 0x02, 0x21, 0x01, 0x02, 0x21, 0x01}, // fake DER
	}
	buf, err := b.Encode(0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeServerHello(buf)
	if err != nil {
		t.Fatalf("DecodeServerHello: %v", err)
	}
	if !bytes.Equal(got.ServerEphemeral, b.ServerEphemeral) ||
		!bytes.Equal(got.Salt, b.Salt) ||
		!bytes.Equal(got.ChallengeToken, b.ChallengeToken) ||
		!bytes.Equal(got.Signature, b.Signature) {
		t.Errorf("got %+v, want %+v", got, b)
	}
}

// TestServerHelloSignatureEndingInZeroByte is the regression case for a
// signature whose last byte is legitimately 0x00: a valid, minimally-encoded
// DER integer's low-order byte is uniform, not constrained against zero, so
// the wire format must not infer the signature boundary by scanning for
// trailing zero bytes.
func TestServerHelloSignatureEndingInZeroByte(t *testing.T) {
	b := ServerHelloBody{
		ServerEphemeral: fakeCompressedKey(0x55),
		Salt:            bytes.Repeat([]byte{0x66}, saltSize),
		ChallengeToken:  bytes.Repeat([]byte{0x77}, challengeTokenSize),
		Signature:       []byte{0x30, 0x45, 0x02, 0x21, 0x01, 0x02, 0x21, 0x00},
	}
	// Pad well beyond the natural length so the zero-terminated signature is
	// followed by more zero bytes, the exact case trailing-zero-trimming
	// would have mishandled.
	buf, err := b.Encode(len(b.ServerEphemeral) + len(b.Salt) + len(b.ChallengeToken) + sigLenSize + len(b.Signature) + crcSize + 16)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeServerHello(buf)
	if err != nil {
		t.Fatalf("DecodeServerHello: %v", err)
	}
	if !bytes.Equal(got.Signature, b.Signature) {
		t.Errorf("signature = %x, want %x (trailing zero byte must survive)", got.Signature, b.Signature)
	}
}

func TestServerHelloPaddingNotExceedingClientHelloLength(t *testing.T) {
	clientHello := ClientHelloBody{ProtocolVersion: ProtocolVersion, ClientEphemeral: fakeCompressedKey(9)}
	clientBuf, err := clientHello.Encode()
	if err != nil {
		t.Fatalf("Encode client hello: %v", err)
	}

	b := ServerHelloBody{
		ServerEphemeral: fakeCompressedKey(0x99),
		Salt:            bytes.Repeat([]byte{0xAA}, saltSize),
		ChallengeToken:  bytes.Repeat([]byte{0xBB}, challengeTokenSize),
		Signature:       []byte{0x30, 0x44, 0x02, 0x20, 0x01, 0x02, 0x20, 0x00},
	}
	serverBuf, err := b.Encode(len(clientBuf))
	if err != nil {
		t.Fatalf("Encode server hello: %v", err)
	}
	if len(serverBuf) > len(clientBuf) {
		t.Errorf("server hello length %d exceeds client hello length %d", len(serverBuf), len(clientBuf))
	}

	got, err := DecodeServerHello(serverBuf)
	if err != nil {
		t.Fatalf("DecodeServerHello: %v", err)
	}
	if !bytes.Equal(got.Signature, b.Signature) {
		t.Errorf("signature after padding = %x, want %x", got.Signature, b.Signature)
	}
}

func TestServerHelloCRCTamper(t *testing.T) {
	b := ServerHelloBody{
		ServerEphemeral: fakeCompressedKey(1),
		Salt:            bytes.Repeat([]byte{2}, saltSize),
		ChallengeToken:  bytes.Repeat([]byte{3}, challengeTokenSize),
		Signature:       []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01},
	}
	buf, err := b.Encode(0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[0] ^= 0xFF
	if _, err := DecodeServerHello(buf); err == nil {
		t.Error("expected crc mismatch error after tampering")
	}
}

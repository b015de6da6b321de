package protocol

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/mpgameserver/mpgscore/cryptosuite"
	"github.com/mpgameserver/mpgscore/wire"
)

// StartHandshake builds and returns the CLIENT_HELLO datagram for a
// freshly-created client Connection (spec.md §4.3 Step 1). Subsequent
// retries (on the connection_timeout backoff schedule) call it again; each
// call mints a fresh ephemeral key pair, matching the "fresh" requirement on
// the client's contribution to the shared secret.
func (c *Connection) StartHandshake(now time.Time) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role != RoleClient {
		return nil, fmt.Errorf("protocol: StartHandshake is client-only")
	}

	ephemeral, err := cryptosuite.GenerateEphemeral()
	if err != nil {
		return nil, fmt.Errorf("protocol: generate client ephemeral: %w", err)
	}
	c.ephemeral = ephemeral
	c.handshakeStart = now
	c.helloAttempts++

	body := wire.ClientHelloBody{
		ProtocolVersion: wire.ProtocolVersion,
		ClientEphemeral: cryptosuite.CompressPublicKey(ephemeral.PublicKey()),
	}
	bodyBytes, err := body.Encode()
	if err != nil {
		return nil, fmt.Errorf("protocol: encode client hello: %w", err)
	}

	header := wire.PacketHeader{
		Direction: c.myDirection(),
		Ctime:     ctimeMillis(now),
		Seq:       uint16(c.nextOutPacketSeq),
		Ack:       0,
		Type:      wire.ClientHello,
		Length:    uint16(len(bodyBytes)),
		Count:     0,
	}
	datagram := wire.AssembleDatagram(header, bodyBytes, nil)
	c.clientHelloBytes = datagram
	c.lastOutboundTime = now
	return datagram, nil
}

// handleClientHello is invoked by an Endpoint (or a test) when a
// CLIENT_HELLO datagram arrives for a server-role Connection still in
// CONNECTING. It returns the SERVER_HELLO datagram to send back, or an
// error if the hello is malformed (the caller drops silently per spec.md
// §4.2/§7 — never reply to a malformed datagram).
func (c *Connection) handleClientHello(body []byte, raw []byte, now time.Time) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role != RoleServer || c.state != StateConnecting {
		return nil, fmt.Errorf("protocol: unexpected client hello")
	}

	hello, err := wire.DecodeClientHello(body)
	if err != nil {
		return nil, fmt.Errorf("protocol: malformed client hello: %w", err)
	}
	if hello.ProtocolVersion != wire.ProtocolVersion {
		return nil, fmt.Errorf("protocol: unsupported protocol version %d", hello.ProtocolVersion)
	}
	clientPub, err := cryptosuite.DecompressPublicKey(hello.ClientEphemeral)
	if err != nil {
		return nil, fmt.Errorf("protocol: bad client ephemeral key: %w", err)
	}

	serverEphemeral, err := cryptosuite.GenerateEphemeral()
	if err != nil {
		return nil, fmt.Errorf("protocol: generate server ephemeral: %w", err)
	}
	salt, err := cryptosuite.NewSalt()
	if err != nil {
		return nil, err
	}
	challengeToken, err := cryptosuite.NewChallengeToken()
	if err != nil {
		return nil, err
	}
	sessionKey, err := cryptosuite.DeriveSessionKey(serverEphemeral, clientPub, salt)
	if err != nil {
		return nil, fmt.Errorf("protocol: derive session key: %w", err)
	}

	helloBody := wire.ServerHelloBody{
		ServerEphemeral: cryptosuite.CompressPublicKey(serverEphemeral.PublicKey()),
		Salt:            salt,
		ChallengeToken:  challengeToken,
	}
	signedRegion := helloBody.SignedRegion(hello.ClientEphemeral)
	sig, err := cryptosuite.SignServerHello(c.rootPriv, signedRegion)
	if err != nil {
		return nil, fmt.Errorf("protocol: sign server hello: %w", err)
	}
	helloBody.Signature = sig

	// Amplification mitigation: never answer with more bytes than the
	// request carried (spec.md §4.3/§9).
	targetBodyLen := len(raw) - wire.HeaderSize
	bodyBytes, err := helloBody.Encode(targetBodyLen)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode server hello: %w", err)
	}

	c.ephemeral = serverEphemeral
	c.peerEphemeral = clientPub
	c.salt = salt
	c.challengeToken = challengeToken
	c.sessionKey = sessionKey
	c.handshakeStart = now

	respHeader := wire.PacketHeader{
		Direction: c.myDirection(),
		Ctime:     ctimeMillis(now),
		Seq:       uint16(c.nextOutPacketSeq),
		Ack:       0,
		Type:      wire.ServerHello,
		Length:    uint16(len(bodyBytes)),
		Count:     0,
	}
	datagram := wire.AssembleDatagram(respHeader, bodyBytes, nil)
	if len(datagram) > len(raw) {
		return nil, fmt.Errorf("protocol: server hello %d bytes exceeds client hello %d bytes", len(datagram), len(raw))
	}
	c.lastOutboundTime = now
	return datagram, nil
}

// handleServerHello is invoked on a client-role Connection awaiting Step 2.
// It verifies the root signature, derives the session key, and returns the
// CHALLENGE_RESP datagram to send. A signature failure surfaces
// DisconnectHandshakeFailed and returns no datagram (spec.md §4.3, §8
// "Signature tamper detection").
func (c *Connection) handleServerHello(inHeader wire.PacketHeader, body []byte, now time.Time) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role != RoleClient || c.state != StateConnecting || c.ephemeral == nil {
		return nil, fmt.Errorf("protocol: unexpected server hello")
	}

	hello, err := wire.DecodeServerHello(body)
	if err != nil {
		return nil, fmt.Errorf("protocol: malformed server hello: %w", err)
	}

	clientPubCompressed := cryptosuite.CompressPublicKey(c.ephemeral.PublicKey())
	signedRegion := hello.SignedRegion(clientPubCompressed)
	if !cryptosuite.VerifyServerHello(c.rootPub, signedRegion, hello.Signature) {
		c.transitionLocked(StateDropped, DisconnectHandshakeFailed)
		return nil, fmt.Errorf("protocol: server hello signature verification failed")
	}

	serverPub, err := cryptosuite.DecompressPublicKey(hello.ServerEphemeral)
	if err != nil {
		c.transitionLocked(StateDropped, DisconnectHandshakeFailed)
		return nil, fmt.Errorf("protocol: bad server ephemeral key: %w", err)
	}
	sessionKey, err := cryptosuite.DeriveSessionKey(c.ephemeral, serverPub, hello.Salt)
	if err != nil {
		c.transitionLocked(StateDropped, DisconnectHandshakeFailed)
		return nil, fmt.Errorf("protocol: derive session key: %w", err)
	}

	c.peerEphemeral = serverPub
	c.sessionKey = sessionKey
	c.challengeToken = hello.ChallengeToken

	respHeader := wire.PacketHeader{
		Direction: c.myDirection(),
		Ctime:     ctimeMillis(now),
		Seq:       uint16(c.nextOutPacketSeq),
		Ack:       inHeader.Seq,
		Type:      wire.ChallengeResp,
		Length:    uint16(len(c.challengeToken)),
		Count:     0,
	}
	ciphertext, err := cryptosuite.Seal(sessionKey, respHeader.Nonce(), respHeader.AAD(), c.challengeToken)
	if err != nil {
		c.transitionLocked(StateDropped, DisconnectHandshakeFailed)
		return nil, fmt.Errorf("protocol: seal challenge response: %w", err)
	}
	datagram := wire.AssembleDatagram(respHeader, ciphertext, nil)

	c.lastInboundTime = now
	c.lastOutboundTime = now
	c.transitionLocked(StateConnected, DisconnectGraceful)
	return datagram, nil
}

// handleChallengeResponse is invoked on a server-role Connection that has
// derived a session key and is waiting for proof the client derived the
// same one (spec.md §4.3 Step 3).
func (c *Connection) handleChallengeResponse(header wire.PacketHeader, body []byte, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role != RoleServer || c.sessionKey == nil {
		return fmt.Errorf("protocol: unexpected challenge response")
	}

	plaintext, err := cryptosuite.Open(c.sessionKey, header.Nonce(), header.AAD(), body)
	if err != nil {
		c.transitionLocked(StateDropped, DisconnectHandshakeFailed)
		return fmt.Errorf("protocol: challenge response decrypt failed: %w", err)
	}
	if subtle.ConstantTimeCompare(plaintext, c.challengeToken) != 1 {
		c.transitionLocked(StateDropped, DisconnectHandshakeFailed)
		return fmt.Errorf("protocol: challenge token mismatch")
	}

	c.lastInboundTime = now
	c.transitionLocked(StateConnected, DisconnectGraceful)
	return nil
}

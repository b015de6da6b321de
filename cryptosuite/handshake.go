package cryptosuite

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionKeySize is the derived AES-256 session key size in bytes.
const SessionKeySize = 32

// SaltSize is the HKDF salt size carried in SERVER_HELLO.
const SaltSize = 16

// ChallengeTokenSize is the size of the handshake challenge token.
const ChallengeTokenSize = 16

// hkdfInfo is the fixed HKDF info string for session-key derivation
// (spec.md §4.3/§6).
const hkdfInfo = "mpgs/session/v1"

// NewSalt generates a fresh random HKDF salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("cryptosuite: generate salt: %w", err)
	}
	return salt, nil
}

// NewChallengeToken generates a fresh random challenge token.
func NewChallengeToken() ([]byte, error) {
	tok := make([]byte, ChallengeTokenSize)
	if _, err := io.ReadFull(rand.Reader, tok); err != nil {
		return nil, fmt.Errorf("cryptosuite: generate challenge token: %w", err)
	}
	return tok, nil
}

// DeriveSessionKey computes ECDH(priv, peerPub) and runs the result through
// HKDF-SHA256 with the given salt and the fixed protocol info string,
// yielding a 32-byte AES-256 session key (spec.md §4.3).
func DeriveSessionKey(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey, salt []byte) ([]byte, error) {
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("cryptosuite: ecdh: %w", err)
	}
	reader := hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo))
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("cryptosuite: hkdf expand: %w", err)
	}
	return key, nil
}

// SignServerHello signs the SERVER_HELLO signed region with the server's
// long-lived root key.
func SignServerHello(root *ecdsa.PrivateKey, signedRegion []byte) ([]byte, error) {
	digest := sha256.Sum256(signedRegion)
	sig, err := ecdsa.SignASN1(rand.Reader, root, digest[:])
	if err != nil {
		return nil, fmt.Errorf("cryptosuite: sign server hello: %w", err)
	}
	return sig, nil
}

// VerifyServerHello verifies a SERVER_HELLO signature against the client's
// pinned root public key. A false return is a signature failure: the client
// must abort the connection attempt (spec.md §4.3, §7, §8).
func VerifyServerHello(root *ecdsa.PublicKey, signedRegion, signature []byte) bool {
	digest := sha256.Sum256(signedRegion)
	return ecdsa.VerifyASN1(root, digest[:], signature)
}

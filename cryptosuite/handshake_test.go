package cryptosuite

import (
	"bytes"
	"testing"
)

func TestDeriveSessionKeyMutual(t *testing.T) {
	clientPriv, err := GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral client: %v", err)
	}
	serverPriv, err := GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral server: %v", err)
	}
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}

	clientKey, err := DeriveSessionKey(clientPriv, serverPriv.PublicKey(), salt)
	if err != nil {
		t.Fatalf("client DeriveSessionKey: %v", err)
	}
	serverKey, err := DeriveSessionKey(serverPriv, clientPriv.PublicKey(), salt)
	if err != nil {
		t.Fatalf("server DeriveSessionKey: %v", err)
	}
	if !bytes.Equal(clientKey, serverKey) {
		t.Error("client and server must derive the same session key")
	}
	if len(clientKey) != SessionKeySize {
		t.Errorf("session key length = %d, want %d", len(clientKey), SessionKeySize)
	}
}

func TestDeriveSessionKeyDifferentSaltDiffers(t *testing.T) {
	clientPriv, _ := GenerateEphemeral()
	serverPriv, _ := GenerateEphemeral()
	saltA, _ := NewSalt()
	saltB, _ := NewSalt()

	keyA, err := DeriveSessionKey(clientPriv, serverPriv.PublicKey(), saltA)
	if err != nil {
		t.Fatalf("DeriveSessionKey: %v", err)
	}
	keyB, err := DeriveSessionKey(clientPriv, serverPriv.PublicKey(), saltB)
	if err != nil {
		t.Fatalf("DeriveSessionKey: %v", err)
	}
	if bytes.Equal(keyA, keyB) {
		t.Error("distinct salts must yield distinct session keys")
	}
}

func TestSignVerifyServerHello(t *testing.T) {
	root, err := GenerateRootKeyPair()
	if err != nil {
		t.Fatalf("GenerateRootKeyPair: %v", err)
	}
	region := []byte("server-ephemeral||salt||challenge||client-ephemeral")

	sig, err := SignServerHello(root, region)
	if err != nil {
		t.Fatalf("SignServerHello: %v", err)
	}
	if !VerifyServerHello(&root.PublicKey, region, sig) {
		t.Error("valid signature must verify")
	}
}

func TestVerifyServerHelloRejectsTamperedRegion(t *testing.T) {
	root, _ := GenerateRootKeyPair()
	region := []byte("original signed region")
	sig, err := SignServerHello(root, region)
	if err != nil {
		t.Fatalf("SignServerHello: %v", err)
	}

	tampered := append([]byte(nil), region...)
	tampered[0] ^= 0xFF
	if VerifyServerHello(&root.PublicKey, tampered, sig) {
		t.Error("signature must not verify against a tampered signed region")
	}
}

func TestVerifyServerHelloRejectsWrongKey(t *testing.T) {
	root, _ := GenerateRootKeyPair()
	other, _ := GenerateRootKeyPair()
	region := []byte("signed region")
	sig, err := SignServerHello(root, region)
	if err != nil {
		t.Fatalf("SignServerHello: %v", err)
	}
	if VerifyServerHello(&other.PublicKey, region, sig) {
		t.Error("signature must not verify against an unrelated root public key")
	}
}

func TestCompressDecompressPublicKeyRoundTrip(t *testing.T) {
	priv, err := GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral: %v", err)
	}
	compressed := CompressPublicKey(priv.PublicKey())
	if len(compressed) != CompressedKeySize {
		t.Fatalf("compressed key length = %d, want %d", len(compressed), CompressedKeySize)
	}
	decompressed, err := DecompressPublicKey(compressed)
	if err != nil {
		t.Fatalf("DecompressPublicKey: %v", err)
	}
	if !bytes.Equal(decompressed.Bytes(), priv.PublicKey().Bytes()) {
		t.Error("decompressed key must match the original public key")
	}
}

func TestRootKeyPEMRoundTrip(t *testing.T) {
	priv, err := GenerateRootKeyPair()
	if err != nil {
		t.Fatalf("GenerateRootKeyPair: %v", err)
	}
	privPEM, err := EncodeRootPrivateKeyPEM(priv)
	if err != nil {
		t.Fatalf("EncodeRootPrivateKeyPEM: %v", err)
	}
	decodedPriv, err := DecodeRootPrivateKeyPEM(privPEM)
	if err != nil {
		t.Fatalf("DecodeRootPrivateKeyPEM: %v", err)
	}
	if decodedPriv.D.Cmp(priv.D) != 0 {
		t.Error("decoded private key scalar does not match original")
	}

	pubPEM, err := EncodeRootPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		t.Fatalf("EncodeRootPublicKeyPEM: %v", err)
	}
	decodedPub, err := DecodeRootPublicKeyPEM(pubPEM)
	if err != nil {
		t.Fatalf("DecodeRootPublicKeyPEM: %v", err)
	}
	if decodedPub.X.Cmp(priv.PublicKey.X) != 0 || decodedPub.Y.Cmp(priv.PublicKey.Y) != 0 {
		t.Error("decoded public key does not match original")
	}
}

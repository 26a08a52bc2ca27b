package p256

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func TestDeriveDeterministic(t *testing.T) {
	password := "test_password_123"
	salt := []byte("test_salt_32_bytes_exactly_here!")

	kp1, err := Derive(password, salt)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	kp2, err := Derive(password, salt)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	if kp1.PrivateKey != kp2.PrivateKey {
		t.Fatalf("private keys differ: %s vs %s", kp1.PrivateKey, kp2.PrivateKey)
	}
	if kp1.PublicKey != kp2.PublicKey {
		t.Fatalf("public keys differ: %s vs %s", kp1.PublicKey, kp2.PublicKey)
	}
	if kp1.ClientSecret != kp2.ClientSecret {
		t.Fatalf("client secrets differ")
	}
}

func TestDeriveShape(t *testing.T) {
	kp, err := Derive("test_password_123", nil)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	if len(kp.PrivateKey) != 64 {
		t.Fatalf("private key hex length = %d, want 64", len(kp.PrivateKey))
	}
	if len(kp.PublicKey) != 66 {
		t.Fatalf("compressed public key hex length = %d, want 66", len(kp.PublicKey))
	}
	if kp.ClientSecret == "" {
		t.Fatal("client secret is empty")
	}

	raw, err := hex.DecodeString(kp.PublicKey)
	if err != nil {
		t.Fatalf("public key is not hex: %v", err)
	}
	if raw[0] != 0x02 && raw[0] != 0x03 {
		t.Fatalf("public key prefix = %#x, want compressed point", raw[0])
	}
}

func TestRecreateRoundTrip(t *testing.T) {
	password := "test_password_123"

	original, err := Derive(password, nil)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	recreated, err := Recreate(password, original.ClientSecret)
	if err != nil {
		t.Fatalf("Recreate() error = %v", err)
	}

	if original.PrivateKey != recreated.PrivateKey {
		t.Fatal("recreated private key does not match original")
	}
	if original.PublicKey != recreated.PublicKey {
		t.Fatal("recreated public key does not match original")
	}
	if original.ClientSecret != recreated.ClientSecret {
		t.Fatal("recreated client secret does not match original")
	}
}

func TestRecreateRejectsBadSecret(t *testing.T) {
	if _, err := Recreate("pw", "not-base64!!!"); err == nil {
		t.Fatal("expected error for malformed client secret")
	}
}

func TestSignDERVerify(t *testing.T) {
	kp, err := Derive("test_password_123", []byte("test_salt_32_bytes_exactly_here!"))
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	message := []byte("test message to sign")
	sig, err := SignDER(message, kp.PrivateKey)
	if err != nil {
		t.Fatalf("SignDER() error = %v", err)
	}
	if len(sig) <= 64 {
		t.Fatalf("DER signature length = %d, want > 64", len(sig))
	}

	ok, err := Verify(message, sig, kp.PublicKey)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Fatal("signature did not verify")
	}

	ok, err = Verify([]byte("different message"), sig, kp.PublicKey)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Fatal("signature verified against wrong message")
	}
}

func TestSignRawFormat(t *testing.T) {
	kp, err := Derive("test_password_123", []byte("test_salt_32_bytes_exactly_here!"))
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	message := []byte("test message for webauthn")
	sig, err := SignRaw(message, kp.PrivateKey)
	if err != nil {
		t.Fatalf("SignRaw() error = %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("raw signature length = %d, want exactly 64", len(sig))
	}

	ok, err := Verify(message, sig, kp.PublicKey)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Fatal("raw signature did not verify")
	}
}

func TestVerifyRejectsCorruption(t *testing.T) {
	kp, err := Derive("test_password_123", []byte("test_salt_32_bytes_exactly_here!"))
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	message := []byte("corruption check")
	sig, err := SignRaw(message, kp.PrivateKey)
	if err != nil {
		t.Fatalf("SignRaw() error = %v", err)
	}

	for i := range sig {
		corrupted := bytes.Clone(sig)
		corrupted[i] ^= 0x01
		ok, err := Verify(message, corrupted, kp.PublicKey)
		if err != nil {
			t.Fatalf("Verify() error at byte %d: %v", i, err)
		}
		if ok {
			t.Fatalf("corrupted signature verified (byte %d)", i)
		}
	}
}

func TestRandomKeypairsDiffer(t *testing.T) {
	kp1, err := Random()
	if err != nil {
		t.Fatalf("Random() error = %v", err)
	}
	kp2, err := Random()
	if err != nil {
		t.Fatalf("Random() error = %v", err)
	}

	if kp1.PrivateKey == kp2.PrivateKey {
		t.Fatal("two random keypairs share a private key")
	}
	if kp1.ClientSecret == kp2.ClientSecret {
		t.Fatal("two random keypairs share a client secret")
	}
}

func TestSigningKeyValidation(t *testing.T) {
	tests := []struct {
		name string
		hex  string
	}{
		{"not hex", "zzzz"},
		{"too short", "abcd"},
		{"zero scalar", "0000000000000000000000000000000000000000000000000000000000000000"},
		{"above order", "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SigningKey(tt.hex); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("SigningKey(%q) error = %v, want ErrInvalidKey", tt.hex, err)
			}
		})
	}
}

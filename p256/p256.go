// Package p256 derives deterministic NIST P-256 keypairs from passwords and
// signs messages with ECDSA in both DER and raw r||s wire formats.
//
// A keypair is a pure function of (password, salt). The salt travels as the
// base64 "client secret", so the private key never needs to be stored: it can
// be recreated on demand with Recreate.
package p256

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrKeyDerivation    = errors.New("p256: key derivation failed")
	ErrInvalidKey       = errors.New("p256: invalid key encoding")
	ErrInvalidSignature = errors.New("p256: invalid signature encoding")
)

const (
	iterations = 600_000
	saltLength = 32

	// Bounded retries when a derived scalar falls outside [1, N-1]. The
	// probability of even one miss is around 2^-128, but the handling must
	// exist.
	maxDerivationAttempts = 16
)

// KeyPair is the result of password-based key derivation. PrivateKey and
// PublicKey are hex-encoded (the public key in compressed SEC1 form);
// ClientSecret is the base64-encoded salt needed to recreate the pair.
type KeyPair struct {
	PrivateKey   string
	PublicKey    string
	ClientSecret string
}

// Derive generates a P-256 keypair from a password. When salt is nil a fresh
// random 32-byte salt is generated. The derived scalar is validated against
// the curve order; an out-of-range scalar perturbs the salt with a counter
// byte and retries a bounded number of times.
func Derive(password string, salt []byte) (*KeyPair, error) {
	if salt == nil {
		salt = make([]byte, saltLength)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("p256: failed to generate salt: %w", err)
		}
	}

	curve := elliptic.P256()
	order := curve.Params().N

	for attempt := 0; attempt < maxDerivationAttempts; attempt++ {
		kdfSalt := salt
		if attempt > 0 {
			kdfSalt = append(append([]byte(nil), salt...), byte(attempt))
		}

		derived := pbkdf2.Key([]byte(password), kdfSalt, iterations, 32, sha256.New)

		d := new(big.Int).SetBytes(derived)
		if d.Sign() == 0 || d.Cmp(order) >= 0 {
			continue
		}

		x, y := curve.ScalarBaseMult(derived)
		return &KeyPair{
			PrivateKey:   hex.EncodeToString(derived),
			PublicKey:    hex.EncodeToString(elliptic.MarshalCompressed(curve, x, y)),
			ClientSecret: base64.StdEncoding.EncodeToString(salt),
		}, nil
	}

	return nil, ErrKeyDerivation
}

// Recreate rebuilds the keypair originally produced by Derive from the same
// password and the stored client secret.
func Recreate(password, clientSecret string) (*KeyPair, error) {
	salt, err := DecodeClientSecret(clientSecret)
	if err != nil {
		return nil, err
	}
	return Derive(password, salt)
}

// DecodeClientSecret recovers the raw salt bytes from a base64 client secret.
func DecodeClientSecret(clientSecret string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(clientSecret)
	if err != nil {
		return nil, fmt.Errorf("p256: failed to decode client secret: %w", err)
	}
	return salt, nil
}

// Random generates a fresh random keypair together with a random client
// secret. Unlike Derive, the result is not reproducible from a password.
func Random() (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("p256: failed to generate keypair: %w", err)
	}

	secret := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("p256: failed to generate client secret: %w", err)
	}

	private := key.D.FillBytes(make([]byte, 32))
	return &KeyPair{
		PrivateKey:   hex.EncodeToString(private),
		PublicKey:    hex.EncodeToString(elliptic.MarshalCompressed(key.Curve, key.X, key.Y)),
		ClientSecret: base64.StdEncoding.EncodeToString(secret),
	}, nil
}

// SigningKey parses a hex private key into an ECDSA key usable for signing.
func SigningKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: private key must be exactly 32 bytes", ErrInvalidKey)
	}

	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("%w: scalar out of range", ErrInvalidKey)
	}

	key := &ecdsa.PrivateKey{D: d}
	key.Curve = curve
	key.X, key.Y = curve.ScalarBaseMult(raw)
	return key, nil
}

// SignDER signs a message (SHA-256 digest) and returns a DER-encoded ECDSA
// signature.
func SignDER(message []byte, privateKeyHex string) ([]byte, error) {
	key, err := SigningKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("p256: signing failed: %w", err)
	}
	return sig, nil
}

// SignRaw signs a message and returns the fixed-width 64-byte r||s form used
// by WebAuthn-style verifiers that reject DER.
func SignRaw(message []byte, privateKeyHex string) ([]byte, error) {
	key, err := SigningKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("p256: signing failed: %w", err)
	}

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// Verify reports whether a signature over message is valid for the given hex
// public key. Both DER and raw 64-byte signatures are accepted; raw form is
// assumed when the signature is exactly 64 bytes.
func Verify(message, signature []byte, publicKeyHex string) (bool, error) {
	pub, err := parsePublicKey(publicKeyHex)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(message)

	if len(signature) == 64 {
		r := new(big.Int).SetBytes(signature[:32])
		s := new(big.Int).SetBytes(signature[32:])
		return ecdsa.Verify(pub, digest[:], r, s), nil
	}
	return ecdsa.VerifyASN1(pub, digest[:], signature), nil
}

func parsePublicKey(publicKeyHex string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	curve := elliptic.P256()
	x, y := elliptic.UnmarshalCompressed(curve, raw)
	if x == nil {
		x, y = elliptic.Unmarshal(curve, raw)
	}
	if x == nil {
		return nil, fmt.Errorf("%w: not a valid SEC1 point", ErrInvalidKey)
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

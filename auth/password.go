package auth

import (
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"
)

// passwordSalt is the fixed salt the remote server expects. Because it is
// constant, HashPassword is a wire-format transform, not a storage hash: the
// same password always maps to the same value, which is exactly what both the
// login protocol and deterministic key derivation require.
var passwordSalt = [32]byte{
	217, 3, 161, 123, 53, 200, 206, 36, 143, 2, 220, 252, 240, 109, 204, 23,
	217, 174, 79, 158, 18, 76, 149, 117, 73, 40, 207, 77, 34, 194, 196, 163,
}

const hashIterations = 600_000

// HashPassword derives the base64-encoded wire password from a plaintext
// password using PBKDF2-HMAC-SHA256. Deterministic and CPU-bound; the
// iteration count is a deliberate throttle.
func HashPassword(password string) string {
	derived := pbkdf2.Key([]byte(password), passwordSalt[:], hashIterations, 32, sha256.New)
	return base64.StdEncoding.EncodeToString(derived)
}

package chunk

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters, OWASP-recommended and matching the teacher's
// DeriveMasterKey constants generalized to the original_source values
// (time_cost=3 rather than the teacher's 1).
const (
	Argon2Time    = 3
	Argon2Memory  = 64 * 1024
	Argon2Threads = 4
	KeyLen        = 32

	SaltSize  = 16
	NonceSize = 12
)

// GenerateSalt returns fresh random salt for DeriveKey.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveKey derives a 256-bit AES key from password and salt using
// Argon2id, grounded on internal/cryptox.DeriveMasterKey but with the
// stronger time cost the spec mandates (t=3 vs the teacher's t=1).
func DeriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, Argon2Time, Argon2Memory, Argon2Threads, KeyLen)
}

// EncryptChunk encrypts data with AES-256-GCM under a fresh random nonce,
// returning nonce||ciphertext||tag. Every call mints its own nonce — the
// per-chunk streaming model here never reuses one across chunks, unlike
// the teacher's EncryptFile which draws one nonce per whole file.
func EncryptChunk(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

// DecryptChunk reverses EncryptChunk.
func DecryptChunk(encrypted, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(encrypted) < NonceSize {
		return nil, fmt.Errorf("chunk: ciphertext shorter than nonce")
	}
	nonce, ciphertext := encrypted[:NonceSize], encrypted[NonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Package crypto implements the Crypto Service (CRY): random bytes and
// UUIDs, SHA-256 hashing, AES-256-GCM encrypt/decrypt, and PBKDF2 key
// derivation. Uses google/uuid for UUIDs (already reached for elsewhere
// in this module for session/request ids) and golang.org/x/crypto/pbkdf2
// for key derivation — the idiomatic Go source for PBKDF2. AES-GCM
// itself is built on crypto/aes+crypto/cipher from the standard library:
// no example repo wires a third-party AEAD implementation, since Go's
// stdlib AES-GCM is the ecosystem-standard choice and every example repo
// that does encryption at all uses it directly.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

const (
	keySize    = 32 // AES-256
	nonceSize  = 12 // GCM standard nonce size
	pbkdf2Iter = 210_000
)

func cryErr(message string) *oprt.Error {
	return oprt.New(oprt.ErrWebViewGeneric, message)
}

// Service implements the CRY ops.
type Service struct{}

// NewService builds a crypto service. Stateless: every op is pure given
// its arguments.
func NewService() *Service { return &Service{} }

// RandomBytes implements crypto.random_bytes(n) → bytes.
func (s *Service) RandomBytes(_ context.Context, n int) ([]byte, *oprt.Error) {
	if n < 0 {
		return nil, cryErr("length must be non-negative")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, cryErr("read random bytes: " + err.Error())
	}
	return buf, nil
}

// RandomUUID implements crypto.random_uuid() → string.
func (s *Service) RandomUUID(_ context.Context) (string, *oprt.Error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", cryErr("generate uuid: " + err.Error())
	}
	return id.String(), nil
}

// Hash implements crypto.hash(data) → bytes (SHA-256 digest).
func (s *Service) Hash(_ context.Context, data []byte) ([]byte, *oprt.Error) {
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// Encrypt implements crypto.encrypt(key, plaintext) → bytes, AES-256-GCM
// with the nonce prepended to the ciphertext.
func (s *Service) Encrypt(_ context.Context, key, plaintext []byte) ([]byte, *oprt.Error) {
	gcm, oerr := newGCM(key)
	if oerr != nil {
		return nil, oerr
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, cryErr("generate nonce: " + err.Error())
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, nil
}

// Decrypt implements crypto.decrypt(key, ciphertext) → bytes, expecting
// the nonce prepended as Encrypt produces.
func (s *Service) Decrypt(_ context.Context, key, ciphertext []byte) ([]byte, *oprt.Error) {
	gcm, oerr := newGCM(key)
	if oerr != nil {
		return nil, oerr
	}
	if len(ciphertext) < nonceSize {
		return nil, cryErr("ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, cryErr("decrypt: " + err.Error())
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, *oprt.Error) {
	if len(key) != keySize {
		return nil, cryErr("key must be 32 bytes for AES-256")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cryErr("create cipher: " + err.Error())
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, cryErr("create GCM: " + err.Error())
	}
	return gcm, nil
}

// DeriveKey implements crypto.derive_key(password, salt) → bytes, a
// 32-byte key via PBKDF2-HMAC-SHA256.
func (s *Service) DeriveKey(_ context.Context, password, salt []byte) ([]byte, *oprt.Error) {
	if len(salt) == 0 {
		return nil, cryErr("salt must not be empty")
	}
	return pbkdf2.Key(password, salt, pbkdf2Iter, keySize, sha256.New), nil
}

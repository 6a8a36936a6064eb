package backup

import (
	"bytes"
	"crypto/rand"
	"errors"

	"github.com/rohanthewiz/serr"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed file layout: magic | salt | nonce | XChaCha20-Poly1305 ciphertext.
// The key is derived from the passphrase with Argon2id.
var sealMagic = []byte("SYNB1")

const (
	saltLen = 16
	keyLen  = chacha20poly1305.KeySize

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// ErrBadPassphrase is returned when a sealed backup fails authentication.
var ErrBadPassphrase = errors.New("backup passphrase is wrong or the file was modified")

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, keyLen)
}

// Seal encrypts plain with a key derived from passphrase.
func Seal(plain, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, serr.New("backup passphrase is empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, serr.Wrap(err, "failed to generate salt")
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, serr.Wrap(err, "failed to create cipher")
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, serr.Wrap(err, "failed to generate nonce")
	}

	out := make([]byte, 0, len(sealMagic)+saltLen+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, sealMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	// the header is authenticated as associated data
	return aead.Seal(out, nonce, plain, out), nil
}

// IsSealed reports whether b starts with the sealed-backup header.
func IsSealed(b []byte) bool {
	return bytes.HasPrefix(b, sealMagic)
}

// Unseal reverses Seal.
func Unseal(sealed, passphrase []byte) ([]byte, error) {
	headerLen := len(sealMagic) + saltLen + chacha20poly1305.NonceSizeX
	if !IsSealed(sealed) || len(sealed) < headerLen {
		return nil, serr.New("not a sealed backup")
	}
	salt := sealed[len(sealMagic) : len(sealMagic)+saltLen]
	nonce := sealed[len(sealMagic)+saltLen : headerLen]

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, serr.Wrap(err, "failed to create cipher")
	}
	plain, err := aead.Open(nil, nonce, sealed[headerLen:], sealed[:headerLen])
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plain, nil
}

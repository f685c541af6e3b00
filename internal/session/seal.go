package session

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealPrefix  = "BRS1"
	saltSize    = 16
	metaSalt    = "kdf_salt"
	metaCheck   = "kdf_check"
	checkPhrase = "bridgera-session"
)

var (
	// ErrPassphrase is returned by Open when the configured passphrase does not
	// match the one the database was sealed with.
	ErrPassphrase = errors.New("session: passphrase does not match stored data")
	// ErrSealed is returned when sealed data is read without a passphrase.
	ErrSealed = errors.New("session: value is sealed")
)

// sealer encrypts values at rest with XChaCha20-Poly1305 under an argon2id key.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(passphrase string, salt []byte) (*sealer, error) {
	key := argon2.IDKey([]byte(passphrase), salt, 2, 64*1024, 1, chacha20poly1305.KeySize)
	defer zeroBytes(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := append([]byte(sealPrefix), s.aead.Seal(nonce, nonce, plaintext, nil)...)
	return out, nil
}

func (s *sealer) open(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte(sealPrefix)) {
		// plaintext written before encryption was enabled
		return data, nil
	}
	body := data[len(sealPrefix):]
	if len(body) < chacha20poly1305.NonceSizeX {
		return nil, ErrSealed
	}
	nonce, ciphertext := body[:chacha20poly1305.NonceSizeX], body[chacha20poly1305.NonceSizeX:]
	return s.aead.Open(nil, nonce, ciphertext, nil)
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func isSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(sealPrefix))
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

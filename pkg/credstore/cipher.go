// pkg/credstore/cipher.go
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const kdfIterations = 100_000

// ErrCorrupt is returned by open when the blob cannot be authenticated with
// the derived key. A wrong key yields this, never garbage plaintext.
var ErrCorrupt = errors.New("credential record failed authentication")

// sealer performs AES-256-GCM with a PBKDF2-derived key. One sealer is shared
// by every backend so file and postgres records are interchangeable.
type sealer struct {
	key []byte
}

func newSealer(passphrase, salt string) (*sealer, error) {
	if passphrase == "" {
		return nil, errors.New("credstore: master passphrase required")
	}
	if salt == "" {
		salt = "clearbill-credential-store"
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(salt), kdfIterations, 32, sha256.New)
	return &sealer{key: key}, nil
}

// seal returns base64(nonce ‖ ciphertext+tag) with a fresh random nonce.
func (s *sealer) seal(plain []byte) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := gcm.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

func (s *sealer) open(blob string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, ErrCorrupt
	}
	nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plain, nil
}

package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/configuration"
)

// blobPrefix versions the sealed format so the key derivation or cipher can
// change without breaking rows already in the database.
const blobPrefix = "v1:"

// defaultSalt keeps derivation deterministic when no salt is configured.
// Deployments that rotate passphrases should pin their own salt.
const defaultSalt = "crosspost-token-store"

type sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 256-bit AES-GCM key from the configured passphrase via
// PBKDF2-SHA256 and returns the sealer used for all token storage.
func NewSealer(cfg configuration.Encryption) (repository.ISecretSealer, error) {
	if cfg.Passphrase == "" {
		return nil, model.NewError(model.KindConfigMissing, "encryption passphrase is not configured")
	}
	salt := cfg.Salt
	if salt == "" {
		salt = defaultSalt
	}
	iterations := cfg.Iterations
	if iterations < 100_000 {
		iterations = 120_000
	}

	key := pbkdf2.Key([]byte(cfg.Passphrase), []byte(salt), iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing AEAD: %w", err)
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) Seal(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("reading nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return blobPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *sealer) Open(blob string) ([]byte, error) {
	if blob == "" {
		return nil, nil
	}
	raw, ok := strings.CutPrefix(blob, blobPrefix)
	if !ok {
		return nil, model.Errf(model.KindCryptoTamper, "sealed secret has unknown version")
	}
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, model.WrapError(model.KindCryptoTamper, err, "sealed secret is not valid base64")
	}
	if len(data) <= s.aead.NonceSize() {
		return nil, model.Errf(model.KindCryptoTamper, "sealed secret is truncated")
	}
	nonce, ciphertext := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, model.NewError(model.KindCryptoTamper, "sealed secret failed authentication")
	}
	return plaintext, nil
}

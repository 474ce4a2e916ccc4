package tool

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SecretKeyEnv supplies the master secret for sealing stored invocation
// arguments. Without it the secret is tied to the local account and host.
const SecretKeyEnv = "PAYASSIST_SECRET_KEY"

const (
	sealedArgumentsPrefix = "sealed:v2:"
	argumentKeyInfo       = "payassist invocation arguments"
)

var errSealerMissing = errors.New("tool: argument sealer is not initialized")

// argumentSealer encrypts invocation arguments for one history store. A
// sealed value is bound to its invocation id and only opens for that id.
type argumentSealer struct {
	aead cipher.AEAD
}

// newArgumentSealer derives the store key from the master secret with
// HKDF-SHA256, using scope as the salt.
func newArgumentSealer(scope string) (*argumentSealer, error) {
	kdf := hkdf.New(sha256.New, masterSecret(), []byte(strings.TrimSpace(scope)), []byte(argumentKeyInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("tool: derive argument key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &argumentSealer{aead: aead}, nil
}

func masterSecret() []byte {
	if env := strings.TrimSpace(os.Getenv(SecretKeyEnv)); env != "" {
		if decoded, err := base64.StdEncoding.DecodeString(env); err == nil && len(decoded) > 0 {
			return decoded
		}
		return []byte(env)
	}
	account := "unknown"
	if current, err := user.Current(); err == nil && current != nil {
		account = current.Username
	}
	hostname, _ := os.Hostname()
	return []byte(account + "@" + hostname)
}

// seal encrypts plaintext for the invocation recordID.
func (s *argumentSealer) seal(recordID string, plaintext []byte) (string, error) {
	if s == nil || s.aead == nil {
		return "", errSealerMissing
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	payload := s.aead.Seal(nonce, nonce, plaintext, []byte(recordID))
	return sealedArgumentsPrefix + base64.RawURLEncoding.EncodeToString(payload), nil
}

// open reverses seal. Values without the sealed prefix are returned as-is.
func (s *argumentSealer) open(recordID, stored string) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, errSealerMissing
	}
	encoded, ok := strings.CutPrefix(stored, sealedArgumentsPrefix)
	if !ok {
		return []byte(stored), nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("tool: decode arguments of invocation %s: %w", recordID, err)
	}
	nonceSize := s.aead.NonceSize()
	if len(payload) < nonceSize+s.aead.Overhead() {
		return nil, fmt.Errorf("tool: arguments of invocation %s are truncated", recordID)
	}
	plaintext, err := s.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], []byte(recordID))
	if err != nil {
		return nil, fmt.Errorf("tool: arguments of invocation %s do not open with this store's key: %w", recordID, err)
	}
	return plaintext, nil
}

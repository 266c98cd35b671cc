// Package envelope encrypts summaries for the note client: AES-256-GCM content
// encryption with the AES key wrapped by RSA-OAEP (SHA-256).
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

const (
	keySize   = 32
	nonceSize = 12
)

var (
	ErrInvalidPublicKey = errors.New("envelope: invalid public key")
	ErrMalformed        = errors.New("envelope: malformed sealed payload")
)

// Sealed holds the three base64 fields persisted in the inbox.
type Sealed struct {
	Data string `json:"encryptedData"`
	IV   string `json:"iv"`
	Key  string `json:"encryptedKey"`
}

// ParsePublicKey accepts a PKIX "PUBLIC KEY" or PKCS#1 "RSA PUBLIC KEY" PEM block.
func ParsePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(publicKeyPEM)))
	if block == nil {
		return nil, ErrInvalidPublicKey
	}
	switch block.Type {
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
		}
		return rsaPub, nil
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPublicKey, block.Type)
	}
}

// Seal encrypts plaintext for the holder of the private half of publicKeyPEM.
func Seal(plaintext, publicKeyPEM string) (Sealed, error) {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return Sealed{}, err
	}
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return Sealed{}, fmt.Errorf("generate content key: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("generate iv: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return Sealed{}, err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return Sealed{}, fmt.Errorf("wrap content key: %w", err)
	}
	return Sealed{
		Data: base64.StdEncoding.EncodeToString(ciphertext),
		IV:   base64.StdEncoding.EncodeToString(nonce),
		Key:  base64.StdEncoding.EncodeToString(wrapped),
	}, nil
}

// Open reverses Seal with the recipient's private key.
func Open(s Sealed, priv *rsa.PrivateKey) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(s.Data)
	if err != nil {
		return "", ErrMalformed
	}
	nonce, err := base64.StdEncoding.DecodeString(s.IV)
	if err != nil || len(nonce) != nonceSize {
		return "", ErrMalformed
	}
	wrapped, err := base64.StdEncoding.DecodeString(s.Key)
	if err != nil {
		return "", ErrMalformed
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil {
		return "", fmt.Errorf("unwrap content key: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt content: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

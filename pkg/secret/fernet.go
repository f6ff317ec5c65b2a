// Package secret encrypts and decrypts chart specs with a shared Fernet key.
//
// Tokens are compatible with Python's cryptography.fernet, so specs encrypted by
// existing clients keep working.
package secret

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/fernet/fernet-go"
)

// UnsetKey is the placeholder value meaning no key has been configured
const UnsetKey = "blank"

// ErrInvalidToken is returned when a token fails verification or decryption
var ErrInvalidToken = errors.New("invalid or tampered token")

// Cipher holds a parsed Fernet key
type Cipher struct {
	key *fernet.Key
}

// NewCipher parses a url-safe base64 encoded 32-byte key
func NewCipher(encodedKey string) (*Cipher, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if !IsConfigured(encodedKey) {
		return nil, fmt.Errorf("secret key not configured")
	}
	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret key: %w", err)
	}
	return &Cipher{key: key}, nil
}

// IsConfigured reports whether a key value is set
func IsConfigured(encodedKey string) bool {
	return encodedKey != "" && encodedKey != UnsetKey
}

// GenerateKey returns a new random key in its encoded form
func GenerateKey() (string, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return key.Encode(), nil
}

// Encrypt returns the Fernet token for plaintext
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt verifies a token and returns its plaintext. Tokens do not expire.
func (c *Cipher) Decrypt(token string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(strings.TrimSpace(token)), -1, []*fernet.Key{c.key})
	if msg == nil {
		return "", ErrInvalidToken
	}
	return string(msg), nil
}

// BuildConvertURL returns the relative /convert_spec URL for a spec.
// When c is non-nil the spec is encrypted.
func BuildConvertURL(c *Cipher, spec, format string, width int) (string, error) {
	coded := spec
	encrypted := c != nil
	if encrypted {
		tok, err := c.Encrypt(spec)
		if err != nil {
			return "", err
		}
		coded = tok
	}

	params := url.Values{}
	params.Set("format", format)
	params.Set("spec", coded)
	params.Set("width", strconv.Itoa(width))
	params.Set("encrypted", strconv.FormatBool(encrypted))

	return "/convert_spec?" + params.Encode(), nil
}

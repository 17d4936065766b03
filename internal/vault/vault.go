// Package vault seals raw credential secrets and produces their lookup hashes.
// Secrets are encrypted with AES-256-GCM under a key derived from the wallet
// master key via scrypt; the hash is salted with the master key so digests
// cannot be computed outside the vault.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pysugar/key-wallet-nexus/internal/errs"
	"golang.org/x/crypto/scrypt"
)

const keySize = 32 // AES-256

// scrypt parameters; the derivation runs once per Vault, not per call.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var kdfSalt = []byte("key-wallet-vault-v1")

// Vault performs encryption, decryption and lookup hashing. All operations
// are pure and safe for any number of concurrent callers.
type Vault struct {
	masterKey []byte
	aead      cipher.AEAD
}

// New derives the symmetric key from masterKey and returns a ready Vault.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key is required")
	}
	derived, err := scrypt.Key([]byte(masterKey), kdfSalt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("cipher init failed: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm init failed: %w", err)
	}
	return &Vault{masterKey: []byte(masterKey), aead: aead}, nil
}

// Encrypt seals a secret under a fresh random IV and returns the blob as
// hex(iv):hex(authTag):hex(ciphertext). The IV is never reused.
func (v *Vault) Encrypt(secret string) (string, error) {
	iv := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("iv generation failed: %w", err)
	}

	sealed := v.aead.Seal(nil, iv, []byte(secret), nil)
	tagStart := len(sealed) - v.aead.Overhead()

	return hex.EncodeToString(iv) + ":" +
		hex.EncodeToString(sealed[tagStart:]) + ":" +
		hex.EncodeToString(sealed[:tagStart]), nil
}

// Decrypt opens a blob produced by Encrypt. A malformed blob or a failed
// authentication tag yields an IntegrityError; garbage is never returned.
func (v *Vault) Decrypt(blob string) (string, error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return "", &errs.IntegrityError{Reason: "wrong segment count"}
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != v.aead.NonceSize() {
		return "", &errs.IntegrityError{Reason: "malformed iv"}
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != v.aead.Overhead() {
		return "", &errs.IntegrityError{Reason: "malformed auth tag"}
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", &errs.IntegrityError{Reason: "malformed ciphertext"}
	}

	plain, err := v.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", &errs.IntegrityError{Reason: "authentication failed"}
	}
	return string(plain), nil
}

// Hash returns the deterministic lookup digest for a secret. Same secret,
// same digest; salted with the master key.
func (v *Vault) Hash(secret string) string {
	sum := sha256.Sum256(append([]byte(secret), v.masterKey...))
	return hex.EncodeToString(sum[:])
}

// Validation is the outcome of a key format check. Vendor is diagnostic only
// and never used for enforcement.
type Validation struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
	Vendor string   `json:"vendor,omitempty"`
}

// ValidateFormat rejects empty secrets, secrets under 8 characters and
// secrets containing whitespace.
func ValidateFormat(secret string) Validation {
	var issues []string

	if secret == "" {
		issues = append(issues, "key cannot be empty")
	}
	if len(secret) < 8 {
		issues = append(issues, "key should be at least 8 characters long")
	}
	if strings.ContainsAny(secret, " \t\r\n") {
		issues = append(issues, "key should not contain whitespace")
	}

	return Validation{
		Valid:  len(issues) == 0,
		Issues: issues,
		Vendor: RecognizeVendor(secret),
	}
}

var vendorPrefixes = []struct {
	prefix string
	name   string
}{
	{"sk_test_", "Stripe test key"},
	{"sk_live_", "Stripe live key"},
	{"pk_test_", "Stripe publishable test key"},
	{"pk_live_", "Stripe publishable live key"},
	{"AIza", "Google API key"},
	{"ya29.", "Google OAuth token"},
	{"ghp_", "GitHub personal access token"},
	{"xoxb-", "Slack bot token"},
	{"xoxp-", "Slack user token"},
}

// RecognizeVendor names the vendor a secret's prefix suggests, or "" when the
// prefix is not a known pattern.
func RecognizeVendor(secret string) string {
	for _, p := range vendorPrefixes {
		if strings.HasPrefix(secret, p.prefix) {
			return p.name
		}
	}
	return ""
}

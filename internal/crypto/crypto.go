// Package crypto encrypts and decrypts optimization request payloads
// between the launcher-side client and the daemon's ingress listener,
// keyed off /etc/machine-id the way the service this daemon replaces
// keys its own request encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const machineIDPath = "/etc/machine-id"

// pbkdf2Iterations and pbkdf2Salt are fixed: both ends of the exchange
// run on the same host and derive the key from the same machine id, so a
// per-message random salt would only need to travel alongside the
// ciphertext for no security benefit.
const pbkdf2Iterations = 100_000

var pbkdf2Salt = []byte("optimusd-request-encryption")

// ReadMachineID reads and trims /etc/machine-id, mirroring read_machine_id.
func ReadMachineID() (string, error) {
	raw, err := os.ReadFile(machineIDPath)
	if err != nil {
		return "", fmt.Errorf("reading machine id: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func deriveKey(machineID string) []byte {
	return pbkdf2.Key([]byte(machineID), pbkdf2Salt, pbkdf2Iterations, 32, sha256.New)
}

// Encrypt AES-GCM-encrypts plaintext with a key derived from machineID and
// returns it base64-encoded, with the nonce prepended to the ciphertext.
func Encrypt(plaintext []byte, machineID string) (string, error) {
	block, err := aes.NewCipher(deriveKey(machineID))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func Decrypt(encoded string, machineID string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(machineID))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting request: %w", err)
	}
	return plaintext, nil
}

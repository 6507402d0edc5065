package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"

	cerrors "github.com/medledger-consortium/chaincode/health-records/errors"
)

// EncryptionKeySize is the AES-256 key length in bytes.
const EncryptionKeySize = 32

// MaxPlaintextSize bounds the payload accepted for encryption. Matches the
// ciphertext bound enforced by record validation.
const MaxPlaintextSize = 10 * 1024 * 1024

// Encryption and decryption are caller-side operations: the contract
// stores ciphertext as opaque validated input so every endorsing execution
// of a transaction stays deterministic. These helpers are linked by the
// invoking services, never called on a contract write path.

// GenerateDataHash returns the hex SHA-256 of data. Deterministic; called
// on plaintext before encryption and never recomputed from ciphertext.
func GenerateDataHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// GenerateRecordID returns 16 cryptographically random bytes hex-encoded.
// Used only for key generation, never as a content hash. The value is
// generated once per proposal and thereafter treated as fixed data.
func GenerateRecordID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", cerrors.Crypto(err, "failed to generate record ID")
	}
	return hex.EncodeToString(b), nil
}

// GenerateEncryptionKey returns a fresh 32-byte key for out-of-band
// provisioning. Raw keys are never persisted on the ledger.
func GenerateEncryptionKey() ([]byte, error) {
	key := make([]byte, EncryptionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, cerrors.Crypto(err, "failed to generate encryption key")
	}
	return key, nil
}

// DeriveRecordKey expands an out-of-band master key into the per-record
// encryption key via HKDF-SHA256, using the record ID as the info string.
func DeriveRecordKey(masterKey []byte, recordID string) ([]byte, error) {
	if len(masterKey) != EncryptionKeySize {
		return nil, cerrors.Crypto(nil, "master key must be %d bytes, got %d", EncryptionKeySize, len(masterKey))
	}
	key := make([]byte, EncryptionKeySize)
	r := hkdf.New(sha256.New, masterKey, nil, []byte(recordID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, cerrors.Crypto(err, "failed to derive record key")
	}
	return key, nil
}

// EncryptData encrypts plaintext with AES-256-GCM under a fresh random
// nonce, prepends the nonce to the ciphertext, and returns base64.
func EncryptData(plaintext, key []byte) (string, error) {
	if len(plaintext) > MaxPlaintextSize {
		return "", cerrors.SizeLimit("plaintext exceeds maximum size of %d bytes", MaxPlaintextSize)
	}
	if len(key) != EncryptionKeySize {
		return "", cerrors.Crypto(nil, "encryption key must be %d bytes, got %d", EncryptionKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", cerrors.Crypto(err, "failed to create cipher")
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", cerrors.Crypto(err, "failed to create GCM")
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", cerrors.Crypto(err, "failed to create nonce")
	}

	ciphertext := aesGCM.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptData reverses EncryptData. Malformed base64, a ciphertext shorter
// than the nonce, and authentication failure all surface as CryptoError.
func DecryptData(encryptedData string, key []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedData)
	if err != nil {
		return nil, cerrors.Crypto(err, "failed to decode ciphertext")
	}
	if len(key) != EncryptionKeySize {
		return nil, cerrors.Crypto(nil, "encryption key must be %d bytes, got %d", EncryptionKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cerrors.Crypto(err, "failed to create cipher")
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, cerrors.Crypto(err, "failed to create GCM")
	}

	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, cerrors.Crypto(nil, "ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, cerrors.Crypto(err, "failed to decrypt")
	}
	return plaintext, nil
}

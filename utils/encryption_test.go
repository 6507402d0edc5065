package utils

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/medledger-consortium/chaincode/health-records/errors"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)
	require.Len(t, key, EncryptionKeySize)

	plaintext := []byte(`{"diagnosis":"healthy","bloodPressure":"120/80"}`)
	encrypted, err := EncryptData(plaintext, key)
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "diagnosis")

	decrypted, err := DecryptData(encrypted, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)

	first, err := EncryptData([]byte("payload"), key)
	require.NoError(t, err)
	second, err := EncryptData([]byte("payload"), key)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)
	wrongKey, err := GenerateEncryptionKey()
	require.NoError(t, err)

	encrypted, err := EncryptData([]byte("secret"), key)
	require.NoError(t, err)

	_, err = DecryptData(encrypted, wrongKey)
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindCrypto))
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)

	_, err = DecryptData("not-base64!!!", key)
	assert.True(t, cerrors.IsKind(err, cerrors.KindCrypto))

	// Valid base64 but shorter than a GCM nonce.
	short := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	_, err = DecryptData(short, key)
	assert.True(t, cerrors.IsKind(err, cerrors.KindCrypto))
}

func TestEncryptRejectsBadKeyAndOversizePayload(t *testing.T) {
	_, err := EncryptData([]byte("data"), []byte("short key"))
	assert.True(t, cerrors.IsKind(err, cerrors.KindCrypto))

	key, err := GenerateEncryptionKey()
	require.NoError(t, err)
	oversized := make([]byte, MaxPlaintextSize+1)
	_, err = EncryptData(oversized, key)
	assert.True(t, cerrors.IsKind(err, cerrors.KindSizeLimit))
}

func TestGenerateDataHashIsStable(t *testing.T) {
	data := []byte("immutable plaintext")
	first := GenerateDataHash(data)
	second := GenerateDataHash(data)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.Equal(t, strings.ToLower(first), first)
	assert.NotEqual(t, first, GenerateDataHash([]byte("different plaintext")))
}

func TestGenerateRecordIDShape(t *testing.T) {
	id, err := GenerateRecordID()
	require.NoError(t, err)
	assert.Len(t, id, 32)

	other, err := GenerateRecordID()
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestDeriveRecordKeyIsDeterministicPerRecord(t *testing.T) {
	master, err := GenerateEncryptionKey()
	require.NoError(t, err)

	keyA, err := DeriveRecordKey(master, "record-a")
	require.NoError(t, err)
	keyA2, err := DeriveRecordKey(master, "record-a")
	require.NoError(t, err)
	keyB, err := DeriveRecordKey(master, "record-b")
	require.NoError(t, err)

	assert.Equal(t, keyA, keyA2)
	assert.NotEqual(t, keyA, keyB)
	assert.Len(t, keyA, EncryptionKeySize)

	_, err = DeriveRecordKey([]byte("too short"), "record-a")
	assert.True(t, cerrors.IsKind(err, cerrors.KindCrypto))
}

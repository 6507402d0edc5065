package contracts_test

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger-consortium/chaincode/health-records/collections"
	"github.com/medledger-consortium/chaincode/health-records/contracts"
	cerrors "github.com/medledger-consortium/chaincode/health-records/errors"
	"github.com/medledger-consortium/chaincode/health-records/mocks"
	"github.com/medledger-consortium/chaincode/health-records/models"
	"github.com/medledger-consortium/chaincode/health-records/utils"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ciphertext(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// createLabResult stores a lab result for patient1 with the context's
// current caller as creator and returns it.
func createLabResult(t *testing.T, ctx *mocks.TransactionContext) *models.HealthRecord {
	t.Helper()
	hrc := new(contracts.HealthRecordContract)
	record, err := hrc.CreateRecord(ctx, "patient1", "provider1", "lab_result",
		ciphertext("ciphertext v1"), utils.GenerateDataHash([]byte("plaintext v1")), false, "")
	require.NoError(t, err)
	return record
}

func TestCreateRecord(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	hrc := new(contracts.HealthRecordContract)

	hash := utils.GenerateDataHash([]byte("plaintext v1"))
	record, err := hrc.CreateRecord(ctx, "patient1", "provider1", "lab_result",
		ciphertext("ciphertext v1"), hash, false, `{"clinic":"north"}`)
	require.NoError(t, err)

	assert.Len(t, record.RecordID, 32)
	assert.Equal(t, 1, record.Version)
	assert.Equal(t, models.StatusActive, record.Status)
	assert.Equal(t, hash, record.DataHash)
	assert.Equal(t, baseTime, record.CreatedAt)
	assert.Equal(t, "north", record.Metadata["clinic"].Str)
	assert.NotNil(t, ctx.Stub.Event("RecordCreated"))

	// Public world state carries the redacted envelope only; the full
	// record lives in the routed private collection.
	recordKey, err := utils.CreateRecordKey("lab_result", "patient1", record.RecordID)
	require.NoError(t, err)
	data, err := ctx.Stub.GetState(recordKey)
	require.NoError(t, err)
	var envelope models.HealthRecord
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Empty(t, envelope.EncryptedData)
	assert.Equal(t, hash, envelope.DataHash)

	private, err := ctx.Stub.GetPrivateData(collections.CollectionPersonalHealthData, recordKey)
	require.NoError(t, err)
	var full models.HealthRecord
	require.NoError(t, json.Unmarshal(private, &full))
	assert.Equal(t, ciphertext("ciphertext v1"), full.EncryptedData)
}

func TestCreateRecordRoutesSensitiveCollection(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	hrc := new(contracts.HealthRecordContract)

	record, err := hrc.CreateRecord(ctx, "patient1", "provider1", "medical_history",
		ciphertext("history"), utils.GenerateDataHash([]byte("history")), false, "")
	require.NoError(t, err)

	recordKey, err := utils.CreateRecordKey("medical_history", "patient1", record.RecordID)
	require.NoError(t, err)
	private, err := ctx.Stub.GetPrivateData(collections.CollectionSensitiveRecords, recordKey)
	require.NoError(t, err)
	assert.NotNil(t, private)
}

func TestCreateRecordRejectsInvalidInput(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	hrc := new(contracts.HealthRecordContract)

	_, err := hrc.CreateRecord(ctx, "patient1", "provider1", "lab_result",
		ciphertext("data"), "deadbeef", false, "")
	assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))

	_, err = hrc.CreateRecord(ctx, "patient1", "provider1", "genome",
		ciphertext("data"), utils.GenerateDataHash([]byte("data")), false, "")
	assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))

	_, err = hrc.CreateRecord(ctx, "patient~1", "provider1", "lab_result",
		ciphertext("data"), utils.GenerateDataHash([]byte("data")), false, "")
	assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
}

func TestReadRecordAuthorization(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	record := createLabResult(t, ctx)
	hrc := new(contracts.HealthRecordContract)

	got, err := hrc.ReadRecord(ctx, record.RecordID, "patient1", "lab_result")
	require.NoError(t, err)
	assert.Equal(t, record.RecordID, got.RecordID)
	assert.Equal(t, ciphertext("ciphertext v1"), got.EncryptedData)

	// The patient owns the record and reads without a grant.
	_, err = hrc.ReadRecord(ctx.As("patient1"), record.RecordID, "patient1", "lab_result")
	require.NoError(t, err)

	_, err = hrc.ReadRecord(ctx.As("stranger"), record.RecordID, "patient1", "lab_result")
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindUnauthorized))
}

func TestReadRecordNotFound(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	record := createLabResult(t, ctx)
	hrc := new(contracts.HealthRecordContract)

	// Wrong type segment means a different primary key, so the lookup
	// misses even though the record ID exists.
	_, err := hrc.ReadRecord(ctx, record.RecordID, "patient1", "imaging")
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindNotFound))
}

func TestUpdateRecordMetadataOnly(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	record := createLabResult(t, ctx)
	hrc := new(contracts.HealthRecordContract)

	ctx.Stub.SetTx("tx2", baseTime.Add(time.Hour))
	updated, err := hrc.UpdateRecord(ctx, record.RecordID, "patient1", "lab_result",
		"", "", `{"reviewed":true}`)
	require.NoError(t, err)

	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, record.DataHash, updated.DataHash)
	assert.Equal(t, record.EncryptedData, updated.EncryptedData)
	assert.Equal(t, baseTime, updated.CreatedAt)
	assert.Equal(t, baseTime.Add(time.Hour), updated.UpdatedAt)
	assert.True(t, updated.Metadata["reviewed"].Bool)
}

func TestUpdateRecordReplacesCiphertext(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	record := createLabResult(t, ctx)
	hrc := new(contracts.HealthRecordContract)

	ctx.Stub.SetTx("tx2", baseTime.Add(time.Hour))
	newHash := utils.GenerateDataHash([]byte("plaintext v2"))
	updated, err := hrc.UpdateRecord(ctx, record.RecordID, "patient1", "lab_result",
		ciphertext("ciphertext v2"), newHash, "")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, newHash, updated.DataHash)

	// A hash without new ciphertext is rejected.
	_, err = hrc.UpdateRecord(ctx, record.RecordID, "patient1", "lab_result",
		"", newHash, "")
	assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	record := createLabResult(t, ctx)
	hrc := new(contracts.HealthRecordContract)

	ctx.Stub.SetTx("tx2", baseTime.Add(time.Hour))
	archived, err := hrc.ArchiveRecord(ctx, record.RecordID, "patient1", "lab_result")
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, archived.Status)
	assert.Equal(t, 2, archived.Version)

	// Archived records no longer accept updates.
	_, err = hrc.UpdateRecord(ctx, record.RecordID, "patient1", "lab_result", "", "", `{"x":1}`)
	assert.True(t, cerrors.IsKind(err, cerrors.KindConflict))

	// Archiving twice is not a valid transition.
	_, err = hrc.ArchiveRecord(ctx, record.RecordID, "patient1", "lab_result")
	assert.True(t, cerrors.IsKind(err, cerrors.KindConflict))

	ctx.Stub.SetTx("tx3", baseTime.Add(2*time.Hour))
	deleted, err := hrc.DeleteRecord(ctx, record.RecordID, "patient1", "lab_result", "patient request")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, deleted.Status)
	assert.Equal(t, 3, deleted.Version)
	assert.Equal(t, "patient request", deleted.Metadata["deletionReason"].Str)

	// Deleted is terminal.
	_, err = hrc.DeleteRecord(ctx, record.RecordID, "patient1", "lab_result", "again")
	assert.True(t, cerrors.IsKind(err, cerrors.KindConflict))
	_, err = hrc.ArchiveRecord(ctx, record.RecordID, "patient1", "lab_result")
	assert.True(t, cerrors.IsKind(err, cerrors.KindConflict))
}

func TestQueryRecordsByPatientPagination(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	hrc := new(contracts.HealthRecordContract)

	created := map[string]bool{}
	for i := 0; i < 5; i++ {
		ctx.Stub.SetTx(fmt.Sprintf("tx%d", i+1), baseTime.Add(time.Duration(i)*time.Minute))
		record, err := hrc.CreateRecord(ctx, "patient1", "provider1", "lab_result",
			ciphertext("data"), utils.GenerateDataHash([]byte("data")), false, "")
		require.NoError(t, err)
		created[record.RecordID] = true
	}

	// Walk every page; together they must cover each record exactly once.
	seen := map[string]bool{}
	bookmark := ""
	pages := 0
	for {
		page, err := hrc.QueryRecordsByPatient(ctx, "patient1", 2, bookmark)
		require.NoError(t, err)
		for _, record := range page.Records {
			assert.False(t, seen[record.RecordID], "record %s returned twice", record.RecordID)
			seen[record.RecordID] = true
		}
		pages++
		require.LessOrEqual(t, pages, 5, "pagination did not terminate")
		if page.Bookmark == "" {
			break
		}
		bookmark = page.Bookmark
	}

	assert.Equal(t, created, seen)
	assert.Equal(t, 3, pages)
}

func TestQueryRecordsByProvider(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	record := createLabResult(t, ctx)
	hrc := new(contracts.HealthRecordContract)

	page, err := hrc.QueryRecordsByProvider(ctx, "provider1", 0, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, record.RecordID, page.Records[0].RecordID)

	empty, err := hrc.QueryRecordsByProvider(ctx, "provider2", 0, "")
	require.NoError(t, err)
	assert.Empty(t, empty.Records)
	assert.Empty(t, empty.Bookmark)
}

func TestGetRecordHistory(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	record := createLabResult(t, ctx)
	hrc := new(contracts.HealthRecordContract)

	ctx.Stub.SetTx("tx2", baseTime.Add(time.Hour))
	_, err := hrc.UpdateRecord(ctx, record.RecordID, "patient1", "lab_result",
		ciphertext("ciphertext v2"), utils.GenerateDataHash([]byte("plaintext v2")), "")
	require.NoError(t, err)

	history, err := hrc.GetRecordHistory(ctx, record.RecordID, "patient1", "lab_result")
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Newest first.
	assert.Equal(t, "tx2", history[0].TxID)
	assert.Equal(t, 2, history[0].Value.Version)
	assert.Equal(t, "tx1", history[1].TxID)
	assert.Equal(t, 1, history[1].Value.Version)
	assert.True(t, history[0].Timestamp.After(history[1].Timestamp))
	assert.False(t, history[0].IsDelete)
}

func TestCreateRecordsBatch(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	hrc := new(contracts.HealthRecordContract)

	batch := []map[string]interface{}{
		{
			"patientId":     "patient1",
			"providerId":    "provider1",
			"recordType":    "vaccination",
			"encryptedData": ciphertext("dose 1"),
			"dataHash":      utils.GenerateDataHash([]byte("dose 1")),
		},
		{
			"patientId":     "patient2",
			"providerId":    "provider1",
			"recordType":    "lab_result",
			"encryptedData": ciphertext("panel"),
			"dataHash":      utils.GenerateDataHash([]byte("panel")),
			"sensitive":     true,
		},
	}
	payload, err := json.Marshal(batch)
	require.NoError(t, err)

	records, err := hrc.CreateRecordsBatch(ctx, string(payload))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.RecordTypeVaccination, records[0].RecordType)
	assert.True(t, records[1].Sensitive)
	for _, record := range records {
		assert.Len(t, record.RecordID, 32)
		assert.Equal(t, 1, record.Version)
	}
	assert.NotNil(t, ctx.Stub.Event("RecordsBatchCreated"))
}

func TestCreateRecordsBatchIsAllOrNothing(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	hrc := new(contracts.HealthRecordContract)

	// Second entry is missing its hash; nothing may be written.
	payload := fmt.Sprintf(`[
		{"patientId":"patient1","providerId":"provider1","recordType":"lab_result","encryptedData":%q,"dataHash":%q},
		{"patientId":"patient2","providerId":"provider1","recordType":"lab_result","encryptedData":%q}
	]`, ciphertext("a"), utils.GenerateDataHash([]byte("a")), ciphertext("b"))

	_, err := hrc.CreateRecordsBatch(ctx, payload)
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))

	for _, key := range ctx.Stub.StateKeys() {
		assert.False(t, strings.HasPrefix(key, "RECORD~"), "unexpected write %s", key)
	}

	_, err = hrc.CreateRecordsBatch(ctx, `[]`)
	assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))
}

package contracts

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medledger-consortium/chaincode/health-records/collections"
	cerrors "github.com/medledger-consortium/chaincode/health-records/errors"
	"github.com/medledger-consortium/chaincode/health-records/models"
	"github.com/medledger-consortium/chaincode/health-records/utils"
)

// HealthRecordContract provides functions for managing health records.
type HealthRecordContract struct {
	contractapi.Contract
}

const (
	defaultRecordPageSize int32 = 50
	maxRecordPageSize     int32 = 200
)

// CreateRecord stores a new health record. The caller submits ciphertext
// and the plaintext hash; encryption happened before the transaction was
// proposed, so endorsing executions see identical inputs. The record's
// classification routes its payload into a private collection; public
// state keeps a redacted envelope.
func (hrc *HealthRecordContract) CreateRecord(
	ctx contractapi.TransactionContextInterface,
	patientID string,
	providerID string,
	recordType string,
	encryptedData string,
	dataHash string,
	sensitive bool,
	metadata string,
) (*models.HealthRecord, error) {
	stub := ctx.GetStub()
	now, err := txTime(ctx)
	if err != nil {
		return nil, err
	}
	creator, err := clientID(ctx)
	if err != nil {
		return nil, err
	}

	patientID = utils.SanitizeString(patientID)
	providerID = utils.SanitizeString(providerID)

	record := models.NewHealthRecord(patientID, providerID, models.RecordType(recordType), now)
	record.EncryptedData = encryptedData
	record.DataHash = dataHash
	record.Sensitive = sensitive

	meta, err := models.ParseMetadata(metadata)
	if err != nil {
		return nil, cerrors.Validation("metadata", "failed to parse metadata: %v", err)
	}
	record.Metadata = meta

	if err := utils.ValidateHealthRecord(record); err != nil {
		return nil, err
	}

	recordID, err := utils.GenerateRecordID()
	if err != nil {
		return nil, err
	}
	record.RecordID = recordID

	recordKey, err := putRecord(stub, record)
	if err != nil {
		return nil, err
	}

	if err := writeOwner(stub, resourceOwner{
		ResourceID: recordID,
		PatientID:  patientID,
		ProviderID: providerID,
		CreatedBy:  creator,
	}); err != nil {
		return nil, err
	}

	if err := writeRecordIndexes(stub, record, recordKey); err != nil {
		return nil, err
	}

	if err := writeAudit(ctx, "RECORD_CREATED", map[string]string{
		"recordId":   recordID,
		"patientId":  patientID,
		"providerId": providerID,
		"recordType": recordType,
	}); err != nil {
		return nil, err
	}

	if err := emitEvent(stub, "RecordCreated", map[string]interface{}{
		"recordId":   recordID,
		"patientId":  patientID,
		"providerId": providerID,
		"recordType": recordType,
		"timestamp":  now.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	return record, nil
}

// ReadRecord returns a health record. Members of the record's collection
// see the full record; other organizations see the redacted envelope.
func (hrc *HealthRecordContract) ReadRecord(
	ctx contractapi.TransactionContextInterface,
	recordID string,
	patientID string,
	recordType string,
) (*models.HealthRecord, error) {
	now, err := txTime(ctx)
	if err != nil {
		return nil, err
	}
	caller, err := clientID(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkAccessAt(ctx.GetStub(), recordID, caller, models.PermissionRead, now); err != nil {
		return nil, err
	}
	record, _, err := readRecord(ctx.GetStub(), recordType, patientID, recordID)
	return record, err
}

// UpdateRecord applies a new ciphertext and/or metadata to an active
// record, incrementing its version by exactly one. The prior value is
// retained by the ledger's history mechanism; a concurrent update to the
// same key is rejected at commit and surfaces to the caller as a
// retryable conflict.
func (hrc *HealthRecordContract) UpdateRecord(
	ctx contractapi.TransactionContextInterface,
	recordID string,
	patientID string,
	recordType string,
	encryptedData string,
	dataHash string,
	metadata string,
) (*models.HealthRecord, error) {
	stub := ctx.GetStub()
	now, err := txTime(ctx)
	if err != nil {
		return nil, err
	}
	caller, err := clientID(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkAccessAt(stub, recordID, caller, models.PermissionWrite, now); err != nil {
		return nil, err
	}

	record, _, err := readRecord(stub, recordType, patientID, recordID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusActive {
		return nil, cerrors.Conflict("cannot update record with status %s", record.Status)
	}

	if encryptedData != "" {
		if dataHash == "" {
			return nil, cerrors.Validation("dataHash", "data hash is required when replacing encrypted data")
		}
		record.EncryptedData = encryptedData
		record.DataHash = dataHash
	} else if dataHash != "" {
		return nil, cerrors.Validation("dataHash", "data hash must accompany new encrypted data")
	}

	if metadata != "" {
		meta, err := models.ParseMetadata(metadata)
		if err != nil {
			return nil, cerrors.Validation("metadata", "failed to parse metadata: %v", err)
		}
		record.Metadata.Merge(meta)
	}

	record.Version++
	record.UpdatedAt = now

	if err := utils.ValidateHealthRecord(record); err != nil {
		return nil, err
	}
	if _, err := putRecord(stub, record); err != nil {
		return nil, err
	}

	if err := writeAudit(ctx, "RECORD_UPDATED", map[string]string{
		"recordId": recordID,
	}); err != nil {
		return nil, err
	}
	if err := emitEvent(stub, "RecordUpdated", map[string]interface{}{
		"recordId":  recordID,
		"version":   record.Version,
		"timestamp": now.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	return record, nil
}

// ArchiveRecord moves an active record to archived.
func (hrc *HealthRecordContract) ArchiveRecord(
	ctx contractapi.TransactionContextInterface,
	recordID string,
	patientID string,
	recordType string,
) (*models.HealthRecord, error) {
	return hrc.transition(ctx, recordID, patientID, recordType, models.StatusArchived, models.PermissionWrite, "")
}

// DeleteRecord soft-deletes a record. Deleted is terminal; the record
// stays on the ledger with its status flipped and the reason recorded.
func (hrc *HealthRecordContract) DeleteRecord(
	ctx contractapi.TransactionContextInterface,
	recordID string,
	patientID string,
	recordType string,
	reason string,
) (*models.HealthRecord, error) {
	return hrc.transition(ctx, recordID, patientID, recordType, models.StatusDeleted, models.PermissionDelete, reason)
}

func (hrc *HealthRecordContract) transition(
	ctx contractapi.TransactionContextInterface,
	recordID string,
	patientID string,
	recordType string,
	next models.RecordStatus,
	required models.Permission,
	reason string,
) (*models.HealthRecord, error) {
	stub := ctx.GetStub()
	now, err := txTime(ctx)
	if err != nil {
		return nil, err
	}
	caller, err := clientID(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkAccessAt(stub, recordID, caller, required, now); err != nil {
		return nil, err
	}

	record, _, err := readRecord(stub, recordType, patientID, recordID)
	if err != nil {
		return nil, err
	}
	if !record.Status.CanTransitionTo(next) {
		return nil, cerrors.Conflict("invalid status transition %s -> %s", record.Status, next)
	}

	record.Status = next
	record.Version++
	record.UpdatedAt = now
	if reason != "" {
		record.Metadata["deletionReason"] = models.StringValue(utils.SanitizeString(reason))
	}

	if err := utils.ValidateHealthRecord(record); err != nil {
		return nil, err
	}
	if _, err := putRecord(stub, record); err != nil {
		return nil, err
	}

	action := "RECORD_ARCHIVED"
	event := "RecordArchived"
	if next == models.StatusDeleted {
		action = "RECORD_DELETED"
		event = "RecordDeleted"
	}
	if err := writeAudit(ctx, action, map[string]string{
		"recordId": recordID,
		"status":   string(next),
	}); err != nil {
		return nil, err
	}
	if err := emitEvent(stub, event, map[string]interface{}{
		"recordId":  recordID,
		"status":    next,
		"timestamp": now.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	return record, nil
}

// QueryRecordsByPatient range-scans the patient index, returning one page
// and the bookmark to resume from. Page size defaults to 50, capped at
// 200.
func (hrc *HealthRecordContract) QueryRecordsByPatient(
	ctx contractapi.TransactionContextInterface,
	patientID string,
	pageSize int32,
	bookmark string,
) (*models.PaginatedQueryResult, error) {
	return queryRecordIndex(ctx.GetStub(), utils.FamilyPatientRecords, patientID, pageSize, bookmark)
}

// QueryRecordsByProvider range-scans the provider index.
func (hrc *HealthRecordContract) QueryRecordsByProvider(
	ctx contractapi.TransactionContextInterface,
	providerID string,
	pageSize int32,
	bookmark string,
) (*models.PaginatedQueryResult, error) {
	return queryRecordIndex(ctx.GetStub(), utils.FamilyProviderRecords, providerID, pageSize, bookmark)
}

// GetRecordHistory returns every past committed value of a record from
// the ledger's native history facility.
func (hrc *HealthRecordContract) GetRecordHistory(
	ctx contractapi.TransactionContextInterface,
	recordID string,
	patientID string,
	recordType string,
) ([]*models.HistoryRecord, error) {
	recordKey, err := utils.CreateRecordKey(recordType, patientID, recordID)
	if err != nil {
		return nil, err
	}

	iter, err := ctx.GetStub().GetHistoryForKey(recordKey)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindNotFound, err, "failed to get history for %s", recordID)
	}
	defer iter.Close()

	var history []*models.HistoryRecord
	for iter.HasNext() {
		mod, err := iter.Next()
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindNotFound, err, "failed to iterate history")
		}

		var record models.HealthRecord
		if mod.Value != nil {
			if err := json.Unmarshal(mod.Value, &record); err != nil {
				return nil, cerrors.Wrap(cerrors.KindValidation, err, "failed to unmarshal history value")
			}
		}
		history = append(history, &models.HistoryRecord{
			TxID:      mod.TxId,
			Value:     record,
			Timestamp: time.Unix(mod.Timestamp.Seconds, int64(mod.Timestamp.Nanos)).UTC(),
			IsDelete:  mod.IsDelete,
		})
	}
	return history, nil
}

// batchRecordInput is one record in a CreateRecordsBatch payload.
type batchRecordInput struct {
	PatientID     string          `json:"patientId"`
	ProviderID    string          `json:"providerId"`
	RecordType    string          `json:"recordType"`
	EncryptedData string          `json:"encryptedData"`
	DataHash      string          `json:"dataHash"`
	Sensitive     bool            `json:"sensitive"`
	Metadata      models.Metadata `json:"metadata"`
}

// CreateRecordsBatch creates multiple records in one transaction. Every
// input is validated before the first write so a bad entry leaves no
// partial state.
func (hrc *HealthRecordContract) CreateRecordsBatch(
	ctx contractapi.TransactionContextInterface,
	recordsJSON string,
) ([]*models.HealthRecord, error) {
	stub := ctx.GetStub()
	now, err := txTime(ctx)
	if err != nil {
		return nil, err
	}
	creator, err := clientID(ctx)
	if err != nil {
		return nil, err
	}

	var inputs []batchRecordInput
	if err := json.Unmarshal([]byte(recordsJSON), &inputs); err != nil {
		return nil, cerrors.Validation("records", "failed to parse batch: %v", err)
	}
	if len(inputs) == 0 {
		return nil, cerrors.Validation("records", "batch must contain at least one record")
	}

	records := make([]*models.HealthRecord, 0, len(inputs))
	for i, in := range inputs {
		record := models.NewHealthRecord(
			utils.SanitizeString(in.PatientID),
			utils.SanitizeString(in.ProviderID),
			models.RecordType(in.RecordType),
			now,
		)
		record.EncryptedData = in.EncryptedData
		record.DataHash = in.DataHash
		record.Sensitive = in.Sensitive
		if in.Metadata != nil {
			record.Metadata = in.Metadata
		}
		if err := utils.ValidateHealthRecord(record); err != nil {
			return nil, cerrors.Validation("records", "record %d invalid: %v", i, err)
		}
		records = append(records, record)
	}

	for _, record := range records {
		recordID, err := utils.GenerateRecordID()
		if err != nil {
			return nil, err
		}
		record.RecordID = recordID

		recordKey, err := putRecord(stub, record)
		if err != nil {
			return nil, err
		}
		if err := writeOwner(stub, resourceOwner{
			ResourceID: recordID,
			PatientID:  record.PatientID,
			ProviderID: record.ProviderID,
			CreatedBy:  creator,
		}); err != nil {
			return nil, err
		}
		if err := writeRecordIndexes(stub, record, recordKey); err != nil {
			return nil, err
		}
	}

	if err := writeAudit(ctx, "RECORDS_BATCH_CREATED", map[string]string{
		"count": strconv.Itoa(len(records)),
	}); err != nil {
		return nil, err
	}
	if err := emitEvent(stub, "RecordsBatchCreated", map[string]interface{}{
		"count":     len(records),
		"timestamp": now.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	return records, nil
}

// putRecord writes the full record into its routed private collection and
// a redacted envelope into public world state.
func putRecord(stub shim.ChaincodeStubInterface, record *models.HealthRecord) (string, error) {
	recordKey, err := utils.CreateRecordKey(string(record.RecordType), record.PatientID, record.RecordID)
	if err != nil {
		return "", err
	}
	classification := collections.ClassifyRecord(record.RecordType, record.Sensitive)
	collection, err := collections.CollectionFor(classification)
	if err != nil {
		return "", err
	}
	if err := putPrivateJSON(stub, collection, recordKey, record); err != nil {
		return "", err
	}
	if err := putJSON(stub, recordKey, record.Redacted()); err != nil {
		return "", err
	}
	return recordKey, nil
}

// readRecord loads a record, preferring the private collections this
// organization is a member of and falling back to the public envelope.
func readRecord(stub shim.ChaincodeStubInterface, recordType, patientID, recordID string) (*models.HealthRecord, string, error) {
	recordKey, err := utils.CreateRecordKey(recordType, patientID, recordID)
	if err != nil {
		return nil, "", err
	}

	var data []byte
	for _, collection := range collections.RecordCollections() {
		if d, err := stub.GetPrivateData(collection, recordKey); err == nil && d != nil {
			data = d
			break
		}
	}
	if data == nil {
		d, err := stub.GetState(recordKey)
		if err != nil {
			return nil, "", cerrors.Wrap(cerrors.KindNotFound, err, "failed to read record %s", recordID)
		}
		if d == nil {
			return nil, "", cerrors.NotFound("record not found: %s", recordID)
		}
		data = d
	}

	var record models.HealthRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, "", cerrors.Wrap(cerrors.KindValidation, err, "failed to unmarshal record %s", recordID)
	}
	return &record, recordKey, nil
}

// writeRecordIndexes writes the patient and provider index entries, each
// holding the primary record key as its value.
func writeRecordIndexes(stub shim.ChaincodeStubInterface, record *models.HealthRecord, recordKey string) error {
	patientIdx, err := stub.CreateCompositeKey(string(utils.FamilyPatientRecords), []string{record.PatientID, record.RecordID})
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, err, "failed to create patient index")
	}
	if err := stub.PutState(patientIdx, []byte(recordKey)); err != nil {
		return cerrors.Wrap(cerrors.KindConflict, err, "failed to write patient index")
	}

	providerIdx, err := stub.CreateCompositeKey(string(utils.FamilyProviderRecords), []string{record.ProviderID, record.RecordID})
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, err, "failed to create provider index")
	}
	if err := stub.PutState(providerIdx, []byte(recordKey)); err != nil {
		return cerrors.Wrap(cerrors.KindConflict, err, "failed to write provider index")
	}
	return nil
}

func queryRecordIndex(stub shim.ChaincodeStubInterface, family utils.KeyFamily, id string, pageSize int32, bookmark string) (*models.PaginatedQueryResult, error) {
	size := clampPageSize(pageSize, defaultRecordPageSize, maxRecordPageSize)
	iter, meta, err := stub.GetStateByPartialCompositeKeyWithPagination(string(family), []string{id}, size, bookmark)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindNotFound, err, "failed to scan %s index", family)
	}
	defer iter.Close()

	records := []*models.HealthRecord{}
	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindNotFound, err, "failed to iterate %s index", family)
		}
		recordType, patientID, recordID, err := utils.ParseRecordKey(string(kv.Value))
		if err != nil {
			return nil, err
		}
		record, _, err := readRecord(stub, recordType, patientID, recordID)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return &models.PaginatedQueryResult{
		Records:      records,
		Bookmark:     meta.Bookmark,
		FetchedCount: meta.FetchedRecordsCount,
	}, nil
}

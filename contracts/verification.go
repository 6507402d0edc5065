package contracts

import (
	"encoding/json"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medledger-consortium/chaincode/health-records/collections"
	cerrors "github.com/medledger-consortium/chaincode/health-records/errors"
	"github.com/medledger-consortium/chaincode/health-records/models"
	"github.com/medledger-consortium/chaincode/health-records/utils"
)

// VerificationContract provides the request/response workflow through
// which one party asks another to attest to a record.
type VerificationContract struct {
	contractapi.Contract
}

const (
	defaultVerificationPageSize int32 = 25
	maxVerificationPageSize     int32 = 100
)

// RequestVerification opens a pending verification request against a
// record. The requester is the authenticated caller and must own the
// record or hold the verify permission on it. The evidence payload lives
// in the verification-data collection; public state carries a redacted
// envelope.
func (vc *VerificationContract) RequestVerification(
	ctx contractapi.TransactionContextInterface,
	recordID string,
	patientID string,
	recordType string,
	verifierID string,
	evidence string,
	comments string,
) (*models.VerificationRequest, error) {
	stub := ctx.GetStub()
	now, err := txTime(ctx)
	if err != nil {
		return nil, err
	}
	requesterID, err := clientID(ctx)
	if err != nil {
		return nil, err
	}

	if err := checkAccessAt(stub, recordID, requesterID, models.PermissionVerify, now); err != nil {
		return nil, err
	}

	record, _, err := readRecord(stub, recordType, patientID, recordID)
	if err != nil {
		return nil, err
	}
	if record.Status == models.StatusDeleted {
		return nil, cerrors.Conflict("cannot verify a deleted record")
	}

	request := models.NewVerificationRequest(recordID, requesterID, verifierID, now)
	request.Evidence = utils.SanitizeString(evidence)
	request.Comments = utils.SanitizeString(comments)
	if err := utils.ValidateVerificationRequest(request); err != nil {
		return nil, err
	}

	verificationID, err := utils.GenerateRecordID()
	if err != nil {
		return nil, err
	}
	request.VerificationID = verificationID

	requestKey, err := utils.CreateVerificationKey(recordID, verificationID)
	if err != nil {
		return nil, err
	}
	collection, err := collections.CollectionFor(collections.VerificationData)
	if err != nil {
		return nil, err
	}
	if err := putPrivateJSON(stub, collection, requestKey, request); err != nil {
		return nil, err
	}
	if err := putJSON(stub, requestKey, request.Redacted()); err != nil {
		return nil, err
	}

	recordIdx, err := stub.CreateCompositeKey(string(utils.FamilyRecordVerifications), []string{recordID, verificationID})
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindValidation, err, "failed to create record verification index")
	}
	if err := stub.PutState(recordIdx, []byte(requestKey)); err != nil {
		return nil, cerrors.Wrap(cerrors.KindConflict, err, "failed to write record verification index")
	}
	queueIdx, err := stub.CreateCompositeKey(string(utils.FamilyVerifierQueue), []string{verifierID, verificationID})
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindValidation, err, "failed to create verifier queue index")
	}
	if err := stub.PutState(queueIdx, []byte(requestKey)); err != nil {
		return nil, cerrors.Wrap(cerrors.KindConflict, err, "failed to write verifier queue index")
	}

	record.VerificationIDs = append(record.VerificationIDs, verificationID)
	record.Version++
	record.UpdatedAt = now
	if _, err := putRecord(stub, record); err != nil {
		return nil, err
	}

	if err := writeAudit(ctx, "VERIFICATION_REQUESTED", map[string]string{
		"verificationId": verificationID,
		"recordId":       recordID,
		"requesterId":    requesterID,
		"verifierId":     verifierID,
	}); err != nil {
		return nil, err
	}
	if err := emitEvent(stub, "VerificationRequested", map[string]interface{}{
		"verificationId": verificationID,
		"recordId":       recordID,
		"requesterId":    requesterID,
		"verifierId":     verifierID,
		"timestamp":      now.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	return request, nil
}

// ResolveVerification transitions a pending request to verified or
// rejected. Only the named verifier may resolve; a resolved request is
// terminal and a second attempt conflicts.
func (vc *VerificationContract) ResolveVerification(
	ctx contractapi.TransactionContextInterface,
	recordID string,
	verificationID string,
	outcome string,
	comments string,
) (*models.VerificationRequest, error) {
	stub := ctx.GetStub()
	now, err := txTime(ctx)
	if err != nil {
		return nil, err
	}
	resolverID, err := clientID(ctx)
	if err != nil {
		return nil, err
	}

	var status models.VerificationStatus
	switch outcome {
	case string(models.VerificationVerified):
		status = models.VerificationVerified
	case string(models.VerificationRejected):
		status = models.VerificationRejected
	default:
		return nil, cerrors.Validation("outcome", "outcome must be %q or %q", models.VerificationVerified, models.VerificationRejected)
	}

	request, requestKey, err := readVerification(stub, recordID, verificationID)
	if err != nil {
		return nil, err
	}
	if request.Status.Terminal() {
		return nil, cerrors.Conflict("verification %s already resolved as %s", verificationID, request.Status)
	}
	if resolverID != request.VerifierID {
		return nil, cerrors.Unauthorized("only verifier %s may resolve this request", request.VerifierID)
	}

	request.Status = status
	request.ResolvedAt = now
	if comments != "" {
		request.Comments = utils.SanitizeString(comments)
	}

	collection, err := collections.CollectionFor(collections.VerificationData)
	if err != nil {
		return nil, err
	}
	if err := putPrivateJSON(stub, collection, requestKey, request); err != nil {
		return nil, err
	}
	if err := putJSON(stub, requestKey, request.Redacted()); err != nil {
		return nil, err
	}

	queueIdx, err := stub.CreateCompositeKey(string(utils.FamilyVerifierQueue), []string{request.VerifierID, verificationID})
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindValidation, err, "failed to create verifier queue index")
	}
	if err := stub.DelState(queueIdx); err != nil {
		return nil, cerrors.Wrap(cerrors.KindConflict, err, "failed to remove verifier queue entry")
	}

	if err := writeAudit(ctx, "VERIFICATION_RESOLVED", map[string]string{
		"verificationId": verificationID,
		"recordId":       recordID,
		"resolverId":     resolverID,
		"outcome":        string(status),
	}); err != nil {
		return nil, err
	}
	if err := emitEvent(stub, "VerificationResolved", map[string]interface{}{
		"verificationId": verificationID,
		"recordId":       recordID,
		"outcome":        status,
		"timestamp":      now.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	return request, nil
}

// GetVerification returns a single verification request.
func (vc *VerificationContract) GetVerification(
	ctx contractapi.TransactionContextInterface,
	recordID string,
	verificationID string,
) (*models.VerificationRequest, error) {
	request, _, err := readVerification(ctx.GetStub(), recordID, verificationID)
	return request, err
}

// QueryVerificationsForRecord returns one page of a record's verification
// requests. Page size defaults to 25, capped at 100.
func (vc *VerificationContract) QueryVerificationsForRecord(
	ctx contractapi.TransactionContextInterface,
	recordID string,
	pageSize int32,
	bookmark string,
) (*models.VerificationQueryResult, error) {
	return vc.queryVerificationIndex(ctx, utils.FamilyRecordVerifications, recordID, pageSize, bookmark)
}

// QueryPendingForVerifier returns one page of the verifier's open queue.
// Resolved requests leave the queue, so every entry is pending.
func (vc *VerificationContract) QueryPendingForVerifier(
	ctx contractapi.TransactionContextInterface,
	verifierID string,
	pageSize int32,
	bookmark string,
) (*models.VerificationQueryResult, error) {
	return vc.queryVerificationIndex(ctx, utils.FamilyVerifierQueue, verifierID, pageSize, bookmark)
}

func (vc *VerificationContract) queryVerificationIndex(
	ctx contractapi.TransactionContextInterface,
	family utils.KeyFamily,
	id string,
	pageSize int32,
	bookmark string,
) (*models.VerificationQueryResult, error) {
	stub := ctx.GetStub()
	size := clampPageSize(pageSize, defaultVerificationPageSize, maxVerificationPageSize)
	iter, meta, err := stub.GetStateByPartialCompositeKeyWithPagination(string(family), []string{id}, size, bookmark)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindNotFound, err, "failed to scan %s index", family)
	}
	defer iter.Close()

	requests := []*models.VerificationRequest{}
	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindNotFound, err, "failed to iterate %s index", family)
		}
		recordID, verificationID, err := utils.ParseVerificationKey(string(kv.Value))
		if err != nil {
			return nil, err
		}
		request, _, err := readVerification(stub, recordID, verificationID)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}

	return &models.VerificationQueryResult{
		Requests:     requests,
		Bookmark:     meta.Bookmark,
		FetchedCount: meta.FetchedRecordsCount,
	}, nil
}

// readVerification loads a request, preferring the verification-data
// collection and falling back to the public envelope.
func readVerification(stub shim.ChaincodeStubInterface, recordID, verificationID string) (*models.VerificationRequest, string, error) {
	requestKey, err := utils.CreateVerificationKey(recordID, verificationID)
	if err != nil {
		return nil, "", err
	}
	collection, err := collections.CollectionFor(collections.VerificationData)
	if err != nil {
		return nil, "", err
	}

	data, err := stub.GetPrivateData(collection, requestKey)
	if err != nil || data == nil {
		data, err = stub.GetState(requestKey)
		if err != nil {
			return nil, "", cerrors.Wrap(cerrors.KindNotFound, err, "failed to read verification %s", verificationID)
		}
	}
	if data == nil {
		return nil, "", cerrors.NotFound("verification not found: %s", verificationID)
	}

	var request models.VerificationRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, "", cerrors.Wrap(cerrors.KindValidation, err, "failed to unmarshal verification %s", verificationID)
	}
	return &request, requestKey, nil
}

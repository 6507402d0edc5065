package contracts

import (
	"encoding/json"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medledger-consortium/chaincode/health-records/collections"
	cerrors "github.com/medledger-consortium/chaincode/health-records/errors"
	"github.com/medledger-consortium/chaincode/health-records/utils"
)

// txTime returns the timestamp from the transaction envelope. Contracts
// never read a wall clock: every endorser must derive the same instant
// from the same proposal.
func txTime(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, cerrors.Wrap(cerrors.KindValidation, err, "failed to read transaction timestamp")
	}
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC(), nil
}

// clientID returns the ledger-authenticated identity of the caller.
// Caller-supplied identity strings are never trusted for authorization.
func clientID(ctx contractapi.TransactionContextInterface) (string, error) {
	id, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return "", cerrors.Wrap(cerrors.KindUnauthorized, err, "failed to resolve caller identity")
	}
	return id, nil
}

func putJSON(stub shim.ChaincodeStubInterface, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, err, "failed to marshal %s", key)
	}
	if err := stub.PutState(key, data); err != nil {
		return cerrors.Wrap(cerrors.KindConflict, err, "failed to write %s", key)
	}
	return nil
}

func putPrivateJSON(stub shim.ChaincodeStubInterface, collection, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, err, "failed to marshal %s", key)
	}
	if err := stub.PutPrivateData(collection, key, data); err != nil {
		return cerrors.Wrap(cerrors.KindConflict, err, "failed to write %s to %s", key, collection)
	}
	return nil
}

// emitEvent marshals payload and sets it as the named chaincode event.
func emitEvent(stub shim.ChaincodeStubInterface, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, err, "failed to marshal %s event", name)
	}
	if err := stub.SetEvent(name, data); err != nil {
		return cerrors.Wrap(cerrors.KindConflict, err, "failed to emit %s event", name)
	}
	return nil
}

// auditEntry is one compliance-trail record, retained in the audit
// private collection.
type auditEntry struct {
	Action    string            `json:"action"`
	TxID      string            `json:"txId"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details"`
}

// writeAudit appends an audit entry keyed by action and transaction ID so
// independent endorsing executions produce identical write-sets.
func writeAudit(ctx contractapi.TransactionContextInterface, action string, details map[string]string) error {
	stub := ctx.GetStub()
	now, err := txTime(ctx)
	if err != nil {
		return err
	}
	key, err := utils.CreateAuditKey(action, stub.GetTxID())
	if err != nil {
		return err
	}
	collection, err := collections.CollectionFor(collections.AuditTrailData)
	if err != nil {
		return err
	}
	entry := auditEntry{
		Action:    action,
		TxID:      stub.GetTxID(),
		Timestamp: now,
		Details:   details,
	}
	return putPrivateJSON(stub, collection, key, entry)
}

func clampPageSize(requested, def, max int32) int32 {
	if requested <= 0 {
		return def
	}
	if requested > max {
		return max
	}
	return requested
}

// resourceOwner records which actors own a resource, written when the
// resource is created and consulted by grant authorization.
type resourceOwner struct {
	ResourceID string `json:"resourceId"`
	PatientID  string `json:"patientId"`
	ProviderID string `json:"providerId"`
	CreatedBy  string `json:"createdBy"`
}

func writeOwner(stub shim.ChaincodeStubInterface, owner resourceOwner) error {
	key, err := utils.CreateOwnerKey(owner.ResourceID)
	if err != nil {
		return err
	}
	return putJSON(stub, key, owner)
}

// isResourceOwner reports whether actor is the patient, provider, or
// creating identity of the resource.
func isResourceOwner(stub shim.ChaincodeStubInterface, resourceID, actorID string) (bool, error) {
	key, err := utils.CreateOwnerKey(resourceID)
	if err != nil {
		return false, err
	}
	data, err := stub.GetState(key)
	if err != nil {
		return false, cerrors.Wrap(cerrors.KindNotFound, err, "failed to read owner of %s", resourceID)
	}
	if data == nil {
		return false, nil
	}
	var owner resourceOwner
	if err := json.Unmarshal(data, &owner); err != nil {
		return false, cerrors.Wrap(cerrors.KindValidation, err, "failed to unmarshal owner of %s", resourceID)
	}
	return actorID == owner.PatientID || actorID == owner.ProviderID || actorID == owner.CreatedBy, nil
}

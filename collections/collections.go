// Package collections routes record classifications to private-data
// collections. The chaincode is responsible only for correct collection
// selection; membership and retention policy are enforced by the peers
// from the channel's collection configuration, which the table here
// mirrors.
package collections

import (
	"github.com/hyperledger/fabric-chaincode-go/shim"

	cerrors "github.com/medledger-consortium/chaincode/health-records/errors"
	"github.com/medledger-consortium/chaincode/health-records/models"
)

// Classification is the closed set of data sensitivity classes.
type Classification string

const (
	PersonalHealthData  Classification = "personalHealthData"
	SensitiveRecords    Classification = "sensitiveRecords"
	VerificationData    Classification = "verificationData"
	EmergencyAccessData Classification = "emergencyAccessData"
	AuditTrailData      Classification = "auditTrailData"
)

// Valid reports whether c is a known classification.
func (c Classification) Valid() bool {
	switch c {
	case PersonalHealthData, SensitiveRecords, VerificationData, EmergencyAccessData, AuditTrailData:
		return true
	}
	return false
}

// Collection names as configured on the channel.
const (
	CollectionPersonalHealthData  = "personalHealthDataCollection"
	CollectionSensitiveRecords    = "sensitiveRecordsCollection"
	CollectionVerificationData    = "verificationDataCollection"
	CollectionEmergencyAccessData = "emergencyAccessDataCollection"
	CollectionAuditTrailData      = "auditTrailDataCollection"
)

var collectionByClassification = map[Classification]string{
	PersonalHealthData:  CollectionPersonalHealthData,
	SensitiveRecords:    CollectionSensitiveRecords,
	VerificationData:    CollectionVerificationData,
	EmergencyAccessData: CollectionEmergencyAccessData,
	AuditTrailData:      CollectionAuditTrailData,
}

// CollectionFor returns the collection name for a classification. The
// mapping is closed: caller-supplied collection names are never accepted,
// so an argument cannot escalate a write into a broader collection.
func CollectionFor(c Classification) (string, error) {
	name, ok := collectionByClassification[c]
	if !ok {
		return "", cerrors.Validation("classification", "unknown classification: %s", c)
	}
	return name, nil
}

// ClassifyRecord derives a record's classification from its type and the
// explicit sensitivity flag set at creation. Deterministic in the record's
// attributes only.
func ClassifyRecord(recordType models.RecordType, sensitive bool) Classification {
	if sensitive || recordType == models.RecordTypeMedicalHistory {
		return SensitiveRecords
	}
	return PersonalHealthData
}

// Policy mirrors the per-collection knobs in the channel's collection
// configuration. Consumed by deployment tooling; the contract never
// enforces these itself.
type Policy struct {
	Name              string `json:"name"`
	RequiredPeerCount int    `json:"requiredPeerCount"`
	MaxPeerCount      int    `json:"maxPeerCount"`
	BlockToLive       uint64 `json:"blockToLive"`
	MemberOnlyRead    bool   `json:"memberOnlyRead"`
	MemberOnlyWrite   bool   `json:"memberOnlyWrite"`
}

var policyByClassification = map[Classification]Policy{
	PersonalHealthData: {
		Name:              CollectionPersonalHealthData,
		RequiredPeerCount: 1,
		MaxPeerCount:      3,
		BlockToLive:       0,
		MemberOnlyRead:    true,
		MemberOnlyWrite:   true,
	},
	SensitiveRecords: {
		Name:              CollectionSensitiveRecords,
		RequiredPeerCount: 2,
		MaxPeerCount:      3,
		BlockToLive:       0,
		MemberOnlyRead:    true,
		MemberOnlyWrite:   true,
	},
	VerificationData: {
		Name:              CollectionVerificationData,
		RequiredPeerCount: 1,
		MaxPeerCount:      5,
		BlockToLive:       0,
		MemberOnlyRead:    true,
		MemberOnlyWrite:   false,
	},
	EmergencyAccessData: {
		Name:              CollectionEmergencyAccessData,
		RequiredPeerCount: 1,
		MaxPeerCount:      5,
		BlockToLive:       100000,
		MemberOnlyRead:    false,
		MemberOnlyWrite:   true,
	},
	AuditTrailData: {
		Name:              CollectionAuditTrailData,
		RequiredPeerCount: 2,
		MaxPeerCount:      5,
		BlockToLive:       0,
		MemberOnlyRead:    true,
		MemberOnlyWrite:   true,
	},
}

// PolicyFor returns the configured policy for a classification.
func PolicyFor(c Classification) (Policy, error) {
	p, ok := policyByClassification[c]
	if !ok {
		return Policy{}, cerrors.Validation("classification", "unknown classification: %s", c)
	}
	return p, nil
}

// RecordCollections lists the collections a record may live in, in the
// order reads should try them before falling back to public state.
func RecordCollections() []string {
	return []string{CollectionSensitiveRecords, CollectionPersonalHealthData}
}

// GetWithFallback reads key from collection, falling back to public world
// state when the collection copy is absent or this organization is not a
// member. Returns nil when the key exists nowhere.
func GetWithFallback(stub shim.ChaincodeStubInterface, collection, key string) ([]byte, error) {
	data, err := stub.GetPrivateData(collection, key)
	if err == nil && data != nil {
		return data, nil
	}
	data, err = stub.GetState(key)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindNotFound, err, "failed to read %s", key)
	}
	return data, nil
}

package models

import (
	"time"
)

// RecordType enumerates the supported kinds of health record.
type RecordType string

const (
	RecordTypeMedicalHistory RecordType = "medical_history"
	RecordTypePrescription   RecordType = "prescription"
	RecordTypeLabResult      RecordType = "lab_result"
	RecordTypeImaging        RecordType = "imaging"
	RecordTypeVaccination    RecordType = "vaccination"
	RecordTypeConsultation   RecordType = "consultation"
)

// RecordTypes lists every valid record type.
var RecordTypes = []RecordType{
	RecordTypeMedicalHistory,
	RecordTypePrescription,
	RecordTypeLabResult,
	RecordTypeImaging,
	RecordTypeVaccination,
	RecordTypeConsultation,
}

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	for _, rt := range RecordTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// RecordStatus is the lifecycle state of a health record. Transitions are
// monotonic: active -> archived -> deleted, with active -> deleted allowed
// directly. Deleted is terminal.
type RecordStatus string

const (
	StatusActive   RecordStatus = "active"
	StatusArchived RecordStatus = "archived"
	StatusDeleted  RecordStatus = "deleted"
)

// Valid reports whether s is a known status.
func (s RecordStatus) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusDeleted:
		return true
	}
	return false
}

// recordTransitions is the closed transition table for record statuses.
var recordTransitions = map[RecordStatus][]RecordStatus{
	StatusActive:   {StatusArchived, StatusDeleted},
	StatusArchived: {StatusDeleted},
	StatusDeleted:  {},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s RecordStatus) CanTransitionTo(next RecordStatus) bool {
	for _, allowed := range recordTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// ObjectTypeHealthRecord discriminates health records in polymorphic
// ledger storage.
const ObjectTypeHealthRecord = "healthRecord"

// HealthRecord is the primary ledger entity. EncryptedData is ciphertext
// produced by the caller before submission; DataHash is the SHA-256 of the
// original plaintext and is never recomputed from ciphertext.
type HealthRecord struct {
	RecordID        string       `json:"recordId"`
	PatientID       string       `json:"patientId"`
	ProviderID      string       `json:"providerId"`
	RecordType      RecordType   `json:"recordType"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	Version         int          `json:"version"`
	EncryptedData   string       `json:"encryptedData"`
	DataHash        string       `json:"dataHash"`
	Sensitive       bool         `json:"sensitive"`
	Metadata        Metadata     `json:"metadata"`
	VerificationIDs []string     `json:"verificationIds"`
	AccessGrants    []string     `json:"accessGrants"`
	Status          RecordStatus `json:"status"`
	ObjectType      string       `json:"objectType"`
}

// NewHealthRecord creates a record at version 1 in the active state. The
// timestamp must come from the transaction envelope, not a local clock.
func NewHealthRecord(patientID, providerID string, recordType RecordType, now time.Time) *HealthRecord {
	return &HealthRecord{
		PatientID:       patientID,
		ProviderID:      providerID,
		RecordType:      recordType,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
		Status:          StatusActive,
		ObjectType:      ObjectTypeHealthRecord,
		Metadata:        Metadata{},
		VerificationIDs: []string{},
		AccessGrants:    []string{},
	}
}

// Redacted returns a copy safe for public world state: the ciphertext is
// stripped, everything else (including the plaintext hash) is kept so
// non-member organizations can still verify integrity claims.
func (hr *HealthRecord) Redacted() *HealthRecord {
	out := *hr
	out.EncryptedData = ""
	return &out
}

// HistoryRecord is a read-only view of one past committed value of a
// record, produced from the ledger's native history facility.
type HistoryRecord struct {
	TxID      string       `json:"txId"`
	Value     HealthRecord `json:"value"`
	Timestamp time.Time    `json:"timestamp"`
	IsDelete  bool         `json:"isDelete"`
}

// PaginatedQueryResult carries one page of a record range scan together
// with the opaque bookmark to resume from.
type PaginatedQueryResult struct {
	Records      []*HealthRecord `json:"records"`
	Bookmark     string          `json:"bookmark"`
	FetchedCount int32           `json:"fetchedCount"`
}

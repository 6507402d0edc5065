package models

import (
	"time"
)

// VerificationStatus is the lifecycle state of a verification request.
// Once a request leaves pending it is terminal.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// Valid reports whether s is a known verification status.
func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationPending, VerificationVerified, VerificationRejected:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transition.
func (s VerificationStatus) Terminal() bool {
	return s == VerificationVerified || s == VerificationRejected
}

// ObjectTypeVerificationRequest discriminates verification requests.
const ObjectTypeVerificationRequest = "verificationRequest"

// VerificationRequest asks a named verifier to attest to a record. Only
// that verifier may resolve it, and only out of the pending state.
type VerificationRequest struct {
	VerificationID string             `json:"verificationId"`
	RecordID       string             `json:"recordId"`
	RequesterID    string             `json:"requesterId"`
	VerifierID     string             `json:"verifierId"`
	RequestedAt    time.Time          `json:"requestedAt"`
	ResolvedAt     time.Time          `json:"resolvedAt,omitempty"`
	Status         VerificationStatus `json:"status"`
	Evidence       string             `json:"evidence,omitempty"`
	Comments       string             `json:"comments,omitempty"`
	ObjectType     string             `json:"objectType"`
}

// NewVerificationRequest creates a pending request. The timestamp must
// come from the transaction envelope.
func NewVerificationRequest(recordID, requesterID, verifierID string, now time.Time) *VerificationRequest {
	return &VerificationRequest{
		RecordID:    recordID,
		RequesterID: requesterID,
		VerifierID:  verifierID,
		RequestedAt: now,
		Status:      VerificationPending,
		ObjectType:  ObjectTypeVerificationRequest,
	}
}

// Redacted strips the evidence payload for storage in public world state.
func (vr *VerificationRequest) Redacted() *VerificationRequest {
	out := *vr
	out.Evidence = ""
	return &out
}

// VerificationQueryResult carries one page of a verification range scan.
type VerificationQueryResult struct {
	Requests     []*VerificationRequest `json:"requests"`
	Bookmark     string                 `json:"bookmark"`
	FetchedCount int32                  `json:"fetchedCount"`
}

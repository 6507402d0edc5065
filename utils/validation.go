package utils

import (
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	cerrors "github.com/medledger-consortium/chaincode/health-records/errors"
	"github.com/medledger-consortium/chaincode/health-records/models"
)

// MaxDataSize bounds the base64 ciphertext stored on a record.
const MaxDataSize = 10 * 1024 * 1024

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	uuidRegex  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// ValidateHealthRecord checks a record's structural and semantic
// constraints. Pure; called before any ledger mutation.
func ValidateHealthRecord(record *models.HealthRecord) error {
	if record.PatientID == "" {
		return cerrors.Validation("patientId", "patient ID is required")
	}
	if record.ProviderID == "" {
		return cerrors.Validation("providerId", "provider ID is required")
	}
	if record.RecordType == "" {
		return cerrors.Validation("recordType", "record type is required")
	}
	if !record.RecordType.Valid() {
		return cerrors.Validation("recordType", "invalid record type: %s", record.RecordType)
	}
	if record.DataHash == "" {
		return cerrors.Validation("dataHash", "data hash is required")
	}
	if !isHexHash(record.DataHash) {
		return cerrors.Validation("dataHash", "data hash must be 64 hex characters")
	}
	if len(record.EncryptedData) > MaxDataSize {
		return cerrors.SizeLimit("encrypted data exceeds maximum size of %d bytes", MaxDataSize)
	}
	if record.EncryptedData != "" {
		if _, err := base64.StdEncoding.DecodeString(record.EncryptedData); err != nil {
			return cerrors.Validation("encryptedData", "encrypted data must be valid base64")
		}
	}
	if record.Status != "" && !record.Status.Valid() {
		return cerrors.Validation("status", "invalid status: %s", record.Status)
	}
	return nil
}

// ValidateAccessGrant checks a grant's structural constraints.
func ValidateAccessGrant(grant *models.AccessGrant) error {
	if grant.ResourceID == "" {
		return cerrors.Validation("resourceId", "resource ID is required")
	}
	if grant.GrantorID == "" {
		return cerrors.Validation("grantorId", "grantor ID is required")
	}
	if grant.GranteeID == "" {
		return cerrors.Validation("granteeId", "grantee ID is required")
	}
	if len(grant.Permissions) == 0 {
		return cerrors.Validation("permissions", "at least one permission is required")
	}
	for _, perm := range grant.Permissions {
		if !perm.Valid() {
			return cerrors.Validation("permissions", "invalid permission: %s", perm)
		}
	}
	if !grant.ExpiresAt.After(grant.GrantedAt) {
		return cerrors.Validation("expiresAt", "expiration time must be after granted time")
	}
	return nil
}

// ValidateVerificationRequest checks a verification request's structural
// constraints.
func ValidateVerificationRequest(request *models.VerificationRequest) error {
	if request.RecordID == "" {
		return cerrors.Validation("recordId", "record ID is required")
	}
	if request.RequesterID == "" {
		return cerrors.Validation("requesterId", "requester ID is required")
	}
	if request.VerifierID == "" {
		return cerrors.Validation("verifierId", "verifier ID is required")
	}
	return nil
}

// ValidateEmail reports whether email has a plausible address shape.
func ValidateEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// ValidateUUID reports whether uuid is RFC 4122 formatted.
func ValidateUUID(uuid string) bool {
	return uuidRegex.MatchString(uuid)
}

// SanitizeString trims surrounding whitespace and strips control
// characters from free-text input before storage.
func SanitizeString(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(cleaned)
}

func isHexHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

package utils

import (
	"strings"

	cerrors "github.com/medledger-consortium/chaincode/health-records/errors"
)

// KeyDelimiter separates the segments of a primary ledger key. No key
// component may contain it, or round-trip parsing breaks; every
// constructor rejects offending components before building a key.
const KeyDelimiter = "~"

// KeyFamily is the closed set of key namespaces. Primary families prefix
// `~`-delimited keys; index families are the object types passed to the
// stub's composite-key builder for range scans.
type KeyFamily string

const (
	FamilyRecord       KeyFamily = "RECORD"
	FamilyVerification KeyFamily = "VERIFY"
	FamilyAccess       KeyFamily = "ACCESS"
	FamilyPolicy       KeyFamily = "POLICY"
	FamilyOwner        KeyFamily = "OWNER"
	FamilyAudit        KeyFamily = "AUDIT"

	FamilyPatientRecords      KeyFamily = "PATIENT~RECORDS"
	FamilyProviderRecords     KeyFamily = "PROVIDER~RECORDS"
	FamilyRecordVerifications KeyFamily = "RECORD~VERIFICATIONS"
	FamilyUserGrants          KeyFamily = "USER~GRANTS"
	FamilyVerifierQueue       KeyFamily = "VERIFIER~QUEUE"
)

// ValidateKeyComponents rejects empty components and components containing
// the key delimiter.
func ValidateKeyComponents(components ...string) error {
	for _, c := range components {
		if c == "" {
			return cerrors.Validation("key", "key component must not be empty")
		}
		if strings.Contains(c, KeyDelimiter) {
			return cerrors.Validation("key", "key component %q must not contain %q", c, KeyDelimiter)
		}
	}
	return nil
}

func buildKey(family KeyFamily, components ...string) (string, error) {
	if err := ValidateKeyComponents(components...); err != nil {
		return "", err
	}
	return string(family) + KeyDelimiter + strings.Join(components, KeyDelimiter), nil
}

func parseKey(family KeyFamily, key string, arity int) ([]string, error) {
	parts := strings.Split(key, KeyDelimiter)
	if len(parts) != arity+1 || parts[0] != string(family) {
		return nil, cerrors.Validation("key", "invalid %s key format: %s", family, key)
	}
	return parts[1:], nil
}

// CreateRecordKey builds the primary key for a health record.
func CreateRecordKey(recordType, patientID, recordID string) (string, error) {
	return buildKey(FamilyRecord, recordType, patientID, recordID)
}

// ParseRecordKey recovers the components of a record key.
func ParseRecordKey(key string) (recordType, patientID, recordID string, err error) {
	parts, err := parseKey(FamilyRecord, key, 3)
	if err != nil {
		return "", "", "", err
	}
	return parts[0], parts[1], parts[2], nil
}

// CreateVerificationKey builds the primary key for a verification request.
func CreateVerificationKey(recordID, verificationID string) (string, error) {
	return buildKey(FamilyVerification, recordID, verificationID)
}

// ParseVerificationKey recovers the components of a verification key.
func ParseVerificationKey(key string) (recordID, verificationID string, err error) {
	parts, err := parseKey(FamilyVerification, key, 2)
	if err != nil {
		return "", "", err
	}
	return parts[0], parts[1], nil
}

// CreateAccessKey builds the primary key for an access grant.
func CreateAccessKey(resourceID, granteeID, grantID string) (string, error) {
	return buildKey(FamilyAccess, resourceID, granteeID, grantID)
}

// ParseAccessKey recovers the components of an access key.
func ParseAccessKey(key string) (resourceID, granteeID, grantID string, err error) {
	parts, err := parseKey(FamilyAccess, key, 3)
	if err != nil {
		return "", "", "", err
	}
	return parts[0], parts[1], parts[2], nil
}

// CreatePolicyKey builds the primary key for an access policy.
func CreatePolicyKey(resourceType, policyID string) (string, error) {
	return buildKey(FamilyPolicy, resourceType, policyID)
}

// ParsePolicyKey recovers the components of a policy key.
func ParsePolicyKey(key string) (resourceType, policyID string, err error) {
	parts, err := parseKey(FamilyPolicy, key, 2)
	if err != nil {
		return "", "", err
	}
	return parts[0], parts[1], nil
}

// CreateOwnerKey builds the key recording a resource's owners.
func CreateOwnerKey(resourceID string) (string, error) {
	return buildKey(FamilyOwner, resourceID)
}

// CreateAuditKey builds the key for one audit-trail entry. Keyed by the
// transaction ID so independent endorsers agree on the write-set.
func CreateAuditKey(action, txID string) (string, error) {
	return buildKey(FamilyAudit, action, txID)
}

// AccessKeyPrefix is the lexicographic scan prefix for all grants on a
// resource held by a grantee.
func AccessKeyPrefix(resourceID, granteeID string) (string, error) {
	if err := ValidateKeyComponents(resourceID, granteeID); err != nil {
		return "", err
	}
	return string(FamilyAccess) + KeyDelimiter + resourceID + KeyDelimiter + granteeID + KeyDelimiter, nil
}

package models

import (
	"time"
)

// Permission enumerates the actions a grant can confer. The ":own"
// variants are scoped to resources the grantee owns.
type Permission string

const (
	PermissionRead      Permission = "read"
	PermissionWrite     Permission = "write"
	PermissionDelete    Permission = "delete"
	PermissionGrant     Permission = "grant"
	PermissionRevoke    Permission = "revoke"
	PermissionVerify    Permission = "verify"
	PermissionReadOwn   Permission = "read:own"
	PermissionWriteOwn  Permission = "write:own"
	PermissionGrantOwn  Permission = "grant:own"
	PermissionRevokeOwn Permission = "revoke:own"
)

// Permissions lists every valid permission.
var Permissions = []Permission{
	PermissionRead,
	PermissionWrite,
	PermissionDelete,
	PermissionGrant,
	PermissionRevoke,
	PermissionVerify,
	PermissionReadOwn,
	PermissionWriteOwn,
	PermissionGrantOwn,
	PermissionRevokeOwn,
}

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	for _, known := range Permissions {
		if p == known {
			return true
		}
	}
	return false
}

// ObjectTypeAccessGrant discriminates access grants in ledger storage.
const ObjectTypeAccessGrant = "accessGrant"

// DefaultGrantDuration applies when the grantor does not specify an
// expiration.
const DefaultGrantDuration = 30 * 24 * time.Hour

// AccessGrant confers permissions on a resource from a grantor to a
// grantee. Expiry is lazy: no sweeper marks grants expired, every
// authorization check compares ExpiresAt against an explicit instant.
type AccessGrant struct {
	GrantID     string       `json:"grantId"`
	ResourceID  string       `json:"resourceId"`
	GrantorID   string       `json:"grantorId"`
	GranteeID   string       `json:"granteeId"`
	Permissions []Permission `json:"permissions"`
	GrantedAt   time.Time    `json:"grantedAt"`
	ExpiresAt   time.Time    `json:"expiresAt"`
	ObjectType  string       `json:"objectType"`
}

// NewAccessGrant creates a grant effective at now with the default
// duration. Callers adjust ExpiresAt before validation when the grantor
// requested a specific window.
func NewAccessGrant(resourceID, grantorID, granteeID string, permissions []Permission, now time.Time) *AccessGrant {
	return &AccessGrant{
		ResourceID:  resourceID,
		GrantorID:   grantorID,
		GranteeID:   granteeID,
		Permissions: permissions,
		GrantedAt:   now,
		ExpiresAt:   now.Add(DefaultGrantDuration),
		ObjectType:  ObjectTypeAccessGrant,
	}
}

// ActiveAt reports whether the grant is authoritative at the given
// instant. A grant expires the moment now reaches ExpiresAt.
func (ag *AccessGrant) ActiveAt(now time.Time) bool {
	return now.Before(ag.ExpiresAt)
}

// HasPermission reports whether the grant confers p.
func (ag *AccessGrant) HasPermission(p Permission) bool {
	for _, held := range ag.Permissions {
		if held == p {
			return true
		}
	}
	return false
}

// GrantQueryResult carries one page of an access-grant range scan.
type GrantQueryResult struct {
	Grants       []*AccessGrant `json:"grants"`
	Bookmark     string         `json:"bookmark"`
	FetchedCount int32          `json:"fetchedCount"`
}

// ObjectTypeAccessPolicy discriminates access policies in ledger storage.
const ObjectTypeAccessPolicy = "accessPolicy"

// AccessPolicy is a named bundle of role-based rules seeded at chaincode
// instantiation and consulted by off-ledger administrative tooling.
type AccessPolicy struct {
	PolicyID     string       `json:"policyId"`
	PolicyName   string       `json:"policyName"`
	ResourceType string       `json:"resourceType"`
	Rules        []AccessRule `json:"rules"`
	CreatedBy    string       `json:"createdBy"`
	CreatedAt    time.Time    `json:"createdAt"`
	Active       bool         `json:"active"`
	ObjectType   string       `json:"objectType"`
}

// AccessRule maps a role to the actions it may take.
type AccessRule struct {
	RuleID  string       `json:"ruleId"`
	Role    string       `json:"role"`
	Actions []Permission `json:"actions"`
}

// Role constants used by access policies.
const (
	RolePatient   = "PATIENT"
	RoleProvider  = "PROVIDER"
	RoleVerifier  = "VERIFIER"
	RoleEmergency = "EMERGENCY"
)

// EmergencyAccess is a bounded-duration break-glass grant stored in the
// emergency-access private collection.
type EmergencyAccess struct {
	ResourceID string    `json:"resourceId"`
	GranteeID  string    `json:"granteeId"`
	GrantedBy  string    `json:"grantedBy"`
	Reason     string    `json:"reason"`
	GrantedAt  time.Time `json:"grantedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	ObjectType string    `json:"objectType"`
}

// ObjectTypeEmergencyAccess discriminates emergency grants.
const ObjectTypeEmergencyAccess = "emergencyAccess"

// ActiveAt reports whether the emergency grant is live at now.
func (ea *EmergencyAccess) ActiveAt(now time.Time) bool {
	return now.Before(ea.ExpiresAt)
}

package contracts

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medledger-consortium/chaincode/health-records/collections"
	cerrors "github.com/medledger-consortium/chaincode/health-records/errors"
	"github.com/medledger-consortium/chaincode/health-records/models"
	"github.com/medledger-consortium/chaincode/health-records/utils"
)

// AccessControlContract provides functions for managing access grants.
type AccessControlContract struct {
	contractapi.Contract
}

const (
	defaultGrantPageSize int32 = 100
	maxGrantPageSize     int32 = 500

	defaultEmergencyDuration = time.Hour
	maxEmergencyDuration     = 24 * time.Hour
)

// InitLedger seeds the default access policies consulted by consortium
// administrative tooling.
func (acc *AccessControlContract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	now, err := txTime(ctx)
	if err != nil {
		return err
	}

	policies := []models.AccessPolicy{
		{
			PolicyID:     "DEFAULT_PATIENT_POLICY",
			PolicyName:   "Default Patient Access Policy",
			ResourceType: "health_record",
			Rules: []models.AccessRule{
				{
					RuleID:  "RULE001",
					Role:    models.RolePatient,
					Actions: []models.Permission{models.PermissionReadOwn, models.PermissionGrantOwn},
				},
				{
					RuleID:  "RULE002",
					Role:    models.RoleProvider,
					Actions: []models.Permission{models.PermissionRead, models.PermissionWrite},
				},
			},
			CreatedBy:  "SYSTEM",
			CreatedAt:  now,
			Active:     true,
			ObjectType: models.ObjectTypeAccessPolicy,
		},
		{
			PolicyID:     "EMERGENCY_ACCESS_POLICY",
			PolicyName:   "Emergency Access Policy",
			ResourceType: "health_record",
			Rules: []models.AccessRule{
				{
					RuleID:  "EMRG001",
					Role:    models.RoleEmergency,
					Actions: []models.Permission{models.PermissionRead},
				},
			},
			CreatedBy:  "SYSTEM",
			CreatedAt:  now,
			Active:     true,
			ObjectType: models.ObjectTypeAccessPolicy,
		},
	}

	for _, policy := range policies {
		policyKey, err := utils.CreatePolicyKey(policy.ResourceType, policy.PolicyID)
		if err != nil {
			return err
		}
		if err := putJSON(ctx.GetStub(), policyKey, policy); err != nil {
			return err
		}
	}
	return nil
}

// GrantAccess issues a grant on a resource. The grantor is the
// authenticated caller and must own the resource or hold the grant
// permission on it; the check runs before anything is written.
func (acc *AccessControlContract) GrantAccess(
	ctx contractapi.TransactionContextInterface,
	resourceID string,
	granteeID string,
	permissions string,
	expirationHours int,
) (*models.AccessGrant, error) {
	stub := ctx.GetStub()
	now, err := txTime(ctx)
	if err != nil {
		return nil, err
	}
	grantorID, err := clientID(ctx)
	if err != nil {
		return nil, err
	}

	var permissionList []models.Permission
	if err := json.Unmarshal([]byte(permissions), &permissionList); err != nil {
		return nil, cerrors.Validation("permissions", "failed to parse permissions: %v", err)
	}

	if err := requireGrantAuthority(stub, resourceID, grantorID, models.PermissionGrant, now); err != nil {
		return nil, err
	}

	grant := models.NewAccessGrant(resourceID, grantorID, granteeID, permissionList, now)
	if expirationHours > 0 {
		grant.ExpiresAt = now.Add(time.Duration(expirationHours) * time.Hour)
	}
	if err := utils.ValidateAccessGrant(grant); err != nil {
		return nil, err
	}

	grantID, err := utils.GenerateRecordID()
	if err != nil {
		return nil, err
	}
	grant.GrantID = grantID

	grantKey, err := utils.CreateAccessKey(resourceID, granteeID, grantID)
	if err != nil {
		return nil, err
	}
	if err := putJSON(stub, grantKey, grant); err != nil {
		return nil, err
	}

	userIdx, err := stub.CreateCompositeKey(string(utils.FamilyUserGrants), []string{granteeID, grantID})
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindValidation, err, "failed to create user grant index")
	}
	if err := stub.PutState(userIdx, []byte(grantKey)); err != nil {
		return nil, cerrors.Wrap(cerrors.KindConflict, err, "failed to write user grant index")
	}

	if err := writeAudit(ctx, "GRANT_CREATED", map[string]string{
		"grantId":    grantID,
		"resourceId": resourceID,
		"grantorId":  grantorID,
		"granteeId":  granteeID,
	}); err != nil {
		return nil, err
	}
	if err := emitEvent(stub, "AccessGranted", map[string]interface{}{
		"grantId":     grantID,
		"resourceId":  resourceID,
		"grantorId":   grantorID,
		"granteeId":   granteeID,
		"permissions": permissionList,
		"expiresAt":   grant.ExpiresAt.Format(time.RFC3339),
		"timestamp":   now.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	return grant, nil
}

// RevokeAccess deletes a grant. Only the original grantor, a resource
// owner, or a holder of the revoke permission may do so. A revoked grant
// is invalid by absence: authorization checks simply no longer find it.
func (acc *AccessControlContract) RevokeAccess(
	ctx contractapi.TransactionContextInterface,
	resourceID string,
	granteeID string,
	grantID string,
) error {
	stub := ctx.GetStub()
	now, err := txTime(ctx)
	if err != nil {
		return err
	}
	revokerID, err := clientID(ctx)
	if err != nil {
		return err
	}

	grantKey, err := utils.CreateAccessKey(resourceID, granteeID, grantID)
	if err != nil {
		return err
	}
	data, err := stub.GetState(grantKey)
	if err != nil {
		return cerrors.Wrap(cerrors.KindNotFound, err, "failed to read grant %s", grantID)
	}
	if data == nil {
		return cerrors.NotFound("grant not found: %s", grantID)
	}
	var grant models.AccessGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return cerrors.Wrap(cerrors.KindValidation, err, "failed to unmarshal grant %s", grantID)
	}

	if revokerID != grant.GrantorID {
		if err := requireGrantAuthority(stub, resourceID, revokerID, models.PermissionRevoke, now); err != nil {
			return err
		}
	}

	if err := stub.DelState(grantKey); err != nil {
		return cerrors.Wrap(cerrors.KindConflict, err, "failed to delete grant %s", grantID)
	}
	userIdx, err := stub.CreateCompositeKey(string(utils.FamilyUserGrants), []string{granteeID, grantID})
	if err != nil {
		return cerrors.Wrap(cerrors.KindValidation, err, "failed to create user grant index")
	}
	if err := stub.DelState(userIdx); err != nil {
		return cerrors.Wrap(cerrors.KindConflict, err, "failed to delete user grant index")
	}

	if err := writeAudit(ctx, "GRANT_REVOKED", map[string]string{
		"grantId":    grantID,
		"resourceId": resourceID,
		"revokerId":  revokerID,
		"granteeId":  granteeID,
	}); err != nil {
		return err
	}
	return emitEvent(stub, "AccessRevoked", map[string]interface{}{
		"grantId":    grantID,
		"resourceId": resourceID,
		"granteeId":  granteeID,
		"revokerId":  revokerID,
		"timestamp":  now.Format(time.RFC3339),
	})
}

// CheckAccess verifies that the grantee holds the permission on the
// resource at the transaction's timestamp. Returns nil when authorized;
// an expired grant is never honored regardless of permission match.
func (acc *AccessControlContract) CheckAccess(
	ctx contractapi.TransactionContextInterface,
	resourceID string,
	granteeID string,
	permission string,
) error {
	now, err := txTime(ctx)
	if err != nil {
		return err
	}
	perm := models.Permission(permission)
	if !perm.Valid() {
		return cerrors.Validation("permission", "invalid permission: %s", permission)
	}

	checkErr := checkAccessAt(ctx.GetStub(), resourceID, granteeID, perm, now)

	outcome := "ACCESS_ALLOWED"
	if checkErr != nil {
		outcome = "ACCESS_DENIED"
	}
	if err := writeAudit(ctx, outcome, map[string]string{
		"resourceId": resourceID,
		"granteeId":  granteeID,
		"permission": permission,
	}); err != nil {
		return err
	}
	return checkErr
}

// QueryGrantsForUser returns one page of the user's unexpired grants.
// Page size defaults to 100, capped at 500.
func (acc *AccessControlContract) QueryGrantsForUser(
	ctx contractapi.TransactionContextInterface,
	userID string,
	pageSize int32,
	bookmark string,
) (*models.GrantQueryResult, error) {
	stub := ctx.GetStub()
	now, err := txTime(ctx)
	if err != nil {
		return nil, err
	}

	size := clampPageSize(pageSize, defaultGrantPageSize, maxGrantPageSize)
	iter, meta, err := stub.GetStateByPartialCompositeKeyWithPagination(string(utils.FamilyUserGrants), []string{userID}, size, bookmark)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindNotFound, err, "failed to scan user grants")
	}
	defer iter.Close()

	grants := []*models.AccessGrant{}
	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindNotFound, err, "failed to iterate user grants")
		}
		data, err := stub.GetState(string(kv.Value))
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindNotFound, err, "failed to read grant %s", kv.Value)
		}
		if data == nil {
			// Grant revoked; the index entry is deleted in the same
			// transaction, so this only happens mid-scan.
			continue
		}
		var grant models.AccessGrant
		if err := json.Unmarshal(data, &grant); err != nil {
			return nil, cerrors.Wrap(cerrors.KindValidation, err, "failed to unmarshal grant")
		}
		if grant.ActiveAt(now) {
			grants = append(grants, &grant)
		}
	}

	return &models.GrantQueryResult{
		Grants:       grants,
		Bookmark:     meta.Bookmark,
		FetchedCount: meta.FetchedRecordsCount,
	}, nil
}

// GrantEmergencyAccess issues a bounded break-glass read grant, stored in
// the emergency-access collection. Duration defaults to one hour and is
// capped at twenty-four.
func (acc *AccessControlContract) GrantEmergencyAccess(
	ctx contractapi.TransactionContextInterface,
	resourceID string,
	granteeID string,
	reason string,
	durationHours int,
) (*models.EmergencyAccess, error) {
	stub := ctx.GetStub()
	now, err := txTime(ctx)
	if err != nil {
		return nil, err
	}
	grantedBy, err := clientID(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireGrantAuthority(stub, resourceID, grantedBy, models.PermissionGrant, now); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, cerrors.Validation("reason", "emergency access requires a reason")
	}

	duration := defaultEmergencyDuration
	if durationHours > 0 {
		duration = time.Duration(durationHours) * time.Hour
		if duration > maxEmergencyDuration {
			duration = maxEmergencyDuration
		}
	}

	ea := &models.EmergencyAccess{
		ResourceID: resourceID,
		GranteeID:  granteeID,
		GrantedBy:  grantedBy,
		Reason:     utils.SanitizeString(reason),
		GrantedAt:  now,
		ExpiresAt:  now.Add(duration),
		ObjectType: models.ObjectTypeEmergencyAccess,
	}

	key, err := emergencyAccessKey(resourceID, granteeID)
	if err != nil {
		return nil, err
	}
	collection, err := collections.CollectionFor(collections.EmergencyAccessData)
	if err != nil {
		return nil, err
	}
	if err := putPrivateJSON(stub, collection, key, ea); err != nil {
		return nil, err
	}

	if err := writeAudit(ctx, "EMERGENCY_ACCESS_GRANTED", map[string]string{
		"resourceId": resourceID,
		"granteeId":  granteeID,
		"grantedBy":  grantedBy,
		"reason":     ea.Reason,
	}); err != nil {
		return nil, err
	}
	if err := emitEvent(stub, "EmergencyAccessGranted", map[string]interface{}{
		"resourceId": resourceID,
		"granteeId":  granteeID,
		"expiresAt":  ea.ExpiresAt.Format(time.RFC3339),
		"timestamp":  now.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}
	return ea, nil
}

// checkAccessAt is the sole authorization primitive used by every read
// and write path. Pure in the ledger state and the explicit instant:
// resource owners pass outright, otherwise an unexpired grant must confer
// the permission, otherwise a live emergency grant covers reads.
func checkAccessAt(stub shim.ChaincodeStubInterface, resourceID, granteeID string, required models.Permission, now time.Time) error {
	owner, err := isResourceOwner(stub, resourceID, granteeID)
	if err != nil {
		return err
	}
	if owner {
		return nil
	}

	prefix, err := utils.AccessKeyPrefix(resourceID, granteeID)
	if err != nil {
		return err
	}
	iter, err := stub.GetStateByRange(prefix, prefix+string(utf8.MaxRune))
	if err != nil {
		return cerrors.Wrap(cerrors.KindNotFound, err, "failed to scan grants for %s", resourceID)
	}
	defer iter.Close()

	found := false
	for iter.HasNext() {
		kv, err := iter.Next()
		if err != nil {
			return cerrors.Wrap(cerrors.KindNotFound, err, "failed to iterate grants")
		}
		var grant models.AccessGrant
		if err := json.Unmarshal(kv.Value, &grant); err != nil {
			return cerrors.Wrap(cerrors.KindValidation, err, "failed to unmarshal grant %s", kv.Key)
		}
		if !grant.ActiveAt(now) {
			continue
		}
		found = true
		if grant.HasPermission(required) {
			return nil
		}
	}

	if required == models.PermissionRead {
		if ok, err := emergencyAccessActive(stub, resourceID, granteeID, now); err == nil && ok {
			return nil
		}
	}

	if found {
		return cerrors.Unauthorized("grantee %s lacks permission %s on %s", granteeID, required, resourceID)
	}
	return cerrors.Unauthorized("no active grant for %s on %s", granteeID, resourceID)
}

// requireGrantAuthority allows resource owners and holders of the given
// administrative permission.
func requireGrantAuthority(stub shim.ChaincodeStubInterface, resourceID, actorID string, required models.Permission, now time.Time) error {
	return checkAccessAt(stub, resourceID, actorID, required, now)
}

func emergencyAccessKey(resourceID, granteeID string) (string, error) {
	return utils.CreateAccessKey(resourceID, granteeID, "emergency")
}

func emergencyAccessActive(stub shim.ChaincodeStubInterface, resourceID, granteeID string, now time.Time) (bool, error) {
	key, err := emergencyAccessKey(resourceID, granteeID)
	if err != nil {
		return false, err
	}
	collection, err := collections.CollectionFor(collections.EmergencyAccessData)
	if err != nil {
		return false, err
	}
	data, err := stub.GetPrivateData(collection, key)
	if err != nil || data == nil {
		return false, nil
	}
	var ea models.EmergencyAccess
	if err := json.Unmarshal(data, &ea); err != nil {
		return false, cerrors.Wrap(cerrors.KindValidation, err, "failed to unmarshal emergency access")
	}
	return ea.ActiveAt(now), nil
}

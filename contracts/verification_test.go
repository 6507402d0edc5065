package contracts_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger-consortium/chaincode/health-records/collections"
	"github.com/medledger-consortium/chaincode/health-records/contracts"
	cerrors "github.com/medledger-consortium/chaincode/health-records/errors"
	"github.com/medledger-consortium/chaincode/health-records/mocks"
	"github.com/medledger-consortium/chaincode/health-records/models"
	"github.com/medledger-consortium/chaincode/health-records/utils"
)

func TestVerificationLifecycle(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	record := createLabResult(t, ctx)
	vc := new(contracts.VerificationContract)
	hrc := new(contracts.HealthRecordContract)

	ctx.Stub.SetTx("tx2", baseTime.Add(time.Hour))
	request, err := vc.RequestVerification(ctx, record.RecordID, "patient1", "lab_result",
		"verifier1", "signed attestation form", "please confirm the panel")
	require.NoError(t, err)

	assert.Len(t, request.VerificationID, 32)
	assert.Equal(t, models.VerificationPending, request.Status)
	assert.Equal(t, "provider1", request.RequesterID)
	assert.Equal(t, baseTime.Add(time.Hour), request.RequestedAt)
	assert.True(t, request.ResolvedAt.IsZero())
	assert.NotNil(t, ctx.Stub.Event("VerificationRequested"))

	// The request is tracked on the record, bumping its version.
	got, err := hrc.ReadRecord(ctx, record.RecordID, "patient1", "lab_result")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Contains(t, got.VerificationIDs, request.VerificationID)

	// Evidence stays in the verification collection; the public envelope
	// is redacted.
	requestKey, err := utils.CreateVerificationKey(record.RecordID, request.VerificationID)
	require.NoError(t, err)
	public, err := ctx.Stub.GetState(requestKey)
	require.NoError(t, err)
	var envelope models.VerificationRequest
	require.NoError(t, json.Unmarshal(public, &envelope))
	assert.Empty(t, envelope.Evidence)

	private, err := ctx.Stub.GetPrivateData(collections.CollectionVerificationData, requestKey)
	require.NoError(t, err)
	var full models.VerificationRequest
	require.NoError(t, json.Unmarshal(private, &full))
	assert.Equal(t, "signed attestation form", full.Evidence)

	// The request sits in the verifier's queue until resolved.
	queue, err := vc.QueryPendingForVerifier(ctx, "verifier1", 10, "")
	require.NoError(t, err)
	require.Len(t, queue.Requests, 1)
	assert.Equal(t, request.VerificationID, queue.Requests[0].VerificationID)

	// Only the named verifier may resolve.
	ctx.Stub.SetTx("tx3", baseTime.Add(2*time.Hour))
	_, err = vc.ResolveVerification(ctx.As("intruder"), record.RecordID, request.VerificationID, "verified", "")
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindUnauthorized))

	ctx.As("verifier1")
	_, err = vc.ResolveVerification(ctx, record.RecordID, request.VerificationID, "maybe", "")
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))

	resolved, err := vc.ResolveVerification(ctx, record.RecordID, request.VerificationID, "verified", "matches source system")
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, resolved.Status)
	assert.Equal(t, baseTime.Add(2*time.Hour), resolved.ResolvedAt)
	assert.Equal(t, "matches source system", resolved.Comments)
	assert.NotNil(t, ctx.Stub.Event("VerificationResolved"))

	// Resolution is terminal.
	_, err = vc.ResolveVerification(ctx, record.RecordID, request.VerificationID, "rejected", "")
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindConflict))

	// The queue is drained.
	queue, err = vc.QueryPendingForVerifier(ctx, "verifier1", 10, "")
	require.NoError(t, err)
	assert.Empty(t, queue.Requests)

	final, err := vc.GetVerification(ctx, record.RecordID, request.VerificationID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, final.Status)
}

func TestRequestVerificationRequiresPermission(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	record := createLabResult(t, ctx)
	vc := new(contracts.VerificationContract)
	acc := new(contracts.AccessControlContract)

	_, err := vc.RequestVerification(ctx.As("auditor1"), record.RecordID, "patient1", "lab_result",
		"verifier1", "", "")
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindUnauthorized))

	// A verify grant opens the operation to non-owners.
	ctx.As("provider1")
	ctx.Stub.SetTx("tx2", baseTime)
	_, err = acc.GrantAccess(ctx, record.RecordID, "auditor1", `["verify"]`, 24)
	require.NoError(t, err)

	ctx.Stub.SetTx("tx3", baseTime.Add(time.Hour))
	request, err := vc.RequestVerification(ctx.As("auditor1"), record.RecordID, "patient1", "lab_result",
		"verifier1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "auditor1", request.RequesterID)
}

func TestRequestVerificationOnDeletedRecord(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	record := createLabResult(t, ctx)
	vc := new(contracts.VerificationContract)
	hrc := new(contracts.HealthRecordContract)

	ctx.Stub.SetTx("tx2", baseTime.Add(time.Hour))
	_, err := hrc.DeleteRecord(ctx, record.RecordID, "patient1", "lab_result", "withdrawn")
	require.NoError(t, err)

	_, err = vc.RequestVerification(ctx, record.RecordID, "patient1", "lab_result",
		"verifier1", "", "")
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindConflict))
}

func TestQueryVerificationsForRecord(t *testing.T) {
	ctx := mocks.NewContext("provider1", "tx1", baseTime)
	record := createLabResult(t, ctx)
	vc := new(contracts.VerificationContract)

	ctx.Stub.SetTx("tx2", baseTime)
	first, err := vc.RequestVerification(ctx, record.RecordID, "patient1", "lab_result",
		"verifier1", "", "")
	require.NoError(t, err)
	ctx.Stub.SetTx("tx3", baseTime)
	second, err := vc.RequestVerification(ctx, record.RecordID, "patient1", "lab_result",
		"verifier2", "", "")
	require.NoError(t, err)

	page, err := vc.QueryVerificationsForRecord(ctx, record.RecordID, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Requests, 2)

	ids := []string{page.Requests[0].VerificationID, page.Requests[1].VerificationID}
	assert.ElementsMatch(t, ids, []string{first.VerificationID, second.VerificationID})
	assert.Empty(t, page.Bookmark)

	other, err := vc.QueryVerificationsForRecord(ctx, "unknown-record", 10, "")
	require.NoError(t, err)
	assert.Empty(t, other.Requests)
}

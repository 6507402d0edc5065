package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesField(t *testing.T) {
	err := Validation("dataHash", "data hash must be %d hex characters", 64)
	assert.Equal(t, "validation: dataHash: data hash must be 64 hex characters", err.Error())

	err = Conflict("record already deleted")
	assert.Equal(t, "conflict: record already deleted", err.Error())
}

func TestIsKindSeesThroughWrapping(t *testing.T) {
	inner := NotFound("record not found: abc")
	wrapped := fmt.Errorf("invoke failed: %w", inner)

	assert.True(t, IsKind(wrapped, KindNotFound))
	assert.False(t, IsKind(wrapped, KindConflict))
	assert.False(t, IsKind(nil, KindNotFound))
	assert.False(t, IsKind(fmt.Errorf("plain"), KindNotFound))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("ledger io")
	err := Wrap(KindConflict, cause, "failed to write %s", "RECORD~x")

	assert.True(t, IsKind(err, KindConflict))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "RECORD~x")
}

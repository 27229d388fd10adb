package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityDecisionString(t *testing.T) {
	assert.Equal(t, "allowed", DecisionAllowed.String())
	assert.Equal(t, "rejected_protocol", DecisionRejectedProtocol.String())
	assert.Equal(t, "rejected_private_target", DecisionRejectedPrivateTarget.String())
	assert.Equal(t, "rejected_not_allowlisted", DecisionRejectedNotAllowlisted.String())
}

func TestErrorResponseJSONShape(t *testing.T) {
	data, err := json.Marshal(NewErrorResponse(502, "upstream failed"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"upstream failed","code":502}`, string(data))
}

func TestErrorResponseRewroteFlag(t *testing.T) {
	body := NewErrorResponse(502, "too large")
	rewrote := false
	body.Rewrote = &rewrote

	data, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"too large","code":502,"rewrote":false}`, string(data))
}

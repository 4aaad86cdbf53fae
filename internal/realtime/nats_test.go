package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSessionIDFromSubject(t *testing.T) {
	sessionID, err := parseSessionIDFromSubject("tenant.default.transfer.abc-123.state")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", sessionID)
}

func TestParseSessionIDFromSubject_Invalid(t *testing.T) {
	_, err := parseSessionIDFromSubject("tenant.default.transfer.state")
	assert.Error(t, err)

	_, err = parseSessionIDFromSubject("tenant.default.transfer..state")
	assert.Error(t, err)
}

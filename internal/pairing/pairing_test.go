package pairing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "wc:7f6e504bfad60b485450578e05678ed3e8e8c4751d3c6160be17160d63ec90f9@2?relay-protocol=irn&symKey=587d5484ce2a2a6ee3ba1962fdd7e8588e06200c46823bd18fbd67def96ad303"

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Validate(sample))
	assert.NoError(t, Validate("  wc:abc  "))

	for _, bad := range []string{"", "wc:", "https://example.com", "WC:abc", "ethereum:0xabc"} {
		assert.ErrorIs(t, Validate(bad), ErrInvalidURI, bad)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	u, err := Parse(sample)
	require.NoError(t, err)

	assert.Equal(t, "7f6e504bfad60b485450578e05678ed3e8e8c4751d3c6160be17160d63ec90f9", u.Topic)
	assert.Equal(t, 2, u.Version)
	assert.Equal(t, "irn", u.RelayProtocol)
	assert.True(t, u.SymKeySet)
	assert.Empty(t, u.Params.Get("symKey"))
	assert.NotContains(t, u.Redacted(), "587d5484")
	assert.Contains(t, u.Redacted(), "relay-protocol=irn")
}

func TestParseRejectsBadVersion(t *testing.T) {
	t.Parallel()

	_, err := Parse("wc:abc@two")
	assert.ErrorIs(t, err, ErrInvalidURI)
}

package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWellKnownKeys(t *testing.T) {
	assert.True(t, SystemProgramID.IsZero())
	assert.Equal(t, "11111111111111111111111111111111", SystemProgramID.String())
	assert.Equal(t, "SysvarRent111111111111111111111111111111111", SysvarRentID.String())
	assert.Equal(t, "SysvarC1ock11111111111111111111111111111111", SysvarClockID.String())
}

func TestParsePubkey(t *testing.T) {
	const s = "J1jVH8q8Yz6pMuKUNA4tgDeU1SwhwZcwCtM86YmoSDSD"
	pk, err := ParsePubkey(s)
	require.NoError(t, err)
	assert.Equal(t, s, pk.String())

	_, err = ParsePubkey("0OIl")
	assert.Error(t, err)
	_, err = ParsePubkey("2g")
	assert.Error(t, err)
}

func TestPubkeyJSON(t *testing.T) {
	pk := MustParsePubkey("44Bg8cyKXZmgD7y8j865fyPr4PsNXVSwHzNhi7udjp5t")
	b, err := json.Marshal(map[string]Pubkey{"k": pk})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"44Bg8cyKXZmgD7y8j865fyPr4PsNXVSwHzNhi7udjp5t"}`, string(b))

	var out struct{ K Pubkey }
	require.NoError(t, json.Unmarshal([]byte(`{"K":"44Bg8cyKXZmgD7y8j865fyPr4PsNXVSwHzNhi7udjp5t"}`), &out))
	assert.Equal(t, pk, out.K)
}

func TestPubkeyFromBytes(t *testing.T) {
	_, err := PubkeyFromBytes(make([]byte, 31))
	assert.Error(t, err)
	pk, err := PubkeyFromBytes(SysvarRentID[:])
	require.NoError(t, err)
	assert.Equal(t, SysvarRentID, pk)
}

package outcome

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
)

func TestDecideAllResidues(t *testing.T) {
	for r := int64(0); r < 10; r++ {
		want := r > 4
		assert.Equal(t, want, Decide(r), "residue %d", r)
		assert.Equal(t, want, Decide(r+1_700_000_000), "residue %d offset", r)
	}
}

func TestDecideNegativeEntropy(t *testing.T) {
	// -1 mod 10 = 9, -5 mod 10 = 5, -6 mod 10 = 4, -10 mod 10 = 0
	assert.True(t, Decide(-1))
	assert.True(t, Decide(-5))
	assert.False(t, Decide(-6))
	assert.False(t, Decide(-10))
	for r := int64(0); r < 10; r++ {
		assert.Equal(t, r > 4, Decide(r-1000), "residue %d", r)
	}
	assert.False(t, Decide(math.MinInt64)) // resto 2
	assert.True(t, Decide(math.MaxInt64))  // resto 7
}

func TestModuloOracle(t *testing.T) {
	var o Oracle = Modulo{}
	assert.True(t, o.Decide(15))
	assert.False(t, o.Decide(14))
}

func TestClockSource(t *testing.T) {
	e, err := ClockSource{}.Entropy(context.Background(), Request{Clock: ledger.Clock{UnixTimestamp: -42}})
	require.NoError(t, err)
	assert.Equal(t, int64(-42), e)
}

func TestSeededSourceDeterministic(t *testing.T) {
	src := NewSeededSource([]byte("server-seed"))
	req := Request{Bid: 1000, Clock: ledger.Clock{Slot: 7}}
	req.Record[0], req.Initializer[0] = 1, 2

	a, err := src.Entropy(context.Background(), req)
	require.NoError(t, err)
	b, err := src.Entropy(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	req.Clock.Slot = 8
	c, err := src.Entropy(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	other, err := NewSeededSource([]byte("other-seed")).Entropy(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, c, other)
}

func TestSeededSourceCommitment(t *testing.T) {
	sum := sha256.Sum256([]byte("server-seed"))
	assert.Equal(t, hex.EncodeToString(sum[:]), NewSeededSource([]byte("server-seed")).Commitment())
}

package fork

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensus-simulator/consensus"
	"consensus-simulator/internal/types"
)

func init() {
	color.NoColor = true
}

// grow возвращает копию base с именем name и n новыми блоками.
func grow(t *testing.T, base *types.Chain, name string, n int) *types.Chain {
	t.Helper()

	c := base.Clone(name)
	for i := 0; i < n; i++ {
		tip, _ := c.Last()
		require.NoError(t, c.Append(types.NewBlock(c.Len(), float64(c.Len()), fmt.Sprintf("%s block %d", name, i), tip.Hash, int64(i))))
	}
	return c
}

func TestSimulateFork(t *testing.T) {
	r := NewResolver(Config{Seed: 21})

	event, err := r.SimulateFork()
	require.NoError(t, err)

	assert.Equal(t, "Fork A", event.ForkA.Name)
	assert.Equal(t, "Fork B", event.ForkB.Name)
	assert.Equal(t, 2+event.AdditionalBlocksA, event.ForkA.Length)
	assert.Equal(t, 2+event.AdditionalBlocksB, event.ForkB.Length)
	assert.LessOrEqual(t, event.AdditionalBlocksA, 2)
	assert.LessOrEqual(t, event.AdditionalBlocksB, 2)

	for _, d := range []float64{event.MinerADelay, event.MinerBDelay} {
		assert.GreaterOrEqual(t, d, 0.5)
		assert.LessOrEqual(t, d, 2.0)
	}

	assert.NoError(t, types.ValidateBlocks(event.ForkA.Blocks))
	assert.NoError(t, types.ValidateBlocks(event.ForkB.Blocks))

	// обе ветки начинаются с genesis и расходятся сразу после него
	assert.Equal(t, event.ForkA.Blocks[0], event.ForkB.Blocks[0])
	assert.Equal(t, event.ForkA.Blocks[1].PreviousHash, event.ForkB.Blocks[1].PreviousHash)
	assert.NotEqual(t, event.ForkA.Blocks[1].Hash, event.ForkB.Blocks[1].Hash)
	assert.True(t, strings.HasPrefix(event.ForkA.Blocks[1].Data, "Block by Miner A (delay: "))
	assert.True(t, strings.HasPrefix(event.ForkB.Blocks[1].Data, "Block by Miner B (delay: "))

	nonce := event.ForkA.Blocks[1].Nonce
	assert.GreaterOrEqual(t, nonce, int64(1000))
	assert.LessOrEqual(t, nonce, int64(9999))
	if event.AdditionalBlocksA > 0 {
		assert.Equal(t, "Additional block 1 on Fork A", event.ForkA.Blocks[2].Data)
	}

	chains := r.Chains()
	require.Len(t, chains, 2)
	assert.Equal(t, event.ForkA, chains[0])
	assert.Equal(t, event.ForkB, chains[1])
}

func TestSimulateForkBuildsOnFirstBranch(t *testing.T) {
	r := NewResolver(Config{Seed: 4})

	first, err := r.SimulateFork()
	require.NoError(t, err)
	second, err := r.SimulateFork()
	require.NoError(t, err)

	assert.Equal(t, first.ForkA.Length+1+second.AdditionalBlocksA, second.ForkA.Length)
	assert.Equal(t, first.ForkA.Blocks, second.ForkA.Blocks[:first.ForkA.Length])

	history := r.History()
	require.Len(t, history, 2)
	assert.Equal(t, first, history[0])
	assert.Equal(t, second, history[1])
	assert.LessOrEqual(t, history[0].Timestamp, history[1].Timestamp)
}

func TestResolveLongestChain(t *testing.T) {
	r := NewResolver(Config{Seed: 1})
	base := types.NewChain(mainChainName, r.genesis)
	r.branches = []*types.Chain{grow(t, base, "Fork A", 2), grow(t, base, "Fork B", 4)}

	res, err := r.Resolve()
	require.NoError(t, err)

	assert.Equal(t, "Fork B", res.Winner)
	assert.Equal(t, 5, res.WinnerLength)
	assert.Equal(t, resolutionRule, res.ResolutionRule)
	assert.Contains(t, res.Explanation, "5 blocks")
	assert.Equal(t, []ChainComparison{
		{Name: "Fork A", Length: 3, IsWinner: false},
		{Name: "Fork B", Length: 5, IsWinner: true},
	}, res.ChainsCompared)

	assert.Equal(t, resolvedChainName, res.ResolvedChain.Name)
	chains := r.Chains()
	require.Len(t, chains, 1)
	assert.Equal(t, res.ResolvedChain, chains[0])
}

func TestResolveTieGoesToFirstBranch(t *testing.T) {
	r := NewResolver(Config{Seed: 1})
	base := types.NewChain(mainChainName, r.genesis)
	r.branches = []*types.Chain{grow(t, base, "Fork A", 3), grow(t, base, "Fork B", 3)}

	res, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "Fork A", res.Winner)
	assert.Equal(t, 4, res.WinnerLength)
}

func TestResolveWithoutFork(t *testing.T) {
	r := NewResolver(Config{Seed: 1})
	before := r.Chains()

	_, err := r.Resolve()
	assert.True(t, errors.Is(err, consensus.ErrNothingToResolve))
	assert.Equal(t, before, r.Chains())

	_, err = r.SimulateFork()
	require.NoError(t, err)
	_, err = r.Resolve()
	require.NoError(t, err)

	_, err = r.Resolve()
	assert.True(t, errors.Is(err, consensus.ErrNothingToResolve))
}

func TestResetIdempotent(t *testing.T) {
	r := NewResolver(Config{Seed: 8})
	_, err := r.SimulateFork()
	require.NoError(t, err)

	r.Reset()
	chains1, history1 := r.Chains(), r.History()

	r.Reset()
	chains2, history2 := r.Chains(), r.History()

	assert.Equal(t, chains1, chains2)
	assert.Equal(t, history1, history2)
	require.Len(t, chains1, 1)
	assert.Equal(t, mainChainName, chains1[0].Name)
	assert.Equal(t, 1, chains1[0].Length)
	assert.Empty(t, history1)
}

func TestGetMetrics(t *testing.T) {
	r := NewResolver(Config{Seed: 2})
	_, err := r.SimulateFork()
	require.NoError(t, err)

	m := r.GetMetrics()
	assert.Equal(t, "Fork", m.Algorithm)
	assert.Equal(t, 1, m.ForkCount)
	assert.Equal(t, 2, m.Branches)

	_, err = r.Resolve()
	require.NoError(t, err)

	m = r.GetMetrics()
	assert.Equal(t, 1, m.Branches)
	assert.Equal(t, "resolutions=1", m.Notes)
	assert.Equal(t, int64(2), m.TotalRounds)
}

func TestTree(t *testing.T) {
	r := NewResolver(Config{Seed: 1})
	base := types.NewChain(mainChainName, r.genesis)
	a := grow(t, base, "Fork A", 1)
	b := grow(t, base, "Fork B", 2)
	r.branches = []*types.Chain{a, b}

	out := r.Tree()

	assert.True(t, strings.HasPrefix(out, "chains"))
	assert.Equal(t, 1, strings.Count(out, "Genesis Block"), "shared genesis is rendered once")
	assert.Contains(t, out, "Fork A block 0 [Fork A]")
	assert.Contains(t, out, "Fork B block 1 [Fork B]")
	assert.Contains(t, out, "#0 "+r.genesis.Hash[:hashPrefixLen])
}

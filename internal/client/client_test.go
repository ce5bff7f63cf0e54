package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensus-simulator/consensus/fork"
	"consensus-simulator/consensus/pos"
	"consensus-simulator/consensus/pow"
	"consensus-simulator/internal/api"
	"consensus-simulator/internal/types"
)

func newTestClient(t *testing.T, engines api.Engines) *Client {
	t.Helper()

	srv := httptest.NewServer(api.NewServer(engines, api.Options{}).Handler())
	t.Cleanup(srv.Close)

	return New(srv.URL, 10*time.Second, 0)
}

func defaultEngines() api.Engines {
	return api.Engines{
		PoW:  pow.NewPoW(pow.Config{Difficulty: 1, TargetBlockTime: time.Nanosecond, Seed: 3}),
		PoS:  pos.NewPoS(pos.Config{Seed: 3}),
		Fork: fork.NewResolver(fork.Config{Seed: 3}),
	}
}

func TestPoWRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, defaultEngines())

	require.NoError(t, c.Health(ctx))

	res, err := c.Mine(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Block.Index)
	assert.NotEmpty(t, res.Winner)

	blocks, err := c.Blockchain(ctx)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
	assert.Equal(t, res.Block, blocks[1])

	m, err := c.AddMiner(ctx, "Miner Delta", 250)
	require.NoError(t, err)
	assert.Equal(t, 250, m.HashPower)

	miners, err := c.Miners(ctx)
	require.NoError(t, err)
	assert.Len(t, miners, 4)

	require.NoError(t, c.ResetPoW(ctx))
	blocks, err = c.Blockchain(ctx)
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
}

func TestPoSRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, defaultEngines())

	v, err := c.Validate(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, v.Validator)

	summary, err := c.ValidateMany(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, summary.TotalValidations)

	added, err := c.AddValidator(ctx, "Validator D", 0)
	require.NoError(t, err)
	assert.Equal(t, types.Validator{Name: "Validator D", Stake: 10}, added)

	stats, err := c.Validators(ctx)
	require.NoError(t, err)
	assert.Len(t, stats, 4)

	require.NoError(t, c.ResetPoS(ctx))
}

func TestForkRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, defaultEngines())

	event, err := c.CreateFork(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Fork B", event.ForkB.Name)

	chains, err := c.Chains(ctx)
	require.NoError(t, err)
	assert.Len(t, chains, 2)

	tree, err := c.ForkTree(ctx)
	require.NoError(t, err)
	assert.Contains(t, tree, "Genesis Block")

	res, err := c.ResolveFork(ctx)
	require.NoError(t, err)
	assert.Equal(t, max(event.ForkA.Length, event.ForkB.Length), res.WinnerLength)

	history, err := c.ForkHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	require.NoError(t, c.ResetFork(ctx))
}

func TestAPIErrors(t *testing.T) {
	ctx := context.Background()
	engines := defaultEngines()
	engines.PoS = pos.NewPoS(pos.Config{Validators: []types.Validator{}})
	c := newTestClient(t, engines)

	_, err := c.ResolveFork(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "no fork to resolve")

	_, err = c.Validate(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	_, err = c.ValidateMany(ctx, -1)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, time.Second, 0)
	err := c.Health(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestRetriesOnlyReads(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(150 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, 50*time.Millisecond, 2)
	ctx := context.Background()

	_, err := c.Mine(ctx)
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())

	hits.Store(0)
	_, err = c.Blockchain(ctx)
	require.Error(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

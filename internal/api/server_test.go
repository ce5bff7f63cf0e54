package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensus-simulator/consensus"
	"consensus-simulator/consensus/fork"
	"consensus-simulator/consensus/pos"
	"consensus-simulator/consensus/pow"
	"consensus-simulator/internal/types"
)

func newTestServer(t *testing.T) (*Server, Engines) {
	t.Helper()

	engines := Engines{
		PoW:  pow.NewPoW(pow.Config{Difficulty: 1, TargetBlockTime: time.Nanosecond, Seed: 1}),
		PoS:  pos.NewPoS(pos.Config{Seed: 1}),
		Fork: fork.NewResolver(fork.Config{Seed: 1}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "simulator_test_gauge", Help: "test"}))

	return NewServer(engines, Options{Gatherer: reg}), engines
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env Envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

// decodeData повторно декодирует Data в v.
func decodeData(t *testing.T, env Envelope, v any) {
	t.Helper()

	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestPoWRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec, env := do(t, h, http.MethodPost, "/api/pow/mine", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	var res pow.MiningResult
	decodeData(t, env, &res)
	assert.Equal(t, 1, res.Block.Index)
	assert.Equal(t, 2, res.BlockchainLength)

	rec, env = do(t, h, http.MethodGet, "/api/pow/blockchain", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chain []types.Block
	decodeData(t, env, &chain)
	require.Len(t, chain, 2)
	assert.NoError(t, types.ValidateBlocks(chain))

	rec, env = do(t, h, http.MethodPost, "/api/pow/add-miner", map[string]any{"name": "Miner Delta"})
	require.Equal(t, http.StatusOK, rec.Code)
	var miner types.Miner
	decodeData(t, env, &miner)
	assert.Equal(t, types.Miner{Name: "Miner Delta", HashPower: 100}, miner)

	rec, env = do(t, h, http.MethodPost, "/api/pow/add-miner", map[string]any{"name": "Miner Delta"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)

	rec, env = do(t, h, http.MethodGet, "/api/pow/miners", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var miners []types.Miner
	decodeData(t, env, &miners)
	assert.Len(t, miners, 4)

	rec, env = do(t, h, http.MethodPost, "/api/pow/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, env.Message)

	_, env = do(t, h, http.MethodGet, "/api/pow/miners", nil)
	decodeData(t, env, &miners)
	assert.Equal(t, pow.DefaultMiners(), miners)
}

func TestPoWMineWithoutMiners(t *testing.T) {
	engines := Engines{
		PoW:  pow.NewPoW(pow.Config{Miners: []types.Miner{}}),
		PoS:  pos.NewPoS(pos.Config{}),
		Fork: fork.NewResolver(fork.Config{}),
	}
	h := NewServer(engines, Options{}).Handler()

	rec, env := do(t, h, http.MethodPost, "/api/pow/mine", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "no miners")
	assert.Len(t, engines.PoW.Blockchain(), 1)
}

func TestPoSRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec, env := do(t, h, http.MethodPost, "/api/pos/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res pos.ValidationResult
	decodeData(t, env, &res)
	assert.NotEmpty(t, res.Validator)
	assert.Equal(t, 1, res.TotalBlocksValidated)

	rec, env = do(t, h, http.MethodPost, "/api/pos/validate-multiple", map[string]any{"count": 200})
	require.Equal(t, http.StatusOK, rec.Code)
	var summary pos.BatchSummary
	decodeData(t, env, &summary)
	assert.Equal(t, 200, summary.TotalValidations)
	assert.Len(t, summary.Statistics, 3)

	rec, env = do(t, h, http.MethodPost, "/api/pos/validate-multiple", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, env, &summary)
	assert.Equal(t, defaultValidationCount, summary.TotalValidations)

	rec, _ = do(t, h, http.MethodPost, "/api/pos/validate-multiple", map[string]any{"count": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = do(t, h, http.MethodPost, "/api/pos/add-validator", map[string]any{"stake": 25})
	require.Equal(t, http.StatusOK, rec.Code)
	var v types.Validator
	decodeData(t, env, &v)
	assert.Equal(t, types.Validator{Name: "Validator 4", Stake: 25}, v)

	rec, env = do(t, h, http.MethodGet, "/api/pos/validators", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats []pos.ValidatorStats
	decodeData(t, env, &stats)
	assert.Len(t, stats, 4)

	rec, _ = do(t, h, http.MethodPost, "/api/pos/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, env = do(t, h, http.MethodGet, "/api/pos/validators", nil)
	decodeData(t, env, &stats)
	assert.Len(t, stats, 3)
}

func TestForkRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec, env := do(t, h, http.MethodPost, "/api/fork/resolve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, consensus.ErrNothingToResolve.Error(), env.Error)

	rec, env = do(t, h, http.MethodPost, "/api/fork/create", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var event types.ForkEvent
	decodeData(t, env, &event)
	assert.Equal(t, "Fork A", event.ForkA.Name)

	rec, env = do(t, h, http.MethodGet, "/api/fork/chains", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chains []types.ChainSnapshot
	decodeData(t, env, &chains)
	assert.Len(t, chains, 2)

	rec, _ = do(t, h, http.MethodGet, "/api/fork/tree", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "[Fork A]")
	assert.NotContains(t, rec.Body.String(), "\x1b[")

	rec, env = do(t, h, http.MethodPost, "/api/fork/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res fork.Resolution
	decodeData(t, env, &res)
	assert.Equal(t, "Longest Chain Rule", res.ResolutionRule)
	assert.Equal(t, "Main Chain (Resolved)", res.ResolvedChain.Name)

	rec, env = do(t, h, http.MethodGet, "/api/fork/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []types.ForkEvent
	decodeData(t, env, &history)
	assert.Len(t, history, 1)

	rec, _ = do(t, h, http.MethodPost, "/api/fork/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, env = do(t, h, http.MethodGet, "/api/fork/chains", nil)
	decodeData(t, env, &chains)
	require.Len(t, chains, 1)
	assert.Equal(t, "Main Chain", chains[0].Name)
}

func TestInvalidBody(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/pow/add-miner", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestCORSAndMethods(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/pow/mine", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = do(t, h, http.MethodGet, "/api/pow/mine", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec, env := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", env.Message)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "simulator_test_gauge")
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: consensus.ErrNoMiners, want: http.StatusConflict},
		{err: errors.WithMessage(consensus.ErrNoValidators, "ctx"), want: http.StatusConflict},
		{err: consensus.ErrNothingToResolve, want: http.StatusConflict},
		{err: pow.ErrRoundSuperseded, want: http.StatusConflict},
		{err: errors.WithMessagef(consensus.ErrInvalidParticipant, "x"), want: http.StatusBadRequest},
		{err: consensus.ErrInvalidCount, want: http.StatusBadRequest},
		{err: errors.WithMessage(consensus.ErrMiningTimeout, "slow"), want: http.StatusGatewayTimeout},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestMineSupersededByReset(t *testing.T) {
	engines := Engines{
		PoW:  pow.NewPoW(pow.Config{Difficulty: 64, RaceTimeout: 300 * time.Millisecond, Seed: 2}),
		PoS:  pos.NewPoS(pos.Config{Seed: 2}),
		Fork: fork.NewResolver(fork.Config{Seed: 2}),
	}
	h := NewServer(engines, Options{}).Handler()

	type result struct {
		rec *httptest.ResponseRecorder
		env Envelope
	}
	done := make(chan result, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/pow/mine", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		var env Envelope
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
		done <- result{rec: rec, env: env}
	}()

	time.Sleep(50 * time.Millisecond)
	rec, _ := do(t, h, http.MethodPost, "/api/pow/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	res := <-done
	assert.Equal(t, http.StatusConflict, res.rec.Code, res.rec.Body.String())
	assert.False(t, res.env.Success)
	assert.Contains(t, res.env.Error, "superseded")
	assert.Len(t, engines.PoW.Blockchain(), 1)
}

package fork

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"

	"consensus-simulator/consensus"
	"consensus-simulator/internal/types"
)

const (
	mainChainName     = "Main Chain"
	resolvedChainName = "Main Chain (Resolved)"
	resolutionRule    = "Longest Chain Rule"
)

// Config - параметры симуляции форков. Нулевые значения берутся из DefaultConfig.
type Config struct {
	LatencyMin time.Duration
	LatencyMax time.Duration
	// MaxExtraBlocks ограничивает число дополнительных блоков на каждой стороне форка.
	// Отрицательное значение отключает их.
	MaxExtraBlocks int
	NonceMin       int64
	NonceMax       int64
	Seed           int64
}

// DefaultConfig возвращает значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		LatencyMin:     500 * time.Millisecond,
		LatencyMax:     2 * time.Second,
		MaxExtraBlocks: 2,
		NonceMin:       1000,
		NonceMax:       9999,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LatencyMin <= 0 {
		c.LatencyMin = d.LatencyMin
	}
	if c.LatencyMax < c.LatencyMin {
		c.LatencyMax = max(d.LatencyMax, c.LatencyMin)
	}
	switch {
	case c.MaxExtraBlocks == 0:
		c.MaxExtraBlocks = d.MaxExtraBlocks
	case c.MaxExtraBlocks < 0:
		c.MaxExtraBlocks = 0
	}
	if c.NonceMin <= 0 {
		c.NonceMin = d.NonceMin
	}
	if c.NonceMax < c.NonceMin {
		c.NonceMax = max(d.NonceMax, c.NonceMin)
	}
	return c
}

// ChainComparison - одна строка отчета о разрешении.
type ChainComparison struct {
	Name     string `json:"name"`
	Length   int    `json:"length"`
	IsWinner bool   `json:"is_winner"`
}

// Resolution - результат применения правила самой длинной цепочки.
type Resolution struct {
	Winner         string              `json:"winner"`
	WinnerLength   int                 `json:"winner_length"`
	ChainsCompared []ChainComparison   `json:"chains_compared"`
	ResolvedChain  types.ChainSnapshot `json:"resolved_chain"`
	ResolutionRule string              `json:"resolution_rule"`
	Explanation    string              `json:"explanation"`
}

// Resolver отслеживает конкурирующие ветки и выбирает самую длинную.
type Resolver struct {
	mu          sync.Mutex
	cfg         Config
	genesis     types.Block
	branches    []*types.Chain
	history     []types.ForkEvent
	resolutions int
	rng         *rand.Rand
	now         func() time.Time
}

// NewResolver создает резолвер с одной основной цепочкой из genesis-блока.
func NewResolver(cfg Config) *Resolver {
	cfg = cfg.withDefaults()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	r := &Resolver{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
	r.genesis = types.NewGenesisBlock(types.Timestamp(r.now()))
	r.resetLocked()

	slog.Debug("Резолвер форков инициализирован", "latency_min", cfg.LatencyMin, "latency_max", cfg.LatencyMax)
	return r
}

func (r *Resolver) Name() string {
	return "Fork"
}

// Reset возвращает одну основную цепочку и очищает историю.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetLocked()
	slog.Info("Резолвер форков сброшен")
}

func (r *Resolver) resetLocked() {
	r.branches = []*types.Chain{types.NewChain(mainChainName, r.genesis)}
	r.history = nil
	r.resolutions = 0
}

// SimulateFork: два майнера почти одновременно продлевают вершину первой ветки,
// каждая сторона наращивается случайным числом блоков, и две новые ветки
// заменяют прежний набор.
func (r *Resolver) SimulateFork() (types.ForkEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.branches) == 0 {
		r.resetLocked()
	}

	base := r.branches[0]
	tip, _ := base.Last()
	index := base.Len()

	delayA := r.latency()
	delayB := r.latency()
	now := types.Timestamp(r.now())

	forkA := base.Clone("Fork A")
	forkB := base.Clone("Fork B")

	blockA := types.NewBlock(index, now+delayA, fmt.Sprintf("Block by Miner A (delay: %.2fs)", delayA), tip.Hash, r.nonce())
	blockB := types.NewBlock(index, now+delayB, fmt.Sprintf("Block by Miner B (delay: %.2fs)", delayB), tip.Hash, r.nonce())
	if err := forkA.Append(blockA); err != nil {
		return types.ForkEvent{}, errors.WithMessage(err, "failed to extend Fork A")
	}
	if err := forkB.Append(blockB); err != nil {
		return types.ForkEvent{}, errors.WithMessage(err, "failed to extend Fork B")
	}

	extraA := r.rng.Intn(r.cfg.MaxExtraBlocks + 1)
	extraB := r.rng.Intn(r.cfg.MaxExtraBlocks + 1)
	if err := r.extend(forkA, "A", extraA); err != nil {
		return types.ForkEvent{}, err
	}
	if err := r.extend(forkB, "B", extraB); err != nil {
		return types.ForkEvent{}, err
	}

	r.branches = []*types.Chain{forkA, forkB}

	event := types.ForkEvent{
		Timestamp:         types.Timestamp(r.now()),
		ForkA:             forkA.Snapshot(),
		ForkB:             forkB.Snapshot(),
		MinerADelay:       round2(delayA),
		MinerBDelay:       round2(delayB),
		AdditionalBlocksA: extraA,
		AdditionalBlocksB: extraB,
	}
	r.history = append(r.history, event)

	slog.Info("Форк создан",
		"height", index,
		"fork_a_length", forkA.Len(),
		"fork_b_length", forkB.Len(),
		"miner_a_delay", event.MinerADelay,
		"miner_b_delay", event.MinerBDelay)

	return event, nil
}

// extend добавляет n блоков к вершине c.
func (r *Resolver) extend(c *types.Chain, side string, n int) error {
	for i := 1; i <= n; i++ {
		tip, _ := c.Last()
		b := types.NewBlock(c.Len(), types.Timestamp(r.now())+r.latency(),
			fmt.Sprintf("Additional block %d on Fork %s", i, side), tip.Hash, r.nonce())
		if err := c.Append(b); err != nil {
			return errors.WithMessagef(err, "failed to extend Fork %s", side)
		}
	}
	return nil
}

// Resolve оставляет самую длинную ветку, отбрасывает остальные и переименовывает
// победителя. При равной длине побеждает первая ветка.
func (r *Resolver) Resolve() (*Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.branches) < 2 {
		return nil, consensus.ErrNothingToResolve
	}

	winner := 0
	for i, c := range r.branches {
		if c.Len() > r.branches[winner].Len() {
			winner = i
		}
	}

	compared := make([]ChainComparison, len(r.branches))
	for i, c := range r.branches {
		compared[i] = ChainComparison{Name: c.Name, Length: c.Len(), IsWinner: i == winner}
	}

	chain := r.branches[winner]
	winnerName := chain.Name
	chain.Name = resolvedChainName
	r.branches = []*types.Chain{chain}
	r.resolutions++

	slog.Info("Форк разрешен", "winner", winnerName, "length", chain.Len(), "branches", len(compared))

	return &Resolution{
		Winner:         winnerName,
		WinnerLength:   chain.Len(),
		ChainsCompared: compared,
		ResolvedChain:  chain.Snapshot(),
		ResolutionRule: resolutionRule,
		Explanation:    fmt.Sprintf("The chain with %d blocks was selected because it carries the most accumulated proof-of-work", chain.Len()),
	}, nil
}

// Chains возвращает снимки всех веток.
func (r *Resolver) Chains() []types.ChainSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.ChainSnapshot, len(r.branches))
	for i, c := range r.branches {
		out[i] = c.Snapshot()
	}
	return out
}

// History возвращает все форки с последнего сброса, от старых к новым.
func (r *Resolver) History() []types.ForkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.ForkEvent, len(r.history))
	copy(out, r.history)
	return out
}

// GetMetrics возвращает число форков, разрешений и длину самой длинной ветки.
func (r *Resolver) GetMetrics() types.Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	longest := 0
	for _, c := range r.branches {
		longest = max(longest, c.Len())
	}

	m := types.Metrics{
		Algorithm:       r.Name(),
		NodeCount:       2,
		ConfirmedBlocks: int64(max(longest-1, 0)),
		TotalRounds:     int64(len(r.history) + r.resolutions),
		ForkCount:       len(r.history),
		Branches:        len(r.branches),
		Timestamp:       r.now(),
		Notes:           fmt.Sprintf("resolutions=%d", r.resolutions),
	}
	if m.TotalRounds > 0 {
		m.SuccessRate = 1
	}
	return m
}

// latency - симулированная сетевая задержка в секундах.
func (r *Resolver) latency() float64 {
	lo := r.cfg.LatencyMin.Seconds()
	hi := r.cfg.LatencyMax.Seconds()
	return lo + r.rng.Float64()*(hi-lo)
}

func (r *Resolver) nonce() int64 {
	return r.cfg.NonceMin + r.rng.Int63n(r.cfg.NonceMax-r.cfg.NonceMin+1)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

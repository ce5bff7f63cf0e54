package pow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mxmCherry/movavg"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"consensus-simulator/consensus"
	"consensus-simulator/internal/types"
)

// Режимы гонки.
const (
	// ModeRace - все майнеры ищут параллельно, побеждает первый найденный nonce.
	ModeRace = "race"
	// ModeLottery - победитель выбирается по хешрейту, затем ищет только он.
	ModeLottery = "lottery"
)

const (
	mainChainName    = "Main Chain"
	defaultHashPower = 100
)

// ErrRoundSuperseded возвращается, если движок сбросили во время раунда.
var ErrRoundSuperseded = errors.New("mining round superseded by reset")

// Config - параметры PoW. Нулевые значения берутся из DefaultConfig.
type Config struct {
	Difficulty      int
	TargetBlockTime time.Duration
	RaceTimeout     time.Duration
	Mode            string

	// Майнер спит ThrottleDelay каждые ThrottleBase*hash_power/100 попыток.
	ThrottleBase  int
	ThrottleDelay time.Duration
	MaxNonce      int64

	// SMAWindow - окно скользящего среднего времени майнинга.
	SMAWindow int

	Miners []types.Miner
	Seed   int64
}

// DefaultConfig возвращает значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		Difficulty:      4,
		TargetBlockTime: 2 * time.Second,
		RaceTimeout:     30 * time.Second,
		Mode:            ModeRace,
		ThrottleBase:    200,
		ThrottleDelay:   100 * time.Microsecond,
		MaxNonce:        10_000_000,
		SMAWindow:       10,
		Miners:          DefaultMiners(),
	}
}

// DefaultMiners - начальный состав майнеров.
func DefaultMiners() []types.Miner {
	return []types.Miner{
		{Name: "Miner Alpha", HashPower: 100},
		{Name: "Miner Beta", HashPower: 150},
		{Name: "Miner Gamma", HashPower: 80},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Difficulty <= 0 {
		c.Difficulty = d.Difficulty
	}
	if c.TargetBlockTime <= 0 {
		c.TargetBlockTime = d.TargetBlockTime
	}
	if c.RaceTimeout <= 0 {
		c.RaceTimeout = d.RaceTimeout
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.ThrottleBase <= 0 {
		c.ThrottleBase = d.ThrottleBase
	}
	if c.ThrottleDelay < 0 {
		c.ThrottleDelay = 0
	}
	if c.MaxNonce <= 0 {
		c.MaxNonce = d.MaxNonce
	}
	if c.SMAWindow <= 0 {
		c.SMAWindow = d.SMAWindow
	}
	if c.Miners == nil {
		c.Miners = d.Miners
	}
	return c
}

// MiningResult описывает успешный раунд.
type MiningResult struct {
	Block            types.Block `json:"block"`
	Winner           string      `json:"winner"`
	Attempts         int64       `json:"attempts"`
	MiningTime       float64     `json:"mining_time"`
	TargetDifficulty int         `json:"target_difficulty"`
	Difficulty       int         `json:"difficulty"`
	Adjustment       string      `json:"adjustment,omitempty"`
	BlockchainLength int         `json:"blockchain_length"`
}

// PoW хранит основную цепочку, майнеров и текущую сложность.
// Раунды идут по одному, чтение не блокируется идущей гонкой.
type PoW struct {
	mineMu sync.Mutex

	mu         sync.RWMutex
	cfg        Config
	genesis    types.Block
	chain      *types.Chain
	miners     []*types.Miner
	difficulty int
	epoch      uint64
	rng        *rand.Rand

	blockTimes   *movavg.SMA
	timeSamples  int
	totalRounds  int64
	failedRounds int64

	now func() time.Time
}

// NewPoW создает движок с genesis-блоком и заданными майнерами.
func NewPoW(cfg Config) *PoW {
	cfg = cfg.withDefaults()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	p := &PoW{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
	p.genesis = types.NewGenesisBlock(types.Timestamp(p.now()))
	p.resetLocked()

	slog.Debug("PoW движок инициализирован", "difficulty", p.difficulty, "miners", len(p.miners), "mode", cfg.Mode)
	return p
}

func (p *PoW) Name() string {
	return "PoW"
}

// Reset возвращает цепочку из genesis-блока, начальных майнеров и сложность.
func (p *PoW) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked()
	slog.Info("PoW движок сброшен", "miners", len(p.miners), "difficulty", p.difficulty)
}

func (p *PoW) resetLocked() {
	p.chain = types.NewChain(mainChainName, p.genesis)
	p.miners = make([]*types.Miner, 0, len(p.cfg.Miners))
	for _, m := range p.cfg.Miners {
		p.miners = append(p.miners, &types.Miner{Name: m.Name, HashPower: m.HashPower})
	}
	p.difficulty = p.cfg.Difficulty
	p.blockTimes = movavg.NewSMA(p.cfg.SMAWindow)
	p.timeSamples = 0
	p.totalRounds = 0
	p.failedRounds = 0
	p.epoch++
}

// AddMiner добавляет майнера. Пустое имя становится "Miner N",
// нулевой хешрейт - 100.
func (p *PoW) AddMiner(name string, hashPower int) (types.Miner, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if hashPower < 0 {
		return types.Miner{}, errors.WithMessagef(consensus.ErrInvalidParticipant, "hash power %d must be positive", hashPower)
	}
	if hashPower == 0 {
		hashPower = defaultHashPower
	}
	if name == "" {
		name = fmt.Sprintf("Miner %d", len(p.miners)+1)
	}
	for _, m := range p.miners {
		if m.Name == name {
			return types.Miner{}, errors.WithMessagef(consensus.ErrDuplicateParticipant, "miner %q", name)
		}
	}

	m := &types.Miner{Name: name, HashPower: hashPower}
	p.miners = append(p.miners, m)

	slog.Info("Майнер добавлен", "name", name, "hash_power", hashPower)
	return *m, nil
}

// Miners возвращает копию списка майнеров.
func (p *PoW) Miners() []types.Miner {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]types.Miner, len(p.miners))
	for i, m := range p.miners {
		out[i] = *m
	}
	return out
}

// Blockchain возвращает копию цепочки.
func (p *PoW) Blockchain() []types.Block {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.chain.Blocks()
}

// Difficulty возвращает текущую сложность.
func (p *PoW) Difficulty() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.difficulty
}

// Mine проводит один раунд: каждый участник ищет nonce на своей копии блока,
// блок первого нашедшего добавляется в цепочку, и сложность пересчитывается
// по времени майнинга.
func (p *PoW) Mine(ctx context.Context) (*MiningResult, error) {
	p.mineMu.Lock()
	defer p.mineMu.Unlock()

	p.mu.Lock()
	if len(p.miners) == 0 {
		p.mu.Unlock()
		return nil, consensus.ErrNoMiners
	}
	if p.chain == nil || p.chain.Len() == 0 {
		p.chain = types.NewChain(mainChainName, p.genesis)
	}

	tip, _ := p.chain.Last()
	index := p.chain.Len()
	candidate := types.NewBlock(index, types.Timestamp(p.now()), fmt.Sprintf("Block %d data", index), tip.Hash, 0)
	difficulty := p.difficulty
	epoch := p.epoch
	contenders := p.contendersLocked()
	p.totalRounds++
	p.mu.Unlock()

	win, err := p.race(ctx, candidate, contenders, difficulty)

	p.mu.Lock()
	defer p.mu.Unlock()

	if epoch != p.epoch {
		return nil, ErrRoundSuperseded
	}
	if err != nil {
		p.failedRounds++
		slog.Warn("Раунд майнинга не удался", "index", index, "difficulty", difficulty, "error", err)
		return nil, err
	}
	if err := p.chain.Append(win.block); err != nil {
		p.failedRounds++
		return nil, errors.WithMessage(err, "failed to append mined block")
	}

	winner := p.miners[win.contender.index]
	winner.BlocksMined++

	adjustment := p.adjustDifficultyLocked(win.elapsed)

	ms := float64(win.elapsed) / float64(time.Millisecond)
	p.blockTimes.Add(ms)
	p.timeSamples++

	slog.Info("Блок добыт",
		"index", win.block.Index,
		"winner", winner.Name,
		"attempts", win.attempts,
		"elapsed", win.elapsed,
		"difficulty", p.difficulty)

	return &MiningResult{
		Block:            win.block,
		Winner:           winner.Name,
		Attempts:         win.attempts,
		MiningTime:       round2(win.elapsed.Seconds()),
		TargetDifficulty: difficulty,
		Difficulty:       p.difficulty,
		Adjustment:       adjustment,
		BlockchainLength: p.chain.Len(),
	}, nil
}

// contendersLocked фиксирует участников раунда и seed для каждого поиска.
func (p *PoW) contendersLocked() []contender {
	all := make([]contender, len(p.miners))
	for i, m := range p.miners {
		all[i] = contender{index: i, miner: *m, seed: p.rng.Int63()}
	}

	if p.cfg.Mode == ModeLottery {
		return []contender{pickByHashPower(p.rng, all)}
	}
	return all
}

// race запускает участников параллельно с таймаутом. Сохраняется только первый
// результат, все пришедшее после победителя, дедлайна или отмены отбрасывается.
func (p *PoW) race(ctx context.Context, candidate types.Block, contenders []contender, difficulty int) (*searchResult, error) {
	raceCtx, cancel := context.WithTimeout(ctx, p.cfg.RaceTimeout)
	defer cancel()

	var (
		gate   sync.Mutex
		winner *searchResult
	)

	eg, egCtx := errgroup.WithContext(raceCtx)
	for _, c := range contenders {
		c := c
		eg.Go(func() error {
			res, ok := search(egCtx, candidate, c, difficulty, p.cfg)
			if !ok {
				return nil
			}

			gate.Lock()
			defer gate.Unlock()

			if winner != nil || raceCtx.Err() != nil {
				return nil
			}
			winner = res
			cancel()
			return nil
		})
	}
	_ = eg.Wait()

	if winner != nil {
		return winner, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "mining round cancelled")
	}
	return nil, errors.WithMessagef(consensus.ErrMiningTimeout, "no nonce found within %s at difficulty %d", p.cfg.RaceTimeout, difficulty)
}

// GetMetrics возвращает рост цепочки, итоги раундов и среднее время майнинга.
func (p *PoW) GetMetrics() types.Metrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	m := types.Metrics{
		Algorithm:       p.Name(),
		NodeCount:       len(p.miners),
		ConfirmedBlocks: int64(p.chain.Len() - 1),
		TotalRounds:     p.totalRounds,
		FailedRounds:    p.failedRounds,
		Difficulty:      p.difficulty,
		Timestamp:       p.now(),
		Notes:           "mode=" + p.cfg.Mode,
	}
	if p.totalRounds > 0 {
		m.SuccessRate = float64(p.totalRounds-p.failedRounds) / float64(p.totalRounds)
	}
	if p.timeSamples > 0 {
		m.ConsensusTimeAvg = round2(p.blockTimes.Avg())
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

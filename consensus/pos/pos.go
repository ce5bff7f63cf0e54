package pos

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

const defaultStake = 10

// Config - параметры PoS. Нулевые значения берутся из DefaultConfig.
type Config struct {
	// RewardRate - доля stake, выплачиваемая выбранному валидатору.
	RewardRate float64
	Validators []types.Validator
	Seed       int64
}

// DefaultConfig возвращает значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		RewardRate: 0.1,
		Validators: DefaultValidators(),
	}
}

// DefaultValidators - начальный состав валидаторов.
func DefaultValidators() []types.Validator {
	return []types.Validator{
		{Name: "Validator A", Stake: 10},
		{Name: "Validator B", Stake: 50},
		{Name: "Validator C", Stake: 40},
	}
}

func (c Config) withDefaults() Config {
	if c.RewardRate <= 0 {
		c.RewardRate = DefaultConfig().RewardRate
	}
	if c.Validators == nil {
		c.Validators = DefaultValidators()
	}
	return c
}

// ValidationResult описывает один раунд выбора.
type ValidationResult struct {
	Validator            string  `json:"validator"`
	Stake                int     `json:"stake"`
	Reward               float64 `json:"reward"`
	TotalBlocksValidated int     `json:"total_blocks_validated"`
}

// SelectionStat - как часто валидатор выигрывал в серии раундов.
type SelectionStat struct {
	Name               string  `json:"name"`
	TimesSelected      int     `json:"times_selected"`
	Percentage         float64 `json:"percentage"`
	ExpectedPercentage float64 `json:"expected_percentage"`
	Stake              int     `json:"stake"`
	TotalRewards       float64 `json:"total_rewards"`
}

// BatchSummary возвращается ValidateMany. Порядок как в списке валидаторов.
type BatchSummary struct {
	TotalValidations int               `json:"total_validations"`
	Statistics       []SelectionStat   `json:"statistics"`
	Validators       []types.Validator `json:"validators"`
}

// ValidatorStats - статистика валидатора для Stats.
type ValidatorStats struct {
	Name                 string  `json:"name"`
	Stake                int     `json:"stake"`
	StakePercentage      float64 `json:"stake_percentage"`
	BlocksValidated      int     `json:"blocks_validated"`
	ValidationPercentage float64 `json:"validation_percentage"`
	TotalRewards         float64 `json:"total_rewards"`
}

// PoS выбирает валидаторов пропорционально stake.
type PoS struct {
	mu         sync.Mutex
	cfg        Config
	validators []*types.Validator
	history    []ValidationResult
	rng        *rand.Rand
}

// NewPoS создает движок с заданными валидаторами.
func NewPoS(cfg Config) *PoS {
	cfg = cfg.withDefaults()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	p := &PoS{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
	p.resetLocked()

	slog.Debug("PoS движок инициализирован", "validators", len(p.validators), "reward_rate", cfg.RewardRate)
	return p
}

func (p *PoS) Name() string {
	return "PoS"
}

// Reset возвращает начальных валидаторов и очищает историю.
func (p *PoS) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked()
	slog.Info("PoS движок сброшен", "validators", len(p.validators))
}

func (p *PoS) resetLocked() {
	p.validators = make([]*types.Validator, 0, len(p.cfg.Validators))
	for _, v := range p.cfg.Validators {
		p.validators = append(p.validators, &types.Validator{Name: v.Name, Stake: v.Stake})
	}
	p.history = nil
}

// AddValidator добавляет валидатора. Пустое имя становится "Validator N",
// нулевой stake - 10.
func (p *PoS) AddValidator(name string, stake int) (types.Validator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if stake < 0 {
		return types.Validator{}, errors.WithMessagef(consensus.ErrInvalidParticipant, "stake %d must be positive", stake)
	}
	if stake == 0 {
		stake = defaultStake
	}
	if name == "" {
		name = fmt.Sprintf("Validator %d", len(p.validators)+1)
	}
	for _, v := range p.validators {
		if v.Name == name {
			return types.Validator{}, errors.WithMessagef(consensus.ErrDuplicateParticipant, "validator %q", name)
		}
	}

	v := &types.Validator{Name: name, Stake: stake}
	p.validators = append(p.validators, v)

	slog.Info("Валидатор добавлен", "name", name, "stake", stake)
	return *v, nil
}

// Validators возвращает копию списка валидаторов.
func (p *PoS) Validators() []types.Validator {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.snapshotLocked()
}

// History возвращает все результаты с последнего сброса, от старых к новым.
func (p *PoS) History() []ValidationResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ValidationResult, len(p.history))
	copy(out, p.history)
	return out
}

// Validate выбирает валидатора по stake, засчитывает ему блок
// и выплачивает RewardRate * stake.
func (p *PoS) Validate() (ValidationResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.validateLocked()
}

func (p *PoS) validateLocked() (ValidationResult, error) {
	v := p.selectValidator()
	if v == nil {
		return ValidationResult{}, consensus.ErrNoValidators
	}

	reward := float64(v.Stake) * p.cfg.RewardRate
	v.BlocksValidated++
	v.Rewards += reward

	res := ValidationResult{
		Validator:            v.Name,
		Stake:                v.Stake,
		Reward:               round(reward, 2),
		TotalBlocksValidated: v.BlocksValidated,
	}
	p.history = append(p.history, res)

	slog.Debug("Блок подтвержден", "validator", v.Name, "stake", v.Stake, "reward", res.Reward)
	return res, nil
}

// ValidateMany проводит n раундов и сравнивает частоту выбора
// каждого валидатора с его долей stake.
func (p *PoS) ValidateMany(n int) (*BatchSummary, error) {
	if n <= 0 {
		return nil, errors.WithMessagef(consensus.ErrInvalidCount, "got %d", n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.validators) == 0 {
		return nil, consensus.ErrNoValidators
	}

	selected := make(map[string]int, len(p.validators))
	for i := 0; i < n; i++ {
		res, err := p.validateLocked()
		if err != nil {
			return nil, err
		}
		selected[res.Validator]++
	}

	total := p.totalStakeLocked()
	stats := make([]SelectionStat, 0, len(p.validators))
	for _, v := range p.validators {
		stats = append(stats, SelectionStat{
			Name:               v.Name,
			TimesSelected:      selected[v.Name],
			Percentage:         round(float64(selected[v.Name])*100/float64(n), 1),
			ExpectedPercentage: round(float64(v.Stake)*100/float64(total), 1),
			Stake:              v.Stake,
			TotalRewards:       round(v.Rewards, 2),
		})
	}

	slog.Info("Серия валидаций завершена", "rounds", n, "validators", len(p.validators))

	return &BatchSummary{
		TotalValidations: n,
		Statistics:       stats,
		Validators:       p.snapshotLocked(),
	}, nil
}

// Stats возвращает долю stake и долю подтвержденных блоков по валидаторам.
func (p *PoS) Stats() ([]ValidatorStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.validators) == 0 {
		return nil, consensus.ErrNoValidators
	}

	totalStake := p.totalStakeLocked()
	totalValidated := 0
	for _, v := range p.validators {
		totalValidated += v.BlocksValidated
	}

	out := make([]ValidatorStats, 0, len(p.validators))
	for _, v := range p.validators {
		s := ValidatorStats{
			Name:            v.Name,
			Stake:           v.Stake,
			BlocksValidated: v.BlocksValidated,
			TotalRewards:    round(v.Rewards, 2),
		}
		if totalStake > 0 {
			s.StakePercentage = round(float64(v.Stake)*100/float64(totalStake), 1)
		}
		if totalValidated > 0 {
			s.ValidationPercentage = round(float64(v.BlocksValidated)*100/float64(totalValidated), 1)
		}
		out = append(out, s)
	}
	return out, nil
}

// GetMetrics возвращает число подтвержденных блоков и валидаторов.
func (p *PoS) GetMetrics() types.Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	validated := int64(len(p.history))
	m := types.Metrics{
		Algorithm:       p.Name(),
		NodeCount:       len(p.validators),
		ConfirmedBlocks: validated,
		TotalRounds:     validated,
		Timestamp:       time.Now(),
		Notes:           fmt.Sprintf("total_stake=%d", p.totalStakeLocked()),
	}
	if validated > 0 {
		m.SuccessRate = 1
	}
	return m
}

// selectValidator выбирает валидатора пропорционально stake,
// обходя список в порядке регистрации.
func (p *PoS) selectValidator() *types.Validator {
	total := p.totalStakeLocked()
	if total <= 0 {
		return nil
	}

	r := p.rng.Intn(total)
	for _, v := range p.validators {
		r -= v.Stake
		if r < 0 {
			return v
		}
	}

	return p.validators[len(p.validators)-1]
}

func (p *PoS) totalStakeLocked() int {
	total := 0
	for _, v := range p.validators {
		total += v.Stake
	}
	return total
}

func (p *PoS) snapshotLocked() []types.Validator {
	out := make([]types.Validator, len(p.validators))
	for i, v := range p.validators {
		out[i] = *v
	}
	return out
}

func round(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}

package types

import "time"

// Miner - участник PoW. HashPower - относительная скорость.
type Miner struct {
	Name        string `json:"name"`
	HashPower   int    `json:"hash_power"`
	BlocksMined int    `json:"blocks_mined"`
}

// Validator - участник PoS. Stake - вес при выборе.
type Validator struct {
	Name            string  `json:"name"`
	Stake           int     `json:"stake"`
	BlocksValidated int     `json:"blocks_validated"`
	Rewards         float64 `json:"rewards"`
}

// ForkEvent - запись о форке. После создания не меняется.
type ForkEvent struct {
	Timestamp         float64       `json:"timestamp"`
	ForkA             ChainSnapshot `json:"fork_a"`
	ForkB             ChainSnapshot `json:"fork_b"`
	MinerADelay       float64       `json:"miner_a_delay"`
	MinerBDelay       float64       `json:"miner_b_delay"`
	AdditionalBlocksA int           `json:"additional_blocks_a"`
	AdditionalBlocksB int           `json:"additional_blocks_b"`
}

// JobKind - операция движка, которую может запросить генератор нагрузки.
type JobKind string

const (
	JobMine     JobKind = "mine"
	JobValidate JobKind = "validate"
	JobFork     JobKind = "fork"
	JobResolve  JobKind = "resolve"
)

// Job - единица нагрузки.
type Job struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics - снимок метрик одного симулятора.
type Metrics struct {
	Algorithm        string    `json:"algorithm"`
	NodeCount        int       `json:"node_count"`
	ConfirmedBlocks  int64     `json:"confirmed_blocks"`
	TotalRounds      int64     `json:"total_rounds"`
	FailedRounds     int64     `json:"failed_rounds"`
	SuccessRate      float64   `json:"success_rate"`
	ConsensusTimeAvg float64   `json:"consensus_time_avg"` // ms
	Difficulty       int       `json:"difficulty,omitempty"`
	ForkCount        int       `json:"fork_count"`
	Branches         int       `json:"branches,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Notes            string    `json:"notes"`
}

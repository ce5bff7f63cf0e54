package pow

import (
	"context"
	"math/rand"
	"time"

	"consensus-simulator/internal/types"
)

// ctxCheckInterval - число попыток между проверками отмены.
const ctxCheckInterval = 256

// contender - участник гонки, зафиксированный в начале раунда.
type contender struct {
	index int
	miner types.Miner
	seed  int64
}

type searchResult struct {
	contender contender
	block     types.Block
	attempts  int64
	elapsed   time.Duration
}

// search перебирает nonce для одного майнера на его копии блока.
// Возвращает false, если ctx завершился раньше.
func search(ctx context.Context, candidate types.Block, c contender, difficulty int, cfg Config) (*searchResult, bool) {
	rng := rand.New(rand.NewSource(c.seed))
	block := candidate
	throttleEvery := int64(throttleInterval(cfg.ThrottleBase, c.miner.HashPower))

	start := time.Now()
	var attempts int64
	for {
		block.SetNonce(rng.Int63n(cfg.MaxNonce + 1))
		attempts++

		if block.MeetsDifficulty(difficulty) {
			return &searchResult{
				contender: c,
				block:     block,
				attempts:  attempts,
				elapsed:   time.Since(start),
			}, true
		}

		if attempts%throttleEvery == 0 {
			time.Sleep(cfg.ThrottleDelay)
			if ctx.Err() != nil {
				return nil, false
			}
		}
		if attempts%ctxCheckInterval == 0 && ctx.Err() != nil {
			return nil, false
		}
	}
}

// throttleInterval - число попыток между паузами. Растет с хешрейтом,
// сильные майнеры делают паузы реже. base - интервал для хешрейта 100.
func throttleInterval(base, hashPower int) int {
	return max(1, base*hashPower/100)
}

// pickByHashPower выбирает участника пропорционально хешрейту.
func pickByHashPower(rng *rand.Rand, contenders []contender) contender {
	total := 0
	for _, c := range contenders {
		total += c.miner.HashPower
	}

	r := rng.Intn(total)
	for _, c := range contenders {
		r -= c.miner.HashPower
		if r < 0 {
			return c
		}
	}

	return contenders[len(contenders)-1]
}

package pow

import (
	"fmt"
	"time"
)

// Retarget пересчитывает сложность по времени одного раунда.
// Каждый раунд учитывается отдельно, поэтому сложность может колебаться.
//
//	t < T/2              → difficulty+1
//	t > 2T, difficulty>1 → difficulty-1
//	иначе                → без изменений
//
// Если сложность не изменилась, сообщение пустое.
func Retarget(difficulty int, miningTime, target time.Duration) (int, string) {
	switch {
	case miningTime < target/2:
		difficulty++
		return difficulty, fmt.Sprintf("difficulty raised to %d", difficulty)
	case miningTime > 2*target && difficulty > 1:
		difficulty--
		return difficulty, fmt.Sprintf("difficulty lowered to %d", difficulty)
	}
	return difficulty, ""
}

// AdjustDifficulty пересчитывает сложность движка по miningTime
// и возвращает сообщение об изменении.
func (p *PoW) AdjustDifficulty(miningTime time.Duration) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.adjustDifficultyLocked(miningTime)
}

func (p *PoW) adjustDifficultyLocked(miningTime time.Duration) string {
	next, msg := Retarget(p.difficulty, miningTime, p.cfg.TargetBlockTime)
	p.difficulty = next
	return msg
}

package consensus

import (
	"consensus-simulator/internal/types"
)

// Simulator - общий интерфейс движков консенсуса для монитора и API.
type Simulator interface {
	// Name возвращает название алгоритма, например "PoW".
	Name() string

	// Reset возвращает движок к начальному составу участников.
	Reset()

	// GetMetrics возвращает снимок счетчиков движка.
	GetMetrics() types.Metrics
}

package consensus

import "github.com/pkg/errors"

// Ошибки симуляции. Все они восстановимы и не меняют состояние движка.
var (
	ErrNoMiners             = errors.New("no miners registered")
	ErrNoValidators         = errors.New("no validators in the network")
	ErrMiningTimeout        = errors.New("mining timeout")
	ErrNothingToResolve     = errors.New("no fork to resolve, create a fork first")
	ErrInvalidParticipant   = errors.New("invalid participant")
	ErrDuplicateParticipant = errors.New("participant already registered")
	ErrInvalidCount         = errors.New("count must be positive")
)

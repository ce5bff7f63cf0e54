package types

import (
	"github.com/pkg/errors"
)

// ErrBrokenLink возвращается, если блок не продолжает вершину цепочки.
var ErrBrokenLink = errors.New("block does not link to chain tip")

// Chain - именованная цепочка блоков от genesis, только добавление.
type Chain struct {
	Name   string
	blocks []Block
}

// ChainSnapshot - сериализуемое представление цепочки.
type ChainSnapshot struct {
	Name   string  `json:"name"`
	Length int     `json:"length"`
	Blocks []Block `json:"blocks"`
}

// NewChain создает цепочку из одного genesis-блока.
func NewChain(name string, genesis Block) *Chain {
	return &Chain{
		Name:   name,
		blocks: []Block{genesis},
	}
}

// Len возвращает число блоков.
func (c *Chain) Len() int {
	return len(c.blocks)
}

// Last возвращает вершину.
func (c *Chain) Last() (Block, bool) {
	if len(c.blocks) == 0 {
		return Block{}, false
	}
	return c.blocks[len(c.blocks)-1], true
}

// Append добавляет b в конец. У b должен быть следующий индекс
// и ссылка на текущую вершину.
func (c *Chain) Append(b Block) error {
	tip, ok := c.Last()
	if !ok {
		if b.Index != 0 || b.PreviousHash != GenesisPreviousHash {
			return errors.Wrapf(ErrBrokenLink, "chain %q is empty, block %d is not a genesis block", c.Name, b.Index)
		}
		c.blocks = append(c.blocks, b)
		return nil
	}

	if b.Index != len(c.blocks) {
		return errors.Wrapf(ErrBrokenLink, "chain %q expects index %d, got %d", c.Name, len(c.blocks), b.Index)
	}
	if b.PreviousHash != tip.Hash {
		return errors.Wrapf(ErrBrokenLink, "chain %q block %d previous_hash mismatch", c.Name, b.Index)
	}

	c.blocks = append(c.blocks, b)
	return nil
}

// Blocks возвращает копию блоков.
func (c *Chain) Blocks() []Block {
	out := make([]Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Clone копирует блоки в новую цепочку с именем name.
func (c *Chain) Clone(name string) *Chain {
	return &Chain{
		Name:   name,
		blocks: c.Blocks(),
	}
}

// Snapshot возвращает копию для сериализации.
func (c *Chain) Snapshot() ChainSnapshot {
	return ChainSnapshot{
		Name:   c.Name,
		Length: len(c.blocks),
		Blocks: c.Blocks(),
	}
}

// Validate проверяет genesis, хеши и связи всех блоков.
func (c *Chain) Validate() error {
	return ValidateBlocks(c.blocks)
}

// ValidateBlocks проверяет блоки так же, как Chain.Validate.
func ValidateBlocks(blocks []Block) error {
	for i, b := range blocks {
		if !b.HasValidHash() {
			return errors.Errorf("block %d hash does not match its contents", i)
		}
		if b.Index != i {
			return errors.Wrapf(ErrBrokenLink, "block at position %d has index %d", i, b.Index)
		}
		if i == 0 {
			if b.PreviousHash != GenesisPreviousHash {
				return errors.Wrap(ErrBrokenLink, "genesis block does not carry the sentinel previous_hash")
			}
			continue
		}
		if b.PreviousHash != blocks[i-1].Hash {
			return errors.Wrapf(ErrBrokenLink, "block %d previous_hash mismatch", i)
		}
	}
	return nil
}

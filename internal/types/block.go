package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// GenesisPreviousHash - previous_hash любого genesis-блока.
const GenesisPreviousHash = "0"

// Block - блок цепочки. Hash вычисляется из остальных полей
// и обновляется при смене nonce через SetNonce.
type Block struct {
	Index        int     `json:"index"`
	Timestamp    float64 `json:"timestamp"`
	Data         string  `json:"data"`
	PreviousHash string  `json:"previous_hash"`
	Nonce        int64   `json:"nonce"`
	Hash         string  `json:"hash"`
}

// NewBlock создает блок и вычисляет его хеш.
func NewBlock(index int, timestamp float64, data, previousHash string, nonce int64) Block {
	b := Block{
		Index:        index,
		Timestamp:    timestamp,
		Data:         data,
		PreviousHash: previousHash,
		Nonce:        nonce,
	}
	b.Hash = b.CalculateHash()
	return b
}

// NewGenesisBlock возвращает первый блок цепочки.
func NewGenesisBlock(timestamp float64) Block {
	return NewBlock(0, timestamp, "Genesis Block", GenesisPreviousHash, 0)
}

// CalculateHash возвращает hex SHA-256 полей блока.
func (b Block) CalculateHash() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(b.Index))
	sb.WriteString(strconv.FormatFloat(b.Timestamp, 'f', -1, 64))
	sb.WriteString(b.Data)
	sb.WriteString(b.PreviousHash)
	sb.WriteString(strconv.FormatInt(b.Nonce, 10))

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// SetNonce меняет nonce и пересчитывает хеш.
func (b *Block) SetNonce(nonce int64) {
	b.Nonce = nonce
	b.Hash = b.CalculateHash()
}

// HasValidHash проверяет, что хеш соответствует полям блока.
func (b Block) HasValidHash() bool {
	return b.Hash == b.CalculateHash()
}

// MeetsDifficulty проверяет, что хеш начинается с difficulty нулей.
func (b Block) MeetsDifficulty(difficulty int) bool {
	return HashMeetsDifficulty(b.Hash, difficulty)
}

// HashMeetsDifficulty проверяет ведущие нули hex-хеша.
func HashMeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > len(hash) {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hash[i] != '0' {
			return false
		}
	}
	return true
}

// Timestamp переводит t в секунды Unix с дробной частью.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

package room

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// CodeAlphabet 房間代碼字元集（大寫英數）
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultCodeLength 房間代碼長度
	DefaultCodeLength = 6

	// DefaultMaxCodeAttempts 產生唯一代碼的最大嘗試次數
	DefaultMaxCodeAttempts = 32
)

// CodeGenerator 產生候選房間代碼，唯一性由 Manager 檢查
type CodeGenerator interface {
	Generate() (string, error)
}

// RandomCodes 以 crypto/rand 產生固定長度的代碼
type RandomCodes struct {
	Length   int
	Alphabet string
}

// NewRandomCodes 建立代碼產生器，length <= 0 時使用預設長度
func NewRandomCodes(length int) RandomCodes {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return RandomCodes{Length: length, Alphabet: CodeAlphabet}
}

// Generate 產生一個候選代碼
func (g RandomCodes) Generate() (string, error) {
	alphabet := g.Alphabet
	if alphabet == "" {
		alphabet = CodeAlphabet
	}

	b := make([]byte, g.Length)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

// CodeFunc 讓普通函式滿足 CodeGenerator（測試用）
type CodeFunc func() (string, error)

// Generate 實現 CodeGenerator
func (f CodeFunc) Generate() (string, error) {
	return f()
}

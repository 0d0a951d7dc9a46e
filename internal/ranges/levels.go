package ranges

import "github.com/shopspring/decimal"

// CreekLevel is the support boundary of a trading range, with the pivot
// indexes that voted for it
type CreekLevel struct {
	Price    decimal.Decimal `json:"price"`
	Strength float64         `json:"strength"` // 0-100
	Pivots   []int           `json:"pivots"`
}

// IceLevel is the resistance boundary of a trading range
type IceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Strength float64         `json:"strength"` // 0-100
	Pivots   []int           `json:"pivots"`
}

// JumpTarget is the measured-move objective: Ice + (Ice - Creek)
type JumpTarget struct {
	Price decimal.Decimal `json:"price"`
}

// ComputeJump derives the measured-move target from creek and ice
func ComputeJump(creek CreekLevel, ice IceLevel) JumpTarget {
	return JumpTarget{Price: ice.Price.Add(ice.Price.Sub(creek.Price))}
}

package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// FiredAlert is the audit record written once a rule has been dispatched.
type FiredAlert struct {
	ID        int64
	RuleID    int64
	UserID    int64
	Symbol    string
	Price     decimal.Decimal
	Threshold decimal.Decimal
	Direction string
	FiredAt   time.Time
	CreatedAt time.Time
}

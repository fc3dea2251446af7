package alerting

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/pricecache"
)

// Trigger directions for a price rule.
const (
	DirectionAbove = ">"
	DirectionBelow = "<"
)

// Rule is a user-defined price-crossing alert. Rules are owned by the
// persistence layer; the evaluator only reads them.
type Rule struct {
	ID        int64
	UserID    int64
	Symbol    string
	Threshold decimal.Decimal
	Direction string
	Note      string
	CreatedAt time.Time
}

// Fired pairs a rule with the price record that tripped it.
type Fired struct {
	Rule   Rule
	Record pricecache.Record
}

// Evaluate checks each rule's threshold against the current cached price.
//
// This is a level check, not a trajectory check: a rule already beyond its
// threshold fires again on every refresh until the caller removes it.
// Records without a previous-price baseline are skipped outright; there is
// nothing they could have crossed yet.
func Evaluate(ctx context.Context, rules []Rule, cache *pricecache.Cache) ([]Fired, error) {
	if len(rules) == 0 {
		return nil, nil
	}

	symbols := distinctSymbols(rules)
	records, err := cache.GetMany(ctx, symbols)
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string]pricecache.Record, len(records))
	for _, rec := range records {
		if rec.PreviousPrice == nil {
			continue
		}
		bySymbol[rec.Symbol] = rec
	}

	var fired []Fired
	for _, rule := range rules {
		rec, ok := bySymbol[strings.ToUpper(rule.Symbol)]
		if !ok {
			continue
		}
		if crossed(rule, rec.Price) {
			fired = append(fired, Fired{Rule: rule, Record: rec})
		}
	}
	return fired, nil
}

func crossed(rule Rule, price decimal.Decimal) bool {
	switch rule.Direction {
	case DirectionAbove:
		return price.GreaterThan(rule.Threshold)
	case DirectionBelow:
		return price.LessThan(rule.Threshold)
	default:
		return false
	}
}

func distinctSymbols(rules []Rule) []string {
	seen := make(map[string]struct{}, len(rules))
	symbols := make([]string, 0, len(rules))
	for _, r := range rules {
		sym := strings.ToUpper(strings.TrimSpace(r.Symbol))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	return symbols
}

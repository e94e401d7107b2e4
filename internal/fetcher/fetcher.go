package fetcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Observation is one successful reading of a live source.
type Observation struct {
	Source      string
	Value       decimal.Decimal
	Unit        string
	Raw         json.RawMessage
	BlockNumber uint64
	FetchedAt   time.Time
}

// Source retrieves the current value of a single live metric. Fetch never
// substitutes a fallback constant: a failed read is an error.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Observation, error)
}

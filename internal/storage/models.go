package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Observation status values.
const (
	StatusComplete = "complete"
	StatusErrored  = "errored"
)

// Observation is one refresh of one live source. Errored rows carry no
// value: a failed fetch is never recorded as a price.
type Observation struct {
	Bucket      time.Time           `json:"bucket"`
	Source      string              `json:"source"`
	Value       decimal.NullDecimal `json:"value"`
	Unit        string              `json:"unit,omitempty"`
	Raw         json.RawMessage     `json:"raw,omitempty"`
	BlockNumber *int64              `json:"block_number,omitempty"`
	Status      string              `json:"status"`
	Error       *string             `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// AlertRecord captures an emitted alert for de-duplication/auditing.
type AlertRecord struct {
	ID        int64
	Bucket    time.Time
	Metric    string
	Source    string
	Value     decimal.Decimal
	Label     string
	Severity  string
	Channels  []string
	CreatedAt time.Time
}

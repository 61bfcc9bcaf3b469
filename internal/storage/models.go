package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunSample is the persisted outcome of one input during one polling run.
type RunSample struct {
	ID           int64
	RunID        string
	Input        string
	WindowSince  time.Time
	WindowUntil  time.Time
	Measurements int
	Anomalies    int
	Failures     int
	Confirmed    int
	AnomalyRate  decimal.Decimal
	WeirdRate    decimal.Decimal
	Change       *decimal.Decimal
	Status       string
	Error        *string
	CreatedAt    time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID        int64
	RunID     string
	Input     string
	Change    decimal.Decimal
	Threshold decimal.Decimal
	CreatedAt time.Time
}

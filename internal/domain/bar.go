package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV candle for a symbol at a given timeframe.
type Bar struct {
	Symbol    string
	Timeframe string // "1m", "5m", "15m", "30m", "1h", "4h", "1d"
	Ts        time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind is the tag of a trade log line.
type EventKind string

// Event kinds
const (
	EventEntry EventKind = "ENTRY"
	EventExit  EventKind = "EXIT"
)

// Direction is the spread direction of a two-leg position.
// Unknown directions are kept verbatim and realize zero pnl.
type Direction string

// Direction constants
const (
	DirectionLongSpread  Direction = "LongSpread"
	DirectionShortSpread Direction = "ShortSpread"
)

// TradeEvent represents one parsed ENTRY or EXIT line of a backtest log.
type TradeEvent struct {
	Kind      EventKind
	Pair      string    // pair id, e.g. "BTC/ETH"
	Direction Direction // LongSpread | ShortSpread | other
	Timestamp time.Time // log timestamp, or ts= override in UTC

	// Legs
	SizeA  decimal.Decimal
	PriceA decimal.Decimal
	SizeB  decimal.Decimal
	PriceB decimal.Decimal

	PnL *decimal.Decimal // realized pnl reported by the strategy (EXIT only, nullable)
}

// ClosedTrade is a realized round trip produced by position accounting.
type ClosedTrade struct {
	Pair        string
	Direction   Direction
	EntryTime   time.Time
	ExitTime    time.Time
	PnL         decimal.Decimal // after transaction costs
	Return      float64         // pnl / entry notional
	HoldSeconds float64         // max(0, exit - entry)

	BoundaryMarked bool // entry basis was reset at window start
	Forced         bool // closed by window end or duplicate entry, not by an EXIT
}

package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// PriceScale converts between the wire protocol's fixed-point integer
// prices and real currency units.
const PriceScale = 100_000

// MoneyScale converts the protocol's integer money amounts (profit, swap,
// commission, balance) to real currency units.
const MoneyScale = 100

func RealPrice(raw int64) float64 {
	return float64(raw) / PriceScale
}

func RawPrice(real float64) int64 {
	if real >= 0 {
		return int64(real*PriceScale + 0.5)
	}
	return int64(real*PriceScale - 0.5)
}

func RealMoney(raw int64) float64 {
	return float64(raw) / MoneyScale
}

// Position is one open exposure. The authoritative list lives on the
// broker; this is the engine's cached copy.
type Position struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Volume     float64   `json:"volume"`
	OpenedAt   time.Time `json:"opened_at"`
}

// TradeRecord is a closed-trade ledger entry. Never mutated after creation.
type TradeRecord struct {
	DealID   int64     `json:"deal_id"`
	Side     Side      `json:"side"`
	Profit   float64   `json:"profit"`
	Balance  float64   `json:"balance"`
	ClosedAt time.Time `json:"closed_at"`
}

// StrategyConfig holds the runtime-tunable strategy parameters. Distances
// are in real price units, lot size in lots.
type StrategyConfig struct {
	EntryOffset        float64 `json:"entry_offset" yaml:"entry_offset"`
	LongTakeProfit     float64 `json:"long_take_profit" yaml:"long_take_profit"`
	ShortTakeProfit    float64 `json:"short_take_profit" yaml:"short_take_profit"`
	LongStopLoss       float64 `json:"long_stop_loss" yaml:"long_stop_loss"`
	ShortStopLoss      float64 `json:"short_stop_loss" yaml:"short_stop_loss"`
	LotSize            float64 `json:"lot_size" yaml:"lot_size"`
	WatchAfterOpenMin  int     `json:"watch_after_open_min" yaml:"watch_after_open_min"`
	BaselineOffsetMin  int     `json:"baseline_offset_min" yaml:"baseline_offset_min"`
}

// WeekInterval is a trading interval in seconds relative to week start
// (Sunday 00:00 UTC), half-open [Start, End).
type WeekInterval struct {
	StartSec int `json:"start_sec"`
	EndSec   int `json:"end_sec"`
}

// Holiday is a non-trading date, optionally only an intraday sub-range.
// Recurring holidays repeat every year on the same month and day.
type Holiday struct {
	Date      string `json:"date"` // YYYY-MM-DD
	StartSec  int    `json:"start_sec"`
	EndSec    int    `json:"end_sec"`
	Recurring bool   `json:"recurring"`
}

// SymbolInfo is cached static instrument metadata.
type SymbolInfo struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	LotSize    int64          `json:"lot_size"` // units per lot, in volume units
	Digits     int            `json:"digits"`
	MinVolume  int64          `json:"min_volume"`
	StepVolume int64          `json:"step_volume"`
	Schedule   []WeekInterval `json:"schedule"`
	Holidays   []Holiday      `json:"holidays"`
	FetchedAt  time.Time      `json:"-"`
}

// Snapshot is the persisted engine state: everything that must survive a
// restart without re-trading the same session.
type Snapshot struct {
	Wins           int            `json:"wins"`
	Losses         int            `json:"losses"`
	Balance        float64        `json:"balance"`
	TodayTradeDone bool           `json:"today_trade_done"`
	LastResetDate  string         `json:"last_reset_date"`
	History        []TradeRecord  `json:"history"`
	Config         StrategyConfig `json:"config"`
}

package domain

// EventKind enumerates every notification the engine can emit. The set is
// closed so sinks can switch exhaustively.
type EventKind string

const (
	EventTradeOpened         EventKind = "trade-opened"
	EventTradeClosed         EventKind = "trade-closed"
	EventTradeError          EventKind = "trade-error"
	EventPositionsReconciled EventKind = "positions-reconciled"
	EventPriceUpdate         EventKind = "price-update"
	EventAccountUpdate       EventKind = "account-update"
)

type Event interface {
	Kind() EventKind
}

type TradeOpened struct {
	Symbol string  `json:"symbol"`
	Side   Side    `json:"side"`
	Volume float64 `json:"volume"`
	Price  float64 `json:"price"`
}

func (TradeOpened) Kind() EventKind { return EventTradeOpened }

type TradeClosed struct {
	Record TradeRecord `json:"record"`
	Wins   int         `json:"wins"`
	Losses int         `json:"losses"`
}

func (TradeClosed) Kind() EventKind { return EventTradeClosed }

// TradeError reports an engine-level failure that affects trading safety.
// Fatal means no further order attempts will be made this session.
type TradeError struct {
	Reason string `json:"reason"`
	Fatal  bool   `json:"fatal"`
}

func (TradeError) Kind() EventKind { return EventTradeError }

type PositionsReconciled struct {
	Positions []Position `json:"positions"`
}

func (PositionsReconciled) Kind() EventKind { return EventPositionsReconciled }

type PriceUpdate struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

func (PriceUpdate) Kind() EventKind { return EventPriceUpdate }

type AccountUpdate struct {
	Balance float64 `json:"balance"`
}

func (AccountUpdate) Kind() EventKind { return EventAccountUpdate }

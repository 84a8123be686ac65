package protocol

import "github.com/maxvit/ctrader_meanrev/internal/domain"

// Message bodies. Prices are raw fixed-point integers unless a field says
// otherwise; money amounts are integer cents.

type AppAuthRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type AppAuthResponse struct{}

type AccountAuthRequest struct {
	AccountID   int64  `json:"accountId"`
	AccessToken string `json:"accessToken"`
}

type AccountAuthResponse struct {
	AccountID int64 `json:"accountId"`
}

// ErrorEvent is the broker's generic failure response. When it carries a
// correlation id it answers a specific request.
type ErrorEvent struct {
	Code        string `json:"errorCode"`
	Description string `json:"description"`
}

type HeartbeatEvent struct{}

type SymbolsListRequest struct {
	AccountID int64 `json:"accountId"`
}

type SymbolRef struct {
	ID   int64  `json:"symbolId"`
	Name string `json:"symbolName"`
}

type SymbolsListResponse struct {
	Symbols []SymbolRef `json:"symbol"`
}

type SymbolInfoRequest struct {
	AccountID int64 `json:"accountId"`
	SymbolID  int64 `json:"symbolId"`
}

type SymbolInfoResponse struct {
	Symbol domain.SymbolInfo `json:"symbol"`
}

type SubscribeSpotsRequest struct {
	AccountID int64 `json:"accountId"`
	SymbolID  int64 `json:"symbolId"`
}

type SubscribeSpotsResponse struct{}

// SpotEvent carries a quote tick in raw price units. A zero side means the
// broker did not update that side on this tick.
type SpotEvent struct {
	SymbolID int64 `json:"symbolId"`
	Bid      int64 `json:"bid"`
	Ask      int64 `json:"ask"`
}

type NewOrderRequest struct {
	AccountID     int64  `json:"accountId"`
	SymbolID      int64  `json:"symbolId"`
	OrderType     string `json:"orderType"` // MARKET
	Side          string `json:"tradeSide"` // BUY / SELL
	Volume        int64  `json:"volume"`    // volume units, not lots
	ClientOrderID string `json:"clientOrderId"`
}

// ExecutionType values observed on ExecutionEvent.
const (
	ExecOrderAccepted = "ORDER_ACCEPTED"
	ExecOrderFilled   = "ORDER_FILLED"
	ExecOrderRejected = "ORDER_REJECTED"
)

type PositionRecord struct {
	ID          int64   `json:"positionId"`
	SymbolID    int64   `json:"symbolId"`
	Side        string  `json:"tradeSide"`
	EntryPrice  float64 `json:"price"` // real units
	Volume      int64   `json:"volume"`
	OpenedAtMs  int64   `json:"openTimestamp"`
}

// ClosePositionDetail is present on deals that close (part of) a position.
// Amounts are integer cents.
type ClosePositionDetail struct {
	GrossProfit int64 `json:"grossProfit"`
	Swap        int64 `json:"swap"`
	Commission  int64 `json:"commission"`
	Balance     int64 `json:"balance"`
}

type DealRecord struct {
	ID          int64                `json:"dealId"`
	Side        string               `json:"tradeSide"`
	CloseDetail *ClosePositionDetail `json:"closePositionDetail,omitempty"`
	TimestampMs int64                `json:"executionTimestamp"`
}

type ExecutionEvent struct {
	ExecutionType string          `json:"executionType"`
	Position      *PositionRecord `json:"position,omitempty"`
	Deal          *DealRecord     `json:"deal,omitempty"`
	ClientOrderID string          `json:"clientOrderId,omitempty"`
}

type OrderErrorEvent struct {
	Code          string `json:"errorCode"`
	Description   string `json:"description"`
	ClientOrderID string `json:"clientOrderId,omitempty"`
}

type AmendPositionRequest struct {
	AccountID  int64   `json:"accountId"`
	PositionID int64   `json:"positionId"`
	StopLoss   float64 `json:"stopLoss"`   // real units
	TakeProfit float64 `json:"takeProfit"` // real units
}

type AmendPositionResponse struct {
	PositionID int64 `json:"positionId"`
}

type ReconcileRequest struct {
	AccountID int64 `json:"accountId"`
}

type ReconcileResponse struct {
	Positions []PositionRecord `json:"position"`
}

type TrendbarsRequest struct {
	AccountID int64  `json:"accountId"`
	SymbolID  int64  `json:"symbolId"`
	Period    string `json:"period"` // M1
	FromMs    int64  `json:"fromTimestamp"`
	ToMs      int64  `json:"toTimestamp"`
}

// Trendbar encodes the open as an offset from the low rather than an
// absolute price.
type Trendbar struct {
	TimestampMin int64 `json:"utcTimestampInMinutes"`
	Low          int64 `json:"low"`
	DeltaOpen    int64 `json:"deltaOpen"`
	DeltaHigh    int64 `json:"deltaHigh"`
	DeltaClose   int64 `json:"deltaClose"`
	Volume       int64 `json:"volume"`
}

type TrendbarsResponse struct {
	Bars []Trendbar `json:"trendbar"`
}

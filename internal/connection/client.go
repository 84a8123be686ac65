package connection

import (
	"context"
	"fmt"

	"github.com/maxvit/ctrader_meanrev/internal/domain"
	"github.com/maxvit/ctrader_meanrev/internal/protocol"
)

// Client wraps a Session with typed request helpers for the vendor API.
type Client struct {
	s         *Session
	accountID int64
}

func NewClient(s *Session, accountID int64) *Client {
	return &Client{s: s, accountID: accountID}
}

func (c *Client) AccountID() int64 {
	return c.accountID
}

func (c *Client) request(ctx context.Context, kind protocol.MsgKind, body, out any) error {
	env, err := c.s.Request(ctx, kind, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return protocol.DecodeBody(env, out)
}

// AccountAuth performs account-level authentication with the current
// access token. Wired as the session's AccountAuth hook.
func (c *Client) AccountAuth(ctx context.Context, accessToken string) error {
	var res protocol.AccountAuthResponse
	err := c.request(ctx, protocol.KindAccountAuthRequest, protocol.AccountAuthRequest{
		AccountID:   c.accountID,
		AccessToken: accessToken,
	}, &res)
	if err != nil {
		return err
	}
	if res.AccountID != c.accountID {
		return fmt.Errorf("account auth: broker confirmed account %d, want %d", res.AccountID, c.accountID)
	}
	return nil
}

func (c *Client) SymbolsList(ctx context.Context) ([]protocol.SymbolRef, error) {
	var res protocol.SymbolsListResponse
	err := c.request(ctx, protocol.KindSymbolsListRequest,
		protocol.SymbolsListRequest{AccountID: c.accountID}, &res)
	if err != nil {
		return nil, err
	}
	return res.Symbols, nil
}

func (c *Client) SymbolInfo(ctx context.Context, symbolID int64) (*domain.SymbolInfo, error) {
	var res protocol.SymbolInfoResponse
	err := c.request(ctx, protocol.KindSymbolInfoRequest,
		protocol.SymbolInfoRequest{AccountID: c.accountID, SymbolID: symbolID}, &res)
	if err != nil {
		return nil, err
	}
	info := res.Symbol
	return &info, nil
}

func (c *Client) SubscribeSpots(ctx context.Context, symbolID int64) error {
	return c.request(ctx, protocol.KindSubscribeSpotsRequest,
		protocol.SubscribeSpotsRequest{AccountID: c.accountID, SymbolID: symbolID}, nil)
}

// NewOrder submits a market order. The correlated response is the broker's
// acceptance; fills arrive later as unsolicited execution events.
func (c *Client) NewOrder(ctx context.Context, req protocol.NewOrderRequest) error {
	req.AccountID = c.accountID
	return c.request(ctx, protocol.KindNewOrderRequest, req, nil)
}

func (c *Client) AmendPositionSLTP(ctx context.Context, positionID int64, stopLoss, takeProfit float64) error {
	var res protocol.AmendPositionResponse
	return c.request(ctx, protocol.KindAmendPositionRequest, protocol.AmendPositionRequest{
		AccountID:  c.accountID,
		PositionID: positionID,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}, &res)
}

// Reconcile fetches the broker's authoritative open-position list.
func (c *Client) Reconcile(ctx context.Context) ([]protocol.PositionRecord, error) {
	var res protocol.ReconcileResponse
	err := c.request(ctx, protocol.KindReconcileRequest,
		protocol.ReconcileRequest{AccountID: c.accountID}, &res)
	if err != nil {
		return nil, err
	}
	return res.Positions, nil
}

func (c *Client) Trendbars(ctx context.Context, symbolID int64, period string, fromMs, toMs int64) ([]protocol.Trendbar, error) {
	var res protocol.TrendbarsResponse
	err := c.request(ctx, protocol.KindTrendbarsRequest, protocol.TrendbarsRequest{
		AccountID: c.accountID,
		SymbolID:  symbolID,
		Period:    period,
		FromMs:    fromMs,
		ToMs:      toMs,
	}, &res)
	if err != nil {
		return nil, err
	}
	return res.Bars, nil
}

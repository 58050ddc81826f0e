package rest

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

func pageParams(start, end time.Time) url.Values {
	params := url.Values{}
	if !start.IsZero() {
		params.Set("start_time", strconv.FormatInt(start.Unix(), 10))
	}
	if !end.IsZero() {
		params.Set("end_time", strconv.FormatInt(end.Unix(), 10))
	}
	return params
}

// Public endpoints.

func (c *Client) ListMarkets(ctx context.Context) ([]Market, error) {
	var markets []Market
	err := c.Get(ctx, "/markets", nil, &markets)
	return markets, err
}

func (c *Client) GetMarket(ctx context.Context, name string) (Market, error) {
	var market Market
	err := c.Get(ctx, "/markets/"+name, nil, &market)
	return market, err
}

func (c *Client) ListFutures(ctx context.Context) ([]Future, error) {
	var futures []Future
	err := c.Get(ctx, "/futures", nil, &futures)
	return futures, err
}

func (c *Client) ListFundingRates(ctx context.Context, start, end time.Time) ([]FundingRate, error) {
	var rates []FundingRate
	err := c.Get(ctx, "/funding_rates", pageParams(start, end), &rates)
	return rates, err
}

// Authenticated endpoints.

func (c *Client) AccountInfo(ctx context.Context) (AccountInfo, error) {
	var info AccountInfo
	err := c.AuthGet(ctx, "/account", nil, &info)
	return info, err
}

func (c *Client) ListBalances(ctx context.Context) ([]Balance, error) {
	var balances []Balance
	err := c.AuthGet(ctx, "/wallet/balances", nil, &balances)
	return balances, err
}

func (c *Client) ListCoins(ctx context.Context) ([]Coin, error) {
	var coins []Coin
	err := c.AuthGet(ctx, "/wallet/coins", nil, &coins)
	return coins, err
}

func (c *Client) ListPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	err := c.AuthGet(ctx, "/positions", nil, &positions)
	return positions, err
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if req.Type == "" {
		req.Type = "limit"
	}
	var order Order
	err := c.AuthPost(ctx, "/orders", req, &order)
	return order, err
}

func (c *Client) CancelOrderByClientID(ctx context.Context, clientID string) error {
	return c.AuthDelete(ctx, "/orders/by_client_id/"+clientID, nil, nil)
}

func (c *Client) ListFundingPayments(ctx context.Context, start, end time.Time) ([]FundingPayment, error) {
	var payments []FundingPayment
	err := c.AuthGet(ctx, "/funding_payments", pageParams(start, end), &payments)
	return payments, err
}

func (c *Client) ListBorrowHistory(ctx context.Context, start, end time.Time) ([]BorrowHistory, error) {
	var rows []BorrowHistory
	err := c.AuthGet(ctx, "/spot_margin/borrow_history", pageParams(start, end), &rows)
	return rows, err
}

package rest

import "time"

type Market struct {
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	BaseCurrency   string  `json:"baseCurrency"`
	QuoteCurrency  string  `json:"quoteCurrency"`
	Underlying     string  `json:"underlying"`
	Enabled        bool    `json:"enabled"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	Last           float64 `json:"last"`
	SizeIncrement  float64 `json:"sizeIncrement"`
	PriceIncrement float64 `json:"priceIncrement"`
	MinProvideSize float64 `json:"minProvideSize"`
}

type Future struct {
	Name       string `json:"name"`
	Underlying string `json:"underlying"`
	Enabled    bool   `json:"enabled"`
	Perpetual  bool   `json:"perpetual"`
}

type FundingRate struct {
	Future string    `json:"future"`
	Rate   float64   `json:"rate"`
	Time   time.Time `json:"time"`
}

type AccountInfo struct {
	MarginFraction               float64 `json:"marginFraction"`
	OpenMarginFraction           float64 `json:"openMarginFraction"`
	InitialMarginRequirement     float64 `json:"initialMarginRequirement"`
	MaintenanceMarginRequirement float64 `json:"maintenanceMarginRequirement"`
	TotalAccountValue            float64 `json:"totalAccountValue"`
	TotalPositionSize            float64 `json:"totalPositionSize"`
	Collateral                   float64 `json:"collateral"`
	Leverage                     float64 `json:"leverage"`
	Liquidating                  bool    `json:"liquidating"`
}

type Balance struct {
	Coin  string  `json:"coin"`
	Free  float64 `json:"free"`
	Total float64 `json:"total"`
}

type Coin struct {
	ID         string `json:"id"`
	Collateral bool   `json:"collateral"`
}

// Position is a perpetual position; NetSize is positive for longs and
// negative for shorts.
type Position struct {
	Future   string  `json:"future"`
	Size     float64 `json:"size"`
	NetSize  float64 `json:"netSize"`
	OpenSize float64 `json:"openSize"`
	Side     string  `json:"side"`
}

type OrderRequest struct {
	Market     string   `json:"market"`
	Side       string   `json:"side"`
	Price      *float64 `json:"price"`
	Size       float64  `json:"size"`
	Type       string   `json:"type"`
	ReduceOnly bool     `json:"reduceOnly"`
	IOC        bool     `json:"ioc"`
	PostOnly   bool     `json:"postOnly"`
	ClientID   string   `json:"clientId,omitempty"`
}

type Order struct {
	ID         int64   `json:"id"`
	ClientID   string  `json:"clientId"`
	Market     string  `json:"market"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	FilledSize float64 `json:"filledSize"`
	Status     string  `json:"status"`
}

type FundingPayment struct {
	Future  string    `json:"future"`
	Payment float64   `json:"payment"`
	Rate    float64   `json:"rate"`
	Time    time.Time `json:"time"`
}

type BorrowHistory struct {
	Coin string    `json:"coin"`
	Cost float64   `json:"cost"`
	Rate float64   `json:"rate"`
	Size float64   `json:"size"`
	Time time.Time `json:"time"`
}

package pairs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ftx-arb-bot/internal/ftx/rest"
)

var ErrMarketNotFound = errors.New("market not found")

// RankSide selects which spread rate drives the composite ranking.
type RankSide int

const (
	// ByIncreaseSpread ranks with the spread available when opening more of
	// a pair (perp bid vs spot ask).
	ByIncreaseSpread RankSide = iota
	// ByDecreaseSpread ranks with the spread paid when unwinding (perp ask
	// vs spot bid).
	ByDecreaseSpread
)

// Pair couples a spot market with its perpetual future. Increment and
// minimum fields are immutable after Build; price, spread, funding and rank
// fields are refreshed every cycle.
type Pair struct {
	BaseCurrency  string
	QuoteCurrency string
	SpotMarket    string
	PerpMarket    string

	SpotSizeIncrement   decimal.Decimal
	PerpSizeIncrement   decimal.Decimal
	CommonSizeIncrement decimal.Decimal
	SpotMinSize         decimal.Decimal
	PerpMinSize         decimal.Decimal
	CommonMinSize       decimal.Decimal

	Eligible bool

	SpotPrice          float64
	PerpPrice          float64
	IncreaseSpreadRate float64
	DecreaseSpreadRate float64
	FundingRate        float64
	SpreadRank         int
	FundingRank        int
}

// Quote is a top-of-book view of one market.
type Quote struct {
	Bid float64
	Ask float64
}

// QuoteSource yields live quotes; ok is false while no data has arrived yet.
type QuoteSource interface {
	Quote(ctx context.Context, market string) (Quote, bool)
}

// FundingSource lists historical funding rate observations.
type FundingSource interface {
	ListFundingRates(ctx context.Context, start, end time.Time) ([]rest.FundingRate, error)
}

// Catalog owns the pair set. It is read-mostly; refresh methods take the
// writer side of the lock and accessors return copies.
type Catalog struct {
	quoteCurrency  string
	fundingWindow  time.Duration
	fundingRefresh time.Duration
	log            *zap.Logger
	now            func() time.Time

	mu              sync.RWMutex
	pairs           map[string]*Pair
	lastFundingSync time.Time
}

func NewCatalog(quoteCurrency string, fundingWindow, fundingRefresh time.Duration, log *zap.Logger) *Catalog {
	return &Catalog{
		quoteCurrency:  quoteCurrency,
		fundingWindow:  fundingWindow,
		fundingRefresh: fundingRefresh,
		log:            log,
		now:            time.Now,
		pairs:          make(map[string]*Pair),
	}
}

// Build derives the pair set from exchange metadata. A pair exists when the
// base currency has both an enabled spot market against the quote currency
// and an enabled perpetual future. Eligibility is
// (collateral coins − deny list) ∪ allow list; ineligible pairs stay in the
// catalog but are skipped by every selection path.
func (c *Catalog) Build(markets []rest.Market, futures []rest.Future, coins []rest.Coin, denyList, allowList []string) {
	spots := make(map[string]rest.Market, len(markets))
	for _, m := range markets {
		if m.Type == "spot" && m.Enabled && m.QuoteCurrency == c.quoteCurrency {
			spots[m.BaseCurrency] = m
		}
	}
	perps := make(map[string]rest.Market, len(markets))
	for _, m := range markets {
		if m.Type == "future" && m.Enabled {
			perps[m.Name] = m
		}
	}

	eligible := make(map[string]bool)
	for _, coin := range coins {
		if coin.Collateral {
			eligible[coin.ID] = true
		}
	}
	for _, id := range denyList {
		delete(eligible, id)
	}
	for _, id := range allowList {
		eligible[id] = true
	}

	pairs := make(map[string]*Pair)
	for _, future := range futures {
		if !future.Perpetual || !future.Enabled {
			continue
		}
		base := future.Underlying
		spot, ok := spots[base]
		if !ok {
			continue
		}
		perp, ok := perps[future.Name]
		if !ok {
			continue
		}
		spotInc := decimal.NewFromFloat(spot.SizeIncrement)
		perpInc := decimal.NewFromFloat(perp.SizeIncrement)
		spotMin := decimal.NewFromFloat(spot.MinProvideSize)
		perpMin := decimal.NewFromFloat(perp.MinProvideSize)
		pairs[base] = &Pair{
			BaseCurrency:        base,
			QuoteCurrency:       c.quoteCurrency,
			SpotMarket:          spot.Name,
			PerpMarket:          perp.Name,
			SpotSizeIncrement:   spotInc,
			PerpSizeIncrement:   perpInc,
			CommonSizeIncrement: decimal.Max(spotInc, perpInc),
			SpotMinSize:         spotMin,
			PerpMinSize:         perpMin,
			CommonMinSize:       decimal.Max(spotMin, perpMin),
			Eligible:            eligible[base],
		}
	}

	c.mu.Lock()
	c.pairs = pairs
	c.mu.Unlock()
}

// ByBase returns a copy of the pair for the given base currency.
func (c *Catalog) ByBase(base string) (Pair, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pair, ok := c.pairs[base]
	if !ok {
		return Pair{}, ErrMarketNotFound
	}
	return *pair, nil
}

// ByPerpMarket resolves a perpetual market name back to its pair.
func (c *Catalog) ByPerpMarket(market string) (Pair, error) {
	base := strings.TrimSuffix(market, "-PERP")
	return c.ByBase(base)
}

// Pairs returns a copy of every pair, eligible or not.
func (c *Catalog) Pairs() []Pair {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Pair, 0, len(c.pairs))
	for _, pair := range c.pairs {
		out = append(out, *pair)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BaseCurrency < out[j].BaseCurrency })
	return out
}

// UpdateSpreads refreshes prices and spread rates from live quotes. Pairs
// with no quote yet keep their previous values.
func (c *Catalog) UpdateSpreads(ctx context.Context, quotes QuoteSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pair := range c.pairs {
		spot, okSpot := quotes.Quote(ctx, pair.SpotMarket)
		perp, okPerp := quotes.Quote(ctx, pair.PerpMarket)
		if !okSpot || !okPerp || spot.Bid <= 0 || spot.Ask <= 0 || perp.Bid <= 0 || perp.Ask <= 0 {
			continue
		}
		pair.SpotPrice = (spot.Bid + spot.Ask) / 2
		pair.PerpPrice = (perp.Bid + perp.Ask) / 2
		pair.IncreaseSpreadRate = (perp.Bid - spot.Ask) / spot.Ask
		pair.DecreaseSpreadRate = (perp.Ask - spot.Bid) / spot.Bid
	}
}

// UpdateFundingRates refreshes each pair's funding rate to the mean of the
// observations in the trailing window. Calls within the refresh interval of
// the previous sync are no-ops.
func (c *Catalog) UpdateFundingRates(ctx context.Context, source FundingSource) error {
	c.mu.RLock()
	last := c.lastFundingSync
	c.mu.RUnlock()
	now := c.now()
	if now.Sub(last) < c.fundingRefresh {
		return nil
	}

	rates, err := source.ListFundingRates(ctx, now.Add(-c.fundingWindow), now)
	if err != nil {
		return err
	}
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, rate := range rates {
		sums[rate.Future] += rate.Rate
		counts[rate.Future]++
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pair := range c.pairs {
		if n := counts[pair.PerpMarket]; n > 0 {
			pair.FundingRate = sums[pair.PerpMarket] / float64(n)
		}
	}
	c.lastFundingSync = now
	return nil
}

// Ranked returns eligible pairs ordered best-first by composite score: the
// sum of the pair's rank by |spread| descending and rank by |funding rate|
// descending. The spread used depends on side.
func (c *Catalog) Ranked(side RankSide) []Pair {
	c.mu.RLock()
	candidates := make([]Pair, 0, len(c.pairs))
	for _, pair := range c.pairs {
		if pair.Eligible && pair.SpotPrice > 0 && pair.PerpPrice > 0 {
			candidates = append(candidates, *pair)
		}
	}
	c.mu.RUnlock()
	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].BaseCurrency < candidates[b].BaseCurrency
	})

	spread := func(p Pair) float64 {
		if side == ByDecreaseSpread {
			return p.DecreaseSpreadRate
		}
		return p.IncreaseSpreadRate
	}
	bySpread := make([]int, len(candidates))
	for i := range bySpread {
		bySpread[i] = i
	}
	sort.SliceStable(bySpread, func(a, b int) bool {
		return abs(spread(candidates[bySpread[a]])) > abs(spread(candidates[bySpread[b]]))
	})
	byFunding := make([]int, len(candidates))
	for i := range byFunding {
		byFunding[i] = i
	}
	sort.SliceStable(byFunding, func(a, b int) bool {
		return abs(candidates[byFunding[a]].FundingRate) > abs(candidates[byFunding[b]].FundingRate)
	})
	for rank, i := range bySpread {
		candidates[i].SpreadRank = rank
	}
	for rank, i := range byFunding {
		candidates[i].FundingRank = rank
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].SpreadRank+candidates[a].FundingRank <
			candidates[b].SpreadRank+candidates[b].FundingRank
	})
	return candidates
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

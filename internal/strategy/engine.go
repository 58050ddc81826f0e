package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ftx-arb-bot/internal/ftx/rest"
	"ftx-arb-bot/internal/metrics"
	"ftx-arb-bot/internal/pairs"
	"ftx-arb-bot/internal/state"
)

// Direction is the hedge orientation of a pair order. Increasing a position
// buys spot and shorts the perp; decreasing unwinds it.
type Direction int

const (
	SpotLongPerpShort Direction = iota
	SpotShortPerpLong
)

func (d Direction) String() string {
	if d == SpotShortPerpLong {
		return "spot_short_perp_long"
	}
	return "spot_long_perp_short"
}

// funding payments older than this are ignored by the garbage collector
const gcFundingWindow = 2 * time.Hour

// AccountClient is the slice of the exchange client the engine reads
// account state through.
type AccountClient interface {
	AccountInfo(ctx context.Context) (rest.AccountInfo, error)
	ListBalances(ctx context.Context) ([]rest.Balance, error)
	ListPositions(ctx context.Context) ([]rest.Position, error)
	ListFundingPayments(ctx context.Context, start, end time.Time) ([]rest.FundingPayment, error)
}

// OrderPlacer places orders; the production implementation adds client-id
// idempotency.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req rest.OrderRequest) (int64, error)
}

// Alerter delivers out-of-band warnings. May be nil.
type Alerter interface {
	Send(ctx context.Context, message string) error
}

// Holding couples a pair with the account's current spot balance and perp
// net position for it.
type Holding struct {
	Pair     pairs.Pair
	Balance  float64
	Position float64
}

// Engine is the decision core: it ranks pairs, sizes and places hedged
// orders, rebalances drift, and unwinds risk, all parameterized by Config.
// It performs no I/O except through its collaborators.
type Engine struct {
	catalog *pairs.Catalog
	account AccountClient
	orders  OrderPlacer
	quotes  pairs.QuoteSource
	funding pairs.FundingSource
	store   state.Store
	metrics *metrics.Metrics
	alerter Alerter
	log     *zap.Logger

	newClientID func() string
	now         func() time.Time

	cfgMu      sync.RWMutex
	cfg        Config
	cfgVersion int
}

func NewEngine(
	ctx context.Context,
	catalog *pairs.Catalog,
	account AccountClient,
	orders OrderPlacer,
	quotes pairs.QuoteSource,
	funding pairs.FundingSource,
	store state.Store,
	m *metrics.Metrics,
	alerter Alerter,
	log *zap.Logger,
) *Engine {
	if m == nil {
		m = metrics.NewNoop()
	}
	e := &Engine{
		catalog:     catalog,
		account:     account,
		orders:      orders,
		quotes:      quotes,
		funding:     funding,
		store:       store,
		metrics:     m,
		alerter:     alerter,
		log:         log,
		newClientID: uuid.NewString,
		now:         time.Now,
		cfg:         DefaultConfig(),
	}
	if err := e.loadConfigFromStore(ctx); err != nil {
		log.Warn("stored strategy config ignored", zap.Error(err))
	}
	return e
}

// CurrentLeverage derives leverage from the margin fraction; an account with
// no margin in use reports zero.
func (e *Engine) CurrentLeverage(ctx context.Context) (float64, error) {
	info, err := e.account.AccountInfo(ctx)
	if err != nil {
		return 0, err
	}
	if info.MarginFraction == 0 {
		return 0, nil
	}
	return 1 / info.MarginFraction, nil
}

// BestPair returns the top-ranked eligible pair for opening more exposure.
func (e *Engine) BestPair() (pairs.Pair, error) {
	ranked := e.catalog.Ranked(pairs.ByIncreaseSpread)
	if len(ranked) == 0 {
		return pairs.Pair{}, ErrNoCandidatePair
	}
	return ranked[0], nil
}

// WorstHoldings returns currently held pairs ordered worst-first by the
// decrease-side composite rank. Only pairs where both the spot balance and
// an opposite perp position exceed the common minimum qualify.
func (e *Engine) WorstHoldings(ctx context.Context) ([]Holding, error) {
	balances, positions, err := e.accountState(ctx)
	if err != nil {
		return nil, err
	}
	ranked := e.catalog.Ranked(pairs.ByDecreaseSpread)
	holdings := make([]Holding, 0, len(ranked))
	for i := len(ranked) - 1; i >= 0; i-- {
		pair := ranked[i]
		balance := balances[pair.BaseCurrency]
		position := positions[pair.PerpMarket]
		if balance <= 0 || position >= 0 {
			continue
		}
		if !pair.MeetsMinSize(pair.QuantizeSize(decimal.NewFromFloat(balance))) {
			continue
		}
		if !pair.MeetsMinSize(pair.QuantizeSize(decimal.NewFromFloat(-position))) {
			continue
		}
		holdings = append(holdings, Holding{Pair: pair, Balance: balance, Position: position})
	}
	return holdings, nil
}

func (e *Engine) accountState(ctx context.Context) (map[string]float64, map[string]float64, error) {
	balances, err := e.account.ListBalances(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list balances: %w", err)
	}
	positions, err := e.account.ListPositions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list positions: %w", err)
	}
	balanceByCoin := make(map[string]float64, len(balances))
	for _, b := range balances {
		balanceByCoin[b.Coin] = b.Total
	}
	positionByMarket := make(map[string]float64, len(positions))
	for _, p := range positions {
		positionByMarket[p.Future] = p.NetSize
	}
	return balanceByCoin, positionByMarket, nil
}

// MakePair places both legs of a hedged order concurrently as market orders.
// When at least one leg fails it returns a *PairLegError; the surviving leg
// is never compensated or retried here.
func (e *Engine) MakePair(ctx context.Context, pair pairs.Pair, direction Direction, size decimal.Decimal) error {
	size = pair.QuantizeSize(size)
	if !pair.MeetsMinSize(size) {
		return fmt.Errorf("%s size %s: %w", pair.BaseCurrency, size, ErrSizeTooSmall)
	}
	spotSide, perpSide := "buy", "sell"
	if direction == SpotShortPerpLong {
		spotSide, perpSide = "sell", "buy"
	}

	type leg struct {
		name       string
		market     string
		side       string
		reduceOnly bool
	}
	legs := []leg{
		{name: "spot", market: pair.SpotMarket, side: spotSide},
		{name: "perp", market: pair.PerpMarket, side: perpSide, reduceOnly: direction == SpotShortPerpLong},
	}
	legErrs := make([]error, len(legs))
	var group errgroup.Group
	for i, l := range legs {
		i, l := i, l
		group.Go(func() error {
			legErrs[i] = e.placeLeg(ctx, l.market, l.side, size, l.reduceOnly)
			return nil
		})
	}
	_ = group.Wait()

	var failed []string
	var failedErrs []error
	for i, err := range legErrs {
		if err != nil {
			failed = append(failed, legs[i].name)
			failedErrs = append(failedErrs, err)
		}
	}
	if len(failed) == 0 {
		e.log.Info("pair executed",
			zap.String("base", pair.BaseCurrency),
			zap.Stringer("direction", direction),
			zap.String("size", size.String()))
		return nil
	}
	pairErr := &PairLegError{Base: pair.BaseCurrency, Legs: failed, Errs: failedErrs}
	e.metrics.PairLegFailed.Inc()
	e.log.Error("pair execution failed",
		zap.String("base", pair.BaseCurrency),
		zap.Stringer("direction", direction),
		zap.Strings("failed_legs", failed),
		zap.Error(pairErr))
	if len(failed) < len(legs) && e.alerter != nil {
		message := fmt.Sprintf("pair leg failure on %s: %v leg failed, position may be unhedged", pair.BaseCurrency, failed)
		if err := e.alerter.Send(ctx, message); err != nil {
			e.log.Warn("alert delivery failed", zap.Error(err))
		}
	}
	return pairErr
}

func (e *Engine) placeLeg(ctx context.Context, market, side string, size decimal.Decimal, reduceOnly bool) error {
	sz, _ := size.Float64()
	_, err := e.orders.PlaceOrder(ctx, rest.OrderRequest{
		Market:     market,
		Side:       side,
		Size:       sz,
		Type:       "market",
		ReduceOnly: reduceOnly,
		ClientID:   e.newClientID(),
	})
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return err
	}
	e.metrics.OrdersPlaced.Inc()
	return nil
}

// sizeFromQuote converts a quote-currency notional into a base size at the
// live spot price.
func (e *Engine) sizeFromQuote(pair pairs.Pair, quoteAmount float64) (decimal.Decimal, error) {
	if pair.SpotPrice <= 0 {
		return decimal.Zero, fmt.Errorf("%s: no spot price yet", pair.BaseCurrency)
	}
	size := pair.QuantizeSize(decimal.NewFromFloat(quoteAmount / pair.SpotPrice))
	if !pair.MeetsMinSize(size) {
		return decimal.Zero, fmt.Errorf("%s notional %v: %w", pair.BaseCurrency, quoteAmount, ErrSizeTooSmall)
	}
	return size, nil
}

// IncreasePair opens more of the pair at the given quote notional.
func (e *Engine) IncreasePair(ctx context.Context, pair pairs.Pair, quoteAmount float64) error {
	size, err := e.sizeFromQuote(pair, quoteAmount)
	if err != nil {
		return err
	}
	return e.MakePair(ctx, pair, SpotLongPerpShort, size)
}

// DecreasePair unwinds the given base size of the pair.
func (e *Engine) DecreasePair(ctx context.Context, pair pairs.Pair, size decimal.Decimal) error {
	return e.MakePair(ctx, pair, SpotShortPerpLong, size)
}

// Execute runs one decision cycle. Each pass is gated by its own enabled
// flag; per-pass errors are logged and never abort the remaining passes.
func (e *Engine) Execute(ctx context.Context) error {
	e.metrics.ExecuteCycles.Inc()
	e.catalog.UpdateSpreads(ctx, e.quotes)
	if err := e.catalog.UpdateFundingRates(ctx, e.funding); err != nil {
		e.log.Warn("funding refresh failed", zap.Error(err))
	}

	cfg := e.GetConfig()
	leverage, err := e.CurrentLeverage(ctx)
	if err != nil {
		e.metrics.ExecuteFailed.Inc()
		return fmt.Errorf("account info: %w", err)
	}

	e.runAlwaysIncrease(ctx, cfg)
	e.runIncrease(ctx, cfg, leverage)
	if !e.runAlwaysDecrease(ctx, cfg) {
		e.runDecrease(ctx, cfg, leverage)
	}
	e.runClose(ctx, cfg, leverage)
	e.runBalance(ctx)
	return nil
}

func (e *Engine) runAlwaysIncrease(ctx context.Context, cfg Config) {
	if !cfg.AlwaysIncreasePair.Enabled {
		return
	}
	best, err := e.BestPair()
	if err != nil {
		return
	}
	if best.IncreaseSpreadRate <= cfg.AlwaysIncreasePair.GTSpreadRate {
		return
	}
	if err := e.IncreasePair(ctx, best, cfg.AlwaysIncreasePair.QuoteAmount); err != nil {
		e.log.Warn("always-increase failed", zap.String("base", best.BaseCurrency), zap.Error(err))
	}
}

func (e *Engine) runIncrease(ctx context.Context, cfg Config, leverage float64) {
	if !cfg.IncreasePair.Enabled || leverage >= cfg.IncreasePair.LTLeverage {
		return
	}
	best, err := e.BestPair()
	if err != nil {
		return
	}
	if best.IncreaseSpreadRate <= cfg.IncreasePair.GTSpreadRate {
		return
	}
	amount, ok := quoteAmountForDiff(cfg.IncreasePair.Rules, cfg.IncreasePair.LTLeverage-leverage)
	if !ok {
		return
	}
	if err := e.IncreasePair(ctx, best, amount); err != nil {
		e.log.Warn("increase failed", zap.String("base", best.BaseCurrency), zap.Error(err))
	}
}

// runAlwaysDecrease unwinds every qualifying holding whose decrease spread
// clears the threshold. It reports whether anything was unwound, in which
// case the rule-based decrease pass sits out this cycle.
func (e *Engine) runAlwaysDecrease(ctx context.Context, cfg Config) bool {
	if !cfg.AlwaysDecreasePair.Enabled {
		return false
	}
	holdings, err := e.WorstHoldings(ctx)
	if err != nil {
		e.log.Warn("holdings lookup failed", zap.Error(err))
		return false
	}
	decreased := false
	for _, holding := range holdings {
		if holding.Pair.DecreaseSpreadRate >= cfg.AlwaysDecreasePair.LTSpreadRate {
			continue
		}
		size, err := e.sizeFromQuote(holding.Pair, cfg.AlwaysDecreasePair.QuoteAmount)
		if err != nil {
			e.log.Debug("always-decrease skipped", zap.String("base", holding.Pair.BaseCurrency), zap.Error(err))
			continue
		}
		size = decimal.Min(size, holdingCap(holding))
		if err := e.DecreasePair(ctx, holding.Pair, size); err != nil {
			e.log.Warn("always-decrease failed", zap.String("base", holding.Pair.BaseCurrency), zap.Error(err))
			continue
		}
		decreased = true
	}
	return decreased
}

func (e *Engine) runDecrease(ctx context.Context, cfg Config, leverage float64) {
	if !cfg.DecreasePair.Enabled {
		return
	}
	// The band is decrease.gt_leverage < leverage <= close.gt_leverage;
	// everything above the close mark belongs to the close pass.
	if leverage <= cfg.DecreasePair.GTLeverage || leverage > cfg.ClosePair.GTLeverage {
		return
	}
	worst, ok := e.worstHolding(ctx)
	if !ok {
		return
	}
	if worst.Pair.DecreaseSpreadRate >= cfg.DecreasePair.LTSpreadRate {
		return
	}
	amount, ok := quoteAmountForDiff(cfg.DecreasePair.Rules, leverage-cfg.DecreasePair.GTLeverage)
	if !ok {
		return
	}
	size, err := e.sizeFromQuote(worst.Pair, amount)
	if err != nil {
		e.log.Debug("decrease skipped", zap.String("base", worst.Pair.BaseCurrency), zap.Error(err))
		return
	}
	size = decimal.Min(size, holdingCap(worst))
	if err := e.DecreasePair(ctx, worst.Pair, size); err != nil {
		e.log.Warn("decrease failed", zap.String("base", worst.Pair.BaseCurrency), zap.Error(err))
	}
}

func (e *Engine) runClose(ctx context.Context, cfg Config, leverage float64) {
	if !cfg.ClosePair.Enabled || leverage <= cfg.ClosePair.GTLeverage {
		return
	}
	worst, ok := e.worstHolding(ctx)
	if !ok {
		return
	}
	if err := e.DecreasePair(ctx, worst.Pair, holdingCap(worst)); err != nil {
		e.log.Warn("close failed", zap.String("base", worst.Pair.BaseCurrency), zap.Error(err))
	}
}

func (e *Engine) worstHolding(ctx context.Context) (Holding, bool) {
	holdings, err := e.WorstHoldings(ctx)
	if err != nil {
		e.log.Warn("holdings lookup failed", zap.Error(err))
		return Holding{}, false
	}
	if len(holdings) == 0 {
		return Holding{}, false
	}
	return holdings[0], true
}

// holdingCap is the largest unwind that keeps both legs covered.
func holdingCap(h Holding) decimal.Decimal {
	balance := decimal.NewFromFloat(h.Balance)
	position := decimal.NewFromFloat(math.Abs(h.Position))
	return h.Pair.QuantizeSize(decimal.Min(balance, position))
}

// runBalance repairs single-leg drift: whichever side is oversized relative
// to the other is traded back to parity on that leg alone, quantized to that
// leg's own increment and minimum. An orphan balance or position is closed
// outright on its own leg; same-signed legs are not a hedge this book
// manages and are left alone.
func (e *Engine) runBalance(ctx context.Context) {
	balances, positions, err := e.accountState(ctx)
	if err != nil {
		e.log.Warn("balance pass skipped", zap.Error(err))
		return
	}
	for _, pair := range e.catalog.Pairs() {
		balance := balances[pair.BaseCurrency]
		position := positions[pair.PerpMarket]
		if balance == 0 && position == 0 {
			continue
		}
		if balance != 0 && position != 0 && (balance > 0) == (position > 0) {
			continue
		}
		if position == 0 || math.Abs(balance) > math.Abs(position) {
			excess := math.Abs(balance) - math.Abs(position)
			size := pairs.Quantize(decimal.NewFromFloat(excess), pair.SpotSizeIncrement)
			if !size.IsPositive() || size.LessThan(pair.SpotMinSize) {
				continue
			}
			side := "sell"
			if balance < 0 {
				side = "buy"
			}
			e.repairLeg(ctx, pair, pair.SpotMarket, side, size, false)
			continue
		}
		excess := math.Abs(position) - math.Abs(balance)
		size := pairs.Quantize(decimal.NewFromFloat(excess), pair.PerpSizeIncrement)
		if !size.IsPositive() || size.LessThan(pair.PerpMinSize) {
			continue
		}
		side := "sell"
		if position < 0 {
			side = "buy"
		}
		e.repairLeg(ctx, pair, pair.PerpMarket, side, size, true)
	}
}

func (e *Engine) repairLeg(ctx context.Context, pair pairs.Pair, market, side string, size decimal.Decimal, reduceOnly bool) {
	if err := e.placeLeg(ctx, market, side, size, reduceOnly); err != nil {
		e.log.Warn("balance repair failed",
			zap.String("base", pair.BaseCurrency),
			zap.String("market", market),
			zap.Error(err))
		return
	}
	e.log.Info("balance repaired",
		zap.String("base", pair.BaseCurrency),
		zap.String("market", market),
		zap.String("side", side),
		zap.String("size", size.String()))
}

// DecreaseNegativeFundingPaymentPairs unwinds, at minimum size, every held
// pair whose funding payments over the trailing window were all costs while
// the unwind spread is inside the configured band. Markets the account no
// longer holds at tradable size are skipped; payments can reference
// positions closed since. Spreads are refreshed before the band check
// because this runs on its own schedule.
func (e *Engine) DecreaseNegativeFundingPaymentPairs(ctx context.Context) error {
	cfg := e.GetConfig()
	if !cfg.GarbageCollect.Enabled {
		return nil
	}
	now := e.now()
	payments, err := e.account.ListFundingPayments(ctx, now.Add(-gcFundingWindow), now)
	if err != nil {
		return fmt.Errorf("list funding payments: %w", err)
	}
	allCost := make(map[string]bool)
	for _, payment := range payments {
		if _, seen := allCost[payment.Future]; !seen {
			allCost[payment.Future] = true
		}
		if payment.Payment <= 0 {
			allCost[payment.Future] = false
		}
	}
	balances, positions, err := e.accountState(ctx)
	if err != nil {
		return err
	}
	var evictable []string
	for future, cost := range allCost {
		if !cost {
			continue
		}
		pair, err := e.catalog.ByPerpMarket(future)
		if err != nil {
			continue
		}
		balance := balances[pair.BaseCurrency]
		position := positions[pair.PerpMarket]
		if balance <= 0 || position >= 0 {
			continue
		}
		if decimal.NewFromFloat(balance).LessThan(pair.CommonMinSize) ||
			decimal.NewFromFloat(-position).LessThan(pair.CommonMinSize) {
			continue
		}
		evictable = append(evictable, pair.BaseCurrency)
	}
	if len(evictable) == 0 {
		return nil
	}
	e.catalog.UpdateSpreads(ctx, e.quotes)
	for _, base := range evictable {
		pair, err := e.catalog.ByBase(base)
		if err != nil {
			continue
		}
		if math.Abs(pair.DecreaseSpreadRate) >= cfg.GarbageCollect.LTDecreaseSpreadRate {
			continue
		}
		if err := e.DecreasePair(ctx, pair, pair.CommonMinSize); err != nil {
			e.log.Warn("funding gc failed", zap.String("base", pair.BaseCurrency), zap.Error(err))
		}
	}
	return nil
}

// ShouldRaiseLeverageAlarm reports whether leverage breached the configured
// ceiling; notification delivery is the caller's concern.
func (e *Engine) ShouldRaiseLeverageAlarm(ctx context.Context) (bool, float64, error) {
	cfg := e.GetConfig()
	if !cfg.Alarm.Enabled {
		return false, 0, nil
	}
	leverage, err := e.CurrentLeverage(ctx)
	if err != nil {
		return false, 0, err
	}
	return leverage > cfg.Alarm.GTLeverage, leverage, nil
}

package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ftx-arb-bot/internal/alerts"
	"ftx-arb-bot/internal/config"
	"ftx-arb-bot/internal/exec"
	"ftx-arb-bot/internal/ftx/rest"
	"ftx-arb-bot/internal/ftx/ws"
	"ftx-arb-bot/internal/history"
	"ftx-arb-bot/internal/metrics"
	"ftx-arb-bot/internal/pairs"
	"ftx-arb-bot/internal/ratelimit"
	"ftx-arb-bot/internal/state/sqlite"
	"ftx-arb-bot/internal/strategy"
)

// App owns every long-lived component and the schedule that drives them.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	rest    *rest.Client
	stream  *ws.Client
	catalog *pairs.Catalog
	engine  *strategy.Engine
	metrics *metrics.Metrics
	prom    *metrics.Prometheus
	alerts  *alerts.Telegram
	history *history.Writer

	seenResyncs uint64
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg.REST.APIKey == "" || cfg.REST.APISecret == "" {
		return nil, errors.New("FTX_API_KEY and FTX_API_SECRET must be set")
	}

	if dir := filepath.Dir(cfg.State.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg.REST.RateLimitCalls, cfg.REST.RateLimitPeriod)
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.APIKey, cfg.REST.APISecret, cfg.REST.Subaccount,
		cfg.REST.Timeout, limiter, log.Named("rest"))
	stream := ws.New(cfg.WS.URL, cfg.REST.APIKey, cfg.REST.APISecret,
		cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log.Named("ws"))

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	catalog := pairs.NewCatalog(cfg.Pairs.QuoteCurrency, cfg.Pairs.FundingWindow, cfg.Pairs.FundingRefresh, log.Named("pairs"))
	executor := exec.New(restClient, store, log.Named("exec"))
	notifier := alerts.NewTelegram(cfg.Telegram, log.Named("alerts"))

	writer, err := history.New(cfg.History, m, log.Named("history"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	engine := strategy.NewEngine(ctx, catalog, restClient, executor,
		&streamQuotes{stream: stream}, restClient, store, m, notifier, log.Named("strategy"))

	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		rest:    restClient,
		stream:  stream,
		catalog: catalog,
		engine:  engine,
		metrics: m,
		prom:    prom,
		alerts:  notifier,
		history: writer,
	}, nil
}

// Run blocks until ctx is cancelled. The stream, the metrics server and the
// decision schedule each run in their own goroutine; a tick that fails is
// logged and the schedule carries on.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.history.Close()

	if err := a.buildCatalog(ctx); err != nil {
		return err
	}
	a.history.Start(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return a.stream.Run(ctx) })
	if a.cfg.Metrics.Enabled {
		group.Go(func() error { return a.serveMetrics(ctx) })
	}
	group.Go(func() error { return a.schedule(ctx) })
	return group.Wait()
}

func (a *App) buildCatalog(ctx context.Context) error {
	markets, err := a.rest.ListMarkets(ctx)
	if err != nil {
		return err
	}
	futures, err := a.rest.ListFutures(ctx)
	if err != nil {
		return err
	}
	coins, err := a.rest.ListCoins(ctx)
	if err != nil {
		return err
	}
	a.catalog.Build(markets, futures, coins, a.cfg.Pairs.DenyList, a.cfg.Pairs.AllowList)
	a.log.Info("pair catalog built", zap.Int("pairs", len(a.catalog.Pairs())))
	return nil
}

func (a *App) schedule(ctx context.Context) error {
	execute := time.NewTicker(a.cfg.Engine.ExecuteInterval)
	defer execute.Stop()
	gc := time.NewTicker(a.cfg.Engine.GCInterval)
	defer gc.Stop()
	alarm := time.NewTicker(a.cfg.Engine.AlarmInterval)
	defer alarm.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-execute.C:
			a.executeTick(ctx)
		case <-gc.C:
			if err := a.engine.DecreaseNegativeFundingPaymentPairs(ctx); err != nil {
				a.log.Warn("funding gc tick failed", zap.Error(err))
			}
		case <-alarm.C:
			a.alarmTick(ctx)
		}
	}
}

func (a *App) executeTick(ctx context.Context) {
	if err := a.engine.Execute(ctx); err != nil {
		a.log.Warn("execute tick failed", zap.Error(err))
	}
	a.syncResyncCounter()
	a.recordHistory(ctx)
}

func (a *App) alarmTick(ctx context.Context) {
	raise, leverage, err := a.engine.ShouldRaiseLeverageAlarm(ctx)
	if err != nil {
		a.log.Warn("alarm check failed", zap.Error(err))
		return
	}
	if !raise {
		return
	}
	a.metrics.LeverageAlarms.Inc()
	ceiling := a.engine.GetConfig().Alarm.GTLeverage
	a.log.Warn("leverage alarm", zap.Float64("leverage", leverage), zap.Float64("ceiling", ceiling))
	if err := a.alerts.Send(ctx, alerts.LeverageAlarmMessage(leverage, ceiling)); err != nil {
		a.log.Warn("alarm delivery failed", zap.Error(err))
	}
}

func (a *App) recordHistory(ctx context.Context) {
	if a.history == nil {
		return
	}
	leverage, err := a.engine.CurrentLeverage(ctx)
	if err != nil {
		a.log.Debug("history leverage lookup failed", zap.Error(err))
	}
	now := time.Now()
	for _, pair := range a.catalog.Ranked(pairs.ByIncreaseSpread) {
		a.history.Enqueue(history.Observation{
			Time:               now,
			Base:               pair.BaseCurrency,
			SpotPrice:          pair.SpotPrice,
			PerpPrice:          pair.PerpPrice,
			IncreaseSpreadRate: pair.IncreaseSpreadRate,
			DecreaseSpreadRate: pair.DecreaseSpreadRate,
			FundingRate:        pair.FundingRate,
			SpreadRank:         pair.SpreadRank,
			FundingRank:        pair.FundingRank,
			Leverage:           leverage,
		})
	}
}

// syncResyncCounter mirrors the stream's internal checksum resync count into
// the exported counter.
func (a *App) syncResyncCounter() {
	for count := a.stream.ResyncCount(); a.seenResyncs < count; a.seenResyncs++ {
		a.metrics.ChecksumResyncs.Inc()
	}
}

func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	mux.Handle("/config", a.configHandler())
	server := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()
	a.log.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.Listen))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ftx-arb-bot/internal/config"
	"ftx-arb-bot/internal/ftx/rest"
	"ftx-arb-bot/internal/ftx/ws"
	"ftx-arb-bot/internal/logging"
	"ftx-arb-bot/internal/pairs"
	"ftx-arb-bot/internal/ratelimit"

	"go.uber.org/zap"
)

const (
	defaultRESTBaseURL = "https://ftx.com/api"
	defaultWSURL       = "wss://ftx.com/ws/"
	defaultRESTTimeout = 10 * time.Second
)

// verify exercises connectivity without trading: it builds the pair catalog
// from public metadata, optionally watches one market's order book and
// reports checksum verifications, and with credentials prints the account's
// current leverage.
func main() {
	configPath := flag.String("config", "", "optional config path")
	market := flag.String("market", "", "market to stream the order book for (e.g. BTC/USD)")
	watch := flag.Duration("watch", 30*time.Second, "how long to watch the order book")
	account := flag.Bool("account", false, "fetch account info (needs FTX_API_KEY/FTX_API_SECRET)")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	logCfg := config.LoggingConfig{Level: "info"}
	baseURL := defaultRESTBaseURL
	wsURL := defaultWSURL
	timeout := defaultRESTTimeout
	quote := "USD"
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		logCfg = cfg.Log
		baseURL = cfg.REST.BaseURL
		wsURL = cfg.WS.URL
		timeout = cfg.REST.Timeout
		quote = cfg.Pairs.QuoteCurrency
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.New(30, time.Second)
	client := rest.New(baseURL, os.Getenv("FTX_API_KEY"), os.Getenv("FTX_API_SECRET"),
		os.Getenv("FTX_SUBACCOUNT"), timeout, limiter, log)

	printCatalog(ctx, client, quote, log)

	if *account {
		info, err := client.AccountInfo(ctx)
		if err != nil {
			fatal(err)
		}
		leverage := 0.0
		if info.MarginFraction != 0 {
			leverage = 1 / info.MarginFraction
		}
		fmt.Printf("account: collateral=%.2f marginFraction=%.4f leverage=%.2fx\n",
			info.Collateral, info.MarginFraction, leverage)
	}

	if *market != "" {
		watchOrderbook(ctx, wsURL, *market, *watch, log)
	}
}

func printCatalog(ctx context.Context, client *rest.Client, quote string, log *zap.Logger) {
	markets, err := client.ListMarkets(ctx)
	if err != nil {
		fatal(err)
	}
	futures, err := client.ListFutures(ctx)
	if err != nil {
		fatal(err)
	}
	coins, err := client.ListCoins(ctx)
	if err != nil {
		fatal(err)
	}
	catalog := pairs.NewCatalog(quote, 6*time.Hour, time.Hour, log)
	catalog.Build(markets, futures, coins, nil, nil)

	all := catalog.Pairs()
	fmt.Printf("catalog: %d pairs\n", len(all))
	for _, pair := range all {
		fmt.Printf("  %-6s %-12s %-12s inc=%s min=%s eligible=%v\n",
			pair.BaseCurrency, pair.SpotMarket, pair.PerpMarket,
			pair.CommonSizeIncrement, pair.CommonMinSize, pair.Eligible)
	}
}

func watchOrderbook(ctx context.Context, wsURL, market string, duration time.Duration, log *zap.Logger) {
	stream := ws.New(wsURL, "", "", 3*time.Second, 15*time.Second, log)
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	go func() { _ = stream.Run(ctx) }()

	verified := 0
	for {
		if err := stream.WaitForOrderbookUpdate(ctx, market, 10*time.Second); err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Printf("orderbook wait: %v\n", err)
			continue
		}
		verified++
		if snapshot, ok := stream.GetOrderbook(ctx, market); ok && len(snapshot.Bids) > 0 && len(snapshot.Asks) > 0 {
			fmt.Printf("%s book verified: bid=%.4f ask=%.4f levels=%d/%d\n",
				market, snapshot.Bids[0][0], snapshot.Asks[0][0], len(snapshot.Bids), len(snapshot.Asks))
		}
	}
	fmt.Printf("watched %s for %s: %d verified updates, %d checksum resyncs\n",
		market, duration, verified, stream.ResyncCount())
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"ftx-arb-bot/internal/config"
	"ftx-arb-bot/internal/metrics"
)

const writeTimeout = 3 * time.Second

// Observation is one pair's market state captured during a decision cycle.
type Observation struct {
	Time               time.Time
	Base               string
	SpotPrice          float64
	PerpPrice          float64
	IncreaseSpreadRate float64
	DecreaseSpreadRate float64
	FundingRate        float64
	SpreadRank         int
	FundingRank        int
	Leverage           float64
}

// Writer records observations asynchronously into postgres/timescale.
// Enqueue never blocks the decision loop; rows are dropped when the buffer
// is full. A nil *Writer is a valid no-op.
type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	table   string
	rows    chan Observation
	lost    metrics.Counter
	started atomic.Bool
	dropped atomic.Uint64
}

func New(cfg config.HistoryConfig, m *metrics.Metrics, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("history dsn is required")
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := &Writer{
		db:    db,
		log:   log,
		table: cfg.Table,
		rows:  make(chan Observation, cfg.BufferSize),
		lost:  m.HistoryRowsLost,
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) Enqueue(row Observation) {
	if w == nil {
		return
	}
	select {
	case w.rows <- row:
	default:
		w.lost.Inc()
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("history queue full, dropping rows")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.rows:
			w.write(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		base TEXT NOT NULL,
		spot_price DOUBLE PRECISION NOT NULL,
		perp_price DOUBLE PRECISION NOT NULL,
		increase_spread_rate DOUBLE PRECISION NOT NULL,
		decrease_spread_rate DOUBLE PRECISION NOT NULL,
		funding_rate DOUBLE PRECISION NOT NULL,
		spread_rank INTEGER NOT NULL,
		funding_rank INTEGER NOT NULL,
		leverage DOUBLE PRECISION NOT NULL
	)`, w.table)); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table)); err != nil && w.log != nil {
		w.log.Warn("hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) write(ctx context.Context, row Observation) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, base, spot_price, perp_price, increase_spread_rate, decrease_spread_rate,
		funding_rate, spread_rank, funding_rank, leverage
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, w.table)
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.Base,
		row.SpotPrice,
		row.PerpPrice,
		row.IncreaseSpreadRate,
		row.DecreaseSpreadRate,
		row.FundingRate,
		row.SpreadRank,
		row.FundingRank,
		row.Leverage,
	); err != nil && w.log != nil {
		w.log.Warn("history insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"perpdex-mm-bot/internal/account"
	"perpdex-mm-bot/internal/config"
	"perpdex-mm-bot/internal/maker"
	"perpdex-mm-bot/internal/market"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const (
	writeTimeout     = 3 * time.Second
	defaultQueueSize = 256
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Writer appends account readings, quote cycles and closed candles to
// TimescaleDB. Enqueueing never blocks; a full queue drops the row.
type Writer struct {
	db         execer
	closeDB    func() error
	log        *zap.Logger
	schema     string
	infos      chan account.Snapshot
	cycles     chan maker.Cycle
	candles    chan market.Candle
	started    atomic.Bool
	dropInfo   atomic.Uint64
	dropCycle  atomic.Uint64
	dropCandle atomic.Uint64
}

// New returns nil, nil when history is disabled. A nil *Writer accepts and
// discards every record.
func New(ctx context.Context, cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	writer.closeDB = db.Close
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db execer, schema string, queueSize int, log *zap.Logger) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:      db,
		log:     log,
		schema:  schema,
		infos:   make(chan account.Snapshot, queueSize),
		cycles:  make(chan maker.Cycle, queueSize),
		candles: make(chan market.Candle, queueSize),
	}
}

// Run drains the queues until ctx is done. Only the first call does work.
func (w *Writer) Run(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if !w.started.CompareAndSwap(false, true) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-w.infos:
			w.writeInfo(ctx, snap)
		case cycle := <-w.cycles:
			w.writeCycle(ctx, cycle)
		case candle := <-w.candles:
			w.writeCandle(ctx, candle)
		}
	}
}

func (w *Writer) Close() error {
	if w == nil || w.closeDB == nil {
		return nil
	}
	return w.closeDB()
}

func (w *Writer) RecordInfo(snap account.Snapshot) {
	if w == nil {
		return
	}
	select {
	case w.infos <- snap:
	default:
		if w.dropInfo.Add(1) == 1 {
			w.log.Warn("timescale account queue full")
		}
	}
}

func (w *Writer) RecordCycle(cycle maker.Cycle) {
	if w == nil {
		return
	}
	select {
	case w.cycles <- cycle:
	default:
		if w.dropCycle.Add(1) == 1 {
			w.log.Warn("timescale cycle queue full")
		}
	}
}

// RecordCandle has the shape of market.FeedOptions.OnClosed.
func (w *Writer) RecordCandle(candle market.Candle) {
	if w == nil {
		return
	}
	select {
	case w.candles <- candle:
	default:
		if w.dropCandle.Add(1) == 1 {
			w.log.Warn("timescale candle queue full")
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (ts, symbol, interval)
	)`, w.table("market_ohlc"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		position DOUBLE PRECISION NOT NULL,
		account_value DOUBLE PRECISION NOT NULL,
		unit_leverage_lot DOUBLE PRECISION NOT NULL,
		mark_price DOUBLE PRECISION NOT NULL,
		last_cycle_id TEXT
	)`, w.table("account_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		duration_ms BIGINT NOT NULL,
		last_price DOUBLE PRECISION NOT NULL,
		raw_ask DOUBLE PRECISION NOT NULL,
		raw_bid DOUBLE PRECISION NOT NULL,
		ask_price DOUBLE PRECISION NOT NULL,
		bid_price DOUBLE PRECISION NOT NULL,
		ask_size DOUBLE PRECISION NOT NULL,
		bid_size DOUBLE PRECISION NOT NULL,
		ask_order_id TEXT NOT NULL,
		bid_order_id TEXT NOT NULL
	)`, w.table("quote_cycles"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"market_ohlc", "account_snapshots", "quote_cycles"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeInfo(ctx context.Context, snap account.Snapshot) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	var lastCycle any
	if snap.LastQuote != nil {
		lastCycle = snap.LastQuote.CycleID
	}
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, position, account_value, unit_leverage_lot, mark_price, last_cycle_id
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`, w.table("account_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Symbol,
		snap.Position,
		snap.AccountValue,
		snap.UnitLeverageLot,
		snap.MarkPrice,
		lastCycle,
	); err != nil {
		w.log.Warn("timescale account insert failed", zap.Error(err))
	}
}

func (w *Writer) writeCycle(ctx context.Context, cycle maker.Cycle) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, symbol, duration_ms, last_price, raw_ask, raw_bid,
		ask_price, bid_price, ask_size, bid_size, ask_order_id, bid_order_id
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
	)`, w.table("quote_cycles"))
	if _, err := w.db.ExecContext(ctx, query,
		cycle.Started.UTC(),
		cycle.ID,
		cycle.Symbol,
		cycle.Duration.Milliseconds(),
		cycle.LastPrice,
		cycle.RawAsk,
		cycle.RawBid,
		cycle.AskPrice,
		cycle.BidPrice,
		cycle.AskSize,
		cycle.BidSize,
		string(cycle.AskOrderID),
		string(cycle.BidOrderID),
	); err != nil {
		w.log.Warn("timescale cycle insert failed", zap.Error(err))
	}
}

func (w *Writer) writeCandle(ctx context.Context, candle market.Candle) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, interval, open, high, low, close, volume
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)
	ON CONFLICT (ts, symbol, interval) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume`, w.table("market_ohlc"))
	if _, err := w.db.ExecContext(ctx, query,
		candle.Start.UTC(),
		candle.Symbol,
		candle.Interval,
		candle.Open,
		candle.High,
		candle.Low,
		candle.Close,
		candle.Volume,
	); err != nil {
		w.log.Warn("timescale candle upsert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"perpdex-mm-bot/internal/account"
	"perpdex-mm-bot/internal/alerts"
	"perpdex-mm-bot/internal/binance"
	"perpdex-mm-bot/internal/bot"
	"perpdex-mm-bot/internal/chain"
	"perpdex-mm-bot/internal/config"
	"perpdex-mm-bot/internal/exec"
	"perpdex-mm-bot/internal/maker"
	"perpdex-mm-bot/internal/market"
	"perpdex-mm-bot/internal/metrics"
	"perpdex-mm-bot/internal/perpdex"
	"perpdex-mm-bot/internal/state/sqlite"
	"perpdex-mm-bot/internal/strategy"
	"perpdex-mm-bot/internal/timescale"
	"perpdex-mm-bot/internal/ws"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const candleSubscriptionID = 1

// App holds the process-wide resources that outlive a single agent: the state
// store, metrics, alerting and history. Everything that talks to the chain or
// the candle feed is rebuilt per agent.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	metrics *metrics.Metrics
	prom    *metrics.Prometheus
	alerts  *alerts.Telegram
	history *timescale.Writer
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	history, err := timescale.New(ctx, cfg.Timescale, log.Named("timescale"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open timescale: %w", err)
	}
	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		metrics: m,
		prom:    prom,
		alerts:  alerts.NewTelegram(cfg.Telegram, log.Named("telegram")),
		history: history,
	}, nil
}

// Run supervises agents until ctx ends or, with restart disabled, the first
// agent dies.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	supervisor := bot.NewSupervisor(a.BuildAgent, bot.SupervisorOptions{
		HealthInterval: a.cfg.Bot.HealthInterval,
		StopTimeout:    a.cfg.Bot.StopTimeout,
		Restart:        a.cfg.Bot.RestartValue(),
		Label:          a.cfg.Market.Symbol,
	}, a.metrics, a.alerts, a.log.Named("supervisor"))

	g, ctx := errgroup.WithContext(ctx)
	if a.history != nil {
		g.Go(func() error { return a.history.Run(ctx) })
	}
	if a.prom != nil {
		a.startMetricsServer(ctx, g)
	}
	g.Go(func() error { return supervisor.Run(ctx) })
	return g.Wait()
}

// BuildAgent wires one agent: node connection, market client, strategies,
// gateway and the two tasks.
func (a *App) BuildAgent(ctx context.Context) (*bot.Agent, error) {
	cfg := a.cfg
	conn, err := Connect(ctx, cfg, a.store, a.log)
	if err != nil {
		return nil, err
	}
	symbol := cfg.Market.Symbol
	ticker := market.NewTicker(conn.Client, cfg.Market.PriceUpdateLimit, a.log.Named("ticker"))

	var (
		candles  strategy.CandleSource
		feed     *market.CandleFeed
		infoRec  account.Recorder
		cycleRec maker.Recorder
	)
	if a.history != nil {
		infoRec = a.history
		cycleRec = a.history
	}
	if cfg.Strategy.Price.Kind != config.PriceKindSimple {
		opts := market.FeedOptions{
			Pair:     cfg.Candles.Symbol,
			Interval: cfg.Candles.Interval,
			Limit:    cfg.Candles.Limit,
		}
		if a.history != nil {
			opts.OnClosed = a.history.RecordCandle
		}
		feed = market.NewCandleFeed(binance.New(cfg.Candles.BaseURL, cfg.Candles.Timeout, a.log.Named("binance")), opts, a.log.Named("candles"))
		candles = feed
	}

	price, err := strategy.NewPriceCalculator(cfg.Strategy.Price, ticker, candles, a.log.Named("price"))
	if err != nil {
		conn.Close()
		return nil, err
	}
	size := strategy.NewSimpleSize(account.NewPositionReader(conn.Client), cfg.Strategy.Size.UnitLotSize)
	gateway := NewGateway(cfg.Gateway, symbol, conn.Client, a.metrics, a.log.Named("gateway"))
	mm, err := maker.New(price, size, ticker, gateway, maker.Options{
		Symbol:   symbol,
		Tick:     cfg.Market.Tick,
		Store:    a.store,
		Recorder: cycleRec,
		Metrics:  a.metrics,
	}, a.log.Named("maker"))
	if err != nil {
		conn.Close()
		return nil, err
	}
	info := account.NewInfoLogger(conn.Client, ticker, account.InfoOptions{
		Symbol:   symbol,
		Store:    a.store,
		Recorder: infoRec,
	}, a.log.Named("info"))

	agent := bot.NewAgent(
		bot.NewTradeTask(mm, cfg.Bot.TradeInterval, a.log.Named("trade")),
		bot.NewInfoTask(info, cfg.Bot.InfoInterval, a.log.Named("info")),
		a.log.Named("agent"),
	)
	if feed != nil && cfg.Candles.Stream {
		stream := ws.New(cfg.Candles.WSURL, cfg.Candles.ReconnectDelay, cfg.Candles.PingInterval, a.log.Named("candle_ws"))
		sub := binance.SubscribeMessage(cfg.Candles.Symbol, cfg.Candles.Interval, candleSubscriptionID)
		agent.Go("candles", func(ctx context.Context) error {
			return feed.Run(ctx, stream, sub, binance.ParseKline)
		})
		agent.OnStop(stream.Close)
	}
	agent.OnStop(func() error {
		conn.Close()
		return nil
	})
	a.log.Info("agent built",
		zap.String("symbol", symbol),
		zap.String("trader", conn.Client.Trader().Hex()),
		zap.String("market", conn.Client.MarketAddress().Hex()),
		zap.String("price_strategy", cfg.Strategy.Price.Kind),
		zap.Bool("inverse", cfg.Market.Inverse),
	)
	return agent, nil
}

// Connection is a dialed node plus the PerpDEX client bound to the configured
// market.
type Connection struct {
	Eth    *ethclient.Client
	Client *perpdex.Client
	Nonces *chain.NonceSource
}

func (c *Connection) Close() {
	if c != nil && c.Eth != nil {
		c.Eth.Close()
	}
}

// Connect dials the node, loads the exchange and market deployments, seeds the
// nonce source and checks the market contract serves the configured symbol.
func Connect(ctx context.Context, cfg *config.Config, store chain.NonceStore, log *zap.Logger) (*Connection, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Chain.Timeout)
	defer cancel()

	eth, err := chain.Dial(ctx, cfg.Chain.ProviderURI)
	if err != nil {
		return nil, err
	}
	conn := &Connection{Eth: eth}
	client, nonces, err := connect(ctx, cfg, eth, store, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.Client = client
	conn.Nonces = nonces
	return conn, nil
}

func connect(ctx context.Context, cfg *config.Config, eth *ethclient.Client, store chain.NonceStore, log *zap.Logger) (*perpdex.Client, *chain.NonceSource, error) {
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("chain id: %w", err)
	}
	acct, err := chain.NewAccount(cfg.Chain.PrivateKey, chainID, cfg.Chain.NetworkName)
	if err != nil {
		return nil, nil, err
	}
	exchange, err := chain.LoadDeployment(chain.ExchangeDeploymentPath(cfg.Chain.ABIDir))
	if err != nil {
		return nil, nil, fmt.Errorf("load exchange deployment: %w", err)
	}
	marketPath, err := chain.MarketDeploymentPath(cfg.Chain.ABIDir, cfg.Market.Symbol)
	if err != nil {
		return nil, nil, err
	}
	mkt, err := chain.LoadDeployment(marketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load market deployment: %w", err)
	}
	nonces := chain.NewNonceSource(eth, acct.Address, chainID, store, log.Named("nonce"))
	if err := nonces.Init(ctx); err != nil {
		return nil, nil, err
	}
	client, err := perpdex.New(eth, acct, nonces, perpdex.Config{
		Exchange: exchange,
		Market:   mkt,
		Inverse:  cfg.Market.Inverse,
	}, log.Named("perpdex"))
	if err != nil {
		return nil, nil, err
	}
	symbol, err := client.Symbol(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !strings.EqualFold(symbol, cfg.Market.Symbol) {
		return nil, nil, fmt.Errorf("%w: contract %s serves %q, configured %q", perpdex.ErrUnknownMarket, mkt.Address.Hex(), symbol, cfg.Market.Symbol)
	}
	log.Info("connected",
		zap.String("network", cfg.Chain.NetworkName),
		zap.String("chain_id", chainID.String()),
		zap.String("trader", acct.Address.Hex()),
		zap.Uint64("nonce", nonces.Peek()),
	)
	return client, nonces, nil
}

// NewGateway builds the order gateway for symbol on v.
func NewGateway(cfg config.GatewayConfig, symbol string, v Venue, m *metrics.Metrics, log *zap.Logger) *exec.Gateway {
	return exec.New(newPerpdexChannel(symbol, v), exec.Options{
		Retry: exec.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     cfg.RetryBackoff,
			Retryable:   exec.IsNonceConflict,
		},
		DeadlineWindow:   cfg.DeadlineWindow,
		FeasibilityTries: cfg.FeasibilityTries,
		MaxSlippage:      cfg.MaxSlippage,
	}, m, log)
}

func (a *App) startMetricsServer(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		a.log.Info("metrics server listening", zap.String("addr", srv.Addr), zap.String("path", a.cfg.Metrics.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) close() {
	if err := a.history.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("state store close failed", zap.Error(err))
	}
}

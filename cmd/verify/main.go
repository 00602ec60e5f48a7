package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"perpdex-mm-bot/internal/account"
	"perpdex-mm-bot/internal/app"
	"perpdex-mm-bot/internal/config"
	"perpdex-mm-bot/internal/exec"
	"perpdex-mm-bot/internal/logging"
	"perpdex-mm-bot/internal/market"
	"perpdex-mm-bot/internal/state"
	"perpdex-mm-bot/internal/state/sqlite"

	"go.uber.org/zap"
)

const (
	defaultVerifyEnvFile = ".env"
	verifyTimeout        = 5 * time.Minute
	flatEpsilon          = 1e-9
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envPath := flag.String("env", defaultVerifyEnvFile, "path to dotenv file")
	cancelAll := flag.Bool("cancel", false, "cancel every resting order on the market and exit")
	flatten := flag.Bool("flatten", false, "close the open position with a market order")
	dryRun := flag.Bool("dry-run", false, "print the derived flatten order without sending it")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	conn, err := app.Connect(ctx, cfg, store, log)
	if err != nil {
		fatal(err)
	}
	defer conn.Close()
	client := conn.Client
	symbol := cfg.Market.Symbol

	info := account.NewInfoLogger(client, market.NewTicker(client, 0, log), account.InfoOptions{Symbol: symbol, Store: store}, log)
	snap, err := info.Snapshot(ctx)
	if err != nil {
		fatal(err)
	}
	share, err := client.ShareMarkPrice(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("trader=%s market=%s symbol=%s inverse=%v nonce=%d\n",
		client.Trader().Hex(), client.MarketAddress().Hex(), symbol, client.Inverse(), conn.Nonces.Peek())
	fmt.Printf("mark_price=%.8f share_mark_price=%.8f\n", snap.MarkPrice, share)
	fmt.Printf("position=%.8f account_value=%.8f unit_leverage_lot=%.8f\n", snap.Position, snap.AccountValue, snap.UnitLeverageLot)
	printLastQuote(snap.LastQuote)

	gateway := app.NewGateway(cfg.Gateway, symbol, client, nil, log.Named("gateway"))
	orders, err := gateway.OpenOrders(ctx, symbol)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("open orders: asks=%v bids=%v\n", orders[exec.SideAsk], orders[exec.SideBid])

	if *cancelAll {
		if err := gateway.CancelAllOrders(ctx, symbol); err != nil {
			fatal(err)
		}
		fmt.Println("cancelled all resting orders")
	}
	if !*flatten {
		return
	}
	if math.Abs(snap.Position) < flatEpsilon {
		fmt.Println("position is flat, nothing to close")
		return
	}
	side := exec.SideAsk
	if snap.Position < 0 {
		side = exec.SideBid
	}
	size := math.Abs(snap.Position)
	fmt.Printf("flatten order: side=%s size=%.8f\n", side, size)
	if *dryRun {
		return
	}
	if err := gateway.PostMarketOrder(ctx, symbol, side, size); err != nil {
		fatal(err)
	}
	after, err := client.Position(ctx)
	if err != nil {
		fatal(err)
	}
	log.Info("flatten finished", zap.Float64("position_before", snap.Position), zap.Float64("position_after", after))
	fmt.Printf("position after flatten=%.8f\n", after)
}

func printLastQuote(q *state.QuoteSnapshot) {
	if q == nil {
		fmt.Println("last quote: none")
		return
	}
	fmt.Printf("last quote: cycle=%s at=%s ask=%.8f@%.8f bid=%.8f@%.8f ask_id=%s bid_id=%s\n",
		q.CycleID,
		time.UnixMilli(q.UpdatedAtMS).UTC().Format(time.RFC3339),
		q.AskSize, q.AskPrice,
		q.BidSize, q.BidPrice,
		q.AskOrderID, q.BidOrderID,
	)
}

func fatal(err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

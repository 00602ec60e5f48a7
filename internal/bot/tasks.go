package bot

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type Executor interface {
	Execute(ctx context.Context) error
}

type Logger interface {
	Log(ctx context.Context) error
}

// SleepAfter is the pause between cycles: what is left of period after the
// cycle took elapsed, never negative.
func SleepAfter(period, elapsed time.Duration) time.Duration {
	if d := period - elapsed; d > 0 {
		return d
	}
	return 0
}

// TradeTask runs Execute at a fixed rate. A failing cycle ends the task.
type TradeTask struct {
	maker  Executor
	period time.Duration
	now    func() time.Time
	log    *zap.Logger
}

func NewTradeTask(maker Executor, period time.Duration, log *zap.Logger) *TradeTask {
	if log == nil {
		log = zap.NewNop()
	}
	return &TradeTask{maker: maker, period: period, now: time.Now, log: log}
}

func (t *TradeTask) Run(ctx context.Context) error {
	t.log.Debug("trade task started", zap.Duration("period", t.period))
	for {
		start := t.now()
		if err := t.maker.Execute(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.Error("trade cycle failed", zap.Error(err))
			return err
		}
		if err := sleep(ctx, SleepAfter(t.period, t.now().Sub(start))); err != nil {
			return err
		}
	}
}

// InfoTask invokes a diagnostics logger on a fixed period.
type InfoTask struct {
	logger Logger
	period time.Duration
	log    *zap.Logger
}

func NewInfoTask(logger Logger, period time.Duration, log *zap.Logger) *InfoTask {
	if log == nil {
		log = zap.NewNop()
	}
	return &InfoTask{logger: logger, period: period, log: log}
}

func (t *InfoTask) Run(ctx context.Context) error {
	t.log.Debug("info task started", zap.Duration("period", t.period))
	for {
		if err := t.logger.Log(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.Error("info logging failed", zap.Error(err))
			return err
		}
		t.log.Debug("bot info logged")
		if err := sleep(ctx, t.period); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

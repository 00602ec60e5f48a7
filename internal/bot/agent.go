package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrAlreadyStarted = errors.New("agent already started")
	// ErrStopTimeout means a task outlived the stop deadline and may still be
	// running.
	ErrStopTimeout = errors.New("tasks still running after stop timeout")
)

type runner interface {
	Run(ctx context.Context) error
}

type task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (t *task) alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Agent owns the trade and info tasks of one supervisor run plus any
// background helpers (candle stream) that live and die with it.
type Agent struct {
	trade runner
	info  runner
	log   *zap.Logger

	mu         sync.Mutex
	tasks      []*task
	background []*task
	helpers    []namedRunner
	closers    []func() error
}

type namedRunner struct {
	name string
	run  func(ctx context.Context) error
}

func NewAgent(trade *TradeTask, info *InfoTask, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{trade: trade, info: info, log: log}
}

// Go registers a helper started with the agent and cancelled at Stop. Helpers do
// not take part in the health check.
func (a *Agent) Go(name string, run func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.helpers = append(a.helpers, namedRunner{name: name, run: run})
}

// OnStop registers a cleanup run after every task has returned.
func (a *Agent) OnStop(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tasks != nil {
		return ErrAlreadyStarted
	}
	a.log.Debug("start")
	for _, h := range a.helpers {
		a.background = append(a.background, a.spawn(ctx, h.name, h.run))
	}
	a.tasks = []*task{
		a.spawn(ctx, "trade", a.trade.Run),
		a.spawn(ctx, "info", a.info.Run),
	}
	return nil
}

func (a *Agent) spawn(ctx context.Context, name string, run func(ctx context.Context) error) *task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{name: name, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.err = run(taskCtx)
		if t.err != nil && !isCancel(t.err) {
			a.log.Warn("task ended", zap.String("task", name), zap.Error(t.err))
		}
	}()
	return t
}

// HealthCheck reports whether both tasks are still running.
func (a *Agent) HealthCheck() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.tasks) == 0 {
		return false
	}
	for _, t := range a.tasks {
		if !t.alive() {
			return false
		}
	}
	return true
}

// Stop cancels every task and helper and waits for them to return. Cancellation
// is not reported as an error. ctx bounds the wait; closers run either way, and a
// task still running at the deadline yields ErrStopTimeout.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	all := append(append([]*task(nil), a.tasks...), a.background...)
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	a.log.Debug("force stop running tasks")
	for _, t := range all {
		t.cancel()
	}
	var errs []error
	var stuck []string
	for _, t := range all {
		select {
		case <-t.done:
			a.log.Debug("task stopped", zap.String("task", t.name))
		case <-ctx.Done():
			if t.alive() {
				stuck = append(stuck, t.name)
			}
		}
	}
	if len(stuck) > 0 {
		a.log.Error("tasks did not stop", zap.Strings("tasks", stuck))
		errs = append(errs, fmt.Errorf("%w: %v", ErrStopTimeout, stuck))
	}
	for _, fn := range closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Err returns the first non-cancellation error a task ended with.
func (a *Agent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.tasks {
		if t.alive() {
			continue
		}
		if t.err != nil && !isCancel(t.err) {
			return fmt.Errorf("%s task: %w", t.name, t.err)
		}
	}
	return nil
}

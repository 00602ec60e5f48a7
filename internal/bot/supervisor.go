package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perpdex-mm-bot/internal/metrics"

	"go.uber.org/zap"
)

var ErrAgentStopped = errors.New("agent stopped")

// Builder constructs a fresh agent with all of its collaborators.
type Builder func(ctx context.Context) (*Agent, error)

type Alerter interface {
	Send(ctx context.Context, message string) error
}

type SupervisorOptions struct {
	HealthInterval time.Duration
	StopTimeout    time.Duration
	Restart        bool
	Label          string
}

// Supervisor runs agents one at a time and replaces a whole agent when either of
// its tasks dies.
type Supervisor struct {
	build   Builder
	opts    SupervisorOptions
	metrics *metrics.Metrics
	alerter Alerter
	log     *zap.Logger
}

func NewSupervisor(build Builder, opts SupervisorOptions, m *metrics.Metrics, alerter Alerter, log *zap.Logger) *Supervisor {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 10 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{build: build, opts: opts, metrics: m, alerter: alerter, log: log}
}

// Run returns nil when ctx ends, or the cause of the agent's death when restart
// is disabled. An agent whose tasks outlive StopTimeout is never replaced: Run
// returns the stop error instead of building a second agent beside it.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Info("start", zap.Bool("restart", s.opts.Restart))
	for {
		cause, stopErr := s.runOnce(ctx)
		if stopErr != nil {
			s.log.Error("agent stop failed", zap.Error(stopErr), zap.NamedError("cause", cause))
			if errors.Is(stopErr, ErrStopTimeout) {
				return fmt.Errorf("stop agent: %w", stopErr)
			}
		}
		if ctx.Err() != nil {
			s.log.Warn("exit")
			return nil
		}
		if !s.opts.Restart {
			s.log.Warn("exit", zap.Error(cause))
			return cause
		}
		s.log.Warn("restarting bot", zap.Error(cause))
		s.metrics.AgentRestarts.Inc()
		s.alert(ctx, cause)
		// one health interval between agents keeps a crash loop from spinning
		if err := sleep(ctx, s.opts.HealthInterval); err != nil {
			return nil
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) (cause, stopErr error) {
	agent, err := s.build(ctx)
	if err != nil {
		return fmt.Errorf("build agent: %w", err), nil
	}
	if err := agent.Start(ctx); err != nil {
		return err, nil
	}
	s.watch(ctx, agent)

	stopCtx, cancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
	defer cancel()
	stopErr = agent.Stop(stopCtx)
	if cause = agent.Err(); cause == nil {
		cause = ErrAgentStopped
	}
	return cause, stopErr
}

func (s *Supervisor) watch(ctx context.Context, agent *Agent) {
	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()
	for agent.HealthCheck() {
		s.log.Debug("health check ok")
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) alert(ctx context.Context, cause error) {
	if s.alerter == nil {
		return
	}
	msg := "agent restarting"
	if s.opts.Label != "" {
		msg = s.opts.Label + ": " + msg
	}
	if cause != nil {
		msg += ": " + cause.Error()
	}
	if err := s.alerter.Send(ctx, msg); err != nil {
		s.log.Warn("restart alert failed", zap.Error(err))
	}
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "perpdex_mm_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry        *prometheus.Registry
	ordersPosted    prometheus.Counter
	ordersCancelled prometheus.Counter
	cancelsAbsorbed prometheus.Counter
	submitRetries   prometheus.Counter
	ordersFailed    prometheus.Counter
	cyclesCompleted prometheus.Counter
	cyclesFailed    prometheus.Counter
	agentRestarts   prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:        registry,
		ordersPosted:    newCounter("orders_posted_total", "Total number of limit orders confirmed by the venue."),
		ordersCancelled: newCounter("orders_cancelled_total", "Total number of resting orders cancelled."),
		cancelsAbsorbed: newCounter("cancels_absorbed_total", "Total number of benign cancel rejections treated as success."),
		submitRetries:   newCounter("submit_retries_total", "Total number of submissions retried after a nonce conflict."),
		ordersFailed:    newCounter("orders_failed_total", "Total number of order submissions that failed terminally."),
		cyclesCompleted: newCounter("quote_cycles_completed_total", "Total number of completed quote refresh cycles."),
		cyclesFailed:    newCounter("quote_cycles_failed_total", "Total number of quote refresh cycles that ended in an error."),
		agentRestarts:   newCounter("agent_restarts_total", "Total number of full agent restarts by the supervisor."),
	}
	registry.MustRegister(
		p.ordersPosted,
		p.ordersCancelled,
		p.cancelsAbsorbed,
		p.submitRetries,
		p.ordersFailed,
		p.cyclesCompleted,
		p.cyclesFailed,
		p.agentRestarts,
	)
	p.Metrics = &Metrics{
		OrdersPosted:    promCounter{p.ordersPosted},
		OrdersCancelled: promCounter{p.ordersCancelled},
		CancelsAbsorbed: promCounter{p.cancelsAbsorbed},
		SubmitRetries:   promCounter{p.submitRetries},
		OrdersFailed:    promCounter{p.ordersFailed},
		CyclesCompleted: promCounter{p.cyclesCompleted},
		CyclesFailed:    promCounter{p.cyclesFailed},
		AgentRestarts:   promCounter{p.agentRestarts},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

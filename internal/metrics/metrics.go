package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPosted    Counter
	OrdersCancelled Counter
	CancelsAbsorbed Counter
	SubmitRetries   Counter
	OrdersFailed    Counter
	CyclesCompleted Counter
	CyclesFailed    Counter
	AgentRestarts   Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPosted:    n,
		OrdersCancelled: n,
		CancelsAbsorbed: n,
		SubmitRetries:   n,
		OrdersFailed:    n,
		CyclesCompleted: n,
		CyclesFailed:    n,
		AgentRestarts:   n,
	}
}

package store

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Consistency selects which store handle serves a read. Writes always go to
// the master; replica reads may lag behind it.
type Consistency int

const (
	Replica Consistency = iota
	Master
)

// Clients bundles the master and replica handles of the shared store. All
// adapters route through Pick so the staleness choice stays explicit at
// every call site.
type Clients struct {
	master  *redis.Client
	replica *redis.Client
}

func NewClients(master, replica *redis.Client) *Clients {
	if replica == nil {
		replica = master
	}
	return &Clients{master: master, replica: replica}
}

func (c *Clients) Master() *redis.Client {
	return c.master
}

func (c *Clients) Pick(cons Consistency) *redis.Client {
	if cons == Master {
		return c.master
	}
	return c.replica
}

// NewRequestCounter registers the per-call request accounting counter.
// Installed as a client hook so every store command is counted exactly once,
// no matter which adapter issued it.
func NewRequestCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recnode_store_requests_total",
		Help: "Total number of shared-store commands issued",
	}, []string{"role"})
	reg.MustRegister(counter)
	return counter
}

// InstrumentClient attaches the request accounting hook to a client under
// the given role label ("master" or "replica").
func InstrumentClient(client *redis.Client, counter *prometheus.CounterVec, role string) {
	client.AddHook(&countingHook{counter: counter.WithLabelValues(role)})
}

type countingHook struct {
	counter prometheus.Counter
}

func (h *countingHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *countingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.counter.Inc()
		return next(ctx, cmd)
	}
}

func (h *countingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.counter.Add(float64(len(cmds)))
		return next(ctx, cmds)
	}
}

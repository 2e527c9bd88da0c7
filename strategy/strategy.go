// Package strategy implements the SelectorStrategy of spec.md §4.4: the
// policy that assigns a newly accepted or connected session to one of a
// service's pool of selector.Processors. Grounded on cloudflared's
// connection.EdgeManager edge-address rotation and
// supervisor.TunnelSupervisor's per-connection assignment across a fixed
// pool of connections.
package strategy

import (
	"sync/atomic"

	"github.com/blueblueblue/mina/selector"
)

// Strategy satisfies selector.Strategy and additionally offers
// SelectorForBindNewAddress, the server-channel counterpart spec.md §4.4
// names. selector.Processor only needs the narrower interface at accept
// time; Service uses the wider one at Bind time.
type Strategy interface {
	selector.Strategy
	SelectorForBindNewAddress() *selector.Processor
}

// RoundRobin cycles through a fixed pool of processors, the Open Question
// default spec.md §9 itself suggests. Safe for concurrent use: processors
// are assigned via an atomic counter, never a lock.
type RoundRobin struct {
	processors []*selector.Processor
	next       atomic.Uint64
}

// NewRoundRobin builds a RoundRobin strategy over processors, which must
// be non-empty.
func NewRoundRobin(processors []*selector.Processor) *RoundRobin {
	if len(processors) == 0 {
		panic("strategy: NewRoundRobin requires at least one processor")
	}
	cp := make([]*selector.Processor, len(processors))
	copy(cp, processors)
	return &RoundRobin{processors: cp}
}

func (r *RoundRobin) pick() *selector.Processor {
	idx := r.next.Add(1) - 1
	return r.processors[idx%uint64(len(r.processors))]
}

// SelectorForNewSession ignores accepting and returns the next processor
// in rotation. The accepting processor is itself a valid candidate and
// may be returned, same as any other.
func (r *RoundRobin) SelectorForNewSession(_ *selector.Processor) *selector.Processor {
	return r.pick()
}

// SelectorForBindNewAddress returns the next processor in rotation for a
// newly bound server channel.
func (r *RoundRobin) SelectorForBindNewAddress() *selector.Processor {
	return r.pick()
}

// Processors returns the underlying pool, in rotation order.
func (r *RoundRobin) Processors() []*selector.Processor {
	cp := make([]*selector.Processor, len(r.processors))
	copy(cp, r.processors)
	return cp
}

var _ Strategy = (*RoundRobin)(nil)

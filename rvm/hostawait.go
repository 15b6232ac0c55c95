package rvm

import "github.com/regovm/engine/value"

// hostAwaitQueues holds preloaded HostAwait responses keyed by
// identifier literal, consumed first-in-first-out as OpHostAwait
// instructions referencing that identifier execute (§5).
type hostAwaitQueues struct {
	queues map[string][]value.Value
}

func newHostAwaitQueues() *hostAwaitQueues {
	return &hostAwaitQueues{queues: make(map[string][]value.Value)}
}

func (h *hostAwaitQueues) push(id string, v value.Value) {
	h.queues[id] = append(h.queues[id], v)
}

func (h *hostAwaitQueues) pop(id string) (value.Value, bool) {
	q := h.queues[id]
	if len(q) == 0 {
		return value.Undefined, false
	}
	v := q[0]
	h.queues[id] = q[1:]
	return v, true
}

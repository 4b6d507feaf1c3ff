package pool

import "sync"

// Filter runs before an incoming action reaches its handler. It must
// call next to let the chain continue; never calling it halts the
// message. next may be called from another goroutine.
type Filter func(action string, payload any, next func())

// chain walks the filters of one message by index. Filter i+1 starts
// only once filter i has called its continuation, and a continuation
// called twice advances the chain once.
type chain struct {
	filters []Filter
	action  string
	payload any
	final   func(payload any)
}

func runChain(filters []Filter, action string, payload any, final func(payload any)) {
	ch := &chain{filters: filters, action: action, payload: payload, final: final}
	ch.step(0)
}

func (ch *chain) step(i int) {
	if i == len(ch.filters) {
		if ch.final != nil {
			ch.final(ch.payload)
		}
		return
	}
	var once sync.Once
	ch.filters[i](ch.action, ch.payload, func() {
		once.Do(func() { ch.step(i + 1) })
	})
}

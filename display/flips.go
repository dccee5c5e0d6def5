package display

import (
	"sync"

	"github.com/srlehn/kmsdisplay/kms"
)

// flipRegistry routes page flip completions to Outputs by flip token.
type flipRegistry struct {
	mu      sync.RWMutex
	outputs map[uint64]*Output
}

func newFlipRegistry() *flipRegistry {
	return &flipRegistry{outputs: make(map[uint64]*Output)}
}

func (r *flipRegistry) add(o *Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[o.token] = o
}

func (r *flipRegistry) remove(o *Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.outputs, o.token)
}

// dispatch reports whether ev belonged to a registered Output.
func (r *flipRegistry) dispatch(ev kms.Event) bool {
	r.mu.RLock()
	o, ok := r.outputs[ev.UserData]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	o.flipComplete(ev)
	return true
}

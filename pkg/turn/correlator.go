package turn

import "sync"

// Correlator turns reducer refresh intents into coalesced refresh
// signals. Multiple triggers within a turn may collapse into a single
// pending signal, but at least one signal is always observable after
// the last trigger.
type Correlator struct {
	mu       sync.Mutex
	triggers int
	signal   chan struct{}
}

// NewCorrelator returns a correlator with a single-slot signal channel.
func NewCorrelator() *Correlator {
	return &Correlator{signal: make(chan struct{}, 1)}
}

// Note records an effect. Returns true if the effect triggered a
// refresh. The send never blocks: a signal already pending absorbs
// the trigger.
func (c *Correlator) Note(eff Effect) bool {
	if !eff.RefreshTasks {
		return false
	}

	c.mu.Lock()
	c.triggers++
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
	return true
}

// Signals is the channel refresh consumers receive on. Buffered with
// capacity one; a pending signal means "re-fetch at least once".
func (c *Correlator) Signals() <-chan struct{} {
	return c.signal
}

// Triggers reports how many refresh triggers were observed, coalesced
// or not.
func (c *Correlator) Triggers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.triggers
}

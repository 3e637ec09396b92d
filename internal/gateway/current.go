package gateway

import "sync"

var (
	currentMu sync.RWMutex
	current   *Gateway
)

// SetCurrent attaches the process-wide gateway instance. Called by the
// transport layer once the WebSocket surface is up.
func SetCurrent(g *Gateway) {
	currentMu.Lock()
	current = g
	currentMu.Unlock()
}

// Current returns the process-wide gateway, or nil when no transport is
// attached. Consumers treat nil as "delivery happens elsewhere", not as an
// error.
func Current() Emitter {
	currentMu.RLock()
	defer currentMu.RUnlock()
	if current == nil {
		return nil
	}
	return current
}

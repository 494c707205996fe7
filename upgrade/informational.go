// Package upgrade implements the Upgrade / Informational surface
// (spec.md §4.7): a callback registry for 1xx responses on the client
// side, a 100-continue coordinator on the server side grounded on the
// teacher's lazy-send expectContinueReader, and an Early Hints (103)
// pusher.
package upgrade

import (
	"sync"

	"github.com/badu/protocore/message"
)

// InformationalCallback observes one 1xx response. It receives a
// read-only view of the head; mutating Header is undefined behavior.
type InformationalCallback func(head *message.MessageHead)

// Watcher collects the callbacks registered for one outstanding request
// (spec.md §4.7 "on_informational(req, callback)") and fans out every
// 1xx head the client reads for it, in arrival order.
type Watcher struct {
	mu        sync.Mutex
	callbacks []InformationalCallback
}

func NewWatcher() *Watcher {
	return &Watcher{}
}

// OnInformational registers cb to be invoked for every subsequent 1xx
// head this Watcher is notified of. Callbacks already missed (heads
// notified before this call) are not replayed.
func (w *Watcher) OnInformational(cb InformationalCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Notify invokes every registered callback with head, in registration
// order. Callers (the client-side read loop) call this once per 1xx
// head received, so a registered callback MAY use it to unblock request
// body production (spec.md §4.7), e.g. upon seeing a 100 Continue.
func (w *Watcher) Notify(head *message.MessageHead) {
	w.mu.Lock()
	cbs := append([]InformationalCallback(nil), w.callbacks...)
	w.mu.Unlock()
	for _, cb := range cbs {
		cb(head)
	}
}

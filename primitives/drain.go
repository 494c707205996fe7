package primitives

import "sync"

// Drainer lets a single driver (spec.md §4.6 Dispatcher, §4.4 H2 Engine)
// broadcast "start draining" to an unbounded number of watchers and then
// block until every watcher has checked out, without polling. It is the
// Go reading of spec.md §9's "single watch-channel from the driver to
// every task, combined with a bounded mpsc of Never back to the driver":
// the watch-channel is Watched, and the mpsc-of-Never is a WaitGroup,
// which gives the same "observe all watchers dropped" property with
// less machinery than a channel of an uninhabited type would in Go.
type Drainer struct {
	watch *Watched
	wg    sync.WaitGroup
}

// NewDrainer returns a Drainer ready to hand out watchers.
func NewDrainer() *Drainer {
	return &Drainer{watch: NewWatched()}
}

// Watcher registers one unit of in-flight work and returns a handle the
// caller must Done() exactly once, and a channel that closes when
// draining starts.
func (d *Drainer) Watcher() (done func(), draining <-chan struct{}) {
	d.wg.Add(1)
	var once sync.Once
	return func() { once.Do(d.wg.Done) }, d.watch.C()
}

// Drain trips the watch signal and blocks until every outstanding
// watcher has called its done function.
func (d *Drainer) Drain() {
	d.watch.Trip()
	d.wg.Wait()
}

// Draining reports whether Drain has been called.
func (d *Drainer) Draining() bool { return d.watch.Tripped() }

// File: reactor/observer.go
// Author: momentics <momentics@gmail.com>
//
// Instrumentation hooks invoked from dispatcher goroutines.

package reactor

// Observer receives dispatcher activity. Implementations must be safe for
// concurrent use by several dispatchers and must not block.
type Observer interface {
	HandlerRegistered(dispatcher int, id int64)
	HandlerClosed(dispatcher int, id int64)
	EventsDispatched(dispatcher int, n int)
	TimeoutFired(dispatcher int, id int64)
	CallbackPanicked(dispatcher int, id int64, value any)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) HandlerRegistered(int, int64)     {}
func (NopObserver) HandlerClosed(int, int64)         {}
func (NopObserver) EventsDispatched(int, int)        {}
func (NopObserver) TimeoutFired(int, int64)          {}
func (NopObserver) CallbackPanicked(int, int64, any) {}

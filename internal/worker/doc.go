// Package worker hosts a single non-shareable engine on a dedicated goroutine
// locked to its own OS thread and exposes the engine's operations to other
// goroutines through a query/response channel pair.
//
// Two adapters share one protocol and one dispatcher loop: Worker blocks the
// calling goroutine until the paired response arrives, and AsyncWorker takes a
// context on every call and runs the dispatcher as an event loop that also
// pumps engine timers between queries.
package worker

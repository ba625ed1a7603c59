// Package audit provides asynchronous security-event dispatching for the
// auth service. Events are emitted off the request path through a buffered
// Dispatcher into a pluggable Sink; the default deployment writes JSON lines
// to stdout.
package audit

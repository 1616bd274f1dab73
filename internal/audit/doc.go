// Package audit buffers engine audit events and delivers them to a sink.
//
// The engine decides which events to emit. This package only owns buffering
// and delivery: [Dispatcher] relays events on one goroutine and either drops
// or blocks when its buffer is full.
package audit

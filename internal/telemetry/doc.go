// Package telemetry streams parameter updates to HTTP clients as
// server-sent events.
//
// Every event carries an ID from a single process-wide counter. Port
// events are kept in a bounded per-port history so that a client that
// reconnects with a Last-Event-ID header receives what it missed.
// Heartbeats run while at least one client is connected.
package telemetry

// Package command routes control requests from the HTTP API and the
// command shell to the configured ports.
//
// Requests address a parameter by port name, parameter name and address.
// The orchestrator resolves the parameter, picks the dispatch call that
// matches its type, bounds the wait for a busy port and writes an audit
// record for every state-changing action.
package command

// Package api implements the HTTP gateway of the IOC.
//
// Commands are JSON over HTTP under /api/v1 and map onto orchestrator
// calls. Parameter callbacks are streamed two ways: the telemetry hub
// serves every port as Server-Sent Events, and /ports/{port}/monitor
// upgrades to a WebSocket carrying the updates of a single port.
//
// Every JSON response uses the envelope
//
//	{"result":"ok"|"error","data":...,"code":...,"message":...,"correlationId":...}
package api

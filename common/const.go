package common

// JSON-RPC method names served on the control endpoint.
const (
	MethodGetVersion = "system.getVersion"
	MethodRunStatus  = "run.status"
	MethodRunPause   = "run.pause"
	MethodRunResume  = "run.resume"
)

// EventMethodPrefix prefixes the notification method of every relayed
// scheduler event, e.g. "event.load".
const EventMethodPrefix = "event."

// RPCPath is the path of the control endpoint.
const RPCPath = "/jsonrpc/ws"

// CodeRunNotActive is the JSON-RPC error code of a control call made while
// no run is in progress.
const CodeRunNotActive = -32002

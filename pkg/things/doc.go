// Package things correlates CoAP traffic with the Things platform.
//
// Each registered Thing owns eight request tokens, one per operation kind.
// Outgoing requests are tagged with the token of their kind; inbound
// messages are attributed to an operation by exact token match and
// delivered to the application as typed events.
//
// # Tokens
//
// Request tokens are regenerated for every request. The two observe tokens
// (shared attributes and incoming RPC) are generated once and reused on
// every renewal so that notifications keep matching.
//
// # Tick
//
// The Engine is driven by Tick. Within one tick it drains at most one
// inbound datagram and dispatches it, then renews at most one due observe
// registration, then runs the connectivity watchdog. Tick must not be
// called concurrently; application code that wants to send requests from
// other goroutines has to hand them to the tick goroutine.
//
// # Platform API
//
//	POST /api/v1/<auth>/telemetry
//	GET  /api/v1/<auth>/attributes?clientKeys=a,b
//	GET  /api/v1/<auth>/attributes?sharedKeys=a,b
//	POST /api/v1/<auth>/attributes
//	GET  /api/v1/<auth>/attributes   (Observe: 0)
//	POST /api/v1/<auth>/rpc
//	GET  /api/v1/<auth>/rpc          (Observe: 0)
//	POST /api/v1/<auth>/rpc/<id>
package things

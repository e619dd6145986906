package things

import (
	"encoding/json"
	"errors"
	"strconv"
)

// RPC status codes used by the engine itself.
const (
	StatusOK          = 200
	StatusUnsupported = 400
)

// PingMethod is answered by the engine without involving the application.
const PingMethod = "ping"

// ErrResponseAlreadySent is returned by a second CommandResponse.Send.
var ErrResponseAlreadySent = errors.New("rpc response already sent")

// CommandResponse answers one incoming RPC. The status defaults to 200.
type CommandResponse struct {
	engine *Engine
	thing  *Thing
	id     int
	method string
	status int
	sent   bool
}

func newCommandResponse(e *Engine, thing *Thing, id int, method string) *CommandResponse {
	return &CommandResponse{
		engine: e,
		thing:  thing,
		id:     id,
		method: method,
		status: StatusOK,
	}
}

// Status sets the status code of the reply.
func (r *CommandResponse) Status(code int) *CommandResponse {
	r.status = code
	return r
}

// Send replies with body. Only the first call sends anything.
func (r *CommandResponse) Send(body any) error {
	if r.sent {
		return ErrResponseAlreadySent
	}
	r.sent = true
	return r.engine.RespondRPC(r.thing, r.id, r.method, r.status, body)
}

// Sent reports whether a reply was sent.
func (r *CommandResponse) Sent() bool {
	return r.sent
}

type rpcRequestEnvelope struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type rpcResponseEnvelope struct {
	Method   string      `json:"method"`
	Response rpcResponse `json:"response"`
}

type rpcResponse struct {
	Status int `json:"status"`
	Body   any `json:"body"`
}

// handleIncomingRPC runs the command handler for an RPC request body.
func (e *Engine) handleIncomingRPC(thing *Thing, body map[string]any) {
	method, _ := body["method"].(string)
	if method == "" {
		e.debugLog("things: rpc without method ignored", "thing", thing.id)
		return
	}

	id, ok := rpcID(body["id"])
	if !ok {
		e.debugLog("things: rpc with invalid id ignored", "thing", thing.id, "method", method)
		return
	}

	rsp := newCommandResponse(e, thing, id, method)
	if method == PingMethod {
		e.reply(rsp, StatusOK, "pong")
		return
	}

	if e.onCommand != nil {
		e.onCommand(thing, RPCRequest{ID: id, Method: method, Params: body["params"]}, rsp)
	}
	if !rsp.Sent() {
		e.reply(rsp, StatusUnsupported, "unsupported command")
	}
}

func (e *Engine) reply(rsp *CommandResponse, status int, body string) {
	if err := rsp.Status(status).Send(body); err != nil {
		e.debugLog("things: rpc reply failed", "method", rsp.method, "error", err)
	}
}

// rpcID accepts the numeric forms produced by the JSON decoder.
func rpcID(v any) (int, bool) {
	switch id := v.(type) {
	case json.Number:
		n, err := strconv.Atoi(id.String())
		return n, err == nil && n >= 0
	case float64:
		return int(id), id >= 0 && id == float64(int(id))
	case nil:
		return 0, true
	default:
		return 0, false
	}
}

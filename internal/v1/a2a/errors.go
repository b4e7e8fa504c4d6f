package a2a

import (
	"github.com/crewmates-ai/game-master/internal/v1/game"
)

// JSON-RPC error codes. The -32xxx range follows the spec; -32001 and
// -32002 are the server-defined task codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeTaskNotFound   = -32001
	codeNotCancelable  = -32002
)

func rpcError(code int, message string, data any) *ErrorObj {
	return &ErrorObj{Code: code, Message: message, Data: data}
}

func errorResponse(id any, code int, message string, data any) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: rpcError(code, message, data)}
}

func successResponse(id any, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// resultError maps an engine rejection onto the generic domain error.
// Authentication and ownership failures never reach here; those are
// invalid-params at the gate.
func resultError(id any, skillID string, res game.Result) Response {
	return errorResponse(id, codeInternalError, res.Message, map[string]any{
		"skillId": skillID,
		"kind":    string(res.Kind),
	})
}

// Package rpc speaks newline-delimited JSON-RPC with a single worker process.
//
// The package is split into three layers: a Framer that cuts the worker's
// stdout into JSON documents, a Channel that owns the worker process and
// publishes frames and exit events, and a Correlator that matches response
// frames back to the calls waiting on them.
package rpc

import (
	"encoding/json"
	"strconv"
)

const jsonRPCVersion = "2.0"

// Worker protocol method names.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// Message is a JSON-RPC 2.0 envelope. Requests carry Method and Params,
// responses carry Result or Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// IsResponse reports whether the message answers a request.
func (m Message) IsResponse() bool {
	return m.ID != nil && m.Method == ""
}

// RequestID is a numeric request identifier. Workers sometimes echo ids back
// as strings, so both forms are accepted on decode.
type RequestID int64

// MarshalJSON encodes the id as a JSON number.
func (id RequestID) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, int64(id), 10), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = RequestID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*id = RequestID(n)
	return nil
}

// ErrorObject is the JSON-RPC error member of a response.
type ErrorObject struct {
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Tool is one operation advertised by the worker in a tools/list response.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolsListResult is the result of the tools/list method.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// ToolsCallParams is sent with the tools/call method.
type ToolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ClientInfo identifies this client during the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams is sent with the initialize method.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// InitializeResult is returned by the initialize method.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      ClientInfo     `json:"serverInfo"`
}

func newRequest(id RequestID, method string, params json.RawMessage) Message {
	return Message{
		JSONRPC: jsonRPCVersion,
		ID:      &id,
		Method:  method,
		Params:  params,
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

package a2a

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version
const Version = "2.0"

// JSON-RPC error codes used by the agent
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

// Request is a JSON-RPC 2.0 request posted to the agent root
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is
// set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

// RPCError is the error member of a JSON-RPC response
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// PredictInput carries the arguments for the short_term_predict skill
type PredictInput struct {
	Ticker string `json:"ticker"`
	Days   int    `json:"days,omitempty"`
}

// PredictParams is the params shape for prediction calls. Tool inputs are
// keyed by skill name; a bare ticker at the top level is also accepted.
type PredictParams struct {
	ToolInputs map[string]PredictInput `json:"tool_inputs,omitempty"`
	Ticker     string                  `json:"ticker,omitempty"`
	Days       int                     `json:"days,omitempty"`
}

// TickerInput extracts the requested ticker and horizon, preferring the
// nested tool input over top-level params
func (p *PredictParams) TickerInput() (string, int) {
	if in, ok := p.ToolInputs[SkillShortTermPredict]; ok && in.Ticker != "" {
		return in.Ticker, in.Days
	}
	return p.Ticker, p.Days
}

// NewResult builds a success response echoing the request id
func NewResult(id interface{}, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{JSONRPC: Version, Result: raw, ID: id}, nil
}

// NewError builds an error response echoing the request id
func NewError(id interface{}, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   &RPCError{Code: code, Message: message},
		ID:      id,
	}
}

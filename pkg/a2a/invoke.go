package a2a

// InvokePath is the plain-HTTP fallback endpoint on the agent
const InvokePath = "/invoke"

// InvokeRequest is the payload for the /invoke fallback
type InvokeRequest struct {
	Action string       `json:"action"`
	Kwargs InvokeKwargs `json:"kwargs"`
}

// InvokeKwargs carries the action arguments
type InvokeKwargs struct {
	Ticker string `json:"ticker"`
	Days   int    `json:"days,omitempty"`
}

// InvokeResponse is the /invoke reply envelope
type InvokeResponse struct {
	OK     bool               `json:"ok"`
	Result map[string]float64 `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
	Action string             `json:"action,omitempty"`
}

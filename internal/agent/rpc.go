package agent

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stocktrend/prediagent/pkg/a2a"
	"github.com/stocktrend/prediagent/pkg/models"
)

// RPC handles JSON-RPC 2.0 forecast calls posted to the agent root.
// Every advertised method routes to the same forecast operation, so
// clients probing method names in card order all land here.
func (s *Server) RPC(w http.ResponseWriter, r *http.Request) {
	var req a2a.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeRPCError(w, http.StatusBadRequest, nil, a2a.CodeParseError, "parse error")
		return
	}

	if req.JSONRPC != a2a.Version || req.Method == "" {
		s.writeRPCError(w, http.StatusBadRequest, req.ID, a2a.CodeInvalidRequest, "invalid request")
		return
	}

	if !s.methods[req.Method] {
		s.writeRPCError(w, http.StatusNotFound, req.ID, a2a.CodeMethodNotFound,
			fmt.Sprintf("method %q not found", req.Method))
		return
	}

	var params a2a.PredictParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeRPCError(w, http.StatusBadRequest, req.ID, a2a.CodeInvalidParams, "invalid params")
			return
		}
	}

	ticker, days := params.TickerInput()
	if models.NormalizeTicker(ticker) == "" {
		s.writeRPCError(w, http.StatusBadRequest, req.ID, a2a.CodeInvalidParams, "missing ticker")
		return
	}

	result, err := s.engine.Forecast(ticker, days)
	if err != nil {
		s.metrics.RecordForecast("jsonrpc", "", false)
		s.logger.Error("Forecast failed", map[string]interface{}{
			"method": req.Method,
			"ticker": ticker,
			"error":  err.Error(),
		})
		s.writeRPCError(w, http.StatusInternalServerError, req.ID, a2a.CodeServerError, err.Error())
		return
	}

	resp, err := a2a.NewResult(req.ID, result.Map())
	if err != nil {
		s.writeRPCError(w, http.StatusInternalServerError, req.ID, a2a.CodeServerError, err.Error())
		return
	}

	s.metrics.RecordForecast("jsonrpc", string(result.Source), true)
	writeJSON(w, http.StatusOK, resp)
}

// Invoke handles the plain-HTTP fallback endpoint for clients that
// cannot speak JSON-RPC
func (s *Server) Invoke(w http.ResponseWriter, r *http.Request) {
	var req a2a.InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, a2a.InvokeResponse{
			OK:    false,
			Error: "invalid JSON body",
		})
		return
	}

	switch req.Action {
	case a2a.SkillShortTermPredict, a2a.ActionShortTermPredictAlias:
	default:
		writeJSON(w, http.StatusNotFound, a2a.InvokeResponse{
			OK:     false,
			Error:  fmt.Sprintf("unknown action %q", req.Action),
			Action: req.Action,
		})
		return
	}

	if models.NormalizeTicker(req.Kwargs.Ticker) == "" {
		writeJSON(w, http.StatusOK, a2a.InvokeResponse{
			OK:     false,
			Error:  "ticker is required",
			Action: req.Action,
		})
		return
	}

	result, err := s.engine.Forecast(req.Kwargs.Ticker, req.Kwargs.Days)
	if err != nil {
		s.metrics.RecordForecast("invoke", "", false)
		s.logger.Error("Invoke forecast failed", map[string]interface{}{
			"action": req.Action,
			"ticker": req.Kwargs.Ticker,
			"error":  err.Error(),
		})
		writeJSON(w, http.StatusOK, a2a.InvokeResponse{
			OK:     false,
			Error:  err.Error(),
			Action: req.Action,
		})
		return
	}

	s.metrics.RecordForecast("invoke", string(result.Source), true)
	writeJSON(w, http.StatusOK, a2a.InvokeResponse{
		OK:     true,
		Result: result.Map(),
		Action: req.Action,
	})
}

// writeRPCError writes a JSON-RPC error response. Error replies still
// carry a decodable JSON-RPC body next to the HTTP status so clients can
// tell method-not-found from a dead server.
func (s *Server) writeRPCError(w http.ResponseWriter, status int, id interface{}, code int, message string) {
	s.metrics.RecordRPCError(code)
	writeJSON(w, status, a2a.NewError(id, code, message))
}

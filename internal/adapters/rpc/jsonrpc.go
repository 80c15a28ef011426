package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"consent-button/go-backend/internal/app"

	"github.com/google/uuid"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

const maxRPCBodyBytes int64 = 64 << 10

var errInvalidParams = errors.New("invalid params")

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.admit(w, r) {
		return
	}
	if s.service == nil {
		writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeNotInitialized, Message: "service is not initialized"},
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBodyBytes)
	var req rpcRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeRPC(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeParseError, Message: "parse error"},
		})
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeRPCInvalidRequest(w, req.ID)
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCInvalidRequest(w, req.ID)
		return
	}

	reqID := "rpc_" + uuid.NewString()
	started := time.Now()
	s.logger.Info("rpc request", "component", "rpc", "operation", req.Method, "correlation_id", reqID)

	result, rpcErr := s.dispatchRPC(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		s.logger.Error("rpc failed",
			"component", "rpc",
			"operation", req.Method,
			"correlation_id", reqID,
			"rpc_code", rpcErr.Code,
			"latency_ms", time.Since(started).Milliseconds(),
		)
	} else {
		s.logger.Info("rpc response",
			"component", "rpc",
			"operation", req.Method,
			"correlation_id", reqID,
			"latency_ms", time.Since(started).Milliseconds(),
		)
	}
	writeRPC(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
		Error:   rpcErr,
	})
}

func (s *Server) dispatchRPC(ctx context.Context, method string, rawParams json.RawMessage) (any, *rpcError) {
	switch method {
	case "health_check":
		return map[string]string{"status": "ok"}, nil
	case "consent.action":
		// The action outlives a client that hangs up mid-flight so the
		// controller always reaches idle and reports.
		res, err := s.service.Action(context.WithoutCancel(ctx))
		if err != nil {
			return nil, rpcServiceError(err)
		}
		if res.Err != nil {
			return nil, rpcActionError(res)
		}
		return res, nil
	case "consent.status":
		display, err := s.service.Status()
		if err != nil {
			return nil, rpcServiceError(err)
		}
		return display, nil
	case "consent.subscribers":
		return map[string]any{"subscribers": s.service.Subscribers()}, nil
	case "consent.events":
		fromSeq, err := decodeFromSeq(rawParams)
		if err != nil {
			return nil, rpcInvalidParams()
		}
		return map[string]any{"events": s.service.Events(fromSeq)}, nil
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "method not found"}
	}
}

// decodeFromSeq accepts {"from_seq": n}, [n], or no params at all.
func decodeFromSeq(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var obj struct {
		FromSeq *float64 `json:"from_seq"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.FromSeq == nil {
			return 0, nil
		}
		return strictNonNegative(*obj.FromSeq)
	}
	var arr []float64
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 {
		return strictNonNegative(arr[0])
	}
	return 0, errInvalidParams
}

func strictNonNegative(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || math.Trunc(v) != v || v > 1<<53 {
		return 0, errInvalidParams
	}
	return int64(v), nil
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCInvalidRequest(w http.ResponseWriter, id json.RawMessage) {
	writeRPC(w, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: codeInvalidRequest, Message: "invalid request"},
	})
}

var _ ConsentService = (*app.ConsentService)(nil)

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/unicom/engagement/pkg/logging"
	"github.com/unicom/engagement/pkg/telemetry"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC error
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MethodHandler is a function that handles a JSON-RPC method
type MethodHandler func(ctx *gin.Context, params json.RawMessage) (interface{}, error)

// JSONRPCHandler handles JSON-RPC requests
type JSONRPCHandler struct {
	methods map[string]MethodHandler
	logger  *zap.Logger
}

// NewJSONRPCHandler creates a new JSON-RPC handler
func NewJSONRPCHandler() *JSONRPCHandler {
	return &JSONRPCHandler{
		methods: make(map[string]MethodHandler),
		logger:  logging.WithComponent("jsonrpc"),
	}
}

// RegisterMethod registers a method handler
func (h *JSONRPCHandler) RegisterMethod(method string, handler MethodHandler) {
	h.methods[method] = handler
}

// Methods lists the registered method names in order.
func (h *JSONRPCHandler) Methods() []string {
	names := make([]string, 0, len(h.methods))
	for name := range h.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle handles a JSON-RPC request
func (h *JSONRPCHandler) Handle(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "jsonrpc.handle")
	c.Request = c.Request.WithContext(ctx)

	var req JSONRPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.EndSpan(span, err)
		h.sendError(c, nil, &JSONRPCError{Code: ErrParseError, Message: "Parse error"}, err)
		return
	}

	// Validate JSON-RPC version
	if req.JSONRPC != "2.0" {
		err := fmt.Errorf("invalid jsonrpc version")
		telemetry.EndSpan(span, err)
		h.sendError(c, req.ID, &JSONRPCError{Code: ErrInvalidRequest, Message: "Invalid Request"}, err)
		return
	}

	// Find method handler
	handler, ok := h.methods[req.Method]
	if !ok {
		err := fmt.Errorf("method %s not found", req.Method)
		telemetry.EndSpan(span, err, attribute.String("rpc.method", req.Method))
		h.sendError(c, req.ID, &JSONRPCError{Code: ErrMethodNotFound, Message: "Method not found"}, err)
		return
	}

	result, err := handler(c, req.Params)
	telemetry.EndSpan(span, err, attribute.String("rpc.method", req.Method))
	if err != nil {
		h.sendError(c, req.ID, toRPCError(err), err)
		return
	}

	h.sendResponse(c, req.ID, result)
}

// sendResponse sends a successful JSON-RPC response
func (h *JSONRPCHandler) sendResponse(c *gin.Context, id interface{}, result interface{}) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	c.JSON(http.StatusOK, resp)
}

// sendError sends an error JSON-RPC response. Caller mistakes are logged at
// debug; only server-side failures are errors.
func (h *JSONRPCHandler) sendError(c *gin.Context, id interface{}, rpcErr *JSONRPCError, err error) {
	if err != nil {
		fields := []zap.Field{zap.Int("code", rpcErr.Code), zap.String("message", rpcErr.Message), zap.Error(err)}
		switch rpcErr.Code {
		case ErrServerError, ErrInternalError, ErrUnavailable:
			h.logger.Error("JSON-RPC error", fields...)
		default:
			h.logger.Debug("JSON-RPC error", fields...)
		}
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcErr,
	}
	c.JSON(http.StatusOK, resp)
}

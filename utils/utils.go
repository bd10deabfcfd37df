package utils

import (
	"encoding/json"
	"strings"

	"github.com/valyala/fasthttp"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondError sends {"error": message} with the given status code
func RespondError(ctx *fasthttp.RequestCtx, statusCode int, message string) {
	WriteJSON(ctx, statusCode, ErrorResponse{Error: message})
}

// WriteJSON serializes v as the response body.
func WriteJSON(ctx *fasthttp.RequestCtx, statusCode int, v interface{}) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		statusCode = fasthttp.StatusInternalServerError
		jsonData, _ = json.Marshal(ErrorResponse{Error: "failed to encode response: " + err.Error()})
	}

	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(jsonData)
}

// IsBrokenPipeError checks if the error is a broken pipe error (client disconnected)
func IsBrokenPipeError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "connection closed")
}

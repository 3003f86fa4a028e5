// Package apierr implements the OpenAI-compatible error envelope and the
// status/type/code taxonomy assigned to every failure kind the proxy raises.
package apierr

import "net/http"

// APIError is the one error shape this proxy ever emits.
type APIError struct {
	HTTPStatus int
	Type       string
	Code       string
	Message    string
}

// Envelope is the wire shape: {"error": {message, type, param, code}}.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

func New(status int, errType, code, message string) *APIError {
	return &APIError{HTTPStatus: status, Type: errType, Code: code, Message: message}
}

func (e *APIError) Error() string { return e.Message }

// ToEnvelope renders the wire body for c.JSON / c.Data callers.
func (e *APIError) ToEnvelope() Envelope {
	env := Envelope{Error: EnvelopeBody{Message: e.Message, Type: e.Type}}
	if e.Code != "" {
		code := e.Code
		env.Error.Code = &code
	}
	return env
}

// Constructors for every row of the error taxonomy table.

func ModelNotFound(message string) *APIError {
	return New(http.StatusBadRequest, "invalid_request_error", "model_not_found", message)
}

func UnknownModel(model string) *APIError {
	return New(http.StatusBadRequest, "invalid_request_error", "unknown_model", "Unknown model: "+model)
}

func Unauthorized(message string) *APIError {
	return New(http.StatusUnauthorized, "authentication_error", "", message)
}

func RouteNotFound(path string) *APIError {
	return New(http.StatusNotFound, "invalid_request_error", "route_not_found", "Route not supported by upstream: "+path)
}

func Upstream404(path string) *APIError {
	return New(http.StatusNotFound, "invalid_request_error", "upstream_404", "Upstream returned 404 for "+path)
}

func PayloadTooLarge(message string) *APIError {
	return New(http.StatusRequestEntityTooLarge, "request_too_large", "", message)
}

func RateLimited(message string) *APIError {
	return New(http.StatusTooManyRequests, "rate_limit_error", "", message)
}

func ConfigError(message string) *APIError {
	return New(http.StatusInternalServerError, "invalid_request_error", "config_error", message)
}

func UpstreamError(message string) *APIError {
	return New(http.StatusBadGateway, "api_error", "", message)
}

func UnsafeDowngradeRetry(message string) *APIError {
	return New(http.StatusBadGateway, "api_error", "unsafe_ssl_downgrade_retry", message)
}

func RuntimeUnavailable(message string) *APIError {
	return New(http.StatusServiceUnavailable, "api_error", "", message)
}

func Timeout(message string) *APIError {
	return New(http.StatusGatewayTimeout, "timeout_error", "", message)
}

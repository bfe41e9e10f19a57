package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// messages are the user-facing texts per failure kind.
var messages = map[Kind]string{
	KindAuth:         "Falha de autenticação no provedor de modelo",
	KindRateLimited:  "Limite de requisições do provedor de modelo excedido",
	KindProxyBlocked: "Requisição bloqueada por proxy ou firewall antes de chegar ao provedor de modelo",
	KindNetwork:      "Falha de conexão com o provedor de modelo",
	KindUnknown:      "Erro inesperado no provedor de modelo",
}

// Error is the structured failure returned by [Gateway.Invoke] once the
// attempt budget is spent or a non-retryable failure occurs.
type Error struct {
	// Message is a short user-facing description.
	Message string

	// Kind is the failure classification.
	Kind Kind

	// Status is the last upstream HTTP status, or 0.
	Status int

	// Retryable is set when the caller may try the whole request again later.
	Retryable bool

	// ProxyBlocked is set for [KindProxyBlocked].
	ProxyBlocked bool

	// Attempts is the number of calls made.
	Attempts int

	// Err is the last underlying provider error.
	Err error
}

func newError(kind Kind, f Failure, attempts int) *Error {
	return &Error{
		Message:      messages[kind],
		Kind:         kind,
		Status:       f.Status,
		Retryable:    kind.Retryable(),
		ProxyBlocked: kind == KindProxyBlocked,
		Attempts:     attempts,
		Err:          f.Err,
	}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s after %d attempt(s): %s: %v", e.Kind, e.Attempts, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway: %s after %d attempt(s): %s", e.Kind, e.Attempts, e.Message)
}

// Unwrap returns the last underlying provider error.
func (e *Error) Unwrap() error { return e.Err }

// Code returns the wire code of the failure kind.
func (e *Error) Code() string { return string(e.Kind) }

// Payload renders the error as the JSON object returned to API clients.
func (e *Error) Payload() map[string]any {
	out := map[string]any{
		"success": false,
		"error":   e.Message,
		"code":    e.Code(),
	}
	if e.Status != 0 {
		out["status"] = e.Status
	}
	if e.Retryable {
		out["retryable"] = true
	}
	if e.ProxyBlocked {
		out["proxy_blocked"] = true
	}
	return out
}

// HTTPStatus maps a gateway failure to the status code a transport should
// answer with. Errors that are not gateway failures map to 500.
func HTTPStatus(err error) int {
	var ge *Error
	if !errors.As(err, &ge) {
		return http.StatusInternalServerError
	}
	switch ge.Kind {
	case KindAuth:
		if ge.Status == http.StatusForbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindProxyBlocked, KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

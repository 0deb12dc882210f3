package llm

import (
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrCredentialNotFound is returned when credentials_path is neither a file
	// nor a directory holding CredentialFileName.
	ErrCredentialNotFound = errors.New("llm: credential not found")

	// ErrProviderConfiguration covers missing or invalid provider settings.
	ErrProviderConfiguration = errors.New("llm: provider configuration error")

	// ErrUnknownProvider is returned when a request names a provider that is not configured.
	ErrUnknownProvider = fmt.Errorf("%w: unknown provider", ErrProviderConfiguration)

	// ErrUnknownModel is returned when the provider does not list the requested model.
	ErrUnknownModel = fmt.Errorf("%w: unknown model", ErrProviderConfiguration)

	// ErrLLMInvocation marks a failed remote call. Match it with errors.Is.
	ErrLLMInvocation = errors.New("llm: invocation failed")
)

// InvocationError is the typed form of ErrLLMInvocation.
type InvocationError struct {
	Provider   string
	Model      string
	StatusCode int // 0 when the call never got an HTTP response
	Err        error
}

func (e *InvocationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: %s/%s: status %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm: %s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *InvocationError) Unwrap() []error {
	return []error{ErrLLMInvocation, e.Err}
}

// Retryable reports whether repeating the same call may succeed:
// transport failures, throttling and server-side errors.
func (e *InvocationError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// IsRetryable reports whether err is an InvocationError worth retrying.
func IsRetryable(err error) bool {
	var inv *InvocationError
	if errors.As(err, &inv) {
		return inv.Retryable()
	}
	return false
}

// newInvocationError wraps err, lifting the HTTP status out of go-openai errors.
func newInvocationError(provider, model string, err error) *InvocationError {
	inv := &InvocationError{Provider: provider, Model: model, Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		inv.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		inv.StatusCode = reqErr.HTTPStatusCode
	}
	return inv
}

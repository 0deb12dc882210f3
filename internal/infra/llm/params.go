package llm

import (
	"net/http"
	"sort"
)

// Params is a provider parameter bag. A key mapped to nil is an explicit
// "unset" and overrides a default; an absent key leaves the default alone.
type Params map[string]any

// Well-known keys shared by several backends.
const (
	ParamBaseURL          = "base_url"
	ParamModel            = "model"
	ParamMaxTokens        = "max_tokens"
	ParamTemperature      = "temperature"
	ParamTopP             = "top_p"
	ParamFrequencyPenalty = "frequency_penalty"
	ParamVerbose          = "verbose"
	ParamHTTPClient       = "http_client"
	ParamMaxNewTokens     = "max_new_tokens"
	ParamMinNewTokens     = "min_new_tokens"
	ParamNumPredict       = "num_predict"
)

// Reconcile builds the effective parameter set for a backend.
// The result starts from defaults; each caller key present in allowed or in
// defaults is copied over (nil included), every other caller key is dropped.
// Neither input is modified.
func Reconcile(defaults, caller Params, allowed []string) Params {
	out := make(Params, len(defaults)+len(caller))
	for k, v := range defaults {
		out[k] = v
	}
	permitted := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		permitted[k] = struct{}{}
	}
	for k, v := range caller {
		_, inDefaults := defaults[k]
		_, inAllowed := permitted[k]
		if inDefaults || inAllowed {
			out[k] = v
		}
	}
	return out
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the keys in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Str returns the value at key when it is a string.
func (p Params) Str(key string) string {
	s, _ := p[key].(string)
	return s
}

// Float returns the numeric value at key. YAML and JSON decoders produce a
// mix of int and float types, so all of them are accepted.
func (p Params) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Int returns the numeric value at key truncated to int.
func (p Params) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	}
	return 0, false
}

// Bool returns the value at key when it is a bool.
func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Strings returns the value at key as a string slice.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// HTTPClient returns the client stored under ParamHTTPClient, or fallback.
func (p Params) HTTPClient(fallback *http.Client) *http.Client {
	if c, ok := p[ParamHTTPClient].(*http.Client); ok && c != nil {
		return c
	}
	return fallback
}

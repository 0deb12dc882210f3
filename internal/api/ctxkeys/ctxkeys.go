// Package ctxkeys holds the request context keys shared by the api layer.
// Leaf package so that api and api/handlers can both import it.
package ctxkeys

import "context"

// Key is the named type for all API context keys. context.Value compares
// both type and value, so these never collide with plain string keys.
type Key string

const (
	// UserID is the caller id resolved by the auth middleware.
	UserID Key = "user_id"
	// UserName is the caller display name.
	UserName Key = "user_name"
	// UserToken is the raw gateway token, empty for noop auth.
	UserToken Key = "user_token"
)

// WithValue adds a ctxkeys.Key value to the context.
func WithValue(ctx context.Context, key Key, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// String reads a string value, returning "" when absent.
func String(ctx context.Context, key Key) string {
	v, _ := ctx.Value(key).(string)
	return v
}

package auth

import "context"

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const keyContextKey contextKey = "auth_api_key"

// WithAPIKey returns a new context carrying the API key that authenticated
// the current request.
func WithAPIKey(ctx context.Context, key *APIKey) context.Context {
	return context.WithValue(ctx, keyContextKey, key)
}

// KeyFromContext retrieves the API key that authenticated the current
// request, if any.
func KeyFromContext(ctx context.Context) (*APIKey, bool) {
	key, ok := ctx.Value(keyContextKey).(*APIKey)
	return key, ok
}

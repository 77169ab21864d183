package models

import "context"

type apiKeyContextKey struct{}

// WithAPIKey returns a context carrying a caller-supplied provider API key.
// Providers prefer it over the configured key for calls made with that context.
func WithAPIKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, apiKeyContextKey{}, key)
}

// APIKeyFromContext returns the key set by WithAPIKey, if any.
func APIKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyContextKey{}).(string)
	return key
}

package secrets

import "context"

// Provider resolves a named secret into its flat key/value pairs.
// ResolveDatabaseURL is its only consumer; tests substitute a static map.
type Provider interface {
	GetSecret(ctx context.Context, key string) (map[string]string, error)
}

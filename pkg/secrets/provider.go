package secrets

import "context"

// Provider fetches JSON key-value secrets. The router uses it to load the
// maker credential allow-list; AWS Secrets Manager is the production backend.
type Provider interface {
	// GetSecret retrieves a secret by name and returns its key-value map.
	GetSecret(ctx context.Context, key string) (map[string]string, error)
}

// StaticProvider serves secrets from memory. It backs local runs and tests.
type StaticProvider map[string]map[string]string

// GetSecret implements Provider.
func (p StaticProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, ErrSecretNotFound
	}
	out := make(map[string]string, len(v))
	for k, s := range v {
		out[k] = s
	}
	return out, nil
}

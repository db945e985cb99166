package maker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionsfi/rfq-router/pkg/secrets"
)

type countingProvider struct {
	inner secrets.Provider
	calls int
}

func (p *countingProvider) GetSecret(ctx context.Context, key string) (map[string]string, error) {
	p.calls++
	return p.inner.GetSecret(ctx, key)
}

func TestAuthenticator_StaticKeys(t *testing.T) {
	a := NewAuthenticator(map[string]string{"mm-1": "key-1"}, nil)
	ctx := context.Background()

	assert.NoError(t, a.Verify(ctx, "mm-1", "key-1"))
	assert.ErrorIs(t, a.Verify(ctx, "mm-1", "key-2"), ErrUnauthorized)
	assert.ErrorIs(t, a.Verify(ctx, "mm-2", "key-1"), ErrUnauthorized)
	assert.ErrorIs(t, a.Verify(ctx, "", ""), ErrUnauthorized)
}

func TestAuthenticator_SecretSourceIsCached(t *testing.T) {
	provider := &countingProvider{inner: secrets.StaticProvider{
		"rfq/maker-keys": {"mm-aws": "aws-key"},
	}}
	a := NewAuthenticator(nil, nil, WithSecretSource(provider, "rfq/maker-keys", time.Minute))
	ctx := context.Background()

	require.NoError(t, a.Verify(ctx, "mm-aws", "aws-key"))
	require.NoError(t, a.Verify(ctx, "mm-aws", "aws-key"))
	assert.ErrorIs(t, a.Verify(ctx, "mm-aws", "nope"), ErrUnauthorized)
	assert.Equal(t, 1, provider.calls)
}

func TestAuthenticator_MissingSecretFailsClosed(t *testing.T) {
	a := NewAuthenticator(nil, nil, WithSecretSource(secrets.StaticProvider{}, "missing", time.Minute))
	err := a.Verify(context.Background(), "mm", "key")
	require.Error(t, err)
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
}

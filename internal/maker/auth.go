package maker

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/pkg/secrets"
)

// ErrUnauthorized is returned when a maker presents an unknown id or a wrong key.
var ErrUnauthorized = errors.New("maker: unauthorized")

// Verifier checks a maker's claimed identity.
type Verifier interface {
	Verify(ctx context.Context, makerID, token string) error
}

// Authenticator validates maker credentials against a static allow-list
// and, optionally, a secret holding a JSON map of makerId to key.
type Authenticator struct {
	static     map[string]string
	provider   secrets.Provider
	secretName string
	cache      *secrets.Cache[map[string]string]
	logger     *zap.Logger
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithSecretSource adds a secrets provider whose keys are cached for ttl.
func WithSecretSource(p secrets.Provider, name string, ttl time.Duration) AuthOption {
	return func(a *Authenticator) {
		a.provider = p
		a.secretName = name
		a.cache = secrets.NewCache[map[string]string](ttl)
	}
}

// NewAuthenticator builds an authenticator over the given static keys.
func NewAuthenticator(static map[string]string, logger *zap.Logger, opts ...AuthOption) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Authenticator{static: make(map[string]string, len(static)), logger: logger}
	for id, key := range static {
		a.static[id] = key
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Verify returns nil when token matches the key configured for makerID.
func (a *Authenticator) Verify(ctx context.Context, makerID, token string) error {
	if makerID == "" || token == "" {
		return ErrUnauthorized
	}
	if want, ok := a.static[makerID]; ok && equalKeys(want, token) {
		return nil
	}
	if a.provider == nil {
		return ErrUnauthorized
	}

	keys, err := a.secretKeys(ctx)
	if err != nil {
		a.logger.Warn("maker.auth.secret_unavailable", zap.String("secret", a.secretName), zap.Error(err))
		return fmt.Errorf("load maker keys: %w", err)
	}
	if want, ok := keys[makerID]; ok && equalKeys(want, token) {
		return nil
	}
	return ErrUnauthorized
}

func (a *Authenticator) secretKeys(ctx context.Context) (map[string]string, error) {
	if keys, ok := a.cache.Get(a.secretName); ok {
		return keys, nil
	}
	keys, err := a.provider.GetSecret(ctx, a.secretName)
	if err != nil {
		return nil, err
	}
	a.cache.Put(a.secretName, keys)
	a.logger.Debug("maker.auth.secret_loaded", zap.Int("makers", len(keys)))
	return keys, nil
}

func equalKeys(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	c := NewCache[map[string]string](time.Minute)
	c.Put("makers", map[string]string{"mm-a": "k1"})

	got, ok := c.Get("makers")
	require.True(t, ok)
	assert.Equal(t, "k1", got["mm-a"])
}

func TestCache_Expiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCache[string](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("k", "v")
	now = now.Add(2 * time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry should be removed on read")
}

func TestCache_CleanupExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewCache[string](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("a", "1")
	c.Put("b", "2")
	now = now.Add(time.Hour)
	c.cleanupExpired()

	assert.Equal(t, 0, c.Len())
}

func TestCache_Bust(t *testing.T) {
	c := NewCache[string](time.Minute)
	c.Put("k", "v")
	c.Bust("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestStaticProvider(t *testing.T) {
	p := StaticProvider{"prod/rfq/makers": {"mm-a": "k1"}}

	got, err := p.GetSecret(context.Background(), "prod/rfq/makers")
	require.NoError(t, err)
	assert.Equal(t, "k1", got["mm-a"])

	got["mm-a"] = "mutated"
	again, _ := p.GetSecret(context.Background(), "prod/rfq/makers")
	assert.Equal(t, "k1", again["mm-a"], "returned map must be a copy")

	_, err = p.GetSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("RFQ_TEST_STR", "x")
	t.Setenv("RFQ_TEST_INT", "42")
	t.Setenv("RFQ_TEST_BAD_INT", "nope")
	t.Setenv("RFQ_TEST_DUR", "90s")
	t.Setenv("RFQ_TEST_BOOL", "true")

	assert.Equal(t, "x", GetEnv("RFQ_TEST_STR", "d"))
	assert.Equal(t, "d", GetEnv("RFQ_TEST_UNSET", "d"))
	assert.Equal(t, 42, GetEnvInt("RFQ_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("RFQ_TEST_BAD_INT", 1))
	assert.Equal(t, 90*time.Second, GetEnvDuration("RFQ_TEST_DUR", time.Second))
	assert.True(t, GetEnvBool("RFQ_TEST_BOOL", false))
	assert.False(t, GetEnvBool("RFQ_TEST_UNSET", false))
}

func TestGetEnvMap(t *testing.T) {
	t.Setenv("RFQ_TEST_MAP", "mm-a:k1, mm-b : k2 ,broken,:empty,mm-c:")

	got := GetEnvMap("RFQ_TEST_MAP")
	assert.Equal(t, map[string]string{"mm-a": "k1", "mm-b": "k2"}, got)
	assert.Empty(t, GetEnvMap("RFQ_TEST_UNSET_MAP"))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("RFQ_TEST_LIST", " https://a.example ,,https://b.example, ")

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, GetEnvList("RFQ_TEST_LIST"))
	assert.Nil(t, GetEnvList("RFQ_TEST_UNSET_LIST"))
}

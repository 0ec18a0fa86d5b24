package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRedisClientRequiresAddress(t *testing.T) {
	_, err := NewRedisClient(RedisConfig{Address: "   "})
	require.Error(t, err)
}

func TestRedisKeysArePrefixedOnce(t *testing.T) {
	c := &RedisClient{}
	require.Equal(t, "lifelink:stats", c.prefixed("stats"))
	require.Equal(t, "lifelink:stats", c.prefixed("lifelink:stats"))
}

func TestNewRedisStoreNilClient(t *testing.T) {
	require.Nil(t, NewRedisStore(nil))
}

package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"crosspost/infrastructure/configuration"
)

func TestNewRedisClientRejectsMalformedURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), configuration.RedisClient{
		Host: "redis://[::1%", // unparseable
	})
	require.Error(t, err)
}

package realtime

import (
	"testing"

	"dealroom/internal/directory"
	"dealroom/internal/testutil"

	"github.com/redis/go-redis/v9"
)

func newTestDirectory() *directory.MemoryDirectory {
	return testutil.Directory()
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	_, rdb := testutil.Redis(t)
	return rdb
}

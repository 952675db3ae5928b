package startup

import (
	"context"
	"os"
	"time"

	"github.com/supportdesk/internal/logger"
	"github.com/supportdesk/internal/storage"
	"github.com/supportdesk/internal/storage/memory"
	redisstorage "github.com/supportdesk/internal/storage/redis"
)

// ConnectRedisWithRetry connects to Redis with retries.
// logPrefix is prepended to log lines (e.g. "api: ").
func ConnectRedisWithRetry(redisURL string, maxWait time.Duration, logPrefix string) *redisstorage.Client {
	client, err := retry(maxWait, "redis connect", logPrefix, func() (*redisstorage.Client, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return redisstorage.New(ctx, redisURL)
	})
	if err != nil {
		os.Exit(1)
	}
	return client
}

// PresenceStore uses Redis when REDIS_URL is set, otherwise memory (single API instance).
func PresenceStore(redisURL string, maxWait time.Duration, logPrefix string) storage.PresenceStore {
	if redisURL == "" {
		logger.Infof("%sREDIS_URL not set, using in-memory presence store", logPrefix)
		return memory.New()
	}
	return ConnectRedisWithRetry(redisURL, maxWait, logPrefix)
}

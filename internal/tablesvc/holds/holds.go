// Package holds tracks payment windows for pending sessions. A hold is a
// redis key with a TTL equal to the window; once the key expires the
// sweeper is free to cancel the session. Redis going away degrades to
// no expiry, never to a blocked admission path.
package holds

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "hold:pending:"

type HoldStore struct {
	client *redis.Client
}

// NewClient instantiates a redis client from the environment
// (REDIS_ADDR or REDIS_HOST/REDIS_PORT, REDIS_PASSWORD, REDIS_DB,
// REDIS_TLS). Returns nil when the server is unreachable; callers degrade
// gracefully.
func NewClient() *redis.Client {
	host := os.Getenv("REDIS_HOST")
	port := os.Getenv("REDIS_PORT")
	addr := os.Getenv("REDIS_ADDR")
	if host != "" && port != "" {
		addr = host + ":" + port
	}
	if addr == "" {
		addr = "localhost:6379"
	}
	dbNum := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if n, err := strconv.Atoi(dbStr); err == nil {
			dbNum = n
		}
	}
	var tlsConf *tls.Config
	if tlsEnv := os.Getenv("REDIS_TLS"); strings.EqualFold(tlsEnv, "true") || tlsEnv == "1" {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        dbNum,
		TLSConfig: tlsConf,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil
	}
	return client
}

func NewHoldStore(client *redis.Client) *HoldStore {
	return &HoldStore{client: client}
}

// Hold opens the payment window for a pending session.
func (h *HoldStore) Hold(ctx context.Context, sessionID string, ttl time.Duration) error {
	if h.client == nil {
		return nil
	}
	return h.client.Set(ctx, keyPrefix+sessionID, 1, ttl).Err()
}

// Active reports whether the window is still open. Without redis every
// window reads open, so nothing gets cancelled spuriously.
func (h *HoldStore) Active(ctx context.Context, sessionID string) (bool, error) {
	if h.client == nil {
		return true, nil
	}
	n, err := h.client.Exists(ctx, keyPrefix+sessionID).Result()
	if err != nil {
		return true, err
	}
	return n > 0, nil
}

// Release drops the hold after payment or cancellation.
func (h *HoldStore) Release(ctx context.Context, sessionID string) error {
	if h.client == nil {
		return nil
	}
	return h.client.Del(ctx, keyPrefix+sessionID).Err()
}

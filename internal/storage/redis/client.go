package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	adminsKey = "support:admins"
	// AdminPresenceTTL bounds how long a crashed instance keeps its admins online.
	AdminPresenceTTL = 2 * time.Minute
	registerPrefix   = "support:register_limit:"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Redis returns the underlying client (services/push keeps subscriptions on it).
func (c *Client) Redis() *redis.Client { return c.cli }

// AdminOnline stores the connection in a sorted set scored by expiry time.
func (c *Client) AdminOnline(ctx context.Context, connID string) error {
	exp := time.Now().Add(AdminPresenceTTL).Unix()
	return c.cli.ZAdd(ctx, adminsKey, redis.Z{Score: float64(exp), Member: connID}).Err()
}

func (c *Client) AdminOffline(ctx context.Context, connID string) error {
	return c.cli.ZRem(ctx, adminsKey, connID).Err()
}

// AdminsOnline drops expired members and counts the rest.
func (c *Client) AdminsOnline(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	pipe := c.cli.TxPipeline()
	pipe.ZRemRangeByScore(ctx, adminsKey, "-inf", "("+now)
	card := pipe.ZCard(ctx, adminsKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

// CheckRegisterLimit is a fixed window counter: INCR then EXPIRE on first hit.
func (c *Client) CheckRegisterLimit(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	k := registerPrefix + key
	n, err := c.cli.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, k, window)
	}
	return n <= int64(max), nil
}


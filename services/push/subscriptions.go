package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/supportdesk/internal/push"
)

const (
	redisKeyPrefix     = "push:subs:"
	maxSubsPerAudience = 50
	subscriptionTTL    = 30 * 24 * time.Hour
)

// subscriptionStore keeps browser subscriptions per audience in a Redis list.
type subscriptionStore struct {
	rdb *redis.Client
}

func newSubscriptionStore(rdb *redis.Client) *subscriptionStore {
	return &subscriptionStore{rdb: rdb}
}

func key(audience string) string { return redisKeyPrefix + audience }

// Add stores sub, replacing an earlier entry with the same endpoint. Only the
// newest maxSubsPerAudience entries are kept.
func (s *subscriptionStore) Add(ctx context.Context, audience string, sub push.Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("subscriptions.Add encode: %w", err)
	}
	kept, err := s.without(ctx, audience, sub.Endpoint)
	if err != nil {
		return err
	}
	kept = append(kept, string(raw))
	if len(kept) > maxSubsPerAudience {
		kept = kept[len(kept)-maxSubsPerAudience:]
	}
	return s.replace(ctx, audience, kept)
}

func (s *subscriptionStore) Remove(ctx context.Context, audience, endpoint string) error {
	kept, err := s.without(ctx, audience, endpoint)
	if err != nil {
		return err
	}
	return s.replace(ctx, audience, kept)
}

func (s *subscriptionStore) List(ctx context.Context, audience string) ([]push.Subscription, error) {
	items, err := s.rdb.LRange(ctx, key(audience), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("subscriptions.List: %w", err)
	}
	out := make([]push.Subscription, 0, len(items))
	for _, item := range items {
		var sub push.Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Valid() {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *subscriptionStore) without(ctx context.Context, audience, endpoint string) ([]string, error) {
	items, err := s.rdb.LRange(ctx, key(audience), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("subscriptions: %w", err)
	}
	kept := make([]string, 0, len(items))
	for _, item := range items {
		var sub push.Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

// replace rewrites the list atomically.
func (s *subscriptionStore) replace(ctx context.Context, audience string, items []string) error {
	k := key(audience)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		if len(items) == 0 {
			return nil
		}
		vals := make([]any, len(items))
		for i, v := range items {
			vals[i] = v
		}
		pipe.RPush(ctx, k, vals...)
		pipe.Expire(ctx, k, subscriptionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscriptions.replace: %w", err)
	}
	return nil
}

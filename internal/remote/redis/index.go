// Package redis implements the secondary score indices as Redis sorted sets.
package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/fanzone/memefeed/internal/remote"
	"github.com/fanzone/memefeed/pkg/model"
)

// Config holds Redis connection settings.
type Config struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultConfig returns local development defaults.
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "memefeed:index",
	}
}

// IndexStore keeps one sorted set per index: member = item id, score = index score.
// Equal scores come back in reverse lexical member order, i.e. id descending.
type IndexStore struct {
	client redis.UniversalClient
	prefix string
}

var _ remote.IndexStore = (*IndexStore)(nil)

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, cfg Config) (*IndexStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, cfg.KeyPrefix), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string) *IndexStore {
	return &IndexStore{client: client, prefix: prefix}
}

func (s *IndexStore) key(index string) string {
	if s.prefix == "" {
		return index
	}
	return s.prefix + ":" + index
}

// Range reads up to q.Limit entries at or below q.Max.
func (s *IndexStore) Range(ctx context.Context, index string, q remote.RangeQuery) (model.IndexPage, error) {
	zs, err := s.client.ZRevRangeByScoreWithScores(ctx, s.key(index), rangeBy(q)).Result()
	if err != nil {
		return model.IndexPage{}, model.WrapError(fmt.Errorf("range %s: %w", index, err))
	}

	entries := make([]model.IndexEntry, 0, len(zs))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, model.IndexEntry{ID: id, Score: z.Score})
	}
	return model.IndexPage{Index: index, Entries: entries}, nil
}

// Apply writes all mutations in one MULTI/EXEC transaction.
func (s *IndexStore) Apply(ctx context.Context, mutations ...remote.IndexMutation) error {
	if len(mutations) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, m := range mutations {
		if m.Delete {
			pipe.ZRem(ctx, s.key(m.Index), m.ID)
			continue
		}
		pipe.ZAdd(ctx, s.key(m.Index), redis.Z{Score: m.Score, Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return model.WrapError(fmt.Errorf("apply %d index mutations: %w", len(mutations), err))
	}
	return nil
}

// Close closes the client.
func (s *IndexStore) Close() error {
	return s.client.Close()
}

func rangeBy(q remote.RangeQuery) *redis.ZRangeBy {
	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if q.Max != nil {
		by.Max = strconv.FormatFloat(*q.Max, 'f', -1, 64)
		if !q.Inclusive {
			by.Max = "(" + by.Max
		}
	}
	if q.Limit > 0 {
		by.Count = int64(q.Limit)
	}
	return by
}

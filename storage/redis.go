package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/shahryar908/visa-scraper/models"
)

const redisIndexKey = "visa:index"

// RedisStore keeps each record as a JSON value under visa:{country}:{type},
// with set indexes for listing.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr, which may be host:port or a redis:// URL.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func recordKey(country, visaType string) string {
	return fmt.Sprintf("visa:%s:%s", country, visaType)
}

func countryIndexKey(country string) string {
	return fmt.Sprintf("visa:country:%s", country)
}

// UpsertVisaRecord implements Store.
func (s *RedisStore) UpsertVisaRecord(ctx context.Context, rec *models.VisaRecord) (bool, error) {
	stored := *rec
	stored.Extra = nil
	data, err := json.Marshal(stored)
	if err != nil {
		return false, fmt.Errorf("encode visa record: %w", err)
	}

	key := recordKey(rec.Country, rec.VisaType)
	var added *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, redisIndexKey, key)
		pipe.SAdd(ctx, countryIndexKey(rec.Country), key)
		pipe.Set(ctx, key, data, 0)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert visa record: %w", err)
	}
	return added.Val() == 0, nil
}

// ListVisaRecords implements Store.
func (s *RedisStore) ListVisaRecords(ctx context.Context, country string) ([]*models.VisaRecord, error) {
	index := redisIndexKey
	if country != "" {
		index = countryIndexKey(country)
	}
	keys, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("list visa keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load visa records: %w", err)
	}
	out := make([]*models.VisaRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec models.VisaRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Country != out[j].Country {
			return out[i].Country < out[j].Country
		}
		return out[i].VisaType < out[j].VisaType
	})
	return out, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

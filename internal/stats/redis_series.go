package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	seriesKeyPrefix = "stats:stream:"
	seriesIndexKey  = "stats:streams"
)

// RedisSeriesConfig configures the sorted-set backed series.
type RedisSeriesConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	MasterName   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// NewRedisSeries stores samples in one sorted set per stream, scored by the
// bucket timestamp, so history survives a process restart.
func NewRedisSeries(cfg RedisSeriesConfig) (Series, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	return &redisSeries{client: client}, nil
}

type redisSeries struct {
	client redis.UniversalClient
}

func seriesKey(streamKey string) string {
	return seriesKeyPrefix + streamKey
}

func (s *redisSeries) Upsert(ctx context.Context, sample Sample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	key := seriesKey(sample.StreamKey)
	score := strconv.FormatInt(sample.Timestamp, 10)
	// Replace any point already in this bucket before adding the new one.
	if _, err := s.client.Do(ctx, "ZREMRANGEBYSCORE", key, score, score).Result(); err != nil {
		return fmt.Errorf("clear bucket: %w", err)
	}
	if _, err := s.client.Do(ctx, "ZADD", key, score, string(payload)).Result(); err != nil {
		return fmt.Errorf("add sample: %w", err)
	}
	if _, err := s.client.Do(ctx, "SADD", seriesIndexKey, sample.StreamKey).Result(); err != nil {
		return fmt.Errorf("index stream: %w", err)
	}
	return nil
}

func (s *redisSeries) Window(ctx context.Context, streamKey string, since int64) ([]Sample, error) {
	reply, err := s.client.Do(ctx, "ZRANGEBYSCORE", seriesKey(streamKey), strconv.FormatInt(since, 10), "+inf").Result()
	if err != nil {
		return nil, fmt.Errorf("read window: %w", err)
	}
	members, ok := reply.([]interface{})
	if !ok {
		return nil, nil
	}
	samples := make([]Sample, 0, len(members))
	for _, member := range members {
		raw, ok := memberString(member)
		if !ok {
			continue
		}
		var sample Sample
		if err := json.Unmarshal([]byte(raw), &sample); err != nil {
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (s *redisSeries) Prune(ctx context.Context, before int64) error {
	reply, err := s.client.Do(ctx, "SMEMBERS", seriesIndexKey).Result()
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}
	members, ok := reply.([]interface{})
	if !ok {
		return nil
	}
	cutoff := "(" + strconv.FormatInt(before, 10)
	for _, member := range members {
		streamKey, ok := memberString(member)
		if !ok {
			continue
		}
		if _, err := s.client.Do(ctx, "ZREMRANGEBYSCORE", seriesKey(streamKey), "-inf", cutoff).Result(); err != nil {
			return fmt.Errorf("prune %s: %w", streamKey, err)
		}
	}
	return nil
}

func (s *redisSeries) Close() error {
	return s.client.Close()
}

func memberString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

package sinkredis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Abraxas-365/rollout/pkg/errx"
	"github.com/Abraxas-365/rollout/pkg/sinkx"
	"github.com/redis/go-redis/v9"
)

var redisErrors = errx.NewRegistry("SINKX_REDIS")

var (
	ErrAppend    = redisErrors.Register("APPEND", errx.TypeExternal, "Redis record write failed")
	ErrLoad      = redisErrors.Register("LOAD", errx.TypeExternal, "Redis record load failed")
	ErrMarshal   = redisErrors.Register("MARSHAL", errx.TypeInternal, "Failed to marshal record")
	ErrUnmarshal = redisErrors.Register("UNMARSHAL", errx.TypeInternal, "Failed to unmarshal record")
)

// RedisStore keeps the latest record per slot in one hash per run, plus a
// hash of terminations for quick resume checks.
type RedisStore struct {
	rdb *redis.Client
	run string
}

// NewRedisStore creates a store under the run namespace.
func NewRedisStore(rdb *redis.Client, run string) *RedisStore {
	if run == "" {
		run = "default"
	}
	return &RedisStore{rdb: rdb, run: run}
}

// Key helpers
func recordsKey(run string) string      { return fmt.Sprintf("rollout:%s:records", run) }
func terminationsKey(run string) string { return fmt.Sprintf("rollout:%s:terminations", run) }

// Field returns the hash field of a slot: the rollout index, then the
// question.
func Field(k sinkx.Key) string {
	return strconv.Itoa(k.RolloutIndex) + "|" + k.Question
}

// ParseField is the inverse of Field.
func ParseField(field string) (sinkx.Key, bool) {
	idx, question, ok := strings.Cut(field, "|")
	if !ok {
		return sinkx.Key{}, false
	}
	n, err := strconv.Atoi(idx)
	if err != nil {
		return sinkx.Key{}, false
	}
	return sinkx.Key{Question: question, RolloutIndex: n}, true
}

func (s *RedisStore) Append(ctx context.Context, rec sinkx.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return redisErrors.NewWithCause(ErrMarshal, err).WithDetail("rollout_index", rec.RolloutIndex)
	}

	field := Field(rec.Key())
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, recordsKey(s.run), field, data)
	pipe.HSet(ctx, terminationsKey(s.run), field, string(rec.Termination))
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErrors.NewWithCause(ErrAppend, err).
			WithDetail("run", s.run).
			WithDetail("rollout_index", rec.RolloutIndex)
	}
	return nil
}

// Load returns the stored records ordered by write time.
func (s *RedisStore) Load(ctx context.Context) ([]sinkx.Record, error) {
	fields, err := s.rdb.HGetAll(ctx, recordsKey(s.run)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, redisErrors.NewWithCause(ErrLoad, err).WithDetail("run", s.run)
	}

	records := make([]sinkx.Record, 0, len(fields))
	for field, data := range fields {
		var rec sinkx.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, redisErrors.NewWithCause(ErrUnmarshal, err).WithDetail("field", field)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].WrittenAt.Equal(records[j].WrittenAt) {
			return records[i].WrittenAt.Before(records[j].WrittenAt)
		}
		return records[i].RolloutIndex < records[j].RolloutIndex
	})
	return records, nil
}

// Terminations returns the recorded termination of every slot without
// decoding full records.
func (s *RedisStore) Terminations(ctx context.Context) (map[sinkx.Key]string, error) {
	fields, err := s.rdb.HGetAll(ctx, terminationsKey(s.run)).Result()
	if err != nil && err != redis.Nil {
		return nil, redisErrors.NewWithCause(ErrLoad, err).WithDetail("run", s.run)
	}
	out := make(map[sinkx.Key]string, len(fields))
	for field, term := range fields {
		if k, ok := ParseField(field); ok {
			out[k] = term
		}
	}
	return out, nil
}

// Close leaves the client open; it is owned by the caller.
func (s *RedisStore) Close() error { return nil }

package ratio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	fieldMale      = "male_seconds"
	fieldFemale    = "female_seconds"
	fieldUpdatedAt = "updated_at"
)

// RedisMirror keeps a copy of the totals in a Redis hash so other
// processes can read them and a restart can restore them
type RedisMirror struct {
	client *redis.Client
	key    string
}

// NewRedisMirror mirrors totals into the hash at key
func NewRedisMirror(client *redis.Client, key string) *RedisMirror {
	if key == "" {
		key = "speaker-recognizer:totals"
	}
	return &RedisMirror{client: client, key: key}
}

// Key returns the hash key
func (m *RedisMirror) Key() string {
	return m.key
}

// Add increments the mirrored totals by delta in one transaction
func (m *RedisMirror) Add(ctx context.Context, delta Totals) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrByFloat(ctx, m.key, fieldMale, delta.Male)
		pipe.HIncrByFloat(ctx, m.key, fieldFemale, delta.Female)
		pipe.HSet(ctx, m.key, fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis HINCRBYFLOAT %s: %w", m.key, err)
	}
	return nil
}

// Load reads the mirrored totals; a missing hash yields zero totals
func (m *RedisMirror) Load(ctx context.Context) (Totals, error) {
	vals, err := m.client.HMGet(ctx, m.key, fieldMale, fieldFemale).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Totals{}, nil
		}
		return Totals{}, fmt.Errorf("redis HMGET %s: %w", m.key, err)
	}

	var t Totals
	for i, dst := range []*float64{&t.Male, &t.Female} {
		s, ok := vals[i].(string)
		if !ok || s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Totals{}, fmt.Errorf("redis %s: bad total %q: %w", m.key, s, err)
		}
		*dst = v
	}
	return t, nil
}

// Clear deletes the mirrored hash
func (m *RedisMirror) Clear(ctx context.Context) error {
	if err := m.client.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", m.key, err)
	}
	return nil
}

package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis stores attempt progress for devices that share one learner profile.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

// NewRedis connects to redisURL. A positive ttl expires abandoned attempts.
func NewRedis(ctx context.Context, redisURL string, ttl time.Duration, log logrus.FieldLogger) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse Redis URL")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := redis.NewClient(opt)
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to ping Redis")
	}

	return &Redis{client: client, ttl: ttl, log: log}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.WithError(err).WithField("key", key).Warn("redis read failed; treating as absent")
		}
		return "", false
	}
	return value, true
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return errors.Wrapf(r.client.Set(ctx, key, value, r.ttl).Err(), "redis set %s", key)
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	return errors.Wrapf(r.client.Del(ctx, key).Err(), "redis del %s", key)
}

func (r *Redis) ClearAll(ctx context.Context, chapterID string) error {
	return errors.Wrapf(r.client.Del(ctx, ChapterKeys(chapterID)...).Err(), "redis clear chapter %s", chapterID)
}

func (r *Redis) Close() error {
	return r.client.Close()
}

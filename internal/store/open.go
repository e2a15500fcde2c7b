package store

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Options struct {
	Backend  string
	Path     string
	RedisURL string
	RedisTTL time.Duration
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the configured backend. The returned closer releases it.
func Open(ctx context.Context, opts Options, log logrus.FieldLogger) (Store, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nopCloser{}, nil
	case BackendSQLite:
		s, err := NewSQLite(ctx, opts.Path, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case BackendRedis:
		r, err := NewRedis(ctx, opts.RedisURL, opts.RedisTTL, log)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	default:
		return nil, nil, errors.Errorf("unknown store backend %q", opts.Backend)
	}
}

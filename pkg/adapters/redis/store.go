// Package redis persists generated artefacts in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

const defaultPrefix = "tendril:manifest:"

// Store implements ports.ManifestStore. Each artefact is one string key under
// prefix+"a:"; a sorted set at prefix+"index" indexes the names, scored by
// expiry so List can prune entries whose key already expired.
type Store struct {
	client backend.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL expires artefacts after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New connects to addr.
func New(addr string, opts ...Option) *Store {
	return NewFromClient(backend.NewClient(&backend.Options{Addr: addr}), opts...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(name string) string { return s.prefix + "a:" + name }

func (s *Store) indexKey() string { return s.prefix + "index" }

// Save writes the artefact and its index entry in one pipeline.
func (s *Store) Save(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return errors.New("save: empty manifest name")
	}
	score := 0.0
	if s.ttl > 0 {
		score = float64(time.Now().Add(s.ttl).Unix())
	}

	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, s.key(name), data, s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: name})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", name, err)
	}
	return nil
}

// Load reads one artefact.
func (s *Store) Load(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrManifestNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", name, err)
	}
	return data, nil
}

// List prunes expired index entries and returns the rest.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	// Score 0 marks entries without expiry.
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "(0", now).Err(); err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	names, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

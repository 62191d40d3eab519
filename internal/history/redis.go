package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"fraudscore/internal/features"
)

const (
	keyPrefix     = "card:"
	recordRetries = 5
)

// RedisStore keeps card profiles as JSON values with a sliding TTL, so
// several service replicas see the same history.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. A zero ttl keeps profiles forever.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w", addr, err)
	}
	log.Info().Str("addr", addr).Dur("ttl", ttl).Msg("Connected to Redis history store")
	return NewRedisStore(client, ttl), nil
}

func key(card string) string {
	return keyPrefix + card
}

func decode(data []byte) (features.CardProfile, error) {
	var p features.CardProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("unmarshal profile: %w", err)
	}
	return p, nil
}

// Lookup reads the profile for card.
func (s *RedisStore) Lookup(ctx context.Context, card string) (features.CardProfile, bool, error) {
	data, err := s.client.Get(ctx, key(card)).Bytes()
	if errors.Is(err, redis.Nil) {
		return features.CardProfile{}, false, nil
	}
	if err != nil {
		return features.CardProfile{}, false, fmt.Errorf("redis get failed: %w", err)
	}
	p, err := decode(data)
	if err != nil {
		return features.CardProfile{}, false, err
	}
	return p, true, nil
}

// Record updates the card's profile with an optimistic WATCH/MULTI
// transaction, retrying when another writer touched the key.
func (s *RedisStore) Record(ctx context.Context, card string, obs Observation) error {
	k := key(card)
	update := func(tx *redis.Tx) error {
		var p features.CardProfile
		data, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get failed: %w", err)
		default:
			if p, err = decode(data); err != nil {
				return err
			}
		}

		out, err := json.Marshal(apply(p, obs))
		if err != nil {
			return fmt.Errorf("marshal profile: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, out, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < recordRetries; i++ {
		err := s.client.Watch(ctx, update, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis set failed: %w", err)
		}
		return nil
	}
	return fmt.Errorf("redis set failed: card %s changed concurrently %d times", card, recordRetries)
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

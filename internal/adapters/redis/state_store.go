package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/rolegate/internal/ports"
)

// DefaultStatePrefix namespaces OAuth state keys.
const DefaultStatePrefix = "rolegate:oauth_state:"

// StateStore keeps OAuth state records in Redis. Expiry is left to Redis TTLs;
// Consume uses GETDEL so each state is redeemed at most once across replicas.
type StateStore struct {
	client redis.UniversalClient
	prefix string
}

// NewStateStore creates a Redis-backed state store. An empty prefix uses DefaultStatePrefix.
func NewStateStore(client redis.UniversalClient, prefix string) *StateStore {
	if prefix == "" {
		prefix = DefaultStatePrefix
	}
	return &StateStore{client: client, prefix: prefix}
}

// Put stores rec under state for ttl.
func (s *StateStore) Put(ctx context.Context, state string, rec ports.OAuthState, ttl time.Duration) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if ttl <= 0 {
		return errors.New("state ttl must be positive")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+state, data, ttl).Err(); err != nil {
		return unavailable(fmt.Errorf("redis set: %w", err))
	}
	return nil
}

// Consume atomically fetches and deletes the record for state.
func (s *StateStore) Consume(ctx context.Context, state string) (ports.OAuthState, bool, error) {
	if state == "" {
		return ports.OAuthState{}, false, nil
	}
	data, err := s.client.GetDel(ctx, s.prefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ports.OAuthState{}, false, nil
		}
		return ports.OAuthState{}, false, unavailable(fmt.Errorf("redis getdel: %w", err))
	}
	var rec ports.OAuthState
	if err := json.Unmarshal(data, &rec); err != nil {
		return ports.OAuthState{}, false, fmt.Errorf("unmarshal state: %w", err)
	}
	return rec, true, nil
}

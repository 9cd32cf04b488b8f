package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StateTTL bounds how long a login may take between redirect and callback.
const StateTTL = 10 * time.Minute

const stateKeyPrefix = "oauth_state:"

// StateStore remembers issued OAuth state values. Consume succeeds at most
// once per state.
type StateStore interface {
	Save(ctx context.Context, state string) error
	Consume(ctx context.Context, state string) (bool, error)
}

// NewState returns a fresh unguessable state value.
func NewState() string {
	return uuid.NewString()
}

// MemoryStateStore keeps states in process memory. Suitable for a single
// instance; Lambda deployments should use RedisStateStore.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states: make(map[string]time.Time),
		ttl:    StateTTL,
		now:    time.Now,
	}
}

func (m *MemoryStateStore) Save(_ context.Context, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for s, exp := range m.states {
		if now.After(exp) {
			delete(m.states, s)
		}
	}
	m.states[state] = now.Add(m.ttl)
	return nil
}

func (m *MemoryStateStore) Consume(_ context.Context, state string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.states[state]
	if !ok {
		return false, nil
	}
	delete(m.states, state)
	return m.now().Before(exp), nil
}

// RedisStateStore keeps states in Redis with a TTL.
type RedisStateStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStateStore(rdb redis.Cmdable) *RedisStateStore {
	return &RedisStateStore{rdb: rdb, ttl: StateTTL}
}

func (r *RedisStateStore) Save(ctx context.Context, state string) error {
	ok, err := r.rdb.SetNX(ctx, stateKeyPrefix+state, 1, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis save state: %w", err)
	}
	if !ok {
		return fmt.Errorf("oauth state %q already issued", state)
	}
	return nil
}

func (r *RedisStateStore) Consume(ctx context.Context, state string) (bool, error) {
	err := r.rdb.GetDel(ctx, stateKeyPrefix+state).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis consume state: %w", err)
	}
	return true, nil
}

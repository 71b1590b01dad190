// Package dedup remembers which discovered items were already processed so
// discovery does not pay for embedding them twice.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

// DefaultTTL is how long an item stays marked as seen.
const DefaultTTL = 72 * time.Hour

const keyPrefix = "leadsignal:seen:"

// Valkey is a seen-set per source backed by Valkey sets.
type Valkey struct {
	client valkey.Client
	ttl    time.Duration
}

// Dial connects to Valkey and verifies the connection.
func Dial(ctx context.Context, addr, password string, ttl time.Duration) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{addr},
		Password:         password,
		ConnWriteTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dedup: connect valkey %s: %w", addr, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("dedup: ping valkey: %w", err)
	}
	return NewValkey(client, ttl), nil
}

// NewValkey wraps an existing client.
func NewValkey(client valkey.Client, ttl time.Duration) *Valkey {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Valkey{client: client, ttl: ttl}
}

// Unseen returns the ids not yet marked for source, in input order.
func (v *Valkey) Unseen(ctx context.Context, source string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	flags, err := v.client.Do(ctx, v.client.B().Smismember().Key(key(source)).Member(ids...).Build()).AsIntSlice()
	if err != nil {
		return nil, fmt.Errorf("dedup: check %d ids for %s: %w", len(ids), source, err)
	}
	if len(flags) != len(ids) {
		return nil, fmt.Errorf("dedup: got %d flags for %d ids", len(flags), len(ids))
	}
	out := make([]string, 0, len(ids))
	for i, id := range ids {
		if flags[i] == 0 {
			out = append(out, id)
		}
	}
	return out, nil
}

// Mark records ids as seen for source and refreshes the set's expiry.
func (v *Valkey) Mark(ctx context.Context, source string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	k := key(source)
	for _, res := range v.client.DoMulti(ctx,
		v.client.B().Sadd().Key(k).Member(ids...).Build(),
		v.client.B().Expire().Key(k).Seconds(int64(v.ttl/time.Second)).Build(),
	) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("dedup: mark %d ids for %s: %w", len(ids), source, err)
		}
	}
	return nil
}

// Close closes the client.
func (v *Valkey) Close() {
	v.client.Close()
}

func key(source string) string { return keyPrefix + source }

// Memory is an in-process seen-set, used when no Valkey address is configured.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

// NewMemory creates a Memory set.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, seen: map[string]time.Time{}}
}

// Unseen returns the ids not marked, or whose mark expired, in input order.
func (m *Memory) Unseen(_ context.Context, source string, ids []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []string
	for _, id := range ids {
		if exp, ok := m.seen[key(source)+"/"+id]; !ok || !now.Before(exp) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Mark records ids as seen.
func (m *Memory) Mark(_ context.Context, source string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp := m.now().Add(m.ttl)
	for _, id := range ids {
		m.seen[key(source)+"/"+id] = exp
	}
	return nil
}

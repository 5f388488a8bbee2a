// Package redisgate provides a cooldown gate shared by every incidentd
// replica through Redis.
package redisgate

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/marcus-qen/incidentd/internal/incident"
)

const defaultPrefix = "incidentd:cooldown:"

// acquireScript compares and sets in one server-side step.
// KEYS[1] key; ARGV[1] now ms; ARGV[2] cutoff ms; ARGV[3] ttl ms.
var acquireScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and tonumber(last) > tonumber(ARGV[2]) then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// Options configures a Gate.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the cooldown keys.
	Prefix string
}

// Gate implements incident.CooldownGate.
type Gate struct {
	client *redis.Client
	prefix string
}

var _ incident.CooldownGate = (*Gate)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Gate, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return NewWithClient(client, opts.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Gate {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Gate{client: client, prefix: prefix}
}

// TryAcquire implements incident.CooldownGate. Keys expire once their
// cooldown has elapsed.
func (g *Gate) TryAcquire(ctx context.Context, key incident.CooldownKey, now time.Time, cooldown time.Duration) (bool, error) {
	nowMs := now.UTC().UnixMilli()
	cutoff := nowMs - cooldown.Milliseconds()

	n, err := acquireScript.Run(ctx, g.client, []string{g.prefix + key.String()}, nowMs, cutoff, cooldown.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis cooldown %s: %w", key, err)
	}
	return n == 1, nil
}

// Ping checks the connection for health endpoints.
func (g *Gate) Ping(ctx context.Context) error { return g.client.Ping(ctx).Err() }

// Close closes the underlying client.
func (g *Gate) Close() error { return g.client.Close() }

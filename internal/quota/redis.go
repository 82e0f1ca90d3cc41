package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkAndIncrementScript opens expired windows and increments every window
// of a capability in one atomic step, or increments none of them.
//
// KEYS: one hash per granularity.
// ARGV: now_ms, then (limit, period_ms) per key.
// Returns: allowed (1/0), then (start_ms, end_ms, used) per key.
var checkAndIncrementScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local starts, ends, useds, limits = {}, {}, {}, {}
local allowed = 1
for i = 1, #KEYS do
  local limit = tonumber(ARGV[i * 2])
  local period = tonumber(ARGV[i * 2 + 1])
  local vals = redis.call('HMGET', KEYS[i], 'start', 'end', 'used')
  local s, e, u = tonumber(vals[1]), tonumber(vals[2]), tonumber(vals[3])
  if s == nil or e == nil or u == nil or now >= e then
    s, e, u = now, now + period, 0
  end
  if u >= limit then
    allowed = 0
  end
  starts[i], ends[i], useds[i], limits[i] = s, e, u, limit
end
local out = {allowed}
for i = 1, #KEYS do
  if allowed == 1 then
    useds[i] = useds[i] + 1
  end
  redis.call('HSET', KEYS[i], 'start', starts[i], 'end', ends[i], 'used', useds[i])
  redis.call('PEXPIREAT', KEYS[i], ends[i])
  table.insert(out, starts[i])
  table.insert(out, ends[i])
  table.insert(out, useds[i])
end
return out
`)

// RedisStore keeps windows in Redis so several API and worker processes
// share one set of counters.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed quota store. Keys are namespaced by prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// key uses a hash tag so all granularities of one (tenant, capability)
// land in the same cluster slot, which the script requires.
func (s *RedisStore) key(tenantID, capability string, period time.Duration) string {
	return fmt.Sprintf("%squota:{%s:%s}:%d", s.prefix, tenantID, capability, period.Milliseconds())
}

// CheckAndIncrement implements Store.
func (s *RedisStore) CheckAndIncrement(ctx context.Context, tenantID, capability string, limits []Limit, now time.Time) (Decision, error) {
	keys := make([]string, len(limits))
	args := make([]interface{}, 0, 1+2*len(limits))
	args = append(args, now.UnixMilli())
	for i, l := range limits {
		keys[i] = s.key(tenantID, capability, l.Period)
		args = append(args, l.Max, l.Period.Milliseconds())
	}

	res, err := checkAndIncrementScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("quota script: %w", err)
	}
	if len(res) != 1+3*len(limits) {
		return Decision{}, fmt.Errorf("quota script: unexpected reply length %d", len(res))
	}

	d := Decision{TenantID: tenantID, Capability: capability, Allowed: res[0] == 1}
	for i, l := range limits {
		off := 1 + 3*i
		w := Window{
			TenantID:   tenantID,
			Capability: capability,
			Period:     l.Period,
			Start:      time.UnixMilli(res[off]),
			End:        time.UnixMilli(res[off+1]),
			Used:       int(res[off+2]),
			Limit:      l.Max,
		}
		if !d.Allowed && w.Used >= l.Max && w.End.After(d.ResetAt) {
			d.ResetAt = w.End
			d.Limit = l.Max
		}
		d.Windows = append(d.Windows, w)
	}
	return d, nil
}

// Windows implements Store.
func (s *RedisStore) Windows(ctx context.Context, tenantID, capability string, limits []Limit, now time.Time) ([]Window, error) {
	out := make([]Window, 0, len(limits))
	for _, l := range limits {
		w := Window{TenantID: tenantID, Capability: capability, Period: l.Period, Limit: l.Max, Start: now, End: now.Add(l.Period)}

		vals, err := s.client.HMGet(ctx, s.key(tenantID, capability, l.Period), "start", "end", "used").Result()
		if err != nil {
			return nil, fmt.Errorf("read quota window: %w", err)
		}
		start, okStart := int64Value(vals[0])
		end, okEnd := int64Value(vals[1])
		used, okUsed := int64Value(vals[2])
		if okStart && okEnd && okUsed && now.Before(time.UnixMilli(end)) {
			w.Start, w.End, w.Used = time.UnixMilli(start), time.UnixMilli(end), int(used)
		}
		out = append(out, w)
	}
	return out, nil
}

func int64Value(v interface{}) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

var _ Store = (*RedisStore)(nil)

package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/account-events/internal/model"
)

// ErrCacheMiss is returned when no event is cached for an aggregate.
var ErrCacheMiss = errors.New("cache miss")

// setLatestLua stores ARGV[1] under KEYS[1] unless the event already held
// there has an aggregate_version of at least ARGV[2]. ARGV[3] is the TTL in
// milliseconds, 0 for none. Returns 1 when written, 0 when skipped.
const setLatestLua = `
local held = redis.call('GET', KEYS[1])
if held then
  local ok, evt = pcall(cjson.decode, held)
  if ok and type(evt) == 'table' then
    local v = tonumber(evt['aggregate_version'])
    if v and v >= tonumber(ARGV[2]) then
      return 0
    end
  end
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`

var setLatestScript = redis.NewScript(setLatestLua)

// LatestCache keeps the highest-version event of each aggregate in Redis.
// A cached tombstone is still the head of its stream and is cached as such.
// Writes never move a key to a lower version, so writers finishing out of
// order cannot bring back an older head.
type LatestCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLatestCache constructs the cache.
func NewLatestCache(rdb *redis.Client, ttl time.Duration) *LatestCache {
	return &LatestCache{rdb: rdb, ttl: ttl}
}

// LatestKey is the Redis key for an aggregate's head event.
func LatestKey(aggregateType, aggregateID string) string {
	return fmt.Sprintf("latest:%s:%s", aggregateType, aggregateID)
}

// GetLatest reads the cached head event.
func (c *LatestCache) GetLatest(ctx context.Context, aggregateType, aggregateID string) (model.Event, error) {
	str, err := c.rdb.Get(ctx, LatestKey(aggregateType, aggregateID)).Result()
	if errors.Is(err, redis.Nil) {
		return model.Event{}, ErrCacheMiss
	}
	if err != nil {
		return model.Event{}, err
	}
	var evt model.Event
	if err := json.Unmarshal([]byte(str), &evt); err != nil {
		return model.Event{}, err
	}
	return evt, nil
}

// SetLatest writes evt as the head of its aggregate unless a version at
// least as high is already cached.
func (c *LatestCache) SetLatest(ctx context.Context, evt model.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	keys := []string{LatestKey(evt.AggregateType, evt.AggregateID)}
	return setLatestScript.Run(ctx, c.rdb, keys, string(payload), evt.AggregateVersion, c.ttl.Milliseconds()).Err()
}

// Forget drops the cached head, e.g. after a lost version race.
func (c *LatestCache) Forget(ctx context.Context, aggregateType, aggregateID string) error {
	return c.rdb.Del(ctx, LatestKey(aggregateType, aggregateID)).Err()
}

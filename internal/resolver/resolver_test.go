package resolver

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/account-events/internal/model"
	"github.com/richardliu001/account-events/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shuffledStore returns query results in random order.
type shuffledStore struct {
	*repo.MemoryStore
	rnd *rand.Rand
}

func (s *shuffledStore) Query(ctx context.Context, p repo.Predicate) ([]model.Event, error) {
	evts, err := s.MemoryStore.Query(ctx, p)
	s.rnd.Shuffle(len(evts), func(i, j int) { evts[i], evts[j] = evts[j], evts[i] })
	return evts, err
}

// hookStore runs afterQuery once, after the first Query has read the store.
type hookStore struct {
	*repo.MemoryStore
	afterQuery func()
}

func (s *hookStore) Query(ctx context.Context, p repo.Predicate) ([]model.Event, error) {
	evts, err := s.MemoryStore.Query(ctx, p)
	if fn := s.afterQuery; fn != nil {
		s.afterQuery = nil
		fn()
	}
	return evts, err
}

// mapCache overwrites unconditionally, so it holds whatever was written last.
type mapCache struct {
	mu     sync.Mutex
	evts   map[string]model.Event
	sets   int
	setErr error
}

func newMapCache() *mapCache { return &mapCache{evts: map[string]model.Event{}} }

func (c *mapCache) GetLatest(_ context.Context, aggregateType, aggregateID string) (model.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	evt, ok := c.evts[repo.LatestKey(aggregateType, aggregateID)]
	if !ok {
		return model.Event{}, repo.ErrCacheMiss
	}
	return evt, nil
}

func (c *mapCache) SetLatest(_ context.Context, evt model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.sets++
	c.evts[repo.LatestKey(evt.AggregateType, evt.AggregateID)] = evt
	return nil
}

func (c *mapCache) Forget(_ context.Context, aggregateType, aggregateID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.evts, repo.LatestKey(aggregateType, aggregateID))
	return nil
}

func (c *mapCache) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

type failingStore struct{ err error }

func (f failingStore) Append(context.Context, model.Event) (repo.Ack, error) { return repo.Ack{}, f.err }
func (f failingStore) Query(context.Context, repo.Predicate) ([]model.Event, error) {
	return nil, f.err
}

func seed(t *testing.T, store repo.EventStore, n int) []model.Event {
	t.Helper()
	evt := model.NewEvent(nil, model.Fields{"full_name": "Jane Doe"}, "AccountHolder")
	out := []model.Event{evt}
	_, err := store.Append(context.Background(), evt)
	require.NoError(t, err)
	for i := 1; i < n; i++ {
		evt = model.DeriveEvent(evt, model.Fields{"phone_number": time.Now().String()}, nil, "update_phone_number")
		_, err := store.Append(context.Background(), evt)
		require.NoError(t, err)
		out = append(out, evt)
	}
	return out
}

func TestResolver_LatestPicksMaxVersionRegardlessOfOrder(t *testing.T) {
	store := &shuffledStore{MemoryStore: repo.NewMemoryStore(), rnd: rand.New(rand.NewSource(1))}
	evts := seed(t, store, 6)
	r := New(store)

	for i := 0; i < 20; i++ {
		got, err := r.Latest(context.Background(), evts[0].AggregateID, "AccountHolder")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.EqualValues(t, 6, got.AggregateVersion)
		assert.Equal(t, evts[5], *got)
	}
}

func TestResolver_NotFound(t *testing.T) {
	r := New(repo.NewMemoryStore())

	got, err := r.Latest(context.Background(), "missing", "AccountHolder")
	require.NoError(t, err)
	assert.Nil(t, got)

	res, err := r.Resolve(context.Background(), "missing", "AccountHolder")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Nil(t, res.Head)
	assert.ErrorIs(t, res.Err(), ErrNotFound)
	assert.ErrorIs(t, res.Err(), ErrUnresolvable)
}

func TestResolver_TypeMustMatch(t *testing.T) {
	store := repo.NewMemoryStore()
	evts := seed(t, store, 1)
	r := New(store)

	got, err := r.Latest(context.Background(), evts[0].AggregateID, "Wallet")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolver_TombstoneBlocksResolution(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryStore()
	evts := seed(t, store, 2)
	tomb := model.DeriveEvent(evts[1], model.Fields{model.DeletedField: "true"}, nil, "delete_account_holder")
	_, err := store.Append(ctx, tomb)
	require.NoError(t, err)

	r := New(store)
	got, err := r.Latest(ctx, tomb.AggregateID, "AccountHolder")
	require.NoError(t, err)
	assert.Nil(t, got)

	res, err := r.Resolve(ctx, tomb.AggregateID, "AccountHolder")
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, res.Status)
	require.NotNil(t, res.Head)
	assert.Equal(t, tomb, *res.Head)
	assert.ErrorIs(t, res.Err(), ErrAlreadyDeleted)
	assert.ErrorIs(t, res.Err(), ErrUnresolvable)

	history, err := r.History(ctx, tomb.AggregateID, "AccountHolder")
	require.NoError(t, err)
	assert.Equal(t, []model.Event{evts[0], evts[1], tomb}, history)
}

func TestResolver_CustomTombstoneRule(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryStore()
	evts := seed(t, store, 1)
	closed := model.DeriveEvent(evts[0], nil, nil, "account_closed")
	_, err := store.Append(ctx, closed)
	require.NoError(t, err)

	plain := New(store)
	got, err := plain.Latest(ctx, closed.AggregateID, "AccountHolder")
	require.NoError(t, err)
	assert.NotNil(t, got)

	custom := New(store, WithTombstone("AccountHolder", func(evt model.Event) bool {
		return evt.EventName == "account_closed"
	}))
	got, err = custom.Latest(ctx, closed.AggregateID, "AccountHolder")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.True(t, custom.IsTombstone(closed))
	assert.False(t, plain.IsTombstone(closed))
	assert.False(t, custom.IsTombstone(model.Event{AggregateType: "Wallet", EventName: "account_closed"}))
}

func TestResolver_IdempotentRead(t *testing.T) {
	store := &shuffledStore{MemoryStore: repo.NewMemoryStore(), rnd: rand.New(rand.NewSource(7))}
	evts := seed(t, store, 3)
	r := New(store)

	a, err := r.Latest(context.Background(), evts[0].AggregateID, "AccountHolder")
	require.NoError(t, err)
	b, err := r.Latest(context.Background(), evts[0].AggregateID, "AccountHolder")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolver_StoreErrorsSurface(t *testing.T) {
	boom := errors.New("disk on fire")
	r := New(failingStore{err: boom})

	_, err := r.Latest(context.Background(), "x", "AccountHolder")
	assert.ErrorIs(t, err, boom)
	_, err = r.History(context.Background(), "x", "AccountHolder")
	assert.ErrorIs(t, err, boom)
	_, err = r.Search(context.Background(), "AccountHolder", "new")
	assert.ErrorIs(t, err, boom)
}

func TestResolver_Search(t *testing.T) {
	store := repo.NewMemoryStore()
	seed(t, store, 3)
	seed(t, store, 1)
	r := New(store)

	got, err := r.Search(context.Background(), "AccountHolder", "update")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = r.Search(context.Background(), "", "new")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestResolver_StaleReadDoesNotRegressCachedHead(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemoryStore()
	evts := seed(t, mem, 1)
	tomb := model.DeriveEvent(evts[0], model.Fields{model.DeletedField: "true"}, nil, "delete_account_holder")

	cache := newMapCache()
	store := &hookStore{MemoryStore: mem}
	r := New(store, WithCache(cache))

	// a delete lands between the reader's query and its return
	store.afterQuery = func() {
		_, err := mem.Append(ctx, tomb)
		require.NoError(t, err)
		r.Remember(ctx, tomb)
	}

	got, err := r.Latest(ctx, tomb.AggregateID, "AccountHolder")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 1, got.AggregateVersion)

	got, err = r.Latest(ctx, tomb.AggregateID, "AccountHolder")
	require.NoError(t, err)
	assert.Nil(t, got)

	res, err := r.Resolve(ctx, tomb.AggregateID, "AccountHolder")
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, res.Status)
}

func TestResolver_MissLeavesCacheAlone(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryStore()
	evts := seed(t, store, 2)
	cache := newMapCache()
	r := New(store, WithCache(cache))

	got, err := r.Latest(ctx, evts[1].AggregateID, "AccountHolder")
	require.NoError(t, err)
	assert.Equal(t, evts[1], *got)
	assert.Zero(t, cache.writes())
}

func TestResolver_CacheHitSkipsStore(t *testing.T) {
	ctx := context.Background()
	evts := seed(t, repo.NewMemoryStore(), 2)
	cache := newMapCache()
	r := New(failingStore{err: errors.New("store must not be read")}, WithCache(cache))

	r.Remember(ctx, evts[1])
	got, err := r.Latest(ctx, evts[1].AggregateID, "AccountHolder")
	require.NoError(t, err)
	assert.Equal(t, evts[1], *got)

	r.Forget(ctx, evts[1].AggregateID, "AccountHolder")
	_, err = r.Latest(ctx, evts[1].AggregateID, "AccountHolder")
	assert.Error(t, err)
}

func TestResolver_FailedCacheWriteDropsHead(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryStore()
	evts := seed(t, store, 2)
	cache := newMapCache()
	r := New(store, WithCache(cache))

	r.Remember(ctx, evts[0])
	cache.setErr = errors.New("redis down")
	r.Remember(ctx, evts[1])

	got, err := r.Latest(ctx, evts[1].AggregateID, "AccountHolder")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.AggregateVersion)
}

func TestResolver_LateRememberKeepsTombstone(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := repo.NewMemoryStore()
	evts := seed(t, store, 2)
	tomb := model.DeriveEvent(evts[1], model.Fields{model.DeletedField: "true"}, nil, "delete_account_holder")
	_, err := store.Append(ctx, tomb)
	require.NoError(t, err)

	r := New(store, WithCache(repo.NewLatestCache(rdb, time.Minute)))
	r.Remember(ctx, tomb)
	// writers of earlier versions finishing after the delete
	r.Remember(ctx, evts[1])
	r.Remember(ctx, evts[0])

	got, err := r.Latest(ctx, tomb.AggregateID, "AccountHolder")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHead(t *testing.T) {
	_, ok := Head(nil)
	assert.False(t, ok)

	evts := []model.Event{{AggregateVersion: 2}, {AggregateVersion: 5}, {AggregateVersion: 1}}
	head, ok := Head(evts)
	require.True(t, ok)
	assert.EqualValues(t, 5, head.AggregateVersion)
}

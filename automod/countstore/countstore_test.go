package countstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemCountStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	c, err := cs.GetCount(ctx, CounterSubmissions, "user1", PeriodTotal)
	assert.NoError(err)
	assert.Equal(0, c)
	assert.NoError(cs.Increment(ctx, CounterSubmissions, "user1"))
	assert.NoError(cs.Increment(ctx, CounterSubmissions, "user1"))

	for _, period := range []string{PeriodTotal, PeriodDay, PeriodHour} {
		c, err = cs.GetCount(ctx, CounterSubmissions, "user1", period)
		assert.NoError(err)
		assert.Equal(2, c)
	}

	// counters are per value
	c, err = cs.GetCount(ctx, CounterSubmissions, "user2", PeriodHour)
	assert.NoError(err)
	assert.Equal(0, c)
}

func TestMemCountStorePeriods(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	cs := NewMemCountStore()
	cs.Now = func() time.Time { return now }

	assert.NoError(cs.Increment(ctx, CounterSubmissions, "user1"))
	assert.NoError(cs.Increment(ctx, CounterSubmissions, "user1"))

	// next hour, same day
	now = now.Add(time.Hour)
	assert.NoError(cs.Increment(ctx, CounterSubmissions, "user1"))

	c, err := cs.GetCount(ctx, CounterSubmissions, "user1", PeriodHour)
	assert.NoError(err)
	assert.Equal(1, c)
	c, err = cs.GetCount(ctx, CounterSubmissions, "user1", PeriodDay)
	assert.NoError(err)
	assert.Equal(3, c)

	// next day
	now = now.Add(24 * time.Hour)
	c, err = cs.GetCount(ctx, CounterSubmissions, "user1", PeriodDay)
	assert.NoError(err)
	assert.Equal(0, c)
	c, err = cs.GetCount(ctx, CounterSubmissions, "user1", PeriodTotal)
	assert.NoError(err)
	assert.Equal(3, c)
}

func TestMemCountStoreConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCountStore()

	// two writers per value, plus an interleaved reader; run with -race
	var wg sync.WaitGroup
	fnInc := func(name, val string, times int) {
		defer wg.Done()
		for i := 0; i < times; i++ {
			assert.NoError(cs.Increment(ctx, name, val))
			time.Sleep(time.Nanosecond)
		}
	}
	fnRead := func(name, val string, times int) {
		defer wg.Done()
		for i := 0; i < times; i++ {
			_, err := cs.GetCount(ctx, name, val, PeriodTotal)
			assert.NoError(err)
			time.Sleep(time.Nanosecond)
		}
	}
	wg.Add(6)
	go fnInc("test1", "val1", 10)
	go fnInc("test1", "val1", 10)
	go fnRead("test1", "val1", 10)
	go fnInc("test2", "val2", 6)
	go fnInc("test2", "val2", 6)
	go fnRead("test2", "val2", 6)
	wg.Wait()

	c, err := cs.GetCount(ctx, "test1", "val1", PeriodTotal)
	assert.NoError(err)
	assert.Equal(20, c)
	c, err = cs.GetCount(ctx, "test2", "val2", PeriodTotal)
	assert.NoError(err)
	assert.Equal(12, c)
}

func TestRedisCountStore(t *testing.T) {
	t.Skip("live test, need redis running locally")
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	opt, err := redis.ParseURL("redis://localhost:6379/0")
	require.NoError(err)
	cs := NewRedisCountStore(redis.NewClient(opt))

	val := "user-" + time.Now().Format(time.RFC3339Nano)
	assert.NoError(cs.Increment(ctx, CounterSubmissions, val))
	c, err := cs.GetCount(ctx, CounterSubmissions, val, PeriodHour)
	assert.NoError(err)
	assert.Equal(1, c)
}

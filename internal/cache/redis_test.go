package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

const testID = "Ab3dEf6hIj9kLm1n"

func setupLinkCache(t testing.TB) (*LinkCache, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})

	t.Cleanup(func() {
		client.Close()
	})

	return NewLinkCache(client), srv
}

func TestLinkCache_Set(t *testing.T) {
	linkCache, srv := setupLinkCache(t)

	err := linkCache.Set(context.TODO(), testID, "bucket/report.html", time.Hour)

	assert.NoError(t, err)

	got, err := srv.Get(keyPrefix + testID)
	assert.NoError(t, err)
	assert.Equal(t, "bucket/report.html", got)
	assert.Equal(t, time.Hour, srv.TTL(keyPrefix+testID))
}

func TestLinkCache_Get(t *testing.T) {
	t.Run("cache miss", func(t *testing.T) {
		linkCache, _ := setupLinkCache(t)

		locator, err := linkCache.Get(context.TODO(), testID)

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrCacheMiss)
		assert.Empty(t, locator)
	})

	t.Run("hit", func(t *testing.T) {
		linkCache, srv := setupLinkCache(t)

		srv.Set(keyPrefix+testID, "bucket/report.html")

		locator, err := linkCache.Get(context.TODO(), testID)

		assert.NoError(t, err)
		assert.Equal(t, "bucket/report.html", locator)
	})

	t.Run("entry self-expires", func(t *testing.T) {
		linkCache, srv := setupLinkCache(t)

		err := linkCache.Set(context.TODO(), testID, "bucket/report.html", time.Minute)
		assert.NoError(t, err)

		srv.FastForward(2 * time.Minute)

		locator, err := linkCache.Get(context.TODO(), testID)

		assert.Error(t, err)
		assert.ErrorIs(t, err, ErrCacheMiss)
		assert.Empty(t, locator)
	})
}

func TestLinkCache_Del(t *testing.T) {
	t.Run("absent entry is a no-op", func(t *testing.T) {
		linkCache, _ := setupLinkCache(t)

		err := linkCache.Del(context.TODO(), testID)

		assert.NoError(t, err)
	})

	t.Run("removes the entry", func(t *testing.T) {
		linkCache, srv := setupLinkCache(t)

		srv.Set(keyPrefix+testID, "bucket/report.html")

		err := linkCache.Del(context.TODO(), testID)

		assert.NoError(t, err)
		assert.False(t, srv.Exists(keyPrefix+testID))
	})
}

func TestLinkCache_Exists(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		linkCache, _ := setupLinkCache(t)

		exists, err := linkCache.Exists(context.TODO(), testID)

		assert.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("present", func(t *testing.T) {
		linkCache, srv := setupLinkCache(t)

		srv.Set(keyPrefix+testID, "bucket/report.html")

		exists, err := linkCache.Exists(context.TODO(), testID)

		assert.NoError(t, err)
		assert.True(t, exists)
	})
}

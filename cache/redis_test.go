package cache

import (
	"context"
	"testing"
	"time"

	"catalog-svc/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupCacheTest(t *testing.T) (*ProductCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewProductCache(rdb, 30*time.Second), mr
}

func chairList() []models.ProductResponse {
	return []models.ProductResponse{
		{ID: 1, Name: "Chair", Price: 49.99, ImagePath: "/images/1700000000000.png"},
	}
}

func TestProductCache_MissThenHit(t *testing.T) {
	c, mr := setupCacheTest(t)
	ctx := context.Background()

	products, ok, err := c.GetProducts(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, products)

	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	require.NoError(t, c.SetProducts(ctx, gen, chairList()))
	assert.True(t, mr.Exists("products:all"))
	assert.Equal(t, 30*time.Second, mr.TTL("products:all"))

	products, ok, err = c.GetProducts(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, chairList(), products)
}

func TestProductCache_EmptyListIsAHit(t *testing.T) {
	c, _ := setupCacheTest(t)
	ctx := context.Background()

	require.NoError(t, c.SetProducts(ctx, 0, []models.ProductResponse{}))

	products, ok, err := c.GetProducts(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, products)
}

func TestProductCache_Expires(t *testing.T) {
	c, mr := setupCacheTest(t)
	ctx := context.Background()

	require.NoError(t, c.SetProducts(ctx, 0, chairList()))
	mr.FastForward(31 * time.Second)

	_, ok, err := c.GetProducts(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProductCache_CorruptValue(t *testing.T) {
	c, mr := setupCacheTest(t)
	require.NoError(t, mr.Set("products:all", "{not json"))

	products, ok, err := c.GetProducts(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, products)
}

func TestProductCache_InvalidateDeletesListAndBumpsGeneration(t *testing.T) {
	c, mr := setupCacheTest(t)
	ctx := context.Background()

	require.NoError(t, c.SetProducts(ctx, 0, chairList()))
	require.NoError(t, c.Invalidate(ctx))

	assert.False(t, mr.Exists("products:all"))
	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}

func TestProductCache_StaleGenerationIsNotStored(t *testing.T) {
	c, mr := setupCacheTest(t)
	ctx := context.Background()

	gen, err := c.Generation(ctx)
	require.NoError(t, err)

	// A write lands between reading the generation and storing the list.
	require.NoError(t, c.Invalidate(ctx))

	require.NoError(t, c.SetProducts(ctx, gen, chairList()))
	assert.False(t, mr.Exists("products:all"))

	gen, err = c.Generation(ctx)
	require.NoError(t, err)
	require.NoError(t, c.SetProducts(ctx, gen, chairList()))
	assert.True(t, mr.Exists("products:all"))
}

// Nothing listens on this address; every call must fail fast with an error
// instead of reporting a hit.
func newUnreachableCache(t *testing.T) *ProductCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })
	return NewProductCache(rdb, time.Minute)
}

func TestProductCache_UnreachableServer(t *testing.T) {
	c := newUnreachableCache(t)
	ctx := context.Background()

	products, ok, err := c.GetProducts(ctx)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, products)

	_, err = c.Generation(ctx)
	assert.Error(t, err)
	assert.Error(t, c.SetProducts(ctx, 0, nil))
	assert.Error(t, c.Invalidate(ctx))
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := InitRedis(mr.Addr(), "", zaptest.NewLogger(t))
	require.NoError(t, err)
	rdb.Close()

	_, err = InitRedis("127.0.0.1:1", "", zaptest.NewLogger(t))
	assert.Error(t, err)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/backend/internal/domain"
)

func TestStockLevelKeyIsScopedByTenantStoreAndVariant(t *testing.T) {
	a := stockLevelKey(1, domain.StockKey{VariantID: 10, StoreID: 2})
	b := stockLevelKey(2, domain.StockKey{VariantID: 10, StoreID: 2})
	c := stockLevelKey(1, domain.StockKey{VariantID: 2, StoreID: 10})

	assert.Equal(t, "stock:1:2:10", a)
	assert.Equal(t, "stock-gen:1:2:10", stockGenerationKey(1, domain.StockKey{VariantID: 10, StoreID: 2}))
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNoopCacheNeverHits(t *testing.T) {
	ctx := context.Background()
	var c StockLevelCache = NoopStockLevelCache{}

	require.NoError(t, c.Set(ctx, domain.StockItem{TenantID: 1, VariantID: 1, StoreID: 1, QtyOnHand: 3}, 0, time.Minute))
	item, found, err := c.Get(ctx, 1, domain.StockKey{VariantID: 1, StoreID: 1})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, item)
	generation, err := c.Generation(ctx, 1, domain.StockKey{VariantID: 1, StoreID: 1})
	require.NoError(t, err)
	assert.Zero(t, generation)
	assert.NoError(t, c.Invalidate(ctx, 1, domain.StockKey{VariantID: 1, StoreID: 1}))
}

package integrations

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbridge/internal/model"
)

func TestStatusTableBothWaysWithDefaults(t *testing.T) {
	tbl := NewStatusTable(map[model.OrderStatus]string{
		model.OrderStatusPending:   "NEW",
		model.OrderStatusConfirmed: "OK",
	}, map[string]model.OrderStatus{"FRESH": model.OrderStatusPending}, "NEW")

	assert.Equal(t, "OK", tbl.ToProvider(model.OrderStatusConfirmed))
	assert.Equal(t, "NEW", tbl.ToProvider(model.OrderStatusDelivered))
	assert.Equal(t, model.OrderStatusConfirmed, tbl.FromProvider("ok"))
	assert.Equal(t, model.OrderStatusPending, tbl.FromProvider(" fresh "))
	assert.Equal(t, model.OrderStatusPending, tbl.FromProvider("SOMETHING_ELSE"))
}

func TestPaginateStopsOnShortPage(t *testing.T) {
	var pages []int
	got, err := Paginate(context.Background(), 2, func(_ context.Context, page int) ([]int, error) {
		pages = append(pages, page)
		if page < 3 {
			return []int{page, page}, nil
		}
		return []int{page}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, pages)
	assert.Equal(t, []int{1, 1, 2, 2, 3}, got)
}

func TestPaginatePropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Paginate(context.Background(), 1, func(_ context.Context, page int) ([]string, error) {
		if page == 2 {
			return nil, boom
		}
		return []string{"x"}, nil
	})
	require.ErrorIs(t, err, boom)
}

func TestPaginateCapsRunaway(t *testing.T) {
	_, err := Paginate(context.Background(), 1, func(context.Context, int) ([]int, error) { return []int{1}, nil })
	require.Error(t, err)
}

func TestMemorySyncCache(t *testing.T) {
	c := NewMemorySyncCache()
	var res MenuSyncResult
	ok, err := c.Get(context.Background(), MenuCacheKey("careem"), &res)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(context.Background(), MenuCacheKey("careem"), MenuSyncResult{Success: true, ItemsCount: 2}))
	ok, err = c.Get(context.Background(), MenuCacheKey("careem"), &res)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, res.ItemsCount)
}

func TestHeaderValueCaseInsensitive(t *testing.T) {
	h := map[string]string{"x-careem-signature": "abc"}
	assert.Equal(t, "abc", HeaderValue(h, "X-Careem-Signature"))
	assert.Equal(t, "", HeaderValue(h, "X-Other"))
}

type stubAdapter struct{ Adapter }

func (stubAdapter) ID() string { return "stub" }

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	d.Add(stubAdapter{}, ProviderConfig{MerchantID: "m1"})
	a, cfg, ok := d.Get("stub")
	require.True(t, ok)
	assert.Equal(t, "stub", a.ID())
	assert.Equal(t, "m1", cfg.MerchantID)
	_, _, ok = d.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"stub"}, d.IDs())
}

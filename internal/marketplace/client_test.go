package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		BaseURL:     srv.URL,
		AccessToken: "tok",
		SellerID:    "seller-1",
	})
}

func TestFetchOrdersPagination(t *testing.T) {
	pages := map[int]string{
		0: `{"results": [{"id": 1, "order_items": [{"item": {"id": "A"}, "quantity": 1}]},
		                 {"id": 2, "order_items": [{"item": {"id": "B"}, "quantity": 1}]}],
		    "paging": {"total": 3}}`,
		2: `{"results": [{"id": 3, "order_items": [{"item": {"id": "C"}, "quantity": 1}]}],
		    "paging": {"total": 3}}`,
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "seller-1", r.URL.Query().Get("seller"))
		assert.NotEmpty(t, r.URL.Query().Get("order.date_last_updated.from"))

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		page, ok := pages[offset]
		require.True(t, ok, "unexpected offset %d", offset)
		fmt.Fprint(w, page)
	})

	orders, err := client.FetchOrders(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, "1", orders[0].ExternalID)
	assert.Equal(t, "3", orders[2].ExternalID)
}

func TestFetchOrdersSkipsUnmappable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Second order has a zero-quantity line and must be skipped.
		fmt.Fprint(w, `{"results": [
			{"id": 1, "order_items": [{"item": {"id": "A"}, "quantity": 1}]},
			{"id": 2, "order_items": [{"item": {"id": "B"}, "quantity": 0}]}
		], "paging": {"total": 2}}`)
	})

	orders, err := client.FetchOrders(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "1", orders[0].ExternalID)
}

func TestFetchOrdersServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.FetchOrders(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.Error(t, err)
}

func TestGetItemSellerCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items/MLA111", r.URL.Path)
		assert.Equal(t, "all", r.URL.Query().Get("include_attributes"))
		fmt.Fprint(w, `{
			"id": "MLA111",
			"seller_custom_field": "ITEM-LEVEL",
			"variations": [
				{"id": 77, "seller_custom_field": "VAR-LEVEL"},
				{"id": 78, "seller_sku": "VAR-SKU-ONLY"},
				{"id": 79}
			]
		}`)
	})

	ctx := context.Background()

	code, err := client.GetItemSellerCode(ctx, "MLA111", "77")
	require.NoError(t, err)
	assert.Equal(t, "VAR-LEVEL", code, "variation field wins when present")

	code, err = client.GetItemSellerCode(ctx, "MLA111", "78")
	require.NoError(t, err)
	assert.Equal(t, "VAR-SKU-ONLY", code)

	code, err = client.GetItemSellerCode(ctx, "MLA111", "79")
	require.NoError(t, err)
	assert.Equal(t, "ITEM-LEVEL", code, "empty variation field falls back to the item level")

	code, err = client.GetItemSellerCode(ctx, "MLA111", "")
	require.NoError(t, err)
	assert.Equal(t, "ITEM-LEVEL", code)

	code, err = client.GetItemSellerCode(ctx, "MLA111", "999")
	require.NoError(t, err)
	assert.Equal(t, "ITEM-LEVEL", code, "unknown variation falls back to the item level")
}

package ghl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, total int, prices map[string][]ghlPrice) (*httptest.Server, *int32) {
	t.Helper()
	var pages int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, apiVersion, r.Header.Get("Version"))
		assert.Equal(t, "loc1", r.URL.Query().Get("locationId"))

		switch {
		case r.URL.Path == "/products/":
			atomic.AddInt32(&pages, 1)
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			var page productsPage
			for i := offset; i < total && i < offset+limit; i++ {
				page.Products = append(page.Products, ghlProduct{
					ID:               fmt.Sprintf("p%d", i),
					Name:             fmt.Sprintf("Sauna %d", i),
					AvailableInStore: true,
				})
			}
			_ = json.NewEncoder(w).Encode(page)
		case strings.HasSuffix(r.URL.Path, "/price"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/products/"), "/price")
			_ = json.NewEncoder(w).Encode(pricesPage{Prices: prices[id]})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &pages
}

func newClient(t *testing.T, base string, pageSize int) *Client {
	t.Helper()
	c, err := New(zerolog.Nop(), Config{
		BaseURL: base, APIKey: "key", LocationID: "loc1", PageSize: pageSize,
		CategoryMap: map[string]string{"col-out": "outdoor"},
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(zerolog.Nop(), Config{APIKey: "k"})
	assert.Error(t, err)
}

func TestProducts_Pagination(t *testing.T) {
	srv, pages := newServer(t, 5, nil)
	c := newClient(t, srv.URL, 2)

	out, err := c.Products(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 5)
	assert.Equal(t, int32(3), atomic.LoadInt32(pages), "2+2+1")
	assert.Equal(t, "p4", out[4].ExternalID)
	assert.Equal(t, "EUR", out[0].Currency)
}

func TestProducts_ExactPageBoundary(t *testing.T) {
	srv, pages := newServer(t, 4, nil)
	c := newClient(t, srv.URL, 2)

	out, err := c.Products(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 4)
	assert.Equal(t, int32(3), atomic.LoadInt32(pages), "ostatnia pusta strona kończy stronicowanie")
}

func TestProducts_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL, 10).Products(context.Background())
	assert.ErrorContains(t, err, "http 401")
}

func TestToSource(t *testing.T) {
	c := newClient(t, "http://unused", 10)

	sp := c.toSource(ghlProduct{
		ID:               "g1",
		Name:             "Barrel Sauna",
		Description:      "<p>Nice</p>",
		Image:            "https://img/main.jpg",
		Medias:           []ghlMedia{{URL: "https://img/main.jpg", Type: "image"}, {URL: "https://img/2.jpg", Type: "image"}, {URL: "https://v/1.mp4", Type: "video"}},
		AvailableInStore: true,
		CollectionIDs:    []string{"col-x", "col-out"},
	}, []ghlPrice{
		{Name: "Spruce", Amount: 4999, CompareAtPrice: 5499, Currency: "USD", SKU: "S", TrackInventory: true, AvailableQuantity: 2},
		{Name: "Cedar", Amount: 6999, TrackInventory: true, AvailableQuantity: 1},
	})

	assert.Equal(t, "g1", sp.ExternalID)
	assert.Equal(t, "outdoor", sp.Category)
	assert.Equal(t, []string{"https://img/main.jpg", "https://img/2.jpg"}, sp.Images)
	assert.Equal(t, 5499.0, sp.Price)
	assert.Equal(t, 4999.0, sp.SalePrice)
	assert.Equal(t, "USD", sp.Currency)
	assert.Equal(t, 3, sp.Stock)
	assert.True(t, sp.Available)
	require.Len(t, sp.Variants, 2)
	assert.Equal(t, "Cedar", sp.Variants[1].Name)
}

func TestToSource_SinglePriceOutOfStock(t *testing.T) {
	c := newClient(t, "http://unused", 10)

	sp := c.toSource(ghlProduct{ID: "g2", Name: "Heater", AvailableInStore: true},
		[]ghlPrice{{Amount: 899, TrackInventory: true, AvailableQuantity: 0}})

	assert.Equal(t, 899.0, sp.Price)
	assert.Zero(t, sp.SalePrice)
	assert.Empty(t, sp.Variants)
	assert.False(t, sp.Available)
	assert.Empty(t, sp.Category)
}

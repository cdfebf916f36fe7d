package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageOf(page, n int) []domain.RawRecord {
	out := make([]domain.RawRecord, n)
	for i := range out {
		out[i] = domain.RawRecord{"sku": fmt.Sprintf("P%d-%d", page, i)}
	}
	return out
}

func TestFromPages_RechunksPages(t *testing.T) {
	fetch := func(_ context.Context, page int) (Page, error) {
		return Page{Records: pageOf(page, 4), HasMore: page < 3}, nil
	}

	s := FromPages(t.Context(), fetch, 12, Options{ChunkSize: 5})
	defer s.Close()

	assert.Equal(t, []int{5, 5, 2}, sizes(drain(t, s)))
	assert.Equal(t, int64(12), s.EstimatedTotal())
}

func TestFromPages_StopsOnEmptyPage(t *testing.T) {
	var calls atomic.Int32
	fetch := func(_ context.Context, page int) (Page, error) {
		calls.Add(1)
		if page == 2 {
			return Page{HasMore: true}, nil
		}
		return Page{Records: pageOf(page, 3), HasMore: true}, nil
	}

	s := FromPages(t.Context(), fetch, 0, Options{ChunkSize: 10})
	defer s.Close()

	assert.Equal(t, []int{3}, sizes(drain(t, s)))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFromPages_FetchErrorFailsStream(t *testing.T) {
	fetch := func(_ context.Context, page int) (Page, error) {
		if page == 2 {
			return Page{}, errors.New("gateway timeout")
		}
		return Page{Records: pageOf(page, 2), HasMore: true}, nil
	}

	s := FromPages(t.Context(), fetch, 0, Options{ChunkSize: 2})
	defer s.Close()

	batch, err := s.Next(t.Context())
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	_, err = s.Next(t.Context())
	assert.ErrorContains(t, err, "fetch page 2")
	assert.ErrorContains(t, err, "gateway timeout")
}

func TestHTTPPager_WalksPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "25", r.URL.Query().Get("per_page"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "acme", r.URL.Query().Get("retailer"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":[{"sku":"S%d-1","price":9.90},{"sku":"S%d-2"},"junk"],"has_more":%t}`, page, page, page < 2)
	}))
	defer srv.Close()

	pager, err := NewHTTPPager(srv.URL+"/products?retailer=acme",
		WithPerPage(25),
		WithHeader("Authorization", "Bearer token"),
		WithRateLimit(1000),
	)
	require.NoError(t, err)

	s := FromPages(t.Context(), pager.Fetch, 0, Options{ChunkSize: 10})
	defer s.Close()

	batches := drain(t, s)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 4)
	assert.Equal(t, "S1-1", batches[0][0].String("sku"))
	assert.Equal(t, "9.90", batches[0][0].String("price"))
	assert.Equal(t, "S2-2", batches[0][3].String("sku"))
	assert.Equal(t, int64(2), s.Skipped())
}

func TestHTTPPager_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"sku":"A"}],"has_more":false}`))
	}))
	defer srv.Close()

	pager, err := NewHTTPPager(srv.URL, WithRetries(2, func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	require.NoError(t, err)

	page, err := pager.Fetch(t.Context(), 1)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.False(t, page.HasMore)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPPager_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	pager, err := NewHTTPPager(srv.URL, WithRetries(3, func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	require.NoError(t, err)

	_, err = pager.Fetch(t.Context(), 1)
	assert.ErrorContains(t, err, "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewHTTPPager_RejectsBadEndpoint(t *testing.T) {
	_, err := NewHTTPPager("ftp://example.com/feed")
	assert.Error(t, err)
}

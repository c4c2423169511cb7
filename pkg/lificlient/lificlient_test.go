package lificlient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/speedrun-hq/speedrun-router/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "secret", 2*time.Second, &logger.EmptyLogger{})
}

func TestGetQuote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote", r.URL.Path)
		assert.Equal(t, "42161", r.URL.Query().Get("fromChain"))
		assert.Equal(t, "100000000", r.URL.Query().Get("fromAmount"))
		assert.Equal(t, "secret", r.Header.Get("x-lifi-api-key"))
		_, _ = w.Write([]byte(`{"id":"q-1","tool":"stargate","estimate":{"toAmount":"40000000000000000","toAmountMin":"39000000000000000","executionDuration":90}}`))
	})

	resp, err := c.GetQuote(context.Background(), QuoteRequest{
		FromChain: 42161, ToChain: 10, FromToken: "0xa", ToToken: "0xb", FromAmount: "100000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "q-1", resp.ID)
	assert.Equal(t, "40000000000000000", resp.Estimate.ToAmount)
	assert.Equal(t, int64(90), resp.Estimate.ExecutionDuration)
}

func TestGetRoutes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req RoutesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 10, req.ToChainID)
		_, _ = w.Write([]byte(`{"routes":[{"id":"r1","toAmount":"5"},{"id":"r2","toAmount":"7"}]}`))
	})

	resp, err := c.GetRoutes(context.Background(), RoutesRequest{FromChainID: 42161, ToChainID: 10})
	require.NoError(t, err)
	assert.Len(t, resp.Routes, 2)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"bad request", http.StatusBadRequest, `{"message":"bad"}`, func(t *testing.T, err error) {
			var httpErr *HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
			assert.Contains(t, httpErr.Body, "bad")
		}},
		{"server error", http.StatusBadGateway, ``, func(t *testing.T, err error) {
			var httpErr *HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
		}},
		{"empty body", http.StatusOK, ``, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrEmptyResponse)
		}},
		{"null body", http.StatusOK, `null`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrEmptyResponse)
		}},
		{"no status field", http.StatusOK, `{"substatus":"x"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrEmptyResponse)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.GetStatus(context.Background(), "0xabc")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestTimeoutIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL, "", 20*time.Millisecond, &logger.EmptyLogger{})
	_, err := c.GetStatus(context.Background(), "0xabc")
	require.Error(t, err)
	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}

// Package lificlient provides a client for the quote, route and status
// endpoints of a LI.FI-compatible routing backend.
package lificlient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/speedrun-hq/speedrun-router/pkg/logger"
)

// DefaultEndpoint is the public LI.FI API
const DefaultEndpoint = "https://li.quest"

// ErrEmptyResponse is returned when the backend answers 2xx with no usable body.
var ErrEmptyResponse = errors.New("empty response from routing backend")

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, e.Body)
}

// QuoteRequest asks for a single best quote.
type QuoteRequest struct {
	FromChain   int
	ToChain     int
	FromToken   string
	ToToken     string
	FromAmount  string
	FromAddress string
}

// Estimate is the amount estimate of a quote or step.
type Estimate struct {
	FromAmount        string `json:"fromAmount"`
	ToAmount          string `json:"toAmount"`
	ToAmountMin       string `json:"toAmountMin"`
	ExecutionDuration int64  `json:"executionDuration"`
}

// QuoteResponse is the subset of the quote response the router uses.
type QuoteResponse struct {
	ID       string   `json:"id"`
	Tool     string   `json:"tool"`
	Estimate Estimate `json:"estimate"`
}

// RoutesRequest asks for candidate routes.
type RoutesRequest struct {
	FromChainID      int    `json:"fromChainId"`
	ToChainID        int    `json:"toChainId"`
	FromTokenAddress string `json:"fromTokenAddress"`
	ToTokenAddress   string `json:"toTokenAddress"`
	FromAmount       string `json:"fromAmount"`
	FromAddress      string `json:"fromAddress,omitempty"`
}

// Token is a token reference inside a step action.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals,omitempty"`
}

// Action describes the transfer performed by a step.
type Action struct {
	FromChainID int   `json:"fromChainId"`
	ToChainID   int   `json:"toChainId"`
	FromToken   Token `json:"fromToken"`
	ToToken     Token `json:"toToken"`
}

// Step is one hop of a candidate route.
type Step struct {
	Type     string   `json:"type"`
	Tool     string   `json:"tool"`
	Action   Action   `json:"action"`
	Estimate Estimate `json:"estimate"`
}

// Route is a candidate route.
type Route struct {
	ID          string `json:"id"`
	FromAmount  string `json:"fromAmount"`
	ToAmount    string `json:"toAmount"`
	ToAmountMin string `json:"toAmountMin"`
	Steps       []Step `json:"steps"`
}

// RoutesResponse wraps candidate routes.
type RoutesResponse struct {
	Routes []Route `json:"routes"`
}

// TxInfo references a transaction on one side of a transfer.
type TxInfo struct {
	TxHash  string `json:"txHash"`
	ChainID int    `json:"chainId"`
}

// StatusResponse is the subset of the status response the router uses.
type StatusResponse struct {
	Status    string `json:"status"`
	Substatus string `json:"substatus"`
	Sending   TxInfo `json:"sending"`
	Receiving TxInfo `json:"receiving"`
}

// Client represents a routing backend client
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new routing backend client. timeout bounds every call.
func New(endpoint, apiKey string, timeout time.Duration, logger logger.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: createHTTPClient(timeout),
		logger:     logger,
	}
}

// GetQuote fetches a single quote
func (c *Client) GetQuote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	q := url.Values{}
	q.Set("fromChain", strconv.Itoa(req.FromChain))
	q.Set("toChain", strconv.Itoa(req.ToChain))
	q.Set("fromToken", req.FromToken)
	q.Set("toToken", req.ToToken)
	q.Set("fromAmount", req.FromAmount)
	if req.FromAddress != "" {
		q.Set("fromAddress", req.FromAddress)
	}

	var resp QuoteResponse
	if err := c.do(ctx, http.MethodGet, "/v1/quote?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Estimate.ToAmount == "" {
		return nil, ErrEmptyResponse
	}
	return &resp, nil
}

// GetRoutes fetches candidate routes
func (c *Client) GetRoutes(ctx context.Context, req RoutesRequest) (*RoutesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode routes request: %w", err)
	}

	var resp RoutesResponse
	if err := c.do(ctx, http.MethodPost, "/v1/advanced/routes", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Routes) == 0 {
		return nil, ErrEmptyResponse
	}
	return &resp, nil
}

// GetStatus fetches the status of a cross-chain transfer
func (c *Client) GetStatus(ctx context.Context, txHash string) (*StatusResponse, error) {
	q := url.Values{}
	q.Set("txHash", txHash)

	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/status?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		return nil, ErrEmptyResponse
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-lifi-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	// Read the response body regardless of status code
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	trimmed := bytes.TrimSpace(bodyBytes)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return ErrEmptyResponse
	}

	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(bodyBytes))
	}
	return nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

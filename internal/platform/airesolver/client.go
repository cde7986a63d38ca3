// Package airesolver is the HTTP client for the AI resolution service, which
// researches a closed market and answers with an outcome, its evidence and
// optionally an oracle-signed proposal.
package airesolver

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

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketmirror/internal/crypto"
	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// HeaderRequestID correlates a call with the resolver's logs.
const HeaderRequestID = "X-Request-ID"

// Client talks to the resolver REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.RequestAuth
}

// NewClient creates a resolver client. auth may be nil for unauthenticated
// deployments.
func NewClient(baseURL string, auth *crypto.RequestAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		auth: auth,
	}
}

// RequestResolution submits a market for research.
func (c *Client) RequestResolution(ctx context.Context, req ResolutionRequest) (Status, error) {
	body, err := c.do(ctx, http.MethodPost, "/resolutions", req)
	if err != nil {
		return Status{}, fmt.Errorf("airesolver: request resolution for market %d: %w", req.MarketID, err)
	}
	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		return Status{}, fmt.Errorf("airesolver: decode status: %w", err)
	}
	return st, nil
}

// Status returns the progress of a request.
func (c *Client) Status(ctx context.Context, requestID string) (Status, error) {
	body, err := c.do(ctx, http.MethodGet, "/resolutions/"+url.PathEscape(requestID), nil)
	if err != nil {
		return Status{}, fmt.Errorf("airesolver: status %s: %w", requestID, err)
	}
	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		return Status{}, fmt.Errorf("airesolver: decode status: %w", err)
	}
	return st, nil
}

// Result returns the answer of a completed request.
func (c *Client) Result(ctx context.Context, requestID string) (Result, error) {
	body, err := c.do(ctx, http.MethodGet, "/resolutions/"+url.PathEscape(requestID)+"/result", nil)
	if err != nil {
		return Result{}, fmt.Errorf("airesolver: result %s: %w", requestID, err)
	}
	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, fmt.Errorf("airesolver: decode result: %w", err)
	}
	return res, nil
}

// History returns every past result for a market, oldest first.
func (c *Client) History(ctx context.Context, marketID uint64) ([]Result, error) {
	path := "/markets/" + strconv.FormatUint(marketID, 10) + "/resolutions"
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("airesolver: history for market %d: %w", marketID, err)
	}
	var results []Result
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("airesolver: decode history: %w", err)
	}
	return results, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do builds, signs, sends, and reads one request. It returns the raw
// response body.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var raw []byte
	var bodyReader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		raw = b
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.auth.Apply(req, raw)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors carrying the
// server's message, or "HTTP <code>" when it sent none.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := serverMessage(body)
	if msg == "" {
		msg = "HTTP " + strconv.Itoa(statusCode)
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return errors.New(msg)
	}
}

func serverMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if eb.Error != "" {
		return eb.Error
	}
	return eb.Message
}

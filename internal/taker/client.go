package taker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/optionsfi/rfq-router/internal/httpclient"
	"github.com/optionsfi/rfq-router/internal/rate"
	"github.com/optionsfi/rfq-router/pkg/model"
)

// DefaultRouterURL is where a locally started router listens.
const DefaultRouterURL = "http://localhost:3005"

// APIError is a non-2xx router response.
type APIError struct {
	Status  int      `json:"-"`
	Message string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("router %d: %s: %s", e.Status, e.Message, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("router %d: %s", e.Status, e.Message)
}

// CreateResponse is returned by POST /rfq.
type CreateResponse struct {
	Success bool             `json:"success"`
	RfqID   string           `json:"rfqId"`
	Request model.RfqRequest `json:"request"`
}

// Client talks to the router's HTTP API on behalf of a taker.
type Client struct {
	base   string
	exec   *httpclient.Executor
	health *http.Client
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	httpClient *http.Client
	rate       *rate.Config
	retries    int
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(cc *clientConfig) { cc.httpClient = c } }

// WithRateLimit paces outbound calls with a token bucket.
func WithRateLimit(cfg rate.Config) Option { return func(cc *clientConfig) { cc.rate = &cfg } }

// WithRetries sets how many times 5xx and 429 responses are retried.
func WithRetries(n int) Option { return func(cc *clientConfig) { cc.retries = n } }

// NewClient creates a router client for baseURL.
func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = DefaultRouterURL
	}
	cc := clientConfig{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retries:    2,
	}
	for _, opt := range opts {
		opt(&cc)
	}

	var mgr *rate.Manager
	if cc.rate != nil {
		mgr = rate.NewManager(*cc.rate)
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		exec:   httpclient.New(logger, mgr, cc.httpClient, cc.retries, "rfq_router", decodeAPIError),
		health: cc.httpClient,
		logger: logger,
	}
}

func decodeAPIError(status int, body []byte) error {
	e := &APIError{Status: status}
	if err := json.Unmarshal(body, e); err != nil || e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// CreateRFQ submits a new auction.
func (c *Client) CreateRFQ(ctx context.Context, req model.RfqRequest) (*CreateResponse, error) {
	var out CreateResponse
	if err := c.do(ctx, http.MethodPost, "/rfq", req, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.RfqID == "" {
		return nil, fmt.Errorf("router did not accept rfq")
	}
	return &out, nil
}

// GetStatus returns the polling view of an RFQ, or nil when it is unknown.
func (c *Client) GetStatus(ctx context.Context, id string) (*model.RfqStatusView, error) {
	var out struct {
		Rfq model.RfqStatusView `json:"rfq"`
	}
	err := c.do(ctx, http.MethodGet, "/rfq/"+url.PathEscape(id), nil, &out)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out.Rfq, nil
}

// ListActive returns the OPEN RFQs.
func (c *Client) ListActive(ctx context.Context) ([]model.RfqSummary, error) {
	var out struct {
		Rfqs []model.RfqSummary `json:"rfqs"`
	}
	if err := c.do(ctx, http.MethodGet, "/rfqs", nil, &out); err != nil {
		return nil, err
	}
	if out.Rfqs == nil {
		out.Rfqs = []model.RfqSummary{}
	}
	return out.Rfqs, nil
}

// Fill asks the router to select the best quote. A lost race or an empty
// book is a false result, not an error.
func (c *Client) Fill(ctx context.Context, id string) (model.FillResult, error) {
	var out model.FillResult
	err := c.do(ctx, http.MethodPost, "/rfq/"+url.PathEscape(id)+"/fill", nil, &out)
	return out, err
}

// Cancel closes an OPEN RFQ without a winner.
func (c *Client) Cancel(ctx context.Context, id string) (bool, error) {
	var out struct {
		Success bool `json:"success"`
	}
	err := c.do(ctx, http.MethodPost, "/rfq/"+url.PathEscape(id)+"/cancel", nil, &out)
	if isNotFound(err) {
		return false, nil
	}
	return out.Success, err
}

// Health reports whether the router answers /health within three seconds.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.health.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.exec.DoJSON(ctx, req, c.base, out)
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

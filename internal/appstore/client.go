package appstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/time/rate"

	"salesdigest/internal/auth"
	"salesdigest/internal/logging"
	"salesdigest/internal/report"
)

const salesReportsPath = "/v1/salesReports"

// Frequency is the report granularity.
type Frequency string

const Daily Frequency = "DAILY"

// ReportRequest selects one Sales summary report.
type ReportRequest struct {
	VendorNumber string
	Date         civil.Date
	Frequency    Frequency
}

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Metrics observes completed fetches.
type Metrics interface {
	ObserveFetch(outcome string, latency time.Duration)
}

// CredentialSource hands out a currently valid credential.
type CredentialSource interface {
	Credential() (auth.Credential, error)
}

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 means unlimited
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient HTTPClient
}

// UpstreamError keeps the status and a body snippet of a rejected request.
type UpstreamError struct {
	StatusCode int
	Body       []byte
	URL        string
}

func (e *UpstreamError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("app store connect: status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("app store connect: status %d from %s: %s", e.StatusCode, e.URL, body)
}

// Client queries the App Store Connect Sales Reports endpoint.
type Client struct {
	baseURL string
	client  HTTPClient
	limiter *rate.Limiter
	log     *logging.Logger
	metrics Metrics
}

func NewClient(cfg Config, log *logging.Logger, metrics Metrics) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  hc,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		metrics: metrics,
	}
}

// FetchReport requests the summary sales report for one date. A 404 is the
// not-published-yet signal; 429 and 5xx are transient; other 4xx and bodies
// that cannot be decoded are fatal.
func (c *Client) FetchReport(ctx context.Context, cred auth.Credential, req ReportRequest) report.Result {
	start := time.Now()
	res := c.fetch(ctx, cred, req)
	if c.metrics != nil {
		c.metrics.ObserveFetch(res.Outcome.String(), time.Since(start))
	}

	log := logging.FromContext(ctx, c.log)
	switch res.Outcome {
	case report.OutcomeFound:
		log.Debug("sales report fetched", "date", req.Date.String(), "rows", len(res.Rows))
	case report.OutcomeNotFound:
		log.Debug("sales report not published", "date", req.Date.String())
	default:
		log.Warn("sales report fetch failed", "date", req.Date.String(), "outcome", res.Outcome.String(), "error", res.Err)
	}
	return res
}

func (c *Client) fetch(ctx context.Context, cred auth.Credential, req ReportRequest) report.Result {
	if req.Frequency == "" {
		req.Frequency = Daily
	}
	if !cred.Valid(time.Now()) {
		return report.Fatal(fmt.Errorf("credential expired at %s", cred.ExpiresAt.Format(time.RFC3339)))
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return report.Transient(fmt.Errorf("rate limiter: %w", err))
	}

	q := url.Values{}
	q.Set("filter[frequency]", string(req.Frequency))
	q.Set("filter[reportDate]", req.Date.String())
	q.Set("filter[reportSubType]", "SUMMARY")
	q.Set("filter[reportType]", "SALES")
	q.Set("filter[vendorNumber]", req.VendorNumber)
	q.Set("filter[version]", "1_0")
	endpoint := c.baseURL + salesReportsPath + "?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return report.Fatal(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.Token)
	httpReq.Header.Set("Accept", "application/a-gzip")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return report.Transient(fmt.Errorf("query app store connect: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return report.NotFound()
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		upErr := &UpstreamError{StatusCode: resp.StatusCode, Body: body, URL: c.baseURL + salesReportsPath}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return report.Transient(upErr)
		}
		return report.Fatal(upErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBytes))
	if err != nil {
		return report.Transient(fmt.Errorf("read report body: %w", err))
	}
	text, err := decompress(body)
	if err != nil {
		return report.Fatal(err)
	}
	rows, err := ParseTSV(string(text), req.Date)
	if err != nil {
		return report.Fatal(err)
	}
	return report.Found(rows)
}

// Daily binds the client to a vendor and credential source, giving the
// resolver and aggregator a plain per-day fetcher.
func (c *Client) Daily(vendorNumber string, creds CredentialSource) report.Fetcher {
	return report.FetcherFunc(func(ctx context.Context, date civil.Date) report.Result {
		cred, err := creds.Credential()
		if err != nil {
			return report.Fatal(err)
		}
		return c.FetchReport(ctx, cred, ReportRequest{VendorNumber: vendorNumber, Date: date, Frequency: Daily})
	})
}

// Package carrier fetches shipment status from the Cainiao global tracking API.
package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/logging"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/metrics"
)

const (
	// DefaultBaseURL is the public Cainiao endpoint.
	DefaultBaseURL = "https://global.cainiao.com"
	// DefaultTimeout bounds one status request.
	DefaultTimeout = 10 * time.Second

	detailPath   = "/global/detail.json"
	refererPath  = "/newDetail.htm"
	maxBodyBytes = 4 << 20
)

// Result is the outcome of one status fetch. The zero value is the failure
// variant: no data this cycle, whatever the cause.
type Result struct {
	Found       bool
	Summary     string // statusDesc
	Description string // latestTrace.desc
	Timestamp   string // latestTrace.timeStr
	Origin      string
	Destination string
}

// Fingerprint is the change-detection string for the latest trace. It is
// compared byte for byte and never parsed.
func (r Result) Fingerprint() string {
	return r.Timestamp + ": " + r.Description
}

// Fetcher is anything that can look up a tracking number.
type Fetcher interface {
	Fetch(ctx context.Context, trackingNumber string) Result
}

// HTTPClient represents the functionality we need from an *http.Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Client queries the carrier's JSON detail endpoint.
type Client struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	HTTP      HTTPClient
}

// NewClient returns a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: userAgent,
		Timeout:   timeout,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

type detailResponse struct {
	Module []struct {
		StatusDesc    string `json:"statusDesc"`
		OriginCountry string `json:"originCountry"`
		DestCountry   string `json:"destCountry"`
		LatestTrace   *struct {
			TimeStr string `json:"timeStr"`
			Desc    string `json:"desc"`
		} `json:"latestTrace"`
	} `json:"module"`
}

var errNoData = errors.New("empty tracking payload")

// Fetch issues one request for trackingNumber. Every failure (transport,
// status code, timeout, decode, empty payload) is logged and returned as the
// zero Result; nothing is retried here.
func (c *Client) Fetch(ctx context.Context, trackingNumber string) Result {
	start := time.Now()
	res, err := c.fetch(ctx, trackingNumber)
	metrics.ObserveFetch(err == nil, time.Since(start))
	if err != nil {
		log := logging.For("carrier")
		ev := log.Error()
		if errors.Is(err, errNoData) {
			ev = log.Warn()
		}
		ev.Err(err).Str("tracking_number", trackingNumber).Msg("carrier API error")
		return Result{}
	}
	return res
}

func (c *Client) fetch(ctx context.Context, trackingNumber string) (Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newRequest(ctx, trackingNumber)
	if err != nil {
		return Result{}, err
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return Result{}, fmt.Errorf("carrier returned status %d", resp.StatusCode)
	}

	var payload detailResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Module) == 0 {
		return Result{}, errNoData
	}
	m := payload.Module[0]
	if m.LatestTrace == nil {
		return Result{}, fmt.Errorf("%w: module has no latestTrace", errNoData)
	}
	return Result{
		Found:       true,
		Summary:     m.StatusDesc,
		Description: m.LatestTrace.Desc,
		Timestamp:   m.LatestTrace.TimeStr,
		Origin:      m.OriginCountry,
		Destination: m.DestCountry,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, trackingNumber string) (*http.Request, error) {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	q := url.Values{}
	q.Set("mailNos", trackingNumber)
	q.Set("lang", "en-US")
	endpoint := base + detailPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	ua := c.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0"
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Referer", base+refererPath+"?"+url.Values{"mailNoList": {trackingNumber}}.Encode())
	return req, nil
}

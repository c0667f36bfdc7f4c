package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"PointsLedger/internal/metrics"
	"PointsLedger/internal/retry"
)

// Client fetches a program's externally published absolute point total.
type Client interface {
	FetchRealTotal(ctx context.Context, id string) (decimal.Decimal, error)
}

// FetchError is a failed oracle call. A FetchError is never accompanied by a
// usable total.
type FetchError struct {
	ID       string
	Endpoint string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("oracle %s: %s: status %d: %v", e.ID, e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("oracle %s: %s: %v", e.ID, e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) StatusCode() int { return e.Status }

var (
	errMissingField = errors.New("field missing")
	errNegative     = errors.New("negative total")
)

// Endpoint is one URL publishing part of a total; Field is a dotted path to
// the value in the JSON body (e.g. "data.totalPoints").
type Endpoint struct {
	Label string
	URL   string
	Field string
}

// HTTPClient sums the values published by all of an oracle's endpoints.
// Calls share a rate limiter so bridges are polled one at a time.
type HTTPClient struct {
	Endpoints map[string][]Endpoint
	Client    *http.Client
	Limiter   *rate.Limiter
	Retry     retry.Config
	log       *slog.Logger
}

// NewHTTPClient creates an oracle client. minInterval is the minimum spacing
// between two endpoint calls.
func NewHTTPClient(log *slog.Logger, endpoints map[string][]Endpoint, minInterval time.Duration, proxyURL string, timeout time.Duration) *HTTPClient {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &HTTPClient{
		Endpoints: endpoints,
		Client:    &http.Client{Timeout: timeout, Transport: transport},
		Limiter:   rate.NewLimiter(limit, 1),
		Retry:     retry.DefaultConfig(),
		log:       log,
	}
}

func (c *HTTPClient) FetchRealTotal(ctx context.Context, id string) (decimal.Decimal, error) {
	endpoints, ok := c.Endpoints[id]
	if !ok || len(endpoints) == 0 {
		return decimal.Zero, &FetchError{ID: id, Err: errors.New("no endpoints configured")}
	}

	total := decimal.Zero
	for _, ep := range endpoints {
		if err := c.Limiter.Wait(ctx); err != nil {
			return decimal.Zero, &FetchError{ID: id, Endpoint: ep.Label, Err: err}
		}
		var v decimal.Decimal
		err := retry.Do(ctx, c.Retry, func() error {
			var err error
			v, err = c.fetchEndpoint(ctx, id, ep)
			return err
		})
		if err != nil {
			metrics.OracleFetchErrors.WithLabelValues(id).Inc()
			return decimal.Zero, err
		}
		c.log.Debug("oracle: fetched endpoint", "oracle", id, "endpoint", ep.Label, "value", v.String())
		total = total.Add(v)
	}
	metrics.OracleRealTotal.WithLabelValues(id).Set(total.InexactFloat64())
	return total, nil
}

func (c *HTTPClient) fetchEndpoint(ctx context.Context, id string, ep Endpoint) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return decimal.Zero, &FetchError{ID: id, Endpoint: ep.Label, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return decimal.Zero, &FetchError{ID: id, Endpoint: ep.Label, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, &FetchError{ID: id, Endpoint: ep.Label, Status: resp.StatusCode, Err: fmt.Errorf("body: %s", string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var body any
	if err := dec.Decode(&body); err != nil {
		return decimal.Zero, &FetchError{ID: id, Endpoint: ep.Label, Err: fmt.Errorf("decode body: %w", err)}
	}
	v, err := extract(body, ep.Field)
	if err != nil {
		return decimal.Zero, &FetchError{ID: id, Endpoint: ep.Label, Err: fmt.Errorf("field %q: %w", ep.Field, err)}
	}
	return v, nil
}

// extract walks a dotted path through decoded JSON and parses the leaf as a
// non-negative decimal. Numeric path segments index arrays.
func extract(body any, path string) (decimal.Decimal, error) {
	cur := body
	if path != "" {
		for _, seg := range strings.Split(path, ".") {
			switch node := cur.(type) {
			case map[string]any:
				next, ok := node[seg]
				if !ok {
					return decimal.Zero, errMissingField
				}
				cur = next
			case []any:
				var idx int
				if _, err := fmt.Sscanf(seg, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
					return decimal.Zero, errMissingField
				}
				cur = node[idx]
			default:
				return decimal.Zero, errMissingField
			}
		}
	}

	var v decimal.Decimal
	var err error
	switch leaf := cur.(type) {
	case json.Number:
		v, err = decimal.NewFromString(leaf.String())
	case string:
		v, err = decimal.NewFromString(strings.TrimSpace(leaf))
	case nil:
		return decimal.Zero, errMissingField
	default:
		return decimal.Zero, fmt.Errorf("unexpected type %T", cur)
	}
	if err != nil {
		return decimal.Zero, err
	}
	if v.IsNegative() {
		return decimal.Zero, errNegative
	}
	return v, nil
}

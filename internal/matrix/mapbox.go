package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"depotroute/internal/model"
)

const defaultMapboxBaseURL = "https://api.mapbox.com/directions-matrix/v1/mapbox"

// MapboxConfig configures the Matrix API client.
type MapboxConfig struct {
	AccessToken string
	// BaseURL overrides the production endpoint, mainly for tests.
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond throttles outbound calls; the free tier allows 60/min.
	RequestsPerSecond float64
}

// MapboxClient fetches travel-time matrices from the Mapbox Matrix API.
// It keeps no per-request state beyond the shared rate limiter.
type MapboxClient struct {
	baseURL string
	token   string
	httpc   *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewMapboxClient builds a client with a read-only access token.
func NewMapboxClient(cfg MapboxConfig, log *zap.Logger) (*MapboxClient, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("mapbox: access token is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultMapboxBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &MapboxClient{
		baseURL: strings.TrimRight(base, "/"),
		token:   cfg.AccessToken,
		httpc:   &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
	}, nil
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

type matrixResponse struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Durations [][]*float64 `json:"durations"`
}

// Durations implements Provider against the Mapbox Matrix API.
func (c *MapboxClient) Durations(ctx context.Context, coords []model.GeoPoint, profile string) ([][]float64, error) {
	n := len(coords)
	if n < 2 {
		return nil, errors.New("mapbox: need at least 2 coordinates")
	}
	if n > MaxCoordinates {
		return nil, fmt.Errorf("mapbox: %d coordinates exceeds the limit of %d", n, MaxCoordinates)
	}
	for i, p := range coords {
		if !p.Valid() {
			return nil, fmt.Errorf("mapbox: invalid coordinate at index %d", i)
		}
	}
	if profile == "" {
		profile = "driving"
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.requestURL(coords, profile)
	resp, err := c.doWithRetry(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("mapbox: matrix request: %w", err)
	}
	defer resp.Body.Close()

	var mr matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("mapbox: decode response: %w", err)
	}
	if mr.Code != "Ok" {
		return nil, fmt.Errorf("mapbox: api error %q: %s", mr.Code, mr.Message)
	}
	return validateDurations(mr.Durations, n)
}

func (c *MapboxClient) requestURL(coords []model.GeoPoint, profile string) string {
	parts := make([]string, len(coords))
	approaches := make([]string, len(coords))
	for i, p := range coords {
		parts[i] = strconv.FormatFloat(p.Lng, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
		approaches[i] = "unrestricted"
	}
	q := url.Values{}
	q.Set("access_token", c.token)
	q.Set("annotations", "duration")
	q.Set("sources", "all")
	q.Set("destinations", "all")
	q.Set("approaches", strings.Join(approaches, ";"))
	q.Set("fallback_speed", "40")
	return c.baseURL + "/" + profile + "/" + strings.Join(parts, ";") + "?" + q.Encode()
}

// doWithRetry retries transient failures (429, 5xx, network errors) with
// exponential backoff, respecting context cancellation.
func (c *MapboxClient) doWithRetry(ctx context.Context, reqURL string) (*http.Response, error) {
	const maxAttempts = 4
	backoff := 200 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case http.StatusTooManyRequests,
				http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout:
				retry = true
			}
		}
		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}
		if !retry || attempt == maxAttempts {
			return nil, lastErr
		}

		c.log.Warn("matrix call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (c *MapboxClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// validateDurations enforces the provider contract: n x n, every entry
// present, finite and non-negative, and not uniformly zero.
func validateDurations(durations [][]*float64, n int) ([][]float64, error) {
	if len(durations) != n {
		return nil, fmt.Errorf("mapbox: expected %d rows, got %d", n, len(durations))
	}
	out := make([][]float64, n)
	allZero := true
	for i, row := range durations {
		if len(row) != n {
			return nil, fmt.Errorf("mapbox: row %d has %d entries, expected %d", i, len(row), n)
		}
		out[i] = make([]float64, n)
		for j, v := range row {
			if v == nil {
				return nil, fmt.Errorf("mapbox: missing duration at (%d,%d)", i, j)
			}
			d := *v
			if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
				return nil, fmt.Errorf("mapbox: invalid duration %v at (%d,%d)", d, i, j)
			}
			if d != 0 {
				allZero = false
			}
			out[i][j] = d
		}
	}
	if allZero {
		return nil, errors.New("mapbox: all durations are zero")
	}
	return out, nil
}

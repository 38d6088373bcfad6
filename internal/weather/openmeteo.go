// Package weather fetches external rainfall forecasts used to override the
// predicted rainfall of a buoy forecast.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/lox/buoyforecast/internal/httputil"
	"github.com/lox/buoyforecast/internal/metrics"
)

const (
	DefaultBaseURL  = "https://api.open-meteo.com/v1/forecast"
	DefaultTimezone = "Asia/Bangkok"
	maxForecastDays = 16
)

// Client reads daily precipitation sums from Open-Meteo.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timezone   string
	breaker    *gobreaker.CircuitBreaker[[]byte]
	newBackOff func() backoff.BackOff
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBackOff replaces the retry schedule, mainly so tests don't sleep.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = fn }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: httputil.NewClient(),
		baseURL:    DefaultBaseURL,
		timezone:   DefaultTimezone,
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "open-meteo",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     5 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = time.Minute
			return bo
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type dailyResponse struct {
	Daily struct {
		Time             []string   `json:"time"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// DailyRainfall returns forecast precipitation in mm keyed by local date
// (YYYY-MM-DD), starting today. Days the API reports as null are omitted.
func (c *Client) DailyRainfall(ctx context.Context, lat, lon float64, days int) (map[string]float64, error) {
	if days < 1 {
		return map[string]float64{}, nil
	}
	if days > maxForecastDays {
		days = maxForecastDays
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("daily", "precipitation_sum")
	q.Set("timezone", c.timezone)
	q.Set("forecast_days", strconv.Itoa(days))
	endpoint := c.baseURL + "?" + q.Encode()

	start := time.Now()
	var body []byte
	operation := func() error {
		b, err := c.breaker.Execute(func() ([]byte, error) {
			return c.fetch(ctx, endpoint)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("open-meteo unavailable: %w", err))
			}
			return err
		}
		body = b
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx))
	metrics.RainfallAPILatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RainfallAPICallsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RainfallAPICallsTotal.WithLabelValues("success").Inc()

	var data dailyResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal open-meteo response: %w", err)
	}
	if len(data.Daily.Time) != len(data.Daily.PrecipitationSum) {
		return nil, fmt.Errorf("open-meteo response: %d dates but %d values",
			len(data.Daily.Time), len(data.Daily.PrecipitationSum))
	}

	out := make(map[string]float64, len(data.Daily.Time))
	for i, date := range data.Daily.Time {
		if v := data.Daily.PrecipitationSum[i]; v != nil {
			out[date] = *v
		}
	}
	return out, nil
}

// fetch performs one request. Transport failures, 429 and 5xx are retried;
// other statuses are permanent.
func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", httputil.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rainfall: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("fetch rainfall: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, backoff.Permanent(fmt.Errorf("fetch rainfall: status %d: %s", resp.StatusCode, string(b)))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

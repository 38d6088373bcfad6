package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
)

func newTestClient(serverURL string) *Client {
	return NewClient(
		WithBaseURL(serverURL),
		WithBackOff(func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		}),
	)
}

func TestDailyRainfall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("daily") != "precipitation_sum" {
			t.Errorf("daily = %q", q.Get("daily"))
		}
		if q.Get("forecast_days") != "3" {
			t.Errorf("forecast_days = %q, want 3", q.Get("forecast_days"))
		}
		if q.Get("latitude") != "13.5000" || q.Get("longitude") != "100.9000" {
			t.Errorf("coords = %s,%s", q.Get("latitude"), q.Get("longitude"))
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		w.Write([]byte(`{"daily":{"time":["2024-03-11","2024-03-12","2024-03-13"],"precipitation_sum":[1.5,null,12.25]}}`))
	}))
	defer server.Close()

	rain, err := newTestClient(server.URL).DailyRainfall(context.Background(), 13.5, 100.9, 3)
	if err != nil {
		t.Fatalf("DailyRainfall: %v", err)
	}

	if len(rain) != 2 {
		t.Fatalf("len = %d, want 2 (null day omitted)", len(rain))
	}
	if rain["2024-03-11"] != 1.5 || rain["2024-03-13"] != 12.25 {
		t.Errorf("rain = %v", rain)
	}
	if _, ok := rain["2024-03-12"]; ok {
		t.Error("null day should be absent")
	}
}

func TestDailyRainfall_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"daily":{"time":["2024-03-11"],"precipitation_sum":[0]}}`))
	}))
	defer server.Close()

	rain, err := newTestClient(server.URL).DailyRainfall(context.Background(), 0, 0, 1)
	if err != nil {
		t.Fatalf("DailyRainfall: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if v, ok := rain["2024-03-11"]; !ok || v != 0 {
		t.Errorf("rain = %v", rain)
	}
}

func TestDailyRainfall_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"reason":"bad latitude"}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).DailyRainfall(context.Background(), 99, 0, 1); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestDailyRainfall_MismatchedArrays(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"daily":{"time":["2024-03-11","2024-03-12"],"precipitation_sum":[1]}}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).DailyRainfall(context.Background(), 0, 0, 2); err == nil {
		t.Fatal("expected error for mismatched arrays")
	}
}

func TestDailyRainfall_ZeroDays(t *testing.T) {
	rain, err := NewClient(WithBaseURL("http://invalid.invalid")).DailyRainfall(context.Background(), 0, 0, 0)
	if err != nil || len(rain) != 0 {
		t.Errorf("DailyRainfall(0 days) = %v, %v", rain, err)
	}
}

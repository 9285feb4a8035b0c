package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/i474232898/weatherapi-nodeserver/internal/observability"
	"github.com/i474232898/weatherapi-nodeserver/internal/store"
	"github.com/i474232898/weatherapi-nodeserver/internal/weather"
)

type fixedStatus bool

func (s fixedStatus) Online() bool { return bool(s) }

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestApp returns an app backed by a real service over a memory store
// holding three readings at base, base+5m and base+10m.
func newTestApp(t *testing.T, seed bool) *fiber.App {
	t.Helper()

	memStore := store.NewMemoryStore(10, 0)
	svc := weather.NewService(memStore, func(string) weather.Provider { return nil }, observability.NewMetricsForTesting(), weather.Options{})
	if err := svc.Configure("key", "80301"); err != nil {
		t.Fatalf("configure: %v", err)
	}

	if seed {
		loc, _ := weather.ParseLocation("80301")
		for i := 0; i < 3; i++ {
			r := weather.Reading{
				Location:     "80301",
				TemperatureF: 60 + float64(i),
				FetchedAt:    base.Add(time.Duration(i) * 5 * time.Minute),
			}
			if err := memStore.SaveReading(context.Background(), loc, r); err != nil {
				t.Fatalf("seed: %v", err)
			}
		}
	}

	reg := prometheus.NewRegistry()
	m := observability.NewMetricsForTesting()
	reg.MustRegister(m.ControllerOnline)
	m.ControllerOnline.Set(1)

	app := NewApp(false)
	RegisterRoutes(app, svc, fixedStatus(true), reg)
	return app
}

func doGet(t *testing.T, app *fiber.App, target string) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, false)

	resp, body := doGet(t, app, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["online"] != true || got["service"] != serviceName {
		t.Fatalf("unexpected health body: %s", body)
	}
}

func TestCurrentWeather(t *testing.T) {
	resp, _ := doGet(t, newTestApp(t, false), "/api/v1/weather/current")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d without data, got %d", http.StatusNotFound, resp.StatusCode)
	}

	resp, body := doGet(t, newTestApp(t, true), "/api/v1/weather/current")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var r weather.Reading
	if err := json.Unmarshal(body, &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.TemperatureF != 62 {
		t.Fatalf("expected latest reading, got %+v", r)
	}
}

// TestHistoryValidation verifies that the history endpoint requires a valid,
// ordered from/to range.
func TestHistoryValidation(t *testing.T) {
	app := newTestApp(t, true)

	cases := []string{
		"/api/v1/weather/history",
		"/api/v1/weather/history?from=2026-03-01T12:00:00Z",
		"/api/v1/weather/history?from=yesterday&to=today",
		"/api/v1/weather/history?from=2026-03-01T13:00:00Z&to=2026-03-01T12:00:00Z",
	}
	for _, target := range cases {
		resp, body := doGet(t, app, target)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected status %d, got %d", target, http.StatusBadRequest, resp.StatusCode)
		}
		if !strings.Contains(string(body), `"error":true`) {
			t.Fatalf("%s: expected error body, got %s", target, body)
		}
	}
}

func TestHistoryRange(t *testing.T) {
	app := newTestApp(t, true)

	from := base.Add(time.Minute).Unix()
	to := base.Add(10 * time.Minute).Unix()
	resp, body := doGet(t, app, "/api/v1/weather/history?from="+strconv.FormatInt(from, 10)+"&to="+strconv.FormatInt(to, 10))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.StatusCode, body)
	}

	var got struct {
		Location string            `json:"location"`
		Readings []weather.Reading `json:"readings"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Location != "80301" {
		t.Fatalf("unexpected location %q", got.Location)
	}
	if len(got.Readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(got.Readings))
	}

	resp, _ = doGet(t, app, "/api/v1/weather/history?from=2020-01-01T00:00:00Z&to=2020-01-02T00:00:00Z")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d for empty range, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	resp, body := doGet(t, newTestApp(t, false), "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if !strings.Contains(string(body), "weatherapi_ns_controller_online 1") {
		t.Fatalf("controller gauge missing from exposition:\n%s", body)
	}
}

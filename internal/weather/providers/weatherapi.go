package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weatherapi-nodeserver/internal/weather"
)

// DefaultWeatherAPIBaseURL is the weatherapi.com v1 root.
const DefaultWeatherAPIBaseURL = "https://api.weatherapi.com/v1"

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewWeatherAPIProvider builds a provider. An empty baseURL selects DefaultWeatherAPIBaseURL.
func NewWeatherAPIProvider(client *http.Client, apiKey, baseURL string, backoff BackoffConfig) *WeatherAPIProvider {
	if baseURL == "" {
		baseURL = DefaultWeatherAPIBaseURL
	}
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: baseURL,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: backoff,
		},
		circuit: newBreaker("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

// forecastResponse is the subset of forecast.json we republish.
type forecastResponse struct {
	Location struct {
		Name           string `json:"name"`
		Region         string `json:"region"`
		LocaltimeEpoch int64  `json:"localtime_epoch"`
	} `json:"location"`
	Current struct {
		LastUpdatedEpoch int64   `json:"last_updated_epoch"`
		TempF            float64 `json:"temp_f"`
		Humidity         float64 `json:"humidity"`
		PressureIn       float64 `json:"pressure_in"`
		WindDegree       float64 `json:"wind_degree"`
		WindMph          float64 `json:"wind_mph"`
		PrecipIn         float64 `json:"precip_in"`
		Condition        struct {
			Text string `json:"text"`
			Code int    `json:"code"`
		} `json:"condition"`
	} `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			Day struct {
				DailyChanceOfRain float64 `json:"daily_chance_of_rain"`
			} `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Fetch requests current conditions plus today's forecast in a single call.
func (p *WeatherAPIProvider) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	if p.apiKey == "" {
		return weather.Reading{}, fmt.Errorf("weatherapi api key is not configured")
	}
	q := loc.Query()
	if q == "" {
		return weather.Reading{}, fmt.Errorf("weatherapi: %w", weather.ErrInvalidLocation)
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		values.Set("q", q)
		values.Set("days", "1")
		values.Set("aqi", "no")
		values.Set("alerts", "no")

		u := fmt.Sprintf("%s/forecast.json?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.Reading{}, err
	}
	defer resp.Body.Close()

	var payload forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Reading{}, fmt.Errorf("decode response: %w", err)
	}
	if payload.Error != nil {
		return weather.Reading{}, &APIError{StatusCode: resp.StatusCode, Code: payload.Error.Code, Message: payload.Error.Message}
	}

	return toReading(payload), nil
}

func toReading(payload forecastResponse) weather.Reading {
	var chance float64
	if len(payload.Forecast.ForecastDay) > 0 {
		chance = payload.Forecast.ForecastDay[0].Day.DailyChanceOfRain
	}

	var observed time.Time
	switch {
	case payload.Current.LastUpdatedEpoch > 0:
		observed = time.Unix(payload.Current.LastUpdatedEpoch, 0).UTC()
	case payload.Location.LocaltimeEpoch > 0:
		observed = time.Unix(payload.Location.LocaltimeEpoch, 0).UTC()
	}

	return weather.Reading{
		TemperatureF:     payload.Current.TempF,
		HumidityPct:      payload.Current.Humidity,
		PressureIn:       payload.Current.PressureIn,
		WindDirectionDeg: payload.Current.WindDegree,
		WindSpeedMph:     payload.Current.WindMph,
		RainRateInHr:     payload.Current.PrecipIn,
		ChanceOfRainPct:  chance,
		ConditionText:    payload.Current.Condition.Text,
		ConditionCode:    payload.Current.Condition.Code,
		ObservedAt:       observed,
	}
}

package weather

import (
	"time"
)

// Reading is the flat set of values republished to the hub on every poll.
// Units are the ones weatherapi.com returns for its imperial fields.
type Reading struct {
	Location string `json:"location"`

	TemperatureF     float64 `json:"temperatureF"`
	HumidityPct      float64 `json:"humidityPercent"`
	PressureIn       float64 `json:"pressureIn"`
	WindDirectionDeg float64 `json:"windDirectionDeg"`
	WindSpeedMph     float64 `json:"windSpeedMph"`
	RainRateInHr     float64 `json:"rainRateInHr"`
	ChanceOfRainPct  float64 `json:"chanceOfRainPercent"`
	ConditionText    string  `json:"condition"`
	ConditionCode    int     `json:"conditionCode"`

	ObservedAt time.Time `json:"observedAt"` // always UTC
	FetchedAt  time.Time `json:"fetchedAt"`  // always UTC
}

// Condition returns the condition text, or "Unknown" when upstream sent none.
func (r Reading) Condition() string {
	if r.ConditionText == "" {
		return "Unknown"
	}
	return r.ConditionText
}

package nodes

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/i474232898/weatherapi-nodeserver/internal/observability"
	"github.com/i474232898/weatherapi-nodeserver/internal/polyglot"
	"github.com/i474232898/weatherapi-nodeserver/internal/weather"
)

const (
	WeatherAddress   = "weather"
	WeatherNodeDefID = "weather"
	WeatherNodeName  = "Weather Station"
	// WeatherNodeHint marks the node as a climate sensor.
	WeatherNodeHint = "0x01020800"
)

// WeatherService is what the weather node needs from weather.Service.
type WeatherService interface {
	Configure(apiKey, location string) error
	Refresh(ctx context.Context, force bool) (weather.Reading, error)
	Restore(ctx context.Context) error
}

// WeatherNode republishes the latest reading as driver values.
type WeatherNode struct {
	node
	svc    WeatherService
	logger *slog.Logger
}

func weatherDrivers() []polyglot.Driver {
	return []polyglot.Driver{
		{Driver: "ST", Value: "0", UOM: polyglot.UOMFahrenheit},
		{Driver: "CLITEMP", Value: "0", UOM: polyglot.UOMFahrenheit},
		{Driver: "CLIHUM", Value: "0", UOM: polyglot.UOMPercent},
		{Driver: "BARPRES", Value: "0", UOM: polyglot.UOMInchesHg},
		{Driver: "WINDDIR", Value: "0", UOM: polyglot.UOMDegrees},
		{Driver: "WINDSPD", Value: "0", UOM: polyglot.UOMMilesPerHour},
		{Driver: "RAINRT", Value: "0", UOM: polyglot.UOMInchesPerHour},
		{Driver: "GV0", Value: "0", UOM: polyglot.UOMPercent},
		{Driver: "GV1", Value: "0", UOM: polyglot.UOMIndex},
	}
}

// NewWeatherNode creates the weather node under the controller.
func NewWeatherNode(hub Hub, svc WeatherService, metrics *observability.Metrics, logger *slog.Logger) *WeatherNode {
	return &WeatherNode{
		node: newNode(hub, metrics, polyglot.NodeDef{
			Address:     WeatherAddress,
			Name:        WeatherNodeName,
			NodeDefID:   WeatherNodeDefID,
			PrimaryNode: ControllerAddress,
			Hint:        WeatherNodeHint,
			Drivers:     weatherDrivers(),
		}),
		svc:    svc,
		logger: logger.With("node", WeatherAddress),
	}
}

// Poll refreshes the reading and publishes changed drivers. Long polls bypass the
// freshness cache.
func (w *WeatherNode) Poll(ctx context.Context, kind polyglot.PollKind) error {
	r, err := w.svc.Refresh(ctx, kind == polyglot.LongPoll)
	if err != nil {
		return err
	}
	return w.Apply(r)
}

// Apply copies a reading onto the drivers.
func (w *WeatherNode) Apply(r weather.Reading) error {
	temp := formatFloat(r.TemperatureF)
	updates := []struct {
		name, value, text string
	}{
		{"ST", temp, ""},
		{"CLITEMP", temp, ""},
		{"CLIHUM", formatFloat(r.HumidityPct), ""},
		{"BARPRES", formatFloat(r.PressureIn), ""},
		{"WINDDIR", formatFloat(r.WindDirectionDeg), ""},
		{"WINDSPD", formatFloat(r.WindSpeedMph), ""},
		{"RAINRT", formatFloat(r.RainRateInHr), ""},
		{"GV0", formatFloat(r.ChanceOfRainPct), ""},
		{"GV1", strconv.Itoa(r.ConditionCode), r.Condition()},
	}

	var errs []error
	for _, u := range updates {
		if err := w.setDriver(u.name, u.value, u.text, false); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	w.logger.Debug("drivers updated",
		"temperature_f", r.TemperatureF,
		"humidity_pct", r.HumidityPct,
		"condition", r.Condition(),
	)
	return nil
}

// Query reports every driver to the hub.
func (w *WeatherNode) Query() error {
	return w.reportDrivers()
}

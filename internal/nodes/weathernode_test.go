package nodes

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weatherapi-nodeserver/internal/observability"
	"github.com/i474232898/weatherapi-nodeserver/internal/polyglot"
)

func TestWeatherNode_ApplyMapsEveryDriver(t *testing.T) {
	hub := newFakeHub()
	m := observability.NewMetricsForTesting()
	w := NewWeatherNode(hub, &fakeService{}, m, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := sampleReading()
	r.RainRateInHr = 0.02
	require.NoError(t, w.Apply(r))

	want := map[string]polyglot.Driver{
		"ST":      {Driver: "ST", Value: "71.6", UOM: polyglot.UOMFahrenheit},
		"CLITEMP": {Driver: "CLITEMP", Value: "71.6", UOM: polyglot.UOMFahrenheit},
		"CLIHUM":  {Driver: "CLIHUM", Value: "23", UOM: polyglot.UOMPercent},
		"BARPRES": {Driver: "BARPRES", Value: "30.12", UOM: polyglot.UOMInchesHg},
		"WINDDIR": {Driver: "WINDDIR", Value: "290", UOM: polyglot.UOMDegrees},
		"WINDSPD": {Driver: "WINDSPD", Value: "8.1", UOM: polyglot.UOMMilesPerHour},
		"RAINRT":  {Driver: "RAINRT", Value: "0.02", UOM: polyglot.UOMInchesPerHour},
		"GV0":     {Driver: "GV0", Value: "10", UOM: polyglot.UOMPercent},
		"GV1":     {Driver: "GV1", Value: "1003", UOM: polyglot.UOMIndex, Text: "Partly cloudy"},
	}
	for name, d := range want {
		got, ok := hub.last(WeatherAddress, name)
		require.True(t, ok, name)
		assert.Equal(t, d, got, name)
	}
	assert.Equal(t, float64(len(want)), testutil.ToFloat64(m.DriverUpdates))
}

func TestWeatherNode_UnknownCondition(t *testing.T) {
	hub := newFakeHub()
	w := NewWeatherNode(hub, &fakeService{}, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := sampleReading()
	r.ConditionText = ""
	r.ConditionCode = 0
	require.NoError(t, w.Apply(r))

	gv1, ok := w.Driver("GV1")
	require.True(t, ok)
	assert.Equal(t, "0", gv1.Value)
	assert.Equal(t, "Unknown", gv1.Text)
}

func TestWeatherNode_PollForcesOnLongPoll(t *testing.T) {
	svc := &fakeService{reading: sampleReading()}
	w := NewWeatherNode(newFakeHub(), svc, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, w.Poll(context.Background(), polyglot.ShortPoll))
	require.NoError(t, w.Poll(context.Background(), polyglot.LongPoll))
	assert.Equal(t, []bool{false, true}, svc.forced)
}

func TestNode_SetDriverUnknown(t *testing.T) {
	w := NewWeatherNode(newFakeHub(), &fakeService{}, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, w.setDriver("GV9", "1", "", false))
}

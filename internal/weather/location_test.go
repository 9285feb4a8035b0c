package weather

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation_AcceptedShapes(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantKind  LocationKind
		wantQuery string
	}{
		{"zip", "80301", KindPostalCode, "80301"},
		{"zip plus four", "80301-1234", KindPostalCode, "80301-1234"},
		{"uk postcode", "SW1A 1AA", KindPostalCode, "SW1A 1AA"},
		{"canadian postal code", " K1A 0B1 ", KindPostalCode, "K1A 0B1"},
		{"city state", "Denver,CO", KindCityState, "Denver,CO"},
		{"city state with spaces", "New York , NY", KindCityState, "New York,NY"},
		{"lat lon", "40.01,-105.27", KindLatLon, "40.01,-105.27"},
		{"lat lon with spaces", " 40.0150 , -105.2705 ", KindLatLon, "40.015,-105.2705"},
		{"integer lat lon", "40,-105", KindLatLon, "40,-105"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := ParseLocation(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, loc.Kind)
			assert.Equal(t, tt.wantQuery, loc.Query())
			assert.False(t, loc.IsZero())
		})
	}
}

func TestParseLocation_Rejected(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"three parts", "Boulder,CO,US"},
		{"lone city", "Boulder"},
		{"empty part", "Denver,"},
		{"latitude out of range", "91,10"},
		{"longitude out of range", "10,181"},
		{"latitude not a number", "NaN,NaN"},
		{"longitude not a number", "0,NaN"},
		{"number and name", "40.0,Boulder"},
		{"too short postal", "1"},
		{"punctuation", "80301!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLocation(tt.in)
			assert.ErrorIs(t, err, ErrInvalidLocation)
		})
	}
}

func TestParseLocation_Empty(t *testing.T) {
	_, err := ParseLocation("   ")
	assert.ErrorIs(t, err, ErrEmptyLocation)
}

func TestLocation_KeyIsCaseInsensitive(t *testing.T) {
	a, err := ParseLocation("Denver,CO")
	require.NoError(t, err)
	b, err := ParseLocation("denver, co")
	require.NoError(t, err)
	assert.Equal(t, a.Key(), b.Key())
}

func TestLocationKind_String(t *testing.T) {
	assert.Equal(t, "postal_code", KindPostalCode.String())
	assert.Equal(t, "city_state", KindCityState.String())
	assert.Equal(t, "lat_lon", KindLatLon.String())
	assert.Equal(t, "unknown", LocationKind(0).String())
}

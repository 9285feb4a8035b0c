package weather

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LocationKind tells which of the accepted location shapes was parsed.
type LocationKind int

const (
	KindPostalCode LocationKind = iota + 1
	KindCityState
	KindLatLon
)

func (k LocationKind) String() string {
	switch k {
	case KindPostalCode:
		return "postal_code"
	case KindCityState:
		return "city_state"
	case KindLatLon:
		return "lat_lon"
	default:
		return "unknown"
	}
}

var (
	// ErrEmptyLocation is returned when no location was configured.
	ErrEmptyLocation = errors.New("location is empty")
	// ErrInvalidLocation is returned when the location matches none of the accepted shapes.
	ErrInvalidLocation = errors.New("invalid location")
)

var postalCodeRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 -]{1,8}[A-Za-z0-9]$`)

// Location is a parsed location string: a postal code, "City,State" or "lat,long".
type Location struct {
	Raw  string       `json:"raw"`
	Kind LocationKind `json:"kind"`

	PostalCode string   `json:"postalCode,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lon        *float64 `json:"lon,omitempty"`
}

// ParseLocation parses s into one of the three accepted shapes.
func ParseLocation(s string) (Location, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Location{}, ErrEmptyLocation
	}

	if !strings.Contains(raw, ",") {
		if !postalCodeRe.MatchString(raw) || !strings.ContainsAny(raw, "0123456789") {
			return Location{}, fmt.Errorf("%w: %q is not a postal code, City,State or lat,long", ErrInvalidLocation, raw)
		}
		return Location{Raw: raw, Kind: KindPostalCode, PostalCode: raw}, nil
	}

	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return Location{}, fmt.Errorf("%w: %q has %d comma separated parts, want 2", ErrInvalidLocation, raw, len(parts))
	}
	first := strings.TrimSpace(parts[0])
	second := strings.TrimSpace(parts[1])
	if first == "" || second == "" {
		return Location{}, fmt.Errorf("%w: %q has an empty part", ErrInvalidLocation, raw)
	}

	lat, latErr := strconv.ParseFloat(first, 64)
	lon, lonErr := strconv.ParseFloat(second, 64)
	switch {
	case latErr == nil && lonErr == nil:
		if !(lat >= -90 && lat <= 90) {
			return Location{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalidLocation, lat)
		}
		if !(lon >= -180 && lon <= 180) {
			return Location{}, fmt.Errorf("%w: longitude %v out of range", ErrInvalidLocation, lon)
		}
		return Location{Raw: raw, Kind: KindLatLon, Lat: &lat, Lon: &lon}, nil
	case latErr == nil || lonErr == nil:
		return Location{}, fmt.Errorf("%w: %q mixes a number and a name", ErrInvalidLocation, raw)
	}

	return Location{Raw: raw, Kind: KindCityState, City: first, State: second}, nil
}

// Query renders the location as the weatherapi.com "q" parameter.
func (l Location) Query() string {
	switch l.Kind {
	case KindPostalCode:
		return l.PostalCode
	case KindCityState:
		return l.City + "," + l.State
	case KindLatLon:
		if l.Lat == nil || l.Lon == nil {
			return ""
		}
		return strconv.FormatFloat(*l.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(*l.Lon, 'f', -1, 64)
	default:
		return ""
	}
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	return strings.ToLower(l.Query())
}

// IsZero reports whether no location has been parsed.
func (l Location) IsZero() bool {
	return l.Kind == 0
}

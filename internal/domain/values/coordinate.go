package values

import (
	"fmt"

	"github.com/golang/geo/s2"
)

// earthRadiusMeters is the mean Earth radius used for distance math
const earthRadiusMeters = 6371010.0

// Coordinate represents a validated geographic position
type Coordinate struct {
	lat float64
	lng float64
}

// NewCoordinate creates a Coordinate, rejecting out-of-range values
func NewCoordinate(lat, lng float64) (Coordinate, error) {
	ll := s2.LatLngFromDegrees(lat, lng)
	if !ll.IsValid() {
		return Coordinate{}, fmt.Errorf("invalid coordinate: lat=%f lng=%f", lat, lng)
	}
	return Coordinate{lat: lat, lng: lng}, nil
}

// MustNewCoordinate creates a Coordinate and panics on error (for tests)
func MustNewCoordinate(lat, lng float64) Coordinate {
	c, err := NewCoordinate(lat, lng)
	if err != nil {
		panic(err)
	}
	return c
}

// Latitude returns the latitude in degrees
func (c Coordinate) Latitude() float64 {
	return c.lat
}

// Longitude returns the longitude in degrees
func (c Coordinate) Longitude() float64 {
	return c.lng
}

// IsZero reports whether the coordinate is the zero value
func (c Coordinate) IsZero() bool {
	return c.lat == 0 && c.lng == 0
}

// DistanceMeters returns the great-circle distance to another coordinate
func (c Coordinate) DistanceMeters(other Coordinate) float64 {
	a := s2.LatLngFromDegrees(c.lat, c.lng)
	b := s2.LatLngFromDegrees(other.lat, other.lng)
	return a.Distance(b).Radians() * earthRadiusMeters
}

// String returns a "lat,lng" rendering
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.lat, c.lng)
}

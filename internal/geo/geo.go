// Package geo holds the great-circle helpers used to annotate custody
// submissions with their distance from the expected custody point.
package geo

import (
	"math"

	"github.com/twpayne/go-geom"
	gjson "github.com/twpayne/go-geom/encoding/geojson"

	"custody_tracker/internal/apperr"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Validate rejects coordinates outside the latitude/longitude ranges.
func Validate(c Coordinate) error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || c.Lat < -90 || c.Lat > 90 {
		return apperr.Validation("latitude %v out of range [-90, 90]", c.Lat)
	}
	if math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) || c.Lon < -180 || c.Lon > 180 {
		return apperr.Validation("longitude %v out of range [-180, 180]", c.Lon)
	}
	return nil
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Coordinate) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	return haversine(a, b), nil
}

// WithinGeofence reports whether point lies within radiusMeters of target.
// The boundary is inclusive.
func WithinGeofence(point, target Coordinate, radiusMeters float64) (bool, error) {
	if radiusMeters < 0 || math.IsNaN(radiusMeters) {
		return false, apperr.Validation("geofence radius %v must be non-negative", radiusMeters)
	}
	d, err := Distance(point, target)
	if err != nil {
		return false, err
	}
	return d <= radiusMeters, nil
}

// Annotate measures point against an optional target. A nil target yields a
// nil distance and false.
func Annotate(point Coordinate, target *Coordinate, radiusMeters float64) (*float64, bool, error) {
	if err := Validate(point); err != nil {
		return nil, false, err
	}
	if target == nil {
		return nil, false, nil
	}
	d, err := Distance(point, *target)
	if err != nil {
		return nil, false, err
	}
	within, err := WithinGeofence(point, *target, radiusMeters)
	if err != nil {
		return nil, false, err
	}
	return &d, within, nil
}

// Bearing returns the initial bearing from a to b in degrees [0, 360).
func Bearing(a, b Coordinate) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	lat1, lat2 := toRadians(a.Lat), toRadians(b.Lat)
	deltaLon := toRadians(b.Lon - a.Lon)

	y := math.Sin(deltaLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(deltaLon)
	return math.Mod(toDegrees(math.Atan2(y, x))+360, 360), nil
}

// Point converts c into a go-geom point (x = longitude, y = latitude).
func Point(c Coordinate) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{c.Lon, c.Lat})
}

// GeoJSON renders c as a GeoJSON Point geometry.
func GeoJSON(c Coordinate) (string, error) {
	b, err := gjson.Marshal(Point(c))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FromPointers builds a coordinate from nullable columns; ok is false when
// either half is missing.
func FromPointers(lat, lon *float64) (Coordinate, bool) {
	if lat == nil || lon == nil {
		return Coordinate{}, false
	}
	return Coordinate{Lat: *lat, Lon: *lon}, true
}

func haversine(a, b Coordinate) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

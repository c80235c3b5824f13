package geo

import (
	"errors"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// The map surface works in web mercator (EPSG:3857) like every tile layer,
// while the backend geocoder speaks WGS84 lat/lon. Marker positions are
// projected once, at the store boundary, and handed over as geometry points.

// ErrInvalidCoordinates is returned when a lat/lon pair is out of range.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ValidateLatLon checks that a WGS84 coordinate pair is in range.
func ValidateLatLon(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return ErrInvalidCoordinates
	}
	if lon < -180 || lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// MercatorPoint projects a WGS84 lat/lon pair to an EPSG:3857 point for the
// map surface.
func MercatorPoint(lat, lon float64) (geom.Point, error) {
	if err := ValidateLatLon(lat, lon); err != nil {
		return geom.Point{}, err
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(lon, lat, 0)
	point, err := geom.NewPoint(
		geom.Coordinates{
			XY: geom.XY{X: x, Y: y},
		},
	)
	if err != nil {
		return geom.Point{}, err
	}
	return point, nil
}

// Bounds is an axis-aligned lat/lon box used for map-viewport queries.
type Bounds struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Contains reports whether a coordinate falls inside the bounds.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat &&
		lon >= b.MinLon && lon <= b.MaxLon
}

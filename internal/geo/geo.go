package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/rescuenet/dispatch/pkg/core"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// Inputs are WGS84 (EPSG:4326) degrees. Persisted positions are projected to 3857 and stored as WKB
// so that SQLite, which has no spatial awareness, can round-trip them through the geom Scan/Value pair.

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// EtaBufferMinutes is added to every travel-time estimate for launch and approach.
const EtaBufferMinutes = 10

// DefaultSpeedKmh applies to team types missing from the speed table.
const DefaultSpeedKmh = 20.0

var speedKmh = map[core.TeamType]float64{
	core.TeamHelicopter: 150,
	core.TeamBoat:       25,
	core.TeamTruck:      40,
	core.TeamFoot:       5,
}

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ValidateCoordinates checks that lat/lng are finite and inside WGS84 bounds.
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// DistanceKm returns the great-circle distance between two points using the haversine formula.
func DistanceKm(latA, lngA, latB, lngB float64) float64 {
	dLat := toRadians(latB - latA)
	dLng := toRadians(lngB - lngA)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(latA))*math.Cos(toRadians(latB))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// SpeedKmh returns the travel speed assumed for a team type.
func SpeedKmh(t core.TeamType) float64 {
	if s, ok := speedKmh[t]; ok {
		return s
	}
	return DefaultSpeedKmh
}

// EstimateEtaMinutes returns ceil(distance / speed * 60) plus the fixed buffer.
func EstimateEtaMinutes(distanceKm float64, t core.TeamType) int {
	return int(math.Ceil(distanceKm/SpeedKmh(t)*60)) + EtaBufferMinutes
}

// Direction frames where a responder at (fromLat, fromLng) approaches a victim at (toLat, toLng) from.
// The axis with the larger delta wins; ties go to east/west.
func Direction(fromLat, fromLng, toLat, toLng float64) string {
	dLat := toLat - fromLat
	dLng := toLng - fromLng

	if math.Abs(dLat) > math.Abs(dLng) {
		if dLat > 0 {
			return "from the south"
		}
		return "from the north"
	}
	if dLng > 0 {
		return "from the west"
	}
	return "from the east"
}

// Fingerprint derives the deduplication key of a report: coordinates rounded to a ~111 m grid,
// the last four characters of the phone ("0000" without one) and the head count, hashed with
// a 32-bit polynomial rolling hash and rendered as uppercase base-36 padded to 8 characters.
// Reports sharing all four inputs are one incident.
func Fingerprint(lat, lng float64, phone string, people int) string {
	suffix := "0000"
	if phone != "" {
		units := utf16.Encode([]rune(phone))
		if len(units) > 4 {
			units = units[len(units)-4:]
		}
		suffix = string(utf16.Decode(units))
	}

	key := strings.Join([]string{
		formatRounded(lat),
		formatRounded(lng),
		suffix,
		strconv.Itoa(people),
	}, "|")

	var h int32
	for _, c := range utf16.Encode([]rune(key)) {
		h = (h << 5) - h + int32(c)
	}

	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}

	out := strings.ToUpper(strconv.FormatInt(abs, 36))
	if len(out) < 8 {
		out = strings.Repeat("0", 8-len(out)) + out
	}
	return out
}

// formatRounded rounds half up to three decimals and prints the shortest decimal form,
// so 16.46 renders as "16.46" and 107 as "107".
func formatRounded(v float64) string {
	r := math.Floor(v*1000+0.5) / 1000
	if r == 0 {
		r = 0 // drop the sign of -0
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// Coords3857From4326 creates a GPS point from a longitude and latitude
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	if err := ValidateCoordinates(latitude, longitude); err != nil {
		return geom.NewEmptyPoint(geom.DimXY), err
	}
	var x, y float64
	// if provided SRID was 4326, convert to 3857
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ = f(longitude, latitude, 0)
	point, err = geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}
	return point, nil
}

// Coords4326From3857 reverses Coords3857From4326 and returns longitude, latitude.
func Coords4326From3857(point geom.Point) (longitude, latitude float64, err error) {
	c, ok := point.Coordinates()
	if !ok {
		return 0, 0, ErrInvalidCoordinates
	}
	f := wgs84.EPSG().Transform(3857, 4326)
	longitude, latitude, _ = f(c.X, c.Y, 0)
	return longitude, latitude, nil
}

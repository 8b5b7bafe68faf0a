package geo

import (
	"math"

	"github.com/guetchou/bantudelice-tracking/internal/models"
)

const earthRadiusKm = 6371.0

// DistanceKm is the great-circle (Haversine) distance between two points.
// Pure; identical and antipodal points are both safe.
func DistanceKm(a, b models.Coord) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// float rounding can push h a hair outside [0,1]; clamp before the sqrt
	// so antipodal inputs cannot produce NaN.
	if h < 0 {
		h = 0
	} else if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// BearingDeg is the initial bearing from a to b in degrees [0, 360).
func BearingDeg(a, b models.Coord) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLng := toRad(b.Lng - a.Lng)
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// SpeedTable maps a vehicle class to its assumed average speed in km/h.
type SpeedTable map[models.VehicleClass]float64

// DefaultSpeedKph is used for classes absent from the table.
const DefaultSpeedKph = 25.0

// DefaultSpeeds returns the speeds observed in the Brazzaville fleet.
func DefaultSpeeds() SpeedTable {
	return SpeedTable{
		models.ClassBike:     15,
		models.ClassCar:      30,
		models.ClassStandard: 30,
		models.ClassComfort:  30,
		models.ClassPremium:  35,
		models.ClassVan:      25,
	}
}

// SpeedFor never fails; unknown classes fall back to DefaultSpeedKph.
func (t SpeedTable) SpeedFor(class models.VehicleClass) float64 {
	if v, ok := t[class]; ok && v > 0 {
		return v
	}
	return DefaultSpeedKph
}

// ETAMinutes is ceil(distance / speed * 60). Zero distance is zero minutes;
// NaN or infinite distances are treated as zero rather than propagated.
func ETAMinutes(distanceKm float64, class models.VehicleClass, speeds SpeedTable) int {
	if distanceKm <= 0 || math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return 0
	}
	if speeds == nil {
		speeds = DefaultSpeeds()
	}
	return int(math.Ceil(distanceKm / speeds.SpeedFor(class) * 60))
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

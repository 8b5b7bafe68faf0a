package pricing

import (
	"math"

	"github.com/guetchou/bantudelice-tracking/internal/models"
)

// Tariffs in FCFA (XAF), per the Brazzaville operations sheet. These are
// estimates shown at booking time; final billing lives with the payments
// collaborator.
const (
	taxiPerKmXAF   = 500
	taxiMinimumXAF = 1000
)

// deliveryFeeXAF is the flat courier fee by distance band.
func deliveryFeeXAF(distanceKm float64) int64 {
	switch {
	case distanceKm <= 2:
		return 500
	case distanceKm <= 5:
		return 1000
	case distanceKm <= 10:
		return 1500
	case distanceKm <= 15:
		return 2000
	default:
		return 2500
	}
}

// Estimate returns the up-front price estimate for a request. Bike couriers
// are billed on the delivery fee bands; everything else is metered per km
// with a minimum fare. Defensive against NaN/Inf distances.
func Estimate(distanceKm float64, class models.VehicleClass) int64 {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm < 0 {
		distanceKm = 0
	}
	if class == models.ClassBike {
		return deliveryFeeXAF(distanceKm)
	}
	fare := int64(math.Round(distanceKm * taxiPerKmXAF))
	if fare < taxiMinimumXAF {
		return taxiMinimumXAF
	}
	return fare
}

package pricing

import (
	"math"
	"testing"

	"github.com/guetchou/bantudelice-tracking/internal/models"
)

func TestEstimateTaxiPerKm(t *testing.T) {
	if got := Estimate(8, models.ClassStandard); got != 4000 {
		t.Fatalf("8km standard: got %d, want 4000", got)
	}
}

func TestEstimateTaxiMinimumFare(t *testing.T) {
	if got := Estimate(0.5, models.ClassCar); got != 1000 {
		t.Fatalf("short hop should hit the minimum fare, got %d", got)
	}
}

func TestEstimateDeliveryBands(t *testing.T) {
	cases := []struct {
		dist float64
		want int64
	}{
		{1, 500},
		{2, 500},
		{4, 1000},
		{9, 1500},
		{15, 2000},
		{22, 2500},
	}
	for _, tc := range cases {
		if got := Estimate(tc.dist, models.ClassBike); got != tc.want {
			t.Errorf("bike %0.fkm: got %d, want %d", tc.dist, got, tc.want)
		}
	}
}

func TestEstimateDefensiveInputs(t *testing.T) {
	if got := Estimate(math.NaN(), models.ClassCar); got != 1000 {
		t.Fatalf("NaN distance: got %d, want minimum fare", got)
	}
	if got := Estimate(math.Inf(1), models.ClassBike); got != 500 {
		t.Fatalf("Inf distance clamps to zero: got %d, want 500", got)
	}
}

package features

import (
	"math"

	"fraudscore/internal/common"
)

// Haversine returns the great-circle distance in kilometres between two
// points. It returns 0 when any coordinate is nil or NaN.
func Haversine(lat1, lon1, lat2, lon2 *float64) float64 {
	for _, c := range []*float64{lat1, lon1, lat2, lon2} {
		if c == nil || math.IsNaN(*c) {
			return 0
		}
	}
	return haversine(*lat1, *lon1, *lat2, *lon2)
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rLat1 := radians(lat1)
	rLat2 := radians(lat2)
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Pow(math.Sin(dLat/2), 2) + math.Cos(rLat1)*math.Cos(rLat2)*math.Pow(math.Sin(dLon/2), 2)
	// rounding can push a marginally above 1 for antipodal points
	a = math.Min(1, a)
	return 2 * common.EarthRadiusKm * math.Asin(math.Sqrt(a))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

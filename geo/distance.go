package geo

import (
	"math"

	"wuyrush.io/tourist/models"
)

// earthRadius is the mean earth radius in meters
const earthRadius = 6371000.0

// Distance returns the great-circle distance in meters between a and b, using the haversine formula
func Distance(a, b models.Coordinate) float64 {
	phi1 := a.Latitude * math.Pi / 180
	phi2 := b.Latitude * math.Pi / 180
	dPhi := (b.Latitude - a.Latitude) * math.Pi / 180
	dLambda := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// DistanceOrFar returns the distance between a and b if b is known, else models.DistanceFar
func DistanceOrFar(a models.Coordinate, b *models.Coordinate) float64 {
	if b == nil {
		return models.DistanceFar
	}
	return Distance(a, *b)
}

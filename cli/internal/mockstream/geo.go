package mockstream

import "math"

// City is a known location the mock geo API can resolve.
type City struct {
	Name    string
	Country string
	Lat     float64
	Long    float64
}

// Cities are the coordinates generated records use.
var Cities = []City{
	{Name: "Detroit", Country: "United States of America", Lat: 42.3314, Long: -83.0458},
	{Name: "Paris", Country: "France", Lat: 48.858262, Long: 2.294513},
	{Name: "Vilnius", Country: "Lithuania", Lat: 54.6872, Long: 25.2797},
	{Name: "Tallinn", Country: "Estonia", Lat: 59.437, Long: 24.7536},
	{Name: "Riga", Country: "Latvia", Lat: 56.9677, Long: 24.1056},
	{Name: "Berlin", Country: "Germany", Lat: 52.52, Long: 13.405},
	{Name: "Tokyo", Country: "Japan", Lat: 35.6764, Long: 139.65},
	{Name: "London", Country: "United Kingdom", Lat: 51.5072, Long: 0.1276},
}

const earthRadiusKm = 6371.0

// Nearest returns the known city closest to (lat, long) and its distance.
func Nearest(lat, long float64) (City, float64) {
	best := Cities[0]
	bestKm := math.Inf(1)
	for _, c := range Cities {
		if d := haversineKm(lat, long, c.Lat, c.Long); d < bestKm {
			best, bestKm = c, d
		}
	}
	return best, bestKm
}

func haversineKm(lat1, long1, lat2, long2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLong := (long2 - long1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLong/2)*math.Sin(dLong/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

package fraud

import (
	"context"
	"math"
	"time"
)

const (
	earthRadiusKm = 6371.0

	impossibleTravelPoints = 40
	unusualLocationPoints  = 25
)

// LocationLimits configure the location anomaly detector
type LocationLimits struct {
	MaxTravelSpeedKmh float64 `json:"max_travel_speed_kmh"`
	// UnusualRadiusKm is how close a known location has to be for the current one to count as usual
	UnusualRadiusKm float64 `json:"unusual_radius_km"`
	// MinElapsed is the smallest time gap used for speed; anything shorter is instantaneous
	MinElapsed time.Duration `json:"min_elapsed"`
}

func DefaultLocationLimits() LocationLimits {
	return LocationLimits{
		MaxTravelSpeedKmh: 1000,
		UnusualRadiusKm:   50,
		MinElapsed:        time.Second,
	}
}

// HaversineKm returns the great-circle distance between two points in kilometres
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// TravelSpeedKmh returns the speed needed to cover distanceKm in elapsed.
// Elapsed times below minElapsed with a non-zero distance are treated as infinite speed.
func TravelSpeedKmh(distanceKm float64, elapsed, minElapsed time.Duration) float64 {
	if distanceKm <= 0 {
		return 0
	}
	if elapsed < minElapsed {
		return math.Inf(1)
	}
	return distanceKm / elapsed.Hours()
}

// LocationChecker detects impossible travel and locations unusual for the user
type LocationChecker struct {
	limits LocationLimits
}

func NewLocationChecker(limits LocationLimits) *LocationChecker {
	return &LocationChecker{limits: limits}
}

func (c *LocationChecker) Factor() Factor { return FactorLocation }

func (c *LocationChecker) Check(_ context.Context, ac *AnalysisContext) FactorResult {
	loc := ac.EffectiveLocation()
	if loc == nil {
		return Pass(FactorLocation, map[string]any{"skipped": "no_location"})
	}

	detail := map[string]any{"region": loc.Region()}

	if loc.HasCoordinates() {
		if prev := lastLocatedTransaction(ac); prev != nil {
			distance := HaversineKm(*prev.Location.Latitude, *prev.Location.Longitude, *loc.Latitude, *loc.Longitude)
			elapsed := ac.Transaction.Timestamp.Sub(prev.Timestamp)
			speed := TravelSpeedKmh(distance, elapsed, c.limits.MinElapsed)

			detail["distance_km"] = math.Round(distance*100) / 100
			detail["elapsed_seconds"] = elapsed.Seconds()
			if !math.IsInf(speed, 1) {
				detail["speed_kmh"] = math.Round(speed*100) / 100
			} else {
				detail["speed_kmh"] = "infinite"
			}

			if speed > c.limits.MaxTravelSpeedKmh {
				return Violated(FactorLocation, impossibleTravelPoints, []ReasonCode{ReasonImpossibleTravel}, detail)
			}
		}
	}

	usual, hasBaseline := c.isUsual(ac, loc)
	if !hasBaseline {
		detail["skipped"] = "no_location_baseline"
		return Pass(FactorLocation, detail)
	}
	if !usual {
		return Violated(FactorLocation, unusualLocationPoints, []ReasonCode{ReasonUnusualLocation}, detail)
	}
	return Pass(FactorLocation, detail)
}

// lastLocatedTransaction returns the most recent prior transaction that has coordinates
func lastLocatedTransaction(ac *AnalysisContext) *Transaction {
	for i := range ac.RecentTransactions {
		tx := &ac.RecentTransactions[i]
		if tx.Timestamp.After(ac.Transaction.Timestamp) {
			continue
		}
		if tx.Location.HasCoordinates() {
			return tx
		}
	}
	return nil
}

// isUsual compares the location with history and profile locations.
// The second return value is false when neither holds any usable location.
func (c *LocationChecker) isUsual(ac *AnalysisContext, loc *Location) (usual bool, hasBaseline bool) {
	region := loc.Region()

	for _, h := range ac.RecentTransactions {
		if h.Location == nil {
			continue
		}
		if loc.HasCoordinates() && h.Location.HasCoordinates() {
			hasBaseline = true
			if HaversineKm(*h.Location.Latitude, *h.Location.Longitude, *loc.Latitude, *loc.Longitude) <= c.limits.UnusualRadiusKm {
				return true, true
			}
			continue
		}
		if h.Location.Country != "" {
			hasBaseline = true
			if h.Location.Region() == region {
				return true, true
			}
		}
	}

	if ac.Profile != nil {
		for _, tl := range ac.Profile.TypicalLocations {
			if loc.HasCoordinates() && tl.Latitude != nil && tl.Longitude != nil {
				hasBaseline = true
				if HaversineKm(*tl.Latitude, *tl.Longitude, *loc.Latitude, *loc.Longitude) <= c.limits.UnusualRadiusKm {
					return true, true
				}
				continue
			}
			if tl.Region != "" {
				hasBaseline = true
				if tl.Region == region {
					return true, true
				}
			}
		}
	}

	return false, hasBaseline
}

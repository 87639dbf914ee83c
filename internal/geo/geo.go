// Package geo computes great-circle distances and radius-bounded candidate
// lists. Everything here is pure and safe for concurrent use.
package geo

import (
	"math"
	"sort"

	"lifeline/internal/utils"
	"lifeline/pkg/types"
)

const (
	EarthRadiusKm   = 6371.0
	DefaultRadiusKm = 20.0
)

// DistanceKm is the haversine distance between two points. ok is false when
// either point lacks a coordinate or holds a non-finite one.
func DistanceKm(p1, p2 types.Location) (km float64, ok bool) {
	if !finite(p1) || !finite(p2) {
		return 0, false
	}

	lat1 := radians(*p1.Latitude)
	lat2 := radians(*p2.Latitude)
	dLat := lat2 - lat1
	dLng := radians(*p2.Longitude - *p1.Longitude)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// guard against a > 1 from rounding on antipodal points
	a = math.Min(1, math.Max(0, a))

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a)), true
}

// Within reports whether to is at most radiusKm from origin.
func Within(origin, to types.Location, radiusKm float64) bool {
	d, ok := DistanceKm(origin, to)
	return ok && d <= radiusKm
}

// FindCandidates filters pool to matchable donors of bloodType within
// radiusKm of origin, nearest first. Ties on distance order by donor id.
// A radius <= 0 means DefaultRadiusKm.
func FindCandidates(origin types.Location, bloodType types.BloodType, pool []*types.DonorProfile, radiusKm float64) []types.Candidate {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}

	type scored struct {
		donor *types.DonorProfile
		km    float64
	}

	hits := make([]scored, 0, len(pool))
	for _, donor := range pool {
		if donor == nil || !donor.IsMatchable() || donor.BloodType != bloodType {
			continue
		}

		km, ok := DistanceKm(origin, donor.Location)
		if !ok || km > radiusKm {
			continue
		}

		hits = append(hits, scored{donor: donor, km: km})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].km != hits[j].km {
			return hits[i].km < hits[j].km
		}
		return hits[i].donor.ID < hits[j].donor.ID
	})

	out := make([]types.Candidate, len(hits))
	for i, h := range hits {
		out[i] = types.Candidate{Donor: h.donor, DistanceKm: utils.RoundFloat64(h.km, 1)}
	}

	return out
}

func finite(p types.Location) bool {
	if !p.IsSet() {
		return false
	}
	for _, v := range []float64{*p.Latitude, *p.Longitude} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

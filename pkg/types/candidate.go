package types

// Candidate is one entry of a candidate list: a matchable donor and its
// distance from the request origin, rounded to one decimal place.
type Candidate struct {
	Donor      *DonorProfile `json:"donor"`
	DistanceKm float64       `json:"distanceKm"`
}

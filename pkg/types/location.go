package types

import "math"

// Location is a point in decimal degrees. Either coordinate may be nil until
// the owner sets it.
type Location struct {
	Latitude  *float64 `db:"location_lat" json:"latitude"`
	Longitude *float64 `db:"location_lng" json:"longitude"`
}

func NewLocation(lat, lng float64) Location {
	return Location{Latitude: &lat, Longitude: &lng}
}

func (l Location) IsSet() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// IsOmitted reports whether neither coordinate was supplied.
func (l Location) IsOmitted() bool {
	return l.Latitude == nil && l.Longitude == nil
}

// Validate adds field errors for a partially set or out of range location.
// An omitted location is valid.
func (l Location) Validate(verr *ValidationError) {
	if l.IsOmitted() {
		return
	}

	if l.Latitude == nil {
		verr.Add("latitude", "latitude is required when longitude is set")
	} else if lat := *l.Latitude; math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		verr.Add("latitude", "latitude must be a finite value between -90 and 90")
	}

	if l.Longitude == nil {
		verr.Add("longitude", "longitude is required when latitude is set")
	} else if lng := *l.Longitude; math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		verr.Add("longitude", "longitude must be a finite value between -180 and 180")
	}
}

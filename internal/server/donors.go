package server

import (
	"net/http"

	"lifeline/pkg/types"

	"github.com/alexedwards/flow"
)

type listDonorsQuery struct {
	Status string `form:"status"`
}

type nearbyDonorsQuery struct {
	BloodType   string   `form:"bloodType"`
	Latitude    *float64 `form:"latitude"`
	Longitude   *float64 `form:"longitude"`
	RadiusKm    float64  `form:"radiusKm"`
	MaxDistance float64  `form:"maxDistance"`
}

type nearbyDonorsResponse struct {
	RadiusKm   float64           `json:"radiusKm"`
	Candidates []types.Candidate `json:"candidates"`
}

type admissionBody struct {
	Status types.AdmissionStatus `json:"status"`
}

type availabilityResponse struct {
	DonorID   string `json:"donorId"`
	Available bool   `json:"available"`
}

func (s *Service) handlePostDonor(w http.ResponseWriter, r *http.Request) {
	var body types.DonorApplication
	if !s.decodeJSON(w, r, &body) {
		return
	}

	donor, err := s.registry.Apply(r.Context(), principalFromContext(r.Context()), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, donor)
}

func (s *Service) handleListDonors(w http.ResponseWriter, r *http.Request) {
	var query listDonorsQuery
	if !s.decodeQuery(w, r, &query) {
		return
	}
	if query.Status == "" {
		query.Status = string(types.AdmissionPending)
	}

	ctx := r.Context()
	donors, err := s.registry.DonorsByStatus(ctx, principalFromContext(ctx), types.AdmissionStatus(query.Status))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, donors)
}

func (s *Service) handleGetMyDonor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	donor, err := s.registry.MyDonor(ctx, principalFromContext(ctx))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, donor)
}

func (s *Service) handleGetNearbyDonors(w http.ResponseWriter, r *http.Request) {
	var query nearbyDonorsQuery
	if !s.decodeQuery(w, r, &query) {
		return
	}

	radius := query.RadiusKm
	if radius == 0 {
		radius = query.MaxDistance
	}
	if radius == 0 {
		radius = s.registry.RadiusKm()
	}

	ctx := r.Context()
	origin := types.Location{Latitude: query.Latitude, Longitude: query.Longitude}
	candidates, err := s.registry.Nearby(ctx, principalFromContext(ctx), query.BloodType, origin, radius)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, nearbyDonorsResponse{
		RadiusKm:   radius,
		Candidates: candidates,
	})
}

func (s *Service) handleGetDonor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	donor, err := s.registry.Donor(ctx, principalFromContext(ctx), flow.Param(ctx, "donorID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, donor)
}

func (s *Service) handlePostDonorAdmission(w http.ResponseWriter, r *http.Request) {
	var body admissionBody
	if !s.decodeJSON(w, r, &body) {
		return
	}

	ctx := r.Context()
	donor, err := s.registry.SetAdmissionStatus(ctx, principalFromContext(ctx), flow.Param(ctx, "donorID"), body.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, donor)
}

func (s *Service) handlePostDonorAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donorID := flow.Param(ctx, "donorID")

	available, err := s.registry.ToggleAvailability(ctx, principalFromContext(ctx), donorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, availabilityResponse{DonorID: donorID, Available: available})
}

func (s *Service) handlePutDonorLocation(w http.ResponseWriter, r *http.Request) {
	var body types.Location
	if !s.decodeJSON(w, r, &body) {
		return
	}

	ctx := r.Context()
	donor, err := s.registry.UpdateLocation(ctx, principalFromContext(ctx), flow.Param(ctx, "donorID"), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, donor)
}

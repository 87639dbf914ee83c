// Package registry is the source of truth for which donors exist and whether
// they can be matched right now.
package registry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"lifeline/internal/geo"
	"lifeline/internal/metrics"
	"lifeline/internal/notify"
	"lifeline/pkg/types"

	"github.com/sirupsen/logrus"
)

const (
	MinDonorAge      = 18
	MaxDonorAge      = 65
	MinDonorWeightKg = 45
)

type DonorStore interface {
	Donor(ctx context.Context, donorID string) (*types.DonorProfile, error)
	DonorByUserID(ctx context.Context, userID string) (*types.DonorProfile, error)
	DonorsByStatus(ctx context.Context, status types.AdmissionStatus) ([]*types.DonorProfile, error)
	MatchableDonors(ctx context.Context, bloodType types.BloodType) ([]*types.DonorProfile, error)
	CreateDonor(ctx context.Context, donor *types.DonorProfile) error
	DecideAdmission(ctx context.Context, donorID string, status types.AdmissionStatus, actorID string, at time.Time) (*types.DonorProfile, bool, error)
	ToggleAvailability(ctx context.Context, donorID string, at time.Time) (*types.DonorProfile, error)
	UpdateDonorLocation(ctx context.Context, donorID string, loc types.Location, at time.Time) (*types.DonorProfile, error)
}

type Service struct {
	donors     DonorStore
	dispatcher notify.Dispatcher
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	radiusKm   float64
	now        func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *logrus.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRadius sets the default search radius for Nearby. Non-positive values
// are ignored.
func WithRadius(km float64) Option {
	return func(s *Service) {
		if km > 0 {
			s.radiusKm = km
		}
	}
}

func New(donors DonorStore, dispatcher notify.Dispatcher, opts ...Option) *Service {
	if dispatcher == nil {
		dispatcher = notify.Discard
	}

	s := &Service{
		donors:     donors,
		dispatcher: dispatcher,
		logger:     logrus.StandardLogger(),
		radiusKm:   geo.DefaultRadiusKm,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply creates a pending donor profile for the caller. A user may hold at most
// one profile.
func (s *Service) Apply(ctx context.Context, principal types.Principal, app types.DonorApplication) (*types.DonorProfile, error) {
	if principal.UserID == "" {
		return nil, types.ErrUnauthorized
	}

	now := s.now()
	bloodType, err := s.validateApplication(&app, now)
	if err != nil {
		return nil, err
	}

	donor := &types.DonorProfile{
		UserID:           principal.UserID,
		FullName:         strings.TrimSpace(app.FullName),
		ContactNumber:    strings.TrimSpace(app.ContactNumber),
		BloodType:        bloodType,
		DateOfBirth:      app.DateOfBirth,
		Age:              app.Age,
		WeightKg:         app.WeightKg,
		Location:         app.Location,
		Status:           types.AdmissionPending,
		Available:        true,
		LastDonationDate: app.LastDonationDate,
	}

	if err := s.donors.CreateDonor(ctx, donor); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"donor_id":   donor.ID,
		"user_id":    donor.UserID,
		"blood_type": donor.BloodType,
	}).Info("donor application received")

	donor.FillDonationGap(now)
	return donor, nil
}

// validateApplication fills Age from DateOfBirth when it was not supplied.
func (s *Service) validateApplication(app *types.DonorApplication, now time.Time) (types.BloodType, error) {
	verr := types.NewValidationError()

	if strings.TrimSpace(app.FullName) == "" {
		verr.Add("fullName", "full name is required")
	}
	if strings.TrimSpace(app.ContactNumber) == "" {
		verr.Add("contactNumber", "contact number is required")
	}

	bloodType, err := types.ParseBloodType(app.BloodType)
	if err != nil {
		verr.Add("bloodType", err.Error())
	}

	if app.DateOfBirth.IsZero() {
		verr.Add("dateOfBirth", "date of birth is required")
	} else if app.DateOfBirth.After(now) {
		verr.Add("dateOfBirth", "date of birth cannot be in the future")
	} else if app.Age == 0 {
		app.Age = ageAt(app.DateOfBirth, now)
	}

	if app.Age < MinDonorAge || app.Age > MaxDonorAge {
		verr.Add("age", fmt.Sprintf("donors must be between %d and %d years old", MinDonorAge, MaxDonorAge))
	}
	if app.WeightKg < MinDonorWeightKg {
		verr.Add("weightKg", fmt.Sprintf("donors must weigh at least %d kg", MinDonorWeightKg))
	}
	if app.LastDonationDate != nil && app.LastDonationDate.After(now) {
		verr.Add("lastDonationDate", "last donation date cannot be in the future")
	}

	app.Location.Validate(verr)

	return bloodType, verr.OrNil()
}

func ageAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

// SetAdmissionStatus records an approval authority's decision. Decisions are
// final: a donor that is no longer pending cannot be decided again.
func (s *Service) SetAdmissionStatus(ctx context.Context, principal types.Principal, donorID string, status types.AdmissionStatus) (*types.DonorProfile, error) {
	if !principal.IsAdmin() {
		return nil, types.ErrUnauthorized
	}
	if !status.IsDecision() {
		verr := types.NewValidationError()
		verr.Add("status", "status must be approved or rejected")
		return nil, verr
	}

	donor, err := s.donors.Donor(ctx, donorID)
	if err != nil {
		return nil, err
	}
	if donor.Status != types.AdmissionPending {
		return nil, fmt.Errorf("donor %s is already %s: %w", donorID, donor.Status, types.ErrInvalidTransition)
	}

	now := s.now()
	updated, ok, err := s.donors.DecideAdmission(ctx, donorID, status, principal.UserID, now)
	if err != nil {
		s.logger.WithError(err).WithField("donor_id", donorID).Error("failed to record admission decision")
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("donor %s was decided concurrently: %w", donorID, types.ErrInvalidTransition)
	}

	s.metrics.IncrementAdmission(string(status))
	s.logger.WithFields(logrus.Fields{
		"donor_id": donorID,
		"status":   status,
		"actor_id": principal.UserID,
	}).Info("donor admission decided")

	intent := types.NotificationIntent{
		RecipientUserID: updated.UserID,
		Message:         "Your donor application has been approved. You can now be matched with blood requests.",
		Category:        types.NotificationDonorApproved,
	}
	if status == types.AdmissionRejected {
		intent.Message = "Your donor application has been rejected."
		intent.Category = types.NotificationDonorRejected
	}
	s.dispatcher.Dispatch(ctx, intent)

	updated.FillDonationGap(now)
	return updated, nil
}

// ToggleAvailability flips the donor's availability and returns the new value.
// Admission status is untouched.
func (s *Service) ToggleAvailability(ctx context.Context, principal types.Principal, donorID string) (bool, error) {
	if _, err := s.ownedDonor(ctx, principal, donorID); err != nil {
		return false, err
	}

	updated, err := s.donors.ToggleAvailability(ctx, donorID, s.now())
	if err != nil {
		return false, err
	}

	s.logger.WithFields(logrus.Fields{
		"donor_id":  donorID,
		"available": updated.Available,
	}).Debug("donor availability toggled")

	return updated.Available, nil
}

func (s *Service) UpdateLocation(ctx context.Context, principal types.Principal, donorID string, loc types.Location) (*types.DonorProfile, error) {
	verr := types.NewValidationError()
	if loc.IsOmitted() {
		verr.Add("location", "latitude and longitude are required")
	}
	loc.Validate(verr)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if _, err := s.ownedDonor(ctx, principal, donorID); err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.donors.UpdateDonorLocation(ctx, donorID, loc, now)
	if err != nil {
		return nil, err
	}

	updated.FillDonationGap(now)
	return updated, nil
}

func (s *Service) ownedDonor(ctx context.Context, principal types.Principal, donorID string) (*types.DonorProfile, error) {
	donor, err := s.donors.Donor(ctx, donorID)
	if err != nil {
		return nil, err
	}
	if principal.UserID == "" || donor.UserID != principal.UserID {
		return nil, types.ErrUnauthorized
	}
	return donor, nil
}

// ListMatchable returns the current matchable donors of one blood type. The
// result is a snapshot for candidate search.
func (s *Service) ListMatchable(ctx context.Context, bloodType types.BloodType) ([]*types.DonorProfile, error) {
	if !bloodType.Valid() {
		verr := types.NewValidationError()
		verr.Add("bloodType", fmt.Sprintf("unknown blood type %q", bloodType))
		return nil, verr
	}
	return s.donors.MatchableDonors(ctx, bloodType)
}

// RadiusKm is the default Nearby search radius.
func (s *Service) RadiusKm() float64 {
	return s.radiusKm
}

// Nearby lists matchable donors of one blood type around an arbitrary point,
// nearest first. It is an admin tool for finding donors outside any request.
// A radius of zero uses the service default.
func (s *Service) Nearby(ctx context.Context, principal types.Principal, bloodType string, origin types.Location, radiusKm float64) ([]types.Candidate, error) {
	if !principal.IsAdmin() {
		return nil, types.ErrUnauthorized
	}

	verr := types.NewValidationError()
	bt, err := types.ParseBloodType(bloodType)
	if err != nil {
		verr.Add("bloodType", err.Error())
	}
	if origin.IsOmitted() {
		verr.Add("latitude", "latitude is required")
		verr.Add("longitude", "longitude is required")
	}
	origin.Validate(verr)
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm < 0 {
		verr.Add("radiusKm", "radius must be a positive number of kilometres")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if radiusKm == 0 {
		radiusKm = s.radiusKm
	}

	pool, err := s.ListMatchable(ctx, bt)
	if err != nil {
		return nil, err
	}

	return geo.FindCandidates(origin, bt, pool, radiusKm), nil
}

func (s *Service) MyDonor(ctx context.Context, principal types.Principal) (*types.DonorProfile, error) {
	if principal.UserID == "" {
		return nil, types.ErrUnauthorized
	}

	donor, err := s.donors.DonorByUserID(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}

	donor.FillDonationGap(s.now())
	return donor, nil
}

// Donor returns a profile to its owner or an admin.
func (s *Service) Donor(ctx context.Context, principal types.Principal, donorID string) (*types.DonorProfile, error) {
	donor, err := s.donors.Donor(ctx, donorID)
	if err != nil {
		return nil, err
	}
	if !principal.IsAdmin() && (principal.UserID == "" || donor.UserID != principal.UserID) {
		return nil, types.ErrUnauthorized
	}

	donor.FillDonationGap(s.now())
	return donor, nil
}

func (s *Service) DonorsByStatus(ctx context.Context, principal types.Principal, status types.AdmissionStatus) ([]*types.DonorProfile, error) {
	if !principal.IsAdmin() {
		return nil, types.ErrUnauthorized
	}
	if !status.Valid() {
		verr := types.NewValidationError()
		verr.Add("status", "status must be pending, approved or rejected")
		return nil, verr
	}

	donors, err := s.donors.DonorsByStatus(ctx, status)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, d := range donors {
		d.FillDonationGap(now)
	}
	return donors, nil
}

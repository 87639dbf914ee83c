// Package match binds donors to approved blood requests.
//
// A claim is decided by one conditional write in the store: the request is
// moved to matched only if it is still approved and has no donor. Application
// code never reads selected_donor_id and then writes it, so two concurrent
// claims cannot both succeed.
package match

import (
	"context"
	"fmt"
	"math"
	"time"

	"lifeline/internal/geo"
	"lifeline/internal/metrics"
	"lifeline/internal/notify"
	"lifeline/pkg/types"

	"github.com/sirupsen/logrus"
)

type RequestStore interface {
	Request(ctx context.Context, requestID string) (*types.BloodRequest, error)
	ClaimDonor(ctx context.Context, requestID, donorID string, at time.Time) (*types.BloodRequest, bool, error)
}

type DonorStore interface {
	Donor(ctx context.Context, donorID string) (*types.DonorProfile, error)
	MatchableDonors(ctx context.Context, bloodType types.BloodType) ([]*types.DonorProfile, error)
}

type Coordinator struct {
	requests   RequestStore
	donors     DonorStore
	dispatcher notify.Dispatcher
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	radiusKm   float64
	now        func() time.Time
}

type Option func(c *Coordinator)

func WithLogger(logger *logrus.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithRadius sets the default search and claim radius in kilometres.
func WithRadius(km float64) Option {
	return func(c *Coordinator) {
		if km > 0 {
			c.radiusKm = km
		}
	}
}

func New(requests RequestStore, donors DonorStore, dispatcher notify.Dispatcher, opts ...Option) *Coordinator {
	if dispatcher == nil {
		dispatcher = notify.Discard
	}

	c := &Coordinator{
		requests:   requests,
		donors:     donors,
		dispatcher: dispatcher,
		logger:     logrus.StandardLogger(),
		radiusKm:   geo.DefaultRadiusKm,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) RadiusKm() float64 {
	return c.radiusKm
}

// Claim binds donorID to requestID. The caller must be the donor's user, the
// request owner, or an admin. Losing to another claim returns an error
// matching types.ErrConflict and leaves the request untouched.
func (c *Coordinator) Claim(ctx context.Context, principal types.Principal, requestID, donorID string) (*types.BloodRequest, error) {
	request, err := c.requests.Request(ctx, requestID)
	if err != nil {
		return nil, err
	}

	donor, err := c.donors.Donor(ctx, donorID)
	if err != nil {
		return nil, err
	}

	if !principal.IsAdmin() && (principal.UserID == "" || (principal.UserID != donor.UserID && principal.UserID != request.UserID)) {
		c.metrics.IncrementClaim(metrics.ClaimRejected)
		return nil, types.ErrUnauthorized
	}

	if err := c.checkEligible(request, donor); err != nil {
		c.metrics.IncrementClaim(metrics.ClaimIneligible)
		return nil, err
	}

	log := c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"donor_id":   donorID,
		"actor_id":   principal.UserID,
	})

	matched, ok, err := c.requests.ClaimDonor(ctx, requestID, donorID, c.now())
	if err != nil {
		log.WithError(err).Error("failed to claim donor")
		return nil, err
	}
	if !ok {
		c.metrics.IncrementClaim(metrics.ClaimLost)
		log.Info("claim lost, request already has a donor")
		return nil, types.ErrRequestClaimed
	}

	c.metrics.IncrementClaim(metrics.ClaimWon)
	c.metrics.IncrementTransition(string(types.RequestStatusApproved), string(types.RequestStatusMatched))
	log.Info("donor matched to blood request")

	c.dispatcher.Dispatch(ctx, types.NotificationIntent{
		RecipientUserID: donor.UserID,
		Message: fmt.Sprintf("You have been selected as a donor for %s (%s). Please contact %s.",
			matched.PatientName, matched.BloodType, matched.ContactNumber),
		Category: types.NotificationDonorSelected,
	})
	c.dispatcher.Dispatch(ctx, types.NotificationIntent{
		RecipientUserID: matched.UserID,
		Message: fmt.Sprintf("%s has accepted your blood request for %s. Contact the donor at %s.",
			donor.FullName, matched.PatientName, donor.ContactNumber),
		Category: types.NotificationRequestAccepted,
	})

	return matched, nil
}

// checkEligible runs the non-racing preconditions. A request that already has
// a donor reports a conflict; any other non-approved status is an invalid
// transition.
func (c *Coordinator) checkEligible(request *types.BloodRequest, donor *types.DonorProfile) error {
	switch {
	case request.Status.HasDonor():
		return types.ErrRequestClaimed
	case request.Status != types.RequestStatusApproved:
		return fmt.Errorf("request %s is %s: %w", request.ID, request.Status, types.ErrInvalidTransition)
	}

	if donor.UserID == request.UserID {
		return types.ErrSelfMatch
	}
	if !donor.IsMatchable() {
		return types.ErrDonorNotMatchable
	}
	if donor.BloodType != request.BloodType {
		return types.ErrDonorIneligible
	}
	if request.Location.IsSet() && !geo.Within(request.Location, donor.Location, c.radiusKm) {
		return types.ErrDonorIneligible
	}

	return nil
}

// Candidates lists matchable donors of the request's blood type within
// radiusKm of the request, nearest first. A radius of zero uses the claim
// radius; a larger one is rejected, so every listed donor passes the radius
// check in Claim.
func (c *Coordinator) Candidates(ctx context.Context, principal types.Principal, requestID string, radiusKm float64) ([]types.Candidate, error) {
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm < 0 {
		verr := types.NewValidationError()
		verr.Add("radiusKm", "radius must be a positive number of kilometres")
		return nil, verr
	}
	if radiusKm > c.radiusKm {
		verr := types.NewValidationError()
		verr.Add("radiusKm", fmt.Sprintf("radius must be at most %g km", c.radiusKm))
		return nil, verr
	}
	if radiusKm == 0 {
		radiusKm = c.radiusKm
	}

	request, err := c.requests.Request(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !principal.IsAdmin() && (principal.UserID == "" || principal.UserID != request.UserID) {
		return nil, types.ErrUnauthorized
	}
	if request.Status != types.RequestStatusApproved {
		return nil, fmt.Errorf("request %s is %s: %w", request.ID, request.Status, types.ErrInvalidTransition)
	}
	if !request.Location.IsSet() {
		return nil, types.ErrLocationRequired
	}

	pool, err := c.donors.MatchableDonors(ctx, request.BloodType)
	if err != nil {
		return nil, err
	}

	// a requester who is also a donor is never their own candidate
	eligible := pool[:0]
	for _, d := range pool {
		if d.UserID != request.UserID {
			eligible = append(eligible, d)
		}
	}

	candidates := geo.FindCandidates(request.Location, request.BloodType, eligible, radiusKm)
	c.metrics.ObserveCandidates(len(candidates))

	c.logger.WithFields(logrus.Fields{
		"request_id": request.ID,
		"radius_km":  radiusKm,
		"pool":       len(pool),
		"candidates": len(candidates),
	}).Debug("candidate search")

	return candidates, nil
}

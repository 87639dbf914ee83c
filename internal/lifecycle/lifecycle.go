// Package lifecycle owns the blood request state machine:
//
//	pending -> approved | rejected | cancelled
//	approved -> matched | cancelled
//	matched -> completed
//
// The move to matched belongs to package match; everything else is here.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lifeline/internal/metrics"
	"lifeline/internal/notify"
	"lifeline/pkg/types"

	"github.com/sirupsen/logrus"
)

type RequestStore interface {
	Request(ctx context.Context, requestID string) (*types.BloodRequest, error)
	RequestsByUser(ctx context.Context, userID string) ([]*types.BloodRequest, error)
	RequestsByStatus(ctx context.Context, status types.RequestStatus) ([]*types.BloodRequest, error)
	CreateRequest(ctx context.Context, request *types.BloodRequest) error
	TransitionRequest(ctx context.Context, t types.RequestTransition) (*types.BloodRequest, bool, error)
}

type DonorReader interface {
	Donor(ctx context.Context, donorID string) (*types.DonorProfile, error)
}

type Service struct {
	requests   RequestStore
	donors     DonorReader
	documents  DocumentStore
	objects    ObjectStore
	dispatcher notify.Dispatcher
	logger     *logrus.Logger
	metrics    *metrics.Metrics
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

// WithDocuments enables prescription attachments.
func WithDocuments(documents DocumentStore, objects ObjectStore) Option {
	return func(s *Service) {
		s.documents = documents
		s.objects = objects
	}
}

func New(requests RequestStore, donors DonorReader, dispatcher notify.Dispatcher, opts ...Option) *Service {
	if dispatcher == nil {
		dispatcher = notify.Discard
	}

	s := &Service{
		requests:   requests,
		donors:     donors,
		dispatcher: dispatcher,
		logger:     logrus.StandardLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the submission and stores a new pending request owned by
// the caller. Nothing is written when validation fails.
func (s *Service) Submit(ctx context.Context, principal types.Principal, sub types.RequestSubmission) (*types.BloodRequest, error) {
	if principal.UserID == "" {
		return nil, types.ErrUnauthorized
	}

	verr := types.NewValidationError()

	if strings.TrimSpace(sub.PatientName) == "" {
		verr.Add("patientName", "patient name is required")
	}
	if strings.TrimSpace(sub.ContactNumber) == "" {
		verr.Add("contactNumber", "contact number is required")
	}

	bloodType, err := types.ParseBloodType(sub.BloodType)
	if err != nil {
		verr.Add("bloodType", err.Error())
	}

	if strings.TrimSpace(sub.Reason) == "" {
		verr.Add("reason", "reason is required")
	}

	sub.Location.Validate(verr)

	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	request := &types.BloodRequest{
		UserID:        principal.UserID,
		PatientName:   strings.TrimSpace(sub.PatientName),
		ContactNumber: strings.TrimSpace(sub.ContactNumber),
		BloodType:     bloodType,
		Location:      sub.Location,
		Reason:        strings.TrimSpace(sub.Reason),
		Status:        types.RequestStatusPending,
	}

	if err := s.requests.CreateRequest(ctx, request); err != nil {
		s.logger.WithError(err).WithField("user_id", principal.UserID).Error("failed to create blood request")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": request.ID,
		"user_id":    request.UserID,
		"blood_type": request.BloodType,
	}).Info("blood request submitted")

	return request, nil
}

// Decide approves or rejects a pending request.
func (s *Service) Decide(ctx context.Context, principal types.Principal, requestID string, decision types.RequestStatus) (*types.BloodRequest, error) {
	if !principal.IsAdmin() {
		return nil, types.ErrUnauthorized
	}
	if decision != types.RequestStatusApproved && decision != types.RequestStatusRejected {
		verr := types.NewValidationError()
		verr.Add("decision", "decision must be approved or rejected")
		return nil, verr
	}

	request, err := s.requests.Request(ctx, requestID)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, request, []types.RequestStatus{types.RequestStatusPending}, decision, principal.UserID)
	if err != nil {
		return nil, err
	}

	intent := types.NotificationIntent{
		RecipientUserID: updated.UserID,
		Message:         fmt.Sprintf("Your blood request for %s (%s) has been approved. We are looking for nearby donors.", updated.PatientName, updated.BloodType),
		Category:        types.NotificationRequestApproved,
	}
	if decision == types.RequestStatusRejected {
		intent.Message = fmt.Sprintf("Your blood request for %s (%s) has been rejected.", updated.PatientName, updated.BloodType)
		intent.Category = types.NotificationRequestRejected
	}
	s.dispatcher.Dispatch(ctx, intent)

	return updated, nil
}

// Cancel withdraws a request before any donor is bound. Only the owner may
// cancel.
func (s *Service) Cancel(ctx context.Context, principal types.Principal, requestID string) (*types.BloodRequest, error) {
	request, err := s.requests.Request(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if principal.UserID == "" || request.UserID != principal.UserID {
		return nil, types.ErrUnauthorized
	}
	if request.SelectedDonorID != nil {
		return nil, fmt.Errorf("request %s already has a donor: %w", requestID, types.ErrInvalidTransition)
	}

	return s.transition(ctx, request,
		[]types.RequestStatus{types.RequestStatusPending, types.RequestStatusApproved},
		types.RequestStatusCancelled, principal.UserID)
}

// Complete closes a matched request. Either the requester or the matched
// donor's user may complete it; both are notified.
func (s *Service) Complete(ctx context.Context, principal types.Principal, requestID string) (*types.BloodRequest, error) {
	request, err := s.requests.Request(ctx, requestID)
	if err != nil {
		return nil, err
	}

	donor, err := s.selectedDonor(ctx, request)
	if err != nil {
		return nil, err
	}

	isRequester := principal.UserID != "" && principal.UserID == request.UserID
	isDonor := donor != nil && principal.UserID != "" && principal.UserID == donor.UserID
	if !isRequester && !isDonor {
		return nil, types.ErrUnauthorized
	}

	updated, err := s.transition(ctx, request, []types.RequestStatus{types.RequestStatusMatched}, types.RequestStatusCompleted, principal.UserID)
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("The blood donation for %s has been marked as completed.", updated.PatientName)
	s.dispatcher.Dispatch(ctx, types.NotificationIntent{
		RecipientUserID: updated.UserID,
		Message:         message,
		Category:        types.NotificationDonationCompleted,
	})
	if donor != nil {
		s.dispatcher.Dispatch(ctx, types.NotificationIntent{
			RecipientUserID: donor.UserID,
			Message:         message + " Thank you for donating.",
			Category:        types.NotificationDonationCompleted,
		})
	}

	return updated, nil
}

// transition checks the state machine, then applies the change as a
// conditional write so a concurrent change is reported rather than
// overwritten.
func (s *Service) transition(ctx context.Context, request *types.BloodRequest, from []types.RequestStatus, to types.RequestStatus, actorID string) (*types.BloodRequest, error) {
	if !request.Status.CanTransitionTo(to) || !statusIn(request.Status, from) {
		return nil, fmt.Errorf("request %s cannot move from %s to %s: %w", request.ID, request.Status, to, types.ErrInvalidTransition)
	}

	updated, ok, err := s.requests.TransitionRequest(ctx, types.RequestTransition{
		RequestID: request.ID,
		From:      from,
		To:        to,
		ActorID:   actorID,
		At:        s.now(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("request_id", request.ID).Error("failed to transition blood request")
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("request %s changed before it could move to %s: %w", request.ID, to, types.ErrInvalidTransition)
	}

	s.metrics.IncrementTransition(string(request.Status), string(to))
	s.logger.WithFields(logrus.Fields{
		"request_id": request.ID,
		"from":       request.Status,
		"to":         to,
		"actor_id":   actorID,
	}).Info("blood request transitioned")

	return updated, nil
}

func statusIn(s types.RequestStatus, set []types.RequestStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Service) selectedDonor(ctx context.Context, request *types.BloodRequest) (*types.DonorProfile, error) {
	if request.SelectedDonorID == nil {
		return nil, nil
	}

	donor, err := s.donors.Donor(ctx, *request.SelectedDonorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load selected donor for request %s: %w", request.ID, err)
	}
	return donor, nil
}

// Get returns a request to its owner, its matched donor, or an admin.
func (s *Service) Get(ctx context.Context, principal types.Principal, requestID string) (*types.BloodRequest, error) {
	request, err := s.requests.Request(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, principal, request); err != nil {
		return nil, err
	}
	return request, nil
}

func (s *Service) authorizeRead(ctx context.Context, principal types.Principal, request *types.BloodRequest) error {
	if principal.IsAdmin() || (principal.UserID != "" && principal.UserID == request.UserID) {
		return nil
	}

	donor, err := s.selectedDonor(ctx, request)
	if err != nil {
		return err
	}
	if donor != nil && principal.UserID != "" && donor.UserID == principal.UserID {
		return nil
	}

	return types.ErrUnauthorized
}

func (s *Service) MyRequests(ctx context.Context, principal types.Principal) ([]*types.BloodRequest, error) {
	if principal.UserID == "" {
		return nil, types.ErrUnauthorized
	}
	return s.requests.RequestsByUser(ctx, principal.UserID)
}

func (s *Service) RequestsByStatus(ctx context.Context, principal types.Principal, status types.RequestStatus) ([]*types.BloodRequest, error) {
	if !principal.IsAdmin() {
		return nil, types.ErrUnauthorized
	}
	if !status.Valid() {
		verr := types.NewValidationError()
		verr.Add("status", fmt.Sprintf("unknown request status %q", status))
		return nil, verr
	}
	return s.requests.RequestsByStatus(ctx, status)
}

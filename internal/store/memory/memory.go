// Package memory is an in-process implementation of the repositories in
// package store. Conditional writes run under a single mutex, which gives them
// the same all-or-nothing behaviour as the SQL statements.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"lifeline/internal/utils"
	"lifeline/pkg/types"
)

type Store struct {
	mu            sync.RWMutex
	donors        map[string]*types.DonorProfile
	donorByUser   map[string]string
	requests      map[string]*types.BloodRequest
	notifications map[string]*types.Notification
	documents     map[string]*types.RequestDocument
}

func New() *Store {
	return &Store{
		donors:        make(map[string]*types.DonorProfile),
		donorByUser:   make(map[string]string),
		requests:      make(map[string]*types.BloodRequest),
		notifications: make(map[string]*types.Notification),
		documents:     make(map[string]*types.RequestDocument),
	}
}

// Donors

func (s *Store) Donor(_ context.Context, donorID string) (*types.DonorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	donor, ok := s.donors[donorID]
	if !ok {
		return nil, types.ErrDonorNotFound
	}
	return cloneDonor(donor), nil
}

func (s *Store) DonorByUserID(_ context.Context, userID string) (*types.DonorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.donorByUser[userID]
	if !ok {
		return nil, types.ErrDonorNotFound
	}
	return cloneDonor(s.donors[id]), nil
}

func (s *Store) DonorsByStatus(_ context.Context, status types.AdmissionStatus) ([]*types.DonorProfile, error) {
	return s.filterDonors(func(d *types.DonorProfile) bool { return d.Status == status }, true), nil
}

func (s *Store) MatchableDonors(_ context.Context, bloodType types.BloodType) ([]*types.DonorProfile, error) {
	return s.filterDonors(func(d *types.DonorProfile) bool {
		return d.BloodType == bloodType && d.IsMatchable()
	}, false), nil
}

func (s *Store) filterDonors(keep func(*types.DonorProfile) bool, newestFirst bool) []*types.DonorProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.DonorProfile, 0)
	for _, d := range s.donors {
		if keep(d) {
			out = append(out, cloneDonor(d))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if newestFirst && !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out
}

func (s *Store) CreateDonor(_ context.Context, donor *types.DonorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.donorByUser[donor.UserID]; exists {
		return types.ErrDonorExists
	}

	now := time.Now()
	if donor.ID == "" {
		donor.ID = utils.PrefixedID("dnr")
	}
	donor.CreatedAt = now
	donor.UpdatedAt = now

	s.donors[donor.ID] = cloneDonor(donor)
	s.donorByUser[donor.UserID] = donor.ID
	return nil
}

func (s *Store) DecideAdmission(_ context.Context, donorID string, status types.AdmissionStatus, actorID string, at time.Time) (*types.DonorProfile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	donor, ok := s.donors[donorID]
	if !ok || donor.Status != types.AdmissionPending {
		return nil, false, nil
	}

	donor.Status = status
	donor.DecidedBy = utils.StringPtr(actorID)
	donor.DecidedAt = utils.TimePtr(at)
	donor.UpdatedAt = at
	return cloneDonor(donor), true, nil
}

func (s *Store) ToggleAvailability(_ context.Context, donorID string, at time.Time) (*types.DonorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	donor, ok := s.donors[donorID]
	if !ok {
		return nil, types.ErrDonorNotFound
	}

	donor.Available = !donor.Available
	donor.UpdatedAt = at
	return cloneDonor(donor), nil
}

func (s *Store) UpdateDonorLocation(_ context.Context, donorID string, loc types.Location, at time.Time) (*types.DonorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	donor, ok := s.donors[donorID]
	if !ok {
		return nil, types.ErrDonorNotFound
	}

	donor.Location = cloneLocation(loc)
	donor.UpdatedAt = at
	return cloneDonor(donor), nil
}

// Requests

func (s *Store) Request(_ context.Context, requestID string) (*types.BloodRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	request, ok := s.requests[requestID]
	if !ok {
		return nil, types.ErrRequestNotFound
	}
	return cloneRequest(request), nil
}

func (s *Store) RequestsByUser(_ context.Context, userID string) ([]*types.BloodRequest, error) {
	return s.filterRequests(func(r *types.BloodRequest) bool { return r.UserID == userID }), nil
}

func (s *Store) RequestsByStatus(_ context.Context, status types.RequestStatus) ([]*types.BloodRequest, error) {
	return s.filterRequests(func(r *types.BloodRequest) bool { return r.Status == status }), nil
}

func (s *Store) filterRequests(keep func(*types.BloodRequest) bool) []*types.BloodRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.BloodRequest, 0)
	for _, r := range s.requests {
		if keep(r) {
			out = append(out, cloneRequest(r))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out
}

func (s *Store) CreateRequest(_ context.Context, request *types.BloodRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if request.ID == "" {
		request.ID = utils.PrefixedID("req")
	}
	request.CreatedAt = now
	request.UpdatedAt = now

	s.requests[request.ID] = cloneRequest(request)
	return nil
}

func (s *Store) TransitionRequest(_ context.Context, t types.RequestTransition) (*types.BloodRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[t.RequestID]
	if !ok || !statusIn(request.Status, t.From) {
		return nil, false, nil
	}
	if t.To == types.RequestStatusCancelled && request.SelectedDonorID != nil {
		return nil, false, nil
	}

	request.Status = t.To
	request.UpdatedAt = t.At

	switch t.To {
	case types.RequestStatusApproved:
		request.DecidedBy = utils.StringPtr(t.ActorID)
		request.DecidedAt = utils.TimePtr(t.At)
	case types.RequestStatusRejected:
		request.DecidedBy = utils.StringPtr(t.ActorID)
		request.DecidedAt = utils.TimePtr(t.At)
		request.ClosedAt = utils.TimePtr(t.At)
	case types.RequestStatusCompleted, types.RequestStatusCancelled:
		request.ClosedAt = utils.TimePtr(t.At)
	}

	return cloneRequest(request), true, nil
}

// ClaimDonor sets the selected donor only if none is set and the request is
// approved; the check and the write happen under one lock.
func (s *Store) ClaimDonor(_ context.Context, requestID, donorID string, at time.Time) (*types.BloodRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[requestID]
	if !ok || request.Status != types.RequestStatusApproved || request.SelectedDonorID != nil {
		return nil, false, nil
	}

	request.SelectedDonorID = utils.StringPtr(donorID)
	request.Status = types.RequestStatusMatched
	request.MatchedAt = utils.TimePtr(at)
	request.UpdatedAt = at
	return cloneRequest(request), true, nil
}

// Notifications

func (s *Store) CreateNotification(_ context.Context, n *types.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = utils.PrefixedID("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *Store) NotificationsByUser(_ context.Context, userID string, unreadOnly bool) ([]*types.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Notification, 0)
	for _, n := range s.notifications {
		if n.UserID != userID || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, notificationID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[notificationID]
	if !ok || n.UserID != userID {
		return types.ErrNotificationNotFound
	}
	if n.ReadAt == nil {
		n.ReadAt = utils.TimePtr(at)
	}
	return nil
}

// Documents

func (s *Store) CreateDocument(_ context.Context, doc *types.RequestDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now()
	}

	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *Store) DocumentsByRequestID(_ context.Context, requestID string) ([]*types.RequestDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.RequestDocument, 0)
	for _, d := range s.documents {
		if d.RequestID == requestID {
			cp := *d
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})

	return out, nil
}

func statusIn(s types.RequestStatus, set []types.RequestStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func cloneLocation(l types.Location) types.Location {
	var out types.Location
	if l.Latitude != nil {
		out.Latitude = utils.Float64Ptr(*l.Latitude)
	}
	if l.Longitude != nil {
		out.Longitude = utils.Float64Ptr(*l.Longitude)
	}
	return out
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	return utils.StringPtr(*s)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return utils.TimePtr(*t)
}

func cloneDonor(d *types.DonorProfile) *types.DonorProfile {
	cp := *d
	cp.Location = cloneLocation(d.Location)
	cp.LastDonationDate = cloneTime(d.LastDonationDate)
	cp.DecidedBy = cloneStr(d.DecidedBy)
	cp.DecidedAt = cloneTime(d.DecidedAt)
	cp.DonationGapMonths = nil
	return &cp
}

func cloneRequest(r *types.BloodRequest) *types.BloodRequest {
	cp := *r
	cp.Location = cloneLocation(r.Location)
	cp.SelectedDonorID = cloneStr(r.SelectedDonorID)
	cp.DecidedBy = cloneStr(r.DecidedBy)
	cp.DecidedAt = cloneTime(r.DecidedAt)
	cp.MatchedAt = cloneTime(r.MatchedAt)
	cp.ClosedAt = cloneTime(r.ClosedAt)
	return &cp
}

package types

import "time"

type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusApproved  RequestStatus = "approved"
	RequestStatusRejected  RequestStatus = "rejected"
	RequestStatusMatched   RequestStatus = "matched"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusCancelled RequestStatus = "cancelled"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:  {RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled},
	RequestStatusApproved: {RequestStatusMatched, RequestStatusCancelled},
	RequestStatusMatched:  {RequestStatusCompleted},
}

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected,
		RequestStatusMatched, RequestStatusCompleted, RequestStatusCancelled:
		return true
	}
	return false
}

func (s RequestStatus) IsTerminal() bool {
	return len(requestTransitions[s]) == 0
}

func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range requestTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HasDonor reports whether a request in this status must carry a selected donor.
func (s RequestStatus) HasDonor() bool {
	return s == RequestStatusMatched || s == RequestStatusCompleted
}

type BloodRequest struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"userId"`
	PatientName   string    `db:"patient_name" json:"patientName"`
	ContactNumber string    `db:"contact_number" json:"contactNumber"`
	BloodType     BloodType `db:"blood_type" json:"bloodType"`

	Location

	Reason          string        `db:"reason" json:"reason"`
	Status          RequestStatus `db:"status" json:"status"`
	SelectedDonorID *string       `db:"selected_donor_id" json:"selectedDonorId"`
	DecidedBy       *string       `db:"decided_by" json:"decidedBy,omitempty"`
	DecidedAt       *time.Time    `db:"decided_at" json:"decidedAt,omitempty"`
	MatchedAt       *time.Time    `db:"matched_at" json:"matchedAt,omitempty"`
	ClosedAt        *time.Time    `db:"closed_at" json:"closedAt,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`
}

type RequestSubmission struct {
	PatientName   string   `json:"patientName"`
	ContactNumber string   `json:"contactNumber"`
	BloodType     string   `json:"bloodType"`
	Location      Location `json:"location"`
	Reason        string   `json:"reason"`
}

// RequestTransition describes a conditional status change. The write applies
// only while the stored status is one of From; for cancellation the request
// must also still have no selected donor.
type RequestTransition struct {
	RequestID string
	From      []RequestStatus
	To        RequestStatus
	ActorID   string
	At        time.Time
}

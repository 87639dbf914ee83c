package types

import "time"

type AdmissionStatus string

const (
	AdmissionPending  AdmissionStatus = "pending"
	AdmissionApproved AdmissionStatus = "approved"
	AdmissionRejected AdmissionStatus = "rejected"
)

func (s AdmissionStatus) Valid() bool {
	switch s {
	case AdmissionPending, AdmissionApproved, AdmissionRejected:
		return true
	}
	return false
}

// IsDecision reports whether s is a status an approval authority may assign.
func (s AdmissionStatus) IsDecision() bool {
	return s == AdmissionApproved || s == AdmissionRejected
}

type DonorProfile struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"userId"`
	FullName      string    `db:"full_name" json:"fullName"`
	ContactNumber string    `db:"contact_number" json:"contactNumber"`
	BloodType     BloodType `db:"blood_type" json:"bloodType"`
	DateOfBirth   time.Time `db:"date_of_birth" json:"dateOfBirth"`
	Age           int       `db:"age" json:"age"`
	WeightKg      float64   `db:"weight_kg" json:"weightKg"`

	Location

	Status           AdmissionStatus `db:"status" json:"status"`
	Available        bool            `db:"available" json:"available"`
	LastDonationDate *time.Time      `db:"last_donation_date" json:"lastDonationDate"`
	DecidedBy        *string         `db:"decided_by" json:"decidedBy,omitempty"`
	DecidedAt        *time.Time      `db:"decided_at" json:"decidedAt,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updatedAt"`

	DonationGapMonths *int `db:"-" json:"donationGapMonths"`
}

// IsMatchable: approved, available, and located.
func (d *DonorProfile) IsMatchable() bool {
	return d.Status == AdmissionApproved && d.Available && d.Location.IsSet()
}

// FillDonationGap sets DonationGapMonths to the whole months elapsed between
// the last donation and now. It stays nil when there is no recorded donation.
func (d *DonorProfile) FillDonationGap(now time.Time) {
	d.DonationGapMonths = nil
	if d.LastDonationDate == nil {
		return
	}

	last := d.LastDonationDate.UTC()
	now = now.UTC()
	months := (now.Year()-last.Year())*12 + int(now.Month()) - int(last.Month())
	if now.Day() < last.Day() {
		months--
	}
	if months < 0 {
		months = 0
	}
	d.DonationGapMonths = &months
}

// DonorApplication is what a user submits to become a donor.
type DonorApplication struct {
	FullName         string     `json:"fullName"`
	ContactNumber    string     `json:"contactNumber"`
	BloodType        string     `json:"bloodType"`
	DateOfBirth      time.Time  `json:"dateOfBirth"`
	Age              int        `json:"age"`
	WeightKg         float64    `json:"weightKg"`
	LastDonationDate *time.Time `json:"lastDonationDate"`
	Location         Location   `json:"location"`
}

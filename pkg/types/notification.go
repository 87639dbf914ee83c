package types

import "time"

type NotificationCategory string

const (
	NotificationRequestApproved   NotificationCategory = "request_approved"
	NotificationRequestRejected   NotificationCategory = "request_rejected"
	NotificationDonorSelected     NotificationCategory = "donor_selected"
	NotificationRequestAccepted   NotificationCategory = "request_accepted"
	NotificationDonationCompleted NotificationCategory = "donation_completed"
	NotificationDonorApproved     NotificationCategory = "donor_approved"
	NotificationDonorRejected     NotificationCategory = "donor_rejected"
)

// NotificationIntent is produced by the core and handed to a dispatcher.
// Delivery is not the core's concern.
type NotificationIntent struct {
	RecipientUserID string               `json:"recipientUserId"`
	Message         string               `json:"message"`
	Category        NotificationCategory `json:"category"`
}

// Notification is the persisted inbox row written by the store sink.
type Notification struct {
	ID        string               `db:"id" json:"id"`
	UserID    string               `db:"user_id" json:"userId"`
	Message   string               `db:"message" json:"message"`
	Category  NotificationCategory `db:"category" json:"category"`
	ReadAt    *time.Time           `db:"read_at" json:"readAt"`
	CreatedAt time.Time            `db:"created_at" json:"createdAt"`
}

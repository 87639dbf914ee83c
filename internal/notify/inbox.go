package notify

import (
	"context"
	"time"

	"lifeline/pkg/types"
)

type InboxStore interface {
	NotificationsByUser(ctx context.Context, userID string, unreadOnly bool) ([]*types.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string, at time.Time) error
}

// Inbox reads the notifications persisted by StoreSink. Callers only ever see
// their own rows.
type Inbox struct {
	store InboxStore
	now   func() time.Time
}

func NewInbox(store InboxStore) *Inbox {
	return &Inbox{store: store, now: time.Now}
}

func (i *Inbox) List(ctx context.Context, principal types.Principal, unreadOnly bool) ([]*types.Notification, error) {
	if principal.UserID == "" {
		return nil, types.ErrUnauthorized
	}
	return i.store.NotificationsByUser(ctx, principal.UserID, unreadOnly)
}

// MarkRead is idempotent. Another user's notification reports not found.
func (i *Inbox) MarkRead(ctx context.Context, principal types.Principal, notificationID string) error {
	if principal.UserID == "" {
		return types.ErrUnauthorized
	}
	return i.store.MarkNotificationRead(ctx, notificationID, principal.UserID, i.now())
}

package store

import (
	"context"
	"fmt"
	"time"

	"lifeline/internal/utils"
	"lifeline/pkg/types"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notificationTableName = "notifications"

var notificationColumns = utils.StructTagValues(types.Notification{})

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) CreateNotification(ctx context.Context, n *types.Notification) error {
	if n.ID == "" {
		n.ID = utils.PrefixedID("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	query, args, err := psql().Insert(notificationTableName).SetMap(utils.StructToMap(n)).ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate insert notification query: %w", err)
	}

	_, err = r.pool.Exec(ctx, query, args...)
	return unavailable(err, "failed to create notification")
}

func (r *NotificationRepository) NotificationsByUser(ctx context.Context, userID string, unreadOnly bool) ([]*types.Notification, error) {
	builder := psql().Select(notificationColumns...).From(notificationTableName).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at desc")
	if unreadOnly {
		builder = builder.Where(sq.Eq{"read_at": nil})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate notifications query: %w", err)
	}

	var notifications = make([]*types.Notification, 0)
	err = pgxscan.Select(ctx, r.pool, &notifications, query, args...)
	if err != nil {
		return nil, unavailable(err, "failed to fetch notifications")
	}

	return notifications, nil
}

// MarkNotificationRead stamps read_at on a notification owned by userID.
// Marking an already read notification is a no-op.
func (r *NotificationRepository) MarkNotificationRead(ctx context.Context, notificationID, userID string, at time.Time) error {
	query, args, err := psql().Update(notificationTableName).
		Set("read_at", sq.Expr("COALESCE(read_at, ?)", at)).
		Where(sq.Eq{"id": notificationID, "user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate mark read query: %w", err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return unavailable(err, "failed to mark notification read")
	}

	if tag.RowsAffected() == 0 {
		return types.ErrNotificationNotFound
	}

	return nil
}

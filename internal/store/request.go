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

const requestTableName = "blood_requests"

var requestColumns = utils.StructTagValues(types.BloodRequest{})

type RequestRepository struct {
	pool *pgxpool.Pool
}

func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

func (r *RequestRepository) Request(ctx context.Context, requestID string) (*types.BloodRequest, error) {
	query, args, err := psql().Select(requestColumns...).From(requestTableName).
		Where(sq.Eq{"id": requestID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate request query: %w", err)
	}

	var request = new(types.BloodRequest)
	err = pgxscan.Get(ctx, r.pool, request, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, types.ErrRequestNotFound
		}
		return nil, unavailable(err, "failed to fetch request")
	}

	return request, nil
}

func (r *RequestRepository) RequestsByUser(ctx context.Context, userID string) ([]*types.BloodRequest, error) {
	return r.selectRequests(ctx, sq.Eq{"user_id": userID})
}

func (r *RequestRepository) RequestsByStatus(ctx context.Context, status types.RequestStatus) ([]*types.BloodRequest, error) {
	return r.selectRequests(ctx, sq.Eq{"status": status})
}

func (r *RequestRepository) selectRequests(ctx context.Context, where sq.Eq) ([]*types.BloodRequest, error) {
	query, args, err := psql().Select(requestColumns...).From(requestTableName).
		Where(where).
		OrderBy("created_at desc").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate requests query: %w", err)
	}

	var requests = make([]*types.BloodRequest, 0)
	err = pgxscan.Select(ctx, r.pool, &requests, query, args...)
	if err != nil {
		return nil, unavailable(err, "failed to fetch requests")
	}

	return requests, nil
}

func (r *RequestRepository) CreateRequest(ctx context.Context, request *types.BloodRequest) error {
	now := time.Now()
	if request.ID == "" {
		request.ID = utils.PrefixedID("req")
	}
	request.CreatedAt = now
	request.UpdatedAt = now

	query, args, err := psql().Insert(requestTableName).SetMap(utils.StructToMap(request)).ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate insert request query: %w", err)
	}

	_, err = r.pool.Exec(ctx, query, args...)
	return unavailable(err, "failed to create request")
}

// TransitionRequest applies t as a single conditional UPDATE. ok is false when
// the stored row no longer satisfies t.From (or, for cancellation, already has
// a donor).
func (r *RequestRepository) TransitionRequest(ctx context.Context, t types.RequestTransition) (*types.BloodRequest, bool, error) {
	set := map[string]any{
		"status":     t.To,
		"updated_at": t.At,
	}

	switch t.To {
	case types.RequestStatusApproved:
		set["decided_by"] = t.ActorID
		set["decided_at"] = t.At
	case types.RequestStatusRejected:
		set["decided_by"] = t.ActorID
		set["decided_at"] = t.At
		set["closed_at"] = t.At
	case types.RequestStatusCompleted, types.RequestStatusCancelled:
		set["closed_at"] = t.At
	}

	where := sq.And{sq.Eq{"id": t.RequestID, "status": t.From}}
	if t.To == types.RequestStatusCancelled {
		where = append(where, sq.Eq{"selected_donor_id": nil})
	}

	query, args, err := psql().Update(requestTableName).
		SetMap(set).
		Where(where).
		Suffix(returning(requestColumns)).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate transition query for request %s: %w", t.RequestID, err)
	}

	return r.conditionalUpdate(ctx, t.RequestID, query, args)
}

// ClaimDonor binds donorID to the request in one statement:
//
//	UPDATE blood_requests SET selected_donor_id = $donor, status = 'matched'
//	WHERE id = $id AND status = 'approved' AND selected_donor_id IS NULL
//
// Exactly one concurrent caller can see ok == true.
func (r *RequestRepository) ClaimDonor(ctx context.Context, requestID, donorID string, at time.Time) (*types.BloodRequest, bool, error) {
	query, args, err := psql().Update(requestTableName).
		SetMap(map[string]any{
			"selected_donor_id": donorID,
			"status":            types.RequestStatusMatched,
			"matched_at":        at,
			"updated_at":        at,
		}).
		Where(sq.Eq{
			"id":                requestID,
			"status":            types.RequestStatusApproved,
			"selected_donor_id": nil,
		}).
		Suffix(returning(requestColumns)).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate claim query for request %s: %w", requestID, err)
	}

	return r.conditionalUpdate(ctx, requestID, query, args)
}

func (r *RequestRepository) conditionalUpdate(ctx context.Context, requestID, query string, args []any) (*types.BloodRequest, bool, error) {
	var request = new(types.BloodRequest)
	err := pgxscan.Get(ctx, r.pool, request, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, false, nil
		}
		return nil, false, unavailable(err, fmt.Sprintf("failed to update request %s", requestID))
	}

	return request, true, nil
}

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

const donorTableName = "donors"

var donorColumns = utils.StructTagValues(types.DonorProfile{})

type DonorRepository struct {
	pool *pgxpool.Pool
}

func NewDonorRepository(pool *pgxpool.Pool) *DonorRepository {
	return &DonorRepository{pool: pool}
}

func (r *DonorRepository) Donor(ctx context.Context, donorID string) (*types.DonorProfile, error) {
	return r.getDonor(ctx, sq.Eq{"id": donorID})
}

func (r *DonorRepository) DonorByUserID(ctx context.Context, userID string) (*types.DonorProfile, error) {
	return r.getDonor(ctx, sq.Eq{"user_id": userID})
}

func (r *DonorRepository) getDonor(ctx context.Context, where sq.Eq) (*types.DonorProfile, error) {
	query, args, err := psql().Select(donorColumns...).From(donorTableName).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate donor query: %w", err)
	}

	var donor = new(types.DonorProfile)
	err = pgxscan.Get(ctx, r.pool, donor, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, types.ErrDonorNotFound
		}
		return nil, unavailable(err, "failed to fetch donor")
	}

	return donor, nil
}

func (r *DonorRepository) DonorsByStatus(ctx context.Context, status types.AdmissionStatus) ([]*types.DonorProfile, error) {
	query, args, err := psql().Select(donorColumns...).From(donorTableName).
		Where(sq.Eq{"status": status}).
		OrderBy("created_at desc").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate donors by status query: %w", err)
	}

	var donors = make([]*types.DonorProfile, 0)
	err = pgxscan.Select(ctx, r.pool, &donors, query, args...)
	if err != nil {
		return nil, unavailable(err, "failed to fetch donors by status")
	}

	return donors, nil
}

// MatchableDonors returns approved, available, located donors of bloodType.
func (r *DonorRepository) MatchableDonors(ctx context.Context, bloodType types.BloodType) ([]*types.DonorProfile, error) {
	query, args, err := psql().Select(donorColumns...).From(donorTableName).
		Where(sq.Eq{
			"status":     types.AdmissionApproved,
			"available":  true,
			"blood_type": bloodType,
		}).
		Where(sq.NotEq{"location_lat": nil, "location_lng": nil}).
		OrderBy("id asc").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate matchable donors query: %w", err)
	}

	var donors = make([]*types.DonorProfile, 0)
	err = pgxscan.Select(ctx, r.pool, &donors, query, args...)
	if err != nil {
		return nil, unavailable(err, "failed to fetch matchable donors")
	}

	return donors, nil
}

func (r *DonorRepository) CreateDonor(ctx context.Context, donor *types.DonorProfile) error {
	now := time.Now()
	if donor.ID == "" {
		donor.ID = utils.PrefixedID("dnr")
	}
	donor.CreatedAt = now
	donor.UpdatedAt = now

	query, args, err := psql().Insert(donorTableName).SetMap(utils.StructToMap(donor)).ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate insert donor query: %w", err)
	}

	_, err = r.pool.Exec(ctx, query, args...)
	if isUniqueViolation(err) {
		return types.ErrDonorExists
	}

	return unavailable(err, "failed to create donor")
}

// DecideAdmission sets the admission status only while the donor is still
// pending. ok is false when the donor exists but was already decided.
func (r *DonorRepository) DecideAdmission(ctx context.Context, donorID string, status types.AdmissionStatus, actorID string, at time.Time) (*types.DonorProfile, bool, error) {
	query, args, err := psql().Update(donorTableName).
		SetMap(map[string]any{
			"status":     status,
			"decided_by": actorID,
			"decided_at": at,
			"updated_at": at,
		}).
		Where(sq.Eq{"id": donorID, "status": types.AdmissionPending}).
		Suffix(returning(donorColumns)).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate decide admission query for donor %s: %w", donorID, err)
	}

	return r.conditionalUpdate(ctx, donorID, query, args)
}

// ToggleAvailability flips the flag in a single statement.
func (r *DonorRepository) ToggleAvailability(ctx context.Context, donorID string, at time.Time) (*types.DonorProfile, error) {
	query, args, err := psql().Update(donorTableName).
		Set("available", sq.Expr("NOT available")).
		Set("updated_at", at).
		Where(sq.Eq{"id": donorID}).
		Suffix(returning(donorColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate toggle availability query for donor %s: %w", donorID, err)
	}

	donor, ok, err := r.conditionalUpdate(ctx, donorID, query, args)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.ErrDonorNotFound
	}

	return donor, nil
}

func (r *DonorRepository) UpdateDonorLocation(ctx context.Context, donorID string, loc types.Location, at time.Time) (*types.DonorProfile, error) {
	query, args, err := psql().Update(donorTableName).
		SetMap(map[string]any{
			"location_lat": loc.Latitude,
			"location_lng": loc.Longitude,
			"updated_at":   at,
		}).
		Where(sq.Eq{"id": donorID}).
		Suffix(returning(donorColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate update location query for donor %s: %w", donorID, err)
	}

	donor, ok, err := r.conditionalUpdate(ctx, donorID, query, args)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.ErrDonorNotFound
	}

	return donor, nil
}

func (r *DonorRepository) conditionalUpdate(ctx context.Context, donorID, query string, args []any) (*types.DonorProfile, bool, error) {
	var donor = new(types.DonorProfile)
	err := pgxscan.Get(ctx, r.pool, donor, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, false, nil
		}
		return nil, false, unavailable(err, fmt.Sprintf("failed to update donor %s", donorID))
	}

	return donor, true, nil
}

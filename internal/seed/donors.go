package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lifeline/internal/registry"
	"lifeline/internal/utils"
	"lifeline/pkg/types"

	"github.com/sirupsen/logrus"
)

// SeedAdmin is the principal that approves seeded donors.
var SeedAdmin = types.Principal{UserID: "usr_seed_admin", Role: types.RoleAdmin}

type fakeDonorSeed struct {
	UserID    string
	FullName  string
	Contact   string
	BloodType types.BloodType
	Born      time.Time
	WeightKg  float64
	Latitude  float64
	Longitude float64
}

// fakeDonors sit within a few kilometres of central Kochi.
var fakeDonors = []fakeDonorSeed{
	{UserID: "usr_seed_01", FullName: "Anjali Menon", Contact: "+919800000001", BloodType: types.BloodTypeOPos, Born: date(1991, 3, 14), WeightKg: 58, Latitude: 9.9312, Longitude: 76.2673},
	{UserID: "usr_seed_02", FullName: "Rahul Nair", Contact: "+919800000002", BloodType: types.BloodTypeOPos, Born: date(1987, 11, 2), WeightKg: 74, Latitude: 9.9816, Longitude: 76.2999},
	{UserID: "usr_seed_03", FullName: "Fathima Rasheed", Contact: "+919800000003", BloodType: types.BloodTypeANeg, Born: date(1995, 6, 21), WeightKg: 52, Latitude: 9.9658, Longitude: 76.2421},
	{UserID: "usr_seed_04", FullName: "Joseph Thomas", Contact: "+919800000004", BloodType: types.BloodTypeBPos, Born: date(1983, 1, 30), WeightKg: 81, Latitude: 10.0159, Longitude: 76.3419},
	{UserID: "usr_seed_05", FullName: "Lakshmi Pillai", Contact: "+919800000005", BloodType: types.BloodTypeABPos, Born: date(1999, 9, 9), WeightKg: 49, Latitude: 9.9390, Longitude: 76.2600},
	{UserID: "usr_seed_06", FullName: "Arjun Varma", Contact: "+919800000006", BloodType: types.BloodTypeONeg, Born: date(1978, 4, 5), WeightKg: 88, Latitude: 10.1076, Longitude: 76.3516},
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SeedDonors applies for and approves a fixed set of donors. Users that already
// have a profile are skipped, so running it twice is harmless.
func SeedDonors(ctx context.Context, logger *logrus.Logger, svc *registry.Service) (int, error) {
	seeded := 0
	for _, fake := range fakeDonors {
		donor, err := svc.Apply(ctx, types.Principal{UserID: fake.UserID, Role: types.RoleUser}, types.DonorApplication{
			FullName:      fake.FullName,
			ContactNumber: fake.Contact,
			BloodType:     string(fake.BloodType),
			DateOfBirth:   fake.Born,
			WeightKg:      fake.WeightKg,
			Location: types.Location{
				Latitude:  utils.Float64Ptr(fake.Latitude),
				Longitude: utils.Float64Ptr(fake.Longitude),
			},
		})
		if err != nil {
			if errors.Is(err, types.ErrDonorExists) {
				logger.WithField("user_id", fake.UserID).Debug("donor already seeded")
				continue
			}
			return seeded, fmt.Errorf("failed to seed donor for %s: %w", fake.UserID, err)
		}

		if _, err := svc.SetAdmissionStatus(ctx, SeedAdmin, donor.ID, types.AdmissionApproved); err != nil {
			return seeded, fmt.Errorf("failed to approve seeded donor %s: %w", donor.ID, err)
		}

		seeded++
	}

	return seeded, nil
}

package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lifeline/internal/utils"
	"lifeline/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDonor(userID string) *types.DonorProfile {
	return &types.DonorProfile{
		UserID:      userID,
		FullName:    "Donor " + userID,
		BloodType:   types.BloodTypeOPos,
		DateOfBirth: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		Age:         35,
		WeightKg:    70,
		Location:    types.NewLocation(23.8103, 90.4125),
		Status:      types.AdmissionPending,
		Available:   true,
	}
}

func newApprovedRequest(t *testing.T, s *Store) *types.BloodRequest {
	t.Helper()
	ctx := context.Background()

	request := &types.BloodRequest{
		UserID:      "usr_requester",
		PatientName: "Patient",
		BloodType:   types.BloodTypeOPos,
		Location:    types.NewLocation(23.8103, 90.4125),
		Reason:      "surgery",
		Status:      types.RequestStatusPending,
	}
	require.NoError(t, s.CreateRequest(ctx, request))

	_, ok, err := s.TransitionRequest(ctx, types.RequestTransition{
		RequestID: request.ID,
		From:      []types.RequestStatus{types.RequestStatusPending},
		To:        types.RequestStatusApproved,
		ActorID:   "usr_admin",
		At:        time.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	return request
}

func TestCreateDonorRejectsSecondProfileForUser(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateDonor(ctx, newDonor("usr_1")))
	err := s.CreateDonor(ctx, newDonor("usr_1"))
	assert.ErrorIs(t, err, types.ErrDonorExists)
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestDonorReadsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	donor := newDonor("usr_1")
	require.NoError(t, s.CreateDonor(ctx, donor))

	got, err := s.Donor(ctx, donor.ID)
	require.NoError(t, err)
	*got.Latitude = 0
	got.Available = false

	again, err := s.Donor(ctx, donor.ID)
	require.NoError(t, err)
	assert.Equal(t, 23.8103, *again.Latitude)
	assert.True(t, again.Available)
}

func TestDecideAdmissionIsOneShot(t *testing.T) {
	s := New()
	ctx := context.Background()

	donor := newDonor("usr_1")
	require.NoError(t, s.CreateDonor(ctx, donor))

	updated, ok, err := s.DecideAdmission(ctx, donor.ID, types.AdmissionApproved, "usr_admin", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.AdmissionApproved, updated.Status)
	assert.Equal(t, "usr_admin", utils.PtrString(updated.DecidedBy))

	_, ok, err = s.DecideAdmission(ctx, donor.ID, types.AdmissionRejected, "usr_admin", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchableDonorsFiltersAndOrders(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, userID := range []string{"usr_b", "usr_a", "usr_c", "usr_d"} {
		d := newDonor(userID)
		d.ID = "dnr_" + userID
		require.NoError(t, s.CreateDonor(ctx, d))
		if userID != "usr_d" {
			_, _, err := s.DecideAdmission(ctx, d.ID, types.AdmissionApproved, "usr_admin", time.Now())
			require.NoError(t, err)
		}
	}

	// unavailable
	_, err := s.ToggleAvailability(ctx, "dnr_usr_c", time.Now())
	require.NoError(t, err)

	got, err := s.MatchableDonors(ctx, types.BloodTypeOPos)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "dnr_usr_a", got[0].ID)
	assert.Equal(t, "dnr_usr_b", got[1].ID)

	none, err := s.MatchableDonors(ctx, types.BloodTypeABNeg)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTransitionRequestRequiresFromStatus(t *testing.T) {
	s := New()
	ctx := context.Background()

	request := newApprovedRequest(t, s)

	_, ok, err := s.TransitionRequest(ctx, types.RequestTransition{
		RequestID: request.ID,
		From:      []types.RequestStatus{types.RequestStatusPending},
		To:        types.RequestStatusRejected,
		At:        time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, ok)

	cancelled, ok, err := s.TransitionRequest(ctx, types.RequestTransition{
		RequestID: request.ID,
		From:      []types.RequestStatus{types.RequestStatusPending, types.RequestStatusApproved},
		To:        types.RequestStatusCancelled,
		At:        time.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.RequestStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.ClosedAt)
}

func TestCancelRefusedOnceDonorSelected(t *testing.T) {
	s := New()
	ctx := context.Background()

	request := newApprovedRequest(t, s)
	_, ok, err := s.ClaimDonor(ctx, request.ID, "dnr_1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.TransitionRequest(ctx, types.RequestTransition{
		RequestID: request.ID,
		From:      []types.RequestStatus{types.RequestStatusMatched},
		To:        types.RequestStatusCancelled,
		At:        time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimDonorConcurrentExactlyOneWins(t *testing.T) {
	s := New()
	ctx := context.Background()
	request := newApprovedRequest(t, s)

	const contenders = 50

	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		winner  atomic.Value
		start   = make(chan struct{})
		errs    = make(chan error, contenders)
		donorID = func(i int) string { return "dnr_" + string(rune('A'+i%26)) + string(rune('a'+i/26)) }
	)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			updated, ok, err := s.ClaimDonor(ctx, request.ID, donorID(i), time.Now())
			if err != nil {
				errs <- err
				return
			}
			if ok {
				wins.Add(1)
				winner.Store(utils.PtrString(updated.SelectedDonorID))
			}
		}(i)
	}

	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, wins.Load())

	stored, err := s.Request(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RequestStatusMatched, stored.Status)
	assert.Equal(t, winner.Load(), utils.PtrString(stored.SelectedDonorID))
	assert.NotNil(t, stored.MatchedAt)
}

func TestMarkNotificationRead(t *testing.T) {
	s := New()
	ctx := context.Background()

	n := &types.Notification{UserID: "usr_1", Message: "hello", Category: types.NotificationDonorSelected}
	require.NoError(t, s.CreateNotification(ctx, n))

	unread, err := s.NotificationsByUser(ctx, "usr_1", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	err = s.MarkNotificationRead(ctx, n.ID, "usr_2", time.Now())
	assert.ErrorIs(t, err, types.ErrNotFound)

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkNotificationRead(ctx, n.ID, "usr_1", first))
	require.NoError(t, s.MarkNotificationRead(ctx, n.ID, "usr_1", first.Add(time.Hour)))

	all, err := s.NotificationsByUser(ctx, "usr_1", false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, first, *all[0].ReadAt)

	unread, err = s.NotificationsByUser(ctx, "usr_1", true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

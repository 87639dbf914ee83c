package match

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"lifeline/internal/metrics"
	"lifeline/internal/store/memory"
	"lifeline/internal/utils"
	"lifeline/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

type recorder struct {
	mu      sync.Mutex
	intents []types.NotificationIntent
}

func (r *recorder) Dispatch(_ context.Context, intent types.NotificationIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, intent)
}

var (
	admin     = types.Principal{UserID: "usr_admin", Role: types.RoleAdmin}
	requester = types.Principal{UserID: "usr_requester", Role: types.RoleUser}
	stranger  = types.Principal{UserID: "usr_stranger", Role: types.RoleUser}

	// Kochi
	origin = types.NewLocation(9.94, 76.27)
)

type MatchSuite struct {
	suite.Suite
	store       *memory.Store
	notified    *recorder
	metrics     *metrics.Metrics
	coordinator *Coordinator
}

func TestMatchSuite(t *testing.T) {
	suite.Run(t, new(MatchSuite))
}

func (s *MatchSuite) SetupTest() {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s.store = memory.New()
	s.notified = &recorder{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.coordinator = New(s.store, s.store, s.notified,
		WithLogger(logger),
		WithMetrics(s.metrics),
	)
}

func (s *MatchSuite) donor(userID string, bloodType types.BloodType, loc types.Location, status types.AdmissionStatus) *types.DonorProfile {
	d := &types.DonorProfile{
		UserID:        userID,
		FullName:      "Donor " + userID,
		ContactNumber: "+91" + userID,
		BloodType:     bloodType,
		Location:      loc,
		Status:        status,
		Available:     true,
	}
	s.Require().NoError(s.store.CreateDonor(context.Background(), d))
	return d
}

func (s *MatchSuite) approvedDonor(userID string) *types.DonorProfile {
	return s.donor(userID, types.BloodTypeOPos, types.NewLocation(9.93, 76.26), types.AdmissionApproved)
}

func (s *MatchSuite) request(status types.RequestStatus, loc types.Location) *types.BloodRequest {
	ctx := context.Background()

	r := &types.BloodRequest{
		UserID:        requester.UserID,
		PatientName:   "Patient",
		ContactNumber: "+910000000000",
		BloodType:     types.BloodTypeOPos,
		Location:      loc,
		Reason:        "accident",
		Status:        types.RequestStatusPending,
	}
	s.Require().NoError(s.store.CreateRequest(ctx, r))

	if status == types.RequestStatusPending {
		return r
	}

	r, ok, err := s.store.TransitionRequest(ctx, types.RequestTransition{
		RequestID: r.ID,
		From:      []types.RequestStatus{types.RequestStatusPending},
		To:        status,
		ActorID:   admin.UserID,
		At:        time.Now(),
	})
	s.Require().NoError(err)
	s.Require().True(ok)
	return r
}

func (s *MatchSuite) TestClaimSucceedsAndNotifiesBothParties() {
	request := s.request(types.RequestStatusApproved, origin)
	donor := s.approvedDonor("usr_d1")

	matched, err := s.coordinator.Claim(context.Background(), types.Principal{UserID: donor.UserID}, request.ID, donor.ID)
	s.Require().NoError(err)
	s.Equal(types.RequestStatusMatched, matched.Status)
	s.Equal(donor.ID, utils.PtrString(matched.SelectedDonorID))
	s.NotNil(matched.MatchedAt)

	s.Require().Len(s.notified.intents, 2)
	byUser := map[string]types.NotificationIntent{}
	for _, intent := range s.notified.intents {
		byUser[intent.RecipientUserID] = intent
	}
	s.Equal(types.NotificationDonorSelected, byUser[donor.UserID].Category)
	s.Contains(byUser[donor.UserID].Message, request.ContactNumber)
	s.Equal(types.NotificationRequestAccepted, byUser[requester.UserID].Category)
	s.Contains(byUser[requester.UserID].Message, donor.ContactNumber)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.DonorClaims.WithLabelValues(metrics.ClaimWon)))
}

func (s *MatchSuite) TestClaimOnPendingRequestIsInvalidTransition() {
	request := s.request(types.RequestStatusPending, origin)
	donor := s.approvedDonor("usr_d1")

	_, err := s.coordinator.Claim(context.Background(), types.Principal{UserID: donor.UserID}, request.ID, donor.ID)
	s.ErrorIs(err, types.ErrInvalidTransition)
	s.NotErrorIs(err, types.ErrConflict)

	stored, err := s.store.Request(context.Background(), request.ID)
	s.Require().NoError(err)
	s.Equal(types.RequestStatusPending, stored.Status)
	s.Nil(stored.SelectedDonorID)
	s.Empty(s.notified.intents)
}

func (s *MatchSuite) TestClaimOnRejectedIsInvalidTransition() {
	request := s.request(types.RequestStatusRejected, origin)
	donor := s.approvedDonor("usr_d1")

	_, err := s.coordinator.Claim(context.Background(), admin, request.ID, donor.ID)
	s.ErrorIs(err, types.ErrInvalidTransition)
}

func (s *MatchSuite) TestSecondClaimConflicts() {
	request := s.request(types.RequestStatusApproved, origin)
	d1 := s.approvedDonor("usr_d1")
	d2 := s.approvedDonor("usr_d2")
	ctx := context.Background()

	_, err := s.coordinator.Claim(ctx, types.Principal{UserID: d1.UserID}, request.ID, d1.ID)
	s.Require().NoError(err)

	_, err = s.coordinator.Claim(ctx, types.Principal{UserID: d2.UserID}, request.ID, d2.ID)
	s.ErrorIs(err, types.ErrConflict)
	s.NotErrorIs(err, types.ErrNotFound)
	s.NotErrorIs(err, types.ErrUnauthorized)

	stored, err := s.store.Request(ctx, request.ID)
	s.Require().NoError(err)
	s.Equal(d1.ID, utils.PtrString(stored.SelectedDonorID))
}

// Two donors accept in the same instant; exactly one wins and the stored
// request names the winner.
func (s *MatchSuite) TestTwoDonorsRaceExactlyOneWins() {
	request := s.request(types.RequestStatusApproved, origin)
	donors := []*types.DonorProfile{s.approvedDonor("usr_d1"), s.approvedDonor("usr_d2")}

	s.assertOneWinner(request, donors)
}

func (s *MatchSuite) TestManyConcurrentClaimsExactlyOneWins() {
	request := s.request(types.RequestStatusApproved, origin)

	donors := make([]*types.DonorProfile, 25)
	for i := range donors {
		donors[i] = s.approvedDonor(fmt.Sprintf("usr_d%02d", i))
	}

	s.assertOneWinner(request, donors)
	s.Equal(24.0, testutil.ToFloat64(s.metrics.DonorClaims.WithLabelValues(metrics.ClaimLost)))
}

func (s *MatchSuite) assertOneWinner(request *types.BloodRequest, donors []*types.DonorProfile) {
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		results   = make([]error, len(donors))
		winnerIDs = make([]string, len(donors))
	)

	for i, d := range donors {
		wg.Add(1)
		go func(i int, d *types.DonorProfile) {
			defer wg.Done()
			<-start
			matched, err := s.coordinator.Claim(ctx, types.Principal{UserID: d.UserID}, request.ID, d.ID)
			results[i] = err
			if err == nil {
				winnerIDs[i] = utils.PtrString(matched.SelectedDonorID)
			}
		}(i, d)
	}

	close(start)
	wg.Wait()

	winner := ""
	wins := 0
	for i, err := range results {
		if err == nil {
			wins++
			winner = donors[i].ID
			s.Equal(donors[i].ID, winnerIDs[i])
			continue
		}
		s.ErrorIs(err, types.ErrConflict)
	}
	s.Require().Equal(1, wins)

	stored, err := s.store.Request(ctx, request.ID)
	s.Require().NoError(err)
	s.Equal(types.RequestStatusMatched, stored.Status)
	s.Equal(winner, utils.PtrString(stored.SelectedDonorID))
}

func (s *MatchSuite) TestClaimRequiresMatchableDonor() {
	request := s.request(types.RequestStatusApproved, origin)
	ctx := context.Background()

	pending := s.donor("usr_pending", types.BloodTypeOPos, types.NewLocation(9.93, 76.26), types.AdmissionPending)
	_, err := s.coordinator.Claim(ctx, admin, request.ID, pending.ID)
	s.ErrorIs(err, types.ErrDonorNotMatchable)

	unlocated := s.donor("usr_nowhere", types.BloodTypeOPos, types.Location{}, types.AdmissionApproved)
	_, err = s.coordinator.Claim(ctx, admin, request.ID, unlocated.ID)
	s.ErrorIs(err, types.ErrInvalidTransition)

	away := s.approvedDonor("usr_away")
	_, err = s.store.ToggleAvailability(ctx, away.ID, time.Now())
	s.Require().NoError(err)
	_, err = s.coordinator.Claim(ctx, admin, request.ID, away.ID)
	s.ErrorIs(err, types.ErrDonorNotMatchable)

	s.Equal(3.0, testutil.ToFloat64(s.metrics.DonorClaims.WithLabelValues(metrics.ClaimIneligible)))
}

func (s *MatchSuite) TestClaimRevalidatesBloodTypeAndRadius() {
	request := s.request(types.RequestStatusApproved, origin)
	ctx := context.Background()

	wrongType := s.donor("usr_a", types.BloodTypeANeg, types.NewLocation(9.93, 76.26), types.AdmissionApproved)
	_, err := s.coordinator.Claim(ctx, admin, request.ID, wrongType.ID)
	s.ErrorIs(err, types.ErrDonorIneligible)

	// Kozhikode, ~150 km north
	far := s.donor("usr_far", types.BloodTypeOPos, types.NewLocation(11.25, 75.78), types.AdmissionApproved)
	_, err = s.coordinator.Claim(ctx, admin, request.ID, far.ID)
	s.ErrorIs(err, types.ErrDonorIneligible)
}

func (s *MatchSuite) TestClaimWithoutRequestLocationSkipsRadius() {
	request := s.request(types.RequestStatusApproved, types.Location{})
	far := s.donor("usr_far", types.BloodTypeOPos, types.NewLocation(11.25, 75.78), types.AdmissionApproved)

	_, err := s.coordinator.Claim(context.Background(), admin, request.ID, far.ID)
	s.NoError(err)
}

func (s *MatchSuite) TestClaimAuthorization() {
	request := s.request(types.RequestStatusApproved, origin)
	donor := s.approvedDonor("usr_d1")
	ctx := context.Background()

	_, err := s.coordinator.Claim(ctx, stranger, request.ID, donor.ID)
	s.ErrorIs(err, types.ErrUnauthorized)

	self := s.approvedDonor(requester.UserID)
	_, err = s.coordinator.Claim(ctx, requester, request.ID, self.ID)
	s.ErrorIs(err, types.ErrSelfMatch)

	// the requester may select someone else's donor profile
	_, err = s.coordinator.Claim(ctx, requester, request.ID, donor.ID)
	s.NoError(err)
}

func (s *MatchSuite) TestClaimUnknownIDs() {
	request := s.request(types.RequestStatusApproved, origin)
	donor := s.approvedDonor("usr_d1")
	ctx := context.Background()

	_, err := s.coordinator.Claim(ctx, admin, "req_missing", donor.ID)
	s.ErrorIs(err, types.ErrNotFound)

	_, err = s.coordinator.Claim(ctx, admin, request.ID, "dnr_missing")
	s.ErrorIs(err, types.ErrNotFound)
}

func (s *MatchSuite) TestCandidatesNearbyDonor() {
	request := s.request(types.RequestStatusApproved, origin)
	near := s.approvedDonor("usr_near")
	s.donor("usr_far", types.BloodTypeOPos, types.NewLocation(11.25, 75.78), types.AdmissionApproved)
	s.donor("usr_b", types.BloodTypeBPos, types.NewLocation(9.93, 76.26), types.AdmissionApproved)

	candidates, err := s.coordinator.Candidates(context.Background(), requester, request.ID, 0)
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(near.ID, candidates[0].Donor.ID)
	s.InDelta(1.6, candidates[0].DistanceKm, 0.05)

	narrow, err := s.coordinator.Candidates(context.Background(), requester, request.ID, 1)
	s.Require().NoError(err)
	s.Empty(narrow)
}

func (s *MatchSuite) TestCandidatesRadiusCannotExceedClaimRadius() {
	request := s.request(types.RequestStatusApproved, origin)
	// ~33 km north of the request
	s.donor("usr_mid", types.BloodTypeOPos, types.NewLocation(10.24, 76.27), types.AdmissionApproved)

	_, err := s.coordinator.Candidates(context.Background(), requester, request.ID, 50)
	s.ErrorIs(err, types.ErrValidation)
}

func (s *MatchSuite) TestListedDonorCanBeClaimedAtNonDefaultRadius() {
	ctx := context.Background()
	s.coordinator = New(s.store, s.store, s.notified, WithMetrics(s.metrics), WithRadius(200))

	request := s.request(types.RequestStatusApproved, origin)
	near := s.approvedDonor("usr_near")
	far := s.donor("usr_far", types.BloodTypeOPos, types.NewLocation(11.25, 75.78), types.AdmissionApproved)

	wide, err := s.coordinator.Candidates(ctx, requester, request.ID, 200)
	s.Require().NoError(err)
	s.Require().Len(wide, 2)
	s.Equal(near.ID, wide[0].Donor.ID)
	s.Equal(far.ID, wide[1].Donor.ID)

	matched, err := s.coordinator.Claim(ctx, requester, request.ID, far.ID)
	s.Require().NoError(err)
	s.Equal(far.ID, utils.PtrString(matched.SelectedDonorID))
}

func (s *MatchSuite) TestNarrowSearchStillClaimable() {
	ctx := context.Background()
	request := s.request(types.RequestStatusApproved, origin)
	near := s.approvedDonor("usr_near")

	listed, err := s.coordinator.Candidates(ctx, requester, request.ID, 5)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)

	_, err = s.coordinator.Claim(ctx, requester, request.ID, listed[0].Donor.ID)
	s.Require().NoError(err)
	s.Equal(near.ID, listed[0].Donor.ID)
}

func (s *MatchSuite) TestCandidatesExcludeRequesterOwnProfile() {
	request := s.request(types.RequestStatusApproved, origin)
	s.approvedDonor(requester.UserID)

	candidates, err := s.coordinator.Candidates(context.Background(), requester, request.ID, 0)
	s.Require().NoError(err)
	s.Empty(candidates)
}

func (s *MatchSuite) TestCandidatesPreconditions() {
	ctx := context.Background()

	pending := s.request(types.RequestStatusPending, origin)
	_, err := s.coordinator.Candidates(ctx, requester, pending.ID, 0)
	s.ErrorIs(err, types.ErrInvalidTransition)

	unlocated := s.request(types.RequestStatusApproved, types.Location{})
	_, err = s.coordinator.Candidates(ctx, requester, unlocated.ID, 0)
	s.ErrorIs(err, types.ErrLocationRequired)

	approved := s.request(types.RequestStatusApproved, origin)
	_, err = s.coordinator.Candidates(ctx, stranger, approved.ID, 0)
	s.ErrorIs(err, types.ErrUnauthorized)

	_, err = s.coordinator.Candidates(ctx, requester, approved.ID, math.NaN())
	s.ErrorIs(err, types.ErrValidation)

	_, err = s.coordinator.Candidates(ctx, requester, approved.ID, -1)
	s.ErrorIs(err, types.ErrValidation)
}

package lifecycle

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"lifeline/internal/metrics"
	"lifeline/internal/storage"
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
	donorUser = types.Principal{UserID: "usr_donor", Role: types.RoleUser}
	stranger  = types.Principal{UserID: "usr_stranger", Role: types.RoleUser}
)

type LifecycleSuite struct {
	suite.Suite
	store    *memory.Store
	objects  *storage.MemoryStorage
	notified *recorder
	metrics  *metrics.Metrics
	service  *Service
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupTest() {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s.store = memory.New()
	s.objects = storage.NewMemoryStorage()
	s.notified = &recorder{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service = New(s.store, s.store, s.notified,
		WithLogger(logger),
		WithMetrics(s.metrics),
		WithDocuments(s.store, s.objects),
	)
}

func submission() types.RequestSubmission {
	return types.RequestSubmission{
		PatientName:   "Rahim",
		ContactNumber: "+8801800000000",
		BloodType:     "B-",
		Location:      types.NewLocation(9.94, 76.27),
		Reason:        "scheduled surgery",
	}
}

func (s *LifecycleSuite) submit() *types.BloodRequest {
	request, err := s.service.Submit(context.Background(), requester, submission())
	s.Require().NoError(err)
	return request
}

func (s *LifecycleSuite) approved() *types.BloodRequest {
	request := s.submit()
	approved, err := s.service.Decide(context.Background(), admin, request.ID, types.RequestStatusApproved)
	s.Require().NoError(err)
	return approved
}

// matched binds a donor owned by donorUser directly through the store.
func (s *LifecycleSuite) matched() (*types.BloodRequest, *types.DonorProfile) {
	ctx := context.Background()
	request := s.approved()

	donor := &types.DonorProfile{
		UserID:    donorUser.UserID,
		FullName:  "Donor",
		BloodType: types.BloodTypeBNeg,
		Location:  types.NewLocation(9.93, 76.26),
		Status:    types.AdmissionApproved,
		Available: true,
	}
	s.Require().NoError(s.store.CreateDonor(ctx, donor))

	matched, ok, err := s.store.ClaimDonor(ctx, request.ID, donor.ID, time.Now())
	s.Require().NoError(err)
	s.Require().True(ok)

	s.notified.intents = nil
	return matched, donor
}

func (s *LifecycleSuite) TestSubmitCreatesPending() {
	request := s.submit()

	s.NotEmpty(request.ID)
	s.Equal(types.RequestStatusPending, request.Status)
	s.Equal(types.BloodTypeBNeg, request.BloodType)
	s.Equal(requester.UserID, request.UserID)
	s.Nil(request.SelectedDonorID)
}

func (s *LifecycleSuite) TestSubmitWithoutLocation() {
	sub := submission()
	sub.Location = types.Location{}

	request, err := s.service.Submit(context.Background(), requester, sub)
	s.Require().NoError(err)
	s.False(request.Location.IsSet())
}

func (s *LifecycleSuite) TestSubmitValidation() {
	sub := submission()
	sub.BloodType = "C+"
	sub.Reason = "   "
	sub.Location = types.Location{Latitude: utils.Float64Ptr(10)}

	_, err := s.service.Submit(context.Background(), requester, sub)
	s.Require().ErrorIs(err, types.ErrValidation)

	var verr *types.ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Contains(verr.Fields, "bloodType")
	s.Contains(verr.Fields, "reason")
	s.Contains(verr.Fields, "longitude")

	mine, err := s.store.RequestsByUser(context.Background(), requester.UserID)
	s.Require().NoError(err)
	s.Empty(mine)
}

func (s *LifecycleSuite) TestDecideApprovesAndNotifies() {
	request := s.approved()

	s.Equal(types.RequestStatusApproved, request.Status)
	s.Equal(admin.UserID, utils.PtrString(request.DecidedBy))
	s.Require().Len(s.notified.intents, 1)
	s.Equal(requester.UserID, s.notified.intents[0].RecipientUserID)
	s.Equal(types.NotificationRequestApproved, s.notified.intents[0].Category)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RequestTransitions.WithLabelValues("pending", "approved")))
}

func (s *LifecycleSuite) TestDecideReject() {
	request := s.submit()

	rejected, err := s.service.Decide(context.Background(), admin, request.ID, types.RequestStatusRejected)
	s.Require().NoError(err)
	s.Equal(types.RequestStatusRejected, rejected.Status)
	s.NotNil(rejected.ClosedAt)
	s.Equal(types.NotificationRequestRejected, s.notified.intents[0].Category)
}

func (s *LifecycleSuite) TestDecideOnApprovedIsInvalidTransition() {
	request := s.approved()

	_, err := s.service.Decide(context.Background(), admin, request.ID, types.RequestStatusRejected)
	s.ErrorIs(err, types.ErrInvalidTransition)
}

func (s *LifecycleSuite) TestDecideErrors() {
	request := s.submit()
	ctx := context.Background()

	_, err := s.service.Decide(ctx, requester, request.ID, types.RequestStatusApproved)
	s.ErrorIs(err, types.ErrUnauthorized)

	_, err = s.service.Decide(ctx, admin, request.ID, types.RequestStatusMatched)
	s.ErrorIs(err, types.ErrValidation)

	_, err = s.service.Decide(ctx, admin, "req_missing", types.RequestStatusApproved)
	s.ErrorIs(err, types.ErrNotFound)
}

func (s *LifecycleSuite) TestCancel() {
	ctx := context.Background()

	pending := s.submit()
	_, err := s.service.Cancel(ctx, stranger, pending.ID)
	s.ErrorIs(err, types.ErrUnauthorized)

	cancelled, err := s.service.Cancel(ctx, requester, pending.ID)
	s.Require().NoError(err)
	s.Equal(types.RequestStatusCancelled, cancelled.Status)

	_, err = s.service.Cancel(ctx, requester, pending.ID)
	s.ErrorIs(err, types.ErrInvalidTransition)

	approved := s.approved()
	cancelled, err = s.service.Cancel(ctx, requester, approved.ID)
	s.Require().NoError(err)
	s.Equal(types.RequestStatusCancelled, cancelled.Status)
}

func (s *LifecycleSuite) TestCancelMatchedIsInvalidTransition() {
	request, _ := s.matched()

	_, err := s.service.Cancel(context.Background(), requester, request.ID)
	s.ErrorIs(err, types.ErrInvalidTransition)

	stored, err := s.store.Request(context.Background(), request.ID)
	s.Require().NoError(err)
	s.Equal(types.RequestStatusMatched, stored.Status)
}

func (s *LifecycleSuite) TestCompletePendingIsInvalidTransition() {
	request := s.submit()

	_, err := s.service.Complete(context.Background(), requester, request.ID)
	s.ErrorIs(err, types.ErrInvalidTransition)
}

func (s *LifecycleSuite) TestCompleteByDonorNotifiesBoth() {
	request, donor := s.matched()
	ctx := context.Background()

	_, err := s.service.Complete(ctx, stranger, request.ID)
	s.ErrorIs(err, types.ErrUnauthorized)

	completed, err := s.service.Complete(ctx, donorUser, request.ID)
	s.Require().NoError(err)
	s.Equal(types.RequestStatusCompleted, completed.Status)
	s.Equal(donor.ID, utils.PtrString(completed.SelectedDonorID))
	s.NotNil(completed.ClosedAt)

	s.Require().Len(s.notified.intents, 2)
	recipients := []string{s.notified.intents[0].RecipientUserID, s.notified.intents[1].RecipientUserID}
	s.ElementsMatch([]string{requester.UserID, donorUser.UserID}, recipients)
	for _, intent := range s.notified.intents {
		s.Equal(types.NotificationDonationCompleted, intent.Category)
	}

	_, err = s.service.Complete(ctx, requester, request.ID)
	s.ErrorIs(err, types.ErrInvalidTransition)
}

func (s *LifecycleSuite) TestGetAuthorization() {
	request, _ := s.matched()
	ctx := context.Background()

	for _, p := range []types.Principal{requester, donorUser, admin} {
		got, err := s.service.Get(ctx, p, request.ID)
		s.Require().NoError(err)
		s.Equal(request.ID, got.ID)
	}

	_, err := s.service.Get(ctx, stranger, request.ID)
	s.ErrorIs(err, types.ErrUnauthorized)
}

func (s *LifecycleSuite) TestListing() {
	ctx := context.Background()
	s.submit()
	s.approved()

	mine, err := s.service.MyRequests(ctx, requester)
	s.Require().NoError(err)
	s.Len(mine, 2)

	pending, err := s.service.RequestsByStatus(ctx, admin, types.RequestStatusPending)
	s.Require().NoError(err)
	s.Len(pending, 1)

	_, err = s.service.RequestsByStatus(ctx, requester, types.RequestStatusPending)
	s.ErrorIs(err, types.ErrUnauthorized)

	_, err = s.service.RequestsByStatus(ctx, admin, types.RequestStatus("open"))
	s.ErrorIs(err, types.ErrValidation)
}

func (s *LifecycleSuite) TestAttachPrescription() {
	request := s.submit()
	ctx := context.Background()
	body := []byte("%PDF-1.7 prescription")

	doc, err := s.service.AttachPrescription(ctx, requester, request.ID, Upload{
		FileName:    `C:\scans\rx.pdf`,
		ContentType: "application/pdf",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
	})
	s.Require().NoError(err)
	s.Equal("rx.pdf", doc.FileName)
	s.Equal("prescriptions/"+request.ID+"/"+doc.ID+".pdf", doc.StorageKey)

	obj, err := s.objects.Object(doc.StorageKey)
	s.Require().NoError(err)
	s.Equal(body, obj.Data)

	docs, err := s.service.Documents(ctx, admin, request.ID)
	s.Require().NoError(err)
	s.Require().Len(docs, 1)
	s.Equal(doc.ID, docs[0].ID)
}

func (s *LifecycleSuite) TestAttachPrescriptionRejections() {
	request := s.submit()
	ctx := context.Background()
	upload := func(contentType string, size int64) Upload {
		return Upload{FileName: "rx", ContentType: contentType, Size: size, Body: strings.NewReader("x")}
	}

	_, err := s.service.AttachPrescription(ctx, requester, request.ID, upload("text/plain", 1))
	s.ErrorIs(err, types.ErrValidation)

	_, err = s.service.AttachPrescription(ctx, requester, request.ID, upload("image/png", types.MaxPrescriptionBytes+1))
	s.ErrorIs(err, types.ErrValidation)

	_, err = s.service.AttachPrescription(ctx, stranger, request.ID, upload("image/png", 1))
	s.ErrorIs(err, types.ErrUnauthorized)

	_, err = s.service.Cancel(ctx, requester, request.ID)
	s.Require().NoError(err)
	_, err = s.service.AttachPrescription(ctx, requester, request.ID, upload("image/png", 1))
	s.ErrorIs(err, types.ErrInvalidTransition)

	disabled := New(s.store, s.store, nil)
	_, err = disabled.AttachPrescription(ctx, requester, request.ID, upload("image/png", 1))
	s.ErrorIs(err, types.ErrDisabled)
	s.NotErrorIs(err, types.ErrStoreUnavailable)

	_, err = disabled.Documents(ctx, requester, request.ID)
	s.ErrorIs(err, ErrDocumentsDisabled)
}

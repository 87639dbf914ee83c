package server

import (
	"bytes"
	"io"
	"net/http"

	"lifeline/internal/lifecycle"
	"lifeline/pkg/types"

	"github.com/alexedwards/flow"
)

type listRequestsQuery struct {
	Status string `form:"status"`
}

type candidatesQuery struct {
	RadiusKm float64 `form:"radiusKm"`
}

type decisionBody struct {
	Decision types.RequestStatus `json:"decision"`
}

type claimBody struct {
	DonorID string `json:"donorId"`
}

type candidatesResponse struct {
	RequestID  string            `json:"requestId"`
	RadiusKm   float64           `json:"radiusKm"`
	Candidates []types.Candidate `json:"candidates"`
}

func (s *Service) handlePostRequest(w http.ResponseWriter, r *http.Request) {
	var body types.RequestSubmission
	if !s.decodeJSON(w, r, &body) {
		return
	}

	request, err := s.lifecycle.Submit(r.Context(), principalFromContext(r.Context()), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, request)
}

func (s *Service) handleListRequests(w http.ResponseWriter, r *http.Request) {
	var query listRequestsQuery
	if !s.decodeQuery(w, r, &query) {
		return
	}

	ctx := r.Context()
	principal := principalFromContext(ctx)

	var (
		requests []*types.BloodRequest
		err      error
	)
	if query.Status != "" {
		requests, err = s.lifecycle.RequestsByStatus(ctx, principal, types.RequestStatus(query.Status))
	} else {
		requests, err = s.lifecycle.MyRequests(ctx, principal)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, requests)
}

func (s *Service) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	request, err := s.lifecycle.Get(ctx, principalFromContext(ctx), flow.Param(ctx, "requestID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, request)
}

func (s *Service) handlePostRequestDecision(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if !s.decodeJSON(w, r, &body) {
		return
	}

	ctx := r.Context()
	request, err := s.lifecycle.Decide(ctx, principalFromContext(ctx), flow.Param(ctx, "requestID"), body.Decision)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, request)
}

func (s *Service) handlePostRequestCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	request, err := s.lifecycle.Cancel(ctx, principalFromContext(ctx), flow.Param(ctx, "requestID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, request)
}

func (s *Service) handlePostRequestComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	request, err := s.lifecycle.Complete(ctx, principalFromContext(ctx), flow.Param(ctx, "requestID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, request)
}

func (s *Service) handleGetRequestCandidates(w http.ResponseWriter, r *http.Request) {
	var query candidatesQuery
	if !s.decodeQuery(w, r, &query) {
		return
	}

	ctx := r.Context()
	requestID := flow.Param(ctx, "requestID")

	candidates, err := s.coordinator.Candidates(ctx, principalFromContext(ctx), requestID, query.RadiusKm)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	radius := query.RadiusKm
	if radius == 0 {
		radius = s.coordinator.RadiusKm()
	}

	s.writeJSON(w, http.StatusOK, candidatesResponse{
		RequestID:  requestID,
		RadiusKm:   radius,
		Candidates: candidates,
	})
}

func (s *Service) handlePostRequestClaim(w http.ResponseWriter, r *http.Request) {
	var body claimBody
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if body.DonorID == "" {
		verr := types.NewValidationError()
		verr.Add("donorId", "donor id is required")
		s.writeError(w, r, verr)
		return
	}

	ctx := r.Context()
	request, err := s.coordinator.Claim(ctx, principalFromContext(ctx), flow.Param(ctx, "requestID"), body.DonorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, request)
}

// handlePostPrescription accepts a multipart upload in the "file" field. The
// stored content type is sniffed from the bytes, not taken from the client.
func (s *Service) handlePostPrescription(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, types.MaxPrescriptionBytes+(1<<20))
	if err := r.ParseMultipartForm(types.MaxPrescriptionBytes); err != nil {
		verr := types.NewValidationError()
		verr.Add("file", "prescription must be a multipart upload of at most 10 MB")
		s.writeError(w, r, verr)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		verr := types.NewValidationError()
		verr.Add("file", "file is required")
		s.writeError(w, r, verr)
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		s.logger.WithError(err).Error("failed to read uploaded prescription")
		s.internalServerError(w)
		return
	}
	head = head[:n]

	ctx := r.Context()
	doc, err := s.lifecycle.AttachPrescription(ctx, principalFromContext(ctx), flow.Param(ctx, "requestID"), lifecycle.Upload{
		FileName:    header.Filename,
		ContentType: http.DetectContentType(head),
		Size:        header.Size,
		Body:        io.MultiReader(bytes.NewReader(head), file),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, doc)
}

func (s *Service) handleListPrescriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docs, err := s.lifecycle.Documents(ctx, principalFromContext(ctx), flow.Param(ctx, "requestID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, docs)
}

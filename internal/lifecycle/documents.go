package lifecycle

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"lifeline/internal/utils"
	"lifeline/pkg/types"

	"github.com/sirupsen/logrus"
)

var ErrDocumentsDisabled = fmt.Errorf("prescription uploads are not configured: %w", types.ErrDisabled)

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *types.RequestDocument) error
	DocumentsByRequestID(ctx context.Context, requestID string) ([]*types.RequestDocument, error)
}

type ObjectStore interface {
	PutObject(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	DeleteObject(ctx context.Context, key string) error
}

// Upload is a prescription file as received from the caller.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func prescriptionKey(requestID, documentID, ext string) string {
	return path.Join("prescriptions", requestID, documentID+ext)
}

// AttachPrescription stores a supporting document for a request that is still
// open. Only the request owner may attach.
func (s *Service) AttachPrescription(ctx context.Context, principal types.Principal, requestID string, upload Upload) (*types.RequestDocument, error) {
	if s.documents == nil || s.objects == nil {
		return nil, ErrDocumentsDisabled
	}

	verr := types.NewValidationError()
	ext, allowed := types.AllowedPrescriptionTypes[upload.ContentType]
	if !allowed {
		verr.Add("file", "prescription must be a PDF, PNG or JPEG file")
	}
	if upload.Size <= 0 {
		verr.Add("file", "prescription file is empty")
	} else if upload.Size > types.MaxPrescriptionBytes {
		verr.Add("file", fmt.Sprintf("prescription must be at most %d MB", types.MaxPrescriptionBytes>>20))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	request, err := s.requests.Request(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if principal.UserID == "" || request.UserID != principal.UserID {
		return nil, types.ErrUnauthorized
	}
	if request.Status.IsTerminal() {
		return nil, fmt.Errorf("request %s is %s: %w", requestID, request.Status, types.ErrInvalidTransition)
	}

	doc := &types.RequestDocument{
		ID:            utils.PrefixedID("doc"),
		RequestID:     requestID,
		UserID:        principal.UserID,
		FileName:      cleanFileName(upload.FileName, ext),
		FileSizeBytes: upload.Size,
		MimeType:      upload.ContentType,
		UploadedAt:    s.now(),
	}
	doc.StorageKey = prescriptionKey(requestID, doc.ID, ext)

	if err := s.objects.PutObject(ctx, doc.StorageKey, doc.MimeType, upload.Body, upload.Size); err != nil {
		s.logger.WithError(err).WithField("request_id", requestID).Error("failed to upload prescription")
		return nil, fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
	}

	if err := s.documents.CreateDocument(ctx, doc); err != nil {
		if derr := s.objects.DeleteObject(ctx, doc.StorageKey); derr != nil {
			s.logger.WithError(derr).WithField("storage_key", doc.StorageKey).Warn("failed to remove orphaned prescription")
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"request_id":  requestID,
		"document_id": doc.ID,
		"size":        doc.FileSizeBytes,
	}).Info("prescription attached")

	return doc, nil
}

// Documents lists a request's attachments for anyone allowed to read the
// request.
func (s *Service) Documents(ctx context.Context, principal types.Principal, requestID string) ([]*types.RequestDocument, error) {
	if s.documents == nil {
		return nil, ErrDocumentsDisabled
	}
	if _, err := s.Get(ctx, principal, requestID); err != nil {
		return nil, err
	}
	return s.documents.DocumentsByRequestID(ctx, requestID)
}

func cleanFileName(name, ext string) string {
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "prescription" + ext
	}
	return name
}

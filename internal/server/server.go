// Package server is a thin JSON transport over the registry, lifecycle and
// match services. Handlers decode input, call one service method, and map
// the result.
package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"lifeline/internal/lifecycle"
	"lifeline/internal/match"
	"lifeline/internal/notify"
	"lifeline/internal/registry"
	"lifeline/pkg/types"

	"github.com/alexedwards/flow"
	"github.com/go-playground/form/v4"
	"github.com/gorilla/securecookie"
	"github.com/sirupsen/logrus"
)

var decoder = form.NewDecoder()

type Service struct {
	logger *logrus.Logger
	config *types.Config

	registry    *registry.Service
	lifecycle   *lifecycle.Service
	coordinator *match.Coordinator
	inbox       *notify.Inbox

	verifier TokenVerifier
	cookie   *securecookie.SecureCookie
	metrics  http.Handler

	handler http.Handler
	server  *http.Server
}

func New(
	config *types.Config,
	logger *logrus.Logger,
	registrySvc *registry.Service,
	lifecycleSvc *lifecycle.Service,
	coordinator *match.Coordinator,
	inbox *notify.Inbox,
	verifier TokenVerifier,
	metricsHandler http.Handler,
) (*Service, error) {
	mux := flow.New()

	s := &Service{
		logger:      logger,
		config:      config,
		registry:    registrySvc,
		lifecycle:   lifecycleSvc,
		coordinator: coordinator,
		inbox:       inbox,
		verifier:    verifier,
		metrics:     metricsHandler,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.ServerPort),
			ReadTimeout:       time.Duration(config.ReadTimeoutSec) * time.Second,
			ReadHeaderTimeout: time.Duration(config.ReadTimeoutSec) * time.Second,
			WriteTimeout:      time.Duration(config.WriteTimeoutSec) * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}

	if config.CookieHashKey != "" {
		hashKey, err := base64.StdEncoding.DecodeString(config.CookieHashKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode cookie hash key: %w", err)
		}
		blockKey, err := base64.StdEncoding.DecodeString(config.CookieBlockKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode cookie block key: %w", err)
		}
		s.cookie = securecookie.New(hashKey, blockKey)
	}

	s.buildRouter(mux)

	// Unmatched paths never reach flow middleware, so the redirect wraps the mux.
	s.handler = s.StripTrailingSlash(mux)
	s.server.Handler = s.handler

	return s, nil
}

func (s *Service) Start() error {
	return s.server.ListenAndServe()
}

func (s *Service) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Service) Handler() http.Handler {
	return s.handler
}

func (s *Service) buildRouter(r *flow.Mux) {
	r.Use(s.LoggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealth, http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics, http.MethodGet)
	}

	r.Group(func(r *flow.Mux) {
		r.Use(s.RequireAuth)

		r.HandleFunc("/requests", s.handlePostRequest, http.MethodPost)
		r.HandleFunc("/requests", s.handleListRequests, http.MethodGet)
		r.HandleFunc("/requests/:requestID", s.handleGetRequest, http.MethodGet)
		r.HandleFunc("/requests/:requestID/decision", s.handlePostRequestDecision, http.MethodPost)
		r.HandleFunc("/requests/:requestID/cancel", s.handlePostRequestCancel, http.MethodPost)
		r.HandleFunc("/requests/:requestID/complete", s.handlePostRequestComplete, http.MethodPost)
		r.HandleFunc("/requests/:requestID/candidates", s.handleGetRequestCandidates, http.MethodGet)
		r.HandleFunc("/requests/:requestID/claim", s.handlePostRequestClaim, http.MethodPost)
		r.HandleFunc("/requests/:requestID/prescriptions", s.handlePostPrescription, http.MethodPost)
		r.HandleFunc("/requests/:requestID/prescriptions", s.handleListPrescriptions, http.MethodGet)

		r.HandleFunc("/donors", s.handlePostDonor, http.MethodPost)
		r.HandleFunc("/donors", s.handleListDonors, http.MethodGet)
		r.HandleFunc("/donors/me", s.handleGetMyDonor, http.MethodGet)
		r.HandleFunc("/donors/nearby", s.handleGetNearbyDonors, http.MethodGet)
		r.HandleFunc("/donors/:donorID", s.handleGetDonor, http.MethodGet)
		r.HandleFunc("/donors/:donorID/admission", s.handlePostDonorAdmission, http.MethodPost)
		r.HandleFunc("/donors/:donorID/availability", s.handlePostDonorAvailability, http.MethodPost)
		r.HandleFunc("/donors/:donorID/location", s.handlePutDonorLocation, http.MethodPut)

		r.HandleFunc("/notifications", s.handleListNotifications, http.MethodGet)
		r.HandleFunc("/notifications/:notificationID/read", s.handlePostNotificationRead, http.MethodPost)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

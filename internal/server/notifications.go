package server

import (
	"net/http"

	"github.com/alexedwards/flow"
)

type listNotificationsQuery struct {
	Unread bool `form:"unread"`
}

func (s *Service) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	var query listNotificationsQuery
	if !s.decodeQuery(w, r, &query) {
		return
	}

	ctx := r.Context()
	notifications, err := s.inbox.List(ctx, principalFromContext(ctx), query.Unread)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, notifications)
}

func (s *Service) handlePostNotificationRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.inbox.MarkRead(ctx, principalFromContext(ctx), flow.Param(ctx, "notificationID")); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SPDX-License-Identifier: GPL-3.0-or-later
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CrawX/go-imap-phishguard/domain"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func writeEvent(w io.Writer, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("could not serialize event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", uuid.NewString(), event.Kind, data)
	return err
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, identity *Identity) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	subscription, err := s.events.Subscribe(identity.UserId)
	if err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "event stream closed")
		return
	}
	defer subscription.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	s.l.WithFields(logrus.Fields{"user": identity.UserId, "subscription": subscription.Id}).Debug("Opened event stream")
	defer s.l.WithFields(logrus.Fields{"user": identity.UserId, "subscription": subscription.Id}).Debug("Closed event stream")

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-subscription.Events():
			if !ok {
				return
			}
			err := writeEvent(w, event)
			if err != nil {
				s.l.WithFields(logrus.Fields{"user": identity.UserId, "error": err}).Debug("Could not write event")
				return
			}
			flusher.Flush()
		case <-ticker.C:
			_, err := w.Write([]byte(": ping\n\n"))
			if err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

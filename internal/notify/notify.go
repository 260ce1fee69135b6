// Package notify delivers best-effort notifications to group members. Every
// delivery path is fire-and-forget: failures are logged and swallowed so they
// can never affect the core transaction that triggered them.
package notify

import (
	"log/slog"

	"github.com/jwhitfield/chorewheel/internal/store"
	"github.com/jwhitfield/chorewheel/internal/websocket"
)

// Payload is the user-facing content of a notification.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Dispatcher is the interface core operations notify through.
type Dispatcher interface {
	// Notify delivers a notification to one user. It never blocks on
	// delivery and never reports failure to the caller.
	Notify(userID int64, kind string, p Payload)
	// Broadcast pushes a live-sync event to every connected client of a group.
	Broadcast(groupID int64, msg websocket.Message)
}

// Service fans notifications out to the user's push subscriptions and the
// group's websocket clients. push may be nil when VAPID keys are not
// configured; only the websocket path runs then.
type Service struct {
	push   *WebPush
	subs   *store.PushStore
	hub    *websocket.Hub
	logger *slog.Logger
}

func NewService(push *WebPush, subs *store.PushStore, hub *websocket.Hub, logger *slog.Logger) *Service {
	return &Service{push: push, subs: subs, hub: hub, logger: logger}
}

func (s *Service) Notify(userID int64, kind string, p Payload) {
	if s.push == nil {
		return
	}
	go s.deliver(userID, kind, p)
}

func (s *Service) Broadcast(groupID int64, msg websocket.Message) {
	if s.hub != nil {
		s.hub.Broadcast(groupID, msg)
	}
}

func (s *Service) deliver(userID int64, kind string, p Payload) {
	subs, err := s.subs.ListByUser(userID)
	if err != nil {
		s.logger.Error("list push subscriptions", "user_id", userID, "error", err)
		return
	}

	for _, sub := range subs {
		err := s.push.Send(&sub, Payload{Title: p.Title, Body: p.Body, URL: p.URL, Tag: kind})
		if err == ErrExpired {
			if err := s.subs.DeleteByEndpoint(sub.Endpoint); err != nil {
				s.logger.Error("delete expired subscription", "error", err)
			}
			continue
		}
		if err != nil {
			s.logger.Warn("push delivery failed", "user_id", userID, "kind", kind, "error", err)
		}
	}
}

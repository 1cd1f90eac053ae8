// Package newsletter handles signups for feature announcements.
package newsletter

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/rendis/flowsketch/internal/metrics"
	"github.com/rendis/flowsketch/internal/store"
	"github.com/rendis/flowsketch/internal/streaming"
	"github.com/rendis/flowsketch/pkg/schema"
)

const recentLimit = 5

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	maskPattern  = regexp.MustCompile(`(.{2}).*(@.*)`)
)

// Result is returned by Subscribe.
type Result struct {
	Message           string `json:"message"`
	AlreadySubscribed bool   `json:"alreadySubscribed,omitempty"`
	SubscriberCount   int    `json:"subscriberCount,omitempty"`
}

// RecentSubscriber is a masked entry in the summary.
type RecentSubscriber struct {
	Email        string    `json:"email"`
	SubscribedAt time.Time `json:"subscribedAt"`
}

// Summary reports the subscriber total and the most recent signups.
type Summary struct {
	TotalSubscribers  int                `json:"totalSubscribers"`
	RecentSubscribers []RecentSubscriber `json:"recentSubscribers"`
}

// Service manages newsletter subscriptions.
type Service struct {
	store   store.Store
	hub     streaming.EventHub
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a newsletter service. hub and m may be nil.
func NewService(st store.Store, hub streaming.EventHub, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		hub:     hub,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe adds email to the list. Subscribing twice is not an error; the
// result reports AlreadySubscribed instead.
func (s *Service) Subscribe(ctx context.Context, email string, interests []string) (*Result, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "Email is required")
	}
	if !emailPattern.MatchString(email) {
		return nil, schema.NewError(schema.ErrCodeValidation, "Invalid email format")
	}

	err := s.store.AddSubscriber(ctx, &store.Subscriber{
		Email:        email,
		Interests:    interests,
		Confirmed:    true,
		SubscribedAt: s.now(),
	})
	var fe *schema.FlowsketchError
	if errors.As(err, &fe) && fe.Code == schema.ErrCodeConflict {
		return &Result{
			Message:           "You're already subscribed! We'll notify you when collaboration features are ready.",
			AlreadySubscribed: true,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	count, err := s.store.CountSubscribers(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.SetSubscribers(count)
	s.logger.InfoContext(ctx, "new subscriber", "email", Mask(email), "total", count)
	if s.hub != nil {
		_ = s.hub.Publish(ctx, streaming.StreamEvent{
			Topic:     streaming.TopicNewsletter,
			EventType: schema.EventSubscriberAdded,
			Payload:   map[string]any{"total": count},
		})
	}

	return &Result{
		Message:         "Successfully subscribed! You'll be the first to know when collaboration features are available.",
		SubscriberCount: count,
	}, nil
}

// Summary returns the total and the five newest subscribers with masked
// addresses.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	total, err := s.store.CountSubscribers(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.RecentSubscribers(ctx, recentLimit)
	if err != nil {
		return nil, err
	}

	out := &Summary{TotalSubscribers: total, RecentSubscribers: make([]RecentSubscriber, 0, len(recent))}
	for _, sub := range recent {
		out.RecentSubscribers = append(out.RecentSubscribers, RecentSubscriber{
			Email:        Mask(sub.Email),
			SubscribedAt: sub.SubscribedAt,
		})
	}
	return out, nil
}

// Mask keeps the first two characters of the local part and the domain:
// "alice@example.com" becomes "al***@example.com".
func Mask(email string) string {
	return maskPattern.ReplaceAllString(email, "${1}***${2}")
}

package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/shared"
)

// Enqueuer hands a stored delivery to the background queue.
type Enqueuer interface {
	EnqueueWebhookDelivery(ctx context.Context, deliveryID uuid.UUID) error
}

// AuditPort records subscription changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config tunes delivery behavior.
type Config struct {
	// RequireHTTPS rejects plain-http endpoints; disabled in development.
	RequireHTTPS bool
	// Timeout bounds one delivery attempt.
	Timeout time.Duration
}

// Service manages subscriptions and fans events out to them. Emit never
// blocks the calling request on subscriber endpoints: it stores one delivery
// row per subscription and the queue does the POSTing.
type Service struct {
	repo         Repository
	enqueue      Enqueuer
	audit        AuditPort
	logger       *slog.Logger
	client       *http.Client
	requireHTTPS bool
}

func NewService(repo Repository, enq Enqueuer, audit AuditPort, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		repo:         repo,
		enqueue:      enq,
		audit:        audit,
		logger:       logger,
		client:       &http.Client{Timeout: timeout},
		requireHTTPS: cfg.RequireHTTPS,
	}
}

// SubscriptionInput carries subscription fields from the API.
type SubscriptionInput struct {
	URL         string
	Secret      string
	Events      []string
	Description string
	IsActive    *bool
}

// CreateSubscription registers an endpoint. The secret is stored as given and
// never returned unmasked.
func (s *Service) CreateSubscription(ctx context.Context, input SubscriptionInput, actorID int64) (Subscription, error) {
	if err := s.validateURL(input.URL); err != nil {
		return Subscription{}, err
	}
	if err := validateEvents(input.Events); err != nil {
		return Subscription{}, err
	}
	if input.Secret == "" {
		return Subscription{}, httpx.NewValidationError("secret", "a signing secret is required")
	}

	sub := Subscription{
		ID:          uuid.New(),
		URL:         input.URL,
		Secret:      input.Secret,
		Events:      input.Events,
		Description: input.Description,
		IsActive:    true,
	}
	if input.IsActive != nil {
		sub.IsActive = *input.IsActive
	}
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return Subscription{}, err
	}
	s.record(ctx, actorID, "webhooks:create", sub.ID, map[string]any{"url": sub.URL, "events": sub.Events})
	return s.GetSubscription(ctx, sub.ID)
}

// UpdateSubscription replaces the endpoint fields. An empty secret keeps the
// current one.
func (s *Service) UpdateSubscription(ctx context.Context, id uuid.UUID, input SubscriptionInput, actorID int64) (Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return Subscription{}, err
	}
	if err := s.validateURL(input.URL); err != nil {
		return Subscription{}, err
	}
	if err := validateEvents(input.Events); err != nil {
		return Subscription{}, err
	}

	sub.URL = input.URL
	sub.Events = input.Events
	sub.Description = input.Description
	if input.Secret != "" {
		sub.Secret = input.Secret
	}
	if input.IsActive != nil {
		sub.IsActive = *input.IsActive
	}
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return Subscription{}, err
	}
	s.record(ctx, actorID, "webhooks:update", id, map[string]any{"url": sub.URL, "is_active": sub.IsActive})
	return s.GetSubscription(ctx, id)
}

func (s *Service) DeleteSubscription(ctx context.Context, id uuid.UUID, actorID int64) error {
	if err := s.repo.DeleteSubscription(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "webhooks:delete", id, nil)
	return nil
}

func (s *Service) GetSubscription(ctx context.Context, id uuid.UUID) (Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return Subscription{}, err
	}
	return masked(sub), nil
}

func (s *Service) ListSubscriptions(ctx context.Context, page shared.PageRequest) ([]Subscription, int, error) {
	subs, total, err := s.repo.ListSubscriptions(ctx, page)
	if err != nil {
		return nil, 0, err
	}
	for i := range subs {
		subs[i] = masked(subs[i])
	}
	return subs, total, nil
}

func (s *Service) ListDeliveries(ctx context.Context, subscriptionID uuid.UUID, page shared.PageRequest) ([]Delivery, int, error) {
	if _, err := s.repo.GetSubscription(ctx, subscriptionID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListDeliveries(ctx, subscriptionID, page)
}

// Emit stores one delivery per listening subscription and queues the POSTs.
// Failures are logged, never propagated: a webhook must not fail the business
// operation that produced it.
func (s *Service) Emit(ctx context.Context, eventType string, data any) {
	if !ValidEventType(eventType) {
		s.logger.Warn("webhook emit for unknown event type", "type", eventType)
		return
	}
	subs, err := s.repo.ActiveSubscriptionsFor(ctx, eventType)
	if err != nil {
		s.logger.Error("webhook fanout lookup", "type", eventType, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	event := Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Data:      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("webhook payload marshal", "type", eventType, "error", err)
		return
	}

	for _, sub := range subs {
		d := Delivery{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			EventID:        event.ID,
			EventType:      eventType,
			Payload:        payload,
			Status:         DeliveryPending,
		}
		if err := s.repo.InsertDelivery(ctx, d); err != nil {
			s.logger.Error("webhook delivery insert", "subscription_id", sub.ID, "error", err)
			continue
		}
		if err := s.enqueue.EnqueueWebhookDelivery(ctx, d.ID); err != nil {
			s.logger.Error("webhook delivery enqueue", "delivery_id", d.ID, "error", err)
		}
	}
}

// Dispatch performs one delivery attempt. A non-2xx response or transport
// error returns an error so the queue retries; final marks the row FAILED
// instead of leaving it PENDING forever.
func (s *Service) Dispatch(ctx context.Context, deliveryID uuid.UUID, final bool) error {
	d, err := s.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if d.Status == DeliveryDelivered {
		return nil
	}

	sub, err := s.repo.GetSubscription(ctx, d.SubscriptionID)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return s.repo.MarkFailed(ctx, deliveryID, d.Attempts+1, "subscription removed", true)
		}
		return err
	}
	if !sub.IsActive {
		return s.repo.MarkFailed(ctx, deliveryID, d.Attempts+1, "subscription disabled", true)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return s.repo.MarkFailed(ctx, deliveryID, d.Attempts+1, err.Error(), true)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Meridian-Event", d.EventType)
	req.Header.Set("X-Meridian-Delivery", d.ID.String())
	req.Header.Set("X-Meridian-Signature", Sign(sub.Secret, d.Payload))

	resp, err := s.client.Do(req)
	if err == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return s.repo.MarkDelivered(ctx, deliveryID, d.Attempts+1)
		}
		err = fmt.Errorf("endpoint returned %s", resp.Status)
	}

	if markErr := s.repo.MarkFailed(ctx, deliveryID, d.Attempts+1, err.Error(), final); markErr != nil {
		err = errors.Join(err, markErr)
	}
	return fmt.Errorf("deliver webhook %s to %s: %w", deliveryID, sub.URL, err)
}

func masked(sub Subscription) Subscription {
	sub.SecretMask = maskSecret(sub.Secret)
	sub.Secret = ""
	return sub
}

func (s *Service) validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return httpx.NewValidationError("url", "must be a valid absolute URL")
	}
	switch u.Scheme {
	case "https":
	case "http":
		if s.requireHTTPS {
			return httpx.NewValidationError("url", "must use https")
		}
	default:
		return httpx.NewValidationError("url", "must use http or https")
	}
	return nil
}

func validateEvents(events []string) error {
	if len(events) == 0 {
		return httpx.NewValidationError("events", "at least one event type is required")
	}
	seen := map[string]bool{}
	for _, t := range events {
		if !ValidEventType(t) {
			return httpx.NewValidationError("events", "unknown event type "+t)
		}
		if seen[t] {
			return httpx.NewValidationError("events", "event type "+t+" listed twice")
		}
		seen[t] = true
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "webhook_subscription",
		EntityID: id.String(),
		Meta:     meta,
		At:       time.Now(),
	})
}

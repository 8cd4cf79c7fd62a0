package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/shared"
	_ "github.com/meridian-rms/meridian-rms/testing"
)

type memoryRepo struct {
	subs       map[uuid.UUID]Subscription
	deliveries map[uuid.UUID]Delivery
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		subs:       make(map[uuid.UUID]Subscription),
		deliveries: make(map[uuid.UUID]Delivery),
	}
}

func (m *memoryRepo) CreateSubscription(ctx context.Context, sub Subscription) error {
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	m.subs[sub.ID] = sub
	return nil
}

func (m *memoryRepo) UpdateSubscription(ctx context.Context, sub Subscription) error {
	if _, ok := m.subs[sub.ID]; !ok {
		return httpx.ErrNotFound
	}
	sub.UpdatedAt = time.Now()
	m.subs[sub.ID] = sub
	return nil
}

func (m *memoryRepo) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.subs[id]; !ok {
		return httpx.ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func (m *memoryRepo) GetSubscription(ctx context.Context, id uuid.UUID) (Subscription, error) {
	sub, ok := m.subs[id]
	if !ok {
		return Subscription{}, httpx.ErrNotFound
	}
	return sub, nil
}

func (m *memoryRepo) ListSubscriptions(ctx context.Context, page shared.PageRequest) ([]Subscription, int, error) {
	var out []Subscription
	for _, sub := range m.subs {
		out = append(out, sub)
	}
	return out, len(out), nil
}

func (m *memoryRepo) ActiveSubscriptionsFor(ctx context.Context, eventType string) ([]Subscription, error) {
	var out []Subscription
	for _, sub := range m.subs {
		if !sub.IsActive {
			continue
		}
		for _, t := range sub.Events {
			if t == eventType {
				out = append(out, sub)
				break
			}
		}
	}
	return out, nil
}

func (m *memoryRepo) InsertDelivery(ctx context.Context, d Delivery) error {
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	m.deliveries[d.ID] = d
	return nil
}

func (m *memoryRepo) GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error) {
	d, ok := m.deliveries[id]
	if !ok {
		return Delivery{}, httpx.ErrNotFound
	}
	return d, nil
}

func (m *memoryRepo) MarkDelivered(ctx context.Context, id uuid.UUID, attempts int) error {
	d := m.deliveries[id]
	now := time.Now()
	d.Status = DeliveryDelivered
	d.Attempts = attempts
	d.LastError = ""
	d.DeliveredAt = &now
	m.deliveries[id] = d
	return nil
}

func (m *memoryRepo) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string, final bool) error {
	d := m.deliveries[id]
	d.Attempts = attempts
	d.LastError = lastError
	if final {
		d.Status = DeliveryFailed
	}
	m.deliveries[id] = d
	return nil
}

func (m *memoryRepo) ListDeliveries(ctx context.Context, subscriptionID uuid.UUID, page shared.PageRequest) ([]Delivery, int, error) {
	var out []Delivery
	for _, d := range m.deliveries {
		if d.SubscriptionID == subscriptionID {
			out = append(out, d)
		}
	}
	return out, len(out), nil
}

type fakeEnqueuer struct {
	ids []uuid.UUID
}

func (f *fakeEnqueuer) EnqueueWebhookDelivery(ctx context.Context, deliveryID uuid.UUID) error {
	f.ids = append(f.ids, deliveryID)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, cfg Config) (*Service, *memoryRepo, *fakeEnqueuer) {
	t.Helper()
	repo := newMemoryRepo()
	enq := &fakeEnqueuer{}
	return NewService(repo, enq, nil, quietLogger(), cfg), repo, enq
}

func subscribe(t *testing.T, svc *Service, url string, events ...string) Subscription {
	t.Helper()
	sub, err := svc.CreateSubscription(context.Background(), SubscriptionInput{
		URL:    url,
		Secret: "whsec_0123456789abcdef",
		Events: events,
	}, 7)
	require.NoError(t, err)
	return sub
}

func TestCreateSubscriptionMasksSecret(t *testing.T) {
	svc, repo, _ := newService(t, Config{})
	sub := subscribe(t, svc, "https://example.com/hooks", "rental.returned")

	require.Empty(t, sub.Secret)
	require.Equal(t, "****cdef", sub.SecretMask)
	require.True(t, sub.IsActive)

	// The stored row keeps the real secret for signing.
	require.Equal(t, "whsec_0123456789abcdef", repo.subs[sub.ID].Secret)
}

func TestCreateSubscriptionValidatesEvents(t *testing.T) {
	svc, _, _ := newService(t, Config{})

	_, err := svc.CreateSubscription(context.Background(), SubscriptionInput{
		URL:    "https://example.com/hooks",
		Secret: "whsec_0123456789abcdef",
		Events: []string{"rental.exploded"},
	}, 7)
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.CreateSubscription(context.Background(), SubscriptionInput{
		URL:    "https://example.com/hooks",
		Secret: "whsec_0123456789abcdef",
		Events: []string{"rental.returned", "rental.returned"},
	}, 7)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateSubscriptionEnforcesHTTPS(t *testing.T) {
	strict, _, _ := newService(t, Config{RequireHTTPS: true})
	_, err := strict.CreateSubscription(context.Background(), SubscriptionInput{
		URL:    "http://example.com/hooks",
		Secret: "whsec_0123456789abcdef",
		Events: []string{"rental.returned"},
	}, 7)
	require.ErrorIs(t, err, httpx.ErrValidation)

	dev, _, _ := newService(t, Config{RequireHTTPS: false})
	_, err = dev.CreateSubscription(context.Background(), SubscriptionInput{
		URL:    "http://localhost:9999/hooks",
		Secret: "whsec_0123456789abcdef",
		Events: []string{"rental.returned"},
	}, 7)
	require.NoError(t, err)
}

func TestUpdateKeepsSecretWhenOmitted(t *testing.T) {
	svc, repo, _ := newService(t, Config{})
	sub := subscribe(t, svc, "https://example.com/hooks", "rental.returned")

	inactive := false
	updated, err := svc.UpdateSubscription(context.Background(), sub.ID, SubscriptionInput{
		URL:      "https://example.com/hooks/v2",
		Events:   []string{"rental.returned", "rental.overdue"},
		IsActive: &inactive,
	}, 7)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/hooks/v2", updated.URL)
	require.False(t, updated.IsActive)
	require.Equal(t, "whsec_0123456789abcdef", repo.subs[sub.ID].Secret)
}

func TestEmitFansOutToMatchingSubscriptions(t *testing.T) {
	svc, repo, enq := newService(t, Config{})
	match := subscribe(t, svc, "https://example.com/a", "rental.returned")
	subscribe(t, svc, "https://example.com/b", "sales_order.confirmed")
	paused := subscribe(t, svc, "https://example.com/c", "rental.returned")
	off := false
	_, err := svc.UpdateSubscription(context.Background(), paused.ID, SubscriptionInput{
		URL:      "https://example.com/c",
		Events:   []string{"rental.returned"},
		IsActive: &off,
	}, 7)
	require.NoError(t, err)

	svc.Emit(context.Background(), "rental.returned", map[string]any{"id": 42})

	require.Len(t, repo.deliveries, 1)
	require.Len(t, enq.ids, 1)
	d := repo.deliveries[enq.ids[0]]
	require.Equal(t, match.ID, d.SubscriptionID)
	require.Equal(t, DeliveryPending, d.Status)

	var event Event
	require.NoError(t, json.Unmarshal(d.Payload, &event))
	require.Equal(t, "rental.returned", event.Type)
	require.Contains(t, event.ID, "evt_")
	require.Equal(t, event.ID, d.EventID)
}

func TestEmitIgnoresUnknownEventType(t *testing.T) {
	svc, repo, _ := newService(t, Config{})
	subscribe(t, svc, "https://example.com/a", "rental.returned")

	svc.Emit(context.Background(), "rental.exploded", nil)
	require.Empty(t, repo.deliveries)
}

func TestDispatchSignsAndDelivers(t *testing.T) {
	svc, repo, enq := newService(t, Config{})

	var gotEvent, gotDelivery, gotSignature string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Meridian-Event")
		gotDelivery = r.Header.Get("X-Meridian-Delivery")
		gotSignature = r.Header.Get("X-Meridian-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	subscribe(t, svc, server.URL, "rental.returned")
	svc.Emit(context.Background(), "rental.returned", map[string]any{"id": 42})
	require.Len(t, enq.ids, 1)

	require.NoError(t, svc.Dispatch(context.Background(), enq.ids[0], false))

	require.Equal(t, "rental.returned", gotEvent)
	require.Equal(t, enq.ids[0].String(), gotDelivery)
	require.True(t, VerifySignature("whsec_0123456789abcdef", gotBody, gotSignature))

	d := repo.deliveries[enq.ids[0]]
	require.Equal(t, DeliveryDelivered, d.Status)
	require.Equal(t, 1, d.Attempts)
	require.NotNil(t, d.DeliveredAt)
}

func TestDispatchRetriesOnFailure(t *testing.T) {
	svc, repo, enq := newService(t, Config{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	subscribe(t, svc, server.URL, "rental.returned")
	svc.Emit(context.Background(), "rental.returned", nil)
	require.Len(t, enq.ids, 1)
	id := enq.ids[0]

	require.Error(t, svc.Dispatch(context.Background(), id, false))
	d := repo.deliveries[id]
	require.Equal(t, DeliveryPending, d.Status)
	require.Equal(t, 1, d.Attempts)
	require.Contains(t, d.LastError, "500")

	require.Error(t, svc.Dispatch(context.Background(), id, true))
	d = repo.deliveries[id]
	require.Equal(t, DeliveryFailed, d.Status)
	require.Equal(t, 2, d.Attempts)
}

func TestDispatchFailsFinallyWhenSubscriptionGone(t *testing.T) {
	svc, repo, enq := newService(t, Config{})
	sub := subscribe(t, svc, "https://example.com/a", "rental.returned")
	svc.Emit(context.Background(), "rental.returned", nil)
	require.Len(t, enq.ids, 1)

	require.NoError(t, svc.DeleteSubscription(context.Background(), sub.ID, 7))
	require.NoError(t, svc.Dispatch(context.Background(), enq.ids[0], false))
	require.Equal(t, DeliveryFailed, repo.deliveries[enq.ids[0]].Status)
}

func TestDispatchSkipsAlreadyDelivered(t *testing.T) {
	svc, repo, enq := newService(t, Config{})
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	subscribe(t, svc, server.URL, "rental.returned")
	svc.Emit(context.Background(), "rental.returned", nil)
	require.Len(t, enq.ids, 1)
	id := enq.ids[0]

	require.NoError(t, svc.Dispatch(context.Background(), id, false))
	require.NoError(t, svc.Dispatch(context.Background(), id, false))
	require.Equal(t, 1, calls)
	require.Equal(t, 1, repo.deliveries[id].Attempts)
}

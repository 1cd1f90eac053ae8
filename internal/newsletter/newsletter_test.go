package newsletter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowsketch/internal/store"
	"github.com/rendis/flowsketch/internal/streaming"
	"github.com/rendis/flowsketch/pkg/schema"
)

func TestSubscribe(t *testing.T) {
	hub := streaming.NewMemoryHub()
	events, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{Topic: streaming.TopicNewsletter})
	require.NoError(t, err)
	defer cancel()

	svc := NewService(store.NewMemoryStore(), hub, nil, nil)
	ctx := context.Background()

	res, err := svc.Subscribe(ctx, "alice@example.com", []string{"collaboration"})
	require.NoError(t, err)
	assert.False(t, res.AlreadySubscribed)
	assert.Equal(t, 1, res.SubscriberCount)
	assert.Contains(t, res.Message, "Successfully subscribed")

	evt := <-events
	assert.Equal(t, schema.EventSubscriberAdded, evt.EventType)

	res, err = svc.Subscribe(ctx, " alice@example.com ", nil)
	require.NoError(t, err)
	assert.True(t, res.AlreadySubscribed)
	assert.Contains(t, res.Message, "already subscribed")
}

func TestSubscribe_Validation(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), nil, nil, nil)
	for _, email := range []string{"", "plain", "a@b", "has space@x.io", "@x.io"} {
		t.Run(email, func(t *testing.T) {
			_, err := svc.Subscribe(context.Background(), email, nil)
			var fe *schema.FlowsketchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, schema.ErrCodeValidation, fe.Code)
		})
	}
}

func TestSummary(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), nil, nil, nil)
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	ctx := context.Background()
	for i := range 7 {
		_, err := svc.Subscribe(ctx, fmt.Sprintf("user%d@example.com", i), nil)
		require.NoError(t, err)
	}

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, sum.TotalSubscribers)
	require.Len(t, sum.RecentSubscribers, 5)
	assert.Equal(t, "us***@example.com", sum.RecentSubscribers[0].Email)
	assert.True(t, sum.RecentSubscribers[0].SubscribedAt.After(sum.RecentSubscribers[4].SubscribedAt))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "al***@example.com", Mask("alice@example.com"))
	assert.Equal(t, "ab***@x.io", Mask("ab@x.io"))
	assert.Equal(t, "no-at-sign", Mask("no-at-sign"))
}

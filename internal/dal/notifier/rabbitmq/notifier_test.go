package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/corray333/labshop/internal/config"
	"github.com/corray333/labshop/internal/dal/rabbitmq"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/testutil/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	err       error
	published []rabbitmq.PublishConfig
}

func (p *fakePublisher) Publish(ctx context.Context, cfg rabbitmq.PublishConfig) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, cfg)

	return nil
}

var testConfig = config.Notifications{
	RoutingKey:     "fulfillment.notifications",
	Queue:          "fulfillment.notifications",
	PublishTimeout: time.Second,
}

func TestNotifyPublishes(t *testing.T) {
	pub := &fakePublisher{}
	repo := memstore.NewOutboxRepo()
	n := NewNotifier(pub, repo, testConfig, 0)
	msg := notification.New(notification.KindOrderPlaced, "ana@example.com", map[string]any{"orderCode": "P-ABC123"})

	require.NoError(t, n.Notify(context.Background(), msg))

	require.Len(t, pub.published, 1)
	got := pub.published[0]
	assert.Equal(t, msg.MessageID, got.MessageID)
	assert.Equal(t, "fulfillment.notifications", got.RoutingKey)
	assert.Equal(t, contentTypeJSON, got.ContentType)

	decoded, err := notification.Decode(got.Body)
	require.NoError(t, err)
	assert.Equal(t, msg.Kind, decoded.Kind)
	assert.Equal(t, "P-ABC123", decoded.Data["orderCode"])
	assert.Zero(t, repo.Len())
}

func TestNotifyParksInOutboxWhenBrokerFails(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	repo := memstore.NewOutboxRepo()
	n := NewNotifier(pub, repo, testConfig, 3)
	msg := notification.New(notification.KindOrderExpired, "ana@example.com", nil)

	require.NoError(t, n.Notify(context.Background(), msg))

	require.Equal(t, 1, repo.Len())
	parked := repo.Messages[1]
	assert.Equal(t, msg.MessageID, parked.MessageID)
	assert.Equal(t, 3, parked.Retry.MaxAttempts)
	assert.Zero(t, parked.Retry.Attempts)
	assert.Equal(t, notification.KindOrderExpired, parked.Kind)
	assert.Equal(t, "channel closed", parked.Retry.LastError)

	var body notification.Message
	require.NoError(t, json.Unmarshal(parked.Payload, &body))
	assert.Equal(t, msg.MessageID, body.MessageID)
}

func TestNotifyParksEvenWhenCallerIsCancelled(t *testing.T) {
	pub := &fakePublisher{err: context.Canceled}
	repo := memstore.NewOutboxRepo()
	n := NewNotifier(pub, repo, testConfig, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, n.Notify(ctx, notification.New(notification.KindOrderCancelled, "ana@example.com", nil)))
	assert.Equal(t, 1, repo.Len())
}

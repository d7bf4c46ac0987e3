package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })
	return pubSub
}

func receiveOne(t *testing.T, messages <-chan *message.Message) CeremonyEvent {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		var ev CeremonyEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return CeremonyEvent{}
	}
}

func TestPublishCeremonyCompleted(t *testing.T) {
	ctx := context.Background()
	pubSub := newTestPubSub(t)

	messages, err := pubSub.Subscribe(ctx, CompletedTopic)
	require.NoError(t, err)

	publisher := NewWatermillPublisher(pubSub)
	result := map[string]any{"operation": "mint", "vtxo_id": "v1"}
	require.NoError(t, publisher.PublishCeremonyCompleted(ctx, "sess-1", "pubkey-1", result))

	ev := receiveOne(t, messages)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.Equal(t, "pubkey-1", ev.UserPubkey)
	assert.Equal(t, "mint", ev.Result["operation"])
	assert.Empty(t, ev.Reason)
}

func TestPublishCeremonyFailed(t *testing.T) {
	ctx := context.Background()
	pubSub := newTestPubSub(t)

	messages, err := pubSub.Subscribe(ctx, FailedTopic)
	require.NoError(t, err)

	publisher := NewWatermillPublisher(pubSub)
	require.NoError(t, publisher.PublishCeremonyFailed(ctx, "sess-2", "pubkey-1", "signature verification failed"))

	ev := receiveOne(t, messages)
	assert.Equal(t, "sess-2", ev.SessionID)
	assert.Equal(t, "signature verification failed", ev.Reason)
	assert.Nil(t, ev.Result)
}

package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherManagerStampsOrderedSequenceNumbers(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := router.Subscriber.Subscribe(ctx, "turn")
	require.NoError(t, err)

	manager := NewPublisherManager()
	manager.SubscribePublisher("turn", router.Publisher)

	meta := NewEventMetadata("turn-1", "thread-1", "test")
	go func() {
		manager.PublishBlind(NewStartEvent(meta, "who is on call?"))
		manager.PublishBlind(NewStatusEvent(meta, "demo.node", "working", 3))
		manager.PublishBlind(NewDoneEvent(meta, "nobody", false))
	}()

	var types []EventType
	for i := 0; i < 3; i++ {
		select {
		case msg := <-msgs:
			assert.Equal(t, fmt.Sprintf("%d", i), msg.Metadata.Get("sequence_number"))

			e, err := NewEventFromJson(msg.Payload)
			require.NoError(t, err)
			assert.Equal(t, string(e.Type()), msg.Metadata.Get("event_type"))
			types = append(types, e.Type())
			msg.Ack()
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for published event")
		}
	}

	assert.Equal(t, []EventType{EventTypeStart, EventTypeStatus, EventTypeDone}, types)
}

func TestEventRouterHandlerSeesEventsInPublishOrder(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	var mu sync.Mutex
	var got []string
	router.AddHandler("collect", "turn", func(msg *message.Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg.Metadata.Get("event_type"))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	manager := NewPublisherManager()
	manager.SubscribePublisher("turn", router.Publisher)

	meta := NewEventMetadata("turn-2", "", "test")
	// the pubsub blocks each publish until the handler acks, so returning
	// from PublishBlind means the handler has seen the event
	manager.PublishBlind(NewStartEvent(meta, "q"))
	manager.PublishBlind(NewChunkEvent(meta, "an", "an"))
	manager.PublishBlind(NewDoneEvent(meta, "answer", false))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start", "chunk", "done"}, got)
}

func TestTeeSinkFansOut(t *testing.T) {
	a := NewCollectorSink()
	b := NewCollectorSink()
	tee := NewTeeSink(a, b)

	meta := NewEventMetadata("turn-3", "", "test")
	tee.PublishBlind(NewStartEvent(meta, "q"))
	tee.PublishBlind(NewDoneEvent(meta, "a", false))

	require.Len(t, a.Events(), 2)
	require.Len(t, b.Events(), 2)
	assert.Equal(t, EventTypeDone, a.Events()[1].Type())
}

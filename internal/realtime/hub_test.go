package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscriber(t *testing.T) {
	hub := NewHub()
	sub, backlog, err := hub.Subscribe("100")
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, backlog)

	hub.Publish("100", Notification{EpisodeID: "ep-1", AlertName: "btc breakout"})

	select {
	case got := <-sub.Events():
		assert.Equal(t, "ep-1", got.EpisodeID)
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
	}
}

func TestPublishIsScopedPerUser(t *testing.T) {
	hub := NewHub()
	mine, _, err := hub.Subscribe("100")
	require.NoError(t, err)
	defer mine.Close()
	other, _, err := hub.Subscribe("200")
	require.NoError(t, err)
	defer other.Close()

	hub.Publish("100", Notification{EpisodeID: "ep-1"})

	select {
	case <-other.Events():
		t.Fatal("notification leaked to another user's stream")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeReplaysBacklog(t *testing.T) {
	hub := NewHub()
	// The stream and its buffer live only while someone is subscribed.
	anchor, _, err := hub.Subscribe("100")
	require.NoError(t, err)
	defer anchor.Close()

	hub.Publish("100", Notification{EpisodeID: "ep-1"})
	hub.Publish("100", Notification{EpisodeID: "ep-2"})

	late, backlog, err := hub.Subscribe("100")
	require.NoError(t, err)
	defer late.Close()

	require.Len(t, backlog, 2)
	assert.Equal(t, "ep-1", backlog[0].EpisodeID)
	assert.Equal(t, "ep-2", backlog[1].EpisodeID)
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("100")
	require.NoError(t, err)
	defer sub.Close()

	// Nobody drains the channel; overflow is dropped, not blocked on.
	for i := 0; i < DefaultSubscriberBuffer*2; i++ {
		hub.Publish("100", Notification{EpisodeID: "ep"})
	}
	assert.Len(t, sub.Events(), DefaultSubscriberBuffer)
}

func TestHasSubscribersAndClose(t *testing.T) {
	hub := NewHub()
	assert.False(t, hub.HasSubscribers("100"))

	sub, _, err := hub.Subscribe("100")
	require.NoError(t, err)
	assert.True(t, hub.HasSubscribers("100"))

	sub.Close()
	sub.Close() // idempotent
	assert.False(t, hub.HasSubscribers("100"))

	// Publishing with nobody listening is a no-op.
	hub.Publish("100", Notification{EpisodeID: "ep-1"})
}

func TestNilHubIsSafe(t *testing.T) {
	var hub *Hub
	hub.Publish("100", Notification{})
	assert.False(t, hub.HasSubscribers("100"))
	_, _, err := hub.Subscribe("100")
	assert.Error(t, err)
}

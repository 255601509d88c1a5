package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunelink-backend/pkg/logger"
)

func init() {
	logger.InitDefault()
}

func newTestClient(hub *Hub, userID uuid.UUID) *Client {
	client := &Client{
		hub:    hub,
		send:   make(chan []byte, 16),
		userID: userID,
		rooms:  make(map[string]bool),
		done:   make(chan struct{}),
	}
	want := hub.UserConnectionCount(userID) + 1
	hub.register <- client
	for hub.UserConnectionCount(userID) < want {
		time.Sleep(time.Millisecond)
	}
	return client
}

func receiveEvent(t *testing.T, client *Client) *Event {
	t.Helper()
	select {
	case data := <-client.send:
		var event Event
		require.NoError(t, json.Unmarshal(data, &event))
		return &event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, client *Client) {
	t.Helper()
	select {
	case data := <-client.send:
		t.Fatalf("unexpected event: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendToUserReachesEveryConnection(t *testing.T) {
	hub := NewHub(nil, nil)
	userID := uuid.New()

	phone := newTestClient(hub, userID)
	laptop := newTestClient(hub, userID)
	other := newTestClient(hub, uuid.New())

	hub.SendToUser(userID, "incoming_call", map[string]interface{}{"call_id": uuid.New()})

	assert.Equal(t, "incoming_call", receiveEvent(t, phone).Event)
	assert.Equal(t, "incoming_call", receiveEvent(t, laptop).Event)
	assertNoEvent(t, other)
}

func TestBroadcastToRoomReachesMembersOnly(t *testing.T) {
	hub := NewHub(nil, nil)

	viewer := newTestClient(hub, uuid.New())
	outsider := newTestClient(hub, uuid.New())

	hub.JoinRoom(viewer, "live:abc")
	hub.BroadcastToRoom("live:abc", "viewer_joined", map[string]interface{}{"viewer_count": 1})

	event := receiveEvent(t, viewer)
	assert.Equal(t, "viewer_joined", event.Event)
	assertNoEvent(t, outsider)

	hub.LeaveRoom(viewer, "live:abc")
	hub.BroadcastToRoom("live:abc", "viewer_left", nil)
	assertNoEvent(t, viewer)
}

func TestBroadcastToRoomExceptSkipsSender(t *testing.T) {
	hub := NewHub(nil, nil)

	senderID := uuid.New()
	sender := newTestClient(hub, senderID)
	listener := newTestClient(hub, uuid.New())

	hub.JoinRoom(sender, "live:abc")
	hub.JoinRoom(listener, "live:abc")

	hub.BroadcastToRoomExcept("live:abc", senderID, "live_comment", map[string]interface{}{"content": "hi"})

	assert.Equal(t, "live_comment", receiveEvent(t, listener).Event)
	assertNoEvent(t, sender)
}

func TestBroadcastGlobalReachesEveryone(t *testing.T) {
	hub := NewHub(nil, nil)

	first := newTestClient(hub, uuid.New())
	second := newTestClient(hub, uuid.New())

	hub.BroadcastGlobal("live_started", map[string]interface{}{"title": "late night set"})

	assert.Equal(t, "live_started", receiveEvent(t, first).Event)
	assert.Equal(t, "live_started", receiveEvent(t, second).Event)
}

func TestUnregisterRemovesClientFromRooms(t *testing.T) {
	hub := NewHub(nil, nil)
	userID := uuid.New()

	client := newTestClient(hub, userID)
	hub.JoinRoom(client, "live:xyz")

	hub.unregister <- client
	<-client.done

	assert.Equal(t, 0, hub.UserConnectionCount(userID))
	assert.Equal(t, 0, hub.RoomSize("live:xyz"))

	hub.BroadcastGlobal("live_started", nil)
	// send channel is closed; a delivery attempt must not panic the hub
	hub.SendToUser(userID, "incoming_call", nil)
}

func TestFanoutSkipsOwnOrigin(t *testing.T) {
	hub := NewHub(nil, nil)
	client := newTestClient(hub, uuid.New())

	data := hub.encode("call_ended", nil)
	envelope, err := json.Marshal(&fanoutEnvelope{
		Origin: hub.instanceID,
		Scope:  scopeGlobal,
		Data:   data,
	})
	require.NoError(t, err)

	hub.handleFanout(envelope)
	assertNoEvent(t, client)
}

func TestFanoutDeliversRemoteEvents(t *testing.T) {
	hub := NewHub(nil, nil)
	userID := uuid.New()
	client := newTestClient(hub, userID)

	data := hub.encode("call_accepted", map[string]interface{}{"call_id": uuid.New()})
	envelope, err := json.Marshal(&fanoutEnvelope{
		Origin: "some-other-instance",
		Scope:  scopeUser,
		Target: userID.String(),
		Data:   data,
	})
	require.NoError(t, err)

	hub.handleFanout(envelope)
	assert.Equal(t, "call_accepted", receiveEvent(t, client).Event)
}

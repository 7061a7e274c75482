package services

import (
	"encoding/json"
	"testing"

	"amigo/models"
	apperrors "amigo/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type relayFixture struct {
	relay    *Relay
	registry *Registry
	calls    *CallTable
	store    *ConversationStore
	db       *gorm.DB
}

func newTestRelay(t *testing.T) *relayFixture {
	db := newTestDB(t)
	log := zaptest.NewLogger(t)
	registry := NewRegistry(log)
	calls := NewCallTable(log)
	store := NewConversationStore(db)
	gate := NewGate(db)
	return &relayFixture{
		relay:    NewRelay(registry, calls, store, gate, log),
		registry: registry,
		calls:    calls,
		store:    store,
		db:       db,
	}
}

func (f *relayFixture) befriend(t *testing.T, a, b string) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Friendship{
		UserA: a, UserB: b, Status: models.FriendshipAccepted,
	}).Error)
}

// connect registers a client through the relay and drains the presence
// events so tests start with an empty queue.
func (f *relayFixture) connect(t *testing.T, userID string) *Client {
	t.Helper()
	c := NewClient(userID, nil)
	f.relay.HandleEvent(c, event(t, EvRegister, RegisterPayload{UserID: userID}))
	require.Same(t, c, f.registry.Resolve(userID))
	drainEvents(c)
	return c
}

func event(t *testing.T, kind string, payload interface{}) []byte {
	t.Helper()
	raw, err := Encode(kind, payload)
	require.NoError(t, err)
	return raw
}

func requireEvent(t *testing.T, c *Client, kind string) Envelope {
	t.Helper()
	env := recvEvent(t, c)
	require.Equal(t, kind, env.Event)
	return env
}

func TestMalformedEventGetsErrorNotCrash(t *testing.T) {
	f := newTestRelay(t)
	c := f.connect(t, "alice")

	f.relay.HandleEvent(c, []byte("{not json"))
	requireEvent(t, c, EvError)

	f.relay.HandleEvent(c, event(t, "no-such-kind", nil))
	requireEvent(t, c, EvError)
}

func TestEventsBeforeRegisterAreRejected(t *testing.T) {
	f := newTestRelay(t)
	c := NewClient("alice", nil)

	f.relay.HandleEvent(c, event(t, EvTyping, TypingPayload{ReceiverID: "bob"}))
	requireEvent(t, c, EvError)
}

func TestRegisterAsAnotherUserIsRejected(t *testing.T) {
	f := newTestRelay(t)
	c := NewClient("alice", nil)

	f.relay.HandleEvent(c, event(t, EvRegister, RegisterPayload{UserID: "bob"}))
	env := requireEvent(t, c, EvError)
	var p ErrorPayload
	decodeData(t, env, &p)
	assert.Equal(t, string(apperrors.CodeUnauthorized), p.Code)
	assert.Nil(t, f.registry.Resolve("alice"))
	assert.Nil(t, f.registry.Resolve("bob"))
}

// The §8 example scenario: friends, both online, one text message.
func TestDirectMessageScenario(t *testing.T) {
	f := newTestRelay(t)
	f.befriend(t, "alice", "bob")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice) // bob's user-online

	f.relay.HandleEvent(alice, event(t, EvSendMessage, SendMessagePayload{
		ReceiverID: "bob", Text: "hi",
	}))

	env := requireEvent(t, bob, EvNewMessage)
	var got MessageEventPayload
	decodeData(t, env, &got)
	require.NotNil(t, got.Message)
	assert.Equal(t, "hi", got.Message.Text)
	assert.Equal(t, "alice", got.Message.SenderID)
	assert.False(t, got.Message.IsRead)

	requireEvent(t, alice, EvMessageSent)

	var count int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	conv, err := f.store.Conversation(got.ConversationID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, got.Message.ID, *conv.LastMessageID)
}

func TestMessageToNonFriendIsDeniedAndNotPersisted(t *testing.T) {
	f := newTestRelay(t)
	alice := f.connect(t, "alice")
	f.connect(t, "mallory")
	drainEvents(alice)

	f.relay.HandleEvent(alice, event(t, EvSendMessage, SendMessagePayload{
		ReceiverID: "mallory", Text: "hi",
	}))

	env := requireEvent(t, alice, EvError)
	var p ErrorPayload
	decodeData(t, env, &p)
	assert.Equal(t, string(apperrors.CodeUnauthorized), p.Code)

	var count int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count, "denied messages are never persisted")
}

func TestGroupFanOut(t *testing.T) {
	f := newTestRelay(t)
	conv, err := f.store.CreateGroup("alice", "club", "", []string{"bob", "carol", "dave"})
	require.NoError(t, err)

	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	dave := f.connect(t, "dave")
	// carol stays offline
	drainEvents(alice)
	drainEvents(bob)

	f.relay.HandleEvent(alice, event(t, EvSendMessage, SendMessagePayload{
		ConversationID: conv.ID, Text: "meeting at 5",
	}))

	requireEvent(t, bob, EvNewMessage)
	requireEvent(t, dave, EvNewMessage)
	requireEvent(t, alice, EvMessageSent)
	assertNoEvent(t, alice)

	var count int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "one row regardless of offline recipients")
}

func TestGroupMessageRequiresMembership(t *testing.T) {
	f := newTestRelay(t)
	conv, err := f.store.CreateGroup("alice", "club", "", []string{"bob"})
	require.NoError(t, err)
	mallory := f.connect(t, "mallory")

	f.relay.HandleEvent(mallory, event(t, EvSendMessage, SendMessagePayload{
		ConversationID: conv.ID, Text: "let me in",
	}))
	env := requireEvent(t, mallory, EvError)
	var p ErrorPayload
	decodeData(t, env, &p)
	assert.Equal(t, string(apperrors.CodeUnauthorized), p.Code)
}

func TestTypingIsEphemeral(t *testing.T) {
	f := newTestRelay(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice)

	f.relay.HandleEvent(alice, event(t, EvTyping, TypingPayload{ReceiverID: "bob"}))
	env := requireEvent(t, bob, EvUserTyping)
	var u UserEventPayload
	decodeData(t, env, &u)
	assert.Equal(t, "alice", u.UserID)

	f.relay.HandleEvent(alice, event(t, EvStopTyping, TypingPayload{ReceiverID: "bob"}))
	requireEvent(t, bob, EvUserStopTyping)

	// Offline target: silent no-op, no error back.
	f.relay.HandleEvent(alice, event(t, EvTyping, TypingPayload{ReceiverID: "carol"}))
	assertNoEvent(t, alice)

	var count int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count, "typing is never persisted")
}

func TestCreateGroupNotifiesOnlineParticipants(t *testing.T) {
	f := newTestRelay(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice)

	f.relay.HandleEvent(alice, event(t, EvCreateGroup, CreateGroupPayload{
		Name: "club", ParticipantIDs: []string{"bob", "carol"},
	}))

	requireEvent(t, alice, EvGroupCreated)
	env := requireEvent(t, bob, EvGroupCreated)
	var g GroupEventPayload
	decodeData(t, env, &g)
	require.NotNil(t, g.Conversation)
	assert.Equal(t, "club", g.Conversation.GroupName)
}

func TestLeaveGroupNotifiesRemaining(t *testing.T) {
	f := newTestRelay(t)
	conv, err := f.store.CreateGroup("alice", "club", "", []string{"bob", "carol"})
	require.NoError(t, err)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice)

	f.relay.HandleEvent(bob, event(t, EvLeaveGroup, GroupPayload{ConversationID: conv.ID}))

	env := requireEvent(t, alice, EvGroupLeft)
	var g GroupEventPayload
	decodeData(t, env, &g)
	assert.Equal(t, "bob", g.UserID)
	requireEvent(t, bob, EvGroupLeft)

	member, err := f.relay.gate.IsMember(conv.ID, "bob")
	require.NoError(t, err)
	assert.False(t, member)
}

func TestAdminChangeRequiresAdmin(t *testing.T) {
	f := newTestRelay(t)
	conv, err := f.store.CreateGroup("alice", "club", "", []string{"bob", "carol"})
	require.NoError(t, err)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice)

	// Non-admin actor is denied.
	f.relay.HandleEvent(bob, event(t, EvPromoteAdmin, GroupPayload{
		ConversationID: conv.ID, UserID: "carol",
	}))
	env := requireEvent(t, bob, EvError)
	var p ErrorPayload
	decodeData(t, env, &p)
	assert.Equal(t, string(apperrors.CodeUnauthorized), p.Code)

	// Admin promotes; both online members hear about it.
	f.relay.HandleEvent(alice, event(t, EvPromoteAdmin, GroupPayload{
		ConversationID: conv.ID, UserID: "bob",
	}))
	requireEvent(t, alice, EvAdminChanged)
	requireEvent(t, bob, EvAdminChanged)

	reloaded, err := f.store.Conversation(conv.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, reloaded.AdminIDs())
}

func TestClearChatOnlyNotifiesClearer(t *testing.T) {
	f := newTestRelay(t)
	f.befriend(t, "alice", "bob")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice)

	f.relay.HandleEvent(alice, event(t, EvSendMessage, SendMessagePayload{ReceiverID: "bob", Text: "hi"}))
	requireEvent(t, bob, EvNewMessage)
	env := requireEvent(t, alice, EvMessageSent)
	var sent MessageEventPayload
	decodeData(t, env, &sent)

	f.relay.HandleEvent(bob, event(t, EvClearChat, GroupPayload{ConversationID: sent.ConversationID}))
	requireEvent(t, bob, EvChatCleared)
	assertNoEvent(t, alice)
}

func TestDeleteMessageForEveryoneFansOut(t *testing.T) {
	f := newTestRelay(t)
	f.befriend(t, "alice", "bob")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice)

	f.relay.HandleEvent(alice, event(t, EvSendMessage, SendMessagePayload{ReceiverID: "bob", Text: "oops"}))
	requireEvent(t, bob, EvNewMessage)
	env := requireEvent(t, alice, EvMessageSent)
	var sent MessageEventPayload
	decodeData(t, env, &sent)

	// The receiver cannot delete for everyone.
	f.relay.HandleEvent(bob, event(t, EvDeleteMessage, DeleteMessagePayload{
		MessageID: sent.Message.ID, ForEveryone: true,
	}))
	requireEvent(t, bob, EvError)

	f.relay.HandleEvent(alice, event(t, EvDeleteMessage, DeleteMessagePayload{
		MessageID: sent.Message.ID, ForEveryone: true,
	}))
	requireEvent(t, alice, EvMessageDeleted)
	requireEvent(t, bob, EvMessageDeleted)
}

func TestCallOfflineCallee(t *testing.T) {
	f := newTestRelay(t)
	f.befriend(t, "alice", "bob")
	alice := f.connect(t, "alice")

	f.relay.HandleEvent(alice, event(t, EvInitiateCall, InitiateCallPayload{
		ReceiverID: "bob", CallType: "video",
	}))

	env := requireEvent(t, alice, EvCallError)
	var p ErrorPayload
	decodeData(t, env, &p)
	assert.Equal(t, string(apperrors.CodeOffline), p.Code)
	assert.False(t, f.calls.InCall("alice"), "call never enters ringing")
}

func TestCallBusyCallee(t *testing.T) {
	f := newTestRelay(t)
	f.befriend(t, "alice", "bob")
	f.befriend(t, "carol", "bob")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	carol := f.connect(t, "carol")
	drainEvents(alice)
	drainEvents(bob)

	f.relay.HandleEvent(alice, event(t, EvInitiateCall, InitiateCallPayload{
		ReceiverID: "bob", CallType: "voice",
	}))
	requireEvent(t, bob, EvIncomingCall)
	requireEvent(t, alice, EvCallRinging)

	f.relay.HandleEvent(carol, event(t, EvInitiateCall, InitiateCallPayload{
		ReceiverID: "bob", CallType: "voice",
	}))
	requireEvent(t, carol, EvCallBusy)
	assertNoEvent(t, bob)
	assert.True(t, f.calls.InCall("bob"), "busy attempt leaves the session unchanged")
}

func TestCallUnfriendlyCallerDenied(t *testing.T) {
	f := newTestRelay(t)
	alice := f.connect(t, "alice")
	f.connect(t, "bob")
	drainEvents(alice)

	f.relay.HandleEvent(alice, event(t, EvInitiateCall, InitiateCallPayload{
		ReceiverID: "bob", CallType: "video",
	}))
	env := requireEvent(t, alice, EvCallError)
	var p ErrorPayload
	decodeData(t, env, &p)
	assert.Equal(t, string(apperrors.CodeUnauthorized), p.Code)
}

func TestCallAcceptFlow(t *testing.T) {
	f := newTestRelay(t)
	f.befriend(t, "alice", "bob")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice)

	f.relay.HandleEvent(alice, event(t, EvInitiateCall, InitiateCallPayload{
		ReceiverID: "bob", CallerName: "Alice", CallType: "video",
	}))
	env := requireEvent(t, bob, EvIncomingCall)
	var incoming IncomingCallPayload
	decodeData(t, env, &incoming)
	assert.Equal(t, "alice", incoming.CallerID)
	assert.Equal(t, "Alice", incoming.CallerName)
	requireEvent(t, alice, EvCallRinging)

	f.relay.HandleEvent(bob, event(t, EvAcceptCall, CallPeerPayload{CallerID: "alice"}))
	env = requireEvent(t, alice, EvCallAccepted)
	var u UserEventPayload
	decodeData(t, env, &u)
	assert.Equal(t, "bob", u.UserID)
}

func TestAcceptWithoutRingDoesNotNotifyCaller(t *testing.T) {
	f := newTestRelay(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice)

	f.relay.HandleEvent(bob, event(t, EvAcceptCall, CallPeerPayload{CallerID: "alice"}))
	requireEvent(t, bob, EvCallError)
	assertNoEvent(t, alice)
}

func TestRejectCallIsIdempotentThroughRelay(t *testing.T) {
	f := newTestRelay(t)
	f.befriend(t, "alice", "bob")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice)

	f.relay.HandleEvent(alice, event(t, EvInitiateCall, InitiateCallPayload{ReceiverID: "bob", CallType: "voice"}))
	requireEvent(t, bob, EvIncomingCall)
	requireEvent(t, alice, EvCallRinging)

	f.relay.HandleEvent(bob, event(t, EvRejectCall, CallPeerPayload{CallerID: "alice"}))
	requireEvent(t, alice, EvCallRejected)

	f.relay.HandleEvent(bob, event(t, EvRejectCall, CallPeerPayload{CallerID: "alice"}))
	assertNoEvent(t, alice)
	assertNoEvent(t, bob)
}

func TestEndCallNotifiesCounterpart(t *testing.T) {
	f := newTestRelay(t)
	f.befriend(t, "alice", "bob")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice)

	f.relay.HandleEvent(alice, event(t, EvInitiateCall, InitiateCallPayload{ReceiverID: "bob", CallType: "voice"}))
	requireEvent(t, bob, EvIncomingCall)
	requireEvent(t, alice, EvCallRinging)
	f.relay.HandleEvent(bob, event(t, EvAcceptCall, CallPeerPayload{CallerID: "alice"}))
	requireEvent(t, alice, EvCallAccepted)

	f.relay.HandleEvent(alice, event(t, EvEndCall, CallPeerPayload{}))
	env := requireEvent(t, bob, EvCallEnded)
	var u UserEventPayload
	decodeData(t, env, &u)
	assert.Equal(t, "alice", u.UserID)
	assert.False(t, f.calls.InCall("alice"))
	assert.False(t, f.calls.InCall("bob"))
}

func TestDisconnectTearsDownCall(t *testing.T) {
	f := newTestRelay(t)
	f.befriend(t, "alice", "bob")
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice)

	f.relay.HandleEvent(alice, event(t, EvInitiateCall, InitiateCallPayload{ReceiverID: "bob", CallType: "video"}))
	requireEvent(t, bob, EvIncomingCall)
	requireEvent(t, alice, EvCallRinging)
	f.relay.HandleEvent(bob, event(t, EvAcceptCall, CallPeerPayload{CallerID: "alice"}))
	requireEvent(t, alice, EvCallAccepted)

	f.relay.HandleDisconnect(alice)

	// Presence goes first, then exactly one call-ended.
	requireEvent(t, bob, EvUserOffline)
	env := requireEvent(t, bob, EvCallEnded)
	var u UserEventPayload
	decodeData(t, env, &u)
	assert.Equal(t, "alice", u.UserID)
	assert.False(t, f.calls.InCall("alice"))
	assert.False(t, f.calls.InCall("bob"))
	assertNoEvent(t, bob)

	// A duplicate disconnect must not produce a second teardown.
	f.relay.HandleDisconnect(alice)
	assertNoEvent(t, bob)
}

func TestWebRTCSignalsAreForwardedVerbatim(t *testing.T) {
	f := newTestRelay(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	drainEvents(alice)

	raw := event(t, EvWebRTCOffer, SignalPayload{
		ReceiverID: "bob",
		Offer:      json.RawMessage(`{"sdp":"v=0","type":"offer"}`),
	})
	f.relay.HandleEvent(alice, raw)

	env := requireEvent(t, bob, EvWebRTCOffer)
	var sig SignalPayload
	decodeData(t, env, &sig)
	assert.JSONEq(t, `{"sdp":"v=0","type":"offer"}`, string(sig.Offer))

	// Unresolvable target: dropped, no error to the sender.
	f.relay.HandleEvent(alice, event(t, EvWebRTCICE, SignalPayload{
		TargetID:  "ghost",
		Candidate: json.RawMessage(`{"candidate":"c"}`),
	}))
	assertNoEvent(t, alice)
}

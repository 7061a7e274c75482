package services

import (
	"encoding/json"

	"amigo/metrics"
	apperrors "amigo/pkg/errors"

	"go.uber.org/zap"
)

// Relay routes inbound realtime events: validate the shape, run the
// authorization gate, persist durable side effects, then fan out to live
// connections. Persistence always happens before delivery is attempted.
type Relay struct {
	registry *Registry
	calls    *CallTable
	store    *ConversationStore
	gate     *Gate
	log      *zap.Logger
}

func NewRelay(registry *Registry, calls *CallTable, store *ConversationStore, gate *Gate, log *zap.Logger) *Relay {
	return &Relay{
		registry: registry,
		calls:    calls,
		store:    store,
		gate:     gate,
		log:      log,
	}
}

// HandleEvent processes one inbound frame. Every failure is converted to an
// outbound error event for the sender; nothing here ever tears down the
// connection or reaches other participants.
func (r *Relay) HandleEvent(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		r.fail(c, EvError, apperrors.Validation("malformed event"))
		return
	}
	metrics.EventsReceived.WithLabelValues(env.Event).Inc()

	if env.Event == EvRegister {
		if err := r.handleRegister(c, env.Data); err != nil {
			r.fail(c, EvError, err)
		}
		return
	}
	if !c.registered {
		r.fail(c, EvError, apperrors.Validation("register first"))
		return
	}

	errEvent := EvError
	var err error
	switch env.Event {
	case EvSendMessage:
		err = r.handleSendMessage(c, env.Data)
	case EvTyping:
		err = r.handleTyping(c, env.Data, EvUserTyping)
	case EvStopTyping:
		err = r.handleTyping(c, env.Data, EvUserStopTyping)
	case EvCreateGroup:
		err = r.handleCreateGroup(c, env.Data)
	case EvLeaveGroup:
		err = r.handleLeaveGroup(c, env.Data)
	case EvPromoteAdmin:
		err = r.handleAdminChange(c, env.Data, true)
	case EvDemoteAdmin:
		err = r.handleAdminChange(c, env.Data, false)
	case EvClearChat:
		err = r.handleClearChat(c, env.Data)
	case EvDeleteMessage:
		err = r.handleDeleteMessage(c, env.Data)
	case EvInitiateCall:
		errEvent = EvCallError
		err = r.handleInitiateCall(c, env.Data)
	case EvAcceptCall:
		errEvent = EvCallError
		err = r.handleAcceptCall(c, env.Data)
	case EvRejectCall:
		errEvent = EvCallError
		err = r.handleRejectCall(c, env.Data)
	case EvEndCall:
		errEvent = EvCallError
		err = r.handleEndCall(c, env.Data)
	case EvWebRTCOffer, EvWebRTCAnswer, EvWebRTCICE:
		err = r.handleSignal(c, env, raw)
	default:
		err = apperrors.Validation("unknown event kind")
	}
	if err != nil {
		r.fail(c, errEvent, err)
	}
}

// HandleDisconnect runs the presence and call cleanup for a closed
// connection. Safe for abrupt disconnects and duplicate calls.
func (r *Relay) HandleDisconnect(c *Client) {
	userID, ok := r.registry.Unregister(c)
	if !ok {
		return
	}
	peer, had := r.calls.Drop(userID)
	if !had {
		return
	}
	if cl := r.registry.Resolve(peer); cl != nil {
		cl.Deliver(EvCallEnded, UserEventPayload{UserID: userID})
	}
}

func (r *Relay) handleRegister(c *Client, raw json.RawMessage) error {
	var p RegisterPayload
	if len(raw) > 0 {
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
	}
	// The identity comes from the authenticated connection; a register for
	// someone else is rejected.
	if p.UserID != "" && p.UserID != c.UserID {
		return apperrors.Unauthorized("cannot register as another user")
	}
	r.registry.Register(c)
	return nil
}

func (r *Relay) handleSendMessage(c *Client, raw json.RawMessage) error {
	var p SendMessagePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}

	var conversationID string
	switch {
	case p.ConversationID != "":
		if err := r.gate.CanMessageConversation(p.ConversationID, c.UserID); err != nil {
			return err
		}
		conversationID = p.ConversationID
	case p.ReceiverID != "":
		if err := r.gate.CanMessage(c.UserID, p.ReceiverID); err != nil {
			return err
		}
		conv, err := r.store.FindOrCreateDirect(c.UserID, p.ReceiverID)
		if err != nil {
			return err
		}
		conversationID = conv.ID
	default:
		return apperrors.Validation("receiverId or conversationId is required")
	}

	msg, err := r.store.AppendMessage(conversationID, c.UserID, MessageDraft{
		Text:            p.Text,
		SharedPostID:    p.SharedPostID,
		SharedStoryID:   p.SharedStoryID,
		SharedProfileID: p.SharedProfile,
		Attachment:      p.Attachment,
		EncryptedKey:    p.EncryptedKey,
		EncryptedKeys:   p.EncryptedKeys,
		IV:              p.IV,
	})
	if err != nil {
		return err
	}

	// Persisted; now fan out independently per recipient. Offline
	// participants see the message on their next history fetch.
	conv, err := r.store.Conversation(conversationID)
	if err != nil {
		return err
	}
	out := MessageEventPayload{Message: msg, ConversationID: conversationID}
	for _, id := range conv.ParticipantIDs() {
		if id == c.UserID {
			continue
		}
		if cl := r.registry.Resolve(id); cl != nil {
			cl.Deliver(EvNewMessage, out)
		}
	}
	c.Deliver(EvMessageSent, out)
	return nil
}

func (r *Relay) handleTyping(c *Client, raw json.RawMessage, outEvent string) error {
	var p TypingPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.ReceiverID == "" {
		return apperrors.Validation("receiverId is required")
	}
	// Ephemeral: no persistence, silent no-op when the target is offline.
	if cl := r.registry.Resolve(p.ReceiverID); cl != nil {
		cl.Deliver(outEvent, UserEventPayload{UserID: c.UserID})
	}
	return nil
}

func (r *Relay) handleCreateGroup(c *Client, raw json.RawMessage) error {
	var p CreateGroupPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	conv, err := r.store.CreateGroup(c.UserID, p.Name, p.Avatar, p.ParticipantIDs)
	if err != nil {
		return err
	}
	out := GroupEventPayload{Conversation: conv, ConversationID: conv.ID}
	for _, id := range conv.ParticipantIDs() {
		if cl := r.registry.Resolve(id); cl != nil {
			cl.Deliver(EvGroupCreated, out)
		}
	}
	return nil
}

func (r *Relay) handleLeaveGroup(c *Client, raw json.RawMessage) error {
	var p GroupPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.ConversationID == "" {
		return apperrors.Validation("conversationId is required")
	}

	// Snapshot membership before the row goes away, for the fan-out.
	conv, err := r.store.Conversation(p.ConversationID)
	if err != nil {
		return err
	}
	if _, err := r.store.Leave(p.ConversationID, c.UserID); err != nil {
		return err
	}

	out := GroupEventPayload{ConversationID: p.ConversationID, UserID: c.UserID}
	for _, id := range conv.ParticipantIDs() {
		if cl := r.registry.Resolve(id); cl != nil {
			cl.Deliver(EvGroupLeft, out)
		}
	}
	return nil
}

func (r *Relay) handleAdminChange(c *Client, raw json.RawMessage, promote bool) error {
	var p GroupPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.ConversationID == "" || p.UserID == "" {
		return apperrors.Validation("conversationId and userId are required")
	}
	if err := r.gate.CanAdminister(p.ConversationID, c.UserID); err != nil {
		return err
	}

	change := r.store.PromoteAdmin
	if !promote {
		change = r.store.DemoteAdmin
	}
	if err := change(p.ConversationID, p.UserID); err != nil {
		return err
	}

	conv, err := r.store.Conversation(p.ConversationID)
	if err != nil {
		return err
	}
	out := GroupEventPayload{ConversationID: p.ConversationID, UserID: p.UserID, IsAdmin: promote}
	for _, id := range conv.ParticipantIDs() {
		if cl := r.registry.Resolve(id); cl != nil {
			cl.Deliver(EvAdminChanged, out)
		}
	}
	return nil
}

func (r *Relay) handleClearChat(c *Client, raw json.RawMessage) error {
	var p GroupPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.ConversationID == "" {
		return apperrors.Validation("conversationId is required")
	}
	if err := r.gate.CanMessageConversation(p.ConversationID, c.UserID); err != nil {
		return err
	}
	if _, err := r.store.ClearChat(p.ConversationID, c.UserID); err != nil {
		return err
	}
	// Per-viewer operation: only the clearing user is notified.
	c.Deliver(EvChatCleared, GroupEventPayload{ConversationID: p.ConversationID})
	return nil
}

func (r *Relay) handleDeleteMessage(c *Client, raw json.RawMessage) error {
	var p DeleteMessagePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.MessageID == "" {
		return apperrors.Validation("messageId is required")
	}

	if !p.ForEveryone {
		msg, err := r.store.SoftDelete(p.MessageID, c.UserID)
		if err != nil {
			return err
		}
		c.Deliver(EvMessageDeleted, MessageDeletedPayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
		})
		return nil
	}

	msg, err := r.store.HardDelete(p.MessageID, c.UserID)
	if err != nil {
		return err
	}
	conv, err := r.store.Conversation(msg.ConversationID)
	if err != nil {
		return err
	}
	out := MessageDeletedPayload{MessageID: msg.ID, ConversationID: msg.ConversationID}
	for _, id := range conv.ParticipantIDs() {
		if id == c.UserID {
			continue
		}
		if cl := r.registry.Resolve(id); cl != nil {
			cl.Deliver(EvMessageDeleted, out)
		}
	}
	c.Deliver(EvMessageDeleted, out)
	return nil
}

func (r *Relay) handleInitiateCall(c *Client, raw json.RawMessage) error {
	var p InitiateCallPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.ReceiverID == "" {
		return apperrors.Validation("receiverId is required")
	}
	if err := r.gate.CanCall(c.UserID, p.ReceiverID); err != nil {
		return err
	}

	callee := r.registry.Resolve(p.ReceiverID)
	if callee == nil {
		return apperrors.Offline("user is offline")
	}
	if err := r.calls.Begin(c.UserID, p.ReceiverID, p.CallType); err != nil {
		return err
	}

	callee.Deliver(EvIncomingCall, IncomingCallPayload{
		CallerID:     c.UserID,
		CallerName:   p.CallerName,
		CallerAvatar: p.CallerAvatar,
		CallType:     p.CallType,
	})
	c.Deliver(EvCallRinging, nil)
	return nil
}

func (r *Relay) handleAcceptCall(c *Client, raw json.RawMessage) error {
	var p CallPeerPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.CallerID == "" {
		return apperrors.Validation("callerId is required")
	}
	// An accept with no matching ring is rejected, the caller is not told.
	if err := r.calls.Accept(c.UserID, p.CallerID); err != nil {
		r.log.Warn("accept without ringing call",
			zap.String("callee", c.UserID),
			zap.String("caller", p.CallerID))
		return err
	}
	if cl := r.registry.Resolve(p.CallerID); cl != nil {
		cl.Deliver(EvCallAccepted, UserEventPayload{UserID: c.UserID})
	}
	return nil
}

func (r *Relay) handleRejectCall(c *Client, raw json.RawMessage) error {
	var p CallPeerPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.CallerID == "" {
		return apperrors.Validation("callerId is required")
	}
	if !r.calls.Reject(c.UserID, p.CallerID) {
		return nil // idempotent: nothing to reject, no event
	}
	if cl := r.registry.Resolve(p.CallerID); cl != nil {
		cl.Deliver(EvCallRejected, UserEventPayload{UserID: c.UserID})
	}
	return nil
}

func (r *Relay) handleEndCall(c *Client, raw json.RawMessage) error {
	var p CallPeerPayload
	if len(raw) > 0 {
		if err := decodePayload(raw, &p); err != nil {
			return err
		}
	}
	peer, ok := r.calls.End(c.UserID, p.UserID)
	if !ok {
		return nil
	}
	if cl := r.registry.Resolve(peer); cl != nil {
		cl.Deliver(EvCallEnded, UserEventPayload{UserID: c.UserID})
	}
	return nil
}

// handleSignal forwards webrtc offers, answers and ICE candidates verbatim.
// No state transition, no authorization beyond the sender being registered;
// unresolvable targets drop the frame.
func (r *Relay) handleSignal(c *Client, env Envelope, raw []byte) error {
	var p SignalPayload
	if err := decodePayload(env.Data, &p); err != nil {
		return err
	}
	target := p.Target()
	if target == "" {
		return apperrors.Validation("signal target is required")
	}
	if cl := r.registry.Resolve(target); cl != nil {
		cl.deliverRaw(raw)
	}
	return nil
}

// fail converts an error into the outbound error event for the sender.
func (r *Relay) fail(c *Client, event string, err error) {
	code := apperrors.CodeOf(err)
	metrics.RelayErrors.WithLabelValues(string(code)).Inc()

	msg := err.Error()
	if code == apperrors.CodePersistence || code == apperrors.CodeUnknown {
		// Store failures abort the whole event; the sender gets a generic
		// failure, the detail stays in the logs.
		r.log.Error("relay event failed", zap.String("user_id", c.UserID), zap.Error(err))
		msg = "something went wrong, try again"
	}

	if event == EvCallError && code == apperrors.CodeBusy {
		c.Deliver(EvCallBusy, ErrorPayload{Code: string(code), Message: msg})
		return
	}
	c.Deliver(event, ErrorPayload{Code: string(code), Message: msg})
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return apperrors.Validation("missing event payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.Validation("malformed event payload")
	}
	return nil
}

package services

import (
	"encoding/json"

	"amigo/models"
)

// Envelope is the wire frame for every websocket event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event kinds.
const (
	EvRegister      = "register"
	EvSendMessage   = "send-message"
	EvTyping        = "typing"
	EvStopTyping    = "stop-typing"
	EvCreateGroup   = "create-group"
	EvLeaveGroup    = "leave-group"
	EvPromoteAdmin  = "promote-admin"
	EvDemoteAdmin   = "demote-admin"
	EvClearChat     = "clear-chat"
	EvDeleteMessage = "delete-message"
	EvInitiateCall  = "initiate-call"
	EvAcceptCall    = "accept-call"
	EvRejectCall    = "reject-call"
	EvEndCall       = "end-call"
	EvWebRTCOffer   = "webrtc-offer"
	EvWebRTCAnswer  = "webrtc-answer"
	EvWebRTCICE     = "webrtc-ice-candidate"
)

// Outbound event kinds.
const (
	EvActiveUsers    = "active-users"
	EvUserOnline     = "user-online"
	EvUserOffline    = "user-offline"
	EvNewMessage     = "new-message"
	EvMessageSent    = "message-sent"
	EvUserTyping     = "user-typing"
	EvUserStopTyping = "user-stop-typing"
	EvGroupCreated   = "group-created"
	EvGroupLeft      = "group-left"
	EvAdminChanged   = "admin-changed"
	EvChatCleared    = "chat-cleared"
	EvMessageDeleted = "message-deleted"
	EvIncomingCall   = "incoming-call"
	EvCallRinging    = "call-ringing"
	EvCallBusy       = "call-busy"
	EvCallAccepted   = "call-accepted"
	EvCallRejected   = "call-rejected"
	EvCallEnded      = "call-ended"
	EvCallError      = "call-error"
	EvError          = "error"
)

// Inbound payloads. Validated at the boundary before any business logic.

type RegisterPayload struct {
	UserID string `json:"userId"`
}

type SendMessagePayload struct {
	ReceiverID     string            `json:"receiverId,omitempty"`     // private chat target
	ConversationID string            `json:"conversationId,omitempty"` // existing (group) conversation
	Text           string            `json:"text,omitempty"`
	SharedPostID   string            `json:"sharedPostId,omitempty"`
	SharedStoryID  string            `json:"sharedStoryId,omitempty"`
	SharedProfile  string            `json:"sharedProfileId,omitempty"`
	Attachment     models.Attachment `json:"attachment,omitempty"`
	EncryptedKey   string            `json:"encryptedKey,omitempty"`
	EncryptedKeys  map[string]string `json:"encryptedKeys,omitempty"`
	IV             string            `json:"iv,omitempty"`
}

type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
}

type CreateGroupPayload struct {
	Name           string   `json:"name"`
	Avatar         string   `json:"avatar,omitempty"`
	ParticipantIDs []string `json:"participantIds"`
}

type GroupPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"` // promote/demote target
}

type DeleteMessagePayload struct {
	MessageID   string `json:"messageId"`
	ForEveryone bool   `json:"forEveryone,omitempty"`
}

type InitiateCallPayload struct {
	ReceiverID   string `json:"receiverId"`
	CallerName   string `json:"callerName,omitempty"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
	CallType     string `json:"callType"` // voice or video
}

type CallPeerPayload struct {
	CallerID string `json:"callerId,omitempty"`
	UserID   string `json:"userId,omitempty"` // end-call counterpart, optional
}

type SignalPayload struct {
	ReceiverID string          `json:"receiverId,omitempty"`
	CallerID   string          `json:"callerId,omitempty"`
	TargetID   string          `json:"targetId,omitempty"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

// Target resolves the delivery target for a signaling payload.
func (p *SignalPayload) Target() string {
	switch {
	case p.ReceiverID != "":
		return p.ReceiverID
	case p.CallerID != "":
		return p.CallerID
	default:
		return p.TargetID
	}
}

// Outbound payloads.

type UserEventPayload struct {
	UserID string `json:"userId"`
}

type ActiveUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

type MessageEventPayload struct {
	Message        *models.Message `json:"message"`
	ConversationID string          `json:"conversationId"`
}

type GroupEventPayload struct {
	Conversation   *models.Conversation `json:"conversation,omitempty"`
	ConversationID string               `json:"conversationId"`
	UserID         string               `json:"userId,omitempty"`
	IsAdmin        bool                 `json:"isAdmin,omitempty"`
}

type MessageDeletedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type IncomingCallPayload struct {
	CallerID     string `json:"callerId"`
	CallerName   string `json:"callerName,omitempty"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
	CallType     string `json:"callType"`
}

type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Encode builds the wire bytes for an outbound event.
func Encode(event string, data interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

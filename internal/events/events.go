// Package events defines the JSON messages exchanged with websocket clients.
package events

import (
	"encoding/json"
	"time"

	"codebattle/internal/models"
)

type Type string

// Inbound.
const (
	Create       Type = "create"
	Join         Type = "join"
	Leave        Type = "leave"
	RemoveMember Type = "remove-member"
	Delete       Type = "delete"
)

// Outbound.
const (
	Created         Type = "created"
	Joined          Type = "joined"
	MemberJoined    Type = "member-joined"
	MemberLeft      Type = "member-left"
	Updated         Type = "updated"
	ReadyToStart    Type = "ready-to-start"
	Started         Type = "started"
	Tick            Type = "tick"
	Finished        Type = "finished"
	Draw            Type = "draw"
	Closed          Type = "closed"
	RoomListChanged Type = "room-list-changed"
	Error           Type = "error"
	Ack             Type = "ack"
)

type CloseReason string

const (
	ReasonHostLeft    CloseReason = "host-left"
	ReasonHostDeleted CloseReason = "host-deleted"
)

// Envelope is an inbound client message. Data is decoded per type.
type Envelope struct {
	Type   Type            `json:"type"`
	RoomID string          `json:"roomId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound event.
type Message struct {
	Type   Type   `json:"type"`
	RoomID string `json:"roomId,omitempty"`
	Data   any    `json:"data,omitempty"`
}

func New(t Type, roomID string, data any) Message {
	return Message{Type: t, RoomID: roomID, Data: data}
}

type RoomPayload struct {
	Room *models.Room `json:"room"`
}

type MemberPayload struct {
	UserID string       `json:"userId"`
	Room   *models.Room `json:"room"`
}

type ReadyPayload struct {
	StartsIn int64        `json:"startsIn"` // milliseconds
	Room     *models.Room `json:"room"`
}

type StartedPayload struct {
	Problem   models.Problem `json:"problem"`
	Duration  int            `json:"duration"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime"`
	Room      *models.Room   `json:"room"`
}

// TickPayload carries seconds.
type TickPayload struct {
	Remaining int64 `json:"remaining"`
	Elapsed   int64 `json:"elapsed"`
}

type FinishedPayload struct {
	Winner models.Winner `json:"winner"`
	Room   *models.Room  `json:"room"`
}

type ClosedPayload struct {
	Reason CloseReason `json:"reason"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Event   Type   `json:"event,omitempty"`
}

type AckPayload struct {
	Event Type `json:"event"`
}

// RemoveMemberRequest is the data of a remove-member event.
type RemoveMemberRequest struct {
	UserID string `json:"userId"`
}

package models

import (
	"slices"
	"time"
)

// Room is one battle: a fixed-capacity, time-boxed contest on a single problem.
type Room struct {
	RoomID        string     `gorm:"primaryKey;size:6" json:"roomId" bson:"_id"`
	Mode          Mode       `gorm:"size:10;not null" json:"mode" bson:"mode"`
	Duration      int        `gorm:"not null" json:"duration" bson:"duration"` // minutes
	ProblemRating int        `gorm:"not null" json:"problemRating" bson:"problemRating"`
	Topics        []string   `gorm:"type:jsonb;serializer:json" json:"topics" bson:"topics"`
	Players       []Member   `gorm:"foreignKey:RoomID;references:RoomID;constraint:OnDelete:CASCADE" json:"players" bson:"players"`
	Problem       *Problem   `gorm:"type:jsonb;serializer:json" json:"problem" bson:"problem"`
	Status        RoomStatus `gorm:"size:10;not null;index" json:"status" bson:"status"`
	Winner        *Winner    `gorm:"type:jsonb;serializer:json" json:"winner" bson:"winner"`
	StartTime     *time.Time `json:"startTime" bson:"startTime"`
	EndTime       *time.Time `json:"endTime" bson:"endTime"`
	CreatedBy     string     `gorm:"size:64;not null" json:"createdBy" bson:"createdBy"`
	CreatedAt     time.Time  `gorm:"index" json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomStatusWaiting  RoomStatus = "waiting"
	RoomStatusActive   RoomStatus = "active"
	RoomStatusFinished RoomStatus = "finished"
	RoomStatusDraw     RoomStatus = "draw"
)

// Terminal reports whether no further lifecycle transition is allowed.
func (s RoomStatus) Terminal() bool {
	return s == RoomStatusFinished || s == RoomStatusDraw
}

func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusWaiting, RoomStatusActive, RoomStatusFinished, RoomStatusDraw:
		return true
	}
	return false
}

// Mode fixes how many players a room admits.
type Mode string

const (
	ModeDuo   Mode = "duo"
	ModeTrio  Mode = "trio"
	ModeSquad Mode = "squad"
)

// Capacity returns the player limit of the mode, or 0 for an unknown mode.
func (m Mode) Capacity() int {
	switch m {
	case ModeDuo:
		return 2
	case ModeTrio:
		return 3
	case ModeSquad:
		return 4
	default:
		return 0
	}
}

func (m Mode) Valid() bool {
	return m.Capacity() > 0
}

// Member is a user seated in a room.
type Member struct {
	ID       uint      `gorm:"primaryKey" json:"-" bson:"-"`
	RoomID   string    `gorm:"size:6;not null;uniqueIndex:idx_room_member" json:"-" bson:"-"`
	UserID   string    `gorm:"size:64;not null;uniqueIndex:idx_room_member" json:"userId" bson:"userId"`
	Username string    `gorm:"size:64" json:"username" bson:"username"`
	Handle   string    `gorm:"size:64;not null" json:"codeforcesHandle" bson:"codeforcesHandle"`
	Score    int       `gorm:"not null;default:0" json:"score" bson:"score"`
	JoinedAt time.Time `json:"joinedAt" bson:"joinedAt"`
}

func (Member) TableName() string {
	return "room_members"
}

// Winner records who solved the room's problem first.
type Winner struct {
	UserID   string    `json:"userId" bson:"userId"`
	Username string    `json:"username" bson:"username"`
	Handle   string    `json:"codeforcesHandle" bson:"codeforcesHandle"`
	SolvedAt time.Time `json:"solvedAt" bson:"solvedAt"`
}

func (r *Room) Capacity() int {
	return r.Mode.Capacity()
}

func (r *Room) IsFull() bool {
	return len(r.Players) >= r.Capacity()
}

func (r *Room) IsHost(userID string) bool {
	return r.CreatedBy == userID
}

func (r *Room) HasMember(userID string) bool {
	return r.MemberIndex(userID) >= 0
}

func (r *Room) MemberIndex(userID string) int {
	return slices.IndexFunc(r.Players, func(m Member) bool { return m.UserID == userID })
}

// Handles lists the members' judge handles in member order.
func (r *Room) Handles() []string {
	handles := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		handles = append(handles, p.Handle)
	}
	return handles
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Topics = slices.Clone(r.Topics)
	c.Players = slices.Clone(r.Players)
	if r.Problem != nil {
		p := *r.Problem
		p.Tags = slices.Clone(r.Problem.Tags)
		c.Problem = &p
	}
	if r.Winner != nil {
		w := *r.Winner
		c.Winner = &w
	}
	if r.StartTime != nil {
		t := *r.StartTime
		c.StartTime = &t
	}
	if r.EndTime != nil {
		t := *r.EndTime
		c.EndTime = &t
	}
	return &c
}

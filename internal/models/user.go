package models

import "time"

// User is a registered player. Score is the running total across all battles.
type User struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id" bson:"_id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username" bson:"username"`
	PasswordHash string    `gorm:"not null" json:"-" bson:"passwordHash"`
	Handle       string    `gorm:"size:64" json:"codeforcesHandle" bson:"codeforcesHandle"`
	Score        int       `gorm:"not null;default:0" json:"score" bson:"score"`
	Streak       Streak    `gorm:"embedded;embeddedPrefix:streak_" json:"streak" bson:"streak"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Member builds the room entry for this user.
func (u *User) Member(joinedAt time.Time) Member {
	return Member{
		UserID:   u.ID,
		Username: u.Username,
		Handle:   u.Handle,
		JoinedAt: joinedAt,
	}
}

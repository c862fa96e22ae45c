package models

import "time"

// Difficulty labels one of the three slots of a daily set.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// DifficultyBand is the rating range (Min, Max].
type DifficultyBand struct {
	Difficulty Difficulty
	Min        int
	Max        int
}

// Contains reports whether rating falls in (Min, Max].
func (b DifficultyBand) Contains(rating int) bool {
	return rating > b.Min && rating <= b.Max
}

// DailyBands are the rating ranges of the daily set, in slot order.
var DailyBands = []DifficultyBand{
	{Difficulty: DifficultyEasy, Min: 0, Max: 1000},
	{Difficulty: DifficultyMedium, Min: 1000, Max: 1400},
	{Difficulty: DifficultyHard, Min: 1400, Max: 1800},
}

type DailyProblem struct {
	Difficulty Difficulty `json:"difficulty" bson:"difficulty"`
	Problem    `bson:",inline"`
}

// DailySet is the problem-of-the-day assignment for one calendar day.
type DailySet struct {
	Day       string         `gorm:"primaryKey;size:10" json:"date" bson:"_id"`
	Problems  []DailyProblem `gorm:"type:jsonb;serializer:json" json:"problems" bson:"problems"`
	CreatedAt time.Time      `json:"createdAt" bson:"createdAt"`
}

// DailySolve records that a user solved one problem of a daily set.
type DailySolve struct {
	ID           uint      `gorm:"primaryKey" json:"-" bson:"-"`
	Day          string    `gorm:"size:10;not null;uniqueIndex:idx_daily_solve" json:"date" bson:"day"`
	UserID       string    `gorm:"size:64;not null;uniqueIndex:idx_daily_solve" json:"userId" bson:"userId"`
	ProblemIndex int       `gorm:"not null;uniqueIndex:idx_daily_solve" json:"problemIndex" bson:"problemIndex"`
	SolvedAt     time.Time `json:"solvedAt" bson:"solvedAt"`
}

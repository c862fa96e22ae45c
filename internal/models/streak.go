package models

import (
	"slices"
	"time"
)

// DayLayout is the calendar-day format used for streaks and daily sets.
const DayLayout = "2006-01-02"

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b string) (int, error) {
	ta, err := time.Parse(DayLayout, a)
	if err != nil {
		return 0, err
	}
	tb, err := time.Parse(DayLayout, b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

// Streak counts consecutive calendar days with at least one recorded solve.
type Streak struct {
	Current    int      `gorm:"not null;default:0" json:"currentStreak" bson:"currentStreak"`
	Longest    int      `gorm:"not null;default:0" json:"longestStreak" bson:"longestStreak"`
	LastSolved string   `gorm:"size:10" json:"lastSolvedDate" bson:"lastSolvedDate"`
	SolvedDays []string `gorm:"type:jsonb;serializer:json" json:"solvedDates" bson:"solvedDates"`
}

// Record registers a solve on day and reports whether the streak changed.
//
// A day directly after the last solved day extends the streak, a later day
// restarts it at 1, and an earlier day is only added to the history.
func (s *Streak) Record(day string) bool {
	if slices.Contains(s.SolvedDays, day) {
		return false
	}
	s.SolvedDays = append(s.SolvedDays, day)
	slices.Sort(s.SolvedDays)

	if s.LastSolved == "" {
		s.Current = 1
		s.LastSolved = day
	} else {
		diff, err := DaysBetween(s.LastSolved, day)
		switch {
		case err != nil:
			s.Current = 1
			s.LastSolved = day
		case diff == 1:
			s.Current++
			s.LastSolved = day
		case diff > 1:
			s.Current = 1
			s.LastSolved = day
		}
	}

	if s.Current > s.Longest {
		s.Longest = s.Current
	}
	return true
}

// Clone returns a copy that shares no slices with s.
func (s Streak) Clone() Streak {
	s.SolvedDays = slices.Clone(s.SolvedDays)
	return s
}

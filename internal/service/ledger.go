package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"codebattle/internal/apperr"
	"codebattle/internal/models"
	"codebattle/internal/repository"
)

// Points are the score deltas of a terminal room.
type Points struct {
	Win  int
	Loss int
	Draw int
}

func DefaultPoints() Points {
	return Points{Win: 10, Loss: 2, Draw: 5}
}

func (p Points) Validate() error {
	if !(p.Loss < p.Draw && p.Draw < p.Win) {
		return fmt.Errorf("scoring: want loss < draw < win, got loss=%d draw=%d win=%d", p.Loss, p.Draw, p.Win)
	}
	return nil
}

// Awards returns the delta of every member of a terminal room.
func (p Points) Awards(room *models.Room) (map[string]int, error) {
	awards := make(map[string]int, len(room.Players))
	switch room.Status {
	case models.RoomStatusFinished:
		if room.Winner == nil {
			return nil, apperr.Internal("finished room without winner", nil)
		}
		for _, m := range room.Players {
			if m.UserID == room.Winner.UserID {
				awards[m.UserID] = p.Win
			} else {
				awards[m.UserID] = p.Loss
			}
		}
	case models.RoomStatusDraw:
		for _, m := range room.Players {
			awards[m.UserID] = p.Draw
		}
	default:
		return nil, apperr.Internal(fmt.Sprintf("cannot score room in status %q", room.Status), nil)
	}
	return awards, nil
}

// LedgerService adds battle results to the players' running totals.
// Callers must apply a room at most once.
type LedgerService struct {
	rooms    repository.RoomRepository
	users    repository.UserRepository
	streaks  *StreakService
	points   Points
	location *time.Location
	logger   *slog.Logger
}

func NewLedgerService(rooms repository.RoomRepository, users repository.UserRepository, streaks *StreakService, points Points, loc *time.Location, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		rooms:    rooms,
		users:    users,
		streaks:  streaks,
		points:   points,
		location: loc,
		logger:   logger.With("component", "ledger"),
	}
}

func (s *LedgerService) Points() Points {
	return s.points
}

// Apply scores a terminal room. A winner's solve also counts toward their
// daily streak.
func (s *LedgerService) Apply(ctx context.Context, room *models.Room) error {
	awards, err := s.points.Awards(room)
	if err != nil {
		return err
	}

	var errs []error
	for _, m := range room.Players {
		if err := s.users.AddScore(ctx, m.UserID, awards[m.UserID]); err != nil {
			s.logger.Error("failed to add score", "room_id", room.RoomID, "user_id", m.UserID, "error", err)
			errs = append(errs, err)
		}
	}
	if err := s.rooms.SetMemberScores(ctx, room.RoomID, awards); err != nil {
		s.logger.Error("failed to record room scores", "room_id", room.RoomID, "error", err)
		errs = append(errs, err)
	}

	if room.Status == models.RoomStatusFinished && s.streaks != nil {
		day := models.DayOf(room.Winner.SolvedAt, s.location)
		if _, err := s.streaks.RecordDay(ctx, room.Winner.UserID, day); err != nil {
			s.logger.Error("failed to update streak", "user_id", room.Winner.UserID, "error", err)
			errs = append(errs, err)
		}
	}

	s.logger.Info("battle scored", "room_id", room.RoomID, "status", room.Status, "awards", awards)
	return errors.Join(errs...)
}

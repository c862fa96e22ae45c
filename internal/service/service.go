package service

import (
	"log/slog"
	"time"

	"codebattle/internal/repository"
	"codebattle/internal/utils"
)

// Options collects the settings the services need from the configuration.
type Options struct {
	Points   Points
	Location *time.Location
	Daily    DailyConfig
}

type Services struct {
	User   *UserService
	Room   *RoomService
	Ledger *LedgerService
	Streak *StreakService
	Daily  *DailyService
}

func NewServices(repos *repository.Repositories, source DailySource, tokens *utils.TokenManager, opts Options, logger *slog.Logger) *Services {
	streaks := NewStreakService(repos.User, logger)
	if opts.Daily.Location == nil {
		opts.Daily.Location = opts.Location
	}
	return &Services{
		User:   NewUserService(repos.User, tokens, logger),
		Room:   NewRoomService(repos.Room, repos.User, logger),
		Ledger: NewLedgerService(repos.Room, repos.User, streaks, opts.Points, opts.Location, logger),
		Streak: streaks,
		Daily:  NewDailyService(repos.Daily, repos.User, streaks, source, opts.Daily, logger),
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"codebattle/internal/apperr"
	"codebattle/internal/judge"
	"codebattle/internal/models"
	"codebattle/internal/repository"
)

// DailySource is the part of the judge the daily set needs.
type DailySource interface {
	FetchCatalog(ctx context.Context) ([]models.Problem, error)
	HasAcceptedSince(ctx context.Context, handle, problemID string, since time.Time) bool
}

type DailyConfig struct {
	Location     *time.Location
	LookbackDays int
	Concurrency  int
}

// Progress is a user's standing on today's set.
type Progress struct {
	Date   string        `json:"date"`
	Solved []int         `json:"solved"`
	Streak models.Streak `json:"streak"`
}

// SweepResult summarizes one VerifyAll pass.
type SweepResult struct {
	Sets     int `json:"sets"`
	Users    int `json:"users"`
	Recorded int `json:"recorded"`
}

var ErrSweepRunning = apperr.Conflict("verification is already running")

// DailyService generates the daily problem set and credits solves to the
// users who made them.
type DailyService struct {
	daily   repository.DailyRepository
	users   repository.UserRepository
	streaks *StreakService
	source  DailySource
	cfg     DailyConfig
	now     func() time.Time
	running atomic.Bool
	logger  *slog.Logger
}

func NewDailyService(daily repository.DailyRepository, users repository.UserRepository, streaks *StreakService, source DailySource, cfg DailyConfig, logger *slog.Logger) *DailyService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LookbackDays < 1 {
		cfg.LookbackDays = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	return &DailyService{
		daily:   daily,
		users:   users,
		streaks: streaks,
		source:  source,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With("component", "daily"),
	}
}

func (s *DailyService) today() string {
	return models.DayOf(s.now(), s.cfg.Location)
}

func (s *DailyService) dayStart(day string) (time.Time, error) {
	return time.ParseInLocation(models.DayLayout, day, s.cfg.Location)
}

// Today returns the set for the current day, generating it on first use.
func (s *DailyService) Today(ctx context.Context) (*models.DailySet, error) {
	return s.EnsureDay(ctx, s.today())
}

// EnsureDay returns the set for day, generating it from the catalog if it
// does not exist yet.
func (s *DailyService) EnsureDay(ctx context.Context, day string) (*models.DailySet, error) {
	set, err := s.daily.FindByDay(ctx, day)
	if err == nil {
		return set, nil
	}
	if !errors.Is(err, repository.ErrDailyNotFound) {
		return nil, err
	}

	catalog, err := s.source.FetchCatalog(ctx)
	if err != nil {
		return nil, err
	}
	problems, err := judge.PickDaily(catalog, day)
	if err != nil {
		return nil, err
	}

	set = &models.DailySet{Day: day, Problems: problems, CreatedAt: s.now()}
	switch err := s.daily.Create(ctx, set); {
	case err == nil:
		s.logger.Info("daily set generated", "day", day, "problems", len(problems))
		return set, nil
	case errors.Is(err, repository.ErrDuplicateKey):
		// Another caller generated it first.
		return s.daily.FindByDay(ctx, day)
	default:
		return nil, fmt.Errorf("store daily set: %w", err)
	}
}

func (s *DailyService) Progress(ctx context.Context, userID string) (*Progress, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	day := s.today()
	solves, err := s.daily.FindUserSolves(ctx, day, userID)
	if err != nil {
		return nil, err
	}
	solved := make([]int, 0, len(solves))
	for _, sv := range solves {
		solved = append(solved, sv.ProblemIndex)
	}
	return &Progress{Date: day, Solved: solved, Streak: user.Streak}, nil
}

// VerifyUser checks whether userID solved problem index of today's set and
// records it. It reports whether the problem counts as solved.
func (s *DailyService) VerifyUser(ctx context.Context, userID string, index int) (bool, error) {
	set, err := s.Today(ctx)
	if err != nil {
		return false, err
	}
	if index < 0 || index >= len(set.Problems) {
		return false, apperr.Validation(fmt.Sprintf("problem index must be between 0 and %d", len(set.Problems)-1))
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(user.Handle) == "" {
		return false, apperr.Validation("set your Codeforces handle first")
	}

	solves, err := s.daily.FindUserSolves(ctx, set.Day, userID)
	if err != nil {
		return false, err
	}
	for _, sv := range solves {
		if sv.ProblemIndex == index {
			return true, nil
		}
	}

	since, err := s.dayStart(set.Day)
	if err != nil {
		return false, err
	}
	if !s.source.HasAcceptedSince(ctx, user.Handle, set.Problems[index].ID, since) {
		return false, nil
	}
	if err := s.record(ctx, set.Day, user.ID, index); err != nil {
		return false, err
	}
	return true, nil
}

// VerifyAll credits every unrecorded solve of the recent daily sets. Only one
// pass runs at a time.
func (s *DailyService) VerifyAll(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	if !s.running.CompareAndSwap(false, true) {
		return result, ErrSweepRunning
	}
	defer s.running.Store(false)

	from := s.now().In(s.cfg.Location).AddDate(0, 0, -(s.cfg.LookbackDays - 1))
	sets, err := s.daily.FindSince(ctx, models.DayOf(from, s.cfg.Location))
	if err != nil {
		return result, err
	}
	users, err := s.users.FindWithHandle(ctx)
	if err != nil {
		return result, err
	}
	result.Sets = len(sets)
	result.Users = len(users)

	var recorded atomic.Int64
	for _, set := range sets {
		since, err := s.dayStart(set.Day)
		if err != nil {
			s.logger.Warn("skipping daily set with bad day", "day", set.Day, "error", err)
			continue
		}
		solves, err := s.daily.FindSolves(ctx, set.Day)
		if err != nil {
			return result, err
		}
		done := make(map[string]map[int]bool, len(solves))
		for _, sv := range solves {
			if done[sv.UserID] == nil {
				done[sv.UserID] = make(map[int]bool)
			}
			done[sv.UserID][sv.ProblemIndex] = true
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for _, user := range users {
			g.Go(func() error {
				for idx, p := range set.Problems {
					if done[user.ID][idx] {
						continue
					}
					if !s.source.HasAcceptedSince(gctx, user.Handle, p.ID, since) {
						continue
					}
					if err := s.record(gctx, set.Day, user.ID, idx); err != nil {
						s.logger.Error("failed to record daily solve", "day", set.Day, "user_id", user.ID, "index", idx, "error", err)
						continue
					}
					recorded.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}
	}

	result.Recorded = int(recorded.Load())
	s.logger.Info("daily verification finished", "sets", result.Sets, "users", result.Users, "recorded", result.Recorded)
	return result, ctx.Err()
}

func (s *DailyService) record(ctx context.Context, day, userID string, index int) error {
	created, err := s.daily.RecordSolve(ctx, &models.DailySolve{
		Day:          day,
		UserID:       userID,
		ProblemIndex: index,
		SolvedAt:     s.now(),
	})
	if err != nil || !created {
		return err
	}
	_, err = s.streaks.RecordDay(ctx, userID, day)
	return err
}

package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"codebattle/internal/models"
	"codebattle/internal/repository"
)

type solveKey struct {
	day    string
	userID string
	index  int
}

type DailyRepository struct {
	mu     sync.Mutex
	sets   map[string]models.DailySet
	solves map[solveKey]models.DailySolve
}

func NewDailyRepository() *DailyRepository {
	return &DailyRepository{
		sets:   make(map[string]models.DailySet),
		solves: make(map[solveKey]models.DailySolve),
	}
}

func cloneSet(s models.DailySet) *models.DailySet {
	s.Problems = slices.Clone(s.Problems)
	return &s
}

func (r *DailyRepository) Create(_ context.Context, set *models.DailySet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sets[set.Day]; ok {
		return repository.ErrDuplicateKey
	}
	if set.CreatedAt.IsZero() {
		set.CreatedAt = time.Now()
	}
	r.sets[set.Day] = *cloneSet(*set)
	return nil
}

func (r *DailyRepository) FindByDay(_ context.Context, day string) (*models.DailySet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sets[day]
	if !ok {
		return nil, repository.ErrDailyNotFound
	}
	return cloneSet(set), nil
}

func (r *DailyRepository) FindSince(_ context.Context, day string) ([]models.DailySet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sets []models.DailySet
	for d, set := range r.sets {
		if d >= day {
			sets = append(sets, *cloneSet(set))
		}
	}
	slices.SortFunc(sets, func(a, b models.DailySet) int { return strings.Compare(a.Day, b.Day) })
	return sets, nil
}

func (r *DailyRepository) RecordSolve(_ context.Context, solve *models.DailySolve) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := solveKey{day: solve.Day, userID: solve.UserID, index: solve.ProblemIndex}
	if _, ok := r.solves[key]; ok {
		return false, nil
	}
	r.solves[key] = *solve
	return true, nil
}

func (r *DailyRepository) findSolves(keep func(models.DailySolve) bool) []models.DailySolve {
	r.mu.Lock()
	defer r.mu.Unlock()

	var solves []models.DailySolve
	for _, s := range r.solves {
		if keep(s) {
			solves = append(solves, s)
		}
	}
	slices.SortFunc(solves, func(a, b models.DailySolve) int {
		if c := strings.Compare(a.UserID, b.UserID); c != 0 {
			return c
		}
		return a.ProblemIndex - b.ProblemIndex
	})
	return solves
}

func (r *DailyRepository) FindSolves(_ context.Context, day string) ([]models.DailySolve, error) {
	return r.findSolves(func(s models.DailySolve) bool { return s.Day == day }), nil
}

func (r *DailyRepository) FindUserSolves(_ context.Context, day, userID string) ([]models.DailySolve, error) {
	return r.findSolves(func(s models.DailySolve) bool { return s.Day == day && s.UserID == userID }), nil
}

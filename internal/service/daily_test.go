package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codebattle/internal/apperr"
	"codebattle/internal/models"
	"codebattle/internal/repository"
	"codebattle/internal/repository/memory"
)

type fakeDailySource struct {
	mu       sync.Mutex
	catalog  []models.Problem
	err      error
	fetches  int
	accepted map[string]map[string]bool // handle -> problem id
	asked    []time.Time
}

func (f *fakeDailySource) FetchCatalog(context.Context) ([]models.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.catalog, f.err
}

func (f *fakeDailySource) HasAcceptedSince(_ context.Context, handle, problemID string, since time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, since)
	return f.accepted[handle][problemID]
}

func (f *fakeDailySource) accept(handle, problemID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accepted == nil {
		f.accepted = make(map[string]map[string]bool)
	}
	if f.accepted[handle] == nil {
		f.accepted[handle] = make(map[string]bool)
	}
	f.accepted[handle][problemID] = true
}

func dailyCatalog() []models.Problem {
	var catalog []models.Problem
	for i, rating := range []int{800, 900, 1100, 1300, 1500, 1700} {
		idx := string(rune('A' + i))
		catalog = append(catalog, models.Problem{
			ID:        models.ProblemID(1000, idx),
			ContestID: 1000,
			Index:     idx,
			Name:      "Problem " + idx,
			Rating:    rating,
		})
	}
	return catalog
}

func newDailyFixture(t *testing.T) (*DailyService, *repository.Repositories, *fakeDailySource) {
	t.Helper()
	repos := memory.NewRepositories()
	src := &fakeDailySource{catalog: dailyCatalog()}
	streaks := NewStreakService(repos.User, testLogger())
	svc := NewDailyService(repos.Daily, repos.User, streaks, src, DailyConfig{Location: time.UTC, LookbackDays: 2}, testLogger())
	svc.now = func() time.Time { return time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC) }
	return svc, repos, src
}

func TestTodayGeneratesOnce(t *testing.T) {
	svc, _, src := newDailyFixture(t)
	ctx := context.Background()

	first, err := svc.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-20", first.Day)
	require.Len(t, first.Problems, 3)
	for i, band := range models.DailyBands {
		assert.Equal(t, band.Difficulty, first.Problems[i].Difficulty)
		assert.True(t, band.Contains(first.Problems[i].Rating))
	}

	second, err := svc.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Problems, second.Problems)
	assert.Equal(t, 1, src.fetches)
}

func TestTodayConcurrentGeneration(t *testing.T) {
	svc, _, _ := newDailyFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	sets := make([]*models.DailySet, 8)
	for i := range sets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := svc.Today(ctx)
			assert.NoError(t, err)
			sets[i] = set
		}()
	}
	wg.Wait()
	for _, set := range sets[1:] {
		assert.Equal(t, sets[0].Problems, set.Problems)
	}
}

func TestTodayCatalogOutage(t *testing.T) {
	svc, _, src := newDailyFixture(t)
	src.err = apperr.Upstream("problem catalog is unavailable", nil)

	_, err := svc.Today(context.Background())
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestVerifyAllRecordsOnce(t *testing.T) {
	svc, repos, src := newDailyFixture(t)
	ctx := context.Background()
	seedUser(t, repos, "u1", "alice")
	seedUser(t, repos, "u2", "bob")
	seedUser(t, repos, "u3", "")

	set, err := svc.Today(ctx)
	require.NoError(t, err)
	src.accept("alice", set.Problems[0].ID)
	src.accept("alice", set.Problems[2].ID)
	src.accept("bob", set.Problems[1].ID)

	res, err := svc.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Sets: 1, Users: 2, Recorded: 3}, res)

	dayStart := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	for _, since := range src.asked {
		assert.True(t, since.Equal(dayStart))
	}

	res, err = svc.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Recorded)

	alice, err := repos.User.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.Streak.Current)
	assert.Equal(t, []string{"2024-05-20"}, alice.Streak.SolvedDays)

	progress, err := svc.Progress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-20", progress.Date)
	assert.ElementsMatch(t, []int{0, 2}, progress.Solved)
	assert.Equal(t, 1, progress.Streak.Current)
}

func TestVerifyAllCoversLookbackWindow(t *testing.T) {
	svc, repos, src := newDailyFixture(t)
	ctx := context.Background()
	seedUser(t, repos, "u1", "alice")

	yesterday, err := svc.EnsureDay(ctx, "2024-05-19")
	require.NoError(t, err)
	_, err = svc.EnsureDay(ctx, "2024-05-10")
	require.NoError(t, err)
	_, err = svc.Today(ctx)
	require.NoError(t, err)
	src.accept("alice", yesterday.Problems[1].ID)

	res, err := svc.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sets)
	assert.Equal(t, 1, res.Recorded)

	solves, err := repos.Daily.FindUserSolves(ctx, "2024-05-19", "u1")
	require.NoError(t, err)
	require.Len(t, solves, 1)
	assert.Equal(t, 1, solves[0].ProblemIndex)
}

func TestVerifyUser(t *testing.T) {
	svc, repos, src := newDailyFixture(t)
	ctx := context.Background()
	seedUser(t, repos, "u1", "alice")
	seedUser(t, repos, "u2", "")

	set, err := svc.Today(ctx)
	require.NoError(t, err)

	_, err = svc.VerifyUser(ctx, "u1", 3)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.VerifyUser(ctx, "u2", 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	ok, err := svc.VerifyUser(ctx, "u1", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	src.accept("alice", set.Problems[1].ID)
	ok, err = svc.VerifyUser(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	asked := len(src.asked)
	ok, err = svc.VerifyUser(ctx, "u1", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, asked, len(src.asked), "recorded solves are not re-checked upstream")
}

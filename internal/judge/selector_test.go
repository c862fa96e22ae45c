package judge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codebattle/internal/apperr"
	"codebattle/internal/models"
)

type fakeSource struct {
	catalog []models.Problem
	err     error
	solved  map[string][]string
}

func (f *fakeSource) FetchCatalog(context.Context) ([]models.Problem, error) {
	return f.catalog, f.err
}

func (f *fakeSource) FetchAcceptedSet(_ context.Context, handle string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, id := range f.solved[handle] {
		set[id] = struct{}{}
	}
	return set
}

func first(int) int { return 0 }

var testCatalog = []models.Problem{
	{ID: "1-A", Rating: 1200, Tags: []string{"dp", "math"}},
	{ID: "2-A", Rating: 1200, Tags: []string{"greedy"}},
	{ID: "3-B", Rating: 1200, Tags: []string{"dp"}},
	{ID: "4-C", Rating: 1300, Tags: []string{"dp"}},
}

func TestSelectProblemFiltersRatingAndTopics(t *testing.T) {
	src := &fakeSource{catalog: testCatalog}

	p, err := SelectProblem(context.Background(), src, nil, 1200, []string{"dp"}, first)
	require.NoError(t, err)
	assert.Equal(t, "1-A", p.ID)

	p, err = SelectProblem(context.Background(), src, nil, 1300, nil, first)
	require.NoError(t, err)
	assert.Equal(t, "4-C", p.ID)
}

func TestSelectProblemExcludesAnyMembersSolves(t *testing.T) {
	src := &fakeSource{
		catalog: testCatalog,
		solved: map[string][]string{
			"alice": {"1-A"},
			"bob":   {"2-A"},
		},
	}

	p, err := SelectProblem(context.Background(), src, []string{"alice", "bob"}, 1200, nil, first)
	require.NoError(t, err)
	assert.Equal(t, "3-B", p.ID)
}

func TestSelectProblemFallbackKeepsRatingAndTopics(t *testing.T) {
	src := &fakeSource{
		catalog: testCatalog,
		solved:  map[string][]string{"alice": {"1-A", "3-B"}},
	}

	var seen []string
	for i := 0; i < 2; i++ {
		p, err := SelectProblem(context.Background(), src, []string{"alice"}, 1200, []string{"dp"}, func(int) int { return i })
		require.NoError(t, err)
		assert.Equal(t, 1200, p.Rating)
		assert.Contains(t, p.Tags, "dp")
		seen = append(seen, p.ID)
	}
	assert.ElementsMatch(t, []string{"1-A", "3-B"}, seen)
}

func TestSelectProblemNoMatch(t *testing.T) {
	src := &fakeSource{catalog: testCatalog}

	_, err := SelectProblem(context.Background(), src, nil, 2400, nil, first)
	assert.ErrorIs(t, err, ErrNoProblem)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestSelectProblemCatalogOutage(t *testing.T) {
	src := &fakeSource{err: apperr.Upstream("problem catalog is unavailable", errors.New("timeout"))}

	_, err := SelectProblem(context.Background(), src, []string{"alice"}, 1200, nil, first)
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestPickDailyIsDeterministicPerDay(t *testing.T) {
	var catalog []models.Problem
	for i, r := range []int{800, 900, 1000, 1100, 1200, 1300, 1400, 1500, 1600, 1700, 1800, 1900} {
		catalog = append(catalog, models.Problem{ID: models.ProblemID(100+i, "A"), Rating: r})
	}

	a, err := PickDaily(catalog, "2026-10-18")
	require.NoError(t, err)
	require.Len(t, a, 3)

	reversed := make([]models.Problem, len(catalog))
	for i, p := range catalog {
		reversed[len(catalog)-1-i] = p
	}
	b, err := PickDaily(reversed, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, a, b, "catalog order must not matter")

	assert.Equal(t, models.DifficultyEasy, a[0].Difficulty)
	assert.LessOrEqual(t, a[0].Rating, 1000)
	assert.Equal(t, models.DifficultyMedium, a[1].Difficulty)
	assert.Greater(t, a[1].Rating, 1000)
	assert.LessOrEqual(t, a[1].Rating, 1400)
	assert.Equal(t, models.DifficultyHard, a[2].Difficulty)
	assert.Greater(t, a[2].Rating, 1400)
	assert.LessOrEqual(t, a[2].Rating, 1800)
}

func TestPickDailyMissingBand(t *testing.T) {
	catalog := []models.Problem{{ID: "1-A", Rating: 800}, {ID: "2-A", Rating: 1200}}

	_, err := PickDaily(catalog, "2026-10-18")
	assert.Error(t, err)

	_, err = PickDaily(catalog, "not-a-day")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

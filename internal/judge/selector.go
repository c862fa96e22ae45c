package judge

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"codebattle/internal/apperr"
	"codebattle/internal/models"
)

// Source is the part of the judge that problem selection reads from.
type Source interface {
	FetchCatalog(ctx context.Context) ([]models.Problem, error)
	FetchAcceptedSet(ctx context.Context, handle string) map[string]struct{}
}

var ErrNoProblem = apperr.Conflict("no problem matches the room's rating and topics")

// SelectProblem filters the catalog by exact rating and required topics,
// drops problems any handle already solved and picks one uniformly with intn.
// When every match is already solved the unsolved filter is dropped; the
// rating and topic filters never are.
func SelectProblem(ctx context.Context, src Source, handles []string, rating int, topics []string, intn func(int) int) (models.Problem, error) {
	catalog, err := src.FetchCatalog(ctx)
	if err != nil {
		return models.Problem{}, err
	}

	solved := acceptedUnion(ctx, src, handles)

	var unsolved, matching []models.Problem
	for _, p := range catalog {
		if p.Rating != rating || !p.HasTags(topics) {
			continue
		}
		matching = append(matching, p)
		if _, ok := solved[p.ID]; !ok {
			unsolved = append(unsolved, p)
		}
	}

	candidates := unsolved
	if len(candidates) == 0 {
		candidates = matching
	}
	if len(candidates) == 0 {
		return models.Problem{}, ErrNoProblem
	}
	return candidates[intn(len(candidates))], nil
}

func acceptedUnion(ctx context.Context, src Source, handles []string) map[string]struct{} {
	var (
		mu    sync.Mutex
		union = make(map[string]struct{})
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		g.Go(func() error {
			set := src.FetchAcceptedSet(ctx, h)
			mu.Lock()
			for id := range set {
				union[id] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return union
}

// PickDaily picks one problem per daily band. The pick depends only on the
// catalog and the day, so every instance computes the same set.
func PickDaily(catalog []models.Problem, day string) ([]models.DailyProblem, error) {
	seed, err := strconv.ParseUint(strings.ReplaceAll(day, "-", ""), 10, 64)
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("invalid day %q", day))
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	picked := make([]models.DailyProblem, 0, len(models.DailyBands))
	for _, band := range models.DailyBands {
		var candidates []models.Problem
		for _, p := range catalog {
			if band.Contains(p.Rating) {
				candidates = append(candidates, p)
			}
		}
		if len(candidates) == 0 {
			return nil, apperr.Conflict(fmt.Sprintf("no %s problem available", band.Difficulty))
		}
		slices.SortFunc(candidates, func(a, b models.Problem) int {
			return strings.Compare(a.ID, b.ID)
		})
		picked = append(picked, models.DailyProblem{
			Difficulty: band.Difficulty,
			Problem:    candidates[rng.IntN(len(candidates))],
		})
	}
	return picked, nil
}

// Package judge talks to the Codeforces public API and picks battle problems from its catalog.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"codebattle/internal/apperr"
	"codebattle/internal/models"
)

const problemLinkFormat = "https://codeforces.com/problemset/problem/%d/%s"

type Config struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	CatalogTTL  time.Duration
	StatusCount int
}

// Client is a Codeforces API client. Lookups of user history never fail:
// errors are logged and reported as "nothing solved".
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	group    singleflight.Group
	mu       sync.RWMutex
	catalog  []models.Problem
	cachedAt time.Time

	intn func(n int) int
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "CodeBattle-App"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "judge"),
		intn:   rand.IntN,
	}
}

type apiResponse[T any] struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
	Result  T      `json:"result"`
}

type cfProblem struct {
	ContestID int      `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Rating    int      `json:"rating"`
	Tags      []string `json:"tags"`
}

func (p cfProblem) id() string {
	return models.ProblemID(p.ContestID, p.Index)
}

type cfSubmission struct {
	ID                  int64     `json:"id"`
	CreationTimeSeconds int64     `json:"creationTimeSeconds"`
	Problem             cfProblem `json:"problem"`
	Verdict             string    `json:"verdict"`
}

func getJSON[T any](ctx context.Context, c *Client, method string, query url.Values) (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + "/" + method
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return zero, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	var body apiResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return zero, fmt.Errorf("decode %s (http %d): %w", method, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "OK" {
		return zero, fmt.Errorf("%s: http %d: %s", method, resp.StatusCode, body.Comment)
	}
	return body.Result, nil
}

// FetchCatalog returns the rated problems of the problemset. The result is
// cached and shared; callers must not modify it.
func (c *Client) FetchCatalog(ctx context.Context) ([]models.Problem, error) {
	c.mu.RLock()
	if c.catalog != nil && time.Since(c.cachedAt) < c.cfg.CatalogTTL {
		catalog := c.catalog
		c.mu.RUnlock()
		return catalog, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("catalog", func() (any, error) {
		result, err := getJSON[struct {
			Problems []cfProblem `json:"problems"`
		}](ctx, c, "problemset.problems", nil)
		if err != nil {
			return nil, err
		}

		catalog := make([]models.Problem, 0, len(result.Problems))
		for _, p := range result.Problems {
			if p.Rating == 0 || p.ContestID == 0 {
				continue
			}
			catalog = append(catalog, models.Problem{
				ID:        p.id(),
				ContestID: p.ContestID,
				Index:     p.Index,
				Name:      p.Name,
				Rating:    p.Rating,
				Tags:      p.Tags,
				Link:      fmt.Sprintf(problemLinkFormat, p.ContestID, p.Index),
			})
		}

		c.mu.Lock()
		c.catalog = catalog
		c.cachedAt = time.Now()
		c.mu.Unlock()
		return catalog, nil
	})
	if err != nil {
		c.logger.Error("failed to fetch problem catalog", "error", err)
		return nil, apperr.Upstream("problem catalog is unavailable", err)
	}
	return v.([]models.Problem), nil
}

func (c *Client) fetchStatus(ctx context.Context, handle string, count int) ([]cfSubmission, error) {
	query := url.Values{"handle": {handle}}
	if count > 0 {
		query.Set("from", "1")
		query.Set("count", fmt.Sprint(count))
	}
	return getJSON[[]cfSubmission](ctx, c, "user.status", query)
}

// FetchAcceptedSet returns the ids of all problems handle has solved.
// Any failure yields an empty set.
func (c *Client) FetchAcceptedSet(ctx context.Context, handle string) map[string]struct{} {
	solved := make(map[string]struct{})
	if handle == "" {
		return solved
	}

	subs, err := c.fetchStatus(ctx, handle, 0)
	if err != nil {
		c.logger.Warn("failed to fetch submissions", "handle", handle, "error", err)
		return solved
	}
	for _, s := range subs {
		if s.Verdict == "OK" {
			solved[s.Problem.id()] = struct{}{}
		}
	}
	return solved
}

// HasAcceptedSince reports whether handle got an accepted verdict on
// problemID at or after since. Any failure yields false.
func (c *Client) HasAcceptedSince(ctx context.Context, handle, problemID string, since time.Time) bool {
	if handle == "" {
		return false
	}

	subs, err := c.fetchStatus(ctx, handle, c.cfg.StatusCount)
	if err != nil {
		c.logger.Warn("failed to check submissions", "handle", handle, "problem_id", problemID, "error", err)
		return false
	}
	for _, s := range subs {
		if s.Verdict == "OK" && s.Problem.id() == problemID && s.CreationTimeSeconds >= since.Unix() {
			return true
		}
	}
	return false
}

// PickProblem selects a battle problem none of handles has solved.
func (c *Client) PickProblem(ctx context.Context, handles []string, rating int, topics []string) (models.Problem, error) {
	return SelectProblem(ctx, c, handles, rating, topics, c.intn)
}

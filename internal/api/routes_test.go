package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codebattle/internal/battle"
	"codebattle/internal/events"
	"codebattle/internal/models"
	"codebattle/internal/realtime"
	"codebattle/internal/repository/memory"
	"codebattle/internal/service"
	"codebattle/internal/utils"
)

type stubJudge struct {
	mu       sync.Mutex
	accepted map[string]bool // handle + "/" + problem id
}

func (j *stubJudge) FetchCatalog(context.Context) ([]models.Problem, error) {
	var catalog []models.Problem
	for i, rating := range []int{800, 1200, 1600} {
		idx := string(rune('A' + i))
		catalog = append(catalog, models.Problem{
			ID: models.ProblemID(2000, idx), ContestID: 2000, Index: idx, Name: "P" + idx, Rating: rating,
		})
	}
	return catalog, nil
}

func (j *stubJudge) PickProblem(context.Context, []string, int, []string) (models.Problem, error) {
	return models.Problem{ID: models.ProblemID(2000, "A"), ContestID: 2000, Index: "A", Rating: 800}, nil
}

func (j *stubJudge) HasAcceptedSince(_ context.Context, handle, problemID string, _ time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.accepted[handle+"/"+problemID]
}

func (j *stubJudge) accept(handle, problemID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.accepted == nil {
		j.accepted = make(map[string]bool)
	}
	j.accepted[handle+"/"+problemID] = true
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	judge  *stubJudge
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	judge := &stubJudge{}
	tokens := utils.NewTokenManager("test-secret", time.Hour)
	services := service.NewServices(memory.NewRepositories(), judge, tokens, service.Options{
		Points:   service.DefaultPoints(),
		Location: time.UTC,
	}, logger)

	hub := realtime.NewHub(realtime.DefaultConfig(), logger)
	coord := battle.NewCoordinator(battle.DefaultConfig(), services.Room, judge, services.Ledger, hub, logger)
	hub.Attach(coord)
	t.Cleanup(func() {
		hub.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		coord.Shutdown(ctx)
	})

	r := gin.New()
	SetupRoutes(r, Deps{
		Services:    services,
		Coordinator: coord,
		Hub:         hub,
		Tokens:      tokens,
		Logger:      logger,
	})
	return &testServer{t: t, router: r, judge: judge}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// signup registers a user with a handle and returns its token and id.
func (s *testServer) signup(username, handle string) (string, string) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/register", "", gin.H{"username": username, "password": "secret123", "codeforcesHandle": handle})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/login", "", gin.H{"username": username, "password": "secret123"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.Token, out.User.ID
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/health", "", nil).Code)

	w := s.do(http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "route not found", errorOf(t, w))
}

func TestAccountFlow(t *testing.T) {
	s := newTestServer(t)
	token, id := s.signup("alice", "")

	w := s.do(http.MethodPost, "/api/register", "", gin.H{"username": "alice", "password": "secret123"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/login", "", gin.H{"username": "alice", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/users/me", "", nil).Code)

	w = s.do(http.MethodPut, "/api/users/me", token, gin.H{"codeforcesHandle": "tourist"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"codeforcesHandle":"tourist"`)
	assert.NotContains(t, w.Body.String(), "passwordHash")

	w = s.do(http.MethodGet, "/api/users/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"alice"`)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/users/missing", "", nil).Code)
}

func TestBattleCRUD(t *testing.T) {
	s := newTestServer(t)
	host, hostID := s.signup("alice", "tourist")
	guest, _ := s.signup("bob", "petr")

	settings := gin.H{"mode": "trio", "duration": 30, "problemRating": 1500, "topics": []string{"DP", "dp"}}
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/battles", "", settings).Code)

	w := s.do(http.MethodPost, "/api/battles", host, gin.H{"mode": "trio", "duration": 30, "problemRating": 1550})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, errorOf(t, w))

	w = s.do(http.MethodPost, "/api/battles", host, settings)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var room models.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
	assert.Len(t, room.RoomID, 6)
	assert.Equal(t, hostID, room.CreatedBy)
	assert.Equal(t, []string{"dp"}, room.Topics)

	w = s.do(http.MethodGet, "/api/battles/"+strings.ToLower(room.RoomID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/battles?status=waiting", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), room.RoomID)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/battles?status=paused", "", nil).Code)

	assert.Equal(t, http.StatusConflict, s.do(http.MethodPatch, "/api/battles/"+room.RoomID, guest, gin.H{"duration": 45}).Code)

	w = s.do(http.MethodPatch, "/api/battles/"+room.RoomID, host, gin.H{"duration": 45})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"duration":45`)

	assert.Equal(t, http.StatusConflict, s.do(http.MethodDelete, "/api/battles/"+room.RoomID, guest, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/battles/"+room.RoomID, host, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/battles/"+room.RoomID, "", nil).Code)

	w = s.do(http.MethodGet, "/api/users/"+hostID+"/battles", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestCreateRequiresHandle(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup("alice", "")

	w := s.do(http.MethodPost, "/api/battles", token, gin.H{"mode": "duo", "duration": 10, "problemRating": 1200})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorOf(t, w), "handle")
}

func TestDailyRoutes(t *testing.T) {
	s := newTestServer(t)
	token, id := s.signup("alice", "tourist")

	w := s.do(http.MethodGet, "/api/potd/today", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var set models.DailySet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	require.Len(t, set.Problems, 3)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/potd/verify/0", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/potd/verify/first", token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/potd/verify/7", token, nil).Code)

	w = s.do(http.MethodPost, "/api/potd/verify/0", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"problemIndex":0,"solved":false}`, w.Body.String())

	s.judge.accept("tourist", set.Problems[0].ID)
	w = s.do(http.MethodPost, "/api/potd/verify/0", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"problemIndex":0,"solved":true}`, w.Body.String())

	w = s.do(http.MethodGet, "/api/potd/progress/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var progress service.Progress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progress))
	assert.Equal(t, []int{0}, progress.Solved)
	assert.Equal(t, 1, progress.Streak.Current)

	w = s.do(http.MethodPost, "/api/potd/verify-all", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sweep service.SweepResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sweep))
	assert.Equal(t, 0, sweep.Recorded)
}

func TestWebSocketRequiresToken(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signup("alice", "tourist")

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	data, err := json.Marshal(service.RoomSettings{Mode: models.ModeDuo, Duration: 5, ProblemRating: 800})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(events.Envelope{Type: events.Create, Data: data}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg events.Envelope
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == events.RoomListChanged {
			continue
		}
		assert.Equal(t, events.Created, msg.Type)
		assert.Len(t, msg.RoomID, 6)
		break
	}
}

package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codebattle/internal/apperr"
	"codebattle/internal/models"
	"codebattle/internal/repository"
	"codebattle/internal/repository/memory"
	"codebattle/internal/utils"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedUser(t *testing.T, repos *repository.Repositories, id, handle string) *models.User {
	t.Helper()
	user := &models.User{ID: id, Username: "name-" + id, PasswordHash: "x", Handle: handle}
	require.NoError(t, repos.User.Create(context.Background(), user))
	return user
}

func TestRoomSettingsValidate(t *testing.T) {
	valid := RoomSettings{Mode: models.ModeDuo, Duration: 30, ProblemRating: 1200}

	tests := []struct {
		name   string
		mutate func(*RoomSettings)
	}{
		{"bad mode", func(in *RoomSettings) { in.Mode = "solo" }},
		{"zero duration", func(in *RoomSettings) { in.Duration = 0 }},
		{"long duration", func(in *RoomSettings) { in.Duration = 181 }},
		{"low rating", func(in *RoomSettings) { in.ProblemRating = 700 }},
		{"odd rating", func(in *RoomSettings) { in.ProblemRating = 1250 }},
		{"too many topics", func(in *RoomSettings) {
			in.Topics = []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			err := in.Validate()
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}

	in := valid
	in.Topics = []string{" DP ", "dp", "", "Greedy"}
	require.NoError(t, in.Validate())
	assert.Equal(t, []string{"dp", "greedy"}, in.Topics)
}

func TestCreateRoom(t *testing.T) {
	repos := memory.NewRepositories()
	seedUser(t, repos, "host", "tourist")
	seedUser(t, repos, "nohandle", "")
	svc := NewRoomService(repos.Room, repos.User, testLogger())
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, RoomSettings{Mode: models.ModeTrio, Duration: 20, ProblemRating: 1500}, "host")
	require.NoError(t, err)
	assert.Len(t, room.RoomID, 6)
	assert.Equal(t, models.RoomStatusWaiting, room.Status)
	require.Len(t, room.Players, 1)
	assert.Equal(t, "tourist", room.Players[0].Handle)
	assert.True(t, room.IsHost("host"))

	got, err := svc.GetRoom(ctx, " "+room.RoomID+" ")
	require.NoError(t, err)
	assert.Equal(t, room.RoomID, got.RoomID)

	_, err = svc.CreateRoom(ctx, RoomSettings{Mode: models.ModeDuo, Duration: 20, ProblemRating: 1500}, "nohandle")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.CreateRoom(ctx, RoomSettings{Mode: models.ModeDuo, Duration: 20, ProblemRating: 1500}, "ghost")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestCreateRoomRetriesOnCollision(t *testing.T) {
	repos := memory.NewRepositories()
	seedUser(t, repos, "host", "tourist")
	svc := NewRoomService(repos.Room, repos.User, testLogger())
	ctx := context.Background()

	ids := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := svc.CreateRoom(ctx, RoomSettings{Mode: models.ModeDuo, Duration: 5, ProblemRating: 800}, "host")
	require.NoError(t, err)
	second, err := svc.CreateRoom(ctx, RoomSettings{Mode: models.ModeDuo, Duration: 5, ProblemRating: 800}, "host")
	require.NoError(t, err)

	assert.Equal(t, "AAAAAA", first.RoomID)
	assert.Equal(t, "BBBBBB", second.RoomID)

	svc.newID = func() string { return "AAAAAA" }
	_, err = svc.CreateRoom(ctx, RoomSettings{Mode: models.ModeDuo, Duration: 5, ProblemRating: 800}, "host")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestUpdateRoomValidatesPatch(t *testing.T) {
	repos := memory.NewRepositories()
	seedUser(t, repos, "host", "tourist")
	svc := NewRoomService(repos.Room, repos.User, testLogger())
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, RoomSettings{Mode: models.ModeDuo, Duration: 5, ProblemRating: 800}, "host")
	require.NoError(t, err)

	bad := 999
	_, err = svc.UpdateRoom(ctx, room.RoomID, RoomPatchInput{ProblemRating: &bad})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	squad := models.ModeSquad
	topics := []string{"Math"}
	updated, err := svc.UpdateRoom(ctx, room.RoomID, RoomPatchInput{Mode: &squad, Topics: &topics})
	require.NoError(t, err)
	assert.Equal(t, models.ModeSquad, updated.Mode)
	assert.Equal(t, []string{"math"}, updated.Topics)
}

func TestFinalizeRejectsInconsistentWinner(t *testing.T) {
	repos := memory.NewRepositories()
	svc := NewRoomService(repos.Room, repos.User, testLogger())
	ctx := context.Background()

	_, err := svc.Finalize(ctx, "AAAAAA", models.RoomStatusActive, nil)
	assert.ErrorIs(t, err, apperr.ErrInternal)
	_, err = svc.Finalize(ctx, "AAAAAA", models.RoomStatusFinished, nil)
	assert.ErrorIs(t, err, apperr.ErrInternal)
	_, err = svc.Finalize(ctx, "AAAAAA", models.RoomStatusDraw, &models.Winner{UserID: "x"})
	assert.ErrorIs(t, err, apperr.ErrInternal)
}

func TestPointsValidate(t *testing.T) {
	require.NoError(t, DefaultPoints().Validate())
	assert.Error(t, Points{Win: 5, Loss: 2, Draw: 5}.Validate())
	assert.Error(t, Points{Win: 10, Loss: 6, Draw: 5}.Validate())
}

func terminalRoom(status models.RoomStatus, winner *models.Winner) *models.Room {
	return &models.Room{
		RoomID:    "ROOM01",
		Mode:      models.ModeTrio,
		Status:    status,
		Winner:    winner,
		CreatedBy: "a",
		Players: []models.Member{
			{UserID: "a", Handle: "ha"},
			{UserID: "b", Handle: "hb"},
			{UserID: "c", Handle: "hc"},
		},
	}
}

func TestLedgerApplyFinished(t *testing.T) {
	repos := memory.NewRepositories()
	for _, id := range []string{"a", "b", "c"} {
		seedUser(t, repos, id, "h"+id)
	}
	ctx := context.Background()
	solvedAt := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	room := terminalRoom(models.RoomStatusFinished, &models.Winner{UserID: "b", SolvedAt: solvedAt})
	require.NoError(t, repos.Room.Create(ctx, room))

	ledger := NewLedgerService(repos.Room, repos.User, NewStreakService(repos.User, testLogger()), DefaultPoints(), time.UTC, testLogger())
	require.NoError(t, ledger.Apply(ctx, room))

	want := map[string]int{"a": 2, "b": 10, "c": 2}
	for id, score := range want {
		u, err := repos.User.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, score, u.Score, id)
	}

	stored, err := repos.Room.FindByID(ctx, "ROOM01")
	require.NoError(t, err)
	for _, m := range stored.Players {
		assert.Equal(t, want[m.UserID], m.Score)
	}

	winner, err := repos.User.FindByID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, winner.Streak.Current)
	assert.Equal(t, "2024-03-10", winner.Streak.LastSolved)

	loser, err := repos.User.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, loser.Streak.Current)
}

func TestLedgerApplyDraw(t *testing.T) {
	repos := memory.NewRepositories()
	for _, id := range []string{"a", "b", "c"} {
		seedUser(t, repos, id, "h"+id)
	}
	ctx := context.Background()
	room := terminalRoom(models.RoomStatusDraw, nil)
	require.NoError(t, repos.Room.Create(ctx, room))

	ledger := NewLedgerService(repos.Room, repos.User, NewStreakService(repos.User, testLogger()), DefaultPoints(), time.UTC, testLogger())
	require.NoError(t, ledger.Apply(ctx, room))

	for _, id := range []string{"a", "b", "c"} {
		u, err := repos.User.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 5, u.Score)
		assert.Zero(t, u.Streak.Current)
	}
}

func TestLedgerRejectsNonTerminalRoom(t *testing.T) {
	repos := memory.NewRepositories()
	ledger := NewLedgerService(repos.Room, repos.User, nil, DefaultPoints(), time.UTC, testLogger())
	err := ledger.Apply(context.Background(), terminalRoom(models.RoomStatusActive, nil))
	assert.ErrorIs(t, err, apperr.ErrInternal)
}

func TestStreakRecordDayIsSerializedPerUser(t *testing.T) {
	repos := memory.NewRepositories()
	seedUser(t, repos, "u1", "h1")
	streaks := NewStreakService(repos.User, testLogger())
	ctx := context.Background()

	days := []string{"2024-01-01", "2024-01-02", "2024-01-03"}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := streaks.RecordDay(ctx, "u1", days[i%len(days)])
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	u, err := repos.User.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, days, u.Streak.SolvedDays)
	assert.Equal(t, "2024-01-03", u.Streak.LastSolved)
	assert.Empty(t, streaks.locks.locks, "idle locks must be released")
}

func TestStreakRecordDaySequence(t *testing.T) {
	repos := memory.NewRepositories()
	seedUser(t, repos, "u1", "h1")
	streaks := NewStreakService(repos.User, testLogger())
	ctx := context.Background()

	steps := []struct {
		day     string
		current int
		longest int
	}{
		{"2024-01-01", 1, 1},
		{"2024-01-02", 2, 2},
		{"2024-01-02", 2, 2},
		{"2024-01-05", 1, 2},
		{"2024-01-06", 2, 2},
		{"2024-01-07", 3, 3},
	}
	for _, step := range steps {
		s, err := streaks.RecordDay(ctx, "u1", step.day)
		require.NoError(t, err)
		assert.Equal(t, step.current, s.Current, step.day)
		assert.Equal(t, step.longest, s.Longest, step.day)
	}

	_, err := streaks.RecordDay(ctx, "ghost", "2024-01-01")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestRegisterAndLogin(t *testing.T) {
	repos := memory.NewRepositories()
	tokens := utils.NewTokenManager("secret", time.Hour)
	users := NewUserService(repos.User, tokens, testLogger())
	ctx := context.Background()

	user, err := users.Register(ctx, "alice", "hunter22", "alice_cf")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "hunter22", user.PasswordHash)

	_, err = users.Register(ctx, "alice", "another1", "")
	assert.ErrorIs(t, err, repository.ErrUsernameTaken)

	_, err = users.Register(ctx, "bob", "123", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	token, got, err := users.Login(ctx, "alice", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	claims, err := tokens.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID())

	_, _, err = users.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, _, err = users.Login(ctx, "nobody", "hunter22")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestUpdateHandle(t *testing.T) {
	repos := memory.NewRepositories()
	users := NewUserService(repos.User, utils.NewTokenManager("secret", time.Hour), testLogger())
	ctx := context.Background()

	user, err := users.Register(ctx, "carol", "hunter22", "")
	require.NoError(t, err)

	_, err = users.UpdateHandle(ctx, user.ID, "  ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = users.UpdateHandle(ctx, user.ID, "bad handle!")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	updated, err := users.UpdateHandle(ctx, user.ID, "carol_cf")
	require.NoError(t, err)
	assert.Equal(t, "carol_cf", updated.Handle)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"codebattle/internal/apperr"
	"codebattle/internal/models"
	"codebattle/internal/repository"
)

const (
	roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomIDLength   = 6
	roomIDAttempts = 5

	minDuration = 1
	maxDuration = 180
	minRating   = 800
	maxRating   = 3500
	maxTopics   = 10
)

// NewRoomID returns a random 6-character room code.
func NewRoomID() string {
	var b strings.Builder
	b.Grow(roomIDLength)
	for i := 0; i < roomIDLength; i++ {
		b.WriteByte(roomIDAlphabet[rand.IntN(len(roomIDAlphabet))])
	}
	return b.String()
}

// NormalizeRoomID upper-cases a user-typed room code.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// RoomSettings are the fields a host chooses when creating a room.
type RoomSettings struct {
	Mode          models.Mode `json:"mode"`
	Duration      int         `json:"duration"`
	ProblemRating int         `json:"problemRating"`
	Topics        []string    `json:"topics"`
}

func validateDuration(d int) error {
	if d < minDuration || d > maxDuration {
		return apperr.Validation(fmt.Sprintf("duration must be between %d and %d minutes", minDuration, maxDuration))
	}
	return nil
}

func validateRating(r int) error {
	if r < minRating || r > maxRating || r%100 != 0 {
		return apperr.Validation(fmt.Sprintf("problem rating must be a multiple of 100 between %d and %d", minRating, maxRating))
	}
	return nil
}

func validateMode(m models.Mode) error {
	if !m.Valid() {
		return apperr.Validation("mode must be one of duo, trio, squad")
	}
	return nil
}

func normalizeTopics(topics []string) ([]string, error) {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	if len(out) > maxTopics {
		return nil, apperr.Validation(fmt.Sprintf("at most %d topics are allowed", maxTopics))
	}
	return out, nil
}

func (in *RoomSettings) Validate() error {
	if err := validateMode(in.Mode); err != nil {
		return err
	}
	if err := validateDuration(in.Duration); err != nil {
		return err
	}
	if err := validateRating(in.ProblemRating); err != nil {
		return err
	}
	topics, err := normalizeTopics(in.Topics)
	if err != nil {
		return err
	}
	in.Topics = topics
	return nil
}

// RoomPatchInput is a partial update of RoomSettings.
type RoomPatchInput struct {
	Mode          *models.Mode `json:"mode"`
	Duration      *int         `json:"duration"`
	ProblemRating *int         `json:"problemRating"`
	Topics        *[]string    `json:"topics"`
}

func (in RoomPatchInput) toPatch() (repository.RoomPatch, error) {
	patch := repository.RoomPatch{
		Mode:          in.Mode,
		Duration:      in.Duration,
		ProblemRating: in.ProblemRating,
	}
	if in.Mode != nil {
		if err := validateMode(*in.Mode); err != nil {
			return patch, err
		}
	}
	if in.Duration != nil {
		if err := validateDuration(*in.Duration); err != nil {
			return patch, err
		}
	}
	if in.ProblemRating != nil {
		if err := validateRating(*in.ProblemRating); err != nil {
			return patch, err
		}
	}
	if in.Topics != nil {
		topics, err := normalizeTopics(*in.Topics)
		if err != nil {
			return patch, err
		}
		patch.Topics = &topics
	}
	return patch, nil
}

// RoomService is the room registry: it validates requests and keeps the
// durable room records.
type RoomService struct {
	rooms  repository.RoomRepository
	users  repository.UserRepository
	newID  func() string
	logger *slog.Logger
}

func NewRoomService(rooms repository.RoomRepository, users repository.UserRepository, logger *slog.Logger) *RoomService {
	return &RoomService{
		rooms:  rooms,
		users:  users,
		newID:  NewRoomID,
		logger: logger.With("component", "rooms"),
	}
}

// MemberFor builds the room entry of a user. Users without a judge handle
// cannot take part in battles.
func (s *RoomService) MemberFor(ctx context.Context, userID string) (models.Member, error) {
	if userID == "" {
		return models.Member{}, apperr.Validation("user id is required")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return models.Member{}, err
	}
	if strings.TrimSpace(user.Handle) == "" {
		return models.Member{}, apperr.Validation("set your Codeforces handle before joining a battle")
	}
	return user.Member(time.Now()), nil
}

// CreateRoom stores a new waiting room with the creator as its only member.
func (s *RoomService) CreateRoom(ctx context.Context, in RoomSettings, creatorID string) (*models.Room, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	host, err := s.MemberFor(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < roomIDAttempts; attempt++ {
		room := &models.Room{
			RoomID:        s.newID(),
			Mode:          in.Mode,
			Duration:      in.Duration,
			ProblemRating: in.ProblemRating,
			Topics:        in.Topics,
			Players:       []models.Member{host},
			Status:        models.RoomStatusWaiting,
			CreatedBy:     creatorID,
		}
		err := s.rooms.Create(ctx, room)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, fmt.Errorf("create room: %w", err)
		}
		s.logger.Warn("room id collision, regenerating", "room_id", room.RoomID, "attempt", attempt+1)
	}
	return nil, apperr.Internal("could not allocate a room id", nil)
}

func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	return s.rooms.FindByID(ctx, NormalizeRoomID(roomID))
}

// ListRooms returns every room, newest first.
func (s *RoomService) ListRooms(ctx context.Context) ([]models.Room, error) {
	return s.rooms.FindAll(ctx)
}

func (s *RoomService) ListByStatus(ctx context.Context, status models.RoomStatus) ([]models.Room, error) {
	return s.rooms.FindByStatus(ctx, status)
}

// History lists the rooms a user has played in, newest first.
func (s *RoomService) History(ctx context.Context, userID string) ([]models.Room, error) {
	return s.rooms.FindByMember(ctx, userID)
}

func (s *RoomService) AddMember(ctx context.Context, roomID string, member models.Member) (*models.Room, error) {
	return s.rooms.AddMember(ctx, roomID, member)
}

func (s *RoomService) RemoveMember(ctx context.Context, roomID, userID string) (*models.Room, error) {
	return s.rooms.RemoveMember(ctx, roomID, userID)
}

func (s *RoomService) UpdateRoom(ctx context.Context, roomID string, in RoomPatchInput) (*models.Room, error) {
	patch, err := in.toPatch()
	if err != nil {
		return nil, err
	}
	return s.rooms.Update(ctx, roomID, patch)
}

func (s *RoomService) Activate(ctx context.Context, roomID string, problem models.Problem, start, end time.Time) (*models.Room, error) {
	return s.rooms.Activate(ctx, roomID, problem, start, end)
}

func (s *RoomService) Finalize(ctx context.Context, roomID string, status models.RoomStatus, winner *models.Winner) (bool, error) {
	if !status.Terminal() {
		return false, apperr.Internal(fmt.Sprintf("finalize with non-terminal status %q", status), nil)
	}
	if (status == models.RoomStatusFinished) != (winner != nil) {
		return false, apperr.Internal("a winner is required exactly for finished rooms", nil)
	}
	return s.rooms.Finalize(ctx, roomID, status, winner)
}

func (s *RoomService) DeleteRoom(ctx context.Context, roomID string) error {
	return s.rooms.Delete(ctx, roomID)
}

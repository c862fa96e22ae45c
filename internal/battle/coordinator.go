// Package battle runs the lifecycle of battle rooms.
//
// Every room with something pending (a start countdown, a running contest)
// is owned by one session goroutine. Mutations of a room are sent to its
// session as commands, and timers and judge answers arrive there as
// messages, so a room never has two writers.
package battle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"codebattle/internal/apperr"
	"codebattle/internal/events"
	"codebattle/internal/models"
	"codebattle/internal/service"
)

var (
	ErrShuttingDown = apperr.Internal("battle coordinator is shutting down", nil)
	ErrNotHost      = apperr.Conflict("only the host can do that")
	ErrLeaveActive  = apperr.Conflict("members cannot leave a battle in progress")
	ErrRemoveSelf   = apperr.Validation("the host cannot remove themselves")
)

// Registry is the durable room store the coordinator drives.
type Registry interface {
	CreateRoom(ctx context.Context, in service.RoomSettings, creatorID string) (*models.Room, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	ListByStatus(ctx context.Context, status models.RoomStatus) ([]models.Room, error)
	MemberFor(ctx context.Context, userID string) (models.Member, error)
	AddMember(ctx context.Context, roomID string, member models.Member) (*models.Room, error)
	RemoveMember(ctx context.Context, roomID, userID string) (*models.Room, error)
	UpdateRoom(ctx context.Context, roomID string, in service.RoomPatchInput) (*models.Room, error)
	Activate(ctx context.Context, roomID string, problem models.Problem, start, end time.Time) (*models.Room, error)
	Finalize(ctx context.Context, roomID string, status models.RoomStatus, winner *models.Winner) (bool, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// Judge picks problems and checks submissions. Implementations degrade to
// "not solved" on upstream failures.
type Judge interface {
	PickProblem(ctx context.Context, handles []string, rating int, topics []string) (models.Problem, error)
	HasAcceptedSince(ctx context.Context, handle, problemID string, since time.Time) bool
}

type Ledger interface {
	Apply(ctx context.Context, room *models.Room) error
}

// Notifier delivers events to connected clients.
type Notifier interface {
	ToRoom(roomID string, msg events.Message)
	ToAll(msg events.Message)
	// Unbind detaches the user's connections from the room.
	Unbind(roomID, userID string)
	// CloseRoom detaches every connection from the room.
	CloseRoom(roomID string)
}

type Config struct {
	GracePeriod  time.Duration
	TickInterval time.Duration
	PollInterval time.Duration
	// DurationUnit converts Room.Duration into wall time.
	DurationUnit time.Duration
	JudgeTimeout time.Duration
	StoreTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		GracePeriod:  3 * time.Second,
		TickInterval: 30 * time.Second,
		PollInterval: 10 * time.Second,
		DurationUnit: time.Minute,
		JudgeTimeout: 20 * time.Second,
		StoreTimeout: 5 * time.Second,
	}
}

type Coordinator struct {
	cfg    Config
	rooms  Registry
	judge  Judge
	ledger Ledger
	notify Notifier
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func NewCoordinator(cfg Config, rooms Registry, judge Judge, ledger Ledger, notify Notifier, logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg,
		rooms:    rooms,
		judge:    judge,
		ledger:   ledger,
		notify:   notify,
		logger:   logger.With("component", "battle"),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Sessions returns the number of rooms with a live session.
func (c *Coordinator) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Live reports whether roomID has a live session.
func (c *Coordinator) Live(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[roomID]
	return ok
}

// session returns the live session of roomID, starting one if needed.
func (c *Coordinator) session(roomID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrShuttingDown
	}
	if s, ok := c.sessions[roomID]; ok {
		return s, nil
	}
	s := newSession(c, roomID)
	c.sessions[roomID] = s
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		s.run()
	}()
	return s, nil
}

// retire removes s from the session map.
func (c *Coordinator) retire(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[s.roomID] == s {
		delete(c.sessions, s.roomID)
	}
}

// submit runs fn on the session goroutine of roomID and waits for its result.
func (c *Coordinator) submit(ctx context.Context, roomID string, fn func(*session) (*models.Room, error)) (*models.Room, error) {
	for {
		s, err := c.session(roomID)
		if err != nil {
			return nil, err
		}
		cmd := command{run: fn, reply: make(chan reply, 1)}
		select {
		case s.inbox <- cmd:
		case <-s.done:
			// The session retired between lookup and send.
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case r := <-cmd.reply:
			return r.room, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Create stores a new room owned by creatorID.
func (c *Coordinator) Create(ctx context.Context, in service.RoomSettings, creatorID string) (*models.Room, error) {
	room, err := c.rooms.CreateRoom(ctx, in, creatorID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("room created", "room_id", room.RoomID, "mode", room.Mode, "host", creatorID)
	c.notify.ToAll(events.New(events.RoomListChanged, "", nil))
	return room, nil
}

// Join adds userID to a waiting room. Filling the room arms the start.
func (c *Coordinator) Join(ctx context.Context, roomID, userID string) (*models.Room, error) {
	roomID = service.NormalizeRoomID(roomID)
	member, err := c.rooms.MemberFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, roomID, func(s *session) (*models.Room, error) {
		return s.join(member)
	})
}

// Leave removes userID from the room. A leaving host closes the room.
func (c *Coordinator) Leave(ctx context.Context, roomID, userID string) (*models.Room, error) {
	return c.submit(ctx, service.NormalizeRoomID(roomID), func(s *session) (*models.Room, error) {
		return s.leave(userID, false)
	})
}

// Disconnect handles the loss of a user's last connection to the room. It
// only affects waiting rooms.
func (c *Coordinator) Disconnect(ctx context.Context, roomID, userID string) {
	_, err := c.submit(ctx, service.NormalizeRoomID(roomID), func(s *session) (*models.Room, error) {
		return s.leave(userID, true)
	})
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		c.logger.Warn("disconnect cleanup failed", "room_id", roomID, "user_id", userID, "error", err)
	}
}

// RemoveMember lets the host kick targetID out of a waiting room.
func (c *Coordinator) RemoveMember(ctx context.Context, roomID, actorID, targetID string) (*models.Room, error) {
	return c.submit(ctx, service.NormalizeRoomID(roomID), func(s *session) (*models.Room, error) {
		return s.removeMember(actorID, targetID)
	})
}

// Delete lets the host delete the room in any status.
func (c *Coordinator) Delete(ctx context.Context, roomID, actorID string) error {
	_, err := c.submit(ctx, service.NormalizeRoomID(roomID), func(s *session) (*models.Room, error) {
		return s.delete(actorID)
	})
	return err
}

// Update lets the host change the settings of a waiting room.
func (c *Coordinator) Update(ctx context.Context, roomID, actorID string, in service.RoomPatchInput) (*models.Room, error) {
	return c.submit(ctx, service.NormalizeRoomID(roomID), func(s *session) (*models.Room, error) {
		return s.update(actorID, in)
	})
}

// Recover takes over rooms that have no live session: active rooms get their
// timers back, or a draw if their end time has passed, and full waiting rooms
// get their start armed. It returns the number of rooms taken over.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	var (
		recovered int
		errs      []error
	)
	for _, status := range []models.RoomStatus{models.RoomStatusActive, models.RoomStatusWaiting} {
		rooms, err := c.rooms.ListByStatus(ctx, status)
		if err != nil {
			return recovered, fmt.Errorf("list %s rooms: %w", status, err)
		}
		for _, room := range rooms {
			if status == models.RoomStatusWaiting && !room.IsFull() {
				continue
			}
			if c.Live(room.RoomID) {
				continue
			}
			took := false
			_, err := c.submit(ctx, room.RoomID, func(s *session) (*models.Room, error) {
				var err error
				took, err = s.recover()
				return nil, err
			})
			if err != nil {
				c.logger.Error("failed to recover room", "room_id", room.RoomID, "error", err)
				errs = append(errs, err)
				continue
			}
			if took {
				recovered++
			}
		}
	}
	if recovered > 0 {
		c.logger.Info("rooms recovered", "count", recovered)
	}
	return recovered, errors.Join(errs...)
}

// Shutdown stops every session. Rooms left active are picked up by Recover
// on the next start.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) storeContext() (context.Context, context.CancelFunc) {
	if c.cfg.StoreTimeout <= 0 {
		return context.WithCancel(c.ctx)
	}
	return context.WithTimeout(c.ctx, c.cfg.StoreTimeout)
}

func (c *Coordinator) roomDuration(room *models.Room) time.Duration {
	return time.Duration(room.Duration) * c.cfg.DurationUnit
}

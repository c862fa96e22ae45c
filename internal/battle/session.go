package battle

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"codebattle/internal/apperr"
	"codebattle/internal/events"
	"codebattle/internal/models"
	"codebattle/internal/repository"
	"codebattle/internal/service"
)

type phase int

const (
	phaseIdle      phase = iota // waiting room, nothing armed
	phaseStarting               // grace timer armed
	phaseSelecting              // problem selection in flight
	phaseActive
	phaseClosed
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseStarting:
		return "starting"
	case phaseSelecting:
		return "selecting"
	case phaseActive:
		return "active"
	case phaseClosed:
		return "closed"
	}
	return "unknown"
}

type command struct {
	run   func(*session) (*models.Room, error)
	reply chan reply
}

type reply struct {
	room *models.Room
	err  error
}

type selection struct {
	gen      uint64
	duration time.Duration
	problem  models.Problem
	err      error
}

type pollResult struct {
	winner *models.Winner
}

// session owns one room. All fields are touched only by run.
type session struct {
	c      *Coordinator
	roomID string
	logger *slog.Logger

	inbox   chan command
	results chan any
	done    chan struct{}

	work     context.Context
	stopWork context.CancelFunc

	phase   phase
	gen     uint64
	room    *models.Room // set while active
	polling bool

	grace    *time.Timer
	tick     *time.Ticker
	poll     *time.Ticker
	deadline *time.Timer
}

func newSession(c *Coordinator, roomID string) *session {
	work, stop := context.WithCancel(c.ctx)
	return &session{
		c:        c,
		roomID:   roomID,
		logger:   c.logger.With("room_id", roomID),
		inbox:    make(chan command),
		results:  make(chan any),
		done:     make(chan struct{}),
		work:     work,
		stopWork: stop,
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (s *session) run() {
	defer s.shutdown()
	for {
		select {
		case cmd := <-s.inbox:
			room, err := cmd.run(s)
			cmd.reply <- reply{room: room, err: err}
		case <-timerC(s.grace):
			s.grace = nil
			s.onGrace()
		case <-tickerC(s.tick):
			s.onTick()
		case <-tickerC(s.poll):
			s.onPoll()
		case <-timerC(s.deadline):
			s.deadline = nil
			s.onDeadline()
		case res := <-s.results:
			switch r := res.(type) {
			case selection:
				s.onSelection(r)
			case pollResult:
				s.onPollResult(r)
			}
		case <-s.c.ctx.Done():
			return
		}
		if s.phase == phaseIdle || s.phase == phaseClosed {
			return
		}
	}
}

func (s *session) shutdown() {
	s.c.retire(s)
	s.stopTimers()
	s.stopWork()
	close(s.done)
}

func (s *session) stopTimers() {
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
	if s.poll != nil {
		s.poll.Stop()
		s.poll = nil
	}
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
}

// spawn runs fn off the session goroutine and hands its result back to run.
// Results produced after the session is gone are dropped.
func (s *session) spawn(fn func(context.Context) any) {
	s.c.wg.Add(1)
	go func() {
		defer s.c.wg.Done()
		res := fn(s.work)
		select {
		case s.results <- res:
		case <-s.done:
		}
	}()
}

func (s *session) load() (*models.Room, error) {
	ctx, cancel := s.c.storeContext()
	defer cancel()
	return s.c.rooms.GetRoom(ctx, s.roomID)
}

func (s *session) toRoom(t events.Type, data any) {
	s.c.notify.ToRoom(s.roomID, events.New(t, s.roomID, data))
}

func (s *session) listChanged() {
	s.c.notify.ToAll(events.New(events.RoomListChanged, "", nil))
}

// join adds member to the room. A member joining again gets the current room
// back, which lets a reconnecting client resume in any status.
func (s *session) join(member models.Member) (*models.Room, error) {
	room, err := s.load()
	if err != nil {
		return nil, err
	}
	if room.HasMember(member.UserID) {
		return room, nil
	}

	ctx, cancel := s.c.storeContext()
	defer cancel()

	room, err = s.c.rooms.AddMember(ctx, s.roomID, member)
	if err != nil {
		return nil, err
	}
	s.logger.Info("member joined", "user_id", member.UserID, "members", len(room.Players), "capacity", room.Capacity())
	s.toRoom(events.MemberJoined, events.MemberPayload{UserID: member.UserID, Room: room})
	s.listChanged()
	if room.IsFull() {
		s.armStart(room)
	}
	return room, nil
}

// leave handles an explicit leave, or a disconnect when implicit is set.
func (s *session) leave(userID string, implicit bool) (*models.Room, error) {
	room, err := s.load()
	if err != nil {
		return nil, err
	}
	if !room.HasMember(userID) {
		if implicit {
			return room, nil
		}
		return nil, repository.ErrNotMember
	}
	if implicit {
		// A dropped connection only gives up a seat in a waiting room, even the host's.
		if room.Status != models.RoomStatusWaiting {
			return room, nil
		}
		return s.dropMember(userID)
	}
	if room.IsHost(userID) {
		return s.close(room, events.ReasonHostLeft)
	}
	if room.Status.Terminal() {
		return room, nil
	}
	if room.Status == models.RoomStatusActive {
		return nil, ErrLeaveActive
	}
	return s.dropMember(userID)
}

func (s *session) removeMember(actorID, targetID string) (*models.Room, error) {
	room, err := s.load()
	if err != nil {
		return nil, err
	}
	if !room.IsHost(actorID) {
		return nil, ErrNotHost
	}
	if targetID == actorID {
		return nil, ErrRemoveSelf
	}
	if room.Status != models.RoomStatusWaiting {
		return nil, repository.ErrNotWaiting
	}
	if !room.HasMember(targetID) {
		return nil, repository.ErrNotMember
	}
	return s.dropMember(targetID)
}

func (s *session) dropMember(userID string) (*models.Room, error) {
	ctx, cancel := s.c.storeContext()
	defer cancel()

	room, err := s.c.rooms.RemoveMember(ctx, s.roomID, userID)
	if err != nil {
		return nil, err
	}
	s.abandonStart()
	s.c.notify.Unbind(s.roomID, userID)
	s.logger.Info("member left", "user_id", userID, "members", len(room.Players))

	if len(room.Players) == 0 {
		if err := s.c.rooms.DeleteRoom(ctx, s.roomID); err != nil {
			return nil, err
		}
		s.phase = phaseClosed
		s.logger.Info("empty room deleted")
		s.listChanged()
		return room, nil
	}

	s.toRoom(events.MemberLeft, events.MemberPayload{UserID: userID, Room: room})
	s.listChanged()
	return room, nil
}

func (s *session) delete(actorID string) (*models.Room, error) {
	room, err := s.load()
	if err != nil {
		return nil, err
	}
	if !room.IsHost(actorID) {
		return nil, ErrNotHost
	}
	return s.close(room, events.ReasonHostDeleted)
}

// close deletes the room in any status, evicting every member.
func (s *session) close(room *models.Room, reason events.CloseReason) (*models.Room, error) {
	ctx, cancel := s.c.storeContext()
	defer cancel()

	if err := s.c.rooms.DeleteRoom(ctx, s.roomID); err != nil {
		return nil, err
	}
	s.stopTimers()
	s.gen++
	s.phase = phaseClosed

	s.logger.Info("room closed", "reason", reason, "status", room.Status)
	s.toRoom(events.Closed, events.ClosedPayload{Reason: reason})
	s.c.notify.CloseRoom(s.roomID)
	s.listChanged()
	return room, nil
}

func (s *session) update(actorID string, in service.RoomPatchInput) (*models.Room, error) {
	room, err := s.load()
	if err != nil {
		return nil, err
	}
	if !room.IsHost(actorID) {
		return nil, ErrNotHost
	}

	ctx, cancel := s.c.storeContext()
	defer cancel()
	room, err = s.c.rooms.UpdateRoom(ctx, s.roomID, in)
	if err != nil {
		return nil, err
	}

	s.toRoom(events.Updated, events.RoomPayload{Room: room})
	s.listChanged()

	// Settings changed under a pending start: start over with the new ones.
	s.abandonStart()
	if room.IsFull() {
		s.armStart(room)
	}
	return room, nil
}

func (s *session) armStart(room *models.Room) {
	if s.phase != phaseIdle {
		return
	}
	s.gen++
	s.phase = phaseStarting
	s.grace = time.NewTimer(s.c.cfg.GracePeriod)

	s.logger.Info("room full, start armed", "grace", s.c.cfg.GracePeriod)
	s.toRoom(events.ReadyToStart, events.ReadyPayload{
		StartsIn: s.c.cfg.GracePeriod.Milliseconds(),
		Room:     room,
	})
}

func (s *session) abandonStart() {
	switch s.phase {
	case phaseStarting:
		if s.grace != nil {
			s.grace.Stop()
			s.grace = nil
		}
	case phaseSelecting:
	default:
		return
	}
	s.logger.Info("pending start abandoned", "phase", s.phase)
	s.gen++
	s.phase = phaseIdle
}

func (s *session) onGrace() {
	if s.phase != phaseStarting {
		return
	}
	room, err := s.load()
	if err != nil {
		s.logger.Error("failed to load room for start", "error", err)
		s.phase = phaseIdle
		return
	}
	if room.Status != models.RoomStatusWaiting || !room.IsFull() {
		s.phase = phaseIdle
		return
	}

	s.phase = phaseSelecting
	gen := s.gen
	duration := s.c.roomDuration(room)
	handles := room.Handles()
	rating := room.ProblemRating
	topics := slices.Clone(room.Topics)
	s.spawn(func(ctx context.Context) any {
		ctx, cancel := context.WithTimeout(ctx, s.c.cfg.JudgeTimeout)
		defer cancel()
		problem, err := s.c.judge.PickProblem(ctx, handles, rating, topics)
		return selection{gen: gen, duration: duration, problem: problem, err: err}
	})
}

func (s *session) onSelection(r selection) {
	if r.gen != s.gen || s.phase != phaseSelecting {
		s.logger.Debug("stale problem selection dropped")
		return
	}
	if r.err != nil {
		s.phase = phaseIdle
		s.logger.Warn("problem selection failed", "error", r.err)
		s.toRoom(events.Error, events.ErrorPayload{Message: apperr.PublicMessage(r.err)})
		return
	}

	ctx, cancel := s.c.storeContext()
	defer cancel()

	start := s.c.now()
	room, err := s.c.rooms.Activate(ctx, s.roomID, r.problem, start, start.Add(r.duration))
	if err != nil {
		s.phase = phaseIdle
		s.logger.Error("failed to activate room", "error", err)
		s.toRoom(events.Error, events.ErrorPayload{Message: apperr.PublicMessage(err)})
		return
	}

	s.begin(room)
	s.logger.Info("battle started", "problem", room.Problem.ID, "end", room.EndTime)
	s.toRoom(events.Started, events.StartedPayload{
		Problem:   *room.Problem,
		Duration:  room.Duration,
		StartTime: *room.StartTime,
		EndTime:   *room.EndTime,
		Room:      room,
	})
	s.listChanged()
}

// begin arms the tick, poll and deadline timers of an active room.
func (s *session) begin(room *models.Room) {
	s.phase = phaseActive
	s.room = room
	s.tick = time.NewTicker(s.c.cfg.TickInterval)
	s.poll = time.NewTicker(s.c.cfg.PollInterval)
	s.deadline = time.NewTimer(max(room.EndTime.Sub(s.c.now()), 0))
}

func (s *session) onTick() {
	if s.phase != phaseActive {
		return
	}
	now := s.c.now()
	remaining := s.room.EndTime.Sub(now)
	if remaining <= 0 {
		remaining = 0
		s.tick.Stop()
		s.tick = nil
	}
	s.toRoom(events.Tick, events.TickPayload{
		Remaining: int64(remaining.Round(time.Second) / time.Second),
		Elapsed:   int64(now.Sub(*s.room.StartTime).Round(time.Second) / time.Second),
	})
}

func (s *session) onPoll() {
	if s.phase != phaseActive || s.polling {
		return
	}
	s.polling = true

	members := slices.Clone(s.room.Players)
	problemID := s.room.Problem.ID
	since := *s.room.StartTime
	s.spawn(func(ctx context.Context) any {
		ctx, cancel := context.WithTimeout(ctx, s.c.cfg.JudgeTimeout)
		defer cancel()

		solved := make([]bool, len(members))
		var g errgroup.Group
		for i, m := range members {
			g.Go(func() error {
				solved[i] = s.c.judge.HasAcceptedSince(ctx, m.Handle, problemID, since)
				return nil
			})
		}
		_ = g.Wait()

		// Ties go to the earliest member in join order.
		for i, ok := range solved {
			if ok {
				m := members[i]
				return pollResult{winner: &models.Winner{
					UserID:   m.UserID,
					Username: m.Username,
					Handle:   m.Handle,
					SolvedAt: s.c.now(),
				}}
			}
		}
		return pollResult{}
	})
}

func (s *session) onPollResult(r pollResult) {
	s.polling = false
	if s.phase != phaseActive || r.winner == nil {
		return
	}
	s.finish(models.RoomStatusFinished, r.winner)
}

func (s *session) onDeadline() {
	if s.phase != phaseActive {
		return
	}
	s.finish(models.RoomStatusDraw, nil)
}

// finish moves the active room to a terminal status, scores it and tells the
// members. The registry only accepts the first terminal write.
func (s *session) finish(status models.RoomStatus, winner *models.Winner) {
	ctx, cancel := s.c.storeContext()
	defer cancel()

	ok, err := s.c.rooms.Finalize(ctx, s.roomID, status, winner)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		s.logger.Warn("room vanished before it could finish")
		s.stopTimers()
		s.phase = phaseClosed
		return
	case err != nil:
		s.logger.Error("failed to finalize room", "status", status, "error", err)
		if winner == nil {
			// A winner is found again by the next poll; a draw needs a retry.
			s.deadline = time.NewTimer(s.c.cfg.PollInterval)
		}
		return
	case !ok:
		s.logger.Error("room already terminal, result ignored", "kind", apperr.KindInternal, "status", status)
		s.stopTimers()
		s.phase = phaseClosed
		return
	}

	s.stopTimers()
	s.phase = phaseClosed

	final := s.room.Clone()
	final.Status = status
	final.Winner = winner

	lctx, lcancel := s.c.storeContext()
	defer lcancel()
	if err := s.c.ledger.Apply(lctx, final); err != nil {
		s.logger.Error("failed to apply battle scores", "error", err)
	}
	if fresh, err := s.c.rooms.GetRoom(lctx, s.roomID); err == nil {
		final = fresh
	}

	if winner != nil {
		s.logger.Info("battle finished", "winner", winner.UserID)
		s.toRoom(events.Finished, events.FinishedPayload{Winner: *winner, Room: final})
	} else {
		s.logger.Info("battle ended in a draw")
		s.toRoom(events.Draw, events.RoomPayload{Room: final})
	}
	s.listChanged()
}

// recover takes over a room found without a session. It reports whether
// anything was armed or finished.
func (s *session) recover() (bool, error) {
	if s.phase != phaseIdle {
		return false, nil
	}
	room, err := s.load()
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch room.Status {
	case models.RoomStatusActive:
		if room.Problem == nil || room.StartTime == nil || room.EndTime == nil {
			s.logger.Error("active room without problem or times", "kind", apperr.KindInternal)
			return false, nil
		}
		s.begin(room)
		if !s.c.now().Before(*room.EndTime) {
			s.logger.Info("recovered room past its end, declaring draw")
			s.finish(models.RoomStatusDraw, nil)
		} else {
			s.logger.Info("recovered active room", "remaining", room.EndTime.Sub(s.c.now()))
		}
		return true, nil
	case models.RoomStatusWaiting:
		if room.IsFull() {
			s.armStart(room)
			return true, nil
		}
	}
	return false, nil
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"codebattle/internal/apperr"
	"codebattle/internal/middleware"
	"codebattle/internal/models"
	"codebattle/internal/service"
)

// BattleCoordinator is the part of the battle coordinator HTTP writes go
// through, so that live rooms see the same commands as websocket clients.
type BattleCoordinator interface {
	Create(ctx context.Context, in service.RoomSettings, creatorID string) (*models.Room, error)
	Update(ctx context.Context, roomID, actorID string, in service.RoomPatchInput) (*models.Room, error)
	Delete(ctx context.Context, roomID, actorID string) error
}

type BattleHandler struct {
	rooms  *service.RoomService
	coord  BattleCoordinator
	logger *slog.Logger
}

func NewBattleHandler(rooms *service.RoomService, coord BattleCoordinator, logger *slog.Logger) *BattleHandler {
	return &BattleHandler{rooms: rooms, coord: coord, logger: logger}
}

// ListBattles returns rooms newest first, optionally filtered by ?status=.
func (h *BattleHandler) ListBattles(c *gin.Context) {
	var (
		rooms []models.Room
		err   error
	)
	if status := models.RoomStatus(c.Query("status")); status != "" {
		if !status.Valid() {
			respondError(c, h.logger, apperr.Validation("unknown room status"))
			return
		}
		rooms, err = h.rooms.ListByStatus(c.Request.Context(), status)
	} else {
		rooms, err = h.rooms.ListRooms(c.Request.Context())
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *BattleHandler) GetBattle(c *gin.Context) {
	room, err := h.rooms.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *BattleHandler) CreateBattle(c *gin.Context) {
	var input service.RoomSettings
	if err := bindJSON(c, &input); err != nil {
		respondError(c, h.logger, err)
		return
	}
	room, err := h.coord.Create(c.Request.Context(), input, middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// UpdateBattle patches the settings of a waiting room. Host only.
func (h *BattleHandler) UpdateBattle(c *gin.Context) {
	var input service.RoomPatchInput
	if err := bindJSON(c, &input); err != nil {
		respondError(c, h.logger, err)
		return
	}
	room, err := h.coord.Update(c.Request.Context(), service.NormalizeRoomID(c.Param("id")), middleware.UserID(c), input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *BattleHandler) DeleteBattle(c *gin.Context) {
	if err := h.coord.Delete(c.Request.Context(), service.NormalizeRoomID(c.Param("id")), middleware.UserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

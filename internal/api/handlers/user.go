package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"codebattle/internal/middleware"
	"codebattle/internal/models"
	"codebattle/internal/service"
)

type UserHandler struct {
	users  *service.UserService
	rooms  *service.RoomService
	logger *slog.Logger
}

func NewUserHandler(users *service.UserService, rooms *service.RoomService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, rooms: rooms, logger: logger}
}

// PublicProfile is what other players may see of a user.
type PublicProfile struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	Handle    string        `json:"codeforcesHandle"`
	Score     int           `json:"score"`
	Streak    models.Streak `json:"streak"`
	CreatedAt time.Time     `json:"createdAt"`
}

func publicProfile(u *models.User) PublicProfile {
	return PublicProfile{
		ID:        u.ID,
		Username:  u.Username,
		Handle:    u.Handle,
		Score:     u.Score,
		Streak:    u.Streak,
		CreatedAt: u.CreatedAt,
	}
}

type UpdateMeInput struct {
	Handle string `json:"codeforcesHandle" binding:"required"`
}

func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateMe sets the caller's Codeforces handle.
func (h *UserHandler) UpdateMe(c *gin.Context) {
	var input UpdateMeInput
	if err := bindJSON(c, &input); err != nil {
		respondError(c, h.logger, err)
		return
	}
	user, err := h.users.UpdateHandle(c.Request.Context(), middleware.UserID(c), input.Handle)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) Profile(c *gin.Context) {
	user, err := h.users.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, publicProfile(user))
}

// Battles lists the rooms a user has played in, newest first.
func (h *UserHandler) Battles(c *gin.Context) {
	rooms, err := h.rooms.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

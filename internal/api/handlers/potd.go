package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"codebattle/internal/apperr"
	"codebattle/internal/middleware"
	"codebattle/internal/service"
)

// DailyHandler serves the problem of the day.
type DailyHandler struct {
	daily  *service.DailyService
	logger *slog.Logger
}

func NewDailyHandler(daily *service.DailyService, logger *slog.Logger) *DailyHandler {
	return &DailyHandler{daily: daily, logger: logger}
}

func (h *DailyHandler) Today(c *gin.Context) {
	set, err := h.daily.Today(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

func (h *DailyHandler) Progress(c *gin.Context) {
	progress, err := h.daily.Progress(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// Verify checks the caller's submissions for one problem of today's set.
func (h *DailyHandler) Verify(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("problemIndex"))
	if err != nil {
		respondError(c, h.logger, apperr.Validation("problem index must be a number"))
		return
	}
	solved, err := h.daily.VerifyUser(c.Request.Context(), middleware.UserID(c), index)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"problemIndex": index, "solved": solved})
}

func (h *DailyHandler) VerifyAll(c *gin.Context) {
	result, err := h.daily.VerifyAll(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"codebattle/internal/api/handlers"
	"codebattle/internal/middleware"
	"codebattle/internal/realtime"
	"codebattle/internal/service"
	"codebattle/internal/utils"
)

// Deps is everything the routes need.
type Deps struct {
	Services       *service.Services
	Coordinator    handlers.BattleCoordinator
	Hub            *realtime.Hub
	Tokens         *utils.TokenManager
	AllowedOrigins []string
	Logger         *slog.Logger
}

func SetupRoutes(r *gin.Engine, deps Deps) {
	logger := deps.Logger.With("component", "http")

	authHandler := handlers.NewAuthHandler(deps.Services.User, logger)
	userHandler := handlers.NewUserHandler(deps.Services.User, deps.Services.Room, logger)
	battleHandler := handlers.NewBattleHandler(deps.Services.Room, deps.Coordinator, logger)
	dailyHandler := handlers.NewDailyHandler(deps.Services.Daily, logger)
	wsHandler := handlers.NewWebSocketHandler(deps.Hub, deps.AllowedOrigins, logger)

	r.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	r.GET("/health", health)

	api := r.Group("/api")
	auth := middleware.Auth(deps.Tokens)

	// Public routes.
	{
		api.GET("/health", health)
		api.POST("/register", authHandler.Register)
		api.POST("/login", authHandler.Login)

		api.GET("/battles", battleHandler.ListBattles)
		api.GET("/battles/:id", battleHandler.GetBattle)

		api.GET("/potd/today", dailyHandler.Today)
		api.GET("/potd/progress/:userId", dailyHandler.Progress)

		api.GET("/users/:id", userHandler.Profile)
		api.GET("/users/:id/battles", userHandler.Battles)
	}

	authorized := api.Group("/")
	authorized.Use(auth)
	{
		authorized.POST("/battles", battleHandler.CreateBattle)
		authorized.PATCH("/battles/:id", battleHandler.UpdateBattle)
		authorized.DELETE("/battles/:id", battleHandler.DeleteBattle)

		authorized.POST("/potd/verify/:problemIndex", dailyHandler.Verify)
		authorized.POST("/potd/verify-all", dailyHandler.VerifyAll)

		authorized.GET("/users/me", userHandler.Me)
		authorized.PUT("/users/me", userHandler.UpdateMe)
	}

	// Browsers cannot set headers on websocket upgrades, so the token may come as ?token=.
	r.GET("/ws", auth, wsHandler.HandleWebSocket)
	api.GET("/ws", auth, wsHandler.HandleWebSocket)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"futameet/controllers"
	"futameet/directory"
	"futameet/inits"
	"futameet/messages"
	"futameet/middleware"
	"futameet/models"
	"futameet/realtime"
	"futameet/sessions"
)

func init() {
	inits.InitConfig()
	inits.ConnectToDB()
	inits.DB.AutoMigrate(&models.User{}, &models.Message{})
}

func main() {
	gin.SetMode(gin.ReleaseMode)

	dir := directory.NewStore(inits.DB)
	if err := dir.Seed(); err != nil {
		log.Fatal("Failed to seed user directory:", err)
	}

	registry := sessions.NewRegistry(dir)
	board := messages.NewBoard(inits.DB)
	hub := realtime.NewHub(registry, dir, board)

	probe := sessions.NewProbe(
		registry,
		hub,
		time.Duration(viper.GetInt("probe.min_interval_minutes"))*time.Minute,
		time.Duration(viper.GetInt("probe.max_interval_minutes"))*time.Minute,
		time.Duration(viper.GetInt("probe.timeout_seconds"))*time.Second,
	)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go probe.Run(ctx)

	userController := &controllers.UserController{Directory: dir}
	sessionController := &controllers.SessionController{Registry: registry, Directory: dir, Board: board}

	r := gin.Default()

	// Enable CORS for frontend
	r.SetTrustedProxies([]string{"127.0.0.1"})
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return true // Allow all origins dynamically
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	// Public routes
	r.POST("/users/login", userController.Login)

	// Protected user routes (Require authentication)
	r.POST("/users/logout", middleware.AuthMiddleware(), userController.LogOut)
	r.GET("/users", middleware.AuthMiddleware(), userController.UsersIndex)
	r.GET("/users/:matric", middleware.AuthMiddleware(), userController.GetUserByMatric)

	// Session routes (Require authentication)
	r.POST("/sessions/join", middleware.AuthMiddleware(), sessionController.JoinSession)
	r.POST("/sessions/leave", middleware.AuthMiddleware(), sessionController.LeaveSession)
	r.GET("/sessions/active", middleware.AuthMiddleware(), sessionController.GetActiveSessions)
	r.GET("/sessions/mine", middleware.AuthMiddleware(), sessionController.GetMySessions)
	r.GET("/sessions/:id", middleware.AuthMiddleware(), sessionController.GetSessionDetails)
	r.GET("/sessions/:id/recap", middleware.AuthMiddleware(), sessionController.GetSessionRecap)

	// Lecturer routes (Require both authentication & lecturer check)
	r.POST("/sessions/create", middleware.AuthMiddleware(), middleware.LecturerMiddleware(dir), sessionController.CreateSession)
	r.POST("/sessions/:id/end", middleware.AuthMiddleware(), middleware.LecturerMiddleware(dir), sessionController.EndSession)
	r.POST("/sessions/:id/cancel", middleware.AuthMiddleware(), middleware.LecturerMiddleware(dir), sessionController.CancelSession)

	// Realtime hub
	r.GET("/ws", middleware.AuthMiddleware(), hub.HandleConnection)

	// Start server
	port := viper.GetInt("server.port")
	r.Run(fmt.Sprintf(":%d", port))
}

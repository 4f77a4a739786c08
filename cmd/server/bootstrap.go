package main

import (
	"github.com/teamflowhq/teamflow/internal/config"
	"github.com/teamflowhq/teamflow/internal/handlers"
	"github.com/teamflowhq/teamflow/internal/models"
	"github.com/teamflowhq/teamflow/internal/services"
	"github.com/teamflowhq/teamflow/internal/utils"
	"github.com/teamflowhq/teamflow/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	hub               *services.FanoutHub
	taskQueue         services.TaskQueue
	worker            *services.Worker
	sweeper           *services.NotificationSweeper
	authHandler       *handlers.AuthHandler
	teamMemberHandler *handlers.TeamMemberHandler
	projectHandler    *handlers.ProjectHandler
	githubHandler     *handlers.GitHubHandler
	eventsHandler     *handlers.EventsHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	db := models.GetDB()

	hub := services.NewFanoutHub()
	emailService := services.NewEmailService(&cfg.Email)
	githubService := services.NewGitHubService(db, hub, &cfg.GitHub)

	// Task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.NewTaskQueue(cfg, emailService)

	// Start async worker if Redis is enabled
	worker := services.NewWorker(&cfg.Redis, githubService, emailService)
	if worker != nil {
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start worker: %v", err)
		}
	}

	teamMemberService := services.NewTeamMemberService(db, hub, taskQueue, githubService)
	projectService := services.NewProjectService(db, hub, cfg.History.DebounceWindow())

	// Nightly notification sweep
	sweeper := services.NewNotificationSweeper(db, cfg.Notification.RetentionDays)
	sweeper.Start()

	return &appServices{
		hub:               hub,
		taskQueue:         taskQueue,
		worker:            worker,
		sweeper:           sweeper,
		authHandler:       handlers.NewAuthHandler(db, cfg),
		teamMemberHandler: handlers.NewTeamMemberHandler(teamMemberService),
		projectHandler:    handlers.NewProjectHandler(projectService),
		githubHandler:     handlers.NewGitHubHandler(githubService),
		eventsHandler:     handlers.NewEventsHandler(hub),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.sweeper.Stop()
	logger.Info().Msg("Notification sweeper stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskflow/config"
	"taskflow/database"
	"taskflow/handlers"
	"taskflow/logger"
	"taskflow/mailer"
	"taskflow/metrics"
	"taskflow/middleware"
	"taskflow/models"
	"taskflow/notifier"
	"taskflow/realtime"
	"taskflow/scheduler"
	"taskflow/upload"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

func main() {
	log := logger.NewLogger("taskflow")
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", "error", err)
	}

	middleware.SetJWTSecret(cfg.JWTSecret)

	if err := database.Init(cfg); err != nil {
		log.Fatal("Failed to initialize database", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var presence realtime.Presence = realtime.NewMemoryPresence()
	if cfg.RedisURL != "" {
		client, err := realtime.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("Failed to connect to redis", "error", err)
		}
		defer client.Close()
		shared := realtime.NewRedisPresence(client, 0)
		if err := shared.Heartbeat(ctx); err != nil {
			log.Fatal("Failed to register presence instance", "error", err)
		}
		go shared.Run(ctx, func(err error) {
			log.Warn("Presence heartbeat failed", "error", err)
		})
		presence = shared
		log.Info("Using redis presence")
	}

	hub := realtime.NewHub(handlers.TaskAccess{}, handlers.ChatStore{}, presence, log.Named("realtime"),
		realtime.Options{AllowedOrigins: cfg.Origins()})
	go hub.Run(ctx)

	mail, err := mailer.New(cfg, log.Named("mailer"))
	if err != nil {
		log.Fatal("Failed to initialize mailer", "error", err)
	}
	if !mail.Enabled() {
		log.Warn("SMTP_HOST not set, outgoing email is disabled")
	}

	notify := notifier.New(hub, mail, log.Named("notifier"))

	store, err := upload.NewDiskStore(cfg.UploadDir)
	if err != nil {
		log.Fatal("Failed to prepare upload directory", "dir", cfg.UploadDir, "error", err)
	}

	jobs, err := scheduler.New(cfg, notify, log.Named("scheduler"))
	if err != nil {
		log.Fatal("Failed to schedule jobs", "error", err)
	}
	jobs.Start()

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log.Named("ratelimit"))
	limiter.StartCleanup(time.Minute, ctx.Done())

	deps := handlers.Deps{
		Config:   cfg,
		Hub:      hub,
		Notifier: notify,
		Mailer:   mail,
		Store:    store,
		Log:      log.Named("handlers"),
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newRouter(deps, hub, limiter, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.ServerPort, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		log.Error("Scheduler did not stop in time", "error", err)
	}
}

func newRouter(deps handlers.Deps, hub handlers.WSServer, limiter *middleware.RateLimiter, log *logger.Logger) http.Handler {
	authHandler := handlers.NewAuthHandler(deps)
	teamHandler := handlers.NewTeamHandler(deps)
	projectHandler := handlers.NewProjectHandler(deps)
	taskHandler := handlers.NewTaskHandler(deps)
	chatHandler := handlers.NewChatHandler(deps)
	attachmentHandler := handlers.NewAttachmentHandler(deps)
	commentHandler := handlers.NewCommentHandler(deps)
	activityHandler := handlers.NewActivityHandler(deps)
	notificationHandler := handlers.NewNotificationHandler(deps)
	calendarHandler := handlers.NewCalendarHandler(deps)
	settingsHandler := handlers.NewSettingsHandler(deps)
	uploadHandler := handlers.NewUploadHandler(deps)

	uploads := upload.Middleware(deps.Store, upload.Options{
		MaxSize:   deps.Config.MaxUploadSize,
		KeyPrefix: deps.Config.UploadKeyPrefix,
		Log:       log.Named("upload"),
	})

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestLogger(log.Named("http")))
	router.Use(metrics.InstrumentHandler)
	router.Use(middleware.CORS(deps.Config.Origins()))

	router.Get("/health", handlers.Health)
	router.Handle("/metrics", metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Get("/ws", handlers.WebSocket(hub))
	})

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		// Public routes
		r.Group(func(r chi.Router) {
			r.Use(limiter.Handler)
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware)
			r.Use(limiter.Handler)

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/change-password", authHandler.ChangePassword)

			r.Route("/teams", func(r chi.Router) {
				r.Get("/", teamHandler.List)
				r.Post("/", teamHandler.Create)
				r.Route("/{teamID}", func(r chi.Router) {
					r.Get("/", teamHandler.Get)
					r.Put("/", teamHandler.Update)
					r.Delete("/", teamHandler.Delete)

					r.Get("/members", teamHandler.ListMembers)
					r.Post("/members", teamHandler.AddMember)
					r.Put("/members/{userID}", teamHandler.UpdateMember)
					r.Delete("/members/{userID}", teamHandler.RemoveMember)

					r.Get("/invitations", teamHandler.ListInvitations)
					r.Post("/invitations", teamHandler.CreateInvitation)

					r.Get("/projects", projectHandler.List)
					r.Post("/projects", projectHandler.Create)

					r.Get("/activity", activityHandler.List)

					r.Get("/events", calendarHandler.List)
					r.Post("/events", calendarHandler.Create)
				})
			})
			r.Post("/invitations/{code}/accept", teamHandler.AcceptInvitation)

			r.Route("/projects/{projectID}", func(r chi.Router) {
				r.Get("/", projectHandler.Get)
				r.Put("/", projectHandler.Update)
				r.Delete("/", projectHandler.Delete)

				r.Get("/members", projectHandler.ListMembers)
				r.Post("/members", projectHandler.AddMember)
				r.Delete("/members/{userID}", projectHandler.RemoveMember)

				r.Get("/tasks", taskHandler.List)
				r.Post("/tasks", taskHandler.Create)
				r.Get("/tasks/export", taskHandler.ExportCSV)
			})

			r.Route("/tasks/{taskID}", func(r chi.Router) {
				r.Get("/", taskHandler.Get)
				r.Put("/", taskHandler.Update)
				r.Patch("/status", taskHandler.UpdateStatus)
				r.Delete("/", taskHandler.Delete)

				r.Get("/details", taskHandler.GetDetails)
				r.Put("/details", taskHandler.UpdateDetails)

				r.Get("/members", taskHandler.ListMembers)
				r.Post("/members", taskHandler.AddMember)
				r.Delete("/members/{userID}", taskHandler.RemoveMember)

				r.Get("/presence", taskHandler.Presence)

				r.Get("/chat", chatHandler.List)
				r.Post("/chat", chatHandler.Post)
				r.Put("/chat/{messageID}", chatHandler.Edit)
				r.Delete("/chat/{messageID}", chatHandler.Delete)

				r.Get("/comments", commentHandler.List)
				r.Post("/comments", commentHandler.Create)

				r.Get("/attachments", attachmentHandler.List)
				r.With(attachmentHandler.RequireTaskWriter, uploads).Post("/attachments", attachmentHandler.Upload)
				r.Delete("/attachments/{attachmentID}", attachmentHandler.Delete)
			})

			r.Put("/comments/{commentID}", commentHandler.Update)
			r.Delete("/comments/{commentID}", commentHandler.Delete)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notificationHandler.List)
				r.Get("/unread-count", notificationHandler.UnreadCount)
				r.Patch("/read-all", notificationHandler.MarkAllRead)
				r.Patch("/{notificationID}/read", notificationHandler.MarkRead)
				r.Delete("/{notificationID}", notificationHandler.Delete)
			})

			r.Route("/events/{eventID}", func(r chi.Router) {
				r.Get("/", calendarHandler.Get)
				r.Put("/", calendarHandler.Update)
				r.Delete("/", calendarHandler.Delete)
			})

			r.Get("/settings", settingsHandler.Get)
			r.Put("/settings", settingsHandler.Update)
			r.Get("/settings/system", settingsHandler.ListSystem)
			r.With(middleware.RequireRole(models.RoleAdmin)).Put("/settings/system/{key}", settingsHandler.PutSystem)

			r.With(uploads).Post("/uploads", uploadHandler.Create)
			r.Get("/uploads/{uploadID}", uploadHandler.Get)
			r.Get("/uploads/{uploadID}/download", uploadHandler.Download)
			r.Delete("/uploads/{uploadID}", uploadHandler.Delete)
		})
	})

	return router
}

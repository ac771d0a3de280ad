package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/twofactor-service/internal/config"
	"github.com/ignatzorin/twofactor-service/internal/db"
	"github.com/ignatzorin/twofactor-service/internal/goroutine"
	httpHandlers "github.com/ignatzorin/twofactor-service/internal/http/handlers"
	httpRouter "github.com/ignatzorin/twofactor-service/internal/http/router"
	"github.com/ignatzorin/twofactor-service/internal/logger"
	"github.com/ignatzorin/twofactor-service/internal/mail"
	"github.com/ignatzorin/twofactor-service/internal/repository"
	"github.com/ignatzorin/twofactor-service/internal/service"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	mailer := mail.NewLogMailer()

	// Репозитории.
	userRepo := repository.NewUserRepository(dbConn)
	verificationRepo := repository.NewVerificationRepository(dbConn)
	sessionRepo := repository.NewSessionRepository(dbConn)

	// Планировщик отложенных удалений и фоновая зачистка.
	scheduler := service.NewExpiryScheduler(verificationRepo)
	defer scheduler.CancelAll()
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		scheduler.RunSweeper(ctx, cfg.SweepInterval)
	})

	// Сервисы.
	verificationService := service.NewVerificationService(verificationRepo, userRepo, scheduler, mailer, cfg.CodeTTL)
	sessionService := service.NewSessionService(sessionRepo, cfg.SessionTTL)
	twoFactorService := service.NewTwoFactorService(userRepo, verificationService, service.BcryptVerifier{})

	// HTTP хэндлеры.
	twoFactorHandler := httpHandlers.NewTwoFactorHandler(twoFactorService, verificationService, sessionService)
	sessionHandler := httpHandlers.NewSessionHandler(sessionService)
	healthHandler := httpHandlers.NewHealthHandler(dbConn, scheduler)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, twoFactorHandler, sessionHandler, healthHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}

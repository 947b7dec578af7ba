package main

import (
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"photoshare/internal/auth"
	"photoshare/internal/config"
	"photoshare/internal/database"
	"photoshare/internal/email"
	"photoshare/internal/logging"
	redisx "photoshare/internal/redis"
	"photoshare/internal/server"
)

const (
	logMaxSize    = 20 << 20 // rotate at 20 MB
	logMaxBackups = 5
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logOutput := io.Writer(os.Stdout)
	if cfg.LogFile != "" {
		w, err := logging.NewRotatingFileWriter(cfg.LogFile, logMaxSize, logMaxBackups)
		if err != nil {
			log.Fatalf("log setup error: %v", err)
		}
		defer w.Close()
		logOutput = io.MultiWriter(os.Stdout, w)
	}
	log.SetOutput(logOutput)
	log.SetFlags(log.LstdFlags | log.LUTC | log.Lshortfile)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	defer db.Close()

	redisClient, err := redisx.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis error: %v", err)
	}
	defer redisClient.Close()

	users := auth.NewUserRepository(db)
	sessions := &auth.SessionStore{Redis: redisClient}
	devices := auth.NewTrustedDeviceStore(db)
	limiter := auth.NewRateLimiter(redisClient)
	limiter.MaxCodeAttempts = cfg.MaxCodeAttempts
	limiter.MaxLoginAttempts = cfg.MaxLoginAttempts
	limiter.AccountLockTTL = cfg.LoginCooldown
	mailer := email.NewSender(cfg.Email)
	codes := auth.NewCodeGenerator(cfg.TOTPIssuer)
	hasher := auth.NewBcryptHasher()

	api := server.NewServer(cfg, users, sessions, devices, limiter, redisClient, mailer, codes, hasher)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Router(),
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
	}

	log.Printf("Listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

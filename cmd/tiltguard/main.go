package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/liamashdown/tiltguard/internal/alerts"
	"github.com/liamashdown/tiltguard/internal/api"
	"github.com/liamashdown/tiltguard/internal/config"
	"github.com/liamashdown/tiltguard/internal/monitor"
	"github.com/liamashdown/tiltguard/internal/platform"
	"github.com/liamashdown/tiltguard/internal/ratelimit"
	"github.com/liamashdown/tiltguard/internal/secrets"
	"github.com/liamashdown/tiltguard/internal/storage"
	"github.com/liamashdown/tiltguard/internal/tilt"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting tiltguard service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	log.WithFields(logrus.Fields{
		"environment":       cfg.Environment,
		"timezone":          cfg.Timezone,
		"database_enabled":  cfg.DatabaseEnabled,
		"alert_mode":        cfg.AlertMode,
		"alert_min_level":   cfg.AlertMinLevel,
		"poll_subjects":     len(cfg.PollSubjects),
		"evaluate_interval": cfg.EvaluateIntervalSec,
	}).Info("Configuration loaded")

	// Initialize archive. archive stays a nil interface when disabled.
	var (
		store   monitor.Store
		archive api.Archive
	)
	if cfg.DatabaseEnabled {
		db, err := storage.New(cfg, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		if err := db.AutoMigrate(); err != nil {
			log.WithError(err).Fatal("Failed to run database migrations")
		}
		log.Info("Database connected and migrated")

		store = db
		archive = db
	} else {
		log.Info("Database disabled, sessions are kept in memory only")
	}

	// Initialize alert sender
	alertSender := createAlertSender(cfg, log)
	log.WithField("alert_mode", cfg.AlertMode).Info("Alert sender initialized")

	mon := monitor.New(monitor.Options{
		Environment:   cfg.Environment,
		Location:      cfg.Location,
		Workers:       cfg.Workers,
		AlertMinLevel: tilt.Level(cfg.AlertMinLevel),
		AlertCooldown: time.Duration(cfg.AlertCooldownMins) * time.Minute,
	}, store, alertSender, log)

	// Start HTTP server (API + health + metrics)
	handler := api.NewHandler(mon, archive, log)
	server := api.NewServer(fmt.Sprintf(":%d", cfg.HTTPPort), api.NewRouter(handler, cfg.Environment == "production"))
	go func() {
		log.WithField("port", cfg.HTTPPort).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	evalTicker := time.NewTicker(time.Duration(cfg.EvaluateIntervalSec) * time.Second)
	defer evalTicker.Stop()

	// Platform polling is optional; a nil channel never fires
	var (
		bets     monitor.BetSource
		pollTick <-chan time.Time
	)
	if cfg.PlatformBaseURL != "" && len(cfg.PollSubjects) > 0 {
		bets = platform.NewClient(cfg)
		pollTicker := time.NewTicker(time.Duration(cfg.PollIntervalSec) * time.Second)
		defer pollTicker.Stop()
		pollTick = pollTicker.C

		log.WithFields(logrus.Fields{
			"base_url":  cfg.PlatformBaseURL,
			"auth_mode": cfg.PlatformAuthMode,
			"api_key":   secrets.Mask(cfg.PlatformAPIKey),
			"token":     secrets.Mask(cfg.PlatformBearerToken),
			"subjects":  cfg.PollSubjects,
		}).Info("Platform poller enabled")

		poll(ctx, mon, bets, cfg.PollSubjects, log)
	}

	log.Info("Starting evaluation loop")

	for {
		select {
		case <-evalTicker.C:
			n := mon.EvaluateAll(ctx)
			log.WithField("sessions", n).Debug("Evaluation pass complete")
		case <-pollTick:
			poll(ctx, mon, bets, cfg.PollSubjects, log)
		case sig := <-sigChan:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Error("HTTP server shutdown failed")
			}
			shutdownCancel()

			log.Info("Graceful shutdown complete")
			return
		}
	}
}

func poll(ctx context.Context, mon *monitor.Monitor, src monitor.BetSource, subjects []string, log *logrus.Logger) {
	n, err := mon.Poll(ctx, src, subjects)
	if err != nil {
		log.WithError(err).Error("Error polling platform bets")
	}
	if n > 0 {
		log.WithField("accepted", n).Info("Ingested platform bets")
	}
}

func createAlertSender(cfg *config.Config, log *logrus.Logger) alerts.Sender {
	// One limiter shared by every webhook, Discord limits per application
	discordLimiter := ratelimit.New(cfg.DiscordRPS)

	senders := []alerts.Sender{}
	for _, mode := range strings.Split(cfg.AlertMode, ",") {
		switch strings.TrimSpace(mode) {
		case "log":
			senders = append(senders, alerts.NewLogSender(log))
		case "discord":
			if len(cfg.DiscordWebhookURLs) == 0 {
				log.Warn("Discord mode specified but DISCORD_WEBHOOK_URLS not set")
				continue
			}
			for _, url := range cfg.DiscordWebhookURLs {
				senders = append(senders, alerts.NewDiscordSender(url, discordLimiter))
			}
		case "smtp":
			if cfg.SMTPHost == "" {
				log.Warn("SMTP mode specified but SMTP_HOST not set")
				continue
			}
			senders = append(senders, alerts.NewSMTPSender(
				cfg.SMTPHost,
				cfg.SMTPPort,
				cfg.SMTPUser,
				cfg.SMTPPassword,
				cfg.SMTPFrom,
				cfg.SMTPTo,
			))
		default:
			log.WithField("mode", mode).Warn("Unknown alert mode, skipping")
		}
	}

	switch len(senders) {
	case 0:
		log.Warn("No valid alert senders configured, using log")
		return alerts.NewLogSender(log)
	case 1:
		return senders[0]
	default:
		return alerts.NewMultiSender(senders...)
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"careplanner/internal/bot"
	"careplanner/internal/handlers"
	"careplanner/internal/notify"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, reminders and background jobs",
		Long: `Run the care planner.

On start it materializes today's checklist and re-arms every active
reminder. It then serves the HTTP API, runs the daily materialization and
summary jobs, and syncs with the remote store on an interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, runServe)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	a.templSvc.SetMirror(a.reconciler)

	var notifier notify.Notifier
	var telegramBot *bot.Bot
	if a.cfg.TelegramToken != "" {
		b, err := bot.New(a.cfg.TelegramToken, a.cfg.TelegramChatID, bot.Deps{
			Templates: a.templSvc,
			Records:   a.records,
			Engine:    a.engine,
			Tracker:   a.tracker,
			Summary:   a.summary,
		})
		if err != nil {
			return err
		}
		telegramBot = b
		notifier = b
	} else {
		log.Printf("[warn] TELEGRAM_TOKEN is not set, reminders go to the log")
		notifier = notify.NewLogNotifier(log.New(os.Stdout, "[reminder] ", log.LstdFlags))
	}

	dispatcher := notify.NewDispatcher(notifier, a.content, a.templates, a.reminders, a.engine.Today)
	a.alarms.OnFire(dispatcher.Fire)

	if err := a.engine.EnsureToday(ctx); err != nil {
		log.Printf("[warn] materialize today: %v", err)
	}
	<-a.recovery.OnSystemRestart()

	if _, err := a.scheduler.ScheduleDaily(a.cfg.MaterializeAt, func() {
		jobCtx, cancel := jobContext()
		defer cancel()
		if err := a.engine.EnsureToday(jobCtx); err != nil {
			log.Printf("[warn] daily materialization: %v", err)
		}
	}); err != nil {
		return err
	}
	if _, err := a.scheduler.ScheduleDaily(a.cfg.SummaryAt, func() {
		jobCtx, cancel := jobContext()
		defer cancel()
		text, err := a.summary.DailySummary(jobCtx, a.engine.Today())
		if err != nil {
			log.Printf("[warn] daily summary: %v", err)
			return
		}
		if err := notifier.Announce(jobCtx, text); err != nil {
			log.Printf("[warn] announce summary: %v", err)
		}
	}); err != nil {
		return err
	}
	if _, err := a.scheduler.ScheduleInterval(a.cfg.SyncInterval, func() {
		jobCtx, cancel := jobContext()
		defer cancel()
		if _, err := a.syncAll(jobCtx); err != nil {
			log.Printf("[warn] sync: %v", err)
		}
	}); err != nil {
		return err
	}
	a.scheduler.Start()
	defer a.scheduler.Stop()

	router := gin.Default()
	handlers.NewAPIHandler(a.templSvc, a.records, a.engine, a.tracker, a.reconciler).RegisterRoutes(router)
	server := &http.Server{Addr: ":" + a.cfg.ServerPort, Handler: router}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("Server starting on port %s", a.cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if telegramBot != nil {
		go func() {
			if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[warn] http shutdown: %v", err)
	}
	log.Println("Shutdown complete.")
	return runErr
}

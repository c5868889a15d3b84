package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"workledger/go-backend/internal/config"
	"workledger/go-backend/internal/database"
	"workledger/go-backend/internal/handlers"
	"workledger/go-backend/internal/services"
	"workledger/go-backend/internal/ws"
)

func main() {
	httpPort := flag.String("http-port", "", "HTTP port (overrides HTTP_PORT)")
	presenceURL := flag.String("presence-url", "", "presence provider gRPC URL (overrides PRESENCE_GRPC_URL)")
	flag.Parse()

	cfg := config.LoadConfig()
	if *httpPort != "" {
		cfg.HTTPPort = *httpPort
	}
	if *presenceURL != "" {
		cfg.PresenceURL = *presenceURL
	}

	log.Println("Starting...")
	log.Printf("HTTP port: %s", cfg.HTTPPort)
	log.Printf("Environment: %s", cfg.Environment)
	log.Printf("Database: %s", cfg.DSNForLog())

	db, err := database.Open(cfg.DSN())
	if err != nil {
		log.Fatalf("Database init failed: %v", err)
	}
	defer database.Close(db)

	store := database.NewStore(db)

	hub := ws.NewHub()
	metrics := services.NewMetrics()
	hub.SetCallbacks(metrics.IncrementWSConnections, metrics.DecrementWSConnections, metrics.IncrementWSMessages)

	settings := services.NewSettingsService(store)

	var chat *services.ChatWebhook
	if cfg.ChatWebhookURL != "" {
		chat = services.NewChatWebhook(cfg.ChatWebhookURL)
	} else {
		log.Println("CHAT_WEBHOOK_URL not set, chat delivery disabled")
	}
	notifier := services.NewNotificationService(store, hub, chat, metrics)

	locks := services.NewUserLocks()
	worklog := services.NewWorkLogService(store, settings, notifier, locks, metrics)
	anomaly := services.NewAnomalyService(store, worklog, settings, notifier, metrics)
	workCheck := services.NewWorkCheckService(store, notifier)

	var presenceSource services.PresenceSource
	if cfg.PresenceURL != "" {
		presenceClient, err := services.NewPresenceClient(cfg.PresenceURL)
		if err != nil {
			log.Printf("Presence provider unavailable: %v", err)
			log.Println("Continuing without presence polling")
		} else {
			defer presenceClient.Close()
			presenceSource = presenceClient
		}
	}
	presence := services.NewPresenceService(store, worklog, settings, notifier, presenceSource)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	runner := services.NewJobRunner(settings)

	var jobs sync.WaitGroup
	runJob := func(f func()) {
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			f()
		}()
	}
	runJob(func() {
		runner.RunEvery(jobCtx, "anomaly-sweep", services.SettingAnomalyInterval, anomaly.Sweep)
	})
	runJob(func() {
		runner.RunEvery(jobCtx, "presence-poll", services.SettingPresenceInterval, presence.Poll)
	})
	runJob(func() {
		runner.RunDailyAt(jobCtx, "missing-start-check", services.SettingWorkLogNotificationStart, workCheck.CheckMissingStart)
	})
	runJob(func() {
		runner.RunDailyAt(jobCtx, "missing-end-check", services.SettingWorkLogNotificationEnd, workCheck.CheckMissingEnd)
	})

	handler := handlers.New(worklog, settings, store, metrics, cfg.AdminTokenHash)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/worklog/start", handler.StartWork)
	mux.HandleFunc("/api/worklog/end", handler.EndWork)
	mux.HandleFunc("/api/worklog/break", handler.StartBreak)
	mux.HandleFunc("/api/worklog/resume", handler.ResumeWork)
	mux.HandleFunc("/api/worklog/edit", handler.EditWorklog)
	mux.HandleFunc("/api/worklog/active", handler.ActiveSegment)
	mux.HandleFunc("/api/worklog/widget-sync", handler.WidgetSync)
	mux.HandleFunc("/api/worklog/resolve", handler.ResolveActionRequest)
	mux.HandleFunc("/api/notices", handler.GetNotices)
	mux.HandleFunc("/api/notices/read", handler.MarkNoticesRead)
	mux.HandleFunc("/api/settings", handler.GetSettings)
	mux.HandleFunc("/api/settings/update", handler.UpdateSetting)
	mux.HandleFunc("/api/health", handler.Health)
	mux.HandleFunc("/api/metrics", handler.GetMetrics)
	mux.HandleFunc("/ws", hub.HandleWS)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Println("Shutting down...")

	cancelJobs()
	jobs.Wait()
	log.Println("Background jobs stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	} else {
		log.Println("HTTP server gracefully stopped")
	}

	log.Println("Closing WebSocket connections...")
	hub.CloseAll()

	log.Println("Goodbye!")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const cleanupInterval = 5 * time.Second

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	configPath := flag.String("config", "", "Path to a YAML config overlay")
	dbPath := flag.String("db", "vrsandbox.db", "SQLite event journal path (empty disables it)")
	clientDir := flag.String("client", "", "Path to a static client directory to serve")
	dev := flag.Bool("dev", false, "Development logging")
	publicURL := flag.String("public-url", "", "Externally reachable base URL used in join QR codes")
	botURL := flag.String("bot", "", "Run as a bot client against this websocket URL instead of serving")
	botRole := flag.String("bot-role", "pc", "Bot role: vr or pc")
	botRoom := flag.String("bot-room", "", "Room id the bot joins")
	botTicket := flag.String("bot-ticket", "", "Join ticket for the bot (required for vr)")
	flag.Parse()

	logger, err := NewLogger(*dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *botURL != "" {
		bot := NewBot(BotConfig{
			URL:       *botURL,
			Room:      *botRoom,
			Role:      ParseRole(*botRole),
			Ticket:    *botTicket,
			Connector: DefaultConnectorConfig(),
		}, log.Named("bot"))
		if err := bot.Run(ctx); err != nil {
			log.Fatalw("bot stopped", "error", err)
		}
		return
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalw("load config", "path", *configPath, "error", err)
	}

	var db *DB
	if *dbPath != "" {
		db, err = OpenDB(*dbPath)
		if err != nil {
			log.Fatalw("open journal", "path", *dbPath, "error", err)
		}
		defer db.Close()
	}

	hub := NewHub(cfg, db, log)
	go hub.Run()
	go hub.rooms.RunCleanup(cleanupInterval)

	server := &http.Server{Addr: *addr, Handler: SetupRoutes(hub, *clientDir, *publicURL)}

	go func() {
		log.Infow("server starting", "addr", *addr, "client", *clientDir, "journal", *dbPath)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("ListenAndServe", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	hub.Shutdown()
}

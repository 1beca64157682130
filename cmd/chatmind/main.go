// Chatmind daemon - the notification intelligence pipeline service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatmind/chatmind/internal/api"
	"github.com/chatmind/chatmind/internal/config"
	"github.com/chatmind/chatmind/internal/convstore"
	"github.com/chatmind/chatmind/internal/delivery"
	"github.com/chatmind/chatmind/internal/intent"
	"github.com/chatmind/chatmind/internal/llm"
	"github.com/chatmind/chatmind/internal/logging"
	"github.com/chatmind/chatmind/internal/reply"
	"github.com/chatmind/chatmind/internal/scheduler"
	"github.com/chatmind/chatmind/internal/storage"
	"github.com/chatmind/chatmind/internal/syncer"
)

var (
	configPath string
	dataDir    string
	port       int
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatmind",
		Short: "Chatmind daemon - turns chat notifications into conversations and reminders",
		RunE:  runDaemon,
	}

	home, _ := os.UserHomeDir()
	defaultDataDir := filepath.Join(home, ".chatmind")

	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", defaultDataDir, "Data directory")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if verbose {
		logging.SetLevel(logging.DEBUG)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logging.Info("starting chatmind daemon")

	// Open database and run migrations
	dbPath := filepath.Join(cfg.DataDir, "chatmind.db")
	db, err := storage.Open(storage.Config{Path: dbPath})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	convDurable := storage.NewConversationStore(db)
	remStore := storage.NewReminderStore(db)

	// In-memory conversation state, hydrated from the last session before
	// the syncer subscribes for durable write-behind.
	store := convstore.New(convstore.Config{
		MaxMessagesTotal:   cfg.Pipeline.MaxMessagesTotal,
		MaxPerConversation: cfg.Pipeline.MaxPerConversation,
	})
	restored, err := syncer.Hydrate(convDurable, store, cfg.Pipeline.MaxMessagesTotal, cfg.Pipeline.MaxPerConversation)
	if err != nil {
		logging.Warn("conversation hydration failed: %v", err)
	} else if restored > 0 {
		logging.Info("restored %d conversations from disk", restored)
	}
	store.Subscribe(syncer.New(convDurable))

	// Language model: Claude preferred, Ollama fallback.
	claude := llm.NewClaudeClient(llm.ClaudeConfig{
		APIKey: cfg.Claude.APIKey,
		Model:  cfg.Claude.Model,
	})
	if !claude.Available() {
		logging.Warn("ANTHROPIC_API_KEY not set, remote model disabled")
	}

	ollama := llm.NewOllamaClient(llm.OllamaConfig{
		BaseURL: cfg.Ollama.URL,
		Model:   cfg.Ollama.Model,
	})
	if err := ollama.Health(context.Background()); err != nil {
		logging.Warn("Ollama not reachable at %s: %v", cfg.Ollama.URL, err)
	}

	router := llm.NewRouter(claude, ollama)

	// Intent detection
	engine := intent.New(router, remStore, intent.Config{
		ConflictWindow: cfg.Pipeline.ConflictWindow.Std(),
		DetectTimeout:  cfg.Pipeline.DetectTimeout.Std(),
	})

	// Reminder delivery and timing
	center := delivery.NewCenter(remStore)
	alarms := scheduler.NewInProcessAlarms(center.HandleFire)
	defer alarms.Stop()

	sched := scheduler.New(alarms, remStore, center, scheduler.Config{
		Lead:   cfg.Pipeline.LeadTime.Std(),
		Snooze: cfg.Pipeline.SnoozeDuration.Std(),
	})
	center.SetTimers(sched)

	// Re-arm everything that survived the restart.
	if armed, err := sched.RescheduleAll(); err != nil {
		logging.Error("reschedule on startup failed: %v", err)
	} else {
		logging.Info("re-armed %d reminders", armed)
	}

	// Reply generation (no delivery channel wired in the daemon; send
	// attempts report failure to the caller).
	replies := reply.New(router, store, nil, cfg.Pipeline.ContextLines)

	server := api.New(api.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		Store:         store,
		ReminderStore: remStore,
		Engine:        engine,
		Scheduler:     sched,
		Center:        center,
		Replies:       replies,
		Lead:          cfg.Pipeline.LeadTime.Std(),
		ContextLines:  cfg.Pipeline.ContextLines,
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logging.Info("shutting down")
		server.Stop(context.Background())
	}()

	return server.Start()
}

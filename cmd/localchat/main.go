package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"localchat/internal/api"
	"localchat/internal/config"
	"localchat/internal/ollama"
	"localchat/internal/storage"
)

var (
	configPath string
	port       int
	dataDir    string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:     "localchat",
	Short:   "Self-hosted chat server for a local Ollama runtime",
	Version: api.Version,
	Long: `localchat serves a session-based chat API and an OpenAI-compatible
completions API on top of a locally running Ollama instance. All data is
stored in plain JSON files on disk; nothing leaves the machine.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port != 0 {
		cfg.Port = port
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if debug {
		cfg.Debug = true
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	store, err := storage.NewJSONStore(cfg.DataDir, storage.Settings{
		DefaultModel:   cfg.DefaultModel,
		Temperature:    cfg.DefaultTemperature,
		MaxTokens:      cfg.DefaultMaxTokens,
		OllamaEndpoint: cfg.OllamaEndpoint,
		Theme:          "auto",
	})
	if err != nil {
		return fmt.Errorf("failed to open data directory %s: %w", cfg.DataDir, err)
	}
	defer store.Close()

	client := ollama.NewClient(cfg.OllamaEndpoint)

	// Settings saved by a previous run win over the static config.
	if settings, err := store.GetSettings(context.Background()); err == nil && settings.OllamaEndpoint != "" {
		client.SetEndpoint(settings.OllamaEndpoint)
	}

	server := api.NewServer(cfg, store, client)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	log.Info("localchat is up",
		"port", cfg.Port,
		"dataDir", cfg.DataDir,
		"ollama", client.Endpoint(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

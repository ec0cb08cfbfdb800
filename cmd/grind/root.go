package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/grindlog/grind/internal/docstore"
	"github.com/grindlog/grind/internal/engine"
	"github.com/grindlog/grind/internal/localcache"
	"github.com/grindlog/grind/internal/topic"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "grind",
	Short: "Track daily DSA practice with synced history",
	Long: `grind tracks a rotating schedule of daily practice problems.

Each topic day has three problem slots. Mark slots complete, log solved
problems into a permanent history, flag entries for review, and sync
state across machines through a grind document server (or a local
SQLite store when no server is configured).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/grind/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "log engine activity to stderr")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "grind"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GRIND")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	viper.SetDefault("data_dir", filepath.Join(home, ".grind"))
	viper.SetDefault("remote.url", "")
	viper.SetDefault("remote.token", "")
	viper.SetDefault("catalog", "")
	viper.SetDefault("debounce_ms", 1000)

	// Missing config file is fine; defaults and env cover it.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

func dataDir() string {
	return viper.GetString("data_dir")
}

func cliLogger(cmd *cobra.Command, prefix string) *log.Logger {
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		return log.New(os.Stderr, prefix, log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// openStore picks the remote client when a server URL is configured and
// the local SQLite store otherwise.
func openStore(logger *log.Logger) (docstore.Store, error) {
	if url := viper.GetString("remote.url"); url != "" {
		return docstore.NewRemote(docstore.RemoteConfig{
			BaseURL: url,
			Token:   viper.GetString("remote.token"),
			Logger:  logger,
		})
	}
	return docstore.OpenSQLite(filepath.Join(dataDir(), "grind.db"))
}

func loadCatalog() (topic.Catalog, error) {
	if path := viper.GetString("catalog"); path != "" {
		return topic.Load(path)
	}
	return topic.Default(), nil
}

// openEngine builds and starts the full stack behind a CLI command. The
// returned cleanup flushes pending writes and closes everything; every
// command must call it before exiting.
func openEngine(cmd *cobra.Command) (*engine.Engine, func(), error) {
	logger := cliLogger(cmd, "[grind] ")

	catalog, err := loadCatalog()
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(dataDir(), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cache := localcache.New(filepath.Join(dataDir(), "cache.json"))

	store, err := openStore(logger)
	if err != nil {
		// The engine can still run from the cache.
		logger.Printf("WARNING: failed to open store: %v", err)
		store = nil
	}

	eng, err := engine.New(engine.Config{
		Store:          store,
		Cache:          cache,
		Catalog:        catalog,
		DebounceWindow: time.Duration(viper.GetInt("debounce_ms")) * time.Millisecond,
		Logger:         logger,
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, fmt.Errorf("failed to start engine: %w", err)
	}
	if eng.Fallback() {
		fmt.Fprintln(os.Stderr, "Note: store unreachable, working from local cache")
	}

	cleanup := func() {
		eng.Close()
		if store != nil {
			store.Close()
		}
	}
	return eng, cleanup, nil
}

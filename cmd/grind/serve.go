package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/grindlog/grind/internal/docserver"
	"github.com/grindlog/grind/internal/docstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a grind document server",
	Long: `Serve the document store over HTTP so other machines can sync
against it.

The server keeps documents in a local SQLite database and pushes change
snapshots to WebSocket watchers at /v1/docs/{name}/watch. Point clients
at it with remote.url (and remote.token when --token is set).

Example usage:
  grind serve                     # Listen on default :7433
  grind serve --addr :9000        # Custom listen address
  grind serve --token s3cret      # Require a bearer token`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			token = viper.GetString("remote.token")
		}

		if err := os.MkdirAll(dataDir(), 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		// Server logs rotate on disk instead of scrolling the terminal.
		logger := log.New(&lumberjack.Logger{
			Filename:   filepath.Join(dataDir(), "logs", "serve.log"),
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		}, "[serve] ", log.LstdFlags)

		store, err := docstore.OpenSQLite(filepath.Join(dataDir(), "grind.db"))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		server, err := docserver.New(store, &docserver.Config{
			Addr:   addr,
			Token:  token,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		fmt.Printf("Document server listening on %s\n", server.Addr())
		fmt.Printf("Database: %s\n", filepath.Join(dataDir(), "grind.db"))
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		fmt.Println("Server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", ":7433", "Listen address")
	serveCmd.Flags().String("token", "", "Require this bearer token (default: remote.token from config)")
	rootCmd.AddCommand(serveCmd)
}

package handlers

import (
	"context"
	"fmt"
	"time"

	"storyline/internal/config"
	"storyline/internal/logger"
	"storyline/internal/persistence"
	"storyline/internal/server"

	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command for the read-only API
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only HTTP API",
		Long: `Serve stored items, story threads and briefings over HTTP.

Endpoints:
  GET /health
  GET /api/items?category=&since=&until=&limit=&offset=
  GET /api/items/{id}
  GET /api/threads/{id}/timeline
  GET /api/domains?blocked=true
  GET /api/briefings/latest?locale=&format=html|md
  GET /api/briefings/{date}?locale=&format=html|md

The server never writes; run the batch separately (e.g. from cron).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), host, port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8080)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config)")

	return cmd
}

func runServe(ctx context.Context, host string, port int) error {
	cfg := config.Get()
	serverCfg := cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	db, err := persistence.NewPostgresDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	srv := server.New(db, server.NewSQLTimeline(db.DB()), serverCfg)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Command caesiumd runs the scheduled-mutation service: the HTTP surface for
// documents and revision stacks plus the periodic revision publisher.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caesium/config"
	"caesium/core"
	"caesium/publisher"
	"caesium/server"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "caesiumd",
		Short: "Scheduled, revisioned document mutations over MongoDB",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(serveCmd(), publishCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the revision publisher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, db, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pub := publisher.New(db, publisher.Options{
				Collections:           cfg.Scheduler.Collections,
				Interval:              cfg.PublishInterval(),
				LazyMigratedPublished: cfg.Scheduler.LazyMigratedPublishedByDefault,
				Logger:                logger,
			})
			go pub.Run(ctx)

			srv, err := server.New(cfg, db, logger)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Run a single publish sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, db, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			pub := publisher.New(db, publisher.Options{
				Collections:           cfg.Scheduler.Collections,
				LazyMigratedPublished: cfg.Scheduler.LazyMigratedPublishedByDefault,
				Logger:                logger,
			})

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			return pub.Publish(ctx)
		},
	}
}

// setup loads the config, configures the logger and connects to MongoDB.
func setup() (*config.Config, *zap.Logger, *mongo.Database, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if err := core.ConfigureLogger(cfg.Development, cfg.LogLevel); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to configure logger: %w", err)
	}
	logger := core.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	cleanup := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
		_ = logger.Sync()
	}

	return cfg, logger, client.Database(cfg.Database), cleanup, nil
}

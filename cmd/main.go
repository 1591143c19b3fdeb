package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/victornm/geeko/internal/config"
	"github.com/victornm/geeko/internal/server"
	"github.com/victornm/geeko/internal/store/postgres/migrations"
)

const envPrefix = "GEEKO"

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Fatalf("Load .env failed: %v", err)
	}

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "geeko",
		Short:        "Live multiplayer quiz session engine",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to the YAML config, defaults to $CONFIG_PATH")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the HTTP, WebSocket and gRPC APIs",
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				return serve(c)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the Postgres schema migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := loadConfig(configPath)
				if err != nil {
					return err
				}

				dsn := c.PostgresDSN()
				if dsn == "" {
					return fmt.Errorf("postgres address not configured")
				}
				return migrations.Run(cmd.Context(), dsn)
			},
		},
	)

	return cmd
}

func serve(c server.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	s, err := server.Init(c)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	go s.Start()

	<-ctx.Done()
	s.Shutdown()
	return nil
}

func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(path, envPrefix, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}

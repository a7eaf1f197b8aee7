package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/call-tracer/pkg/config"
	"github.com/ethpandaops/call-tracer/pkg/server"
)

var (
	log              = logrus.New()
	serverConfigFile string
	logLevel         string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "call-tracer",
	Short: "Reconstructs EVM call frames from execution node traces.",
	Long: `Reconstructs EVM call frames from execution node traces, serves them over
HTTP and stores them in ClickHouse block by block.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		initCommon()

		return runServer(cmd.Context())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverConfigFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "overrides the configured logging level")
}

func initCommon() {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if logLevel != "" {
		setLevel(logLevel)
	}
}

func setLevel(value string) {
	level, err := logrus.ParseLevel(value)
	if err != nil {
		log.WithError(err).Warn("Invalid logging level, using info")

		level = logrus.InfoLevel
	}

	log.SetLevel(level)
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load(serverConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}

	if logLevel == "" {
		setLevel(cfg.LoggingLevel)
	}

	srv, err := server.NewServer(ctx, log, cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	log.Info("Call tracer server exited - cya!")

	return nil
}

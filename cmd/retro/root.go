package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"retroboard/internal/config"
	"retroboard/internal/logger"
)

var (
	cfg config.Config
	log *slog.Logger

	debug   bool
	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "retro",
	Short: "Retroboard keeps a team retrospective board in a git repository",
	Long: `Retroboard serves a three-column retrospective board. Cards, settings
and participants are stored as JSON documents in a GitHub repository (or a
local git repository) and every write is guarded by the document revision.`,
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}
	if debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON = logJSON
	}
	log = logger.Initialize(cfg.LogLevel, cfg.LogJSON)
	if cfg.GeneratedJWTSecret {
		log.Warn("RETRO_JWT_SECRET not set, using a random secret; sessions end when the process exits")
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")

	rootCmd.AddCommand(serveCmd, checkCmd, backupCmd, exportCmd, tokenCmd, hashPasswordCmd)
}

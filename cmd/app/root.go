package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"votebridge/pkg/config"
	"votebridge/pkg/utils"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	configFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:          "votebridge",
	Short:        "votebridge - HTTP gateway and session scheduler for an on-chain voting contract",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, tokenCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return utils.NewLogger(&utils.LogConfig{
		Level:      cfg.GetLogLevel().Level().String(),
		OutputPath: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxAge:     cfg.Log.MaxAgeDays,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
		Debug:      cfg.IsDevelopment(),
		JSON:       !cfg.IsDevelopment(),
	})
}
